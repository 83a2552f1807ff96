package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig configures the OpenAI-compatible backend
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // default https://api.openai.com/v1
	Timeout time.Duration // 0 means no client-side timeout
}

// OpenAI implements Backend against the OpenAI REST API
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI backend
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Temperature    float32               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Messages       []openAIMessage       `json:"messages"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the model ids visible to the API key
func (o *OpenAI) ListModels(ctx context.Context) ([]string, error) {
	raw, err := o.do(ctx, "list models", http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	var list openAIModelList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &BackendRequestError{Op: "list models", Body: preview(string(raw)), Err: fmt.Errorf("decoding model list: %w", err)}
	}

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Complete runs a chat completion with a text + image user message
func (o *OpenAI) Complete(ctx context.Context, req ChatRequest) ([]string, error) {
	body := openAIChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []openAIMessage{
			{Role: "system", Content: req.System},
			{
				Role: "user",
				Content: []openAIContentPart{
					{Type: "text", Text: req.Prompt},
					{Type: "image_url", ImageURL: &openAIImageURL{URL: req.Image.DataURL()}},
				},
			},
		},
	}
	if req.JSONMode {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	raw, err := o.do(ctx, "chat completion", http.MethodPost, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var cc openAIChatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, &BackendRequestError{Op: "chat completion", Body: preview(string(raw)), Err: fmt.Errorf("decoding response: %w", err)}
	}

	choices := make([]string, 0, len(cc.Choices))
	for _, c := range cc.Choices {
		choices = append(choices, c.Message.Content)
	}
	return choices, nil
}

func (o *OpenAI) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &BackendRequestError{Op: op, Err: err}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			o.logger.Warn("openai response body close error", "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendRequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	o.logger.Debug("openai response",
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &BackendRequestError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
