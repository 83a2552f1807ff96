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

// Ollama implements Backend using a local Ollama server
type Ollama struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewOllama creates a new Ollama backend.
// Vision models worth pulling for receipts, in order of recommendation:
//   - llava (best balance of accuracy and speed)
//   - qwen2-vl:7b (good OCR capabilities)
//   - bakllava, llava-phi3 (smaller, less accurate)
func NewOllama(baseURL string, timeout time.Duration, logger *slog.Logger) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the locally pulled models
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	raw, err := o.do(ctx, "list models", http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}

	var tags ollamaTags
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, &BackendRequestError{Op: "list models", Body: preview(string(raw)), Err: fmt.Errorf("decoding tags: %w", err)}
	}

	// Tags always carry a version; "bakllava:latest" is also reachable as "bakllava"
	ids := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		ids = append(ids, m.Name)
		if base, ok := strings.CutSuffix(m.Name, ":latest"); ok && base != "" {
			ids = append(ids, base)
		}
	}
	return ids, nil
}

// Complete runs a non-streaming chat request with the image attached to the user message
func (o *Ollama) Complete(ctx context.Context, req ChatRequest) ([]string, error) {
	body := ollamaChatRequest{
		Model:  req.Model,
		Stream: false,
		Messages: []ollamaMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt, Images: []string{req.Image.Base64()}},
		},
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	if req.JSONMode {
		body.Format = "json"
	}

	raw, err := o.do(ctx, "chat", http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, err
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return nil, &BackendRequestError{Op: "chat", Body: preview(string(raw)), Err: fmt.Errorf("decoding response: %w", err)}
	}
	return []string{chatResp.Message.Content}, nil
}

func (o *Ollama) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &BackendRequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &BackendRequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &BackendRequestError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	o.logger.Debug("ollama response", "op", op, "bytes", len(raw))
	return raw, nil
}

// Close closes the Ollama backend (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
