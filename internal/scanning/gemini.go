package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini implements Backend using Google Gemini
type Gemini struct {
	client  *genai.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewGemini creates a new Gemini backend
func NewGemini(apiKey string, timeout time.Duration, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// ListModels returns the base ids of the models visible to the API key
func (g *Gemini) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var ids []string
	it := g.client.ListModels(ctx)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &BackendRequestError{Op: "list models", Body: err.Error(), Err: err}
		}
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

// Complete generates content for a system instruction, a prompt and an image
func (g *Gemini) Complete(ctx context.Context, req ChatRequest) ([]string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	model := g.client.GenerativeModel(req.Model)
	model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.JSONMode {
		model.ResponseMIMEType = "application/json"
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	format := strings.TrimPrefix(req.Image.MIMEType, "image/")
	resp, err := model.GenerateContent(ctx,
		genai.ImageData(format, req.Image.Data),
		genai.Text(req.Prompt),
	)
	if err != nil {
		return nil, &BackendRequestError{Op: "generate content", Body: err.Error(), Err: err}
	}

	choices := make([]string, 0, len(resp.Candidates))
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		choices = append(choices, text.String())
	}
	g.logger.Debug("gemini response", "model", req.Model, "candidates", len(choices))
	return choices, nil
}

func (g *Gemini) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
