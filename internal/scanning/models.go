package scanning

import (
	"context"
	"log/slog"
	"slices"
)

// Known vision-capable models per backend, most preferred first
var (
	OpenAIVisionModels = []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini"}
	GeminiVisionModels = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-1.5-pro", "gemini-1.5-flash"}
	OllamaVisionModels = []string{"llava", "llava:latest", "qwen2-vl:7b", "bakllava", "llava-phi3"}
)

// ModelLister lists the model identifiers available to the current credentials
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// PickVisionModel returns the first preferred model that is available.
// The result depends only on preference order, never on the order of available.
func PickVisionModel(preferred, available []string) (string, error) {
	for _, model := range preferred {
		if slices.Contains(available, model) {
			return model, nil
		}
	}
	return "", &NoVisionModelAvailableError{Required: slices.Clone(preferred)}
}

// ModelResolver picks a vision model from what the backend reports as available
type ModelResolver struct {
	lister    ModelLister
	preferred []string
	logger    *slog.Logger
}

// NewModelResolver creates a resolver over a fixed preference list
func NewModelResolver(lister ModelLister, preferred []string, logger *slog.Logger) *ModelResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelResolver{
		lister:    lister,
		preferred: slices.Clone(preferred),
		logger:    logger,
	}
}

// Preferred returns the preference list
func (r *ModelResolver) Preferred() []string {
	return slices.Clone(r.preferred)
}

// Resolve lists the available models and returns the first acceptable one
func (r *ModelResolver) Resolve(ctx context.Context) (string, error) {
	available, err := r.lister.ListModels(ctx)
	if err != nil {
		return "", err
	}

	model, err := PickVisionModel(r.preferred, available)
	if err != nil {
		r.logger.Error("no vision model available",
			"required", r.preferred,
			"available_count", len(available),
		)
		return "", err
	}

	r.logger.Debug("vision model resolved", "model", model, "available_count", len(available))
	return model, nil
}
