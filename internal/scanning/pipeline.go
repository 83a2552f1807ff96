package scanning

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ImagePreparer turns a document into a raster image path
type ImagePreparer interface {
	Prepare(ctx context.Context, path string) (string, error)
}

// ModelSelector picks the vision model to use
type ModelSelector interface {
	Resolve(ctx context.Context) (string, error)
}

// Invoker sends an image to a model and returns the raw answer
type Invoker interface {
	Invoke(ctx context.Context, model string, imagePath string) (string, error)
}

// Pipeline implements Extractor by chaining preparation, model resolution,
// invocation and normalization. A failing stage ends the attempt with its
// error unchanged; no partial result is returned.
type Pipeline struct {
	preparer ImagePreparer
	resolver ModelSelector
	invoker  Invoker
	logger   *slog.Logger
}

// NewPipeline creates a new extraction Pipeline
func NewPipeline(preparer ImagePreparer, resolver ModelSelector, invoker Invoker, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		preparer: preparer,
		resolver: resolver,
		invoker:  invoker,
		logger:   logger,
	}
}

// Extract runs one extraction attempt for the document at path
func (p *Pipeline) Extract(ctx context.Context, path string, originalFilename string) (*ExtractionResult, error) {
	log := p.logger.With("req_id", uuid.NewString(), "filename", originalFilename)
	start := time.Now()

	fail := func(stage string, err error) (*ExtractionResult, error) {
		log.Error("extraction failed",
			"stage", stage,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	log.Debug("extraction received", "path", path)

	imagePath, err := p.preparer.Prepare(ctx, path)
	if err != nil {
		return fail("prepare", err)
	}
	log.Debug("document prepared", "image", imagePath)

	model, err := p.resolver.Resolve(ctx)
	if err != nil {
		return fail("resolve_model", err)
	}
	log.Debug("model resolved", "model", model)

	raw, err := p.invoker.Invoke(ctx, model, imagePath)
	if err != nil {
		return fail("invoke", err)
	}

	result, err := Normalize(raw)
	if err != nil {
		return fail("normalize", err)
	}

	log.Info("extraction done",
		"model", model,
		"items", len(result.Items),
		"empty", result.Empty(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}
