package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/purchase-tracker/internal/config"
	"github.com/zombor/purchase-tracker/internal/purchase"
	"github.com/zombor/purchase-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, fs, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing (it may come from the environment or config file)
	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "path", cfg.DBPath)
	db, err := purchase.NewBoltDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", cfg.StoragePath)
	store, err := purchase.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	scratchDir := cfg.ScratchDir
	if scratchDir != "" {
		if err := os.MkdirAll(scratchDir, 0o755); err != nil {
			return fmt.Errorf("creating scratch directory: %w", err)
		}
	}

	backend, preferred, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	pipeline := scanning.NewPipeline(
		scanning.NewPreparer(newRasterizer(cfg), scratchDir, cfg.MaxDimension, nil),
		scanning.NewModelResolver(backend, preferred, nil),
		scanning.NewVisionClient(backend, cfg.MaxTokens, nil),
		nil,
	)

	service := purchase.NewService(db, pipeline, store, scratchDir)

	basicAuth := purchase.BasicAuth{
		Username: cfg.AuthUser,
		Password: cfg.AuthPass,
	}
	server := purchase.NewServer(service, basicAuth)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if basicAuth.Enabled() {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	}

	if err := server.Run(ctx, addr); err != nil {
		return err
	}
	slog.Info("Shutting down...")
	return nil
}

// newBackend builds the configured vision backend and its model preference list
func newBackend(cfg *config.Config) (scanning.Backend, []string, error) {
	var (
		backend   scanning.Backend
		preferred []string
		err       error
	)

	switch cfg.Backend {
	case config.BackendOpenAI:
		slog.Info("Initializing OpenAI backend...", "base_url", cfg.OpenAIBaseURL)
		backend, err = scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.RequestTimeout,
		}, nil)
		preferred = scanning.OpenAIVisionModels
	case config.BackendGemini:
		slog.Info("Initializing Gemini backend...")
		backend, err = scanning.NewGemini(cfg.GeminiKey, cfg.RequestTimeout, nil)
		preferred = scanning.GeminiVisionModels
	case config.BackendOllama:
		slog.Info("Initializing Ollama backend...", "url", cfg.OllamaURL)
		backend, err = scanning.NewOllama(cfg.OllamaURL, cfg.RequestTimeout, nil)
		preferred = scanning.OllamaVisionModels
	default:
		return nil, nil, fmt.Errorf("invalid backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("initializing %s backend: %w", cfg.Backend, err)
	}

	if len(cfg.VisionModels) > 0 {
		preferred = cfg.VisionModels
	}
	slog.Info("Vision model preference", "backend", cfg.Backend, "models", preferred)
	return backend, preferred, nil
}

func newRasterizer(cfg *config.Config) scanning.Rasterizer {
	if cfg.Rasterizer == config.RasterizerFitz {
		return scanning.NewFitz(cfg.DPI)
	}
	return scanning.NewPdftoppm(nil, cfg.PdftoppmPath, cfg.DPI)
}
