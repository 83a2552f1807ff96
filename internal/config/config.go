package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
	"gopkg.in/yaml.v3"
)

// EnvVarPrefix prefixes every flag when read from the environment,
// e.g. --openai-key becomes PURCHASE_TRACKER_OPENAI_KEY.
const EnvVarPrefix = "PURCHASE_TRACKER"

// Supported vision backends
const (
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
	BackendOllama = "ollama"
)

// Supported PDF rasterizers
const (
	RasterizerPdftoppm = "pdftoppm"
	RasterizerFitz     = "fitz"
)

// Config holds the runtime settings of the purchase tracker
type Config struct {
	Port        int
	DBPath      string
	StoragePath string
	ScratchDir  string

	Backend       string
	OpenAIKey     string
	OpenAIBaseURL string
	GeminiKey     string
	OllamaURL     string
	// VisionModels overrides the backend's default preference list when set
	VisionModels   []string
	MaxTokens      int
	RequestTimeout time.Duration

	Rasterizer   string
	PdftoppmPath string
	DPI          int
	MaxDimension int

	AuthUser string
	AuthPass string

	ShowVersion bool
}

// Load builds the flag set and parses args, the environment and the optional
// --config YAML file, in that order of precedence. The flag set is returned
// even on error so callers can print usage.
func Load(args []string) (*Config, *ff.FlagSet, error) {
	fs := ff.NewFlagSet("purchase-tracker")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "purchase-tracker.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./documents", "Storage directory for uploaded documents")
		scratchDir     = fs.StringLong("scratch-dir", "", "Directory for temporary images (default: OS temp dir)")
		backend        = fs.StringLong("backend", BackendOpenAI, "Vision backend: 'openai', 'gemini' or 'ollama'")
		openAIKey      = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openAIBaseURL  = fs.StringLong("openai-base-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		visionModels   = fs.StringLong("vision-models", "", "Comma-separated vision model preference list (default: per backend)")
		maxTokens      = fs.IntLong("max-tokens", 600, "Maximum tokens in the model answer")
		requestTimeout = fs.IntLong("request-timeout", 0, "Backend request timeout in seconds (0: no timeout)")
		rasterizer     = fs.StringLong("rasterizer", RasterizerPdftoppm, "PDF rasterizer: 'pdftoppm' or 'fitz'")
		pdftoppmPath   = fs.StringLong("pdftoppm-path", "pdftoppm", "Path to the pdftoppm binary")
		dpi            = fs.IntLong("dpi", 150, "Resolution PDF pages are rendered at")
		maxDimension   = fs.IntLong("max-dimension", 2000, "Maximum width and height of rendered pages")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		_              = fs.StringLong("config", "", "YAML config file (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ParseYAML),
	); err != nil {
		return nil, fs, err
	}

	cfg := &Config{
		Port:           *port,
		DBPath:         *dbPath,
		StoragePath:    *storagePath,
		ScratchDir:     *scratchDir,
		Backend:        strings.ToLower(strings.TrimSpace(*backend)),
		OpenAIKey:      *openAIKey,
		OpenAIBaseURL:  *openAIBaseURL,
		GeminiKey:      *geminiKey,
		OllamaURL:      *ollamaURL,
		VisionModels:   splitList(*visionModels),
		MaxTokens:      *maxTokens,
		RequestTimeout: time.Duration(*requestTimeout) * time.Second,
		Rasterizer:     strings.ToLower(strings.TrimSpace(*rasterizer)),
		PdftoppmPath:   *pdftoppmPath,
		DPI:            *dpi,
		MaxDimension:   *maxDimension,
		AuthUser:       *authUser,
		AuthPass:       *authPass,
		ShowVersion:    *showVersion,
	}
	cfg.applyEnvFallbacks(os.Getenv)

	return cfg, fs, nil
}

// applyEnvFallbacks reads the conventional provider variables when no key was configured
func (c *Config) applyEnvFallbacks(getenv func(string) string) {
	if c.OpenAIKey == "" {
		c.OpenAIKey = getenv("OPENAI_API_KEY")
	}
	if c.GeminiKey == "" {
		c.GeminiKey = getenv("GEMINI_API_KEY")
	}
}

// Validate reports every configuration problem that would prevent startup
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendOpenAI:
		if c.OpenAIKey == "" {
			errs = append(errs, errors.New("openai api key is required: set --openai-key or OPENAI_API_KEY"))
		}
	case BackendGemini:
		if c.GeminiKey == "" {
			errs = append(errs, errors.New("gemini api key is required: set --gemini-key or GEMINI_API_KEY"))
		}
	case BackendOllama:
		if c.OllamaURL == "" {
			errs = append(errs, errors.New("ollama url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid backend %q (valid: openai, gemini, ollama)", c.Backend))
	}

	if !slices.Contains([]string{RasterizerPdftoppm, RasterizerFitz}, c.Rasterizer) {
		errs = append(errs, fmt.Errorf("invalid rasterizer %q (valid: pdftoppm, fitz)", c.Rasterizer))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max-tokens must be positive, got %d", c.MaxTokens))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request-timeout must not be negative, got %s", c.RequestTimeout))
	}
	if c.DPI <= 0 {
		errs = append(errs, fmt.Errorf("dpi must be positive, got %d", c.DPI))
	}
	if c.MaxDimension <= 0 {
		errs = append(errs, fmt.Errorf("max-dimension must be positive, got %d", c.MaxDimension))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.StoragePath == "" {
		errs = append(errs, errors.New("storage path is required"))
	}

	return errors.Join(errs...)
}

// ParseYAML is an ff config file parser. Top-level keys name flags; nested
// mappings are joined with "-" (openai: {key: x} sets --openai-key) and
// sequences of scalars are joined with ",". Null values are skipped.
func ParseYAML(r io.Reader, set func(name, value string) error) error {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding yaml config: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil
	}

	root := resolveAlias(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("yaml config must be a mapping, got %s", kindName(root.Kind))
	}
	return walkMapping("", root, set)
}

func walkMapping(prefix string, node *yaml.Node, set func(name, value string) error) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if prefix != "" {
			name = prefix + "-" + name
		}
		value := resolveAlias(node.Content[i+1])

		switch value.Kind {
		case yaml.ScalarNode:
			if value.ShortTag() == "!!null" {
				continue
			}
			if err := set(name, value.Value); err != nil {
				return fmt.Errorf("setting %s: %w", name, err)
			}
		case yaml.SequenceNode:
			parts := make([]string, 0, len(value.Content))
			for _, elem := range value.Content {
				elem = resolveAlias(elem)
				if elem.Kind != yaml.ScalarNode {
					return fmt.Errorf("%s: list elements must be scalars", name)
				}
				parts = append(parts, elem.Value)
			}
			if err := set(name, strings.Join(parts, ",")); err != nil {
				return fmt.Errorf("setting %s: %w", name, err)
			}
		case yaml.MappingNode:
			if err := walkMapping(name, value, set); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: unsupported yaml %s", name, kindName(value.Kind))
		}
	}
	return nil
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	for node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "node"
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
