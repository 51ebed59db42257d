package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/time/rate"

	"github.com/zombor/invoice-pipeline/internal/invoice"
	"github.com/zombor/invoice-pipeline/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// providerConfig holds the settings needed to reach each model provider
type providerConfig struct {
	geminiKey         string
	geminiModel       string
	ollamaURL         string
	ollamaVisionModel string
	ollamaTextModel   string
	anthropicKey      string
	anthropicModel    string
}

// newModel builds a client for provider. vision selects the Ollama model used
// for image calls; the hosted providers serve both from one model.
func newModel(ctx context.Context, provider string, vision bool, cfg providerConfig) (scanning.Model, error) {
	switch provider {
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		}
		slog.Info("Initializing Gemini model...", "model", cfg.geminiModel)
		return scanning.NewGemini(ctx, apiKey, cfg.geminiModel)
	case "anthropic":
		apiKey := cfg.anthropicKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("anthropic API key is required. Set --anthropic-key flag or ANTHROPIC_API_KEY environment variable")
		}
		slog.Info("Initializing Anthropic model...", "model", cfg.anthropicModel)
		return scanning.NewAnthropic(apiKey, cfg.anthropicModel)
	case "ollama":
		modelName := cfg.ollamaTextModel
		if vision {
			modelName = cfg.ollamaVisionModel
		}
		slog.Info("Initializing Ollama model...", "url", cfg.ollamaURL, "model", modelName)
		return scanning.NewOllama(cfg.ollamaURL, modelName)
	default:
		return nil, fmt.Errorf("invalid provider %q, valid: gemini, ollama or anthropic", provider)
	}
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	flags := ff.NewFlagSet("invoice-pipeline")
	var (
		port              = flags.IntLong("port", 8080, "HTTP server port")
		dbPath            = flags.StringLong("db", "invoice-pipeline.db", "Database file path")
		storagePath       = flags.StringLong("storage", "./uploads", "Upload storage directory path")
		visionProvider    = flags.StringLong("vision-provider", "gemini", "Vision model provider: 'gemini', 'ollama' or 'anthropic'")
		textProvider      = flags.StringLong("text-provider", "", "Text model provider for spreadsheet rows (defaults to the vision provider)")
		geminiKey         = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = flags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL         = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaVisionModel = flags.StringLong("ollama-vision-model", "llava", "Ollama model for images (e.g., llava, llava-phi3, qwen2-vl)")
		ollamaTextModel   = flags.StringLong("ollama-text-model", "llama3.1", "Ollama model for spreadsheet rows")
		anthropicKey      = flags.StringLong("anthropic-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)")
		anthropicModel    = flags.StringLong("anthropic-model", "claude-sonnet-4-5-20250929", "Anthropic model name")
		concurrency       = flags.IntLong("concurrency", invoice.DefaultConcurrency, "Maximum model calls in flight per batch")
		callRate          = flags.Float64Long("rate", 2, "Model calls per second per provider (0 disables limiting)")
		burst             = flags.IntLong("burst", 1, "Rate limiter burst size")
		modelTimeout      = flags.DurationLong("model-timeout", scanning.DefaultTimeout, "Timeout for a single model call")
		maxUploadMB       = flags.IntLong("max-upload-mb", 50, "Maximum upload size in megabytes")
		maxDimension      = flags.IntLong("max-dimension", 2000, "Longest image side sent to vision models, in pixels")
		authUser          = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion       = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, os.Args[1:],
		ff.WithEnvVarPrefix("INVOICE_PIPELINE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if *textProvider == "" {
		*textProvider = *visionProvider
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...")
	db, err := invoice.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// One limiter per provider, shared by its vision and text adapters
	limiters := make(map[string]*rate.Limiter)
	limiterFor := func(provider string) *rate.Limiter {
		if *callRate <= 0 {
			return nil
		}
		if l, ok := limiters[provider]; ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(*callRate), max(*burst, 1))
		limiters[provider] = l
		return l
	}

	cfg := providerConfig{
		geminiKey:         *geminiKey,
		geminiModel:       *geminiModel,
		ollamaURL:         *ollamaURL,
		ollamaVisionModel: *ollamaVisionModel,
		ollamaTextModel:   *ollamaTextModel,
		anthropicKey:      *anthropicKey,
		anthropicModel:    *anthropicModel,
	}

	visionModel, err := newModel(ctx, *visionProvider, true, cfg)
	if err != nil {
		slog.Error("Failed to initialize vision model", "provider", *visionProvider, "error", err)
		os.Exit(1)
	}
	defer visionModel.Close()

	textModel := visionModel
	if *textProvider != *visionProvider || *textProvider == "ollama" {
		textModel, err = newModel(ctx, *textProvider, false, cfg)
		if err != nil {
			slog.Error("Failed to initialize text model", "provider", *textProvider, "error", err)
			os.Exit(1)
		}
		defer textModel.Close()
	}

	pipeline := invoice.NewPipeline(
		scanning.NewVisionExtractor(scanning.NewLimited(visionModel, limiterFor(*visionProvider)), *modelTimeout, *maxDimension),
		scanning.NewTabularExtractor(scanning.NewLimited(textModel, limiterFor(*textProvider)), *modelTimeout),
		*concurrency,
	)

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := invoice.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := invoice.NewService(db, pipeline, store)

	basicAuth := invoice.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := invoice.NewServer(service, basicAuth, int64(*maxUploadMB)<<20)

	addr := fmt.Sprintf(":%d", *port)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(addr)
	}()

	slog.Info("Server started",
		"address", fmt.Sprintf("http://localhost%s", addr),
		"vision_provider", *visionProvider,
		"text_provider", *textProvider,
		"concurrency", *concurrency,
	)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), *modelTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
