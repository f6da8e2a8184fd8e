package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/gharbills/bill-tracker/internal/scanning"
	"github.com/gharbills/bill-tracker/internal/server"
	"github.com/gharbills/bill-tracker/internal/store"
	"github.com/gharbills/bill-tracker/internal/tracker"
)

func main() {
	_ = godotenv.Load()

	fs := ff.NewFlagSet("bill-tracker")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		backend       = fs.StringLong("store", "bolt", "Record store backend: 'bolt' or 'sqlite'")
		dbPath        = fs.StringLong("db", "bill-tracker.db", "Database file path")
		archivePath   = fs.StringLong("archive", "./bills", "Directory for processed bill images")
		extractorType = fs.StringLong("extractor", "gemini", "Extractor type: 'gemini' or 'ollama'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GOOGLE_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL     = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel   = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BILL_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	slog.Info("Initializing record store...", "backend", *backend, "path", *dbPath)
	recordStore, err := newStore(*backend, *dbPath)
	if err != nil {
		slog.Error("Failed to initialize record store", "error", err)
		os.Exit(1)
	}
	defer recordStore.Close()

	extractor, err := newExtractor(*extractorType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	if err != nil {
		slog.Error("Failed to initialize extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	slog.Info("Initializing image archive...", "path", *archivePath)
	archive, err := tracker.NewLocalArchive(*archivePath)
	if err != nil {
		slog.Error("Failed to initialize image archive", "error", err)
		os.Exit(1)
	}

	service := tracker.NewService(recordStore, extractor, archive)

	srv := server.NewServer(service, server.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := srv.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}

func newStore(backend, dbPath string) (store.Store, error) {
	switch backend {
	case "bolt":
		return store.NewBolt(dbPath)
	case "sqlite":
		return store.NewSQLite(dbPath)
	default:
		return nil, fmt.Errorf("invalid store backend %q, valid: bolt or sqlite", backend)
	}
}

func newExtractor(extractorType, geminiKey, geminiModel, ollamaURL, ollamaModel string) (scanning.Extractor, error) {
	switch extractorType {
	case "gemini":
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GOOGLE_API_KEY")
		}
		slog.Info("Initializing Gemini extractor...", "model", geminiModel)
		return scanning.NewGemini(apiKey, geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", ollamaURL, "model", ollamaModel)
		return scanning.NewOllama(ollamaURL, ollamaModel)
	default:
		return nil, fmt.Errorf("invalid extractor type %q, valid: gemini or ollama", extractorType)
	}
}
