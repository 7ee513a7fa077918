package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	appcfg "github.com/jo-hoe/productscribe/internal/config"
	"github.com/jo-hoe/productscribe/internal/form"
	"github.com/jo-hoe/productscribe/internal/generate"
	"github.com/jo-hoe/productscribe/internal/history"
	"github.com/jo-hoe/productscribe/internal/llm"
	"github.com/jo-hoe/productscribe/internal/llm/aiproxy"
	"github.com/jo-hoe/productscribe/internal/llm/mock"
	"github.com/jo-hoe/productscribe/internal/llm/openai"
	"github.com/jo-hoe/productscribe/internal/processor"
	"github.com/jo-hoe/productscribe/internal/server"
	"github.com/jo-hoe/productscribe/internal/storage"
)

func main() {
	// Bootstrap logger until the configured level is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	path := ""
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := appcfg.Load(path)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(logger, cfg); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(logger *slog.Logger, cfg *appcfg.Config) error {
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// History (SQLite)
	if err := os.MkdirAll(filepath.Dir(cfg.Server.DatabasePath), 0o750); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	store, err := history.NewSQLiteStore(rootCtx, cfg.Server.DatabasePath)
	if err != nil {
		return fmt.Errorf("sqlite open: %w", err)
	}
	defer func() { _ = store.Close() }()

	uploader := storage.NewUploader(cfg.Server.StorageDir, cfg.Server.PublicBaseURL, int64(cfg.Server.MaxUploadSize)) // #nosec G115 - bounded by config validation

	llmClient, err := newLLMClient(cfg.LLM)
	if err != nil {
		return err
	}
	logger.Info("llm provider ready", "provider", llmClient.Name())

	proc := processor.New(logger, llmClient, store, uploader, cfg.LLM.Concurrency)

	genClient := generate.New(cfg.Generation.Endpoint, cfg.Generation.Timeout).WithAPIKey(cfg.Generation.APIKey)
	sessions := form.NewSessions(cfg.Server.SessionTTL, func() *form.Controller {
		return form.NewController(logger, uploader, genClient)
	})

	httpSrv := server.NewHTTPServer(&server.Service{
		Log:       logger,
		Cfg:       cfg,
		Sessions:  sessions,
		Uploader:  uploader,
		Processor: proc,
		History:   store,
	})

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("http server starting", "address", cfg.Server.Addr, "public", cfg.Server.PublicBaseURL)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancelShutdown()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		return nil
	})
	return g.Wait()
}

func newLLMClient(cfg appcfg.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "mock":
		return mock.New(cfg.Mock), nil
	case "aiproxy":
		return aiproxy.New(cfg.AIProxy), nil
	case "openai":
		return openai.New(cfg.OpenAI), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
