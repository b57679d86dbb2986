package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayurscan/backend/internal/client/analysis"
	"github.com/ayurscan/backend/internal/client/cloudinary"
	"github.com/ayurscan/backend/internal/config"
	"github.com/ayurscan/backend/internal/handler"
	"github.com/ayurscan/backend/internal/logging"
	"github.com/ayurscan/backend/internal/service/ai"
	"github.com/ayurscan/backend/internal/service/chat"
	"github.com/ayurscan/backend/internal/service/events"
	"github.com/ayurscan/backend/internal/service/orchestrator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}
	if !cfg.Analysis.Enabled() {
		logger.Fatal("ANALYSIS_BASE_URL is required")
	}

	httpClient := &http.Client{Timeout: cfg.Analysis.Timeout}

	uploader := cloudinary.New(cloudinary.Config{
		BaseURL:      cfg.Cloudinary.BaseURL,
		CloudName:    cfg.Cloudinary.CloudName,
		UploadPreset: cfg.Cloudinary.UploadPreset,
	}, httpClient, logger.Named("cloudinary"))
	remote := analysis.New(cfg.Analysis.BaseURL, httpClient, logger.Named("analysis"))

	chatBackend, err := newChatBackend(ctx, cfg, remote, logger)
	if err != nil {
		logger.Fatal("failed to initialize chat backend", zap.Error(err))
	}

	store := chat.NewService()
	broker := events.NewBroker(logger.Named("events"))
	flow := orchestrator.NewService(store, uploader, remote, chatBackend, broker, logger.Named("flow"))

	router := handler.NewRouter(store, flow, broker, logger)

	if err := runServer(ctx, cfg.Server, router, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// newChatBackend picks the remote /chat endpoint or, when configured, an Ark model.
func newChatBackend(ctx context.Context, cfg *config.Config, remote *analysis.Client, logger *zap.Logger) (orchestrator.ChatBackend, error) {
	if cfg.Analysis.ChatBackend != config.ChatBackendLLM {
		logger.Info("using remote chat backend", zap.String("base_url", cfg.Analysis.BaseURL))
		return remote, nil
	}

	if !cfg.AI.Enabled() {
		logger.Warn("CHAT_BACKEND=llm but Ark credentials are missing, falling back to remote chat")
		return remote, nil
	}

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := ai.NewService(ctx, chatModel, logger.Named("ai"))
	if err != nil {
		return nil, err
	}
	logger.Info("using LLM chat backend", zap.String("model", cfg.AI.Model))
	return svc, nil
}

func runServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ayurscan backend listening", zap.String("addr", serverCfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
