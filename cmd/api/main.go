package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/docchat/internal/config"
	"github.com/zhouzirui/docchat/internal/handler"
	"github.com/zhouzirui/docchat/internal/handler/middleware"
	"github.com/zhouzirui/docchat/internal/logging"
	"github.com/zhouzirui/docchat/internal/model/document"
	"github.com/zhouzirui/docchat/internal/service/ai"
	"github.com/zhouzirui/docchat/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.FilePath,
		Production: cfg.Production(),
	})
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", zap.Error(envErr))
	}

	auth, err := middleware.NewAuthenticator(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatal("JWT_SECRET must be set", zap.Error(err))
	}

	documents := document.NewMemoryStore(document.Seed())
	chatService := chat.NewService(cfg.Chat.SessionTTL)

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, documents, cfg.AI, logger)
		if err != nil {
			logger.Warn("failed to initialize AI service, continuing without answers - 请检查 Ark 模型相关环境变量", zap.Error(err))
		} else {
			logger.Info("AI service initialized", zap.String("model", cfg.AI.Model), zap.Bool("stream", cfg.AI.StreamResponse))
		}
	} else {
		logger.Warn("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	router := handler.NewRouter(handler.Dependencies{
		Documents: documents,
		Chat:      chatService,
		AI:        aiService,
		Auth:      auth,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("docchat backend listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
