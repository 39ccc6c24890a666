package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/harithzain/simlab/internal/ai"
	"github.com/harithzain/simlab/internal/config"
	"github.com/harithzain/simlab/internal/db"
	"github.com/harithzain/simlab/internal/httpapi"
	"github.com/harithzain/simlab/internal/logger"
	"github.com/harithzain/simlab/internal/scenario"
	"github.com/harithzain/simlab/internal/store/rabbitmq"
	"github.com/harithzain/simlab/internal/store/redisstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	defer log.Sync() //nolint:errcheck

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}

	reg := ai.NewRegistry()
	registerProviders(reg, cfg)

	repo := scenario.NewRepo(gdb)
	svc := scenario.NewService(repo, reg, &cfg, log)

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit connect failed", zap.Error(err))
	}
	defer rabbit.Close() //nolint:errcheck

	rdb := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	limiter := redisstore.NewLimiter(rdb, cfg.PublicRateLimit, time.Minute)

	router := httpapi.NewRouter(cfg, svc, rabbit, limiter, log)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}

// registerProviders wires every configured model backend into the registry.
func registerProviders(reg *ai.Registry, cfg config.Config) {
	timeout := time.Duration(cfg.ModelTimeoutSeconds) * time.Second

	reg.Register("ollama", func(ctx context.Context) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel, timeout), nil
	})
	reg.Register("openrouter", func(ctx context.Context) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(
			cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, cfg.ScenarioModel,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName, timeout,
		), nil
	})
}
