package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"kast/internal/config"
	"kast/internal/db"
	"kast/internal/logger"
	"kast/internal/moderation"
	"kast/internal/repository"
	"kast/internal/router"
	"kast/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database
	gdb, err := db.Init(cfg.DatabaseURL, moderation.DefaultRuleConfigs(), zl)
	if err != nil {
		return err
	}
	repos := repository.New(gdb)

	engine := moderation.NewEngine(repos, moderation.ParseShortenerPolicy(cfg.ShortenerPolicy), zl)
	if err := engine.LoadRules(ctx); err != nil {
		return err
	}

	hub := services.NewNeynarClient(services.HubConfig{
		BaseURL:   cfg.NeynarBaseURL,
		APIKey:    cfg.NeynarAPIKey,
		ClientID:  cfg.NeynarClientID,
		RateLimit: cfg.HubRateLimit,
	}, zl)

	sessions, err := services.NewSessionStore(cfg.RedisURL, cfg.AuthSessionTTL)
	if err != nil {
		return err
	}

	worker := services.NewEngagementWorker(services.WorkerConfig{
		BatchSize:   cfg.Worker.BatchSize,
		Interval:    cfg.Worker.Interval,
		MaxRetries:  cfg.Worker.MaxRetries,
		RetryDelay:  cfg.Worker.RetryDelay,
		BatchDelay:  cfg.Worker.BatchDelay,
		CastLimit:   cfg.Worker.CastLimit,
		Concurrency: cfg.Worker.Concurrency,
	}, hub, repos, engine, zl)
	if cfg.Worker.AutoStart {
		worker.Start(ctx)
	}

	// 异步重算队列
	rescore := services.NewRescoreQueue(hub, repos, zl)
	go rescore.Run(ctx)

	if cfg.SessionSecret == config.DefaultSessionSecret {
		zl.Warn("SESSION_SECRET not set, using the development default")
	}

	gin.SetMode(cfg.GinMode)
	r := router.New(router.Deps{
		AppCtx:     ctx,
		Config:     cfg,
		DB:         gdb,
		Repos:      repos,
		Engine:     engine,
		Worker:     worker,
		Engagement: services.NewEngagementService(hub, repos, zl),
		Rescore:    rescore,
		Hub:        hub,
		Sessions:   sessions,
		Logger:     zl,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("KAST server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	worker.Wait()
	return nil
}
