package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	_ "usersvc/docs" // swagger docs

	"usersvc/internal/cache"
	"usersvc/internal/config"
	"usersvc/internal/db"
	"usersvc/internal/handler"
	"usersvc/internal/logger"
	"usersvc/internal/metrics"
	"usersvc/internal/repository"
	"usersvc/internal/router"
	"usersvc/internal/service"
)

// @title User Service API
// @version 1.0
// @description User account management with credential authentication.
// @host localhost:8000
// @BasePath /
// @schemes http
func main() {
	cfg, err := config.Load()
	if err != nil {
		// the logger depends on config, so fall back to a default one
		logger.New(logger.Config{}).Fatal("load config", zap.Error(err))
	}

	log := logger.New(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, ServiceName: "usersvc"})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coll, closeStore, err := db.OpenCollection(cfg, log)
	if err != nil {
		log.Fatal("open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("close store", zap.Error(err))
		}
	}()

	repo, err := repository.NewUserRepository(ctx, coll, log)
	if err != nil {
		log.Fatal("init user repository", zap.Error(err))
	}

	userCache, closeCache := cache.Open(ctx, cfg, log)
	defer func() { _ = closeCache() }()

	m := metrics.New()
	svc := service.NewUserService(repo, userCache, service.Options{
		AdminUsername: cfg.AdminUsername,
		CacheTTL:      cfg.CacheTTL,
		Logger:        log,
		Metrics:       m,
	})

	if cfg.BootstrapAdmin {
		if _, err := svc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			log.Fatal("bootstrap admin user", zap.Error(err))
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	router.Register(
		e,
		cfg,
		log,
		m,
		handler.NewUserHandler(svc),
		handler.NewAuthHandler(svc),
		handler.NewInfoHandler(cfg.ServerIdentity),
	)

	log.Info("swagger documentation available", zap.String("url", swaggerURL(cfg)))

	addr := ":" + cfg.ServerPort
	go func() {
		log.Info("server listening",
			zap.String("addr", addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("cache", cfg.CacheDriver),
		)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

func swaggerURL(cfg *config.Config) string {
	host := cfg.SwaggerHost
	if host == "" {
		host = "localhost:" + cfg.ServerPort
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return host + "/swagger/index.html"
}
