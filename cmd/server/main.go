package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"twstock_backend/internal/app/config"
	"twstock_backend/internal/app/di"
	"twstock_backend/internal/app/router"
	candleshandler "twstock_backend/internal/feature/candles/transport/handler"
	symbollisthandler "twstock_backend/internal/feature/symbollist/transport/handler"
	"twstock_backend/internal/platform/http/handler"
	"twstock_backend/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := di.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			slog.Error("failed to release resources", "error", err)
		}
	}()

	// 認証情報があれば起動時にログインしておく。失敗しても最初の取得時に再試行する。
	if cfg.Fubon.Validate() == nil {
		if err := app.Session.Open(ctx); err != nil {
			slog.Warn("upstream login failed at startup", "error", err)
		}
	} else {
		slog.Warn("upstream credentials not set, only cached data can be served")
	}

	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET is not set. API routes are public.")
	}

	r := router.NewRouter(
		handler.NewHealthHandler(version),
		candleshandler.NewCandlesHandler(app.Historical),
		symbollisthandler.NewSymbolHandler(app.Symbols),
		router.Options{JWTSecret: cfg.JWTSecret, CORSOrigins: cfg.CORSOrigins, Logger: log},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.HTTPAddr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
