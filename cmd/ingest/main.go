// Command ingest warms the candle cache for the watchlist and manages the watchlist.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"twstock_backend/internal/app/config"
	"twstock_backend/internal/app/di"
	"twstock_backend/internal/platform/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ingest",
		Usage: "warm the Taiwan daily candle cache and manage the watchlist",
		Commands: []*cli.Command{
			warmCommand(),
			scheduleCommand(),
			symbolsCommand(),
		},
	}
}

// withApp は設定を読み込んで依存関係を組み立て、fn の終了後に解放します。
func withApp(c *cli.Context, fn func(ctx context.Context, app *di.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
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
	return fn(ctx, app)
}
