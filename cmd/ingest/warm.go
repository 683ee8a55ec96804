package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"twstock_backend/internal/app/di"
	"twstock_backend/internal/app/scheduler"
	"twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/feature/candles/usecase"
)

func warmCommand() *cli.Command {
	return &cli.Command{
		Name:  "warm",
		Usage: "fetch missing candles for the watchlist once",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "symbols", Usage: "symbols to warm instead of the watchlist"},
			&cli.IntFlag{Name: "days", Usage: "calendar days ending today (default WARM_LOOKBACK_DAYS)"},
			&cli.StringFlag{Name: "from", Usage: "start date YYYY-MM-DD (overrides --days)"},
			&cli.StringFlag{Name: "to", Usage: "end date YYYY-MM-DD (default today)"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, app *di.App) error {
				window, err := warmWindow(time.Now(), app.Config.WarmLookbackDays, c.Int("days"), c.String("from"), c.String("to"))
				if err != nil {
					return err
				}
				symbols := c.StringSlice("symbols")
				if len(symbols) == 0 {
					if symbols, err = app.Symbols.ActiveCodes(ctx); err != nil {
						return fmt.Errorf("load watchlist: %w", err)
					}
				}
				report := app.Warmup.WarmAll(ctx, symbols, window)
				fmt.Fprintln(c.App.Writer, formatReport(report, window))
				if len(report.Failed) > 0 {
					return fmt.Errorf("warm-up failed for %d of %d symbols", len(report.Failed), len(symbols))
				}
				return nil
			})
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "run the watchlist warm-up on WARM_SCHEDULE (Asia/Taipei) until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "run-now", Usage: "warm once before waiting for the schedule"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, app *di.App) error {
				job := func(ctx context.Context) {
					symbols, err := app.Symbols.ActiveCodes(ctx)
					if err != nil {
						fmt.Fprintln(c.App.ErrWriter, "load watchlist:", err)
						return
					}
					window := usecase.LookbackWindow(time.Now(), app.Config.WarmLookbackDays)
					app.Warmup.WarmAll(ctx, symbols, window)
				}

				s := scheduler.New(ctx, usecase.TaipeiLocation())
				if err := s.Register("warm", app.Config.WarmSchedule, job); err != nil {
					return err
				}
				if c.Bool("run-now") {
					job(ctx)
				}
				s.Start()
				<-ctx.Done()
				s.Stop()
				return nil
			})
		},
	}
}

// warmWindow は --from/--to/--days から取得範囲を決めます。
func warmWindow(now time.Time, defaultDays, days int, from, to string) (entity.DateRange, error) {
	if days <= 0 {
		days = defaultDays
	}
	window := usecase.LookbackWindow(now, days)
	if to != "" {
		d, err := entity.ParseDate(to)
		if err != nil {
			return entity.DateRange{}, fmt.Errorf("--to: %w", err)
		}
		window.To = d
		window.From = d.AddDays(-(days - 1))
	}
	if from != "" {
		d, err := entity.ParseDate(from)
		if err != nil {
			return entity.DateRange{}, fmt.Errorf("--from: %w", err)
		}
		window.From = d
	}
	if err := window.Validate(); err != nil {
		return entity.DateRange{}, err
	}
	return window, nil
}

func formatReport(r usecase.WarmReport, window entity.DateRange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "warmed %s: %d ok, %d failed", window, len(r.Succeeded), len(r.Failed))
	failed := make([]string, 0, len(r.Failed))
	for s := range r.Failed {
		failed = append(failed, s)
	}
	sort.Strings(failed)
	for _, s := range failed {
		fmt.Fprintf(&b, "\n  %s: %v", s, r.Failed[s])
	}
	return b.String()
}
