package di

import (
	"context"
	"errors"
	"log/slog"

	"twstock_backend/internal/app/config"
	candleadapters "twstock_backend/internal/feature/candles/adapters"
	candleusecase "twstock_backend/internal/feature/candles/usecase"
	symboladapters "twstock_backend/internal/feature/symbollist/adapters"
	symbolentity "twstock_backend/internal/feature/symbollist/domain/entity"
	symbolusecase "twstock_backend/internal/feature/symbollist/usecase"
	"twstock_backend/internal/platform/cache"
	"twstock_backend/internal/platform/db"
	"twstock_backend/internal/platform/externalapi/fubon"
	infraredis "twstock_backend/internal/platform/redis"
	"twstock_backend/internal/shared/ratelimiter"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App holds the wired components shared by cmd/server and cmd/ingest.
type App struct {
	Config config.Config

	DB    *gorm.DB
	Redis *redis.Client // nil when Redis is not configured or unreachable

	Store      candleusecase.CandleStore
	Session    *fubon.Session
	Historical *candleusecase.HistoricalUsecase
	Warmup     *candleusecase.WarmupUsecase
	Symbols    *symbolusecase.SymbolUsecase
}

// Build opens the metadata database, connects to Redis if configured, and wires
// the candle and watchlist usecases. WATCH_SYMBOLS are seeded into the watchlist.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	models := []any{&symbolentity.Symbol{}}
	if cfg.StoreDriver != config.StoreFile {
		models = append(models, candleadapters.Models()...)
	}
	if err := db.Migrate(gdb, models...); err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		if rdb, err = infraredis.NewRedisClient(ctx, cfg.Redis); err != nil {
			slog.Warn("Redis unavailable, running without cache", "error", err)
			rdb = nil
		}
	}

	store, err := NewCandleStore(cfg, gdb, rdb)
	if err != nil {
		return nil, err
	}
	client, sess, err := NewMarket(cfg.Fubon, rdb)
	if err != nil {
		return nil, err
	}

	historical := candleusecase.NewHistoricalUsecase(store, client, ratelimiter.NewPerMinute(cfg.RateLimitPerMinute), candleusecase.HistoricalConfig{
		MaxSpanDays:         cfg.MaxSpanDays,
		ContextLookbackDays: lookback(cfg.ContextLookbackDays),
	})

	symbols := symbolusecase.NewSymbolUsecase(symboladapters.NewSymbolRepository(gdb))
	if err := symbols.Seed(ctx, cfg.WatchSymbols); err != nil {
		return nil, err
	}

	slog.Info("application wired",
		"store", cfg.StoreDriver,
		"db", cfg.DB.Driver,
		"redis", rdb != nil,
		"rate_limit_per_minute", cfg.RateLimitPerMinute,
	)
	return &App{
		Config:     cfg,
		DB:         gdb,
		Redis:      rdb,
		Store:      store,
		Session:    sess,
		Historical: historical,
		Warmup:     candleusecase.NewWarmupUsecase(historical, cfg.WarmConcurrency),
		Symbols:    symbols,
	}, nil
}

// lookback maps a configured 0 ("no lookback") to the usecase's disabled value.
func lookback(days int) int {
	if days == 0 {
		return -1
	}
	return days
}

// Close releases the upstream session, Redis and the database pool.
func (a *App) Close(ctx context.Context) error {
	if cs, ok := a.Store.(*cache.CachingCandleStore); ok {
		st := cs.Stats()
		slog.Info("read cache stats", "hits", st.Hits, "misses", st.Misses)
	}

	var errs []error
	if a.Session != nil {
		errs = append(errs, a.Session.Close(ctx))
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
