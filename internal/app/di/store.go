package di

import (
	"fmt"

	"twstock_backend/internal/app/config"
	"twstock_backend/internal/feature/candles/adapters"
	"twstock_backend/internal/feature/candles/usecase"
	"twstock_backend/internal/platform/cache"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// NewCandleStore selects the candle store for STORE_DRIVER and, when Redis is
// available, wraps it with the read-through cache.
func NewCandleStore(cfg config.Config, gdb *gorm.DB, rdb *redis.Client) (usecase.CandleStore, error) {
	var inner usecase.CandleStore
	switch cfg.StoreDriver {
	case config.StoreFile:
		fs, err := adapters.NewCandleFileStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		inner = fs
	case config.StoreSQLite, config.StorePostgres:
		if gdb == nil {
			return nil, fmt.Errorf("store driver %q requires a database", cfg.StoreDriver)
		}
		inner = adapters.NewCandleGormStore(gdb)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if rdb == nil {
		return inner, nil
	}
	// TTL 0: 翌朝8時（台北）まで
	return cache.NewCachingCandleStore(rdb, 0, inner, cfg.CacheNamespace), nil
}
