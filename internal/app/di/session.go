package di

import (
	"twstock_backend/internal/platform/externalapi/fubon"
	"twstock_backend/internal/platform/session"

	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "fubon"

// NewTokenStore returns a Redis-backed store for the upstream login token so
// the server and ingest processes share one session. Without Redis the token
// stays in process memory and nil is returned.
func NewTokenStore(rdb *redis.Client) fubon.TokenStore {
	if rdb == nil {
		return nil
	}
	return session.NewTokenRedis(rdb, tokenKeyPrefix)
}
