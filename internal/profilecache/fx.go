package profilecache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/repairlane/repairlane/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewStore picks redis when configured and falls back to the in-process
// store otherwise.
func NewStore(client *redis.Client, log *zap.Logger) Store {
	if client != nil {
		store, err := NewRedisStore(client)
		if err == nil {
			return store
		}
		log.Warn("redis store unavailable, using memory store", zap.Error(err))
	}
	return NewMemoryStore()
}

func NewFromConfig(cfg config.Config, store Store, log *zap.Logger) Cache {
	return New(store, log, cfg.ProfileCacheTTL)
}

var Module = fx.Module("profile.cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewStore),
	fx.Provide(NewFromConfig),
)
