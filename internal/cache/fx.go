package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/stackforge/tenantry/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(ProvideFeatureSetStore),
)

// NewRedisClient connects to redis when configured; a nil client means
// every redis-backed component falls back to its local implementation.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable, shared cache disabled", zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client
}

func ProvideFeatureSetStore(client *redis.Client, log *zap.Logger) FeatureSetStore {
	if client == nil {
		return NewLocalFeatureSetStore()
	}
	store, err := NewRedisFeatureSetStore(client)
	if err != nil {
		log.Warn("redis feature cache unavailable, using local store", zap.Error(err))
		return NewLocalFeatureSetStore()
	}
	return store
}
