package kvstore

import (
	"github.com/redis/go-redis/v9"
	"github.com/serviora/bookpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("kvstore",
	fx.Provide(NewStore),
)

// NewStore selects the redis-backed store when configured, falling back to
// the in-process store.
func NewStore(cfg config.Config, log *zap.Logger) Store {
	if cfg.RedisAddr == "" {
		log.Named("kvstore").Info("using in-process TTL store")
		return NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Named("kvstore").Info("using redis TTL store", zap.String("addr", cfg.RedisAddr))
	return NewRedisStore(client)
}
