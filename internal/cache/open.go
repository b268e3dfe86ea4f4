package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"usersvc/internal/config"
)

// Open builds the cache selected by cfg.CacheDriver. An unreachable redis is
// logged and kept; it behaves as a permanent miss until it comes back.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (Cache, func() error) {
	noop := func() error { return nil }
	switch cfg.CacheDriver {
	case config.CacheRedis:
		c := New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.Ping(pingCtx); err != nil {
			log.Warn("redis unreachable, user cache disabled until it recovers",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		return c, c.Close
	case config.CacheNone:
		return Nop{}, noop
	default:
		return NewMemory(cfg.CacheTTL), noop
	}
}
