package distributed

import (
	"context"
	"fmt"
	"time"

	"midirelay/pkg/config"
	"midirelay/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient builds a client without dialing. Connections are made on
// first use and re-made after an outage.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

// WaitForRedis pings client with backoff until it answers or retryCfg is
// exhausted. The client stays usable either way.
func WaitForRedis(ctx context.Context, client *redis.Client, retryCfg retry.Config, logger *zap.SugaredLogger) error {
	addr := client.Options().Addr

	err := retry.Do(ctx, retryCfg, func(attempt int) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warnw("redis not reachable yet",
				"address", addr,
				"attempt", attempt,
				"error", err,
			)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Infow("connected to Redis",
		"address", addr,
		"db", client.Options().DB,
		"pool_size", client.Options().PoolSize,
	)
	return nil
}
