package redis

import (
	"context"
	"fmt"

	"strategy_runtime/internal/modules/config"
	"strategy_runtime/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewClient connects and closes the client on app stop.
func NewClient(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (goredis.UniversalClient, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("redis connected: %s db=%d", cfg.Redis.Addr, cfg.Redis.DB)

	lc.Append(fx.StopHook(client.Close))
	return client, nil
}
