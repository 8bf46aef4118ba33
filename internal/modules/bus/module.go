package bus

import (
	"context"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/modules/config"
	"strategy_runtime/internal/modules/redis"
	"strategy_runtime/pkg/logger"

	"go.uber.org/fx"
)

// New picks the backend named in config. Redis is only dialed for the redis backend.
func New(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (bus.Bus, error) {
	if cfg.Bus.Backend != config.BusRedis {
		logger.Info("bus: in-process backend, max_pending=%d", cfg.Bus.MaxPending)
		var opts []bus.MemoryOption
		if cfg.Bus.MaxPending > 0 {
			opts = append(opts, bus.WithMaxPending(cfg.Bus.MaxPending))
		}
		return bus.NewMemory(opts...), nil
	}

	client, err := redis.NewClient(ctx, lc, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("bus: redis streams backend, group prefix %q", cfg.Bus.GroupPrefix)
	return bus.NewRedis(client, bus.RedisConfig{
		GroupPrefix: cfg.Bus.GroupPrefix,
		MaxLen:      cfg.Bus.MaxLen,
		Block:       cfg.Bus.Block,
		ClaimIdle:   cfg.Bus.ClaimIdle,
	}), nil
}

func Module() fx.Option {
	return fx.Module("bus",
		fx.Provide(New),
	)
}
