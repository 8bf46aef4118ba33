package config

import (
	"strategy_runtime/pkg/logger"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// NewLogger initializes pkg/logger from the config and routes fx events to it.
// Pass it to fx.WithLogger so the logger is ready before any constructor runs.
func NewLogger(cfg *Config) (fxevent.Logger, error) {
	if err := logger.Init(cfg.Log.Level, cfg.Service.Name); err != nil {
		return nil, err
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx").Desugar()}, nil
}

func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
	)
}
