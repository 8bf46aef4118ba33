package main

import (
	"context"

	"strategy_runtime/internal/modules/bus"
	"strategy_runtime/internal/modules/config"
	"strategy_runtime/internal/modules/engine"
	"strategy_runtime/internal/modules/health"
	"strategy_runtime/internal/modules/market_data"
	"strategy_runtime/internal/modules/okx_websocket"
	"strategy_runtime/internal/modules/postgres"
	telegram "strategy_runtime/internal/modules/telegram_bot"
	"strategy_runtime/internal/modules/tracing"
	"strategy_runtime/pkg/logger"

	"go.uber.org/fx"
)

func main() {
	defer logger.Sync()

	app := fx.New(
		fx.WithLogger(config.NewLogger),
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		tracing.Module(),
		bus.Module(),
		postgres.Module(),
		okx_websocket.Module(),
		market_data.Module(),
		engine.Module(),
		health.Module(),
		telegram.Module(),
		// root invokes run after module invokes, so readiness flips after every other OnStart
		fx.Invoke(health.MarkReady),
	)
	app.Run()
}
