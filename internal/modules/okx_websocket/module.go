package okx_websocket

import (
	healthsvc "strategy_runtime/internal/modules/health/service"
	marketdata "strategy_runtime/internal/modules/market_data/service"
	"strategy_runtime/internal/modules/okx_websocket/service"

	"go.uber.org/fx"
)

// Module provides the OKX candle stream as the market data CandleSource.
func Module() fx.Option {
	return fx.Module("okx_websocket",
		fx.Provide(
			func(state *healthsvc.State) service.ConnState { return state },
			service.NewClient,
			func(c *service.Client) marketdata.CandleSource { return c },
		),
	)
}
