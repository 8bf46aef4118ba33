package market_data

import (
	"context"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/modules/config"
	"strategy_runtime/internal/modules/market_data/service"
	"strategy_runtime/pkg/logger"

	"go.uber.org/fx"
)

func newService(cfg *config.Config, source service.CandleSource, b bus.Bus) (*service.MarketDataService, error) {
	return service.NewMarketDataService(source, b, cfg.MarketData.Pairs, service.Periods{
		Fast: cfg.MarketData.FastPeriod,
		Slow: cfg.MarketData.SlowPeriod,
		ATR:  cfg.MarketData.ATRPeriod,
	}, cfg.MarketData.WarmupBars)
}

// run drives the service for the app lifetime. A transport failure shuts the
// app down; restart policy belongs to the process supervisor.
func run(lc fx.Lifecycle, sd fx.Shutdowner, cfg *config.Config, svc *service.MarketDataService) {
	if cfg.MarketData.Source == config.SourceNone || len(cfg.MarketData.Pairs) == 0 {
		logger.Info("market data disabled: source=%s pairs=%d", cfg.MarketData.Source, len(cfg.MarketData.Pairs))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := svc.Run(ctx); err != nil {
					logger.Error("market data stopped: %v", err)
					_ = sd.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}

func Module() fx.Option {
	return fx.Module("market_data",
		fx.Provide(newService),
		fx.Invoke(run),
	)
}
