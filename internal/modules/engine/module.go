package engine

import (
	"context"
	"fmt"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/connector/okx"
	"strategy_runtime/internal/connector/paper"
	"strategy_runtime/internal/engine"
	"strategy_runtime/internal/execution"
	"strategy_runtime/internal/manager"
	"strategy_runtime/internal/models"
	"strategy_runtime/internal/modules/config"
	marketdata "strategy_runtime/internal/modules/market_data/service"
	"strategy_runtime/internal/store"
	"strategy_runtime/internal/tradingcore"
	"strategy_runtime/pkg/logger"

	"go.uber.org/fx"
)

const okxConnector = "okx"

// Resolver reads tenant credentials from config.
func Resolver(cfg *config.Config) engine.Resolver {
	return func(_ context.Context, tenantID string) (engine.TenantConfig, error) {
		return engine.TenantConfig{UserID: tenantID, APIKeys: cfg.Tenants[tenantID]}, nil
	}
}

// RuntimeFactory gives every tenant an OKX factory plus paper connectors for
// any other name. Paper connectors fill at the last published close.
func RuntimeFactory(cfg *config.Config, prices *marketdata.MarketDataService) engine.RuntimeFactory {
	return func(tenant engine.TenantConfig) engine.TradingRuntime {
		return tradingcore.NewRuntime(
			tradingcore.WithFactory(okxConnector, okxFactory(cfg)),
			tradingcore.WithFallback(func(name string, _ []string, _ bool, _ map[string]string) (execution.Connector, error) {
				return paper.New(name, prices, cfg.Paper.Equity), nil
			}),
		)
	}
}

func okxFactory(cfg *config.Config) tradingcore.ConnectorFactory {
	return func(name string, _ []string, tradingRequired bool, keys map[string]string) (execution.Connector, error) {
		c := okx.Config{
			Name:       name,
			BaseURL:    cfg.OKX.RestURL,
			APIKey:     keys[okx.KeyAPIKey],
			APISecret:  keys[okx.KeyAPISecret],
			Passphrase: keys[okx.KeyPassphrase],
			Simulated:  cfg.OKX.Simulated,
		}
		if c.APIKey == "" {
			c.APIKey, c.APISecret, c.Passphrase = cfg.OKX.APIKey, cfg.OKX.APISecret, cfg.OKX.Passphrase
		}
		if tradingRequired && c.APIKey == "" {
			return nil, fmt.Errorf("okx connector needs api keys")
		}
		return okx.New(c), nil
	}
}

func Limits(cfg *config.Config) execution.RiskLimits {
	return execution.RiskLimits{
		MaxNotional: execution.Limit(cfg.Risk.MaxNotional),
		MaxLeverage: execution.Limit(cfg.Risk.MaxLeverage),
		ReduceOnly:  cfg.Risk.ReduceOnly,
	}
}

// Periods are the indicator periods the market data service publishes with.
func Periods(cfg *config.Config) models.IndicatorPeriods {
	return models.IndicatorPeriods{
		Fast: cfg.MarketData.FastPeriod,
		Slow: cfg.MarketData.SlowPeriod,
		ATR:  cfg.MarketData.ATRPeriod,
	}
}

func NewRegistry(lc fx.Lifecycle, cfg *config.Config, b bus.Bus, newRuntime engine.RuntimeFactory) *engine.Registry {
	limits := Limits(cfg)
	reg := engine.NewRegistry(Resolver(cfg), func(tenant engine.TenantConfig) *engine.UserEngine {
		return engine.NewUserEngine(tenant, b, newRuntime, limits)
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			n := len(reg.Engines())
			reg.Stop(ctx)
			logger.Info("stopped %d engines", n)
			return nil
		},
	})
	return reg
}

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			RuntimeFactory,
			NewRegistry,
			func(reg *engine.Registry) manager.Engines { return reg },
			func(cfg *config.Config, st store.StrategyStore, engines manager.Engines) *manager.StrategyManager {
				return manager.New(st, engines, manager.WithPeriods(Periods(cfg)))
			},
		),
	)
}
