package postgres

import (
	"context"
	"fmt"

	"strategy_runtime/internal/modules/config"
	"strategy_runtime/migrations"
	"strategy_runtime/internal/store"
	"strategy_runtime/pkg/db"
	"strategy_runtime/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the StrategyStore for the configured backend.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (store.StrategyStore, error) {
				if cfg.Store.Backend == config.StoreMemory {
					logger.Warn("strategy records are kept in memory only")
					return store.NewMemory(), nil
				}

				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN:      cfg.DB,
					MaxConns: cfg.DBMaxConns,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					poolMaster.Close()
					return nil, err
				}

				txManager := db.NewPgTxManager(poolMaster)
				if cfg.DBMigrations {
					if err := txManager.Migrate(ctx, migrations.FS); err != nil {
						txManager.Close()
						return nil, err
					}
				}
				lc.Append(fx.StopHook(txManager.Close))
				return store.NewPg(txManager), nil
			},
		),
	)
}
