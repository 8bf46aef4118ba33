package store

import (
	"context"
	"errors"
	"fmt"

	"strategy_runtime/internal/models"
	"strategy_runtime/internal/store/sql"
	"strategy_runtime/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
)

// params is the jsonb column: everything strategy specific.
type params struct {
	FastEMA         int     `json:"fast_ema"`
	SlowEMA         int     `json:"slow_ema"`
	ATRPeriod       int     `json:"atr_period"`
	ATRThreshold    float64 `json:"atr_threshold"`
	RiskPctPerTrade float64 `json:"risk_pct_per_trade"`
}

type Pg struct {
	db  db.TxManager
	sql *sql.Queries
}

var _ StrategyStore = (*Pg)(nil)

func NewPg(txManager db.TxManager) *Pg {
	return &Pg{db: txManager, sql: sql.New()}
}

func (p *Pg) SaveStrategyConfig(ctx context.Context, cfg models.StrategyConfig) (out models.StrategyConfig, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveStrategyConfig: %w", err)
		}
	}()

	data, err := encodeParams(cfg)
	if err != nil {
		return models.StrategyConfig{}, err
	}

	err = p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		id, created, updated, err := p.sql.Insert(ctxTx, tx, &sql.InsertParams{
			UserID:        cfg.UserID,
			AccountID:     cfg.AccountID,
			StrategyType:  cfg.StrategyType,
			ConnectorName: cfg.ConnectorName,
			TradingPair:   cfg.TradingPair,
			Timeframe:     cfg.Timeframe,
			Params:        data,
			Status:        string(cfg.Status),
		})
		if err != nil {
			return err
		}
		cfg.RecordID, cfg.CreatedAt, cfg.UpdatedAt = id, created, updated
		return nil
	})
	if err != nil {
		return models.StrategyConfig{}, err
	}
	return cfg, nil
}

func (p *Pg) UpdateStrategyConfig(ctx context.Context, cfg models.StrategyConfig) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.UpdateStrategyConfig: %w", err)
		}
	}()

	data, err := encodeParams(cfg)
	if err != nil {
		return err
	}
	var strategyID *string
	if cfg.ID != "" {
		strategyID = &cfg.ID
	}

	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		n, err := p.sql.Update(ctxTx, tx, &sql.UpdateParams{
			ID:         cfg.RecordID,
			StrategyID: strategyID,
			Params:     data,
			Status:     string(cfg.Status),
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("record %d: %w", cfg.RecordID, ErrNotFound)
		}
		return nil
	})
}

func (p *Pg) GetStrategyConfig(ctx context.Context, strategyID string) (cfg models.StrategyConfig, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.GetStrategyConfig: %w", err)
		}
	}()

	err = p.db.RunReadOnly(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		row, err := p.sql.GetByStrategyID(ctxTx, tx, strategyID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("strategy %s: %w", strategyID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		cfg, err = fromRow(row)
		return err
	})
	return cfg, err
}

func (p *Pg) ListStrategyConfigs(ctx context.Context, userID string) (out []models.StrategyConfig, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ListStrategyConfigs: %w", err)
		}
	}()

	err = p.db.RunReadOnly(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, err := p.sql.ListByUser(ctxTx, tx, userID)
		if err != nil {
			return err
		}
		for _, r := range rows {
			cfg, err := fromRow(r)
			if err != nil {
				return err
			}
			out = append(out, cfg)
		}
		return nil
	})
	return out, err
}

func encodeParams(cfg models.StrategyConfig) ([]byte, error) {
	return sonic.Marshal(params{
		FastEMA:         cfg.FastEMA,
		SlowEMA:         cfg.SlowEMA,
		ATRPeriod:       cfg.ATRPeriod,
		ATRThreshold:    cfg.ATRThreshold,
		RiskPctPerTrade: cfg.RiskPctPerTrade,
	})
}

func fromRow(r sql.Row) (models.StrategyConfig, error) {
	var p params
	if len(r.Params) > 0 {
		if err := sonic.Unmarshal(r.Params, &p); err != nil {
			return models.StrategyConfig{}, fmt.Errorf("decode params of %d: %w", r.ID, err)
		}
	}
	cfg := models.StrategyConfig{
		RecordID:        r.ID,
		UserID:          r.UserID,
		AccountID:       r.AccountID,
		StrategyType:    r.StrategyType,
		ConnectorName:   r.ConnectorName,
		TradingPair:     r.TradingPair,
		Timeframe:       r.Timeframe,
		FastEMA:         p.FastEMA,
		SlowEMA:         p.SlowEMA,
		ATRPeriod:       p.ATRPeriod,
		ATRThreshold:    p.ATRThreshold,
		RiskPctPerTrade: p.RiskPctPerTrade,
		Status:          models.StrategyStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.StrategyID != nil {
		cfg.ID = *r.StrategyID
	}
	return cfg, nil
}
