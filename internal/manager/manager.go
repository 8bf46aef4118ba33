// Package manager turns strategy jobs into running strategies and keeps their
// records in the store.
package manager

import (
	"context"
	"fmt"

	"strategy_runtime/internal/engine"
	"strategy_runtime/internal/models"
	"strategy_runtime/internal/store"
	"strategy_runtime/pkg/logger"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrUnsupportedStrategy = errors.New("unsupported strategy type")
	// ErrStaleRecord: the strategy is running but its record still says otherwise.
	ErrStaleRecord = errors.New("strategy state changed but record was not updated")
)

// Engines hands out the tenant's engine, starting it on first use.
type Engines interface {
	GetOrStart(ctx context.Context, tenantID string) (*engine.UserEngine, error)
}

type StrategyManager struct {
	store   store.StrategyStore
	engines Engines
	periods *models.IndicatorPeriods
	log     *zap.SugaredLogger
}

type Option func(*StrategyManager)

// WithPeriods pins the indicator periods of the published snapshots. Jobs asking
// for other periods are rejected since no topic would serve them.
func WithPeriods(p models.IndicatorPeriods) Option {
	return func(m *StrategyManager) { m.periods = &p }
}

func New(st store.StrategyStore, engines Engines, opts ...Option) *StrategyManager {
	m := &StrategyManager{
		store:   st,
		engines: engines,
		log:     logger.Named("manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *StrategyManager) checkPeriods(cfg models.StrategyConfig) error {
	if m.periods == nil {
		return nil
	}
	if got := cfg.Periods(); got != *m.periods {
		return fmt.Errorf("%w: periods %d/%d/%d not served, market data runs fast_ema=%d slow_ema=%d atr_period=%d",
			models.ErrInvalidJob, got.Fast, got.Slow, got.ATR, m.periods.Fast, m.periods.Slow, m.periods.ATR)
	}
	return nil
}

// CreateAndStart validates job, records it as pending, starts it on the
// tenant's engine and records it as running.
//
// If the final update fails the strategy keeps running: the returned config is
// the running one and the error wraps ErrStaleRecord.
func (m *StrategyManager) CreateAndStart(ctx context.Context, job models.StrategyJobSpec) (models.StrategyConfig, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "manager.CreateAndStart")
	defer span.Finish()
	span.SetTag("user_id", job.UserID)
	span.SetTag("strategy_type", job.StrategyType)

	cfg, err := job.ToConfig()
	if err != nil {
		return models.StrategyConfig{}, err
	}
	if cfg.StrategyType != models.StrategyEMAATR {
		return models.StrategyConfig{}, errors.Wrapf(ErrUnsupportedStrategy, "%q", cfg.StrategyType)
	}
	if err := m.checkPeriods(cfg); err != nil {
		return models.StrategyConfig{}, err
	}

	cfg, err = m.store.SaveStrategyConfig(ctx, cfg)
	if err != nil {
		return models.StrategyConfig{}, fmt.Errorf("failed to save pending strategy: %w", err)
	}

	eng, err := m.engines.GetOrStart(ctx, cfg.UserID)
	if err != nil {
		return cfg, fmt.Errorf("failed to get engine for %s: %w", cfg.UserID, err)
	}

	id, err := eng.StartEMAATRStrategy(ctx, cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to start strategy: %w", err)
	}
	cfg.ID = id
	cfg.Status = models.StatusRunning
	span.SetTag("strategy_id", id)

	if err := m.store.UpdateStrategyConfig(ctx, cfg); err != nil {
		span.SetTag("error", true)
		m.log.Errorw("strategy running with stale record", "strategy_id", id, "record_id", cfg.RecordID, "err", err)
		return cfg, fmt.Errorf("%w: %w", ErrStaleRecord, err)
	}

	m.log.Infow("strategy created", "strategy_id", id, "user_id", cfg.UserID, "pair", cfg.TradingPair)
	return cfg, nil
}

// Stop stops the strategy on its tenant's engine and records it as stopped.
func (m *StrategyManager) Stop(ctx context.Context, strategyID string) (models.StrategyConfig, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "manager.Stop")
	defer span.Finish()
	span.SetTag("strategy_id", strategyID)

	cfg, err := m.store.GetStrategyConfig(ctx, strategyID)
	if err != nil {
		return models.StrategyConfig{}, err
	}

	eng, err := m.engines.GetOrStart(ctx, cfg.UserID)
	if err != nil {
		return cfg, fmt.Errorf("failed to get engine for %s: %w", cfg.UserID, err)
	}
	eng.StopStrategy(ctx, strategyID)

	cfg.Status = models.StatusStopped
	if err := m.store.UpdateStrategyConfig(ctx, cfg); err != nil {
		m.log.Errorw("strategy stopped with stale record", "strategy_id", strategyID, "err", err)
		return cfg, fmt.Errorf("%w: %w", ErrStaleRecord, err)
	}

	m.log.Infow("strategy stopped", "strategy_id", strategyID, "user_id", cfg.UserID)
	return cfg, nil
}

func (m *StrategyManager) Get(ctx context.Context, strategyID string) (models.StrategyConfig, error) {
	return m.store.GetStrategyConfig(ctx, strategyID)
}

func (m *StrategyManager) List(ctx context.Context, userID string) ([]models.StrategyConfig, error) {
	return m.store.ListStrategyConfigs(ctx, userID)
}
