package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidJob = errors.New("invalid strategy job")

type StrategyStatus string

const (
	StatusPending StrategyStatus = "pending"
	StatusRunning StrategyStatus = "running"
	StatusStopped StrategyStatus = "stopped"
)

const (
	StrategyEMAATR = "ema_atr"

	DefaultATRPeriod = 14
)

// StrategyConfig is the persisted description of one strategy instance.
// RecordID is the store key; ID is the runtime id given by the user engine.
type StrategyConfig struct {
	RecordID int64  `json:"record_id"`
	ID       string `json:"id,omitempty"`

	UserID       string `json:"user_id"`
	AccountID    string `json:"account_id"`
	StrategyType string `json:"strategy_type"`

	ConnectorName string `json:"connector_name"`
	TradingPair   string `json:"trading_pair"`
	Timeframe     string `json:"timeframe"`

	FastEMA         int     `json:"fast_ema"`
	SlowEMA         int     `json:"slow_ema"`
	ATRPeriod       int     `json:"atr_period"`
	ATRThreshold    float64 `json:"atr_threshold"`
	RiskPctPerTrade float64 `json:"risk_pct_per_trade"`

	Status    StrategyStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Topic is the market-data topic the strategy listens to.
func (c StrategyConfig) Topic() string { return MarketDataTopic(c.TradingPair, c.Timeframe) }

// IndicatorPeriods are the EMA and ATR lengths behind a snapshot.
type IndicatorPeriods struct {
	Fast int
	Slow int
	ATR  int
}

func (c StrategyConfig) Periods() IndicatorPeriods {
	return IndicatorPeriods{Fast: c.FastEMA, Slow: c.SlowEMA, ATR: c.ATRPeriod}
}

// StrategyJobSpec is the inbound request to run a strategy.
type StrategyJobSpec struct {
	UserID       string  `json:"user_id"`
	AccountID    string  `json:"account_id"`
	StrategyType string  `json:"strategy_type"`
	Params       Payload `json:"params"`
}

// ToConfig validates the job and turns it into a pending StrategyConfig.
func (j StrategyJobSpec) ToConfig() (StrategyConfig, error) {
	if j.UserID == "" {
		return StrategyConfig{}, fmt.Errorf("%w: user_id is required", ErrInvalidJob)
	}
	if j.StrategyType == "" {
		return StrategyConfig{}, fmt.Errorf("%w: strategy_type is required", ErrInvalidJob)
	}

	cfg := StrategyConfig{
		UserID:       j.UserID,
		AccountID:    j.AccountID,
		StrategyType: j.StrategyType,
		ATRPeriod:    DefaultATRPeriod,
		Status:       StatusPending,
	}

	var ok bool
	for _, f := range []struct {
		key   string
		alias string
		dst   *string
	}{
		{"connector_name", "connector", &cfg.ConnectorName},
		{"trading_pair", "pair", &cfg.TradingPair},
		{"timeframe", "", &cfg.Timeframe},
	} {
		if *f.dst, ok = j.Params.String(f.key); ok {
			continue
		}
		if *f.dst, ok = j.Params.String(f.alias); !ok {
			return StrategyConfig{}, fmt.Errorf("%w: params.%s is required", ErrInvalidJob, f.key)
		}
	}

	fast, ok := j.Params.Float("fast_ema")
	if !ok {
		return StrategyConfig{}, fmt.Errorf("%w: params.fast_ema is required", ErrInvalidJob)
	}
	slow, ok := j.Params.Float("slow_ema")
	if !ok {
		return StrategyConfig{}, fmt.Errorf("%w: params.slow_ema is required", ErrInvalidJob)
	}
	if cfg.ATRThreshold, ok = j.Params.Float("atr_threshold"); !ok {
		return StrategyConfig{}, fmt.Errorf("%w: params.atr_threshold is required", ErrInvalidJob)
	}
	if cfg.RiskPctPerTrade, ok = j.Params.Float("risk_pct_per_trade"); !ok {
		cfg.RiskPctPerTrade, ok = j.Params.Float("risk_pct")
	}
	if !ok {
		return StrategyConfig{}, fmt.Errorf("%w: params.risk_pct_per_trade is required", ErrInvalidJob)
	}
	if atr, ok := j.Params.Float("atr_period"); ok {
		cfg.ATRPeriod = int(atr)
	}
	cfg.FastEMA, cfg.SlowEMA = int(fast), int(slow)

	if cfg.FastEMA <= 0 || cfg.SlowEMA <= 0 || cfg.ATRPeriod <= 0 {
		return StrategyConfig{}, fmt.Errorf("%w: indicator periods must be positive", ErrInvalidJob)
	}
	if cfg.RiskPctPerTrade <= 0 || cfg.RiskPctPerTrade > 1 {
		return StrategyConfig{}, fmt.Errorf("%w: risk_pct_per_trade must be in (0, 1]", ErrInvalidJob)
	}
	if cfg.ATRThreshold < 0 {
		return StrategyConfig{}, fmt.Errorf("%w: atr_threshold must not be negative", ErrInvalidJob)
	}
	return cfg, nil
}
