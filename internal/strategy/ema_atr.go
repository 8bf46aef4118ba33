package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/models"
)

// Executor submits orders for a strategy and reports the equity it may risk.
type Executor interface {
	PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error)
	Equity(ctx context.Context, pair string) (float64, error)
}

type EMAATRConfig struct {
	StrategyID      string
	UserID          string
	ConnectorName   string
	TradingPair     string
	Timeframe       string
	FastEMA         int
	SlowEMA         int
	ATRPeriod       int
	ATRThreshold    float64
	RiskPctPerTrade float64
	Heartbeat       time.Duration
}

// EMAATRConfigFrom builds the strategy config from a stored StrategyConfig.
func EMAATRConfigFrom(id string, c models.StrategyConfig) EMAATRConfig {
	return EMAATRConfig{
		StrategyID:      id,
		UserID:          c.UserID,
		ConnectorName:   c.ConnectorName,
		TradingPair:     c.TradingPair,
		Timeframe:       c.Timeframe,
		FastEMA:         c.FastEMA,
		SlowEMA:         c.SlowEMA,
		ATRPeriod:       c.ATRPeriod,
		ATRThreshold:    c.ATRThreshold,
		RiskPctPerTrade: c.RiskPctPerTrade,
		Heartbeat:       time.Minute,
	}
}

// EMAATR trades fast/slow EMA crosses of md.<pair>.<timeframe> snapshots:
// it opens in the cross direction when ATR >= threshold, sized so one ATR of
// adverse move costs RiskPctPerTrade of equity, and closes on the reverse cross.
type EMAATR struct {
	*Base

	cfg  EMAATRConfig
	bus  bus.Bus
	exec Executor

	mu       sync.Mutex
	prevDiff float64
	position models.Side
	size     float64
	last     models.Snapshot
	orders   int
}

func NewEMAATR(cfg EMAATRConfig, b bus.Bus, exec Executor) *EMAATR {
	s := &EMAATR{cfg: cfg, bus: b, exec: exec}
	s.Base = NewBase(fmt.Sprintf("%s:%s:%s", models.StrategyEMAATR, cfg.TradingPair, cfg.Timeframe), s.startLoops)
	return s
}

func (s *EMAATR) Config() EMAATRConfig { return s.cfg }

func (s *EMAATR) startLoops(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, models.MarketDataTopic(s.cfg.TradingPair, s.cfg.Timeframe))
	if err != nil {
		return err
	}
	s.TrackSubscription(sub)
	s.SpawnTask("market_data", func(ctx context.Context) error { return s.consume(ctx, sub) })
	if s.cfg.Heartbeat > 0 {
		s.SpawnTask("heartbeat", s.heartbeat)
	}
	return nil
}

func (s *EMAATR) consume(ctx context.Context, sub bus.Subscription) error {
	for {
		p, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrSubscriptionClosed) {
				return nil
			}
			return err
		}
		snap, ok := models.SnapshotFromPayload(p)
		if !ok {
			s.Log().Debugw("skipping malformed snapshot", "payload", p)
			continue
		}
		s.OnSnapshot(ctx, snap)
	}
}

func (s *EMAATR) heartbeat(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			pos, size, last := s.State()
			s.Log().Infow("heartbeat", "position", pos, "size", size,
				"close", last.Close, "ema_fast", last.EMAFast, "ema_slow", last.EMASlow, "atr", last.ATR)
		}
	}
}

// OnSnapshot evaluates one snapshot. Called from the consume task only.
func (s *EMAATR) OnSnapshot(ctx context.Context, snap models.Snapshot) {
	s.mu.Lock()
	prev := s.prevDiff
	diff := snap.EMAFast - snap.EMASlow
	s.prevDiff = diff
	s.last = snap
	pos, size := s.position, s.size
	s.mu.Unlock()

	var dir models.Side
	switch {
	case prev < 0 && diff > 0:
		dir = models.SideBuy
	case prev > 0 && diff < 0:
		dir = models.SideSell
	default:
		return
	}

	if pos != models.SideNone && pos != dir {
		if _, err := s.submit(ctx, opposite(pos), models.ActionClose, size, snap.Close); err != nil {
			return
		}
		s.setPosition(models.SideNone, 0)
		pos = models.SideNone
	}
	if pos != models.SideNone {
		return
	}

	if snap.ATR < s.cfg.ATRThreshold || snap.ATR <= 0 {
		s.Log().Debugw("cross ignored, atr below threshold", "atr", snap.ATR, "threshold", s.cfg.ATRThreshold)
		return
	}
	equity, err := s.exec.Equity(ctx, s.cfg.TradingPair)
	if err != nil {
		s.Log().Warnw("equity unavailable", "err", err)
		return
	}
	amount := s.cfg.RiskPctPerTrade * equity / snap.ATR
	if amount <= 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
		return
	}
	if _, err := s.submit(ctx, dir, models.ActionOpen, amount, snap.Close); err != nil {
		return
	}
	s.setPosition(dir, amount)
}

func (s *EMAATR) submit(ctx context.Context, side models.Side, action models.PositionAction, amount, ref float64) (string, error) {
	intent := models.OrderIntent{
		ConnectorName: s.cfg.ConnectorName,
		TradingPair:   s.cfg.TradingPair,
		Side:          side,
		Action:        action,
		OrderType:     models.OrderMarket,
		Amount:        amount,
	}
	id, err := s.exec.PlaceOrder(ctx, intent)
	if err != nil {
		s.Log().Warnw("order rejected", "side", side, "action", action, "amount", amount, "err", err)
		s.notify(ctx, models.EventOrderRejected, fmt.Sprintf("%s %s %s %.6f rejected: %v", action, side, s.cfg.TradingPair, amount, err))
		return "", err
	}

	s.mu.Lock()
	s.orders++
	s.mu.Unlock()
	s.Log().Infow("order placed", "id", id, "side", side, "action", action, "amount", amount, "ref_price", ref)
	s.notify(ctx, models.EventOrderPlaced, fmt.Sprintf("%s %s %s %.6f @~%.4f", action, side, s.cfg.TradingPair, amount, ref))
	return id, nil
}

func (s *EMAATR) notify(ctx context.Context, kind, text string) {
	if err := s.bus.Publish(ctx, models.NotifyTopic, models.NotifyEvent(kind, s.cfg.UserID, s.cfg.StrategyID, text)); err != nil {
		s.Log().Warnw("notify publish failed", "err", err)
	}
}

func (s *EMAATR) setPosition(side models.Side, size float64) {
	s.mu.Lock()
	s.position, s.size = side, size
	s.mu.Unlock()
}

// State returns the current position and the last snapshot seen.
func (s *EMAATR) State() (models.Side, float64, models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, s.size, s.last
}

func (s *EMAATR) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders
}

func opposite(side models.Side) models.Side {
	if side == models.SideBuy {
		return models.SideSell
	}
	return models.SideBuy
}
