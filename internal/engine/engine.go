// Package engine runs each tenant's strategies on its own trading runtime.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/execution"
	"strategy_runtime/internal/models"
	"strategy_runtime/internal/strategy"
	"strategy_runtime/internal/tradingcore"
	"strategy_runtime/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TradingRuntime is the per-tenant host of connectors and the clock.
type TradingRuntime interface {
	CreateConnector(ctx context.Context, name string, pairs []string, tradingRequired bool, apiKeys map[string]string) (execution.Connector, error)
	Connector(name string) (execution.Connector, bool)
	StartClock(ctx context.Context) error
	StopClock()
	HasClock() bool
}

// iteratorHost is implemented by runtimes whose clock can drive strategies.
type iteratorHost interface {
	AddIterator(it tradingcore.TimeIterator)
	RemoveIterator(it tradingcore.TimeIterator)
}

// TenantConfig is what a Resolver knows about one tenant's connectors.
type TenantConfig struct {
	UserID  string
	APIKeys map[string]map[string]string // connector name -> credentials
}

func (t TenantConfig) KeysFor(connector string) map[string]string {
	return t.APIKeys[connector]
}

type RuntimeFactory func(tenant TenantConfig) TradingRuntime

type UserEngine struct {
	tenant     TenantConfig
	bus        bus.Bus
	newRuntime RuntimeFactory
	limits     execution.RiskLimits
	log        *zap.SugaredLogger

	// mu is held across whole start/stop sequences
	mu         sync.Mutex
	runtime    TradingRuntime
	strategies map[string]strategy.Strategy
}

func NewUserEngine(tenant TenantConfig, b bus.Bus, newRuntime RuntimeFactory, limits execution.RiskLimits) *UserEngine {
	return &UserEngine{
		tenant:     tenant,
		bus:        b,
		newRuntime: newRuntime,
		limits:     limits,
		log:        logger.Named("engine").With("user_id", tenant.UserID),
		strategies: make(map[string]strategy.Strategy),
	}
}

func (e *UserEngine) UserID() string { return e.tenant.UserID }

// Start creates the runtime on first call and starts its clock. Idempotent.
func (e *UserEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked(ctx)
}

func (e *UserEngine) startLocked(ctx context.Context) error {
	if e.runtime == nil {
		e.runtime = e.newRuntime(e.tenant)
	}
	if !e.runtime.HasClock() {
		if err := e.runtime.StartClock(ctx); err != nil {
			return fmt.Errorf("failed to start clock: %w", err)
		}
		e.log.Infow("engine started")
	}
	return nil
}

// StartEMAATRStrategy starts one EMA/ATR strategy and returns its new id.
func (e *UserEngine) StartEMAATRStrategy(ctx context.Context, cfg models.StrategyConfig) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.startLocked(ctx); err != nil {
		return "", err
	}

	conn, err := e.runtime.CreateConnector(ctx, cfg.ConnectorName, []string{cfg.TradingPair}, true, e.tenant.KeysFor(cfg.ConnectorName))
	if err != nil {
		return "", err
	}
	exec, err := execution.NewService(conn, e.limits)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	s := strategy.NewEMAATR(strategy.EMAATRConfigFrom(id, cfg), e.bus, exec)
	if err := s.StartEventDriven(ctx); err != nil {
		return "", err
	}
	e.strategies[id] = s
	if host, ok := e.runtime.(iteratorHost); ok {
		host.AddIterator(s)
	}

	e.log.Infow("strategy started", "strategy_id", id, "pair", cfg.TradingPair, "timeframe", cfg.Timeframe)
	e.notify(ctx, models.EventStrategyStarted, id,
		fmt.Sprintf("strategy %s started on %s %s %s", id, cfg.ConnectorName, cfg.TradingPair, cfg.Timeframe))
	return id, nil
}

// StopStrategy stops and forgets id. Unknown ids are a no-op.
func (e *UserEngine) StopStrategy(ctx context.Context, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strategies[id]
	if !ok {
		return
	}
	delete(e.strategies, id)
	e.stopOne(id, s)
	e.notify(ctx, models.EventStrategyStopped, id, fmt.Sprintf("strategy %s stopped", id))
}

func (e *UserEngine) stopOne(id string, s strategy.Strategy) {
	if host, ok := e.runtime.(iteratorHost); ok {
		if it, ok := s.(tradingcore.TimeIterator); ok {
			host.RemoveIterator(it)
		}
	}
	s.StopEventDriven()
	e.log.Infow("strategy stopped", "strategy_id", id)
}

// Stop stops every strategy, then the runtime clock.
func (e *UserEngine) Stop(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, s := range e.strategies {
		e.stopOne(id, s)
		delete(e.strategies, id)
	}
	if e.runtime != nil && e.runtime.HasClock() {
		e.runtime.StopClock()
		e.log.Infow("engine stopped")
	}
}

func (e *UserEngine) ActiveStrategies() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.strategies)
}

func (e *UserEngine) StrategyIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.strategies))
	for id := range e.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *UserEngine) Strategy(id string) (strategy.Strategy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.strategies[id]
	return s, ok
}

// Runtime is nil until the first Start.
func (e *UserEngine) Runtime() TradingRuntime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtime
}

func (e *UserEngine) notify(ctx context.Context, kind, strategyID, text string) {
	if err := e.bus.Publish(ctx, models.NotifyTopic, models.NotifyEvent(kind, e.tenant.UserID, strategyID, text)); err != nil {
		e.log.Warnw("notify publish failed", "err", err)
	}
}
