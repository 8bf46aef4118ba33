// Package tradingcore is the per-tenant trading runtime: the tenant's
// connectors and the clock driving them.
package tradingcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strategy_runtime/internal/execution"
	"strategy_runtime/pkg/logger"
)

// ConnectorFactory builds a connector for the given pairs and credentials.
type ConnectorFactory func(name string, pairs []string, tradingRequired bool, apiKeys map[string]string) (execution.Connector, error)

// PairTracker is implemented by connectors that follow a set of pairs.
type PairTracker interface {
	AddTradingPairs(pairs ...string)
}

type Runtime struct {
	factories map[string]ConnectorFactory
	fallback  ConnectorFactory
	interval  time.Duration

	mu         sync.RWMutex
	connectors map[string]execution.Connector
	clock      *Clock
}

type Option func(*Runtime)

// WithFactory registers a factory for one connector name.
func WithFactory(name string, f ConnectorFactory) Option {
	return func(r *Runtime) { r.factories[name] = f }
}

// WithFallback is used for names without a registered factory.
func WithFallback(f ConnectorFactory) Option {
	return func(r *Runtime) { r.fallback = f }
}

func WithTickInterval(d time.Duration) Option {
	return func(r *Runtime) { r.interval = d }
}

func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		factories:  make(map[string]ConnectorFactory),
		connectors: make(map[string]execution.Connector),
		interval:   time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// CreateConnector returns the named connector, creating it on first use. An
// existing connector gets the new pairs merged in.
func (r *Runtime) CreateConnector(ctx context.Context, name string, pairs []string, tradingRequired bool, apiKeys map[string]string) (execution.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.connectors[name]; ok {
		if pt, ok := c.(PairTracker); ok {
			pt.AddTradingPairs(pairs...)
		}
		return c, nil
	}

	f, ok := r.factories[name]
	if !ok {
		f = r.fallback
	}
	if f == nil {
		return nil, fmt.Errorf("no connector factory for %q", name)
	}
	c, err := f(name, pairs, tradingRequired, apiKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector %s: %w", name, err)
	}
	if pt, ok := c.(PairTracker); ok {
		pt.AddTradingPairs(pairs...)
	}
	r.connectors[name] = c

	if it, ok := c.(TimeIterator); ok && r.clock != nil {
		r.clock.Add(it)
	}
	logger.Info("connector %s created, pairs=%v trading=%v", name, pairs, tradingRequired)
	return c, nil
}

func (r *Runtime) Connector(name string) (execution.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	return c, ok
}

func (r *Runtime) Connectors() map[string]execution.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]execution.Connector, len(r.connectors))
	for k, v := range r.connectors {
		out[k] = v
	}
	return out
}

// StartClock is a no-op when the clock already runs.
func (r *Runtime) StartClock(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clock != nil {
		return nil
	}
	r.clock = NewClock(r.interval)
	for _, c := range r.connectors {
		if it, ok := c.(TimeIterator); ok {
			r.clock.Add(it)
		}
	}
	r.clock.start()
	return nil
}

// StopClock is a no-op without a running clock.
func (r *Runtime) StopClock() {
	r.mu.Lock()
	clock := r.clock
	r.clock = nil
	r.mu.Unlock()
	if clock != nil {
		clock.stop()
	}
}

func (r *Runtime) HasClock() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clock != nil
}

// AddIterator attaches it to the running clock, if any.
func (r *Runtime) AddIterator(it TimeIterator) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.clock != nil {
		r.clock.Add(it)
	}
}

func (r *Runtime) RemoveIterator(it TimeIterator) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.clock != nil {
		r.clock.Remove(it)
	}
}
