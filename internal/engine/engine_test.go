package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/connector/paper"
	"strategy_runtime/internal/execution"
	"strategy_runtime/internal/models"
	"strategy_runtime/internal/tradingcore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noPrices struct{}

func (noPrices) LastClose(string) (float64, bool) { return 0, false }

func paperRuntime(TenantConfig) TradingRuntime {
	return tradingcore.NewRuntime(
		tradingcore.WithTickInterval(10*time.Millisecond),
		tradingcore.WithFallback(func(name string, _ []string, _ bool, _ map[string]string) (execution.Connector, error) {
			return paper.New(name, noPrices{}, 1000), nil
		}),
	)
}

func strategyConfig() models.StrategyConfig {
	return models.StrategyConfig{
		UserID:          "user-1",
		StrategyType:    models.StrategyEMAATR,
		ConnectorName:   "X",
		TradingPair:     "BTC-PERP",
		Timeframe:       "1m",
		FastEMA:         12,
		SlowEMA:         26,
		ATRPeriod:       14,
		ATRThreshold:    1,
		RiskPctPerTrade: 0.01,
	}
}

func TestUserEngineStartsAndStopsStrategies(t *testing.T) {
	b := bus.NewMemory()
	notes, err := b.Subscribe(context.Background(), models.NotifyTopic)
	require.NoError(t, err)

	e := NewUserEngine(TenantConfig{UserID: "user-1"}, b, paperRuntime, execution.RiskLimits{})
	ctx := context.Background()

	id, err := e.StartEMAATRStrategy(ctx, strategyConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, e.ActiveStrategies())
	assert.True(t, e.Runtime().HasClock())
	assert.Equal(t, 1, b.SubscriberCount("md.BTC-PERP.1m"))

	_, ok := e.Runtime().Connector("X")
	assert.True(t, ok)

	nctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ev, err := notes.Next(nctx)
	require.NoError(t, err)
	assert.Equal(t, models.EventStrategyStarted, ev["kind"])
	assert.Equal(t, id, ev["strategy_id"])

	s, ok := e.Strategy(id)
	require.True(t, ok)

	e.StopStrategy(ctx, "unknown")
	assert.Equal(t, 1, e.ActiveStrategies())

	e.StopStrategy(ctx, id)
	assert.Zero(t, e.ActiveStrategies())
	assert.False(t, s.Running())
	assert.Zero(t, b.SubscriberCount("md.BTC-PERP.1m"))
}

func TestUserEngineStopStopsEverything(t *testing.T) {
	b := bus.NewMemory()
	e := NewUserEngine(TenantConfig{UserID: "user-1"}, b, paperRuntime, execution.RiskLimits{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.StartEMAATRStrategy(ctx, strategyConfig())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, e.ActiveStrategies())
	assert.Len(t, e.StrategyIDs(), 3)

	e.Stop(ctx)
	assert.Zero(t, e.ActiveStrategies())
	assert.False(t, e.Runtime().HasClock())
	assert.Zero(t, b.SubscriberCount("md.BTC-PERP.1m"))

	e.Stop(ctx)
}

func TestUserEngineStartIsIdempotent(t *testing.T) {
	var runtimes atomic.Int32
	e := NewUserEngine(TenantConfig{UserID: "u"}, bus.NewMemory(), func(tc TenantConfig) TradingRuntime {
		runtimes.Add(1)
		return paperRuntime(tc)
	}, execution.RiskLimits{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Start(context.Background()))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, runtimes.Load())
	e.Stop(context.Background())
}

func TestUserEngineRejectsInvalidLimits(t *testing.T) {
	neg := -5.0
	e := NewUserEngine(TenantConfig{UserID: "u"}, bus.NewMemory(), paperRuntime, execution.RiskLimits{MaxNotional: &neg})
	_, err := e.StartEMAATRStrategy(context.Background(), strategyConfig())
	assert.ErrorIs(t, err, execution.ErrInvalidLimits)
	assert.Zero(t, e.ActiveStrategies())
	e.Stop(context.Background())
}

func TestRegistryCreatesOneEnginePerTenant(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	resolver := func(ctx context.Context, tenantID string) (TenantConfig, error) {
		calls.Add(1)
		<-release
		return TenantConfig{UserID: tenantID}, nil
	}
	b := bus.NewMemory()
	reg := NewRegistry(resolver, func(tc TenantConfig) *UserEngine {
		return NewUserEngine(tc, b, paperRuntime, execution.RiskLimits{})
	})

	const callers = 2
	results := make([]*UserEngine, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := reg.GetOrStart(context.Background(), "user-1")
			assert.NoError(t, err)
			results[i] = e
		}(i)
	}

	// let both callers reach the registry before the resolver returns
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.Same(t, results[0], results[1])
	assert.Len(t, reg.Engines(), 1)

	again, err := reg.GetOrStart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Same(t, results[0], again)
	assert.EqualValues(t, 1, calls.Load())

	reg.Stop(context.Background())
	assert.Empty(t, reg.Engines())
}

func TestRegistryFlightSurvivesCancelledCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	reg := NewRegistry(func(ctx context.Context, tenantID string) (TenantConfig, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return TenantConfig{}, err
		}
		return TenantConfig{UserID: tenantID}, nil
	}, func(tc TenantConfig) *UserEngine {
		return NewUserEngine(tc, bus.NewMemory(), paperRuntime, execution.RiskLimits{})
	})
	defer reg.Stop(context.Background())

	firstCtx, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := reg.GetOrStart(firstCtx, "user-3")
		firstDone <- err
	}()
	<-started

	secondDone := make(chan error, 1)
	go func() {
		_, err := reg.GetOrStart(context.Background(), "user-3")
		secondDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(release)

	assert.NoError(t, <-secondDone)
	assert.NoError(t, <-firstDone)
	_, ok := reg.Get("user-3")
	assert.True(t, ok)
}

func TestRegistryResolverFailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry(func(context.Context, string) (TenantConfig, error) {
		if calls.Add(1) == 1 {
			return TenantConfig{}, errors.New("db down")
		}
		return TenantConfig{}, nil
	}, func(tc TenantConfig) *UserEngine {
		return NewUserEngine(tc, bus.NewMemory(), paperRuntime, execution.RiskLimits{})
	})

	_, err := reg.GetOrStart(context.Background(), "user-2")
	assert.ErrorContains(t, err, "db down")
	_, ok := reg.Get("user-2")
	assert.False(t, ok)

	e, err := reg.GetOrStart(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, "user-2", e.UserID())
	reg.Stop(context.Background())
}
