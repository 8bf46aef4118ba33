package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu      sync.Mutex
	intents []models.OrderIntent
	equity  float64
	reject  error
}

func (r *recordingExecutor) PlaceOrder(_ context.Context, i models.OrderIntent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject != nil {
		return "", r.reject
	}
	r.intents = append(r.intents, i)
	return "ord-1", nil
}

func (r *recordingExecutor) Equity(context.Context, string) (float64, error) { return r.equity, nil }

func (r *recordingExecutor) placed() []models.OrderIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OrderIntent(nil), r.intents...)
}

func testConfig() EMAATRConfig {
	return EMAATRConfig{
		StrategyID:      "s-1",
		UserID:          "user-1",
		ConnectorName:   "paper",
		TradingPair:     "BTC-PERP",
		Timeframe:       "1m",
		FastEMA:         12,
		SlowEMA:         26,
		ATRPeriod:       14,
		ATRThreshold:    1,
		RiskPctPerTrade: 0.01,
	}
}

func snap(fast, slow, atr float64) models.Snapshot {
	return models.Snapshot{Symbol: "BTC-PERP", Timeframe: "1m", Close: 100, EMAFast: fast, EMASlow: slow, ATR: atr, Timestamp: 1}
}

func TestEMAATROpensOnCrossWhenVolatile(t *testing.T) {
	exec := &recordingExecutor{equity: 10000}
	s := NewEMAATR(testConfig(), bus.NewMemory(), exec)
	ctx := context.Background()

	s.OnSnapshot(ctx, snap(99, 100, 2))
	assert.Empty(t, exec.placed(), "no cross on the first snapshot")

	s.OnSnapshot(ctx, snap(101, 100, 2))
	placed := exec.placed()
	require.Len(t, placed, 1)
	assert.Equal(t, models.SideBuy, placed[0].Side)
	assert.Equal(t, models.ActionOpen, placed[0].Action)
	assert.Equal(t, models.OrderMarket, placed[0].OrderType)
	assert.InDelta(t, 0.01*10000/2, placed[0].Amount, 1e-9)

	pos, size, _ := s.State()
	assert.Equal(t, models.SideBuy, pos)
	assert.InDelta(t, 50, size, 1e-9)
}

func TestEMAATRIgnoresCrossBelowThreshold(t *testing.T) {
	exec := &recordingExecutor{equity: 10000}
	s := NewEMAATR(testConfig(), bus.NewMemory(), exec)
	ctx := context.Background()

	s.OnSnapshot(ctx, snap(99, 100, 0.5))
	s.OnSnapshot(ctx, snap(101, 100, 0.5))
	assert.Empty(t, exec.placed())
}

func TestEMAATRReverseCrossClosesThenFlips(t *testing.T) {
	exec := &recordingExecutor{equity: 10000}
	s := NewEMAATR(testConfig(), bus.NewMemory(), exec)
	ctx := context.Background()

	s.OnSnapshot(ctx, snap(99, 100, 2))
	s.OnSnapshot(ctx, snap(101, 100, 2))
	s.OnSnapshot(ctx, snap(99, 100, 4))

	placed := exec.placed()
	require.Len(t, placed, 3)
	assert.Equal(t, models.SideSell, placed[1].Side)
	assert.Equal(t, models.ActionClose, placed[1].Action)
	assert.InDelta(t, 50, placed[1].Amount, 1e-9)
	assert.Equal(t, models.SideSell, placed[2].Side)
	assert.Equal(t, models.ActionOpen, placed[2].Action)
	assert.InDelta(t, 25, placed[2].Amount, 1e-9)
}

func TestEMAATRRejectedOrderKeepsFlatAndNotifies(t *testing.T) {
	b := bus.NewMemory()
	notes, err := b.Subscribe(context.Background(), models.NotifyTopic)
	require.NoError(t, err)

	exec := &recordingExecutor{equity: 10000, reject: errors.New("max notional exceeded")}
	s := NewEMAATR(testConfig(), b, exec)
	ctx := context.Background()

	s.OnSnapshot(ctx, snap(99, 100, 2))
	s.OnSnapshot(ctx, snap(101, 100, 2))

	pos, _, _ := s.State()
	assert.Equal(t, models.SideNone, pos)

	nctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ev, err := notes.Next(nctx)
	require.NoError(t, err)
	assert.Equal(t, models.EventOrderRejected, ev["kind"])
	assert.Equal(t, "user-1", ev["user_id"])
	assert.Equal(t, "s-1", ev["strategy_id"])
}

func TestEMAATRConsumesMarketDataTopic(t *testing.T) {
	b := bus.NewMemory()
	exec := &recordingExecutor{equity: 1000}
	s := NewEMAATR(testConfig(), b, exec)

	require.NoError(t, s.StartEventDriven(context.Background()))
	assert.Equal(t, 1, s.SubscriptionCount())
	assert.Equal(t, 1, b.SubscriberCount("md.BTC-PERP.1m"))

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "md.BTC-PERP.1m", snap(99, 100, 2).Payload()))
	require.NoError(t, b.Publish(ctx, "md.BTC-PERP.1m", models.Payload{"junk": true}))
	require.NoError(t, b.Publish(ctx, "md.BTC-PERP.1m", snap(101, 100, 2).Payload()))

	require.Eventually(t, func() bool { return len(exec.placed()) == 1 }, time.Second, 5*time.Millisecond)

	s.StopEventDriven()
	assert.Zero(t, b.SubscriberCount("md.BTC-PERP.1m"))
	assert.False(t, s.Running())
}

func TestEMAATRConfigFrom(t *testing.T) {
	cfg := EMAATRConfigFrom("id-1", models.StrategyConfig{
		UserID: "u", ConnectorName: "X", TradingPair: "BTC-PERP", Timeframe: "1m",
		FastEMA: 12, SlowEMA: 26, ATRPeriod: 14, ATRThreshold: 1, RiskPctPerTrade: 0.01,
	})
	assert.Equal(t, "id-1", cfg.StrategyID)
	assert.Equal(t, "X", cfg.ConnectorName)
	assert.Equal(t, 26, cfg.SlowEMA)
	assert.Equal(t, time.Minute, cfg.Heartbeat)
}
