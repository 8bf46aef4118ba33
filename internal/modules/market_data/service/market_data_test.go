package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/indicator"
	"strategy_runtime/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	msgs   chan models.Payload
	errs   chan error
	closed chan struct{}
}

func (f *fakeStream) Recv(ctx context.Context) (models.Payload, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case err := <-f.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeStream) Close() error {
	close(f.closed)
	return nil
}

type fakeSource struct {
	stream  *fakeStream
	history map[models.MarketPair][]models.Candle
}

func newFakeSource() *fakeSource {
	return &fakeSource{stream: &fakeStream{
		msgs:   make(chan models.Payload, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}}
}

func (f *fakeSource) Subscribe(context.Context, []models.MarketPair) (CandleStream, error) {
	return f.stream, nil
}

type historySource struct{ *fakeSource }

func (h historySource) History(_ context.Context, p models.MarketPair, limit int) ([]models.Candle, error) {
	c := h.history[p]
	if len(c) > limit {
		c = c[len(c)-limit:]
	}
	return c, nil
}

var btc1m = models.MarketPair{Symbol: "BTC-PERP", Timeframe: "1m"}

func candleMsg(h, l, c float64, ts int64) models.Payload {
	return CandlePayload(models.Candle{Symbol: "BTC-PERP", Timeframe: "1m", High: h, Low: l, Close: c, Timestamp: ts})
}

func recvSnapshot(t *testing.T, sub bus.Subscription) models.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p, err := sub.Next(ctx)
	require.NoError(t, err)
	s, ok := models.SnapshotFromPayload(p)
	require.True(t, ok)
	return s
}

func TestNewMarketDataServiceValidatesPeriods(t *testing.T) {
	_, err := NewMarketDataService(newFakeSource(), bus.NewMemory(), nil, Periods{Fast: 0, Slow: 4, ATR: 3}, 0)
	assert.ErrorIs(t, err, indicator.ErrInvalidPeriod)
}

func TestRunPublishesSnapshotsAndSkipsMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewMemory()
	sub, err := b.Subscribe(ctx, btc1m.Topic())
	require.NoError(t, err)

	src := newFakeSource()
	svc, err := NewMarketDataService(src, b, []models.MarketPair{btc1m}, Periods{Fast: 2, Slow: 4, ATR: 3}, 0)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	src.stream.msgs <- models.Payload{"symbol": "BTC-PERP", "timeframe": "1m"} // no prices
	src.stream.msgs <- candleMsg(9, 11, 10, 1)                                 // high < low
	src.stream.msgs <- candleMsg(11, 9, 10, 2)
	src.stream.msgs <- candleMsg(12, 10, 11, 3)

	first := recvSnapshot(t, sub)
	assert.Equal(t, models.Snapshot{Symbol: "BTC-PERP", Timeframe: "1m", Close: 10, EMAFast: 10, EMASlow: 10, ATR: 2, Timestamp: 2}, first)

	second := recvSnapshot(t, sub)
	assert.Greater(t, second.EMAFast, 10.0)
	assert.Greater(t, second.ATR, 0.0)
	assert.EqualValues(t, 3, second.Timestamp)

	last, ok := svc.LastClose("BTC-PERP")
	assert.True(t, ok)
	assert.Equal(t, 11.0, last)
	assert.EqualValues(t, 2, svc.Published())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-src.stream.closed
}

func TestRunPropagatesTransportError(t *testing.T) {
	src := newFakeSource()
	svc, err := NewMarketDataService(src, bus.NewMemory(), []models.MarketPair{btc1m}, Periods{Fast: 2, Slow: 4, ATR: 3}, 0)
	require.NoError(t, err)

	boom := errors.New("connection reset")
	src.stream.errs <- boom

	err = svc.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, svc.Running())
}

func TestRunWarmsUpWithoutPublishing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewMemory()
	sub, err := b.Subscribe(ctx, btc1m.Topic())
	require.NoError(t, err)

	src := historySource{newFakeSource()}
	src.history = map[models.MarketPair][]models.Candle{
		btc1m: {
			{Symbol: "BTC-PERP", Timeframe: "1m", High: 11, Low: 9, Close: 10, Timestamp: 1},
			{Symbol: "BTC-PERP", Timeframe: "1m", High: 11, Low: 9, Close: 10, Timestamp: 2},
		},
	}
	svc, err := NewMarketDataService(src, b, []models.MarketPair{btc1m}, Periods{Fast: 2, Slow: 4, ATR: 3}, 10)
	require.NoError(t, err)

	go func() { _ = svc.Run(ctx) }()
	src.stream.msgs <- candleMsg(12, 10, 11, 3)

	snap := recvSnapshot(t, sub)
	assert.EqualValues(t, 3, snap.Timestamp, "history candles are not published")
	// seeded at 10, one step towards 11 with alpha 2/3
	assert.InDelta(t, 10+2.0/3, snap.EMAFast, 1e-12)
}

func TestParseCandle(t *testing.T) {
	c, ok := ParseCandle(models.Payload{
		"symbol": "ETH-PERP", "timeframe": "5m",
		"high": "12.5", "low": 10.0, "close": 11, "timestamp": float64(1700000000000),
		"extra": true,
	})
	require.True(t, ok)
	assert.Equal(t, models.Candle{Symbol: "ETH-PERP", Timeframe: "5m", High: 12.5, Low: 10, Close: 11, Timestamp: 1700000000000}, c)

	_, ok = ParseCandle(models.Payload{"symbol": "ETH-PERP", "timeframe": "5m", "high": 1, "low": 1, "close": 1})
	assert.False(t, ok, "timestamp required")
}
