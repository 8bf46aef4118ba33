package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"strategy_runtime/internal/bus"
	"strategy_runtime/internal/indicator"
	"strategy_runtime/internal/models"
	"strategy_runtime/pkg/logger"

	"go.uber.org/zap"
)

type Periods struct {
	Fast int
	Slow int
	ATR  int
}

type key struct {
	symbol    string
	timeframe string
}

// MarketDataService turns a candle stream into md.<symbol>.<timeframe> snapshots.
// Indicator states are owned by the Run goroutine only.
type MarketDataService struct {
	source     CandleSource
	bus        bus.Bus
	pairs      []models.MarketPair
	periods    Periods
	warmupBars int
	log        *zap.SugaredLogger

	states map[key]*indicator.State

	mu        sync.RWMutex
	lastClose map[string]float64

	running    atomic.Bool
	lastCandle atomic.Int64 // unix ms
	published  atomic.Int64
}

func NewMarketDataService(source CandleSource, b bus.Bus, pairs []models.MarketPair, periods Periods, warmupBars int) (*MarketDataService, error) {
	// fail at construction, not on the first candle
	if _, err := indicator.NewState(periods.Fast, periods.Slow, periods.ATR); err != nil {
		return nil, err
	}
	return &MarketDataService{
		source:     source,
		bus:        b,
		pairs:      pairs,
		periods:    periods,
		warmupBars: warmupBars,
		log:        logger.Named("market_data"),
		states:     make(map[key]*indicator.State),
		lastClose:  make(map[string]float64),
	}, nil
}

// Run consumes the stream until ctx is done or the transport fails. It does not
// reconnect; a transport error is returned to the caller.
func (s *MarketDataService) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("market data service already running")
	}
	defer s.running.Store(false)

	s.warmup(ctx)

	stream, err := s.source.Subscribe(ctx, s.pairs)
	if err != nil {
		return fmt.Errorf("failed to subscribe candle stream: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			s.log.Warnw("candle stream close failed", "err", cerr)
		}
	}()

	s.log.Infow("market data started", "pairs", len(s.pairs))
	for {
		msg, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return fmt.Errorf("candle stream: %w", err)
		}

		candle, ok := ParseCandle(msg)
		if !ok {
			s.log.Debugw("skipping malformed candle", "msg", msg)
			continue
		}
		if err := s.handle(ctx, candle, true); err != nil {
			return err
		}
	}
}

// handle applies one candle; only publish errors are returned.
func (s *MarketDataService) handle(ctx context.Context, c models.Candle, publish bool) error {
	k := key{symbol: c.Symbol, timeframe: c.Timeframe}
	st, ok := s.states[k]
	if !ok {
		var err error
		st, err = indicator.NewState(s.periods.Fast, s.periods.Slow, s.periods.ATR)
		if err != nil {
			return err
		}
		s.states[k] = st
	}

	if err := st.Update(c.High, c.Low, c.Close, c.Timestamp); err != nil {
		s.log.Debugw("skipping candle", "symbol", c.Symbol, "timeframe", c.Timeframe, "err", err)
		return nil
	}

	s.mu.Lock()
	s.lastClose[c.Symbol] = c.Close
	s.mu.Unlock()
	s.lastCandle.Store(c.Timestamp)

	if !publish || !st.Ready() {
		return nil
	}
	v, _ := st.Snapshot()
	snap := models.Snapshot{
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Close:     v.Close,
		EMAFast:   v.EMAFast,
		EMASlow:   v.EMASlow,
		ATR:       v.ATR,
		Timestamp: v.Timestamp,
	}
	topic := models.MarketDataTopic(c.Symbol, c.Timeframe)
	if err := s.bus.Publish(ctx, topic, snap.Payload()); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	s.published.Add(1)
	return nil
}

// warmup seeds states from history when the source can provide it. Failures
// only cost accuracy, so they are logged.
func (s *MarketDataService) warmup(ctx context.Context) {
	hs, ok := s.source.(HistorySource)
	if !ok || s.warmupBars <= 0 {
		return
	}
	for _, p := range s.pairs {
		candles, err := hs.History(ctx, p, s.warmupBars)
		if err != nil {
			s.log.Warnw("warmup failed", "symbol", p.Symbol, "timeframe", p.Timeframe, "err", err)
			continue
		}
		for _, c := range candles {
			_ = s.handle(ctx, c, false)
		}
		s.log.Infow("warmup done", "symbol", p.Symbol, "timeframe", p.Timeframe, "candles", len(candles))
	}
}

// LastClose is the most recent close seen for symbol on any timeframe.
func (s *MarketDataService) LastClose(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.lastClose[symbol]
	return v, ok
}

func (s *MarketDataService) Running() bool { return s.running.Load() }

func (s *MarketDataService) LastCandle() time.Time {
	ms := s.lastCandle.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *MarketDataService) Published() int64 { return s.published.Load() }
