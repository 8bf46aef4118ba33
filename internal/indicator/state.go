// Package indicator keeps the rolling EMA/ATR state for one (symbol, timeframe).
package indicator

import (
	"math"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPeriod = errors.New("indicator period must be positive")
	ErrInvalidCandle = errors.New("invalid candle")
)

// Values is what Snapshot reports once the state has seen a candle.
type Values struct {
	EMAFast   float64
	EMASlow   float64
	ATR       float64
	Close     float64
	Timestamp int64
}

// State is not safe for concurrent use: one writer per key.
type State struct {
	fastPeriod int
	slowPeriod int
	atrPeriod  int

	fast ema
	slow ema
	atr  wilder

	lastClose     float64
	lastHigh      float64
	lastLow       float64
	lastTimestamp int64
	hasPrev       bool
}

func NewState(fastPeriod, slowPeriod, atrPeriod int) (*State, error) {
	if fastPeriod <= 0 {
		return nil, errors.Wrapf(ErrInvalidPeriod, "fast=%d", fastPeriod)
	}
	if slowPeriod <= 0 {
		return nil, errors.Wrapf(ErrInvalidPeriod, "slow=%d", slowPeriod)
	}
	if atrPeriod <= 0 {
		return nil, errors.Wrapf(ErrInvalidPeriod, "atr=%d", atrPeriod)
	}
	return &State{
		fastPeriod: fastPeriod,
		slowPeriod: slowPeriod,
		atrPeriod:  atrPeriod,
		fast:       newEMA(fastPeriod),
		slow:       newEMA(slowPeriod),
		atr:        newWilder(atrPeriod),
	}, nil
}

func (s *State) Update(high, low, close float64, timestamp int64) error {
	if math.IsNaN(high) || math.IsNaN(low) || math.IsNaN(close) {
		return errors.Wrap(ErrInvalidCandle, "NaN price")
	}
	if high < low {
		return errors.Wrapf(ErrInvalidCandle, "high %v < low %v", high, low)
	}

	tr := high - low
	if s.hasPrev {
		tr = math.Max(tr, math.Max(math.Abs(high-s.lastClose), math.Abs(low-s.lastClose)))
	}

	s.fast.update(close)
	s.slow.update(close)
	s.atr.update(tr)

	s.lastClose, s.lastHigh, s.lastLow = close, high, low
	s.lastTimestamp = timestamp
	s.hasPrev = true
	return nil
}

// Ready reports whether at least one candle has been applied.
func (s *State) Ready() bool { return s.hasPrev }

func (s *State) Snapshot() (Values, bool) {
	if !s.hasPrev {
		return Values{}, false
	}
	return Values{
		EMAFast:   s.fast.value,
		EMASlow:   s.slow.value,
		ATR:       s.atr.value,
		Close:     s.lastClose,
		Timestamp: s.lastTimestamp,
	}, true
}

func (s *State) Periods() (fast, slow, atr int) {
	return s.fastPeriod, s.slowPeriod, s.atrPeriod
}
