package models

import (
	"fmt"
	"strings"
	"time"
)

// Candle is one closed OHLC bar.
type Candle struct {
	Symbol    string
	Timeframe string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp int64 // unix ms of the bar start
}

// MarketPair is one (symbol, timeframe) the market data service follows.
type MarketPair struct {
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`
}

func (p MarketPair) Topic() string { return MarketDataTopic(p.Symbol, p.Timeframe) }

// MarketDataTopic is the bus key for derived market data: md.<symbol>.<timeframe>.
func MarketDataTopic(symbol, timeframe string) string {
	return fmt.Sprintf("md.%s.%s", symbol, timeframe)
}

// Snapshot is the indicator state published after each candle.
type Snapshot struct {
	Symbol    string
	Timeframe string
	Close     float64
	EMAFast   float64
	EMASlow   float64
	ATR       float64
	Timestamp int64
}

func (s Snapshot) Time() time.Time { return time.UnixMilli(s.Timestamp) }

func (s Snapshot) Payload() Payload {
	return Payload{
		"symbol":    s.Symbol,
		"timeframe": s.Timeframe,
		"close":     s.Close,
		"ema_fast":  s.EMAFast,
		"ema_slow":  s.EMASlow,
		"atr":       s.ATR,
		"timestamp": s.Timestamp,
	}
}

// SnapshotFromPayload reads a market-data payload. Unknown keys are ignored.
func SnapshotFromPayload(p Payload) (Snapshot, bool) {
	var (
		s   Snapshot
		ok  bool
		all = true
	)
	s.Symbol, ok = p.String("symbol")
	all = all && ok
	s.Timeframe, ok = p.String("timeframe")
	all = all && ok
	s.Close, ok = p.Float("close")
	all = all && ok
	s.EMAFast, ok = p.Float("ema_fast")
	all = all && ok
	s.EMASlow, ok = p.Float("ema_slow")
	all = all && ok
	s.ATR, ok = p.Float("atr")
	all = all && ok
	s.Timestamp, ok = p.Int64("timestamp")
	all = all && ok
	return s, all
}

// QuoteAsset guesses the settlement asset of a pair: "BTC-USDT-SWAP" -> "USDT".
// Synthetic perp names ("BTC-PERP") settle in USDT.
func QuoteAsset(pair string) string {
	parts := strings.Split(pair, "-")
	if len(parts) >= 2 {
		switch q := strings.ToUpper(parts[1]); q {
		case "PERP", "SWAP", "":
		default:
			return q
		}
	}
	return "USDT"
}
