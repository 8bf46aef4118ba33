package service

import (
	"context"

	"strategy_runtime/internal/models"
)

// CandleSource is the external candle transport. It owns reconnection:
// an error from Recv is final for that stream.
type CandleSource interface {
	Subscribe(ctx context.Context, pairs []models.MarketPair) (CandleStream, error)
}

type CandleStream interface {
	// Recv returns the next raw message: symbol, timeframe, high, low, close,
	// timestamp (open and volume optional).
	Recv(ctx context.Context) (models.Payload, error)
	Close() error
}

// HistorySource is optionally implemented by a CandleSource to seed indicator
// state with closed candles before streaming starts. Candles come oldest first.
type HistorySource interface {
	History(ctx context.Context, pair models.MarketPair, limit int) ([]models.Candle, error)
}

// ParseCandle reads one raw stream message. ok is false for malformed messages.
func ParseCandle(p models.Payload) (models.Candle, bool) {
	var (
		c  models.Candle
		ok bool
	)
	if c.Symbol, ok = p.String("symbol"); !ok {
		return c, false
	}
	if c.Timeframe, ok = p.String("timeframe"); !ok {
		return c, false
	}
	if c.High, ok = p.Float("high"); !ok {
		return c, false
	}
	if c.Low, ok = p.Float("low"); !ok {
		return c, false
	}
	if c.Close, ok = p.Float("close"); !ok {
		return c, false
	}
	if c.Timestamp, ok = p.Int64("timestamp"); !ok {
		return c, false
	}
	c.Open, _ = p.Float("open")
	c.Volume, _ = p.Float("volume")
	return c, true
}

// CandlePayload is the inverse of ParseCandle, used by sources.
func CandlePayload(c models.Candle) models.Payload {
	return models.Payload{
		"symbol":    c.Symbol,
		"timeframe": c.Timeframe,
		"open":      c.Open,
		"high":      c.High,
		"low":       c.Low,
		"close":     c.Close,
		"volume":    c.Volume,
		"timestamp": c.Timestamp,
	}
}
