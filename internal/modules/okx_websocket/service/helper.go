package service

import (
	"fmt"
	"strconv"
	"strings"

	"strategy_runtime/internal/models"
)

// okxBar maps a config timeframe to the OKX bar name ("1h" -> "1H").
func okxBar(tf string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(tf)) {
	case "1m", "3m", "5m", "15m", "30m":
		return strings.ToLower(strings.TrimSpace(tf)), nil
	case "60m", "1h":
		return "1H", nil
	case "2h":
		return "2H", nil
	case "4h":
		return "4H", nil
	case "6h":
		return "6H", nil
	case "12h":
		return "12H", nil
	case "1d":
		return "1D", nil
	case "1w":
		return "1W", nil
	}
	return "", fmt.Errorf("unsupported timeframe for OKX bar: %q", tf)
}

// parseRow reads an OKX candle row: [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
func parseRow(symbol, timeframe string, row []string) (models.Candle, bool) {
	if len(row) < 5 {
		return models.Candle{}, false
	}
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return models.Candle{}, false
	}
	open, err1 := strconv.ParseFloat(row[1], 64)
	high, err2 := strconv.ParseFloat(row[2], 64)
	low, err3 := strconv.ParseFloat(row[3], 64)
	closep, err4 := strconv.ParseFloat(row[4], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || closep <= 0 {
		return models.Candle{}, false
	}
	var vol float64
	if len(row) >= 6 {
		vol, _ = strconv.ParseFloat(row[5], 64)
	}
	return models.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closep,
		Volume:    vol,
		Timestamp: ts,
	}, true
}

// confirmed reports whether the row is a closed candle; confirm is the last column.
func confirmed(row []string) bool {
	return len(row) >= 9 && row[len(row)-1] == "1"
}
