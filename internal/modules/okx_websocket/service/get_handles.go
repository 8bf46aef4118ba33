package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"strategy_runtime/internal/models"

	"github.com/bytedance/sonic"
)

const maxHistoryLimit = 300

// History fetches the latest closed candles of pair, oldest first.
func (c *Client) History(ctx context.Context, pair models.MarketPair, limit int) ([]models.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	bar, err := okxBar(pair.Timeframe)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		c.restURL, url.QueryEscape(pair.Symbol), url.QueryEscape(bar), limit,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(b))
	}

	var r struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := sonic.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	if r.Code != "0" {
		return nil, fmt.Errorf("okx candles error: code=%s msg=%s", r.Code, r.Msg)
	}

	// newest first on the wire; the forming candle is skipped
	out := make([]models.Candle, 0, len(r.Data))
	for i := len(r.Data) - 1; i >= 0; i-- {
		row := r.Data[i]
		if len(row) >= 9 && !confirmed(row) {
			continue
		}
		if c, ok := parseRow(pair.Symbol, pair.Timeframe, row); ok {
			out = append(out, c)
		}
	}
	return out, nil
}
