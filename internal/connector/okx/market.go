package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// MidPrice is (best bid + best ask) / 2 from the public ticker.
func (c *Client) MidPrice(ctx context.Context, pair string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v5/market/ticker?instId="+url.QueryEscape(pair), nil)
	if err != nil {
		return 0, err
	}
	data, err := do[struct {
		BidPx string `json:"bidPx"`
		AskPx string `json:"askPx"`
		Last  string `json:"last"`
	}](c, req, "ticker")
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("ticker %s: empty", pair)
	}

	bid, err1 := strconv.ParseFloat(data[0].BidPx, 64)
	ask, err2 := strconv.ParseFloat(data[0].AskPx, 64)
	if err1 == nil && err2 == nil && bid > 0 && ask > 0 {
		return (bid + ask) / 2, nil
	}
	last, err := strconv.ParseFloat(data[0].Last, 64)
	if err != nil || last <= 0 {
		return 0, fmt.Errorf("ticker %s: no usable price", pair)
	}
	return last, nil
}

// AvailableBalance is the available equity of asset on the trading account.
func (c *Client) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	req, err := c.generateRequest(ctx, http.MethodGet, "/api/v5/account/balance?ccy="+url.QueryEscape(asset), nil)
	if err != nil {
		return 0, err
	}
	data, err := do[struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailEq  string `json:"availEq"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}](c, req, "balance")
	if err != nil {
		return 0, err
	}
	for _, acc := range data {
		for _, d := range acc.Details {
			if d.Ccy != asset {
				continue
			}
			v := d.AvailEq
			if v == "" {
				v = d.AvailBal
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, fmt.Errorf("balance %s: %w", asset, err)
			}
			return f, nil
		}
	}
	return 0, nil
}
