package okx

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"strategy_runtime/internal/models"

	"github.com/bytedance/sonic"
)

func (c *Client) Buy(ctx context.Context, pair string, amount float64, orderType models.OrderType, price float64) (string, error) {
	return c.placeOrder(ctx, "buy", pair, amount, orderType, price)
}

func (c *Client) Sell(ctx context.Context, pair string, amount float64, orderType models.OrderType, price float64) (string, error) {
	return c.placeOrder(ctx, "sell", pair, amount, orderType, price)
}

func (c *Client) placeOrder(ctx context.Context, side, pair string, amount float64, orderType models.OrderType, price float64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("placeOrder: size <= 0")
	}
	sz, err := c.orderSize(ctx, pair, amount)
	if err != nil {
		return "", fmt.Errorf("placeOrder: %w", err)
	}

	body := map[string]string{
		"instId":  pair,
		"tdMode":  c.tdMode,
		"side":    side,
		"ordType": "market",
		"sz":      sz,
	}
	if instType(pair) == "SPOT" {
		body["tdMode"] = "cash"
	}
	if orderType == models.OrderLimit {
		if math.IsNaN(price) || price <= 0 {
			return "", fmt.Errorf("placeOrder: limit order needs a price")
		}
		body["ordType"] = "limit"
		body["px"] = formatFloat(price)
	}

	payload, err := sonic.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("placeOrder marshal: %w", err)
	}

	req, err := c.generateRequest(ctx, http.MethodPost, "/api/v5/trade/order", payload)
	if err != nil {
		return "", fmt.Errorf("placeOrder new request: %w", err)
	}

	data, err := do[struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}](c, req, "placeOrder")
	// detailed status comes per order even when code != 0
	if len(data) > 0 && data[0].SCode != "" && data[0].SCode != "0" {
		return "", fmt.Errorf("placeOrder rejected: sCode=%s sMsg=%s", data[0].SCode, data[0].SMsg)
	}
	if err != nil {
		return "", err
	}
	if len(data) == 0 || data[0].OrdID == "" {
		return "", fmt.Errorf("placeOrder: empty ordId")
	}
	return data[0].OrdID, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
