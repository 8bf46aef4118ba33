package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"strategy_runtime/internal/models"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const btcSwap = `{"code":"0","data":[{"instId":"BTC-USDT-SWAP","state":"live","lotSz":"1","minSz":"1","ctVal":"0.01","ctMult":"1"}]}`

// newTestClient serves BTC-USDT-SWAP metadata and passes everything else to h.
func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v5/public/instruments" {
			assert.Equal(t, "SWAP", r.URL.Query().Get("instType"))
			_, _ = w.Write([]byte(btcSwap))
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Passphrase: "pass", Simulated: true})
	c.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func expectedSign(ts, method, path, body string) string {
	h := hmac.New(sha256.New, []byte("secret"))
	h.Write([]byte(ts + method + path + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func TestMarketBuyIsSigned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/trade/order", r.URL.Path)
		body, _ := io.ReadAll(r.Body)

		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		assert.Equal(t, "2024-01-02T03:04:05.000Z", ts)
		assert.Equal(t, "key", r.Header.Get("OK-ACCESS-KEY"))
		assert.Equal(t, "pass", r.Header.Get("OK-ACCESS-PASSPHRASE"))
		assert.Equal(t, "1", r.Header.Get("x-simulated-trading"))
		assert.Equal(t, expectedSign(ts, "POST", "/api/v5/trade/order", string(body)), r.Header.Get("OK-ACCESS-SIGN"))

		var order map[string]string
		require.NoError(t, sonic.Unmarshal(body, &order))
		assert.Equal(t, "buy", order["side"])
		assert.Equal(t, "market", order["ordType"])
		assert.Equal(t, "50", order["sz"], "0.5 BTC is 50 contracts of 0.01")
		assert.Equal(t, "cross", order["tdMode"])
		assert.Empty(t, order["px"])

		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"123","sCode":"0","sMsg":""}]}`))
	})

	id, err := c.Buy(context.Background(), "BTC-USDT-SWAP", 0.5, models.OrderMarket, math.NaN())
	require.NoError(t, err)
	assert.Equal(t, "123", id)
}

func TestLimitSellCarriesPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var order map[string]string
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(body, &order))
		assert.Equal(t, "sell", order["side"])
		assert.Equal(t, "limit", order["ordType"])
		assert.Equal(t, "101.25", order["px"])
		assert.Equal(t, "100", order["sz"])
		_, _ = w.Write([]byte(`{"code":"0","data":[{"ordId":"9","sCode":"0"}]}`))
	})

	id, err := c.Sell(context.Background(), "BTC-USDT-SWAP", 1, models.OrderLimit, 101.25)
	require.NoError(t, err)
	assert.Equal(t, "9", id)

	_, err = c.Sell(context.Background(), "BTC-USDT-SWAP", 1, models.OrderLimit, math.NaN())
	assert.Error(t, err)
}

func TestRejectedOrderSurfacesSCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"1","msg":"All operations failed","data":[{"ordId":"","sCode":"51008","sMsg":"Insufficient balance"}]}`))
	})
	_, err := c.Buy(context.Background(), "BTC-USDT-SWAP", 1, models.OrderMarket, math.NaN())
	assert.ErrorContains(t, err, "51008")
}

func TestMidPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/ticker", r.URL.Path)
		assert.Equal(t, "ETH-USDT-SWAP", r.URL.Query().Get("instId"))
		_, _ = w.Write([]byte(`{"code":"0","data":[{"bidPx":"99","askPx":"101","last":"100.5"}]}`))
	})
	mid, err := c.MidPrice(context.Background(), "ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, 100.0, mid)
}

func TestAvailableBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/account/balance", r.URL.Path)
		ts := r.Header.Get("OK-ACCESS-TIMESTAMP")
		assert.Equal(t, expectedSign(ts, "GET", "/api/v5/account/balance?ccy=USDT", ""), r.Header.Get("OK-ACCESS-SIGN"))
		_, _ = w.Write([]byte(`{"code":"0","data":[{"details":[{"ccy":"BTC","availEq":"1"},{"ccy":"USDT","availEq":"2500.5"}]}]}`))
	})
	bal, err := c.AvailableBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 2500.5, bal)
}

func TestTradingPairsMerge(t *testing.T) {
	c := New(Config{})
	c.AddTradingPairs("A", "B")
	c.AddTradingPairs("B", "C")
	assert.ElementsMatch(t, []string{"A", "B", "C"}, c.TradingPairs())
	assert.Equal(t, "okx", c.Name())
}

func TestOrderSizeRoundsToLots(t *testing.T) {
	var orders int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		orders++
		var order map[string]string
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(body, &order))
		assert.Equal(t, "12", order["sz"])
		_, _ = w.Write([]byte(`{"code":"0","data":[{"ordId":"1","sCode":"0"}]}`))
	})

	_, err := c.Buy(context.Background(), "BTC-USDT-SWAP", 0.129, models.OrderMarket, math.NaN())
	require.NoError(t, err)

	_, err = c.Buy(context.Background(), "BTC-USDT-SWAP", 0.004, models.OrderMarket, math.NaN())
	assert.ErrorIs(t, err, ErrBelowMinSize)
	assert.Equal(t, 1, orders, "nothing is sent below the minimum")
}

func TestDecimals(t *testing.T) {
	assert.Equal(t, 0, decimals(1))
	assert.Equal(t, 2, decimals(0.01))
	assert.Equal(t, 8, decimals(0.00000001))
}
