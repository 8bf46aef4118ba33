// Package okx is the OKX v5 REST connector: market/limit orders, mid price and
// balance, signed with the account API key.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

const defaultBaseURL = "https://www.okx.com"

// API key map entries accepted by New.
const (
	KeyAPIKey     = "api_key"
	KeyAPISecret  = "api_secret"
	KeyPassphrase = "passphrase"
)

type Config struct {
	Name       string
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	Simulated  bool // demo trading header
	TdMode     string
}

type Client struct {
	name      string
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
	simulated bool
	tdMode    string
	http      *http.Client

	mu    sync.RWMutex
	pairs map[string]struct{}

	instMu      sync.Mutex
	instruments map[string]instrument

	now func() time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TdMode == "" {
		cfg.TdMode = "cross"
	}
	if cfg.Name == "" {
		cfg.Name = "okx"
	}
	return &Client{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		passph:    cfg.Passphrase,
		simulated: cfg.Simulated,
		tdMode:    cfg.TdMode,
		http:      &http.Client{Timeout: 10 * time.Second},
		pairs:     make(map[string]struct{}),
		now:       time.Now,

		instruments: make(map[string]instrument),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) AddTradingPairs(pairs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range pairs {
		c.pairs[p] = struct{}{}
	}
}

func (c *Client) TradingPairs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.pairs))
	for p := range c.pairs {
		out = append(out, p)
	}
	return out
}

// generateRequest builds a request signed as OKX expects:
// base64(hmac_sha256(ts + METHOD + path + body)).
func (c *Client) generateRequest(ctx context.Context, method, requestPath string, body []byte) (*http.Request, error) {
	ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(body)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	req.Header.Set("Content-Type", "application/json")
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	return req, nil
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

// do runs req and decodes the standard {code,msg,data} envelope.
func do[T any](c *Client, req *http.Request, op string) ([]T, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s do: %w", op, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%s http %d: %s", op, resp.StatusCode, string(data))
	}

	var r envelope[T]
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s decode: %w; body=%s", op, err, string(data))
	}
	if r.Code != "0" {
		return r.Data, fmt.Errorf("%s error: code=%s msg=%s", op, r.Code, r.Msg)
	}
	return r.Data, nil
}
