package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"strategy_runtime/internal/models"
	"strategy_runtime/internal/modules/config"
	marketdata "strategy_runtime/internal/modules/market_data/service"
	"strategy_runtime/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrStreamClosed = errors.New("candle stream closed")

// ConnState receives connection up/down transitions (health state).
type ConnState interface {
	SetWSConnected(v bool)
}

type Client struct {
	wsURL   string
	restURL string

	http     *http.Client
	wsDialer *websocket.Dialer
	state    ConnState
	log      *zap.SugaredLogger

	pingEvery    time.Duration
	reconnectGap time.Duration
}

var (
	_ marketdata.CandleSource  = (*Client)(nil)
	_ marketdata.HistorySource = (*Client)(nil)
)

func NewClient(cfg *config.Config, state ConnState) *Client {
	return &Client{
		wsURL:        cfg.OKX.WSURL,
		restURL:      cfg.OKX.RestURL,
		wsDialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		http:         &http.Client{Timeout: 10 * time.Second},
		state:        state,
		log:          logger.Named("okx_websocket"),
		pingEvery:    20 * time.Second,
		reconnectGap: time.Second,
	}
}

// Subscribe opens one websocket per timeframe with every symbol of that
// timeframe in the subscribe args. Connections are re-dialled until ctx is done
// or the stream is closed.
func (c *Client) Subscribe(ctx context.Context, pairs []models.MarketPair) (marketdata.CandleStream, error) {
	byTF := make(map[string][]string)
	for _, p := range pairs {
		byTF[p.Timeframe] = append(byTF[p.Timeframe], p.Symbol)
	}
	for tf := range byTF {
		if _, err := okxBar(tf); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &candleStream{
		out:    make(chan models.Payload, 1024),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	for tf, syms := range byTF {
		s.wg.Add(1)
		go func(tf string, syms []string) {
			defer s.wg.Done()
			c.runTimeframe(ctx, tf, syms, s.out)
		}(tf, syms)
	}
	return s, nil
}

type candleStream struct {
	out       chan models.Payload
	done      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *candleStream) Recv(ctx context.Context) (models.Payload, error) {
	select {
	case m := <-s.out:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrStreamClosed
	}
}

func (s *candleStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		s.wg.Wait()
	})
	return nil
}
