package service

import (
	"context"
	"time"

	"strategy_runtime/internal/models"
	marketdata "strategy_runtime/internal/modules/market_data/service"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

type wsFrame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data [][]string `json:"data"`
}

// runTimeframe keeps one websocket for all symbols of timeframe and pushes
// closed candles to out until ctx is done.
func (c *Client) runTimeframe(ctx context.Context, timeframe string, syms []string, out chan<- models.Payload) {
	bar, _ := okxBar(timeframe)
	channel := "candle" + bar

	args := make([]map[string]string, 0, len(syms))
	for _, id := range syms {
		args = append(args, map[string]string{
			"channel": channel,
			"instId":  id,
		})
	}

	for {
		if ctx.Err() != nil {
			return
		}
		c.log.Infow("ws connect", "channel", channel, "symbols", len(syms))
		conn, _, err := c.wsDialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			c.log.Warnw("ws dial error", "channel", channel, "err", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
			c.log.Warnw("ws subscribe error", "channel", channel, "err", err)
			_ = conn.Close()
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		c.setConnected(true)

		c.readLoop(ctx, conn, channel, timeframe, out)
		c.setConnected(false)

		if !c.sleep(ctx) {
			return
		}
	}
}

// readLoop returns when the connection fails or ctx is done; conn is closed on return.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, channel, timeframe string, out chan<- models.Payload) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// OKX drops idle connections (4004) without a ping every <30s
	go func() {
		t := time.NewTicker(c.pingEvery)
		defer t.Stop()
		for {
			select {
			case <-connCtx.Done():
				// unblocks ReadMessage
				_ = conn.Close()
				return
			case <-t.C:
				// the only writer once subscribed
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if connCtx.Err() == nil {
				c.log.Warnw("ws read error", "channel", channel, "err", err)
			}
			return
		}
		if string(msg) == "pong" {
			continue
		}

		var frame wsFrame
		if err := sonic.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Event == "error" {
			c.log.Errorw("ws subscribe rejected", "channel", channel, "code", frame.Code, "msg", frame.Msg)
			continue
		}
		if frame.Arg.Channel != channel || len(frame.Data) == 0 {
			continue
		}

		for _, row := range frame.Data {
			if !confirmed(row) {
				continue
			}
			candle, ok := parseRow(frame.Arg.InstID, timeframe, row)
			if !ok {
				continue
			}
			select {
			case out <- marketdata.CandlePayload(candle):
			case <-connCtx.Done():
				return
			}
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.reconnectGap)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) setConnected(v bool) {
	if c.state != nil {
		c.state.SetWSConnected(v)
	}
}
