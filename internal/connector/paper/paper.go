// Package paper simulates fills at the last observed close. Used for tenants
// without exchange credentials.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"strategy_runtime/internal/models"

	"github.com/google/uuid"
)

var ErrNoPrice = errors.New("no price for pair")

// PriceFeed supplies the reference price; MarketDataService.LastClose fits.
type PriceFeed interface {
	LastClose(symbol string) (float64, bool)
}

type Fill struct {
	OrderID string
	Pair    string
	Side    models.Side
	Amount  float64
	Price   float64
}

type position struct {
	qty   float64 // signed, long > 0
	entry float64
}

type Connector struct {
	name  string
	feed  PriceFeed
	asset string

	mu        sync.Mutex
	cash      float64
	positions map[string]*position
	fills     []Fill
	pairs     map[string]struct{}
}

func New(name string, feed PriceFeed, equity float64) *Connector {
	return &Connector{
		name:      name,
		feed:      feed,
		asset:     "USDT",
		cash:      equity,
		positions: make(map[string]*position),
		pairs:     make(map[string]struct{}),
	}
}

func (c *Connector) Name() string { return c.name }

func (c *Connector) AddTradingPairs(pairs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range pairs {
		c.pairs[p] = struct{}{}
	}
}

func (c *Connector) Buy(ctx context.Context, pair string, amount float64, orderType models.OrderType, price float64) (string, error) {
	return c.fill(pair, models.SideBuy, amount, price)
}

func (c *Connector) Sell(ctx context.Context, pair string, amount float64, orderType models.OrderType, price float64) (string, error) {
	return c.fill(pair, models.SideSell, amount, price)
}

// fill executes immediately: at price when set, else at the feed price.
func (c *Connector) fill(pair string, side models.Side, amount, price float64) (string, error) {
	if !(amount > 0) {
		return "", fmt.Errorf("paper: amount %v", amount)
	}
	if math.IsNaN(price) || price <= 0 {
		p, ok := c.feed.LastClose(pair)
		if !ok {
			return "", fmt.Errorf("paper %s: %w", pair, ErrNoPrice)
		}
		price = p
	}

	delta := amount
	if side == models.SideSell {
		delta = -amount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[pair]
	if !ok {
		pos = &position{}
		c.positions[pair] = pos
	}
	c.apply(pos, delta, price)
	if pos.qty == 0 {
		delete(c.positions, pair)
	}

	id := uuid.NewString()
	c.fills = append(c.fills, Fill{OrderID: id, Pair: pair, Side: side, Amount: amount, Price: price})
	return id, nil
}

// apply books delta at price, realizing pnl on the reduced part.
func (c *Connector) apply(pos *position, delta, price float64) {
	if pos.qty == 0 || sameSign(pos.qty, delta) {
		total := pos.qty + delta
		pos.entry = (pos.entry*math.Abs(pos.qty) + price*math.Abs(delta)) / math.Abs(total)
		pos.qty = total
		return
	}

	closing := math.Min(math.Abs(delta), math.Abs(pos.qty))
	dir := 1.0
	if pos.qty < 0 {
		dir = -1
	}
	c.cash += closing * (price - pos.entry) * dir

	rest := pos.qty + delta
	switch {
	case rest == 0:
		pos.qty, pos.entry = 0, 0
	case sameSign(rest, pos.qty):
		pos.qty = rest
	default:
		// flipped through zero
		pos.qty, pos.entry = rest, price
	}
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func (c *Connector) MidPrice(ctx context.Context, pair string) (float64, error) {
	p, ok := c.feed.LastClose(pair)
	if !ok {
		return 0, fmt.Errorf("paper %s: %w", pair, ErrNoPrice)
	}
	return p, nil
}

// AvailableBalance is the realized cash; other assets hold nothing.
func (c *Connector) AvailableBalance(ctx context.Context, asset string) (float64, error) {
	if asset != c.asset {
		return 0, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cash, nil
}

// Position returns the signed quantity and average entry of pair.
func (c *Connector) Position(pair string) (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.positions[pair]; ok {
		return p.qty, p.entry
	}
	return 0, 0
}

func (c *Connector) Fills() []Fill {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Fill(nil), c.fills...)
}
