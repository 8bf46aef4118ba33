package tradingcore

import (
	"context"
	"sync"
	"time"

	"strategy_runtime/pkg/logger"
)

// TimeIterator is anything driven by the runtime clock.
type TimeIterator interface {
	Tick(now time.Time)
}

// Clock ticks its iterators at a fixed interval on one goroutine.
type Clock struct {
	interval time.Duration

	mu        sync.Mutex
	iterators []TimeIterator

	cancel context.CancelFunc
	done   chan struct{}
}

func NewClock(interval time.Duration) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{interval: interval}
}

func (c *Clock) Add(it TimeIterator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.iterators = append(c.iterators, it)
}

func (c *Clock) Remove(it TimeIterator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.iterators {
		if x == it {
			c.iterators = append(c.iterators[:i], c.iterators[i+1:]...)
			return
		}
	}
}

func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.iterators)
}

func (c *Clock) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				c.tick(now)
			}
		}
	}()
}

func (c *Clock) tick(now time.Time) {
	c.mu.Lock()
	its := append([]TimeIterator(nil), c.iterators...)
	c.mu.Unlock()

	for _, it := range its {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("clock iterator panic: %v", r)
				}
			}()
			it.Tick(now)
		}()
	}
}

func (c *Clock) stop() {
	c.cancel()
	<-c.done
}
