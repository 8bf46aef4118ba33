// Package strategy holds the event-driven strategy lifecycle and the concrete
// strategies built on it. Strategies react to bus messages only.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"strategy_runtime/internal/bus"
	"strategy_runtime/pkg/logger"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// Strategy is what a UserEngine runs.
type Strategy interface {
	Name() string
	StartEventDriven(ctx context.Context) error
	StopEventDriven()
	Running() bool
}

// Base owns the tasks and subscriptions of one strategy instance. Concrete
// strategies embed it and pass their loop setup to NewBase.
type Base struct {
	name       string
	startLoops func(ctx context.Context) error
	log        *zap.SugaredLogger

	// lifeMu serializes start and stop; tasks must not call StopEventDriven
	lifeMu  sync.Mutex
	running atomic.Bool

	resMu     sync.Mutex
	accepting bool
	ctx       context.Context
	cancel    context.CancelFunc
	tasks     []*Task
	subs      []io.Closer
}

func NewBase(name string, startLoops func(ctx context.Context) error) *Base {
	return &Base{
		name:       name,
		startLoops: startLoops,
		log:        logger.Named("strategy").With("strategy", name),
	}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Log() *zap.SugaredLogger { return b.log }

func (b *Base) Running() bool { return b.running.Load() }

// StartEventDriven runs startLoops once; a second call while running is a no-op.
// Work outlives ctx: only StopEventDriven ends it.
func (b *Base) StartEventDriven(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.running.Load() {
		return nil
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.resMu.Lock()
	b.ctx, b.cancel = taskCtx, cancel
	b.accepting = true
	b.resMu.Unlock()

	if err := b.startLoops(taskCtx); err != nil {
		b.teardown()
		return fmt.Errorf("failed to start %s: %w", b.name, err)
	}
	b.running.Store(true)
	b.log.Infow("strategy started", "tasks", b.TaskCount(), "subscriptions", b.SubscriptionCount())
	return nil
}

// StopEventDriven is the only teardown path. Safe to call at any point, any
// number of times.
func (b *Base) StopEventDriven() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	b.teardown()
	if b.running.CompareAndSwap(true, false) {
		b.log.Infow("strategy stopped")
	}
}

// teardown: stop accepting, close subscriptions, then cancel and join tasks.
func (b *Base) teardown() {
	b.resMu.Lock()
	b.accepting = false
	subs, tasks, cancel := b.subs, b.tasks, b.cancel
	b.subs, b.tasks, b.cancel = nil, nil, nil
	b.resMu.Unlock()

	for _, s := range subs {
		if err := s.Close(); err != nil {
			b.log.Warnw("subscription close failed", "err", err)
		}
	}

	if cancel != nil {
		cancel()
	}
	for _, t := range tasks {
		_ = t.Wait()
	}
}

// SpawnTask runs fn in the background until it returns or the strategy stops.
// After stop it returns an already finished task without running fn.
func (b *Base) SpawnTask(name string, fn func(ctx context.Context) error) *Task {
	b.resMu.Lock()
	if !b.accepting {
		b.resMu.Unlock()
		return finishedTask(name, ErrNotRunning)
	}
	ctx, cancel := context.WithCancel(b.ctx)
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}
	b.tasks = append(b.tasks, t)
	b.resMu.Unlock()

	go func() {
		defer close(t.done)
		defer cancel()

		var pc panics.Catcher
		pc.Try(func() { t.err = fn(ctx) })
		if r := pc.Recovered(); r != nil {
			t.err = r.AsError()
		}

		switch {
		case t.err == nil, errors.Is(t.err, context.Canceled), errors.Is(t.err, bus.ErrSubscriptionClosed):
		default:
			b.log.Errorw("background task failed", "task", name, "err", t.err)
		}
	}()
	return t
}

// TrackSubscription registers sub for teardown and returns it. A subscription
// tracked after stop is closed at once.
func (b *Base) TrackSubscription(sub bus.Subscription) bus.Subscription {
	b.TrackCloser(sub)
	return sub
}

// TrackCloser registers anything with a Close for teardown.
func (b *Base) TrackCloser(c io.Closer) {
	b.resMu.Lock()
	if !b.accepting {
		b.resMu.Unlock()
		if err := c.Close(); err != nil {
			b.log.Warnw("close after stop failed", "err", err)
		}
		return
	}
	b.subs = append(b.subs, c)
	b.resMu.Unlock()
}

func (b *Base) TaskCount() int {
	b.resMu.Lock()
	defer b.resMu.Unlock()
	return len(b.tasks)
}

func (b *Base) SubscriptionCount() int {
	b.resMu.Lock()
	defer b.resMu.Unlock()
	return len(b.subs)
}

// Tick is the host clock callback. Event-driven strategies ignore it.
func (b *Base) Tick(time.Time) {}
