package bus

import (
	"context"
	"sync"

	"strategy_runtime/internal/models"
	"strategy_runtime/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Memory is the in-process backend: one FIFO per subscription, per-topic locking.
type Memory struct {
	mu     sync.Mutex // guards topics (the map itself, not the subscriber sets)
	topics map[string]*memoryTopic

	maxPending int
	log        *zap.SugaredLogger
}

type MemoryOption func(*Memory)

// WithMaxPending bounds each subscription queue; on overflow the oldest
// payload is dropped. Zero means unbounded.
func WithMaxPending(n int) MemoryOption {
	return func(m *Memory) { m.maxPending = n }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		topics: make(map[string]*memoryTopic),
		log:    logger.Named("bus.memory"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var _ Bus = (*Memory)(nil)

type memoryTopic struct {
	name    string
	mu      sync.Mutex
	subs    map[*memorySub]struct{}
	removed bool // detached from Memory.topics, callers must look up again
}

func (m *Memory) topic(name string, create bool) *memoryTopic {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[name]
	if !ok && create {
		t = &memoryTopic{name: name, subs: make(map[*memorySub]struct{})}
		m.topics[name] = t
	}
	return t
}

func (m *Memory) Publish(ctx context.Context, topic string, payload models.Payload) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t := m.topic(topic, false)
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		s.push(payload.Clone())
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &memorySub{
		id:     uuid.NewString(),
		topic:  topic,
		bus:    m,
		max:    m.maxPending,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	for {
		t := m.topic(topic, true)
		t.mu.Lock()
		if t.removed {
			t.mu.Unlock()
			continue
		}
		t.subs[s] = struct{}{}
		t.mu.Unlock()
		return s, nil
	}
}

// SubscriberCount reports active subscriptions of topic.
func (m *Memory) SubscriberCount(topic string) int {
	t := m.topic(topic, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (m *Memory) unsubscribe(s *memorySub) {
	t := m.topic(s.topic, false)
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, s)
	if len(t.subs) > 0 || t.removed {
		return
	}

	m.mu.Lock()
	if m.topics[t.name] == t {
		delete(m.topics, t.name)
	}
	m.mu.Unlock()
	t.removed = true
}

type memorySub struct {
	id    string
	topic string
	bus   *Memory
	max   int

	mu      sync.Mutex
	items   []models.Payload
	closed  bool
	dropped int

	notify chan struct{}
	done   chan struct{}
}

func (s *memorySub) push(p models.Payload) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.max > 0 && len(s.items) >= s.max {
		s.items[0] = nil
		s.items = s.items[1:]
		s.dropped++
		s.bus.log.Warnw("subscription queue full, dropped oldest",
			"topic", s.topic, "subscription", s.id, "dropped_total", s.dropped)
	}
	s.items = append(s.items, p)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *memorySub) Topic() string { return s.topic }

func (s *memorySub) Next(ctx context.Context) (models.Payload, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSubscriptionClosed
		}
		if len(s.items) > 0 {
			p := s.items[0]
			s.items[0] = nil
			s.items = s.items[1:]
			s.mu.Unlock()
			return p, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *memorySub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.items = nil
	close(s.done)
	s.mu.Unlock()

	s.bus.unsubscribe(s)
	return nil
}

func (s *memorySub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
