package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"strategy_runtime/internal/models"
	"strategy_runtime/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	GroupPrefix string        // consumer groups are named <GroupPrefix>:<topic>
	MaxLen      int64         // approximate stream retention, 0 = unbounded
	Block       time.Duration // XREADGROUP wait per round trip
	ClaimIdle   time.Duration // reclaim entries pending longer than this, 0 = off
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.GroupPrefix == "" {
		c.GroupPrefix = "bus"
	}
	if c.Block <= 0 {
		c.Block = time.Second
	}
	return c
}

// Redis is the durable-log backend on Redis Streams.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
	log    *zap.SugaredLogger
}

var _ Bus = (*Redis)(nil)

func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	return &Redis{
		client: client,
		cfg:    cfg.withDefaults(),
		log:    logger.Named("bus.redis"),
	}
}

// GroupName is the consumer group every subscription of topic joins.
func (r *Redis) GroupName(topic string) string {
	return r.cfg.GroupPrefix + ":" + topic
}

func (r *Redis) Publish(ctx context.Context, topic string, payload models.Payload) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{dataField: data},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}

	group := r.GroupName(topic)
	// XGROUP CREATE is the atomic insert-if-absent: a concurrent creator gets BUSYGROUP.
	err := r.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, fmt.Errorf("failed to create group %s: %w", group, err)
	}

	// the consumer itself is registered by its first XREADGROUP
	return &redisSub{
		bus:       r,
		topic:     topic,
		group:     group,
		consumer:  uuid.NewString(),
		lastClaim: time.Now(),
	}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

type redisSub struct {
	bus      *Redis
	topic    string
	group    string
	consumer string

	closed atomic.Bool

	mu         sync.Mutex // serializes Next and Close
	pendingAck string     // handed to the caller, acked on the next Next/Close
	lastClaim  time.Time
	released   bool
}

func (s *redisSub) Topic() string { return s.topic }
func (s *redisSub) Closed() bool  { return s.closed.Load() }

func (s *redisSub) Next(ctx context.Context) (models.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ackHandedOff(ctx); err != nil {
		return nil, err
	}

	for {
		if s.closed.Load() {
			return nil, ErrSubscriptionClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, ok, err := s.read(ctx)
		if err != nil {
			if s.closed.Load() {
				return nil, ErrSubscriptionClosed
			}
			return nil, err
		}
		if !ok {
			continue
		}

		payload, err := decodePayload(msg.Values)
		if err != nil {
			// poison entry: ack and drop so the group doesn't stall on it
			s.bus.log.Warnw("dropping malformed entry", "topic", s.topic, "id", msg.ID, "err", err)
			if aerr := s.bus.client.XAck(ctx, s.topic, s.group, msg.ID).Err(); aerr != nil {
				return nil, fmt.Errorf("failed to ack %s: %w", msg.ID, aerr)
			}
			continue
		}

		s.pendingAck = msg.ID
		return payload, nil
	}
}

// read returns at most one entry: a reclaimed stale one first, then a new one.
func (s *redisSub) read(ctx context.Context) (redis.XMessage, bool, error) {
	cfg := s.bus.cfg
	if cfg.ClaimIdle > 0 && time.Since(s.lastClaim) >= cfg.ClaimIdle {
		s.lastClaim = time.Now()
		msgs, _, err := s.bus.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.topic,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  cfg.ClaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, fmt.Errorf("failed to reclaim on %s: %w", s.topic, err)
		}
		if len(msgs) > 0 {
			return msgs[0], true, nil
		}
	}

	streams, err := s.bus.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.topic, ">"},
		Count:    1,
		Block:    cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return redis.XMessage{}, false, nil
	}
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("failed to read %s: %w", s.topic, err)
	}
	for _, st := range streams {
		if len(st.Messages) > 0 {
			return st.Messages[0], true, nil
		}
	}
	return redis.XMessage{}, false, nil
}

func (s *redisSub) ackHandedOff(ctx context.Context) error {
	if s.pendingAck == "" {
		return nil
	}
	if err := s.bus.client.XAck(ctx, s.topic, s.group, s.pendingAck).Err(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", s.pendingAck, err)
	}
	s.pendingAck = ""
	return nil
}

// Close waits for an in-flight read (bounded by Block), acks the last handed-off
// entry and leaves the group unless entries are still pending on it.
func (s *redisSub) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true

	ctx, cancel := context.WithTimeout(context.Background(), s.bus.cfg.Block+5*time.Second)
	defer cancel()

	var errs []error
	if err := s.ackHandedOff(ctx); err != nil {
		errs = append(errs, err)
	}

	// DELCONSUMER drops the consumer's pending entries, so a consumer still
	// owning some (delivered to a cancelled Next) stays for XAUTOCLAIM.
	pending, err := s.bus.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   s.topic,
		Group:    s.group,
		Start:    "-",
		End:      "+",
		Count:    1,
		Consumer: s.consumer,
	}).Result()
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("failed to read pending of %s: %w", s.consumer, err))
	case len(pending) > 0:
		s.bus.log.Warnw("consumer left with pending entries", "topic", s.topic, "consumer", s.consumer, "first", pending[0].ID)
	default:
		if err := s.bus.client.XGroupDelConsumer(ctx, s.topic, s.group, s.consumer).Err(); err != nil {
			errs = append(errs, fmt.Errorf("failed to leave group %s: %w", s.group, err))
		}
	}
	return errors.Join(errs...)
}
