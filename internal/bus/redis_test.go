package bus

import (
	"context"
	"testing"
	"time"

	"strategy_runtime/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisConfig{
		GroupPrefix: "test",
		MaxLen:      1000,
		Block:       50 * time.Millisecond,
	}), client
}

func TestRedisGroupNameDerivedFromTopic(t *testing.T) {
	b, _ := newTestRedis(t)
	assert.Equal(t, "test:md.BTC-PERP.1m", b.GroupName("md.BTC-PERP.1m"))
}

func TestRedisPublishSubscribeRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestRedis(t)

	s, err := b.Subscribe(ctx, "md.BTC-PERP.1m")
	require.NoError(t, err)
	defer s.Close()

	snap := models.Snapshot{Symbol: "BTC-PERP", Timeframe: "1m", Close: 101.5, EMAFast: 100, EMASlow: 99, ATR: 1.2, Timestamp: 1700000000000}
	require.NoError(t, b.Publish(ctx, "md.BTC-PERP.1m", snap.Payload()))

	p := nextWithin(t, s, time.Second)
	got, ok := models.SnapshotFromPayload(p)
	require.True(t, ok)
	assert.Equal(t, snap, got)
}

func TestRedisSubscriptionsOfOneTopicCompete(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestRedis(t)

	s1, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	defer s1.Close()
	s2, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, b.Publish(ctx, "t", models.Payload{"seq": 1}))
	require.NoError(t, b.Publish(ctx, "t", models.Payload{"seq": 2}))

	first := nextWithin(t, s1, time.Second)
	second := nextWithin(t, s2, time.Second)
	seen := map[float64]bool{}
	for _, p := range []models.Payload{first, second} {
		v, ok := p.Float("seq")
		require.True(t, ok)
		seen[v] = true
	}
	assert.Equal(t, map[float64]bool{1: true, 2: true}, seen)

	for _, s := range []Subscription{s1, s2} {
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		_, err := s.Next(ctx)
		cancel()
		assert.Error(t, err, "an entry must not be delivered twice within the group")
	}
}

func TestRedisAckHappensAfterHandOff(t *testing.T) {
	ctx := context.Background()
	b, client := newTestRedis(t)

	s, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "t", models.Payload{"x": 1}))

	nextWithin(t, s, time.Second)
	pending, err := client.XPending(ctx, "t", b.GroupName("t")).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending.Count, "entry stays pending while the caller holds it")

	short, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	_, _ = s.Next(short)
	cancel()

	pending, err = client.XPending(ctx, "t", b.GroupName("t")).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending.Count)
	require.NoError(t, s.Close())
}

func TestRedisMalformedEntryIsAckedAndDropped(t *testing.T) {
	ctx := context.Background()
	b, client := newTestRedis(t)

	s, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "t", Values: map[string]interface{}{"data": "{not json"}}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "t", Values: map[string]interface{}{"other": "x"}}).Err())
	require.NoError(t, b.Publish(ctx, "t", models.Payload{"ok": true}))

	p := nextWithin(t, s, time.Second)
	assert.Equal(t, true, p["ok"])

	require.NoError(t, s.Close())
	pending, err := client.XPending(ctx, "t", b.GroupName("t")).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, pending.Count)
}

func TestRedisCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestRedis(t)

	s, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.Closed())

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestRedisCloseKeepsUnhandedEntriesPending(t *testing.T) {
	ctx := context.Background()
	b, client := newTestRedis(t)

	s, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	consumer := s.(*redisSub).consumer
	require.NoError(t, b.Publish(ctx, "t", models.Payload{"n": 1}))

	// delivered by Redis but never returned from Next
	_, err = client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.GroupName("t"),
		Consumer: consumer,
		Streams:  []string{"t", ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)

	require.NoError(t, s.Close())

	pending, err := client.XPending(ctx, "t", b.GroupName("t")).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending.Count)
	assert.EqualValues(t, 1, pending.Consumers[consumer])
}

func TestRedisCloseLeavesGroupWhenNothingPending(t *testing.T) {
	ctx := context.Background()
	b, client := newTestRedis(t)

	s, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "t", models.Payload{"n": 1}))
	nextWithin(t, s, time.Second)
	require.NoError(t, s.Close())

	consumers, err := client.XInfoConsumers(ctx, "t", b.GroupName("t")).Result()
	require.NoError(t, err)
	assert.Empty(t, consumers)

	pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: "t", Group: b.GroupName("t"), Start: "-", End: "+", Count: 10,
	}).Result()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedisEmptyTopicRejected(t *testing.T) {
	b, _ := newTestRedis(t)
	_, err := b.Subscribe(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyTopic)
	assert.ErrorIs(t, b.Publish(context.Background(), "", models.Payload{}), ErrEmptyTopic)
}
