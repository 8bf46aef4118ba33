// Package bus is the publish/subscribe layer between market-data producers
// and strategies.
//
// Two backends implement Bus with different delivery models:
//
//   - Memory broadcasts: every subscription of a topic gets every payload
//     published after it subscribed, in publish order.
//   - Redis (Streams) load-balances: all subscriptions of one topic join the
//     same consumer group "<prefix>:<topic>", so each entry goes to exactly one
//     of them. Delivery is at-least-once: an entry is acknowledged only after
//     the subscriber comes back for the next one (or closes), and entries left
//     pending by a dead consumer are reclaimed after ClaimIdle.
//
// Code that needs every subscriber to see every message must use Memory or
// give each process its own topic.
package bus

import (
	"context"
	"errors"

	"strategy_runtime/internal/models"
)

var (
	ErrEmptyTopic         = errors.New("bus: topic must not be empty")
	ErrSubscriptionClosed = errors.New("bus: subscription closed")
	ErrBusClosed          = errors.New("bus: closed")
)

type Bus interface {
	// Publish delivers payload to the subscriptions active on topic at call time.
	Publish(ctx context.Context, topic string, payload models.Payload) error
	// Subscribe starts a new subscription; it sees payloads published from now on.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is owned by the caller that created it.
type Subscription interface {
	Topic() string
	// Next blocks until a payload arrives, ctx is done or the subscription is
	// closed (ErrSubscriptionClosed).
	Next(ctx context.Context) (models.Payload, error)
	// Close releases backend resources. Calling it twice is a no-op.
	Close() error
	Closed() bool
}

func validateTopic(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	return nil
}
