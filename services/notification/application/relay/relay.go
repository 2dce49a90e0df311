// Package relay turns item lifecycle events into notifications. It consumes
// the item topics from the EventBus, applies the recipient rules and hands
// every resulting envelope to the cross-instance bridge.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"

	"github.com/ghuser/notifyhub/pkg/logger"
	"github.com/ghuser/notifyhub/services/notification/domain/events"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
	"github.com/ghuser/notifyhub/services/notification/domain/services"
)

const defaultMaxTries = 3

// Publisher delivers an envelope to every instance.
type Publisher interface {
	Publish(ctx context.Context, env models.Envelope) error
}

// Subscriber is the slice of *events.EventBus the relay consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler func(context.Context, *message.Message) error) (<-chan error, error)
}

// Relay maps item events to envelopes.
type Relay struct {
	pub      Publisher
	log      logger.Logger
	newBack  func() backoff.BackOff
	maxTries uint
}

// Option configures a Relay.
type Option func(*Relay)

// WithBackOff overrides the delay policy between publish attempts.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(r *Relay) { r.newBack = f }
}

// WithMaxTries caps publish attempts per envelope.
func WithMaxTries(n uint) Option {
	return func(r *Relay) { r.maxTries = n }
}

// New returns a Relay publishing through pub.
func New(pub Publisher, log logger.Logger, opts ...Option) *Relay {
	r := &Relay{
		pub:      pub,
		log:      log.With("component", "relay"),
		newBack:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		maxTries: defaultMaxTries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register subscribes to every item topic. Subscriber errors are drained
// and logged until ctx is done.
func (r *Relay) Register(ctx context.Context, bus Subscriber) error {
	for _, topic := range events.Topics {
		errCh, err := bus.Subscribe(ctx, topic, r.Handle(topic))
		if err != nil {
			return fmt.Errorf("relay: subscribe %s: %w", topic, err)
		}

		go func(topic string) {
			for err := range errCh {
				r.log.ErrorContext(ctx, "subscriber error", "topic", topic, "error", err)
			}
		}(topic)
	}

	r.log.InfoContext(ctx, "event subscribers registered", "topics", events.Topics)
	return nil
}

// Handle returns the handler for one item topic. Handlers are idempotent:
// envelope ids derive from the event id, so a redelivered event is absorbed
// by the replay window of every instance.
func (r *Relay) Handle(topic string) func(context.Context, *message.Message) error {
	return func(ctx context.Context, msg *message.Message) error {
		var evt events.ItemEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}

		envs, err := services.NotificationsFor(topic, evt)
		if err != nil {
			return err
		}

		for _, env := range envs {
			if err := r.publish(ctx, env); err != nil {
				return fmt.Errorf("item %s: publish %s to %s: %w", evt.ItemID, env.Type, env.Recipient, err)
			}
		}

		r.log.InfoContext(ctx, "item event relayed",
			"topic", topic,
			"event_id", evt.EventID,
			"item_id", evt.ItemID,
			"notifications", len(envs),
		)
		return nil
	}
}

func (r *Relay) publish(ctx context.Context, env models.Envelope) error {
	op := func() (struct{}, error) {
		return struct{}{}, r.pub.Publish(ctx, env)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.newBack()),
		backoff.WithMaxTries(r.maxTries),
	)
	return err
}
