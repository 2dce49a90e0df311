// Package bridge relays envelopes between instances over the shared broker
// topic. Every instance publishes to and subscribes on the same topic, and
// receives its own messages back.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ghuser/notifyhub/pkg/events"
	"github.com/ghuser/notifyhub/pkg/logger"
	"github.com/ghuser/notifyhub/services/notification/domain"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// OriginMetadata names the instance that published a message. It is
// informational; delivery does not depend on it.
const OriginMetadata = "origin_instance"

const probeTimeout = 2 * time.Second

// EventBus is the slice of *events.EventBus the bridge needs.
type EventBus interface {
	Publish(ctx context.Context, topic string, msgs ...*message.Message) error
	Subscribe(ctx context.Context, topic string, handler func(context.Context, *message.Message) error) (<-chan error, error)
	Ping(ctx context.Context) error
}

// Config configures a Bridge.
type Config struct {
	Topic      string
	InstanceID string
	// MaxMessageAge drops received envelopes older than this. Zero disables it.
	MaxMessageAge time.Duration
	// HealthInterval is the broker probe period used by RunHealthProbe.
	HealthInterval time.Duration
}

// Bridge implements fanout.Bridge over an EventBus.
type Bridge struct {
	bus     EventBus
	cfg     Config
	log     logger.Logger
	healthy atomic.Bool
	now     func() time.Time
}

// New returns a Bridge. It reports healthy until the first failed publish
// or probe says otherwise.
func New(bus EventBus, cfg Config, log logger.Logger) *Bridge {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Second
	}
	b := &Bridge{
		bus: bus,
		cfg: cfg,
		log: log.With("component", "bridge", "topic", cfg.Topic),
		now: time.Now,
	}
	b.healthy.Store(true)
	return b
}

// Publish encodes env and sends it to the topic. Broker errors, including
// ctx expiry, are returned wrapped in domain.ErrBrokerUnavailable.
func (b *Bridge) Publish(ctx context.Context, env models.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bridge: encode %s: %w", env.ID, err)
	}

	msg := message.NewMessage(env.ID, payload)
	msg.Metadata.Set(OriginMetadata, b.cfg.InstanceID)
	msg.Metadata.Set(events.PartitionKeyMetadata, env.Recipient)

	if err := b.bus.Publish(ctx, b.cfg.Topic, msg); err != nil {
		b.healthy.Store(false)
		return fmt.Errorf("%w: %w", domain.ErrBrokerUnavailable, err)
	}
	b.healthy.Store(true)
	return nil
}

// Subscribe starts consuming the topic. Malformed and stale messages are
// logged and dropped; every other envelope goes to onReceive. The
// subscription survives broker disconnects until ctx is done.
func (b *Bridge) Subscribe(ctx context.Context, onReceive func(context.Context, models.Envelope)) error {
	errCh, err := b.bus.Subscribe(ctx, b.cfg.Topic, func(msgCtx context.Context, msg *message.Message) error {
		b.handle(msgCtx, msg, onReceive)
		return nil
	})
	if err != nil {
		b.healthy.Store(false)
		return fmt.Errorf("%w: %w", domain.ErrBrokerUnavailable, err)
	}

	go func() {
		for err := range errCh {
			b.log.ErrorContext(ctx, "bridge subscriber error", "error", err)
		}
	}()
	b.log.InfoContext(ctx, "bridge subscribed", "instance_id", b.cfg.InstanceID)
	return nil
}

func (b *Bridge) handle(ctx context.Context, msg *message.Message, onReceive func(context.Context, models.Envelope)) {
	env, err := models.Decode(msg.Payload)
	if err != nil {
		b.log.WarnContext(ctx, "dropping malformed broker message",
			"message_uuid", msg.UUID,
			"origin", msg.Metadata.Get(OriginMetadata),
			"error", err,
		)
		return
	}
	if b.cfg.MaxMessageAge > 0 && !env.Timestamp.IsZero() {
		if age := b.now().Sub(env.Timestamp); age > b.cfg.MaxMessageAge {
			b.log.DebugContext(ctx, "dropping stale broker message",
				"envelope_id", env.ID, "age", age.String())
			return
		}
	}
	onReceive(ctx, env)
}

// Healthy returns the last known broker state without blocking.
func (b *Bridge) Healthy() bool {
	return b.healthy.Load()
}

// Probe pings the broker and records the outcome.
func (b *Bridge) Probe(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	err := b.bus.Ping(pctx)
	prev := b.healthy.Swap(err == nil)
	switch {
	case err != nil && prev:
		b.log.WarnContext(ctx, "broker unreachable", "error", err)
	case err == nil && !prev:
		b.log.InfoContext(ctx, "broker reachable again")
	}
	return err
}

// RunHealthProbe probes the broker every HealthInterval until ctx is done.
func (b *Bridge) RunHealthProbe(ctx context.Context) {
	t := time.NewTicker(b.cfg.HealthInterval)
	defer t.Stop()
	_ = b.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = b.Probe(ctx)
		}
	}
}
