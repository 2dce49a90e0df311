package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"

	"github.com/ghuser/notifyhub/pkg/logger"
)

// NewRedisTransport returns a transport over Redis PUBLISH/SUBSCRIBE.
//
// Only the payload crosses the wire; metadata is not carried. That keeps
// the channel compatible with any producer that publishes plain JSON, at
// the price of losing trace propagation on this driver. Redis pub/sub is
// fire-and-forget, so a subscriber that is offline misses messages.
//
// The redis client is owned by the caller and is not closed here.
func NewRedisTransport(rdb *redis.Client, log logger.Logger) Transport {
	return Transport{
		Name:       "redis",
		Publisher:  &redisPublisher{rdb: rdb},
		Subscriber: newRedisSubscriber(rdb, log),
		Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
}

type redisPublisher struct {
	rdb *redis.Client
}

// Publish honours the context attached to each message by EventBus.Publish.
func (p *redisPublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		if err := p.rdb.Publish(msg.Context(), topic, []byte(msg.Payload)).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", msg.UUID, err)
		}
	}
	return nil
}

func (p *redisPublisher) Close() error { return nil }

type redisSubscriber struct {
	rdb *redis.Client
	log logger.Logger

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

func newRedisSubscriber(rdb *redis.Client, log logger.Logger) *redisSubscriber {
	return &redisSubscriber{
		rdb:     rdb,
		log:     log.With("component", "events.redis"),
		closing: make(chan struct{}),
	}
}

// Subscribe confirms the SUBSCRIBE round-trip before returning so the
// caller knows the channel is live. The returned channel closes when ctx is
// done, the subscriber is closed, or the underlying pub/sub ends.
func (s *redisSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("redis subscriber closed")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ps := s.rdb.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		s.wg.Done()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	out := make(chan *message.Message)
	go func() {
		defer s.wg.Done()
		defer close(out)
		defer ps.Close() //nolint:errcheck

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closing:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg := message.NewMessage(watermill.NewUUID(), []byte(m.Payload))
				msg.SetContext(ctx)
				if !s.deliver(ctx, out, msg) {
					return
				}
			}
		}
	}()
	return out, nil
}

// deliver hands msg to the consumer and waits for it to be acked or nacked.
func (s *redisSubscriber) deliver(ctx context.Context, out chan<- *message.Message, msg *message.Message) bool {
	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.log.Debug("redis message nacked, not redelivered", "message_uuid", msg.UUID)
	case <-ctx.Done():
		return false
	case <-s.closing:
		return false
	}
	return true
}

func (s *redisSubscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
