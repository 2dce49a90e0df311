// Package events provides a broadcast pub/sub EventBus built on Watermill.
//
// Delivery semantics:
//   - Every instance subscribes with its own identity, so every instance receives
//     every message (broadcast). Drivers that know consumer groups (postgres, kafka)
//     use one group per instance.
//   - Messages are acked once the handler returns. A handler error is forwarded to
//     the returned error channel; there is no redelivery. Handlers must tolerate
//     duplicates and drops.
//   - When a subscription's channel closes while its context is still alive, the
//     bus resubscribes to the same topic at a fixed interval until it succeeds.
//
// OTel context propagation: trace context is injected into message metadata on Publish
// and extracted in Subscribe, enabling end-to-end distributed tracing across services.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ghuser/notifyhub/pkg/logger"
)

const (
	defaultRetryInterval = 5 * time.Second
	shutdownTimeout      = 30 * time.Second
	errChanSize          = 100
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("events: bus closed")

// Transport is one broker driver: a Watermill publisher/subscriber pair plus
// the liveness probe and resource cleanup that go with it.
type Transport struct {
	Name       string
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Ping reports broker reachability. Nil means always reachable.
	Ping func(ctx context.Context) error
	// Close releases resources owned by the driver beyond the publisher and
	// subscriber (database handles, clients). May be nil.
	Close func() error
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithRetryInterval sets the fixed delay between resubscription attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(q *EventBus) {
		if d > 0 {
			q.retryInterval = d
		}
	}
}

// EventBus wraps a Transport with trace propagation, context-bounded
// publishing and self-healing subscriptions.
type EventBus struct {
	transport     Transport
	log           logger.Logger
	retryInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pubMu orders publishing.Add against Close.
	pubMu      sync.Mutex
	publishing sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New builds an EventBus over an already constructed Transport.
func New(t Transport, log logger.Logger, opts ...Option) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	q := &EventBus{
		transport:     t,
		log:           log.With("component", "events", "driver", t.Name),
		retryInterval: defaultRetryInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Driver returns the transport name.
func (q *EventBus) Driver() string {
	return q.transport.Name
}

// Publish sends one or more messages to the given topic.
// OTel trace context from ctx is injected into each message's metadata so
// the receiving subscriber can restore the trace and continue the span tree.
// The call returns when the transport does or when ctx is done, whichever
// comes first; a ctx expiry is reported as a failure.
//
// Watermill publishers take no context, so on ctx expiry the transport call
// keeps running until the driver returns; the message may still be delivered.
// Drivers bound that call themselves (kafka writes use the message context,
// postgres runs under statement_timeout) and Close waits for it before
// closing the publisher.
func (q *EventBus) Publish(ctx context.Context, topic string, msgs ...*message.Message) error {
	q.pubMu.Lock()
	if q.ctx.Err() != nil {
		q.pubMu.Unlock()
		return ErrClosed
	}
	q.publishing.Add(1)
	q.pubMu.Unlock()
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, msg := range msgs {
		for k, v := range carrier {
			msg.Metadata.Set(k, v)
		}
		msg.SetContext(ctx)
	}

	done := make(chan error, 1)
	go func() {
		defer q.publishing.Done()
		done <- q.transport.Publisher.Publish(topic, msgs...) //nolint:contextcheck
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("events: publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events: publish to %s: %w", topic, ctx.Err())
	}
}

// Subscribe registers handler to process messages from topic asynchronously.
// The handler receives a context with the publisher's OTel trace restored from
// message metadata, enabling distributed tracing across service boundaries.
//
// The first subscription attempt is synchronous and its error is returned.
// Afterwards, a closed message channel triggers resubscription every
// retry interval until ctx is done or the bus is closed.
//
// The returned error channel is buffered (capacity 100). Callers must drain it:
//
//	errCh, err := bus.Subscribe(ctx, topic, handler)
//	go func() { for err := range errCh { log.ErrorContext(ctx, "subscriber error", "error", err) } }()
//
// All in-flight handlers complete before Close() returns.
func (q *EventBus) Subscribe(ctx context.Context, topic string, handler func(context.Context, *message.Message) error) (<-chan error, error) {
	if q.ctx.Err() != nil {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.ctx, cancel)

	ch, err := q.transport.Subscriber.Subscribe(subCtx, topic)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("events: subscribe to %s: %w", topic, err)
	}

	errCh := make(chan error, errChanSize)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer close(errCh)
		defer cancel()
		defer stop()

		for {
			q.consume(subCtx, topic, ch, handler, errCh)
			if subCtx.Err() != nil {
				return
			}
			q.log.WarnContext(subCtx, "events: subscription channel closed, resubscribing",
				"topic", topic, "retry_interval", q.retryInterval)

			next, err := q.resubscribe(subCtx, topic)
			if err != nil {
				return
			}
			ch = next
		}
	}()

	return errCh, nil
}

func (q *EventBus) consume(
	ctx context.Context,
	topic string,
	ch <-chan *message.Message,
	handler func(context.Context, *message.Message) error,
	errCh chan<- error,
) {
	propagator := otel.GetTextMapPropagator()
	for msg := range ch {
		// Restore the publisher's trace context from message metadata.
		carrier := propagation.MapCarrier{}
		for k, v := range msg.Metadata {
			carrier[k] = v
		}
		msgCtx := propagator.Extract(ctx, carrier)

		err := handler(msgCtx, msg)
		msg.Ack()
		if err == nil {
			continue
		}
		select {
		case errCh <- fmt.Errorf("events: handle message %s on %s: %w", msg.UUID, topic, err):
		default:
			q.log.ErrorContext(msgCtx, "events: error channel full, dropping error",
				"error", err, "topic", topic)
		}
	}
}

// resubscribe retries Subscribe at a constant interval with no elapsed-time
// cap. It only gives up when ctx is done.
func (q *EventBus) resubscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	op := func() (<-chan *message.Message, error) {
		return q.transport.Subscriber.Subscribe(ctx, topic)
	}
	ch, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(q.retryInterval)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.log.WarnContext(ctx, "events: resubscribe failed",
				"topic", topic, "error", err, "next_attempt_in", next)
		}),
	)
	if err != nil {
		return nil, err
	}
	q.log.InfoContext(ctx, "events: resubscribed", "topic", topic)
	return ch, nil
}

// Ping checks broker reachability through the transport probe.
func (q *EventBus) Ping(ctx context.Context) error {
	if q.ctx.Err() != nil {
		return ErrClosed
	}
	if q.transport.Ping == nil {
		return nil
	}
	if err := q.transport.Ping(ctx); err != nil {
		return fmt.Errorf("events: ping %s: %w", q.transport.Name, err)
	}
	return nil
}

// Close gracefully shuts down the EventBus. It is safe to call more than once.
// Shutdown order: stop subscription loops, close subscriber, wait for
// in-flight handlers and publishes (30 s max), close publisher, release
// driver resources.
func (q *EventBus) Close() error {
	q.closeOnce.Do(func() {
		q.pubMu.Lock()
		q.cancel()
		q.pubMu.Unlock()

		var errs []error
		if err := q.transport.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: close subscriber: %w", err))
		}

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			q.publishing.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			q.log.Error("events: timed out waiting for in-flight handlers and publishes to complete")
		}

		if err := q.transport.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: close publisher: %w", err))
		}
		if q.transport.Close != nil {
			if err := q.transport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("events: close %s: %w", q.transport.Name, err))
			}
		}
		q.closeErr = errors.Join(errs...)
	})
	return q.closeErr
}

// slogAdapter bridges logger.Logger to watermill.LoggerAdapter.
type slogAdapter struct{ log logger.Logger }

// NewLoggerAdapter exposes the project logger to Watermill components.
func NewLoggerAdapter(log logger.Logger) watermill.LoggerAdapter {
	return &slogAdapter{log: log}
}

func (a *slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(msg, append(fieldsToArgs(fields), "error", err)...)
}
func (a *slogAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(msg, fieldsToArgs(fields)...)
}
func (a *slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &slogAdapter{log: a.log.With(fieldsToArgs(fields)...)}
}

func fieldsToArgs(fields watermill.LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
