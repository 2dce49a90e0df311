package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ghuser/notifyhub/pkg/logger"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

func env(id, recipient string) models.Envelope {
	return models.Envelope{ID: id, Type: models.EventItemUpdated, Recipient: recipient, Message: "msg " + id}
}

func envs(recipient string, ids ...string) []models.Envelope {
	out := make([]models.Envelope, 0, len(ids))
	for _, id := range ids {
		out = append(out, env(id, recipient))
	}
	return out
}

func ids(es []models.Envelope) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func equalIDs(t *testing.T, got []models.Envelope, want ...string) {
	t.Helper()
	g := ids(got)
	if fmt.Sprint(g) != fmt.Sprint(want) {
		t.Fatalf("ids: got %v, want %v", g, want)
	}
}

// fakeConn is a Conn that records what it receives.
type fakeConn struct {
	id        string
	recipient string

	mu       sync.Mutex
	received []models.Envelope
	fail     bool
	closed   []CloseReason
}

func newFakeConn(id, recipient string) *fakeConn {
	return &fakeConn{id: id, recipient: recipient}
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) Recipient() string { return c.recipient }

func (c *fakeConn) Send(e models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || len(c.closed) > 0 {
		return errors.New("write: broken pipe")
	}
	c.received = append(c.received, e)
	return nil
}

func (c *fakeConn) Close(reason CloseReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, reason)
}

func (c *fakeConn) setFail(v bool) {
	c.mu.Lock()
	c.fail = v
	c.mu.Unlock()
}

func (c *fakeConn) Received() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Envelope(nil), c.received...)
}

func (c *fakeConn) Closed() []CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CloseReason(nil), c.closed...)
}

// recordingSink collects frames written by Connection.Serve.
type recordingSink struct {
	mu         sync.Mutex
	frames     []models.Envelope
	keepalives int
	failWith   error
	written    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{written: make(chan struct{}, 64)}
}

func (s *recordingSink) WriteEnvelope(e models.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.frames = append(s.frames, e)
	select {
	case s.written <- struct{}{}:
	default:
	}
	return nil
}

func (s *recordingSink) WriteKeepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.keepalives++
	return nil
}

func (s *recordingSink) Frames() []models.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Envelope(nil), s.frames...)
}

func (s *recordingSink) Keepalives() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepalives
}

// waitFrames waits until the sink has at least n frames.
func (s *recordingSink) waitFrames(t *testing.T, n int) []models.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if f := s.Frames(); len(f) >= n {
			return f
		}
		select {
		case <-s.written:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames, have %v", n, ids(s.Frames()))
		}
	}
}

// fakeBridge records publishes and can be told to fail.
type fakeBridge struct {
	mu        sync.Mutex
	published []models.Envelope
	err       error
	block     bool
	healthy   bool
	onReceive func(context.Context, models.Envelope)
	// subFailures makes the first n Subscribe calls fail.
	subFailures int
	subCalls    int
}

func (b *fakeBridge) Publish(ctx context.Context, e models.Envelope) error {
	b.mu.Lock()
	block, err := b.block, b.err
	b.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.published = append(b.published, e)
	b.mu.Unlock()
	return nil
}

func (b *fakeBridge) Subscribe(_ context.Context, onReceive func(context.Context, models.Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subCalls++
	if b.subCalls <= b.subFailures {
		return errors.New("broker unreachable")
	}
	b.onReceive = onReceive
	return nil
}

func (b *fakeBridge) subscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onReceive != nil
}

func (b *fakeBridge) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *fakeBridge) Published() []models.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Envelope(nil), b.published...)
}

func newTestService(t *testing.T, br Bridge, mutate ...func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		InstanceID:       "pod-test",
		ReplaySize:       100,
		BatchSize:        5,
		FlushInterval:    10 * time.Millisecond,
		PublishTimeout:   50 * time.Millisecond,
		ConnectionBuffer: 64,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewService(cfg, br, logger.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}
