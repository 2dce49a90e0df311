package fanout

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/ghuser/notifyhub/services/notification/domain"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// CloseReason is the terminal state a connection ended in.
type CloseReason string

const (
	ReasonClosed   CloseReason = "closed"
	ReasonTimedOut CloseReason = "timed_out"
	ReasonErrored  CloseReason = "errored"
)

// Conn is a live push channel bound to one recipient.
// Send must not block; a failed Send means the connection is dead.
type Conn interface {
	ID() string
	Recipient() string
	Send(env models.Envelope) error
	Close(reason CloseReason)
}

// Sink writes frames to the client transport. Implementations may block on
// network backpressure; only the connection's own write loop calls them.
type Sink interface {
	WriteEnvelope(env models.Envelope) error
	WriteKeepalive() error
}

// Connection is the process-local Conn used for event streams. Envelopes
// pass through a bounded outbound queue drained by Serve, so a slow client
// fills its own queue and is dropped without stalling publishers.
//
// Open → {Closed, TimedOut, Errored} happens exactly once through Close,
// whichever of client disconnect, write deadline or write error fires first.
type Connection struct {
	id        string
	recipient string
	out       chan models.Envelope
	done      chan struct{}
	onClose   func(*Connection, CloseReason)

	mu        sync.Mutex
	closed    bool
	reason    CloseReason
	replaying bool
	pending   []models.Envelope

	closeOnce sync.Once
}

func newConnection(recipient string, buffer int, onClose func(*Connection, CloseReason)) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		id:        models.NewID(),
		recipient: recipient,
		out:       make(chan models.Envelope, buffer),
		done:      make(chan struct{}),
		onClose:   onClose,
	}
}

func (c *Connection) ID() string        { return c.id }
func (c *Connection) Recipient() string { return c.recipient }

// Done is closed once the connection reaches a terminal state and has
// been unregistered.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Reason returns the terminal state, or "" while the connection is open.
func (c *Connection) Reason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Send queues env for the write loop without blocking. While a replay is
// being prepared, live envelopes are held back so they cannot overtake it.
func (c *Connection) Send(env models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrConnectionClosed
	}
	if c.replaying {
		if len(c.pending) >= cap(c.out) {
			return domain.ErrSlowConsumer
		}
		c.pending = append(c.pending, env)
		return nil
	}
	select {
	case c.out <- env:
		return nil
	default:
		return domain.ErrSlowConsumer
	}
}

// beginReplay holds back live sends until finishReplay.
func (c *Connection) beginReplay() {
	c.mu.Lock()
	c.replaying = true
	c.mu.Unlock()
}

// finishReplay queues backlog followed by the live envelopes that arrived
// meanwhile, skipping any already present in backlog. When both do not fit
// the outbound queue, the oldest backlog entries are dropped and their
// count is returned; live envelopes are always kept.
func (c *Connection) finishReplay(backlog []models.Envelope) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := c.pending
	c.pending = nil
	c.replaying = false
	if c.closed {
		return 0, domain.ErrConnectionClosed
	}

	seen := make(map[string]struct{}, len(backlog))
	for _, env := range backlog {
		seen[env.ID] = struct{}{}
	}
	live := pending[:0]
	for _, env := range pending {
		if _, dup := seen[env.ID]; !dup {
			live = append(live, env)
		}
	}

	dropped := 0
	if room := cap(c.out) - len(c.out) - len(live); len(backlog) > room {
		dropped = len(backlog) - max(room, 0)
		backlog = backlog[dropped:]
	}
	for _, env := range backlog {
		c.out <- env
	}
	for _, env := range live {
		c.out <- env
	}
	return dropped, nil
}

// Close moves the connection to its terminal state. Only the first call has
// any effect; it runs the registry's removal callback exactly once.
func (c *Connection) Close(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.reason = reason
		c.pending = nil
		c.mu.Unlock()

		if c.onClose != nil {
			c.onClose(c, reason)
		}
		close(c.done)
	})
}

// Serve drains the outbound queue into sink until ctx is done or the
// connection is closed, emitting a keepalive every keepalive interval
// (disabled when zero). It runs on the transport's goroutine and returns
// the terminal reason.
func (c *Connection) Serve(ctx context.Context, sink Sink, keepalive time.Duration) CloseReason {
	var tick <-chan time.Time
	if keepalive > 0 {
		t := time.NewTicker(keepalive)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			c.Close(ReasonClosed)
			return c.Reason()
		case <-c.done:
			return c.Reason()
		case env := <-c.out:
			if err := sink.WriteEnvelope(env); err != nil {
				c.Close(reasonFor(err))
				return c.Reason()
			}
		case <-tick:
			if err := sink.WriteKeepalive(); err != nil {
				c.Close(reasonFor(err))
				return c.Reason()
			}
		}
	}
}

func reasonFor(err error) CloseReason {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimedOut
	}
	return ReasonErrored
}
