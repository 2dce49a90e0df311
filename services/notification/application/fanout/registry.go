package fanout

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// DeliveryResult counts the outcome of one DeliverLocal call.
type DeliveryResult struct {
	Succeeded int
	Failed    int
}

// Registry maps recipients to their live connections on this instance.
// Each recipient has its own lock; no operation takes a global lock.
type Registry struct {
	entries sync.Map // recipient -> *recipientConns
	active  atomic.Int64
}

type recipientConns struct {
	mu    sync.Mutex
	conns map[Conn]struct{}
	// dead marks an entry already unlinked from the map; writers that find
	// it must retry with a fresh entry.
	dead bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds conn under recipient. Several connections per recipient
// are allowed. Registering the same conn twice is a no-op.
func (r *Registry) Register(recipient string, conn Conn) {
	for {
		v, _ := r.entries.LoadOrStore(recipient, &recipientConns{conns: make(map[Conn]struct{})})
		e := v.(*recipientConns)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		if _, ok := e.conns[conn]; !ok {
			e.conns[conn] = struct{}{}
			r.active.Add(1)
		}
		e.mu.Unlock()
		return
	}
}

// DeliverLocal sends env to every connection registered for recipient.
// Connections whose Send fails are unregistered and closed as Errored;
// failures are only reported through the counts.
func (r *Registry) DeliverLocal(recipient string, env models.Envelope) DeliveryResult {
	var res DeliveryResult
	v, ok := r.entries.Load(recipient)
	if !ok {
		return res
	}
	e := v.(*recipientConns)

	var failed []Conn
	e.mu.Lock()
	for conn := range e.conns {
		if err := conn.Send(env); err != nil {
			failed = append(failed, conn)
			delete(e.conns, conn)
			r.active.Add(-1)
			res.Failed++
			continue
		}
		res.Succeeded++
	}
	r.unlinkIfEmpty(recipient, e)
	e.mu.Unlock()

	// Close outside the lock: Close calls back into Remove.
	for _, conn := range failed {
		conn.Close(ReasonErrored)
	}
	return res
}

// Remove unregisters conn. It reports whether conn was registered and is
// safe to call any number of times.
func (r *Registry) Remove(recipient string, conn Conn) bool {
	v, ok := r.entries.Load(recipient)
	if !ok {
		return false
	}
	e := v.(*recipientConns)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.conns[conn]; !ok {
		return false
	}
	delete(e.conns, conn)
	r.active.Add(-1)
	r.unlinkIfEmpty(recipient, e)
	return true
}

// unlinkIfEmpty must be called with e.mu held.
func (r *Registry) unlinkIfEmpty(recipient string, e *recipientConns) {
	if len(e.conns) > 0 || e.dead {
		return
	}
	e.dead = true
	r.entries.CompareAndDelete(recipient, e)
}

// ActiveConnectionCount returns the number of registered connections.
func (r *Registry) ActiveConnectionCount() int {
	return int(r.active.Load())
}

// ConnectionCount returns the number of connections held for recipient.
func (r *Registry) ConnectionCount(recipient string) int {
	v, ok := r.entries.Load(recipient)
	if !ok {
		return 0
	}
	e := v.(*recipientConns)
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// ConnectedRecipients returns the recipients with at least one connection, sorted.
func (r *Registry) ConnectedRecipients() []string {
	var out []string
	r.entries.Range(func(k, v any) bool {
		e := v.(*recipientConns)
		e.mu.Lock()
		n := len(e.conns)
		e.mu.Unlock()
		if n > 0 {
			out = append(out, k.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}
