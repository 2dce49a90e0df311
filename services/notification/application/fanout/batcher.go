package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// Default batching triggers.
const (
	DefaultBatchSize     = 5
	DefaultFlushInterval = 100 * time.Millisecond
)

// Deliverer receives flushed envelopes. *Registry satisfies it.
type Deliverer interface {
	DeliverLocal(recipient string, env models.Envelope) DeliveryResult
}

// Batcher coalesces bursts per recipient. A queue is flushed when it reaches
// the size threshold (synchronously, on the enqueuing goroutine) or on the
// next tick of Run, whichever comes first. Flushing preserves enqueue order
// and removes the drained queue.
type Batcher struct {
	size     int
	interval time.Duration
	deliver  Deliverer
	onFlush  func(recipient string, res DeliveryResult)

	queues  sync.Map // recipient -> *batchQueue
	pending atomic.Int64
}

type batchQueue struct {
	mu    sync.Mutex
	items []models.Envelope
	dead  bool
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithFlushObserver registers fn to be called once per delivered envelope.
func WithFlushObserver(fn func(recipient string, res DeliveryResult)) BatcherOption {
	return func(b *Batcher) { b.onFlush = fn }
}

// NewBatcher returns a Batcher forwarding to d.
func NewBatcher(d Deliverer, size int, interval time.Duration, opts ...BatcherOption) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	b := &Batcher{size: size, interval: interval, deliver: d}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue appends env to recipient's queue and flushes it inline once the
// size threshold is reached.
func (b *Batcher) Enqueue(recipient string, env models.Envelope) {
	for {
		v, _ := b.queues.LoadOrStore(recipient, &batchQueue{})
		q := v.(*batchQueue)

		q.mu.Lock()
		if q.dead {
			q.mu.Unlock()
			continue
		}
		q.items = append(q.items, env)
		b.pending.Add(1)
		if len(q.items) >= b.size {
			b.drainLocked(recipient, q)
		}
		q.mu.Unlock()
		return
	}
}

// Flush drains recipient's queue and returns how many envelopes it forwarded.
func (b *Batcher) Flush(recipient string) int {
	v, ok := b.queues.Load(recipient)
	if !ok {
		return 0
	}
	q := v.(*batchQueue)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dead {
		return 0
	}
	return b.drainLocked(recipient, q)
}

// FlushAll drains every queue.
func (b *Batcher) FlushAll() int {
	n := 0
	b.queues.Range(func(k, _ any) bool {
		n += b.Flush(k.(string))
		return true
	})
	return n
}

// drainLocked delivers every queued envelope in order and then unlinks the
// queue. The queue stays in the map until delivery is done, so a concurrent
// Enqueue waits on q.mu instead of starting a second queue that could
// overtake this one. Must be called with q.mu held.
func (b *Batcher) drainLocked(recipient string, q *batchQueue) int {
	items := q.items
	q.items = nil
	for _, env := range items {
		res := b.deliver.DeliverLocal(recipient, env)
		b.pending.Add(-1)
		if b.onFlush != nil {
			b.onFlush(recipient, res)
		}
	}
	q.dead = true
	b.queues.CompareAndDelete(recipient, q)
	return len(items)
}

// Pending returns the number of envelopes waiting in all queues.
func (b *Batcher) Pending() int {
	return int(b.pending.Load())
}

// Run flushes all queues every interval until ctx is done, then flushes
// one last time.
func (b *Batcher) Run(ctx context.Context) {
	t := time.NewTicker(b.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			b.FlushAll()
			return
		case <-t.C:
			b.FlushAll()
		}
	}
}
