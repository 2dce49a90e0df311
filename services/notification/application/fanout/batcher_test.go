package fanout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// recordingDeliverer remembers every DeliverLocal call in order.
type recordingDeliverer struct {
	mu    sync.Mutex
	calls []models.Envelope
}

func (d *recordingDeliverer) DeliverLocal(_ string, e models.Envelope) DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, e)
	return DeliveryResult{Succeeded: 1}
}

func (d *recordingDeliverer) Calls() []models.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Envelope(nil), d.calls...)
}

// TestBatcher_SizeTriggerFlushesInline verifies reaching the threshold
// flushes on the caller's goroutine with no ticker running.
func TestBatcher_SizeTriggerFlushesInline(t *testing.T) {
	d := &recordingDeliverer{}
	b := NewBatcher(d, 5, time.Hour)

	for _, e := range envs("alice", "e1", "e2", "e3", "e4") {
		b.Enqueue("alice", e)
	}
	if len(d.Calls()) != 0 {
		t.Fatalf("below threshold nothing should be delivered, got %v", ids(d.Calls()))
	}
	if b.Pending() != 4 {
		t.Errorf("pending: got %d, want 4", b.Pending())
	}

	b.Enqueue("alice", env("e5", "alice"))

	equalIDs(t, d.Calls(), "e1", "e2", "e3", "e4", "e5")
	if b.Pending() != 0 {
		t.Errorf("pending: got %d, want 0", b.Pending())
	}
	if _, ok := b.queues.Load("alice"); ok {
		t.Error("drained queue must be removed")
	}
}

// TestBatcher_TickFlushesPartialQueue verifies fewer than the threshold are
// delivered within one tick.
func TestBatcher_TickFlushesPartialQueue(t *testing.T) {
	d := &recordingDeliverer{}
	b := NewBatcher(d, 5, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Enqueue("alice", env("e1", "alice"))
	b.Enqueue("alice", env("e2", "alice"))

	deadline := time.Now().Add(time.Second)
	for len(d.Calls()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	equalIDs(t, d.Calls(), "e1", "e2")
}

func TestBatcher_FlushUnknownRecipient(t *testing.T) {
	b := NewBatcher(&recordingDeliverer{}, 5, time.Hour)
	if n := b.Flush("nobody"); n != 0 {
		t.Errorf("flush: got %d", n)
	}
}

func TestBatcher_RunFlushesOnShutdown(t *testing.T) {
	d := &recordingDeliverer{}
	b := NewBatcher(d, 5, time.Hour)
	b.Enqueue("alice", env("e1", "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	equalIDs(t, d.Calls(), "e1")
}

// TestBatcher_OrderUnderConcurrency verifies a single producer's order is
// kept while the ticker and size trigger race.
func TestBatcher_OrderUnderConcurrency(t *testing.T) {
	d := &recordingDeliverer{}
	b := NewBatcher(d, 3, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	var want []string
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("e%03d", i)
		want = append(want, id)
		b.Enqueue("alice", env(id, "alice"))
	}
	cancel()
	<-done

	equalIDs(t, d.Calls(), want...)
}

func TestBatcher_FlushObserver(t *testing.T) {
	var mu sync.Mutex
	var total DeliveryResult
	b := NewBatcher(&recordingDeliverer{}, 2, time.Hour, WithFlushObserver(func(_ string, r DeliveryResult) {
		mu.Lock()
		total.Succeeded += r.Succeeded
		mu.Unlock()
	}))
	b.Enqueue("alice", env("e1", "alice"))
	b.Enqueue("alice", env("e2", "alice"))

	mu.Lock()
	defer mu.Unlock()
	if total.Succeeded != 2 {
		t.Errorf("observed: got %d, want 2", total.Succeeded)
	}
}
