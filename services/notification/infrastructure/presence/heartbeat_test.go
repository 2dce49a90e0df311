package presence

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ghuser/notifyhub/pkg/logger"
)

type fakeDirectory struct {
	mu        sync.Mutex
	announced [][]string
	withdrawn []string
	ttl       time.Duration
	err       error
}

func (f *fakeDirectory) Announce(_ context.Context, _ string, recipients []string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.announced = append(f.announced, slices.Clone(recipients))
	f.ttl = ttl
	return nil
}

func (f *fakeDirectory) Withdraw(_ context.Context, _ string, recipients ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawn = append(f.withdrawn, recipients...)
	return nil
}

func (f *fakeDirectory) snapshot() ([][]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.announced), slices.Clone(f.withdrawn)
}

type fakeSource struct {
	mu         sync.Mutex
	recipients []string
}

func (f *fakeSource) set(r ...string) {
	f.mu.Lock()
	f.recipients = r
	f.mu.Unlock()
}

func (f *fakeSource) ConnectedRecipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.recipients)
}

func TestBeat_WithdrawsDepartedRecipients(t *testing.T) {
	dir := &fakeDirectory{}
	src := &fakeSource{}
	h := NewHeartbeat(dir, src, "pod-a", time.Second, 3*time.Second, logger.Nop())
	ctx := context.Background()

	src.set("alice", "bob")
	if err := h.Beat(ctx); err != nil {
		t.Fatalf("beat: %v", err)
	}
	src.set("bob")
	if err := h.Beat(ctx); err != nil {
		t.Fatalf("beat: %v", err)
	}

	announced, withdrawn := dir.snapshot()
	if len(announced) != 2 || !slices.Equal(announced[1], []string{"bob"}) {
		t.Errorf("announced: %v", announced)
	}
	if !slices.Equal(withdrawn, []string{"alice"}) {
		t.Errorf("withdrawn: got %v, want [alice]", withdrawn)
	}
	if dir.ttl != 3*time.Second {
		t.Errorf("ttl: got %v", dir.ttl)
	}
}

func TestBeat_AnnounceErrorKeepsPreviousSnapshot(t *testing.T) {
	dir := &fakeDirectory{}
	src := &fakeSource{}
	h := NewHeartbeat(dir, src, "pod-a", time.Second, 3*time.Second, logger.Nop())

	src.set("alice")
	_ = h.Beat(context.Background())

	dir.err = errors.New("redis down")
	src.set()
	if err := h.Beat(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	dir.err = nil
	if err := h.Beat(context.Background()); err != nil {
		t.Fatalf("beat: %v", err)
	}
	if _, withdrawn := dir.snapshot(); !slices.Equal(withdrawn, []string{"alice"}) {
		t.Errorf("withdrawn: got %v, want [alice]", withdrawn)
	}
}

func TestNewHeartbeat_TTLAtLeastInterval(t *testing.T) {
	h := NewHeartbeat(&fakeDirectory{}, &fakeSource{}, "pod-a", time.Minute, time.Second, logger.Nop())
	if h.ttl != 3*time.Minute {
		t.Errorf("ttl: got %v, want 3m", h.ttl)
	}
}

func TestRun_WithdrawsOnShutdown(t *testing.T) {
	dir := &fakeDirectory{}
	src := &fakeSource{}
	src.set("alice", "bob")
	h := NewHeartbeat(dir, src, "pod-a", 10*time.Millisecond, time.Second, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		if announced, _ := dir.snapshot(); len(announced) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat never ticked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if _, withdrawn := dir.snapshot(); !slices.Equal(withdrawn, []string{"alice", "bob"}) {
		t.Errorf("withdrawn on shutdown: got %v", withdrawn)
	}
}

func TestMissing(t *testing.T) {
	got := missing([]string{"a", "b", "c"}, []string{"b", "d"})
	if !slices.Equal(got, []string{"a", "c"}) {
		t.Errorf("got %v", got)
	}
	if missing(nil, []string{"a"}) != nil {
		t.Error("expected nil for empty prev")
	}
}
