package fanout

import (
	"sync"

	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// DefaultReplaySize is the per-recipient replay window when none is configured.
const DefaultReplaySize = 100

// ReplayBuffer keeps the last N envelopes per recipient in insertion order
// so a reconnecting stream can resume after its last seen id.
//
// Windows are created lazily and never removed: memory is bounded per
// recipient but grows with the number of distinct recipients seen over the
// process lifetime. Nothing is persisted.
type ReplayBuffer struct {
	size    int
	windows sync.Map // recipient -> *replayWindow
}

type replayWindow struct {
	mu    sync.Mutex
	items []models.Envelope
}

// NewReplayBuffer returns a buffer holding at most size envelopes per recipient.
func NewReplayBuffer(size int) *ReplayBuffer {
	if size <= 0 {
		size = DefaultReplaySize
	}
	return &ReplayBuffer{size: size}
}

// Record appends env to recipient's window, evicting the oldest entry once
// the window is full. An envelope whose id is already in the window is not
// stored again and Record reports false.
func (b *ReplayBuffer) Record(recipient string, env models.Envelope) bool {
	v, _ := b.windows.LoadOrStore(recipient, &replayWindow{items: make([]models.Envelope, 0, b.size)})
	w := v.(*replayWindow)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.items {
		if w.items[i].ID == env.ID {
			return false
		}
	}
	if len(w.items) < b.size {
		w.items = append(w.items, env)
		return true
	}
	copy(w.items, w.items[1:])
	w.items[len(w.items)-1] = env
	return true
}

// Since returns the envelopes recorded strictly after lastID, oldest first.
// An empty, unknown or evicted lastID yields nil: the caller resumes from now.
func (b *ReplayBuffer) Since(recipient, lastID string) []models.Envelope {
	if lastID == "" {
		return nil
	}
	v, ok := b.windows.Load(recipient)
	if !ok {
		return nil
	}
	w := v.(*replayWindow)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.items {
		if w.items[i].ID != lastID {
			continue
		}
		rest := w.items[i+1:]
		if len(rest) == 0 {
			return nil
		}
		out := make([]models.Envelope, len(rest))
		copy(out, rest)
		return out
	}
	return nil
}

// Len reports how many envelopes are buffered for recipient.
func (b *ReplayBuffer) Len(recipient string) int {
	v, ok := b.windows.Load(recipient)
	if !ok {
		return 0
	}
	w := v.(*replayWindow)
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Snapshot returns a copy of recipient's window, oldest first.
func (b *ReplayBuffer) Snapshot(recipient string) []models.Envelope {
	v, ok := b.windows.Load(recipient)
	if !ok {
		return nil
	}
	w := v.(*replayWindow)
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]models.Envelope, len(w.items))
	copy(out, w.items)
	return out
}
