// Package presence keeps the cluster presence directory current for the
// recipients this instance is streaming to. The directory is read by
// operators and tooling; delivery never consults it.
package presence

import (
	"context"
	"slices"
	"time"

	"github.com/ghuser/notifyhub/pkg/logger"
)

// Directory is the slice of *cache.PresenceDirectory the heartbeat uses.
type Directory interface {
	Announce(ctx context.Context, instanceID string, recipients []string, ttl time.Duration) error
	Withdraw(ctx context.Context, instanceID string, recipients ...string) error
}

// Source lists the recipients with at least one open local stream.
type Source interface {
	ConnectedRecipients() []string
}

// Heartbeat periodically announces the local recipients and withdraws the
// ones that went away since the previous beat.
type Heartbeat struct {
	dir        Directory
	src        Source
	instanceID string
	interval   time.Duration
	ttl        time.Duration
	log        logger.Logger

	last []string
}

// NewHeartbeat returns a Heartbeat. ttl should comfortably exceed interval
// so a single missed beat does not drop the claim.
func NewHeartbeat(dir Directory, src Source, instanceID string, interval, ttl time.Duration, log logger.Logger) *Heartbeat {
	if ttl < interval {
		ttl = 3 * interval
	}
	return &Heartbeat{
		dir:        dir,
		src:        src,
		instanceID: instanceID,
		interval:   interval,
		ttl:        ttl,
		log:        log.With("component", "presence", "instance_id", instanceID),
	}
}

// Beat publishes one snapshot.
func (h *Heartbeat) Beat(ctx context.Context) error {
	current := h.src.ConnectedRecipients()
	if err := h.dir.Announce(ctx, h.instanceID, current, h.ttl); err != nil {
		return err
	}
	if gone := missing(h.last, current); len(gone) > 0 {
		if err := h.dir.Withdraw(ctx, h.instanceID, gone...); err != nil {
			return err
		}
	}
	h.last = current
	return nil
}

// Run beats every interval until ctx is done, then withdraws everything it
// last announced using a short detached context.
func (h *Heartbeat) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	h.beatAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			h.withdrawAll()
			return
		case <-t.C:
			h.beatAndLog(ctx)
		}
	}
}

func (h *Heartbeat) beatAndLog(ctx context.Context) {
	if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
		h.log.WarnContext(ctx, "presence heartbeat failed", "error", err)
	}
}

func (h *Heartbeat) withdrawAll() {
	if len(h.last) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.dir.Withdraw(ctx, h.instanceID, h.last...); err != nil {
		h.log.Warn("presence withdraw on shutdown failed", "error", err)
	}
	h.last = nil
}

// missing returns the members of prev absent from cur. Both are sorted.
func missing(prev, cur []string) []string {
	var out []string
	for _, p := range prev {
		if _, found := slices.BinarySearch(cur, p); !found {
			out = append(out, p)
		}
	}
	return out
}
