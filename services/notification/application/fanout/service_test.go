package fanout

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ghuser/notifyhub/services/notification/domain"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// stream opens a connection and serves it into a recording sink.
func stream(t *testing.T, s *Service, recipient, lastEventID string) (*Connection, *recordingSink, context.CancelFunc) {
	t.Helper()
	conn, err := s.OpenConnection(context.Background(), recipient, lastEventID)
	if err != nil {
		t.Fatalf("open connection: %v", err)
	}
	sink := newRecordingSink()
	ctx, cancel := context.WithCancel(context.Background())
	go conn.Serve(ctx, sink, 0)
	return conn, sink, cancel
}

func runService(t *testing.T, s *Service) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	return cancel
}

// TestService_TwoTabsScenario: alice has two streams, both get e1; after
// one closes, e2 reaches exactly one stream.
func TestService_TwoTabsScenario(t *testing.T) {
	s := newTestService(t, &fakeBridge{healthy: true})
	stop := runService(t, s)
	defer stop()

	tab1, sink1, cancel1 := stream(t, s, "alice", "")
	_, sink2, cancel2 := stream(t, s, "alice", "")
	defer cancel2()

	if err := s.Publish(context.Background(), models.Envelope{ID: "e1", Type: "X", Recipient: "alice"}); err != nil {
		t.Fatalf("publish e1: %v", err)
	}
	equalIDs(t, sink1.waitFrames(t, 1), "e1")
	equalIDs(t, sink2.waitFrames(t, 1), "e1")

	cancel1()
	<-tab1.Done()
	if s.ConnectionCount("alice") != 1 {
		t.Fatalf("alice connections: got %d, want 1", s.ConnectionCount("alice"))
	}

	res := s.registry.DeliverLocal("alice", models.Envelope{ID: "e2", Type: "X", Recipient: "alice"})
	if res != (DeliveryResult{Succeeded: 1}) {
		t.Errorf("delivery: got %+v", res)
	}
	equalIDs(t, sink2.waitFrames(t, 2), "e1", "e2")
	if st := s.Status(); st.ActiveConnections != 1 {
		t.Errorf("active connections: got %d", st.ActiveConnections)
	}
}

// TestService_PublishOrder verifies quick successive publishes arrive in order.
func TestService_PublishOrder(t *testing.T) {
	s := newTestService(t, &fakeBridge{healthy: true})
	stop := runService(t, s)
	defer stop()

	_, sink, cancel := stream(t, s, "alice", "")
	defer cancel()

	var want []string
	for _, e := range envs("alice", "e1", "e2", "e3", "e4", "e5", "e6", "e7") {
		want = append(want, e.ID)
		if err := s.Publish(context.Background(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	equalIDs(t, sink.waitFrames(t, len(want)), want...)
}

// TestService_BrokerOutageFallsBackToLocal verifies a failing broker still
// yields local delivery, no error for the caller and an unhealthy status.
func TestService_BrokerOutageFallsBackToLocal(t *testing.T) {
	br := &fakeBridge{err: errors.New("connection refused"), healthy: false}
	s := newTestService(t, br)
	stop := runService(t, s)
	defer stop()

	_, sink, cancel := stream(t, s, "alice", "")
	defer cancel()

	if err := s.Publish(context.Background(), env("e1", "alice")); err != nil {
		t.Fatalf("publish must not surface broker errors, got %v", err)
	}
	equalIDs(t, sink.waitFrames(t, 1), "e1")
	if s.Status().BrokerHealthy {
		t.Error("status should report broker unhealthy")
	}
}

// TestService_PublishTimeoutBounded verifies a stalled broker cannot hold
// the caller past the publish timeout.
func TestService_PublishTimeoutBounded(t *testing.T) {
	br := &fakeBridge{block: true}
	s := newTestService(t, br, func(c *Config) { c.PublishTimeout = 20 * time.Millisecond })
	stop := runService(t, s)
	defer stop()

	_, sink, cancel := stream(t, s, "alice", "")
	defer cancel()

	start := time.Now()
	if err := s.Publish(context.Background(), env("e1", "alice")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("publish took %v", elapsed)
	}
	equalIDs(t, sink.waitFrames(t, 1), "e1")
}

func TestService_PublishRejectsMissingRecipient(t *testing.T) {
	br := &fakeBridge{healthy: true}
	s := newTestService(t, br)

	err := s.Publish(context.Background(), models.Envelope{ID: "e1", Type: "X"})
	if !errors.Is(err, domain.ErrMissingRecipient) {
		t.Fatalf("expected ErrMissingRecipient, got %v", err)
	}
	if len(br.Published()) != 0 {
		t.Error("rejected envelope must not reach the broker")
	}
	if s.ReplayLen("") != 0 {
		t.Error("rejected envelope must not be buffered")
	}
}

func TestService_OpenConnectionRequiresRecipient(t *testing.T) {
	s := newTestService(t, nil)
	if _, err := s.OpenConnection(context.Background(), "", ""); !errors.Is(err, domain.ErrMissingRecipient) {
		t.Fatalf("expected ErrMissingRecipient, got %v", err)
	}
}

// TestService_ResumeReplaysMissedEnvelopes verifies a reconnect with a
// known last id receives exactly what it missed, then live traffic.
func TestService_ResumeReplaysMissedEnvelopes(t *testing.T) {
	s := newTestService(t, nil)
	stop := runService(t, s)
	defer stop()

	for _, e := range envs("alice", "e1", "e2", "e3", "e4", "e5") {
		if err := s.Publish(context.Background(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	_, sink, cancel := stream(t, s, "alice", "e3")
	defer cancel()
	equalIDs(t, sink.waitFrames(t, 2), "e4", "e5")

	if err := s.Publish(context.Background(), env("e6", "alice")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	equalIDs(t, sink.waitFrames(t, 3), "e4", "e5", "e6")
}

// TestService_ResumeAfterWindowIsEmpty covers the one visible loss: a last
// id that aged out of the window resumes from now.
func TestService_ResumeAfterWindowIsEmpty(t *testing.T) {
	s := newTestService(t, nil, func(c *Config) { c.ReplaySize = 3 })
	stop := runService(t, s)
	defer stop()

	for _, e := range envs("alice", "e1", "e2", "e3", "e4", "e5") {
		_ = s.Publish(context.Background(), e)
	}

	_, sink, cancel := stream(t, s, "alice", "e1")
	defer cancel()

	_ = s.Publish(context.Background(), env("e6", "alice"))
	equalIDs(t, sink.waitFrames(t, 1), "e6")
}

// TestService_BridgeMessageBypassesBatcher verifies a peer's envelope is
// buffered and delivered immediately, with no ticker running.
func TestService_BridgeMessageBypassesBatcher(t *testing.T) {
	s := newTestService(t, nil, func(c *Config) { c.FlushInterval = time.Hour })

	_, sink, cancel := stream(t, s, "alice", "")
	defer cancel()

	s.OnBridgeMessage(context.Background(), env("remote-1", "alice"))

	equalIDs(t, sink.waitFrames(t, 1), "remote-1")
	if s.ReplayLen("alice") != 1 {
		t.Errorf("replay len: got %d", s.ReplayLen("alice"))
	}
	if s.Status().PendingEnvelopes != 0 {
		t.Error("bridge envelopes must not be batched")
	}
}

// TestService_SelfOriginatedBridgeCopySkipped verifies the broker echo of
// an envelope published here is not delivered a second time.
func TestService_SelfOriginatedBridgeCopySkipped(t *testing.T) {
	br := &fakeBridge{healthy: true}
	s := newTestService(t, br)
	stop := runService(t, s)
	defer stop()

	_, sink, cancel := stream(t, s, "alice", "")
	defer cancel()

	if err := s.Publish(context.Background(), env("e1", "alice")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	equalIDs(t, sink.waitFrames(t, 1), "e1")

	for _, e := range br.Published() {
		s.OnBridgeMessage(context.Background(), e)
	}
	s.OnBridgeMessage(context.Background(), env("e2", "alice"))

	equalIDs(t, sink.waitFrames(t, 2), "e1", "e2")
}

func TestService_RunSubscribesBridge(t *testing.T) {
	br := &fakeBridge{healthy: true}
	s := newTestService(t, br)
	stop := runService(t, s)
	defer stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if br.subscribed() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Run did not subscribe to the bridge")
}

// TestService_RunRetriesSubscribe verifies a broker that is down at startup
// does not stop local delivery and is subscribed to once reachable.
func TestService_RunRetriesSubscribe(t *testing.T) {
	br := &fakeBridge{healthy: false, subFailures: 2}
	s := newTestService(t, br, func(c *Config) { c.SubscribeRetry = 10 * time.Millisecond })
	stop := runService(t, s)
	defer stop()

	_, sink, cancel := stream(t, s, "alice", "")
	defer cancel()
	if err := s.Publish(context.Background(), env("e1", "alice")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	equalIDs(t, sink.waitFrames(t, 1), "e1")

	deadline := time.Now().Add(time.Second)
	for !br.subscribed() {
		if time.Now().After(deadline) {
			t.Fatal("subscription was never retried")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService_Status(t *testing.T) {
	s := newTestService(t, &fakeBridge{healthy: true}, func(c *Config) { c.FlushInterval = time.Hour })
	_, _, cancel := stream(t, s, "alice", "")
	defer cancel()
	_, _, cancel2 := stream(t, s, "bob", "")
	defer cancel2()
	_ = s.Publish(context.Background(), env("e1", "alice"))

	st := s.Status()
	want := Status{ActiveConnections: 2, BrokerHealthy: true, ConnectedRecipients: 2, PendingEnvelopes: 1, InstanceID: "pod-test"}
	if st != want {
		t.Errorf("status: got %+v, want %+v", st, want)
	}
}

// TestService_ResumeLargerThanConnectionBuffer verifies a backlog that does
// not fit the outbound queue still yields a live stream carrying the newest
// envelopes, then live traffic.
func TestService_ResumeLargerThanConnectionBuffer(t *testing.T) {
	s := newTestService(t, nil, func(c *Config) {
		c.ReplaySize = 100
		c.ConnectionBuffer = 16
		c.FlushInterval = time.Hour
	})

	var ids []string
	for i := 0; i < 40; i++ {
		ids = append(ids, fmt.Sprintf("e%d", i))
	}
	for _, e := range envs("alice", ids...) {
		if err := s.Publish(context.Background(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	conn, sink, cancel := stream(t, s, "alice", "e0")
	defer cancel()
	if conn.Reason() != "" {
		t.Fatalf("connection closed on resume: %s", conn.Reason())
	}
	equalIDs(t, sink.waitFrames(t, 16), ids[24:]...)

	s.OnBridgeMessage(context.Background(), env("live", "alice"))
	equalIDs(t, sink.waitFrames(t, 17), append(ids[24:], "live")...)
}
