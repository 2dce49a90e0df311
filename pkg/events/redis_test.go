package events

import (
	"context"
	"os"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Integration test: skipped unless REDIS_URL is set.
func TestRedisTransportIntegration(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set; skipping integration tests")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close() //nolint:errcheck

	a := New(NewRedisTransport(rdb, nopLogger()), nopLogger())
	b := New(NewRedisTransport(rdb, nopLogger()), nopLogger())
	defer a.Close() //nolint:errcheck
	defer b.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	topic := "test-" + uuid.NewString()
	gotA := collect(t, ctx, a, topic)
	gotB := collect(t, ctx, b, topic)

	if err := a.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := a.Publish(ctx, topic, message.NewMessage("m1", []byte(`{"id":"1"}`))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, ch := range map[string]<-chan *message.Message{"a": gotA, "b": gotB} {
		if msg := waitFor(t, ch); string(msg.Payload) != `{"id":"1"}` {
			t.Errorf("%s: payload %s", name, msg.Payload)
		}
	}
}
