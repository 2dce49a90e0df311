package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence"

// PresenceDirectory records which instances currently hold open streams for
// a recipient. It is informational only; delivery never consults it.
//
// Key format: "presence:{recipient}", a sorted set whose members are
// instance ids scored by the unix-millisecond time their claim expires.
// Expired members are pruned on every write and ignored on read, and the
// key itself carries a TTL so abandoned recipients disappear.
type PresenceDirectory struct {
	client *redis.Client
	now    func() time.Time
}

// NewPresenceDirectory creates a PresenceDirectory backed by the given client.
func NewPresenceDirectory(r *RedisClient) *PresenceDirectory {
	return &PresenceDirectory{client: r.Client(), now: time.Now}
}

// Announce refreshes instanceID's claim on every recipient for ttl.
// All writes go through one pipeline.
func (p *PresenceDirectory) Announce(ctx context.Context, instanceID string, recipients []string, ttl time.Duration) error {
	if len(recipients) == 0 {
		return nil
	}
	now := p.now()
	expiry := float64(now.Add(ttl).UnixMilli())
	stale := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := p.client.Pipeline()
	for _, r := range recipients {
		key := p.key(r)
		pipe.ZAdd(ctx, key, redis.Z{Score: expiry, Member: instanceID})
		pipe.ZRemRangeByScore(ctx, key, "-inf", stale)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence announce: %w", err)
	}
	return nil
}

// Withdraw drops instanceID's claim on recipient.
func (p *PresenceDirectory) Withdraw(ctx context.Context, instanceID string, recipients ...string) error {
	if len(recipients) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, r := range recipients {
		pipe.ZRem(ctx, p.key(r), instanceID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence withdraw: %w", err)
	}
	return nil
}

// Instances returns the instance ids holding an unexpired claim on recipient.
// An unknown recipient yields an empty slice.
func (p *PresenceDirectory) Instances(ctx context.Context, recipient string) ([]string, error) {
	minScore := "(" + strconv.FormatInt(p.now().UnixMilli(), 10)
	ids, err := p.client.ZRangeByScore(ctx, p.key(recipient), &redis.ZRangeBy{
		Min: minScore,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("presence instances: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// key builds the Redis key: "presence:{recipient}"
func (p *PresenceDirectory) key(recipient string) string {
	return presenceKeyPrefix + ":" + recipient
}
