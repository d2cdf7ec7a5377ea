package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const issueKeyPattern = "otp:issue:%s" // identity

// IssueKey is the key holding an identity's issuance guard.
func IssueKey(identity string) string {
	return fmt.Sprintf(issueKeyPattern, identity)
}

// NewClient connects to addr and pings it.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// IssueGuard holds a per-identity key for the cooldown period so concurrent
// instances cannot both pass the cooldown check for the same identity.
type IssueGuard struct {
	rdb *redis.Client
}

func NewIssueGuard(rdb *redis.Client) *IssueGuard {
	return &IssueGuard{rdb: rdb}
}

// Acquire sets the guard key for hold. When it is already held it returns
// false and the key's remaining TTL.
func (g *IssueGuard) Acquire(ctx context.Context, identity string, hold time.Duration) (bool, time.Duration, error) {
	key := IssueKey(identity)
	ok, err := g.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), hold).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := g.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	// -2: expired between SETNX and PTTL, -1: no expiry set
	if ttl < 0 {
		ttl = hold
	}
	return false, ttl, nil
}

// Release drops the guard, used when issuance fails before a code was stored.
func (g *IssueGuard) Release(ctx context.Context, identity string) error {
	return g.rdb.Del(ctx, IssueKey(identity)).Err()
}
