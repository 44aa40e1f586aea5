package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

// ChallengeCache implements domain.ChallengeStore using Redis with
// JSON-serialized challenges under a TTL.
//
// Key schema:
//
//	challenge:{id} - JSON-encoded domain.Challenge
type ChallengeCache struct {
	rdb *redis.Client
}

// NewChallengeCache creates a ChallengeCache backed by the given Client.
func NewChallengeCache(c *Client) *ChallengeCache {
	return &ChallengeCache{rdb: c.Underlying()}
}

func challengeKey(id string) string {
	return "challenge:" + id
}

// Put stores a challenge with the given TTL. Expired challenges simply
// disappear; no sweeper is needed.
func (c *ChallengeCache) Put(ctx context.Context, ch domain.Challenge, ttl time.Duration) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("redis: marshal challenge %s: %w", ch.ID, err)
	}
	if err := c.rdb.Set(ctx, challengeKey(ch.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put challenge %s: %w", ch.ID, err)
	}
	return nil
}

// Take returns and consumes the challenge atomically via GETDEL, so a
// challenge verifies at most once. It returns domain.ErrNotFound when the
// challenge is absent or expired.
func (c *ChallengeCache) Take(ctx context.Context, id string) (domain.Challenge, error) {
	data, err := c.rdb.GetDel(ctx, challengeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Challenge{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("redis: take challenge %s: %w", id, err)
	}

	var ch domain.Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return domain.Challenge{}, fmt.Errorf("redis: unmarshal challenge %s: %w", id, err)
	}
	return ch, nil
}

// Compile-time interface check.
var _ domain.ChallengeStore = (*ChallengeCache)(nil)
