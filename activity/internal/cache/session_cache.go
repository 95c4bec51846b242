// Package cache keeps a short-lived Redis copy of sessions for the request
// path. The relational store stays authoritative; every status transition
// overwrites the cached copy with a tombstone.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
)

const (
	keyPrefix = "activity:"
	tombstone = "-"
)

// SessionCache is a read-through cache keyed by a hash of the session token.
type SessionCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// cachedSession carries the token fields that models.Session hides from JSON.
type cachedSession struct {
	models.Session
	Token        string  `json:"token"`
	RefreshToken *string `json:"refresh"`
}

func NewSessionCache(client *redis.Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SessionCache{redis: client, ttl: ttl}
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// IsEnabled returns whether a client is configured.
func (c *SessionCache) IsEnabled() bool {
	return c != nil && c.redis != nil
}

// Get returns the cached session, or (nil, nil) on a miss. A tombstone
// reads as a miss.
func (c *SessionCache) Get(ctx context.Context, token string) (*models.Session, error) {
	if !c.IsEnabled() {
		return nil, nil
	}

	data, err := c.redis.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) || string(data) == tombstone {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}

	var cs cachedSession
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("failed to decode cached session: %w", err)
	}
	s := cs.Session
	s.SessionToken = cs.Token
	s.RefreshToken = cs.RefreshToken
	return &s, nil
}

// Fill runs load and caches its result, unless the session was invalidated
// while load was running. The session key is WATCHed across the load, so an
// Invalidate in between aborts the write. A principal revoked at or after
// start is not cached either.
//
// load is not called when the watch itself cannot be set up; callers must
// fall back to the repository in that case. The returned error is a cache
// error only.
func (c *SessionCache) Fill(ctx context.Context, token string, start time.Time, load func(context.Context) (*models.Session, error)) error {
	if !c.IsEnabled() {
		_, _ = load(ctx)
		return nil
	}

	key := sessionKey(token)
	err := c.redis.Watch(ctx, func(tx *redis.Tx) error {
		s, err := load(ctx)
		if err != nil || s == nil {
			return nil
		}

		revokedKey := principalRevokedKey(s.PrincipalID)
		if err := tx.Watch(ctx, revokedKey).Err(); err != nil {
			return err
		}
		revoked, err := tx.Get(ctx, revokedKey).Int64()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case revoked >= start.UnixNano():
			return nil
		}

		data, err := json.Marshal(cachedSession{Session: *s, Token: s.SessionToken, RefreshToken: s.RefreshToken})
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		idx := principalKey(s.PrincipalID)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			pipe.SAdd(ctx, idx, key)
			pipe.Expire(ctx, idx, c.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

// Invalidate replaces the cached copy of one session with a tombstone.
// Overwriting the key, rather than deleting it, also aborts any Fill that is
// watching it.
func (c *SessionCache) Invalidate(ctx context.Context, token string) error {
	if !c.IsEnabled() {
		return nil
	}
	if err := c.redis.Set(ctx, sessionKey(token), tombstone, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// InvalidatePrincipal tombstones every cached session of a principal and
// marks the principal revoked at, so reads that started earlier are not
// cached.
func (c *SessionCache) InvalidatePrincipal(ctx context.Context, principalID string, at time.Time) error {
	if !c.IsEnabled() {
		return nil
	}

	idx := principalKey(principalID)
	keys, err := c.redis.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("failed to read principal index: %w", err)
	}

	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, principalRevokedKey(principalID), at.UnixNano(), c.ttl)
	for _, key := range keys {
		pipe.Set(ctx, key, tombstone, c.ttl)
	}
	pipe.Del(ctx, idx)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate principal sessions: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *SessionCache) Close() error {
	if !c.IsEnabled() {
		return nil
	}
	return c.redis.Close()
}

// Raw tokens never appear in key names.
func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + "session:" + hex.EncodeToString(sum[:])
}

func principalKey(principalID string) string {
	return keyPrefix + "principal:" + principalID + ":sessions"
}

func principalRevokedKey(principalID string) string {
	return keyPrefix + "principal:" + principalID + ":revoked"
}
