// Package cache provides the optional redis layer: a short-TTL read-through
// cache of per-user account state for the token-verify hot path, and a
// per-address login throttle. Both degrade gracefully when redis is down;
// callers treat every error here as advisory.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// UserState is the cached subset of a user row that token verification
// needs: whether the account exists and whether it is active.
type UserState struct {
	Exists bool
	Active bool
}

// UserStateCache stores UserState under <prefix>:user:<id> with a short TTL
// so revocations and deactivations propagate within one TTL window.
type UserStateCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewUserStateCache(client *redis.Client, prefix string, ttl time.Duration) *UserStateCache {
	return &UserStateCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *UserStateCache) key(userID int64) string {
	return c.prefix + ":user:" + strconv.FormatInt(userID, 10)
}

// Get returns the cached state and whether it was present. A redis error is
// reported as a miss alongside the error.
func (c *UserStateCache) Get(ctx context.Context, userID int64) (UserState, bool, error) {
	if c == nil {
		return UserState{}, false, nil
	}

	val, err := c.client.Get(ctx, c.key(userID)).Result()
	if err == redis.Nil {
		return UserState{}, false, nil
	}
	if err != nil {
		return UserState{}, false, err
	}

	switch val {
	case "active":
		return UserState{Exists: true, Active: true}, true, nil
	case "inactive":
		return UserState{Exists: true, Active: false}, true, nil
	case "missing":
		return UserState{Exists: false}, true, nil
	default:
		return UserState{}, false, nil
	}
}

func (c *UserStateCache) Set(ctx context.Context, userID int64, state UserState) error {
	if c == nil {
		return nil
	}

	val := "missing"
	if state.Exists {
		val = "inactive"
		if state.Active {
			val = "active"
		}
	}

	return c.client.Set(ctx, c.key(userID), val, c.ttl).Err()
}

// Invalidate drops the cached entry so the next verify reloads from the
// store. Called after any mutation of the user row.
func (c *UserStateCache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(userID)).Err()
}

// LoginThrottle counts login attempts per client address in a fixed window
// using INCR plus EXPIRE on first increment.
type LoginThrottle struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
	window      time.Duration
}

func NewLoginThrottle(client *redis.Client, prefix string, maxAttempts int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{
		client:      client,
		prefix:      prefix,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Allow records one attempt from addr and reports whether it is within the
// window budget. Redis failures allow the attempt; the throttle is an
// optimization in front of the account lockout, not the enforcement point.
func (t *LoginThrottle) Allow(ctx context.Context, addr string) (bool, error) {
	if t == nil || addr == "" {
		return true, nil
	}

	key := t.prefix + ":throttle:login:" + addr

	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := t.client.Expire(ctx, key, t.window).Err(); err != nil {
			return true, err
		}
	}

	return count <= int64(t.maxAttempts), nil
}

// Reset clears the attempt counter for addr, used after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, addr string) error {
	if t == nil || addr == "" {
		return nil
	}
	return t.client.Del(ctx, t.prefix+":throttle:login:"+addr).Err()
}
