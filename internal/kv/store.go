// Package kv provides the Redis-compatible key/value contract used by the
// person identity manager, plus a real go-redis client and an in-process
// implementation of the same contract.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist (mirrors
// redis.Nil without leaking the redis package into callers).
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal Redis-compatible surface this package requires: GET, SETEX,
// a cursor-driven SCAN and DEL. Implementations are expected to be safe for
// concurrent use.
type Store interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// SetEX stores value under key with the given time-to-live.
	SetEX(ctx context.Context, key string, value string, ttl time.Duration) error

	// Scan returns up to count keys matching pattern starting at cursor,
	// and the cursor to resume from (0 means the scan is complete).
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, nextCursor uint64, err error)

	// Del removes a key; it is not an error to delete a missing key.
	Del(ctx context.Context, key string) error
}
