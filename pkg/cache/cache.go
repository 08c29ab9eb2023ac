// Package cache is a best-effort key/value cache with per-entry TTL. Entries
// are checked for expiry when read; nothing relies on an entry surviving.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON-encodable values under string keys.
type Cache interface {
	// Get decodes the value stored under key into v. found is false when the
	// key is missing or expired.
	Get(ctx context.Context, key string, v any) (found bool, err error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
