// Package cache provides the TTL-driven key/value pools behind sessions,
// failure tracking and nonces: a volatile in-memory pool, a durable
// bbolt-backed pool, a key-tracking wrapper, and the bridge that snapshots a
// volatile pool into its durable counterpart across restarts.
package cache

import (
	"errors"
	"regexp"
	"time"
)

// Entry is a stored value with an absolute expiry. A zero ExpiresAt means the
// entry never expires.
type Entry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Pool is a key/value store with per-entry expiry. Expired entries read as
// misses; reclaiming their storage is the pool's concern, not the caller's.
type Pool interface {
	// Get returns the entry for key. The second return is false on a miss
	// (absent or expired).
	Get(key string) (Entry, bool, error)
	// Set stores the entry under key, replacing any previous value.
	Set(key string, e Entry) error
	// Delete removes the entry for key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys lists the keys of all live entries.
	Keys() ([]string, error)
	// Clear removes every entry.
	Clear() error
}

// ErrReservedKey is returned when a caller touches a key the tracked pool
// keeps for its own bookkeeping.
var ErrReservedKey = errors.New("cache: key is reserved for internal use")

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.]+`)

// SafeKey replaces every run of characters outside [A-Za-z0-9_.] with a single
// underscore, so arbitrary input (IPs, user-supplied ids) is always a valid
// cache key.
func SafeKey(name string) string {
	return unsafeKeyChars.ReplaceAllString(name, "_")
}
