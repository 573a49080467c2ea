package auth

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Will-Luck/Preauth-Sentinel/internal/cache"
	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
)

// fingerprintBucket matches one TOTP step, so retransmissions of the same
// credential within its validity period collapse into one fingerprint.
const fingerprintBucket = 30 * time.Second

// RateLimiter tracks distinct failed-attempt fingerprints per source IP.
//
// This is a sliding escalation, not a fixed window: every failure below the
// limit re-arms the short timeout TTL; once the limit is reached the record
// switches to the long block TTL, itself re-armed by any further failure.
// Unblocking happens only by TTL expiry.
//
// The read-modify-write on the fingerprint set is not atomic across
// concurrent requests from one IP; simultaneous failures may under-count.
// That weakness is accepted.
type RateLimiter struct {
	pool    cache.Pool
	clk     clock.Clock
	limit   int
	timeout time.Duration // record TTL while below the limit
	blocked time.Duration // record TTL once at or over the limit
}

// NewRateLimiter creates a rate limiter over the given pool.
func NewRateLimiter(pool cache.Pool, clk clock.Clock, limit int, timeout, blocked time.Duration) *RateLimiter {
	return &RateLimiter{pool: pool, clk: clk, limit: limit, timeout: timeout, blocked: blocked}
}

// RecordFailure adds the payload's fingerprint to the IP's failure set and
// reports whether the IP is now at or over the limit.
func (r *RateLimiter) RecordFailure(ip string, payload []byte) (bool, error) {
	key := ipKeyPrefix + cache.SafeKey(ip)
	now := r.clk.Now()

	prints, err := r.load(key)
	if err != nil {
		return false, err
	}
	prints[fingerprint(payload, now)] = true

	blocked := len(prints) >= r.limit
	ttl := r.timeout
	if blocked {
		ttl = r.blocked
	}

	data, err := json.Marshal(prints)
	if err != nil {
		return false, fmt.Errorf("marshal failure record: %w", err)
	}
	err = r.pool.Set(key, cache.Entry{
		Value:     data,
		ExpiresAt: now.Add(ttl),
	})
	return blocked, err
}

// IsBlocked reports whether the IP has a live failure record at or over the
// limit. It is a pure read; no TTL is touched.
func (r *RateLimiter) IsBlocked(ip string) (bool, error) {
	prints, err := r.load(ipKeyPrefix + cache.SafeKey(ip))
	if err != nil {
		return false, err
	}
	return len(prints) >= r.limit, nil
}

func (r *RateLimiter) load(key string) (map[string]bool, error) {
	e, ok, err := r.pool.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]bool{}, nil
	}
	var prints map[string]bool
	if err := json.Unmarshal(e.Value, &prints); err != nil {
		return nil, fmt.Errorf("unmarshal failure record %q: %w", key, err)
	}
	if prints == nil {
		prints = map[string]bool{}
	}
	return prints, nil
}

// fingerprint hashes the raw credential bytes salted with the current time
// bucket. Hitting refresh a few times should not lock you out; a changed
// credential or a new bucket counts as a new attempt.
func fingerprint(payload []byte, now time.Time) string {
	var bucket [8]byte
	binary.BigEndian.PutUint64(bucket[:], uint64(now.Unix()/int64(fingerprintBucket/time.Second)))

	h := xxhash.New()
	h.Write(payload)
	h.Write(bucket[:])
	return strconv.FormatUint(h.Sum64(), 16)
}
