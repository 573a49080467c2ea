package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Will-Luck/Preauth-Sentinel/internal/cache"
	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
	"github.com/Will-Luck/Preauth-Sentinel/internal/metrics"
)

const (
	nonceLength = 15 // bytes; encodes to base64url with no padding
	nonceTTL    = 2 * time.Minute
	// A spent nonce is kept around briefly so an immediate resubmission of the
	// same login request is rejected rather than read as unseen.
	spentNonceTTL = time.Minute
	nonceRetries  = 3
)

// ErrNonceExhausted means nonce generation collided repeatedly. Collisions are
// cryptographically near-impossible, so hitting this indicates a broken random
// source or an attack on it.
var ErrNonceExhausted = errors.New("auth: repeated nonce collisions")

// NonceStore issues and consumes single-use anti-replay tokens. Records are a
// single bool (valid or spent) under the nonce itself; expiry is the pool's.
type NonceStore struct {
	pool cache.Pool
	clk  clock.Clock
	log  *logging.Logger
}

// NewNonceStore creates a nonce store over the given (volatile) pool.
func NewNonceStore(pool cache.Pool, clk clock.Clock, log *logging.Logger) *NonceStore {
	return &NonceStore{pool: pool, clk: clk, log: log}
}

// Issue generates a fresh nonce, valid for the challenge lifetime.
func (s *NonceStore) Issue() (string, error) {
	for attempt := 0; attempt <= nonceRetries; attempt++ {
		buf := make([]byte, nonceLength)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate nonce: %w", err)
		}
		nonce := base64.RawURLEncoding.EncodeToString(buf)

		if _, ok, err := s.pool.Get(nonce); err != nil {
			return "", err
		} else if ok {
			// Managed to have a collision, try again.
			continue
		}

		if err := s.save(nonce, true, nonceTTL); err != nil {
			return "", err
		}
		s.log.Debug("issued nonce", "nonce", nonce)
		metrics.NoncesIssued.Inc()
		return nonce, nil
	}
	s.log.Error("aborting: multiple nonce collisions")
	return "", ErrNonceExhausted
}

// Consume marks a currently-valid nonce as spent. It reports false for
// unknown, expired or already-spent nonces.
func (s *NonceStore) Consume(nonce string) (bool, error) {
	e, ok, err := s.pool.Get(nonce)
	if err != nil {
		return false, err
	}
	if !ok || !decodeValid(e.Value) {
		return false, nil
	}
	return true, s.save(nonce, false, spentNonceTTL)
}

// Adopt accepts a client-chosen nonce for the password flow: either a
// currently-valid server nonce or one the store has never seen. Either way the
// nonce ends up spent. Client-chosen nonces are not re-randomized by the
// server; that is the documented fingerprint-collision weakness of this flow.
func (s *NonceStore) Adopt(nonce string) (bool, error) {
	e, ok, err := s.pool.Get(nonce)
	if err != nil {
		return false, err
	}
	if ok && !decodeValid(e.Value) {
		return false, nil
	}
	return true, s.save(nonce, false, spentNonceTTL)
}

func (s *NonceStore) save(nonce string, valid bool, ttl time.Duration) error {
	data, err := json.Marshal(valid)
	if err != nil {
		return fmt.Errorf("marshal nonce record: %w", err)
	}
	return s.pool.Set(nonce, cache.Entry{
		Value:     data,
		ExpiresAt: s.clk.Now().Add(ttl),
	})
}

func decodeValid(data []byte) bool {
	var valid bool
	if err := json.Unmarshal(data, &valid); err != nil {
		return false
	}
	return valid
}
