package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Will-Luck/Preauth-Sentinel/internal/cache"
	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
	"github.com/Will-Luck/Preauth-Sentinel/internal/metrics"
)

const (
	// CookieName is the fixed session cookie name for a deployment.
	CookieName = "preauth_session"

	sessionTokenBytes = 32 // 32 bytes = 64 hex chars

	cookieKeyPrefix = "cookie_"
	ipKeyPrefix     = "ip_"
)

// ErrTokenCollision means a freshly minted session token already exists in the
// store. With 256-bit tokens this is near-impossible; it is treated as a fatal
// internal error rather than silently overwriting a live session.
var ErrTokenCollision = errors.New("auth: minted session token already exists")

type sessionRecord struct {
	OwnerID string `json:"owner_id"`
}

// SessionStore records successful logins keyed by cookie token or client IP.
// Records are never deleted; correctness depends entirely on pool TTL expiry.
type SessionStore struct {
	pool      cache.Pool
	clk       clock.Clock
	cookieTTL time.Duration
	ipTTL     time.Duration
}

// NewSessionStore creates a session store over the given pool.
func NewSessionStore(pool cache.Pool, clk clock.Clock, cookieTTL, ipTTL time.Duration) *SessionStore {
	return &SessionStore{pool: pool, clk: clk, cookieTTL: cookieTTL, ipTTL: ipTTL}
}

// LookupCookie returns the owner of a live cookie session.
func (s *SessionStore) LookupCookie(token string) (string, bool, error) {
	return s.lookup(cookieKeyPrefix + cache.SafeKey(token))
}

// LookupIP returns the owner of a live IP session.
func (s *SessionStore) LookupIP(ip string) (string, bool, error) {
	return s.lookup(ipKeyPrefix + cache.SafeKey(ip))
}

func (s *SessionStore) lookup(key string) (string, bool, error) {
	e, ok, err := s.pool.Get(key)
	if err != nil || !ok {
		return "", false, err
	}
	var rec sessionRecord
	if err := json.Unmarshal(e.Value, &rec); err != nil {
		return "", false, fmt.Errorf("unmarshal session %q: %w", key, err)
	}
	return rec.OwnerID, true, nil
}

// CreateCookieSession mints a new session token for id and records it with the
// cookie lifetime. A collision with an existing record is ErrTokenCollision.
func (s *SessionStore) CreateCookieSession(id string) (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	key := cookieKeyPrefix + cache.SafeKey(token)
	if _, ok, err := s.pool.Get(key); err != nil {
		return "", err
	} else if ok {
		return "", ErrTokenCollision
	}

	if err := s.save(key, id, s.cookieTTL); err != nil {
		return "", err
	}
	metrics.SessionsCreated.WithLabelValues(string(ScopeCookie)).Inc()
	return token, nil
}

// CreateIPSession records a session for the client address with the IP
// lifetime. Only reachable when IP-scoped sessions are enabled.
func (s *SessionStore) CreateIPSession(id, ip string) error {
	if err := s.save(ipKeyPrefix+cache.SafeKey(ip), id, s.ipTTL); err != nil {
		return err
	}
	metrics.SessionsCreated.WithLabelValues(string(ScopeIP)).Inc()
	return nil
}

func (s *SessionStore) save(key, id string, ttl time.Duration) error {
	data, err := json.Marshal(sessionRecord{OwnerID: id})
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	return s.pool.Set(key, cache.Entry{
		Value:     data,
		ExpiresAt: s.clk.Now().Add(ttl),
	})
}

// Cookie builds the session cookie for a minted token, scoped to the resolved
// base domain.
func (s *SessionStore) Cookie(token, domain string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   domain,
		Expires:  s.clk.Now().Add(s.cookieTTL),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// CookieToken extracts the session token from the request cookie.
func CookieToken(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
