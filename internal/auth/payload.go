package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/Will-Luck/Preauth-Sentinel/internal/cache"
)

// Scope is the kind of access a successful login grants.
type Scope string

const (
	ScopeCookie Scope = "cookie" // session bound to a minted cookie token
	ScopeIP     Scope = "ip"     // session bound to the client address
	ScopeNone   Scope = "none"   // this request only, nothing persisted
)

const maxIDLen = 100

// Payload is the decoded credential header.
//
// Constriction rules, applied at construction:
// when using a password, scope is considered None;
// when scope is None, json is considered false;
// when scope is Ip but IP access is disabled, scope is considered Cookie.
type Payload struct {
	ID       string // session name, identifying who is logging in
	Token    string // TOTP, typically six digits
	Password string // static secret, alternative to token, if enabled
	Nonce    string // random unique string, to block duplicate submissions
	JSON     bool   // should failure/success bodies be JSON (for the login page)
	Scope    Scope  // type of access being requested
}

type wirePayload struct {
	ID       string `json:"id"`
	Token    string `json:"token"`
	Password string `json:"password"`
	Nonce    string `json:"nonce"`
	JSON     *bool  `json:"json"`
	Scope    string `json:"scope"`
}

// DecodePayload parses the base64url JSON credential header. It returns nil
// for anything malformed: bad encoding, bad JSON, missing id or nonce, or
// neither token nor password. Callers treat nil as an authentication failure.
func DecodePayload(header string, ipScopeEnabled bool) *Payload {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(header, "="))
	if err != nil {
		return nil
	}

	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil
	}
	if w.ID == "" || w.Nonce == "" || (w.Token == "" && w.Password == "") {
		return nil
	}

	p := &Payload{
		ID:    sanitizeID(w.ID),
		Nonce: w.Nonce,
		JSON:  true,
	}
	if w.JSON != nil {
		p.JSON = *w.JSON
	}

	// We accept either a token or a password, not both.
	if w.Token != "" {
		p.Token = w.Token
	} else {
		p.Password = w.Password
	}

	switch w.Scope {
	case "ip":
		p.Scope = ScopeIP
	case "none":
		p.Scope = ScopeNone
	default:
		p.Scope = ScopeCookie
	}

	if p.Password != "" {
		p.Scope = ScopeNone
	}
	if p.Scope == ScopeIP && !ipScopeEnabled {
		p.Scope = ScopeCookie
	}
	if p.Scope == ScopeNone {
		p.JSON = false
	}

	return p
}

// sanitizeID reduces a user-supplied id to cache-key-safe characters and
// bounds its length.
func sanitizeID(id string) string {
	id = cache.SafeKey(id)
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
	}
	return id
}
