package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/Will-Luck/Preauth-Sentinel/internal/auth"
	"github.com/Will-Luck/Preauth-Sentinel/internal/config"
	"github.com/Will-Luck/Preauth-Sentinel/internal/domain"
	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
	"github.com/Will-Luck/Preauth-Sentinel/internal/metrics"
)

func greet(id string) *Response {
	return &Response{
		Status:      http.StatusOK,
		ContentType: "text/plain",
		Body:        []byte("hi " + id),
	}
}

// CookieSessionStage grants requests carrying a cookie with a live session.
type CookieSessionStage struct {
	Sessions *auth.SessionStore
	Log      *logging.Logger
}

func (s *CookieSessionStage) Name() string { return "cookie_session" }

func (s *CookieSessionStage) Evaluate(req *Request) (*Response, error) {
	if req.CookieToken == "" {
		return nil, nil
	}
	id, ok, err := s.Sessions.LookupCookie(req.CookieToken)
	if err != nil || !ok {
		return nil, err
	}
	s.Log.Debug("has valid cookie-session", "id", id)
	return greet(id), nil
}

// IPSessionStage grants requests from an address with a live session, when
// IP-scoped sessions are enabled.
type IPSessionStage struct {
	Sessions *auth.SessionStore
	Enabled  bool
	Log      *logging.Logger
}

func (s *IPSessionStage) Name() string { return "ip_session" }

func (s *IPSessionStage) Evaluate(req *Request) (*Response, error) {
	if !s.Enabled {
		return nil, nil
	}
	id, ok, err := s.Sessions.LookupIP(req.ClientIP)
	if err != nil || !ok {
		return nil, err
	}
	s.Log.Debug("has valid ip-session", "id", id)
	return greet(id), nil
}

// BlockedStage rejects addresses at or over the failure limit. It runs after
// the session stages on purpose: an existing grant outranks an old block.
type BlockedStage struct {
	Limiter *auth.RateLimiter
	Cfg     *config.Config
	Render  *Renderer
	Log     *logging.Logger
}

func (s *BlockedStage) Name() string { return "blocked" }

func (s *BlockedStage) Evaluate(req *Request) (*Response, error) {
	blocked, err := s.Limiter.IsBlocked(req.ClientIP)
	if err != nil || !blocked {
		return nil, err
	}
	s.Log.Debug("already blocked", "ip", req.ClientIP)
	metrics.BlockedTotal.Inc()

	status, title := s.blockStatus()
	return &Response{
		Status:      status,
		ContentType: "text/html",
		Body:        s.Render.ErrorPage(req.Host, title),
	}, nil
}

func (s *BlockedStage) blockStatus() (int, string) {
	if s.Cfg.Teapot {
		return http.StatusTeapot, s.Cfg.Text.DeniedTitle
	}
	return http.StatusTooManyRequests, s.Cfg.Text.TooManyTitle
}

// LoginStage verifies an offered credential. Success grants access with
// scope-dependent side effects; failure feeds the rate limiter and answers
// with a fresh challenge nonce.
type LoginStage struct {
	Auth     *auth.Authenticator
	Sessions *auth.SessionStore
	Limiter  *auth.RateLimiter
	Nonces   *auth.NonceStore
	Cfg      *config.Config
	Render   *Renderer
	Log      *logging.Logger
}

func (s *LoginStage) Name() string { return "login" }

func (s *LoginStage) Evaluate(req *Request) (*Response, error) {
	if req.Credential == "" {
		return nil, nil
	}

	payload := auth.DecodePayload(req.Credential, s.Cfg.IPScopeEnabled())
	ok, err := s.Auth.Verify(payload)
	if err != nil {
		return nil, err
	}
	if ok {
		return s.succeed(req, payload)
	}
	return s.fail(req, payload)
}

func (s *LoginStage) succeed(req *Request, p *auth.Payload) (*Response, error) {
	s.Log.Debug("successful login", "id", p.ID, "scope", string(p.Scope))

	// Single-request grant: nothing persisted, nothing to reload.
	if p.Scope == auth.ScopeNone {
		return greet(p.ID), nil
	}

	resp := &Response{
		Status:   http.StatusTemporaryRedirect,
		Location: req.ForwardedURI,
	}

	switch p.Scope {
	case auth.ScopeCookie:
		token, err := s.Sessions.CreateCookieSession(p.ID)
		if err != nil {
			return nil, err
		}
		resp.Cookie = s.Sessions.Cookie(token, domain.BaseDomain(req.Host))
	case auth.ScopeIP:
		if err := s.Sessions.CreateIPSession(p.ID, req.ClientIP); err != nil {
			return nil, err
		}
	}

	if p.JSON {
		resp.ContentType = "application/json"
		// The null nonce tells the login page the nonce is gone for good.
		resp.Body = jsonBody("Login successful", nil)
	} else {
		resp.ContentType = "text/html"
		resp.Body = []byte("hi " + p.ID + ", please reload")
	}
	return resp, nil
}

func (s *LoginStage) fail(req *Request, p *auth.Payload) (*Response, error) {
	// A malformed payload counts toward the limit like any wrong credential;
	// the fingerprint is over the raw header bytes, so duplicate
	// retransmissions within a bucket do not double-count.
	blocked, err := s.Limiter.RecordFailure(req.ClientIP, []byte(req.Credential))
	if err != nil {
		return nil, err
	}

	nonce, err := s.Nonces.Issue()
	if err != nil {
		return nil, err
	}

	status := http.StatusUnauthorized
	message := s.Cfg.Text.ErrorMessage
	if blocked {
		blockedStage := BlockedStage{Cfg: s.Cfg}
		status, message = blockedStage.blockStatus()
	}
	s.Log.Debug("login failure", "ip", req.ClientIP, "blocked", blocked)

	// The message is identical for every failure cause; only the nonce is
	// fresh. A malformed payload defaults to JSON like the login page does.
	wantsJSON := p == nil || p.JSON
	if wantsJSON {
		return &Response{
			Status:      status,
			ContentType: "application/json",
			Body:        jsonBody(message, &nonce),
		}, nil
	}
	return &Response{
		Status:      status,
		ContentType: "text/html",
		Body:        s.Render.LoginPage(req.Host, nonce, true),
	}, nil
}

// ChallengeStage is the fallback: no grant, no block, no credential, so
// present the login challenge with a fresh nonce.
type ChallengeStage struct {
	Nonces *auth.NonceStore
	Render *Renderer
	Log    *logging.Logger
}

func (s *ChallengeStage) Name() string { return "challenge" }

func (s *ChallengeStage) Evaluate(req *Request) (*Response, error) {
	nonce, err := s.Nonces.Issue()
	if err != nil {
		return nil, err
	}
	s.Log.Debug("presenting login page", "ip", req.ClientIP)
	return &Response{
		Status:      http.StatusUnauthorized,
		ContentType: "text/html",
		Body:        s.Render.LoginPage(req.Host, nonce, false),
	}, nil
}

func jsonBody(message string, nonce *string) []byte {
	body, _ := json.Marshal(struct {
		Message string  `json:"message"`
		Nonce   *string `json:"nonce"`
	}{Message: message, Nonce: nonce})
	return body
}
