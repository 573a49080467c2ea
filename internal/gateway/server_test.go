package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/Will-Luck/Preauth-Sentinel/internal/auth"
	"github.com/Will-Luck/Preauth-Sentinel/internal/cache"
	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
	"github.com/Will-Luck/Preauth-Sentinel/internal/config"
	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
)

type fixture struct {
	srv      *Server
	clk      *clock.Fake
	cfg      *config.Config
	nonces   *auth.NonceStore
	sessions *auth.SessionStore
	secret   string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := logging.Discard()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	nonces := auth.NewNonceStore(cache.NewMemory(clk), clk, log)
	authenticator, err := auth.NewAuthenticator(key.URL(), cfg.StaticSecret, nonces, clk, log)
	if err != nil {
		t.Fatal(err)
	}
	sessions := auth.NewSessionStore(cache.NewMemory(clk), clk, cfg.CookieTTL, cfg.IPTTL)
	limiter := auth.NewRateLimiter(cache.NewMemory(clk), clk, cfg.RateLimit, cfg.RateTimeout, cfg.RateBlocked)

	srv := NewServer(Dependencies{
		Config:        cfg,
		Log:           log,
		Authenticator: authenticator,
		Sessions:      sessions,
		Limiter:       limiter,
		Nonces:        nonces,
	})
	return &fixture{srv: srv, clk: clk, cfg: cfg, nonces: nonces, sessions: sessions, secret: key.Secret()}
}

// credential builds the encoded header value from raw JSON.
func credential(body string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(body))
}

// validCredential builds a credential that will verify: a current code and a
// freshly issued nonce.
func (f *fixture) validCredential(t *testing.T, extra string) string {
	t.Helper()
	nonce, err := f.nonces.Issue()
	if err != nil {
		t.Fatal(err)
	}
	code, err := totp.GenerateCode(f.secret, f.clk.Now())
	if err != nil {
		t.Fatal(err)
	}
	return credential(fmt.Sprintf(`{"id":"alice","token":"%s","nonce":"%s"%s}`, code, nonce, extra))
}

func (f *fixture) do(t *testing.T, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "http://app.example.com/dashboard", nil)
	r.RemoteAddr = "203.0.113.7:51000"
	r.Header.Set("X-Forwarded-Host", "app.example.com")
	r.Header.Set("X-Forwarded-Uri", "/dashboard?tab=1")
	if mutate != nil {
		mutate(r)
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	return w
}

func TestAnonymousRequestGetsChallenge(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), `name="preauth_nonce"`) {
		t.Error("challenge page should embed a nonce field")
	}
}

func TestLoginMintsCookieSession(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, func(r *http.Request) {
		r.Header.Set(HeaderName, f.validCredential(t, `,"json":false`))
	})
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307; body: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/dashboard?tab=1" {
		t.Errorf("Location = %q, want the forwarded URI", loc)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie set")
	}
	if cookie.Domain != "example.com" {
		t.Errorf("cookie domain = %q, want the base domain", cookie.Domain)
	}

	// The cookie now short-circuits the pipeline.
	w = f.do(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: cookie.Value})
	})
	if w.Code != http.StatusOK || w.Body.String() != "hi alice" {
		t.Errorf("follow-up = %d %q, want 200 'hi alice'", w.Code, w.Body.String())
	}
}

func TestLoginJSONResponse(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, func(r *http.Request) {
		r.Header.Set(HeaderName, f.validCredential(t, `,"json":true`))
	})
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", w.Code)
	}
	var body struct {
		Message string  `json:"message"`
		Nonce   *string `json:"nonce"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body.Message != "Login successful" || body.Nonce != nil {
		t.Errorf("body = %+v, want success with null nonce", body)
	}
}

func TestLoginScopeNoneGrantsOnce(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, func(r *http.Request) {
		r.Header.Set(HeaderName, f.validCredential(t, `,"scope":"none"`))
	})
	if w.Code != http.StatusOK || w.Body.String() != "hi alice" {
		t.Fatalf("got %d %q, want a direct 200 grant", w.Code, w.Body.String())
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("single-request grant must not set a cookie")
	}

	// Nothing was persisted; the next bare request is challenged again.
	if w := f.do(t, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("follow-up = %d, want 401", w.Code)
	}
}

func TestLoginScopeIP(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.IPTTL = time.Hour })

	w := f.do(t, func(r *http.Request) {
		r.Header.Set(HeaderName, f.validCredential(t, `,"scope":"ip"`))
	})
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("ip-scoped login must not set a cookie")
	}

	// Same address, no cookie: granted by the IP session.
	if w := f.do(t, nil); w.Code != http.StatusOK {
		t.Errorf("same-ip follow-up = %d, want 200", w.Code)
	}
	// Different address: challenged.
	w = f.do(t, func(r *http.Request) { r.RemoteAddr = "203.0.113.99:51000" })
	if w.Code != http.StatusUnauthorized {
		t.Errorf("other-ip follow-up = %d, want 401", w.Code)
	}
}

func TestReplayedCredentialFails(t *testing.T) {
	f := newFixture(t, nil)

	cred := f.validCredential(t, "")
	if w := f.do(t, func(r *http.Request) { r.Header.Set(HeaderName, cred) }); w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("first use = %d, want 307", w.Code)
	}

	w := f.do(t, func(r *http.Request) { r.Header.Set(HeaderName, cred) })
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replay = %d, want 401", w.Code)
	}
	var body struct {
		Message string  `json:"message"`
		Nonce   *string `json:"nonce"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failure body is not JSON: %v", err)
	}
	if body.Nonce == nil || *body.Nonce == "" {
		t.Error("failure response must carry a fresh nonce")
	}
	if body.Message != f.cfg.Text.ErrorMessage {
		t.Errorf("message = %q, want the uniform error message", body.Message)
	}
}

func TestRepeatedFailuresBlock(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 3; i++ {
		w := f.do(t, func(r *http.Request) {
			r.Header.Set(HeaderName, credential(fmt.Sprintf(`{"id":"alice","token":"000000","nonce":"n%d"}`, i)))
		})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("failure %d = %d, want 401", i+1, w.Code)
		}
		f.clk.Advance(time.Minute)
	}

	w := f.do(t, func(r *http.Request) {
		r.Header.Set(HeaderName, credential(`{"id":"alice","token":"000000","nonce":"n3"}`))
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("limit-reaching failure = %d, want 429", w.Code)
	}

	// From here even credential-free requests are rejected before the login
	// stage runs.
	if w := f.do(t, nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("blocked follow-up = %d, want 429", w.Code)
	}
	// Other addresses are untouched.
	w = f.do(t, func(r *http.Request) { r.RemoteAddr = "203.0.113.99:51000" })
	if w.Code != http.StatusUnauthorized {
		t.Errorf("other address = %d, want the normal challenge", w.Code)
	}
}

func TestTeapotMode(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Teapot = true })

	for i := 0; i < 4; i++ {
		f.do(t, func(r *http.Request) {
			r.Header.Set(HeaderName, credential(fmt.Sprintf(`{"id":"a","token":"000000","nonce":"n%d"}`, i)))
		})
		f.clk.Advance(time.Minute)
	}
	if w := f.do(t, nil); w.Code != http.StatusTeapot {
		t.Errorf("blocked status = %d, want 418", w.Code)
	}
}

func TestExistingSessionOutranksBlock(t *testing.T) {
	f := newFixture(t, nil)

	token, err := f.sessions.CreateCookieSession("alice")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		f.do(t, func(r *http.Request) {
			r.Header.Set(HeaderName, credential(fmt.Sprintf(`{"id":"a","token":"000000","nonce":"n%d"}`, i)))
		})
		f.clk.Advance(time.Minute)
	}
	if w := f.do(t, nil); w.Code != http.StatusTooManyRequests {
		t.Fatal("fixture should be blocked")
	}

	// The cookie stage runs before the block stage.
	w := f.do(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	})
	if w.Code != http.StatusOK {
		t.Errorf("session while blocked = %d, want 200", w.Code)
	}
}

func TestMalformedCredentialCountsAsFailure(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, func(r *http.Request) { r.Header.Set(HeaderName, "!!garbage!!") })
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	// Malformed payloads default to the JSON failure shape.
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	r := httptest.NewRequest(http.MethodGet, "http://preauth.example.com/healthz", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}

	r = httptest.NewRequest(http.MethodGet, "http://preauth.example.com/metrics", nil)
	w = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "preauth_") {
		t.Error("metrics output should carry the preauth namespace")
	}
}
