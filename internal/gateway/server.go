package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Will-Luck/Preauth-Sentinel/internal/auth"
	"github.com/Will-Luck/Preauth-Sentinel/internal/config"
	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
)

// HeaderName is the request header carrying the credential payload.
const HeaderName = "X-Preauth"

// Dependencies defines what the gateway needs from the rest of the application.
type Dependencies struct {
	Config        *config.Config
	Log           *logging.Logger
	Authenticator *auth.Authenticator
	Sessions      *auth.SessionStore
	Limiter       *auth.RateLimiter
	Nonces        *auth.NonceStore
}

// Server is the forward-auth HTTP server: a catch-all decision endpoint plus
// health, metrics and the static-asset passthrough.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	mux      *http.ServeMux
	srv      *http.Server
	pipeline *Pipeline
	render   *Renderer
}

// NewServer wires the decision pipeline in its contractual order.
func NewServer(deps Dependencies) *Server {
	render := NewRenderer(deps.Config, deps.Log)
	s := &Server{
		cfg:    deps.Config,
		log:    deps.Log,
		mux:    http.NewServeMux(),
		render: render,
		pipeline: NewPipeline(
			&CookieSessionStage{Sessions: deps.Sessions, Log: deps.Log},
			&IPSessionStage{Sessions: deps.Sessions, Enabled: deps.Config.IPScopeEnabled(), Log: deps.Log},
			&BlockedStage{Limiter: deps.Limiter, Cfg: deps.Config, Render: render, Log: deps.Log},
			&LoginStage{
				Auth:     deps.Authenticator,
				Sessions: deps.Sessions,
				Limiter:  deps.Limiter,
				Nonces:   deps.Nonces,
				Cfg:      deps.Config,
				Render:   render,
				Log:      deps.Log,
			},
			&ChallengeStage{Nonces: deps.Nonces, Render: render, Log: deps.Log},
		),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("/", s.handleDecision)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// handleDecision answers the proxy's "may this request proceed?" question.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	// Static assets on the login host bypass the pipeline entirely.
	if s.tryServeAsset(w, r) {
		return
	}

	req := &Request{
		ClientIP:     clientIP(r),
		Host:         forwardedHost(r),
		ForwardedURI: forwardedURI(r),
		CookieToken:  auth.CookieToken(r),
		Credential:   r.Header.Get(HeaderName),
	}

	resp, err := s.pipeline.Evaluate(req)
	if err != nil {
		// Collisions and backing-store failures land here. Never masked: a
		// hidden storage failure could admit unauthenticated traffic.
		s.log.Error("decision pipeline failed", "ip", req.ClientIP, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if resp.Cookie != nil {
		http.SetCookie(w, resp.Cookie)
	}
	if resp.Location != "" {
		w.Header().Set("Location", resp.Location)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.mux }
