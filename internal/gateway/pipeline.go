// Package gateway is the HTTP surface of the forward-auth service: the
// ordered decision pipeline, the challenge renderer and the server glue.
package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Will-Luck/Preauth-Sentinel/internal/metrics"
)

// Request is the pipeline's view of one inbound forward-auth check.
type Request struct {
	ClientIP     string // real client address, proxy-aware
	Host         string // forwarded host the client asked for, without port
	ForwardedURI string // original path and query at the proxy
	CookieToken  string // session cookie value, empty if absent
	Credential   string // raw credential header value, empty if absent
}

// Response is a terminal pipeline decision.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	Location    string       // set on redirects
	Cookie      *http.Cookie // set when a cookie session was minted
}

// Stage inspects a request and either returns a terminal response or nil to
// let the request fall through to the next stage.
type Stage interface {
	Name() string
	Evaluate(req *Request) (*Response, error)
}

// Pipeline evaluates its stages in a fixed order; the first terminal response
// wins and later stages never run. The order is a design invariant:
// cookie-check > ip-check > block-check > login-check > challenge. Checking
// the block before existing sessions would wrongly reject an already-trusted,
// previously-blocked client.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline over the given stages, in order.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Evaluate runs the request through the stages. The final stage is a
// catch-all, so falling through every stage is an internal error.
func (p *Pipeline) Evaluate(req *Request) (*Response, error) {
	for _, st := range p.stages {
		resp, err := st.Evaluate(req)
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", st.Name(), err)
		}
		if resp != nil {
			metrics.DecisionsTotal.WithLabelValues(st.Name()).Inc()
			return resp, nil
		}
	}
	return nil, errors.New("no stage produced a response")
}
