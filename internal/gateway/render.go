package gateway

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/Will-Luck/Preauth-Sentinel/internal/config"
	"github.com/Will-Luck/Preauth-Sentinel/internal/domain"
	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer produces the login challenge and block pages from the embedded
// templates and the configured page text.
type Renderer struct {
	tmpl *template.Template
	cfg  *config.Config
	log  *logging.Logger
}

// NewRenderer parses the embedded templates.
func NewRenderer(cfg *config.Config, log *logging.Logger) *Renderer {
	return &Renderer{
		tmpl: template.Must(template.New("").ParseFS(templateFS, "templates/*.html")),
		cfg:  cfg,
		log:  log,
	}
}

type loginData struct {
	config.Text
	BaseDomain  string
	LoginHost   string
	QueryPrefix string
	Nonce       string
	HasError    bool
}

type errorData struct {
	config.Text
	BaseDomain string
	Heading    string
}

// LoginPage renders the challenge page carrying a fresh nonce.
func (r *Renderer) LoginPage(host, nonce string, hasError bool) []byte {
	return r.render("login.html", loginData{
		Text:        r.cfg.Text,
		BaseDomain:  domain.BaseDomain(host),
		LoginHost:   domain.BuildDomain(r.cfg.Subdomain, host),
		QueryPrefix: r.cfg.QueryPrefix,
		Nonce:       nonce,
		HasError:    hasError,
	})
}

// ErrorPage renders the block page with the given heading.
func (r *Renderer) ErrorPage(host, heading string) []byte {
	return r.render("error.html", errorData{
		Text:       r.cfg.Text,
		BaseDomain: domain.BaseDomain(host),
		Heading:    heading,
	})
}

func (r *Renderer) render(name string, data any) []byte {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		// Templates are embedded and parsed at startup; a render failure is a
		// template bug, not user input.
		r.log.Error("template render failed", "template", name, "error", err)
		return []byte("Internal Server Error")
	}
	return buf.Bytes()
}
