package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Preauth-Sentinel configuration from environment variables.
type Config struct {
	// HTTP
	Listen      string
	Subdomain   string // login host is <Subdomain>.<base domain>
	QueryPrefix string // prefix for login form field names
	AssetsDir   string // empty disables static asset passthrough

	// Credentials
	TOTPURI      string // empty triggers one-time bootstrap from the settings bucket
	StaticSecret string // empty disables password auth; "$2..." is a bcrypt hash

	// Sessions
	CookieTTL time.Duration
	IPTTL     time.Duration // zero disables IP-scoped sessions

	// Rate limiting
	RateLimit   int           // distinct failed fingerprints before blocking
	RateTimeout time.Duration // TTL of a failure record below the limit
	RateBlocked time.Duration // TTL once the limit is reached

	// Responses
	Teapot bool // respond 418 instead of 429 to blocked clients
	Text   Text

	// Storage
	DBPath      string
	PersistCron string // optional cron spec for periodic persistence flushes

	// Logging
	LogJSON bool
}

// Text holds the user-visible page text, overridable via a YAML file.
type Text struct {
	Title        string `yaml:"title"`
	Background   string `yaml:"background"`
	Foreground   string `yaml:"foreground"`
	IDLabel      string `yaml:"id_label"`
	TokenLabel   string `yaml:"token_label"`
	SubmitLabel  string `yaml:"submit_label"`
	ErrorMessage string `yaml:"error_message"`
	DeniedTitle  string `yaml:"denied_title"`
	TooManyTitle string `yaml:"too_many_title"`
}

func defaultText() Text {
	return Text{
		Title:        "Pre-Authentication System",
		Background:   "#029386",
		Foreground:   "#ffffff",
		IDLabel:      "Session ID",
		TokenLabel:   "Authentication Token",
		SubmitLabel:  "Submit",
		ErrorMessage: "Unsuccessful login attempt",
		DeniedTitle:  "I'm a teapot",
		TooManyTitle: "Too many requests",
	}
}

// Load reads all configuration from environment variables with defaults,
// then applies the optional PREAUTH_CONFIG YAML text overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Listen:       envStr("PREAUTH_LISTEN", ":8080"),
		Subdomain:    envStr("PREAUTH_SUBDOMAIN", "preauth"),
		QueryPrefix:  envStr("PREAUTH_QUERY_PREFIX", "preauth_"),
		AssetsDir:    envStr("PREAUTH_ASSETS_DIR", ""),
		TOTPURI:      envStr("PREAUTH_TOTP_URI", ""),
		StaticSecret: envStr("PREAUTH_STATIC_SECRET", ""),
		CookieTTL:    envDuration("PREAUTH_COOKIE_TTL", 720*time.Hour),
		IPTTL:        envDuration("PREAUTH_IP_TTL", 0),
		RateLimit:    envInt("PREAUTH_RATE_LIMIT", 4),
		RateTimeout:  envDuration("PREAUTH_RATE_TIMEOUT", 6*time.Hour),
		RateBlocked:  envDuration("PREAUTH_RATE_BLOCKED", 24*time.Hour),
		Teapot:       envBool("PREAUTH_TEAPOT", false),
		Text:         defaultText(),
		DBPath:       envStr("PREAUTH_DB_PATH", "/data/preauth.db"),
		PersistCron:  envStr("PREAUTH_PERSIST_CRON", ""),
		LogJSON:      envBool("PREAUTH_LOG_JSON", true),
	}

	if path := os.Getenv("PREAUTH_CONFIG"); path != "" {
		if err := cfg.loadText(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadText merges the YAML text file into cfg.Text. Empty fields keep defaults.
func (c *Config) loadText(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read PREAUTH_CONFIG: %w", err)
	}
	var t Text
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parse PREAUTH_CONFIG: %w", err)
	}
	merge := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	merge(&c.Text.Title, t.Title)
	merge(&c.Text.Background, t.Background)
	merge(&c.Text.Foreground, t.Foreground)
	merge(&c.Text.IDLabel, t.IDLabel)
	merge(&c.Text.TokenLabel, t.TokenLabel)
	merge(&c.Text.SubmitLabel, t.SubmitLabel)
	merge(&c.Text.ErrorMessage, t.ErrorMessage)
	merge(&c.Text.DeniedTitle, t.DeniedTitle)
	merge(&c.Text.TooManyTitle, t.TooManyTitle)
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.RateLimit < 1 {
		errs = append(errs, fmt.Errorf("PREAUTH_RATE_LIMIT must be >= 1, got %d", c.RateLimit))
	}
	if c.RateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PREAUTH_RATE_TIMEOUT must be > 0, got %s", c.RateTimeout))
	}
	if c.RateBlocked <= 0 {
		errs = append(errs, fmt.Errorf("PREAUTH_RATE_BLOCKED must be > 0, got %s", c.RateBlocked))
	}
	if c.CookieTTL <= 0 {
		errs = append(errs, fmt.Errorf("PREAUTH_COOKIE_TTL must be > 0, got %s", c.CookieTTL))
	}
	if c.IPTTL < 0 {
		errs = append(errs, fmt.Errorf("PREAUTH_IP_TTL must be >= 0, got %s", c.IPTTL))
	}
	if c.Subdomain == "" {
		errs = append(errs, errors.New("PREAUTH_SUBDOMAIN must not be empty"))
	}
	return errors.Join(errs...)
}

// IPScopeEnabled reports whether IP-scoped sessions are configured.
func (c *Config) IPScopeEnabled() bool { return c.IPTTL > 0 }

// PasswordEnabled reports whether static-password auth is configured.
func (c *Config) PasswordEnabled() bool { return c.StaticSecret != "" }

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
