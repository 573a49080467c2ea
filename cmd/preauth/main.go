package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/Will-Luck/Preauth-Sentinel/internal/auth"
	"github.com/Will-Luck/Preauth-Sentinel/internal/cache"
	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
	"github.com/Will-Luck/Preauth-Sentinel/internal/config"
	"github.com/Will-Luck/Preauth-Sentinel/internal/gateway"
	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON)

	fmt.Println("Preauth-Sentinel " + version)
	fmt.Println("=============================================")
	fmt.Printf("PREAUTH_LISTEN=%s\n", cfg.Listen)
	fmt.Printf("PREAUTH_SUBDOMAIN=%s\n", cfg.Subdomain)
	fmt.Printf("PREAUTH_DB_PATH=%s\n", cfg.DBPath)
	fmt.Printf("PREAUTH_COOKIE_TTL=%s\n", cfg.CookieTTL)
	fmt.Printf("PREAUTH_RATE_LIMIT=%d\n", cfg.RateLimit)
	fmt.Printf("PREAUTH_IP_TTL=%s (ip scope enabled: %t)\n", cfg.IPTTL, cfg.IPScopeEnabled())
	fmt.Printf("password auth enabled: %t\n", cfg.PasswordEnabled())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	clk := clock.Real{}

	db, err := cache.OpenBolt(cfg.DBPath, clk)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Missing secret material is fatal at boot; the service must not answer a
	// single request it cannot verify credentials for.
	totpURI, err := auth.EnsureTOTPURI(cfg.TOTPURI, db, log)
	if err != nil {
		log.Error("failed to obtain TOTP secret", "error", err)
		os.Exit(1)
	}

	// Each stateful subsystem gets a volatile pool; sessions and failures also
	// get a durable counterpart kept in sync by the bridge. Nonces are
	// short-lived by definition and are not persisted.
	sessionPool, err := cache.NewTracked(cache.NewMemory(clk))
	if err != nil {
		log.Error("failed to initialize session pool", "error", err)
		os.Exit(1)
	}
	failurePool, err := cache.NewTracked(cache.NewMemory(clk))
	if err != nil {
		log.Error("failed to initialize failure pool", "error", err)
		os.Exit(1)
	}
	sessionDurable, err := cache.NewTracked(db.Sessions())
	if err != nil {
		log.Error("failed to initialize durable session pool", "error", err)
		os.Exit(1)
	}
	failureDurable, err := cache.NewTracked(db.Failures())
	if err != nil {
		log.Error("failed to initialize durable failure pool", "error", err)
		os.Exit(1)
	}

	bridge := cache.NewBridge(log,
		cache.Pair{Name: "sessions", Volatile: sessionPool, Durable: sessionDurable},
		cache.Pair{Name: "failures", Volatile: failurePool, Durable: failureDurable},
	)
	if err := bridge.Boot(); err != nil {
		log.Error("failed to warm caches", "error", err)
		os.Exit(1)
	}

	nonces := auth.NewNonceStore(cache.NewMemory(clk), clk, log)
	authenticator, err := auth.NewAuthenticator(totpURI, cfg.StaticSecret, nonces, clk, log)
	if err != nil {
		log.Error("invalid TOTP configuration", "error", err)
		os.Exit(1)
	}
	sessions := auth.NewSessionStore(sessionPool, clk, cfg.CookieTTL, cfg.IPTTL)
	limiter := auth.NewRateLimiter(failurePool, clk, cfg.RateLimit, cfg.RateTimeout, cfg.RateBlocked)

	srv := gateway.NewServer(gateway.Dependencies{
		Config:        cfg,
		Log:           log,
		Authenticator: authenticator,
		Sessions:      sessions,
		Limiter:       limiter,
		Nonces:        nonces,
	})

	// Optional scheduled flushes between the boot load and the shutdown flush.
	if cfg.PersistCron != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.PersistCron, func() {
			if err := bridge.Persist(); err != nil {
				log.Error("scheduled persistence failed", "error", err)
			}
		}); err != nil {
			log.Error("invalid PREAUTH_PERSIST_CRON", "error", err)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
		log.Info("scheduled persistence enabled", "cron", cfg.PersistCron)
	}

	go func() {
		if err := srv.ListenAndServe(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
			cancel()
		}
	}()

	log.Info("preauth started", "version", version, "listen", cfg.Listen)

	<-ctx.Done()

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	// Flush runs even when nothing else did in this lifecycle; the bridge
	// skips pools that are still clean.
	if err := bridge.Persist(); err != nil {
		log.Error("final persistence failed", "error", err)
		os.Exit(1)
	}
	log.Info("preauth stopped")
}
