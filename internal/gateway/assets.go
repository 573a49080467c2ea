package gateway

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Will-Luck/Preauth-Sentinel/internal/domain"
)

// Asset filenames are limited to safe characters; anything else falls through
// to the decision pipeline.
var assetPathChars = regexp.MustCompile(`^[A-Za-z0-9_./-]+$`)

// tryServeAsset serves a file from the configured asset directory when the
// request is on the login host and the path is clean. This path deliberately
// performs no authentication check: the login page needs its icons and styles
// before any session exists.
func (s *Server) tryServeAsset(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.AssetsDir == "" {
		return false
	}
	host := forwardedHost(r)
	if host != domain.BuildDomain(s.cfg.Subdomain, host) {
		return false
	}

	rel := cleanAssetPath(r.URL.Path)
	if rel == "" {
		return false
	}

	full := filepath.Join(s.cfg.AssetsDir, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return false
	}

	s.log.Debug("sending static asset", "path", rel)
	http.ServeFile(w, r, full)
	return true
}

// cleanAssetPath validates a request path against the asset whitelist,
// returning the relative path or "" when it must not be served.
func cleanAssetPath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "" || !assetPathChars.MatchString(p) || strings.Contains(p, "..") {
		return ""
	}
	return p
}
