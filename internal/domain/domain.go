// Package domain derives the cookie-scoping base domain from a request host.
package domain

import (
	"net"
	"strings"
)

// multiPartTLDs maps a top-level domain to the second-level labels that form a
// multi-part public suffix with it (e.g. "co" under "uk" for .co.uk).
var multiPartTLDs = map[string][]string{
	"ai":  {"com", "net", "off", "org"},
	"am":  {"radio"},
	"com": {"br", "cn", "co", "de", "eu", "gr", "it", "jpn", "mex", "ru", "sa", "uk", "us", "za"},
	"de":  {"com"},
	"fm":  {"radio"},
	"gg":  {"co", "net", "org"},
	"in":  {"co", "firm", "gen", "ind", "net", "org"},
	"je":  {"co", "net", "org"},
	"mx":  {"com", "net", "org"},
	"net": {"gb", "hu", "in", "jp", "se", "uk"},
	"nz":  {"co", "net", "org"},
	"org": {"ae", "us"},
	"ph":  {"com", "net", "org"},
	"se":  {"com"},
	"uk":  {"co", "me", "org"},
}

// BaseDomain strips subdomains down to the registrable domain:
// "a.b.service.example.co.uk" becomes "example.co.uk" and
// "service.example.com" becomes "example.com". IP literals and
// "localhost" pass through unchanged.
func BaseDomain(host string) string {
	if host == "localhost" || net.ParseIP(host) != nil {
		return host
	}

	parts := strings.Split(host, ".")
	keep := 2
	if len(parts) < keep {
		return host
	}
	if len(parts) > 2 && isMultiPartTLD(parts[len(parts)-1], parts[len(parts)-2]) {
		keep = 3
	}
	return strings.Join(parts[len(parts)-keep:], ".")
}

// BuildDomain prefixes a subdomain onto the resolved base domain, giving the
// host the login challenge lives on.
func BuildDomain(subdomain, host string) string {
	return subdomain + "." + BaseDomain(host)
}

func isMultiPartTLD(tld, second string) bool {
	for _, s := range multiPartTLDs[tld] {
		if s == second {
			return true
		}
	}
	return false
}
