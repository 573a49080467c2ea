package domain

import "testing"

func TestBaseDomain(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"service.example.com", "example.com"},
		{"a.b.service.example.co.uk", "example.co.uk"},
		{"example.co.uk", "example.co.uk"},
		{"deep.sub.example.com.br", "example.com.br"},
		{"example.com", "example.com"},
		{"example", "example"},
		{"10.0.0.5", "10.0.0.5"},
		{"::1", "::1"},
		{"localhost", "localhost"},
		// co.uk itself is a suffix, not a registrable domain, but with only
		// two labels there is nothing left to strip.
		{"co.uk", "co.uk"},
		// "radio.am" is multi-part only when there is a third label.
		{"station.radio.am", "station.radio.am"},
		{"live.station.radio.am", "station.radio.am"},
	}
	for _, c := range cases {
		if got := BaseDomain(c.host); got != c.want {
			t.Errorf("BaseDomain(%q) = %q, want %q", c.host, got, c.want)
		}
	}
}

func TestBuildDomain(t *testing.T) {
	cases := []struct {
		sub, host, want string
	}{
		{"preauth", "service.example.com", "preauth.example.com"},
		{"preauth", "a.example.co.uk", "preauth.example.co.uk"},
		{"login", "example.com", "login.example.com"},
	}
	for _, c := range cases {
		if got := BuildDomain(c.sub, c.host); got != c.want {
			t.Errorf("BuildDomain(%q, %q) = %q, want %q", c.sub, c.host, got, c.want)
		}
	}
}
