package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeWebsite turns a company website field into an absolute http(s) URL.
// A missing scheme defaults to https. Other schemes yield an INVALID_URL skip.
func NormalizeWebsite(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, NewSkip(SkipInvalidURL, "empty website")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + strings.TrimPrefix(raw, "//")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &SkipDecision{Code: SkipInvalidURL, Reason: fmt.Sprintf("parse %q", raw), Cause: err}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, NewSkip(SkipInvalidURL, "unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, NewSkip(SkipInvalidURL, "missing host in %q", raw)
	}

	// Lowercase host
	u.Host = strings.ToLower(u.Host)

	// Remove default ports
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// RegistrableHost lowercases host and strips a leading "www.".
func RegistrableHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	return strings.TrimPrefix(host, "www.")
}

// SameOrSubdomain reports whether host equals target or is a subdomain of it,
// ignoring a www prefix on either side.
func SameOrSubdomain(host, target string) bool {
	host = RegistrableHost(host)
	target = RegistrableHost(target)
	if host == "" || target == "" {
		return false
	}
	return host == target || strings.HasSuffix(host, "."+target)
}

// EmailDomain returns the lowercased domain part of an address.
func EmailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
