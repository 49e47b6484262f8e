package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Allowlist restricts which hosts may be fetched.
//
// Patterns are doublestar globs matched against the lower-cased host and
// against host:port, so "example.com", "*.example.com" and "127.0.0.1:8080"
// are all valid entries. An empty allowlist allows every host.
type Allowlist struct {
	patterns []string
}

// NewAllowlist validates and normalizes patterns.
func NewAllowlist(patterns []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid allowed host pattern %q", p)
		}
		a.patterns = append(a.patterns, p)
	}
	return a, nil
}

// Patterns returns the normalized patterns.
func (a *Allowlist) Patterns() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.patterns...)
}

// Allows reports whether u's host matches the allowlist.
func (a *Allowlist) Allows(u *url.URL) bool {
	if u == nil || u.Hostname() == "" {
		return false
	}
	if a == nil || len(a.patterns) == 0 {
		return true
	}

	host := strings.ToLower(u.Hostname())
	hostPort := host
	if port := u.Port(); port != "" {
		hostPort = host + ":" + port
	}

	for _, p := range a.patterns {
		if ok, _ := doublestar.Match(p, host); ok {
			return true
		}
		if hostPort != host {
			if ok, _ := doublestar.Match(p, hostPort); ok {
				return true
			}
		}
	}
	return false
}

// Check parses raw and verifies it is an absolute http(s) URL on an allowed
// host. Errors wrap ErrInvalidURL or ErrDisallowedHost.
func (a *Allowlist) Check(raw string) (*url.URL, error) {
	u, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	if !a.Allows(u) {
		return nil, &Error{URL: raw, Err: ErrDisallowedHost}
	}
	return u, nil
}

// ParseURL parses raw as an absolute http(s) URL with a host.
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &Error{URL: raw, Err: fmt.Errorf("%w: %v", ErrInvalidURL, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{URL: raw, Err: fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)}
	}
	if u.Hostname() == "" {
		return nil, &Error{URL: raw, Err: fmt.Errorf("%w: missing host", ErrInvalidURL)}
	}
	return u, nil
}
