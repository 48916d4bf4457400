// Package server normalizes and validates HTTP origins for relay requests
// to enforce configured access control.
package server

import (
	"log/slog"
	"net/url"
	"strings"
)

// OriginPolicy decides whether a browser origin may use the relay. Entries
// are exact origins ("https://chat.example.com"), "*" for any origin, or
// wildcard-subdomain patterns ("https://*.example.com").
type OriginPolicy struct {
	allowAll  bool
	exact     map[string]struct{}
	wildcards []originPattern
}

type originPattern struct {
	scheme string
	suffix string // ".example.com" or ".example.com:8443"
}

// NewOriginPolicy builds a policy from allow-list entries, logging and
// skipping entries that cannot be parsed.
func NewOriginPolicy(origins []string, log *slog.Logger) *OriginPolicy {
	p := &OriginPolicy{exact: make(map[string]struct{}, len(origins))}

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			p.allowAll = true
			continue
		}

		if pattern, ok := parseOriginPattern(trimmed); ok {
			p.wildcards = append(p.wildcards, pattern)
			continue
		}

		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn("Ignoring invalid origin in configuration", "origin", origin)
			continue
		}
		p.exact[normalized] = struct{}{}
	}

	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

func parseOriginPattern(origin string) (originPattern, bool) {
	scheme, host, found := strings.Cut(origin, "://")
	if !found || scheme == "" || !strings.HasPrefix(host, "*.") || len(host) <= 2 {
		return originPattern{}, false
	}
	return originPattern{
		scheme: strings.ToLower(scheme),
		suffix: strings.ToLower(host[1:]),
	}, true
}

func (p originPattern) matches(scheme, host string) bool {
	if scheme != p.scheme || !strings.HasSuffix(host, p.suffix) {
		return false
	}
	label := strings.TrimSuffix(host, p.suffix)
	return label != "" && !strings.HasSuffix(label, ".")
}

// Allowed reports whether origin passes the policy. An empty or malformed
// origin is never allowed.
func (p *OriginPolicy) Allowed(origin string) bool {
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}

	if p.allowAll {
		return true
	}

	if _, exists := p.exact[normalized]; exists {
		return true
	}

	scheme, host, _ := strings.Cut(normalized, "://")
	for _, pattern := range p.wildcards {
		if pattern.matches(scheme, host) {
			return true
		}
	}
	return false
}
