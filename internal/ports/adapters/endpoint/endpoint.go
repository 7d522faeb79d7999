// Package endpoint guards the base URLs of third-party providers so a
// misconfigured environment cannot send API keys to an arbitrary host.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// Policy describes one provider endpoint. Var and HostsVar are the
// environment names reported in errors.
type Policy struct {
	Var          string
	HostsVar     string
	Default      string
	DefaultHosts []string
}

// Normalize trims raw and falls back to the default base URL.
func (p Policy) Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = p.Default
	}
	return strings.TrimRight(raw, "/")
}

// Validate accepts only absolute https URLs without credentials, query or
// fragment whose host is in allowed (or the policy defaults when allowed is
// empty).
func (p Policy) Validate(raw string, allowed []string) error {
	raw = p.Normalize(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", p.Var, err)
	}
	switch {
	case !u.IsAbs() || u.Hostname() == "":
		return p.reject(raw, "absolute URL with host is required")
	case u.User != nil:
		return p.reject(raw, "userinfo is not allowed")
	case u.RawQuery != "" || u.Fragment != "":
		return p.reject(raw, "query and fragment are not allowed")
	case !strings.EqualFold(u.Scheme, "https"):
		return p.reject(raw, "https is required")
	}

	host := strings.ToLower(u.Hostname())
	if _, ok := p.hosts(allowed)[host]; !ok {
		return p.reject(raw, fmt.Sprintf("host %q is not in %s", host, p.HostsVar))
	}
	return nil
}

func (p Policy) reject(raw, why string) error {
	return fmt.Errorf("invalid %s %q: %s", p.Var, raw, why)
}

func (p Policy) hosts(allowed []string) map[string]struct{} {
	if out := hostSet(allowed); len(out) > 0 {
		return out
	}
	return hostSet(p.DefaultHosts)
}

// hostSet lowercases entries and strips schemes, ports and slashes so
// "https://Proxy.internal:443/" and "proxy.internal" are the same host.
func hostSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, h := range list {
		v := strings.ToLower(strings.TrimSpace(h))
		v = strings.TrimPrefix(v, "http://")
		v = strings.TrimPrefix(v, "https://")
		v = strings.Trim(v, "/")
		if i := strings.IndexByte(v, ':'); i >= 0 {
			v = v[:i]
		}
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
