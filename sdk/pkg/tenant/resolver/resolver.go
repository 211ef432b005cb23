package resolver

// Package resolver maps a request's host, header, path and query signals to
// a tenant identity. The full pipeline and the static edge variant share
// this one strategy engine so their precedence order cannot drift:
//
//	1. exact custom-domain match
//	2. subdomain (first host label, reserved labels rejected)
//	3. X-Tenant-ID header override
//	4. /tenant/{id} path prefix override
//	5. ?tenant= / ?t= query override
//
// The first strategy yielding a match wins and no further strategies run.

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrTenantNotFound reports that no strategy matched a known tenant.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantUnavailable reports a host-derived match on a tenant that is
	// not active (inactive, suspended, pending or archived).
	ErrTenantUnavailable = errors.New("tenant unavailable")
)

// Strategy identifies which signal produced a resolution.
type Strategy string

const (
	StrategyDomain    Strategy = "domain"
	StrategySubdomain Strategy = "subdomain"
	StrategyHeader    Strategy = "header"
	StrategyPath      Strategy = "path"
	StrategyQuery     Strategy = "query"
)

// HeaderTenantID is the explicit override header.
const HeaderTenantID = "X-Tenant-ID"

// reservedSubdomains never identify a tenant.
var reservedSubdomains = map[string]struct{}{
	"www":   {},
	"api":   {},
	"admin": {},
	"app":   {},
	"mail":  {},
	"ftp":   {},
}

// IsReservedSubdomain reports whether a host label is excluded from
// subdomain identification.
func IsReservedSubdomain(label string) bool {
	_, ok := reservedSubdomains[strings.ToLower(label)]
	return ok
}

// Candidate is a directory entry under consideration.
type Candidate struct {
	TenantID  string
	Available bool // active (full variant) or status == active (edge variant)
}

// Directory is the registry a strategy engine matches against. The full
// variant backs it with the mapping store, the edge variant with the
// static descriptor registry.
type Directory interface {
	// ByDomain matches an exact registered custom domain.
	ByDomain(domain string) (Candidate, bool)
	// BySubdomain matches the first label of the request host.
	BySubdomain(label string) (Candidate, bool)
	// ByID validates a client-supplied tenant id against known tenants.
	ByID(id string) (Candidate, bool)
}

// Result describes a successful resolution.
type Result struct {
	TenantID string
	Strategy Strategy
	Host     string // normalized request host
}

// Resolver resolves requests against one Directory. Both runtime variants
// are instances of this type; only the directory differs.
type Resolver struct {
	dir Directory
}

// New creates a resolver over a directory.
func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Identify runs the strategies in precedence order.
//
// Host-derived signals (domain, subdomain) that hit a known but non-active
// tenant return ErrTenantUnavailable: the operator pointed that hostname at
// the tenant, so "suspended" is the truthful answer. Client-supplied
// overrides (header, path, query) hitting a non-active tenant are treated
// as no-match so callers cannot probe suspended tenants by id.
func (r *Resolver) Identify(req *http.Request) (*Result, error) {
	host := NormalizeHost(req.Host)

	// 1. Exact custom-domain match.
	if host != "" {
		if c, ok := r.dir.ByDomain(host); ok {
			if !c.Available {
				return nil, ErrTenantUnavailable
			}
			return &Result{TenantID: c.TenantID, Strategy: StrategyDomain, Host: host}, nil
		}
	}

	// 2. Subdomain extraction.
	if label, ok := SubdomainLabel(host); ok && !IsReservedSubdomain(label) {
		if c, ok := r.dir.BySubdomain(label); ok {
			if !c.Available {
				return nil, ErrTenantUnavailable
			}
			return &Result{TenantID: c.TenantID, Strategy: StrategySubdomain, Host: host}, nil
		}
	}

	// 3. Explicit header override.
	if id := strings.TrimSpace(req.Header.Get(HeaderTenantID)); id != "" {
		if c, ok := r.dir.ByID(id); ok && c.Available {
			return &Result{TenantID: c.TenantID, Strategy: StrategyHeader, Host: host}, nil
		}
	}

	// 4. Path-prefix override.
	if id := pathTenantID(req.URL.Path); id != "" {
		if c, ok := r.dir.ByID(id); ok && c.Available {
			return &Result{TenantID: c.TenantID, Strategy: StrategyPath, Host: host}, nil
		}
	}

	// 5. Query-parameter override.
	if id := queryTenantID(req); id != "" {
		if c, ok := r.dir.ByID(id); ok && c.Available {
			return &Result{TenantID: c.TenantID, Strategy: StrategyQuery, Host: host}, nil
		}
	}

	return nil, ErrTenantNotFound
}

// NormalizeHost lowercases a request host and strips any port. Bracketed
// IPv6 literals keep their address instead of being cut at the first colon.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if strings.HasPrefix(host, "[") {
		if idx := strings.IndexByte(host, ']'); idx != -1 {
			return host[1:idx]
		}
		return host
	}
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}
	return host
}

// SubdomainLabel returns the first label of a multi-label host.
// Bare hosts such as "localhost" carry no subdomain signal.
func SubdomainLabel(host string) (string, bool) {
	idx := strings.IndexByte(host, '.')
	if idx <= 0 {
		return "", false
	}
	return host[:idx], true
}

// pathTenantID extracts the id from a /tenant/{id}/... path.
func pathTenantID(path string) string {
	const prefix = "/tenant/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := path[len(prefix):]
	if idx := strings.IndexByte(rest, '/'); idx != -1 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}

// queryTenantID reads the ?tenant= override, with ?t= as the short form.
func queryTenantID(req *http.Request) string {
	q := req.URL.Query()
	if id := strings.TrimSpace(q.Get("tenant")); id != "" {
		return id
	}
	return strings.TrimSpace(q.Get("t"))
}
