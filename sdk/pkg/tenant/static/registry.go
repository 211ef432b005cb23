package static

// Package static is the capability-reduced resolver variant for runtimes
// without filesystem or config access. The registry is a small in-memory
// list of descriptors; identification shares the exact strategy engine of
// the full pipeline, and no connection handle is ever produced.

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/quillcms/tenantcore/sdk/pkg/tenant/resolver"
)

// Status is a static tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusArchived  Status = "archived"
)

// Descriptor is one statically known tenant.
type Descriptor struct {
	ID        string `json:"id"`
	Subdomain string `json:"subdomain"`
	Domain    string `json:"domain,omitempty"`
	Status    Status `json:"status"`
}

// Available reports whether the tenant serves traffic.
func (d *Descriptor) Available() bool {
	return d.Status == StatusActive
}

type table struct {
	byID        map[string]*Descriptor
	bySubdomain map[string]*Descriptor
	byDomain    map[string]*Descriptor
}

// Registry holds the static descriptors. Swap-in updates replace the whole
// table so readers never see a half-updated registry.
type Registry struct {
	data atomic.Value // *table
	res  *resolver.Resolver
}

// NewRegistry builds a registry from descriptors. The first descriptor for
// an id, subdomain or domain wins; later duplicates are dropped.
func NewRegistry(descriptors []Descriptor) *Registry {
	r := &Registry{}
	r.res = resolver.New(r)
	r.Replace(descriptors)
	return r
}

// Replace publishes a new descriptor set.
func (r *Registry) Replace(descriptors []Descriptor) {
	t := &table{
		byID:        make(map[string]*Descriptor, len(descriptors)),
		bySubdomain: make(map[string]*Descriptor, len(descriptors)),
		byDomain:    make(map[string]*Descriptor, len(descriptors)),
	}
	for i := range descriptors {
		d := descriptors[i]
		d.ID = strings.ToLower(d.ID)
		d.Subdomain = strings.ToLower(d.Subdomain)
		d.Domain = resolver.NormalizeHost(d.Domain)
		if d.ID == "" {
			continue
		}
		if _, dup := t.byID[d.ID]; dup {
			continue
		}
		t.byID[d.ID] = &d
		if d.Subdomain != "" {
			if _, dup := t.bySubdomain[d.Subdomain]; !dup {
				t.bySubdomain[d.Subdomain] = &d
			}
		}
		if d.Domain != "" {
			if _, dup := t.byDomain[d.Domain]; !dup {
				t.byDomain[d.Domain] = &d
			}
		}
	}
	r.data.Store(t)
}

// Lookup returns the descriptor for a tenant id.
func (r *Registry) Lookup(id string) (*Descriptor, bool) {
	t := r.data.Load().(*table)
	d, ok := t.byID[strings.ToLower(id)]
	return d, ok
}

// Len reports the number of known tenants.
func (r *Registry) Len() int {
	t := r.data.Load().(*table)
	return len(t.byID)
}

// resolver.Directory implementation.

func (r *Registry) ByDomain(domain string) (resolver.Candidate, bool) {
	t := r.data.Load().(*table)
	d, ok := t.byDomain[domain]
	if !ok {
		return resolver.Candidate{}, false
	}
	return resolver.Candidate{TenantID: d.ID, Available: d.Available()}, true
}

func (r *Registry) BySubdomain(label string) (resolver.Candidate, bool) {
	t := r.data.Load().(*table)
	d, ok := t.bySubdomain[label]
	if !ok {
		return resolver.Candidate{}, false
	}
	return resolver.Candidate{TenantID: d.ID, Available: d.Available()}, true
}

func (r *Registry) ByID(id string) (resolver.Candidate, bool) {
	t := r.data.Load().(*table)
	d, ok := t.byID[strings.ToLower(id)]
	if !ok {
		return resolver.Candidate{}, false
	}
	return resolver.Candidate{TenantID: d.ID, Available: d.Available()}, true
}

// Resolution is the edge outcome: identity and status only.
type Resolution struct {
	Descriptor *Descriptor
	Strategy   resolver.Strategy
	Host       string
}

// Resolve identifies the tenant for a request against the static registry.
// Suspended, pending and archived tenants reached via host signals yield
// resolver.ErrTenantUnavailable; an unknown tenant yields
// resolver.ErrTenantNotFound.
func (r *Registry) Resolve(req *http.Request) (*Resolution, error) {
	result, err := r.res.Identify(req)
	if err != nil {
		return nil, err
	}
	d, ok := r.Lookup(result.TenantID)
	if !ok {
		return nil, resolver.ErrTenantNotFound
	}
	return &Resolution{Descriptor: d, Strategy: result.Strategy, Host: result.Host}, nil
}
