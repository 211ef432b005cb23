package resolver

import (
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/mapping"
)

// StoreDirectory adapts the mapping store to the Directory interface,
// giving the full pipeline its resolver variant.
type StoreDirectory struct {
	Store *mapping.Store
}

func (d StoreDirectory) ByDomain(domain string) (Candidate, bool) {
	m, ok := d.Store.LookupDomain(domain)
	if !ok {
		return Candidate{}, false
	}
	return Candidate{TenantID: m.TenantID(), Available: m.IsActive}, true
}

// BySubdomain matches the host's first label against tenant ids: the
// mapping document registers custom domains, so "acme.platform.com"
// identifies tenant "acme" by its derived id.
func (d StoreDirectory) BySubdomain(label string) (Candidate, bool) {
	return d.ByID(label)
}

func (d StoreDirectory) ByID(id string) (Candidate, bool) {
	m, ok := d.Store.LookupID(id)
	if !ok {
		return Candidate{}, false
	}
	return Candidate{TenantID: m.TenantID(), Available: m.IsActive}, true
}
