package mapping

import (
	"path"
	"strings"
)

// TenantType distinguishes the admin console tenant from customer websites.
type TenantType string

const (
	TenantTypeAdmin   TenantType = "admin"
	TenantTypeWebsite TenantType = "website"
)

func (t TenantType) String() string {
	return string(t)
}

// TenantMapping binds a domain to a tenant's configuration reference.
// Records are authored by external tooling; this core only reads them.
type TenantMapping struct {
	Domain     string     `json:"domain"`
	ConfigRef  string     `json:"configRef"`
	TenantType TenantType `json:"tenantType"`
	IsActive   bool       `json:"isActive"`
}

// TenantID derives the tenant identifier from the config reference: the
// reference's base name without extension. "envs/enterprise.cfg" → "enterprise".
// The derivation is deterministic so the same mapping always yields the
// same id, and ids are never taken from client input directly.
func (m *TenantMapping) TenantID() string {
	base := path.Base(m.ConfigRef)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// Document is the persisted mapping format: an ordered list of records.
type Document struct {
	Mappings []*TenantMapping `json:"mappings"`
}
