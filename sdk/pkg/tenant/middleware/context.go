package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/quillcms/tenantcore/sdk/pkg/tenant/connection"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/mapping"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/resolver"
)

const (
	contextKey    = "_tenantcore-tenant-context"
	connectionKey = "_tenantcore-tenant-connection"
)

// TenantContext is the non-secret tenant state the pipeline attaches to a
// request. Raw secrets never cross this boundary: the locator is masked
// and the public config blob excludes secret-like keys.
type TenantContext struct {
	TenantID     string              `json:"tenantId"`
	Domain       string              `json:"domain"`
	TenantType   mapping.TenantType  `json:"tenantType"`
	ConfigRef    string              `json:"configRef"`
	IsActive     bool                `json:"isActive"`
	MaskedDSN    string              `json:"maskedDsn"`
	PublicConfig string              `json:"publicConfig"` // JSON blob, no secrets
	Strategy     resolver.Strategy   `json:"strategy"`
}

// IsAdmin reports whether the resolved tenant is the admin console tenant.
func (tc *TenantContext) IsAdmin() bool {
	return tc.TenantType == mapping.TenantTypeAdmin
}

// FromContext returns the tenant context attached by the pipeline.
func FromContext(c *gin.Context) (*TenantContext, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	tc, ok := v.(*TenantContext)
	return tc, ok
}

// ConnectionFromContext returns the borrowed connection handle when the
// pipeline was configured with a registry.
func ConnectionFromContext(c *gin.Context) (*connection.Handle, bool) {
	v, ok := c.Get(connectionKey)
	if !ok {
		return nil, false
	}
	h, ok := v.(*connection.Handle)
	return h, ok
}
