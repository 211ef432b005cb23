package static

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quillcms/tenantcore/sdk/pkg/tenant/resolver"
)

const contextKey = "_tenantcore-static-tenant"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Domain  string `json:"domain,omitempty"`
}

// Middleware attaches the resolved static descriptor to the request, or
// terminates with 403 for known-but-unavailable tenants and 404 for
// unknown ones. It runs ahead of, or instead of, the full pipeline.
func Middleware(registry *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := registry.Resolve(c.Request)
		if err != nil {
			host := resolver.NormalizeHost(c.Request.Host)
			if errors.Is(err, resolver.ErrTenantUnavailable) {
				c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
					Error:   http.StatusText(http.StatusForbidden),
					Message: "this tenant is not currently available",
					Code:    "TENANT_UNAVAILABLE",
					Domain:  host,
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusNotFound, errorBody{
				Error:   http.StatusText(http.StatusNotFound),
				Message: "no tenant is registered for this domain",
				Code:    "TENANT_NOT_FOUND",
				Domain:  host,
			})
			return
		}
		c.Set(contextKey, res)
		c.Next()
	}
}

// FromContext returns the resolution attached by Middleware.
func FromContext(c *gin.Context) (*Resolution, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*Resolution)
	return res, ok
}

// IdentifyHandler serves the edge identity endpoint: the resolved tenant's
// id, subdomain, domain and status as JSON.
func IdentifyHandler(registry *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := FromContext(c)
		if !ok {
			var err error
			res, err = registry.Resolve(c.Request)
			if err != nil {
				status := http.StatusNotFound
				code := "TENANT_NOT_FOUND"
				if errors.Is(err, resolver.ErrTenantUnavailable) {
					status = http.StatusForbidden
					code = "TENANT_UNAVAILABLE"
				}
				c.JSON(status, errorBody{
					Error:   http.StatusText(status),
					Message: "tenant could not be resolved",
					Code:    code,
					Domain:  resolver.NormalizeHost(c.Request.Host),
				})
				return
			}
		}
		c.JSON(http.StatusOK, res.Descriptor)
	}
}
