package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireTenant rejects API requests that reached a handler without a
// resolved tenant context.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := FromContext(c); !ok {
			abortJSON(c, http.StatusBadRequest, CodeTenantRequired,
				"a tenant context is required for this endpoint", "")
			return
		}
		c.Next()
	}
}

// RequireAdminTenant additionally rejects non-admin tenant types.
func RequireAdminTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tc, ok := FromContext(c)
		if !ok {
			abortJSON(c, http.StatusBadRequest, CodeTenantRequired,
				"a tenant context is required for this endpoint", "")
			return
		}
		if !tc.IsAdmin() {
			abortJSON(c, http.StatusForbidden, CodeAdminTenantRequired,
				"this endpoint is restricted to the admin tenant", tc.Domain)
			return
		}
		c.Next()
	}
}
