package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// Stable error codes API clients branch on.
const (
	CodeTenantRequired      = "TENANT_REQUIRED"
	CodeTenantNotFound      = "TENANT_NOT_FOUND"
	CodeTenantUnavailable   = "TENANT_UNAVAILABLE"
	CodeConfigMissing       = "CONFIG_MISSING"
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeConnectionError     = "CONNECTION_ERROR"
	CodeProcessingError     = "PROCESSING_ERROR"
	CodeAdminTenantRequired = "ADMIN_TENANT_REQUIRED"
)

// ErrorBody is the structured error contract for API-class requests.
// It carries only stable, non-sensitive fields.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Domain  string `json:"domain,omitempty"`
}

// abortJSON terminates the request with the structured error body.
func abortJSON(c *gin.Context, status int, code, message, domain string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Domain:  domain,
	})
}

// abortBrowser redirects browser-class requests to an error-annotated root
// URL instead of showing a raw error page. Requests already carrying an
// error annotation get the JSON body instead, so a failing root URL cannot
// redirect to itself forever.
func abortBrowser(c *gin.Context, status int, code, reason, domain string) {
	if c.Query("error") != "" {
		abortJSON(c, status, code, reason, domain)
		return
	}
	q := url.Values{}
	q.Set("error", strings.ToLower(code))
	if domain != "" {
		q.Set("domain", domain)
	}
	c.Redirect(http.StatusFound, "/?"+q.Encode())
	c.Abort()
}

// isAPIRequest classifies the request by configured API path prefixes.
func isAPIRequest(path string, apiPrefixes []string) bool {
	for _, prefix := range apiPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
