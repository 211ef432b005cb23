package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quillcms/tenantcore/sdk/pkg/logger"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/middleware"
)

// RestApi is the embeddable base for HTTP handlers. It standardizes the
// response envelope and exposes the request-scoped logger and tenant.
type RestApi struct{}

type envelope struct {
	RequestID string      `json:"requestId,omitempty"`
	Code      int         `json:"code"`
	Msg       string      `json:"msg,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// GetLogger returns the logger bound to this request.
func (e *RestApi) GetLogger(c *gin.Context) *zap.Logger {
	return logger.GetRequestLogger(c)
}

// GetTenant returns the tenant context the pipeline attached, if any.
func (e *RestApi) GetTenant(c *gin.Context) (*middleware.TenantContext, bool) {
	return middleware.FromContext(c)
}

// Error writes the standard failure envelope.
func (e *RestApi) Error(c *gin.Context, code int, err error, msg string) {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	c.JSON(http.StatusOK, envelope{
		RequestID: requestID(c),
		Code:      code,
		Msg:       msg,
	})
}

// OK writes the standard success envelope.
func (e *RestApi) OK(c *gin.Context, data interface{}, msg string) {
	c.JSON(http.StatusOK, envelope{
		RequestID: requestID(c),
		Code:      http.StatusOK,
		Msg:       msg,
		Data:      data,
	})
}

// PageOK writes a success envelope with pagination fields.
func (e *RestApi) PageOK(c *gin.Context, result interface{}, count, pageIndex, pageSize int, msg string) {
	e.OK(c, gin.H{
		"list":      result,
		"count":     count,
		"pageIndex": pageIndex,
		"pageSize":  pageSize,
	}, msg)
}

func requestID(c *gin.Context) string {
	if id, ok := c.Request.Context().Value(logger.TrafficKey).(string); ok {
		return id
	}
	return c.GetHeader(string(logger.TrafficKey))
}
