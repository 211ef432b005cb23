package service

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quillcms/tenantcore/sdk/pkg/logger"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/middleware"
)

// Service is the embeddable base for tenant-scoped business services. It
// carries the tenant context and database handle the request pipeline
// attached, so concrete services never resolve tenancy themselves.
type Service struct {
	Orm    *gorm.DB
	Tenant *middleware.TenantContext
	Log    *zap.Logger
	Error  error
}

// MakeService fills the base from the request context. The returned error
// is non-nil when the request reached the handler without a tenant.
func (s *Service) MakeService(c *gin.Context) error {
	tc, ok := middleware.FromContext(c)
	if !ok {
		return fmt.Errorf("service: no tenant context on request")
	}
	s.Tenant = tc
	s.Log = logger.GetRequestLogger(c)
	if handle, ok := middleware.ConnectionFromContext(c); ok {
		s.Orm = handle.DB
	}
	return nil
}

// AddError accumulates errors across service calls.
func (s *Service) AddError(err error) error {
	if s.Error == nil {
		s.Error = err
	} else if err != nil {
		s.Error = fmt.Errorf("%v; %w", s.Error, err)
	}
	return s.Error
}
