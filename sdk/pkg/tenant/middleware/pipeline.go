package middleware

// Package middleware orchestrates tenant identification per request:
// skip check → resolve → load and validate config → attach context →
// next handler. Each terminal branch maps to one stable error code.

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quillcms/tenantcore/sdk/pkg/tenant/connection"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/envloader"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/mapping"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/resolver"
)

// Pipeline runs tenant identification for every request. Construct with
// NewPipeline and mount Handler() ahead of the application routes.
type Pipeline struct {
	store    *mapping.Store
	resolver *resolver.Resolver
	loader   *envloader.Loader
	registry *connection.Registry // optional: eager per-request borrow
	log      *zap.Logger

	skipPrefixes   []string
	apiPrefixes    []string
	fallbackDomain string
	devMode        bool
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSkipPrefixes lists path prefixes that bypass identification.
func WithSkipPrefixes(prefixes ...string) PipelineOption {
	return func(p *Pipeline) {
		p.skipPrefixes = prefixes
	}
}

// WithAPIPrefixes lists path prefixes answered with JSON errors; other
// paths are treated as browser requests and redirected.
func WithAPIPrefixes(prefixes ...string) PipelineOption {
	return func(p *Pipeline) {
		p.apiPrefixes = prefixes
	}
}

// WithDevFallback enables the one-shot fallback-domain retry after a
// failed resolution. Only honored in development mode.
func WithDevFallback(domain string, devMode bool) PipelineOption {
	return func(p *Pipeline) {
		p.fallbackDomain = domain
		p.devMode = devMode
	}
}

// WithConnectionRegistry makes the pipeline borrow the tenant's connection
// for the duration of the request and attach it to the context. Without
// it, handlers fetch connections themselves.
func WithConnectionRegistry(reg *connection.Registry) PipelineOption {
	return func(p *Pipeline) {
		p.registry = reg
	}
}

// WithPipelineLogger overrides the default nop logger.
func WithPipelineLogger(log *zap.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.log = log
	}
}

// NewPipeline wires the full-capability pipeline over the mapping store
// and env loader.
func NewPipeline(store *mapping.Store, loader *envloader.Loader, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:    store,
		resolver: resolver.New(resolver.StoreDirectory{Store: store}),
		loader:   loader,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handler returns the gin middleware.
func (p *Pipeline) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.shouldSkip(c.Request.URL.Path) {
			c.Next()
			return
		}

		host := resolver.NormalizeHost(c.Request.Host)
		isAPI := isAPIRequest(c.Request.URL.Path, p.apiPrefixes)

		result, err := p.resolve(c.Request)
		if err != nil {
			p.failResolution(c, err, host, isAPI)
			return
		}

		m, ok := p.store.LookupID(result.TenantID)
		if !ok {
			// The mapping reloaded between resolution and lookup.
			p.failResolution(c, resolver.ErrTenantNotFound, host, isAPI)
			return
		}

		cfg, err := p.loader.Load(c.Request.Context(), m.ConfigRef)
		if err != nil {
			p.failConfig(c, err, host, isAPI)
			return
		}

		publicBlob, err := cfg.PublicJSON()
		if err != nil {
			p.log.Error("tenant pipeline: public config serialization failed",
				zap.String("tenantID", result.TenantID), zap.Error(err))
			p.fail(c, http.StatusInternalServerError, CodeProcessingError,
				"tenant context could not be prepared", host, isAPI)
			return
		}

		tc := &TenantContext{
			TenantID:     result.TenantID,
			Domain:       host,
			TenantType:   m.TenantType,
			ConfigRef:    m.ConfigRef,
			IsActive:     m.IsActive,
			MaskedDSN:    cfg.MaskedDSN(),
			PublicConfig: publicBlob,
			Strategy:     result.Strategy,
		}
		c.Set(contextKey, tc)

		if p.registry != nil {
			handle, err := p.registry.Get(c.Request.Context(), result.TenantID)
			if err != nil {
				p.log.Error("tenant pipeline: connection unavailable",
					zap.String("tenantID", result.TenantID),
					zap.String("domain", host), zap.Error(err))
				p.fail(c, http.StatusInternalServerError, CodeConnectionError,
					"tenant backing store unavailable", host, isAPI)
				return
			}
			c.Set(connectionKey, handle)
			defer handle.Release()
		}

		c.Next()
	}
}

func (p *Pipeline) shouldSkip(path string) bool {
	for _, prefix := range p.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// resolve runs identification, retrying once against the configured
// fallback domain in development mode.
func (p *Pipeline) resolve(req *http.Request) (*resolver.Result, error) {
	result, err := p.resolver.Identify(req)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, resolver.ErrTenantNotFound) && p.devMode && p.fallbackDomain != "" {
		fallback := req.Clone(req.Context())
		fallback.Host = p.fallbackDomain
		if result, fbErr := p.resolver.Identify(fallback); fbErr == nil {
			p.log.Debug("tenant pipeline: dev fallback domain resolved",
				zap.String("requested", resolver.NormalizeHost(req.Host)),
				zap.String("fallback", p.fallbackDomain))
			return result, nil
		}
	}
	return nil, err
}

func (p *Pipeline) failResolution(c *gin.Context, err error, host string, isAPI bool) {
	status := http.StatusNotFound
	code := CodeTenantNotFound
	message := "no tenant is registered for this domain"
	if errors.Is(err, resolver.ErrTenantUnavailable) {
		status = http.StatusForbidden
		code = CodeTenantUnavailable
		message = "this tenant is not currently available"
	}

	p.log.Warn("tenant pipeline: resolution failed",
		zap.String("domain", host), zap.String("code", code))

	p.fail(c, status, code, message, host, isAPI)
}

func (p *Pipeline) failConfig(c *gin.Context, err error, host string, isAPI bool) {
	status := http.StatusInternalServerError
	code := CodeConfigInvalid
	message := "tenant configuration is invalid"

	var invalid *envloader.InvalidConfigError
	switch {
	case errors.As(err, &invalid):
		message = "tenant configuration is missing required fields: " +
			strings.Join(invalid.MissingFields, ", ")
	case errors.Is(err, envloader.ErrConfigMissing):
		code = CodeConfigMissing
		message = "tenant configuration could not be loaded"
	}

	p.log.Error("tenant pipeline: config failed",
		zap.String("domain", host), zap.String("code", code), zap.Error(err))

	p.fail(c, status, code, message, host, isAPI)
}

// fail terminates the request in the shape the client understands: the
// structured JSON body for API paths, the error-state redirect for
// browser paths.
func (p *Pipeline) fail(c *gin.Context, status int, code, message, host string, isAPI bool) {
	if isAPI {
		abortJSON(c, status, code, message, host)
	} else {
		abortBrowser(c, status, code, message, host)
	}
}
