package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/quillcms/tenantcore/sdk/pkg/json"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/connection"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/envloader"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/mapping"
)

const testMappings = `{
  "mappings": [
    {"domain": "cms.enterprise.com", "configRef": "enterprise.cfg", "tenantType": "admin", "isActive": true},
    {"domain": "acme.app.com", "configRef": "acme.cfg", "tenantType": "website", "isActive": true},
    {"domain": "demo.app.com", "configRef": "demo.cfg", "tenantType": "website", "isActive": true},
    {"domain": "closed.app.com", "configRef": "closed.cfg", "tenantType": "website", "isActive": false},
    {"domain": "broken.app.com", "configRef": "broken.cfg", "tenantType": "website", "isActive": true}
  ]
}`

func payload(tenantID string) string {
	return "DATABASE_URL=" + tenantID + ":hunter2@tcp(db.internal:3306)/" + tenantID + "\n" +
		"TENANT_ID=" + tenantID + "\n" +
		"SECRET_KEY=s3cret\n" +
		"THEME=dark\n"
}

// newTestStack builds a mapping store and env loader over temp files with
// every active tenant's payload in place except "broken", which is missing
// its connection string.
func newTestStack(t *testing.T) (*mapping.Store, *envloader.Loader) {
	t.Helper()
	dir := t.TempDir()

	mappingPath := filepath.Join(dir, "mappings.json")
	require.NoError(t, os.WriteFile(mappingPath, []byte(testMappings), 0o644))

	for _, id := range []string{"enterprise", "acme", "demo", "closed"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".cfg"), []byte(payload(id)), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.cfg"),
		[]byte("TENANT_ID=broken\nSECRET_KEY=s3cret\n"), 0o644))

	store := mapping.NewStore(mappingPath)
	require.NoError(t, store.Load())
	return store, envloader.NewLoader(dir)
}

func newTestRouter(p *Pipeline, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(p.Handler())
	handlers := append(extra, func(c *gin.Context) {
		if tc, ok := FromContext(c); ok {
			c.JSON(http.StatusOK, tc)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant": nil})
	})
	router.Any("/*path", handlers...)
	return router
}

func serve(router *gin.Engine, host, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Host = host
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestPipeline_AttachesAdminTenant(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader)
	router := newTestRouter(p)

	w := serve(router, "cms.enterprise.com", "/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tc TenantContext
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tc))
	assert.Equal(t, "enterprise", tc.TenantID)
	assert.Equal(t, mapping.TenantTypeAdmin, tc.TenantType)
	assert.Equal(t, "cms.enterprise.com", tc.Domain)
	assert.Equal(t, "enterprise.cfg", tc.ConfigRef)
	assert.True(t, tc.IsActive)
	assert.Equal(t, "enterprise:****@tcp(db.internal:3306)/enterprise", tc.MaskedDSN)
	assert.NotContains(t, tc.PublicConfig, "hunter2")
	assert.NotContains(t, tc.PublicConfig, "s3cret")
	assert.Contains(t, tc.PublicConfig, "dark")
}

func TestPipeline_SkipPrefixes(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader, WithSkipPrefixes("/healthz", "/static/"))
	router := newTestRouter(p)

	for _, target := range []string{"/healthz", "/static/app.css"} {
		w := serve(router, "ghost.app.com", target, nil)
		assert.Equal(t, http.StatusOK, w.Code, "%s must bypass identification", target)
		assert.Contains(t, w.Body.String(), `"tenant":null`)
	}
}

func TestPipeline_NotFound_API(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader, WithAPIPrefixes("/api/"))
	router := newTestRouter(p)

	w := serve(router, "ghost.app.com", "/api/pages", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	body := decodeError(t, w)
	assert.Equal(t, CodeTenantNotFound, body.Code)
	assert.Equal(t, "ghost.app.com", body.Domain)
	assert.NotEmpty(t, body.Message)
}

func TestPipeline_NotFound_BrowserRedirect(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader, WithAPIPrefixes("/api/"))
	router := newTestRouter(p)

	w := serve(router, "ghost.app.com", "/some/page", nil)
	require.Equal(t, http.StatusFound, w.Code)

	loc := w.Header().Get("Location")
	assert.Contains(t, loc, "error=tenant_not_found")
	assert.Contains(t, loc, "domain=ghost.app.com")
}

func TestPipeline_BrowserRedirect_NoLoop(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader)
	router := newTestRouter(p)

	// A request already annotated with an error must not redirect again.
	w := serve(router, "ghost.app.com", "/?error=tenant_not_found&domain=ghost.app.com", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPipeline_Unavailable(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader, WithAPIPrefixes("/api/"))
	router := newTestRouter(p)

	w := serve(router, "closed.app.com", "/api/pages", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeTenantUnavailable, decodeError(t, w).Code)
}

func TestPipeline_DevFallbackDomain(t *testing.T) {
	store, loader := newTestStack(t)

	t.Run("enabled in dev mode", func(t *testing.T) {
		p := NewPipeline(store, loader, WithDevFallback("demo.app.com", true))
		router := newTestRouter(p)

		w := serve(router, "ghost.app.com", "/", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var tc TenantContext
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tc))
		assert.Equal(t, "demo", tc.TenantID)
	})

	t.Run("ignored outside dev mode", func(t *testing.T) {
		p := NewPipeline(store, loader, WithDevFallback("demo.app.com", false))
		router := newTestRouter(p)

		w := serve(router, "ghost.app.com", "/", nil)
		assert.Equal(t, http.StatusFound, w.Code)
	})
}

func TestPipeline_InvalidConfig(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader, WithAPIPrefixes("/api/"))
	router := newTestRouter(p)

	w := serve(router, "broken.app.com", "/api/pages", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decodeError(t, w)
	assert.Equal(t, CodeConfigInvalid, body.Code)
	assert.Contains(t, body.Message, "DATABASE_URL")
	assert.NotContains(t, body.Message, "hunter2")
}

func TestPipeline_HeaderOverride(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader)
	router := newTestRouter(p)

	w := serve(router, "unmapped.example.org", "/", map[string]string{"X-Tenant-ID": "acme"})
	require.Equal(t, http.StatusOK, w.Code)

	var tc TenantContext
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tc))
	assert.Equal(t, "acme", tc.TenantID)
}

// stubDialer builds gorm handles over lazy connections: no server contact
// happens until a query runs, which these tests never do.
type stubDialer struct {
	t    *testing.T
	fail bool
}

func (d *stubDialer) Dial(ctx context.Context, cfg *envloader.EnvConfig) (*gorm.DB, error) {
	if d.fail {
		return nil, errors.New("dial refused")
	}
	sqlDB, err := sql.Open("mysql", cfg.DatabaseURL())
	require.NoError(d.t, err)
	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(d.t, err)
	return db, nil
}

func newTestRegistry(t *testing.T, store *mapping.Store, loader *envloader.Loader, dialer connection.Dialer) *connection.Registry {
	t.Helper()
	configFn := func(ctx context.Context, tenantID string) (*envloader.EnvConfig, error) {
		m, ok := store.LookupID(tenantID)
		if !ok {
			return nil, envloader.ErrConfigMissing
		}
		return loader.Load(ctx, m.ConfigRef)
	}
	r := connection.NewRegistry(dialer, configFn)
	t.Cleanup(r.Shutdown)
	return r
}

func TestPipeline_ConnectionAttachAndRelease(t *testing.T) {
	store, loader := newTestStack(t)
	registry := newTestRegistry(t, store, loader, &stubDialer{t: t})
	p := NewPipeline(store, loader, WithConnectionRegistry(registry))

	var borrowed *connection.Handle
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(p.Handler())
	router.GET("/", func(c *gin.Context) {
		h, ok := ConnectionFromContext(c)
		require.True(t, ok, "handler must see the borrowed connection")
		require.NotNil(t, h.DB)
		assert.Equal(t, "acme", h.TenantID)
		assert.Equal(t, 1, h.RefCount())
		borrowed = h
		c.Status(http.StatusOK)
	})

	w := serve(router, "acme.app.com", "/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, borrowed)
	assert.Equal(t, 0, borrowed.RefCount(), "pipeline must release after the handler")
	assert.Equal(t, 1, registry.GetStats().ActiveCount, "released, not closed")
}

func TestPipeline_ConnectionError(t *testing.T) {
	store, loader := newTestStack(t)
	registry := newTestRegistry(t, store, loader, &stubDialer{t: t, fail: true})
	p := NewPipeline(store, loader, WithAPIPrefixes("/api/"), WithConnectionRegistry(registry))
	router := newTestRouter(p)

	t.Run("api gets json", func(t *testing.T) {
		w := serve(router, "acme.app.com", "/api/pages", nil)
		require.Equal(t, http.StatusInternalServerError, w.Code)

		body := decodeError(t, w)
		assert.Equal(t, CodeConnectionError, body.Code)
		assert.Equal(t, "acme.app.com", body.Domain)
	})

	t.Run("browser gets redirect", func(t *testing.T) {
		w := serve(router, "acme.app.com", "/some/page", nil)
		require.Equal(t, http.StatusFound, w.Code)

		loc := w.Header().Get("Location")
		assert.Contains(t, loc, "error=connection_error")
		assert.Contains(t, loc, "domain=acme.app.com")
	})
}

func TestRequireTenant(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader, WithSkipPrefixes("/open/"), WithAPIPrefixes("/api/", "/open/"))
	router := newTestRouter(p, RequireTenant())

	t.Run("passes with tenant", func(t *testing.T) {
		w := serve(router, "acme.app.com", "/api/pages", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects without tenant", func(t *testing.T) {
		// The skip prefix lets the request through identification, so the
		// guard is what rejects it.
		w := serve(router, "ghost.app.com", "/open/pages", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodeTenantRequired, decodeError(t, w).Code)
	})
}

func TestRequireAdminTenant(t *testing.T) {
	store, loader := newTestStack(t)
	p := NewPipeline(store, loader, WithAPIPrefixes("/api/"))
	router := newTestRouter(p, RequireAdminTenant())

	t.Run("passes admin tenant", func(t *testing.T) {
		w := serve(router, "cms.enterprise.com", "/api/settings", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects website tenant", func(t *testing.T) {
		w := serve(router, "acme.app.com", "/api/settings", nil)
		require.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, CodeAdminTenantRequired, decodeError(t, w).Code)
	})
}
