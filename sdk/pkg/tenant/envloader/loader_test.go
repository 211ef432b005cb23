package envloader

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completePayload = `DATABASE_URL=acme:hunter2@tcp(db.internal:3306)/acme
TENANT_ID=acme
SECRET_KEY=s3cret
THEME=dark
`

func writePayload(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writePayload(t, dir, "acme.cfg", completePayload)

	l := NewLoader(dir)
	cfg, err := l.Load(context.Background(), "acme.cfg")
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.TenantID())
	assert.Equal(t, "dark", cfg.GetString("THEME"))
	assert.Equal(t, "acme.cfg", cfg.Ref)
	assert.False(t, cfg.LoadedAt.IsZero())
}

func TestLoader_Load_JSONPayload(t *testing.T) {
	dir := t.TempDir()
	writePayload(t, dir, "acme.json", `{
	  "DATABASE_URL": "acme:pw@tcp(db:3306)/acme",
	  "TENANT_ID": "acme",
	  "SECRET_KEY": "s3cret"
	}`)

	l := NewLoader(dir)
	cfg, err := l.Load(context.Background(), "acme.json")
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.TenantID())
}

func TestLoader_Load_Missing(t *testing.T) {
	l := NewLoader(t.TempDir())
	_, err := l.Load(context.Background(), "ghost.cfg")
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestLoader_Load_InvalidReportsMissingFields(t *testing.T) {
	dir := t.TempDir()
	writePayload(t, dir, "acme.cfg", "TENANT_ID=acme\nSECRET_KEY=s3cret\n")

	l := NewLoader(dir)
	_, err := l.Load(context.Background(), "acme.cfg")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)

	var invalid *InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"DATABASE_URL"}, invalid.MissingFields)
}

func TestLoader_Load_CachesUntilTTL(t *testing.T) {
	dir := t.TempDir()
	writePayload(t, dir, "acme.cfg", completePayload)

	l := NewLoader(dir, WithTTL(time.Hour))

	first, err := l.Load(context.Background(), "acme.cfg")
	require.NoError(t, err)
	second, err := l.Load(context.Background(), "acme.cfg")
	require.NoError(t, err)

	assert.Same(t, first, second, "second load must serve the cached value")
	assert.Equal(t, 1, l.Stats().Size)
}

func TestLoader_Load_TTLExpiryTriggersFreshLoad(t *testing.T) {
	dir := t.TempDir()
	writePayload(t, dir, "acme.cfg", completePayload)

	l := NewLoader(dir, WithTTL(30*time.Millisecond))

	first, err := l.Load(context.Background(), "acme.cfg")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	second, err := l.Load(context.Background(), "acme.cfg")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "expired entry must be re-read")
}

func TestLoader_Refresh(t *testing.T) {
	dir := t.TempDir()
	writePayload(t, dir, "acme.cfg", completePayload)

	l := NewLoader(dir, WithTTL(time.Hour))

	first, err := l.Load(context.Background(), "acme.cfg")
	require.NoError(t, err)

	// Hot update: tooling rewrites the payload, an admin triggers Refresh.
	writePayload(t, dir, "acme.cfg", completePayload+"THEME_V2=light\n")
	l.Refresh("acme.cfg")

	second, err := l.Load(context.Background(), "acme.cfg")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "light", second.GetString("THEME_V2"))
}

// TestLoader_Load_SingleFlight: N concurrent loads for one reference must
// coalesce into one underlying read, leaving every caller with the same
// published value.
func TestLoader_Load_SingleFlight(t *testing.T) {
	dir := t.TempDir()
	writePayload(t, dir, "acme.cfg", completePayload)

	l := NewLoader(dir, WithTTL(time.Hour))

	const n = 32
	results := make([]*EnvConfig, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = l.Load(context.Background(), "acme.cfg")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i], "all concurrent callers share one load")
	}
	assert.Equal(t, 1, l.Stats().Size)
}

func TestLoader_Load_FailureNotCached(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(dir, WithTTL(time.Hour))

	_, err := l.Load(context.Background(), "late.cfg")
	require.ErrorIs(t, err, ErrConfigMissing)

	// The payload appears afterwards; the next load must succeed.
	writePayload(t, dir, "late.cfg", completePayload)
	cfg, err := l.Load(context.Background(), "late.cfg")
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.TenantID())
}
