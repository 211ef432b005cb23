package envloader

// Package envloader loads, validates and caches per-tenant configuration
// payloads. Payloads live as one file per config reference under a base
// directory, in env-file, yaml or json form.
//
// Caching:
//   - Entries are cached per configRef with a TTL and are immutable once
//     published; Refresh drops an entry, the next Load re-reads
//   - Concurrent loads for one configRef coalesce into a single read
//   - Loads run detached from the first caller's cancellation so one
//     impatient caller cannot fail every coalesced waiter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrConfigMissing reports that the payload source could not be read.
	ErrConfigMissing = errors.New("tenant config missing")
	// ErrConfigInvalid reports required fields absent after parsing.
	ErrConfigInvalid = errors.New("tenant config invalid")
)

// InvalidConfigError carries the missing field names alongside
// ErrConfigInvalid so the pipeline can report specifics.
type InvalidConfigError struct {
	Ref           string
	MissingFields []string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("tenant config invalid: %s missing %s",
		e.Ref, strings.Join(e.MissingFields, ", "))
}

func (e *InvalidConfigError) Unwrap() error {
	return ErrConfigInvalid
}

const (
	defaultTTL         = 5 * time.Minute
	defaultLoadTimeout = 5 * time.Second
)

type cacheEntry struct {
	cfg       *EnvConfig
	expiresAt time.Time
}

// Loader serves cached tenant configuration payloads.
type Loader struct {
	baseDir     string
	ttl         time.Duration
	loadTimeout time.Duration
	log         *zap.Logger

	sf    singleflight.Group
	mu    sync.RWMutex
	cache map[string]*cacheEntry

	hits   prometheus.Counter
	misses prometheus.Counter
	size   prometheus.Gauge
}

// Option configures a Loader.
type Option func(*Loader)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Loader) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLoadTimeout bounds a single underlying read.
func WithLoadTimeout(timeout time.Duration) Option {
	return func(l *Loader) {
		if timeout > 0 {
			l.loadTimeout = timeout
		}
	}
}

// WithLogger overrides the default nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		l.log = log
	}
}

// WithRegisterer registers the loader's cache counters with a prometheus
// registry. Leave unset in tests to avoid duplicate registration.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(l *Loader) {
		reg.MustRegister(l.hits, l.misses, l.size)
	}
}

// NewLoader creates a loader reading payload files under baseDir.
func NewLoader(baseDir string, opts ...Option) *Loader {
	l := &Loader{
		baseDir:     baseDir,
		ttl:         defaultTTL,
		loadTimeout: defaultLoadTimeout,
		log:         zap.NewNop(),
		cache:       make(map[string]*cacheEntry),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenant_env_cache_hits_total",
			Help: "Tenant config cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenant_env_cache_misses_total",
			Help: "Tenant config cache misses.",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenant_env_cache_size",
			Help: "Tenant config cache entries.",
		}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the cached payload for a config reference, reading it on
// first use or after TTL expiry. Concurrent calls for one reference share
// a single underlying read.
func (l *Loader) Load(ctx context.Context, configRef string) (*EnvConfig, error) {
	if cfg, ok := l.cached(configRef); ok {
		l.hits.Inc()
		return cfg, nil
	}
	l.misses.Inc()

	v, err, _ := l.sf.Do(configRef, func() (interface{}, error) {
		// A waiter queued behind the winning load finds the fresh entry.
		if cfg, ok := l.cached(configRef); ok {
			return cfg, nil
		}
		cfg, err := l.read(configRef)
		if err != nil {
			return nil, err
		}
		l.publish(configRef, cfg)
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return v.(*EnvConfig), nil
}

func (l *Loader) cached(configRef string) (*EnvConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.cache[configRef]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.cfg, true
}

func (l *Loader) publish(configRef string, cfg *EnvConfig) {
	l.mu.Lock()
	l.cache[configRef] = &cacheEntry{cfg: cfg, expiresAt: time.Now().Add(l.ttl)}
	l.size.Set(float64(len(l.cache)))
	l.mu.Unlock()
}

// read performs one bounded payload read. It runs on a context detached
// from any caller so coalesced waiters share its outcome regardless of who
// triggered it.
func (l *Loader) read(configRef string) (*EnvConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.loadTimeout)
	defer cancel()

	type outcome struct {
		cfg *EnvConfig
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		cfg, err := readPayload(l.baseDir, configRef)
		ch <- outcome{cfg: cfg, err: err}
	}()

	select {
	case <-ctx.Done():
		l.log.Error("tenant env: load timed out", zap.String("configRef", configRef))
		return nil, fmt.Errorf("%w: %s: load timed out", ErrConfigMissing, configRef)
	case out := <-ch:
		if out.err != nil {
			l.log.Error("tenant env: load failed",
				zap.String("configRef", configRef), zap.Error(out.err))
			return nil, out.err
		}
		if missing := Validate(out.cfg); len(missing) > 0 {
			l.log.Error("tenant env: required fields missing",
				zap.String("configRef", configRef), zap.Strings("missing", missing))
			return nil, &InvalidConfigError{Ref: configRef, MissingFields: missing}
		}
		return out.cfg, nil
	}
}

// readPayload parses one payload file with viper. The reference's
// extension picks the format; .cfg and .env are flat env files.
func readPayload(baseDir, configRef string) (*EnvConfig, error) {
	path := configRef
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, configRef)
	}

	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		// viper infers these from the extension
	default:
		v.SetConfigType("env")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigMissing, configRef, err)
	}

	return New(configRef, v.AllSettings()), nil
}

// Refresh drops the cache entry for a config reference so the next Load
// re-reads the source. Used for admin-triggered hot updates.
func (l *Loader) Refresh(configRef string) {
	l.mu.Lock()
	delete(l.cache, configRef)
	l.size.Set(float64(len(l.cache)))
	l.mu.Unlock()
	l.log.Info("tenant env: cache entry refreshed", zap.String("configRef", configRef))
}

// CacheStats is the loader's ops surface.
type CacheStats struct {
	Size int `json:"size"`
}

// Stats reports the current cache size. Hit/miss rates are exported as
// prometheus counters.
func (l *Loader) Stats() CacheStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return CacheStats{Size: len(l.cache)}
}
