package runtime

// Package runtime assembles the tenant services into one constructible
// container. Nothing here is a package-level singleton: tests build a
// fresh Application (or individual services) per case.

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/quillcms/tenantcore/sdk/config"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/connection"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/envloader"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/mapping"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/middleware"
	"github.com/quillcms/tenantcore/sdk/pkg/tenant/static"
)

// Application owns the tenant mapping store, env loader, connection
// registry, static registry and request pipeline, plus the maintenance
// schedule that keeps them healthy.
type Application struct {
	mu     sync.RWMutex
	engine http.Handler

	mappingStore   *mapping.Store
	envLoader      *envloader.Loader
	registry       *connection.Registry
	staticRegistry *static.Registry
	pipeline       *middleware.Pipeline

	log        *zap.Logger
	schedule   *cron.Cron
	sweepEvery time.Duration
}

// NewApplication wires the services from configuration.
func NewApplication(appCfg *config.Application, tenantsCfg *config.Tenants, log *zap.Logger) *Application {
	if log == nil {
		log = zap.NewNop()
	}

	storeOpts := []mapping.Option{mapping.WithLogger(log)}
	if tenantsCfg.SnapshotFile != "" {
		storeOpts = append(storeOpts, mapping.WithSnapshotFile(tenantsCfg.SnapshotFile))
	}
	store := mapping.NewStore(tenantsCfg.MappingFile, storeOpts...)

	loader := envloader.NewLoader(tenantsCfg.EnvDir,
		envloader.WithLogger(log),
		envloader.WithTTL(seconds(tenantsCfg.CacheTTL)),
		envloader.WithLoadTimeout(seconds(tenantsCfg.LoadTimeout)),
	)

	registry := connection.NewRegistry(
		&connection.GormDialer{Log: log},
		tenantConfigFunc(store, loader),
		connection.WithRegistryLogger(log),
		connection.WithDialTimeout(seconds(tenantsCfg.DialTimeout)),
		connection.WithIdleTimeout(seconds(tenantsCfg.IdleTimeout)),
		connection.WithMaxPerTenant(tenantsCfg.MaxPerTenant),
	)

	pipeline := middleware.NewPipeline(store, loader,
		middleware.WithPipelineLogger(log),
		middleware.WithSkipPrefixes(tenantsCfg.SkipPrefixes...),
		middleware.WithAPIPrefixes(tenantsCfg.APIPrefixes...),
		middleware.WithDevFallback(tenantsCfg.FallbackDomain, appCfg.IsDev()),
		middleware.WithConnectionRegistry(registry),
	)

	return &Application{
		mappingStore:   store,
		envLoader:      loader,
		registry:       registry,
		staticRegistry: static.NewRegistry(staticDescriptors(tenantsCfg.Static)),
		pipeline:       pipeline,
		log:            log,
		schedule:       cron.New(),
		sweepEvery:     seconds(tenantsCfg.SweepInterval),
	}
}

// tenantConfigFunc resolves a tenant id to its loaded payload: mapping
// lookup for the config reference, then env loader.
func tenantConfigFunc(store *mapping.Store, loader *envloader.Loader) connection.ConfigFunc {
	return func(ctx context.Context, tenantID string) (*envloader.EnvConfig, error) {
		m, ok := store.LookupID(tenantID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", envloader.ErrConfigMissing, tenantID)
		}
		return loader.Load(ctx, m.ConfigRef)
	}
}

func staticDescriptors(cfgs []config.StaticTenant) []static.Descriptor {
	descriptors := make([]static.Descriptor, 0, len(cfgs))
	for _, c := range cfgs {
		descriptors = append(descriptors, static.Descriptor{
			ID:        c.ID,
			Subdomain: c.Subdomain,
			Domain:    c.Domain,
			Status:    static.Status(c.Status),
		})
	}
	return descriptors
}

// Start loads the mapping document, begins following it for edits, and
// schedules maintenance: the idle connection sweep and a periodic stats
// line for operators.
func (a *Application) Start() error {
	if err := a.mappingStore.Load(); err != nil {
		return err
	}
	if err := a.mappingStore.StartWatch(); err != nil {
		return err
	}

	sweep := a.sweepEvery
	if sweep <= 0 {
		sweep = time.Minute
	}
	_, err := a.schedule.AddFunc(fmt.Sprintf("@every %s", sweep), func() {
		if evicted := a.registry.Sweep(); evicted > 0 {
			a.log.Info("runtime: idle connections evicted", zap.Int("count", evicted))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule connection sweep: %w", err)
	}

	_, err = a.schedule.AddFunc("@every 5m", func() {
		stats := a.registry.GetStats()
		a.log.Info("runtime: tenant stats",
			zap.Int("activeConnections", stats.ActiveCount),
			zap.Int("cachedConfigs", a.envLoader.Stats().Size),
			zap.Int("mappings", a.mappingStore.Len()))
	})
	if err != nil {
		return fmt.Errorf("schedule stats report: %w", err)
	}

	a.schedule.Start()
	a.log.Info("runtime: started")
	return nil
}

// Stop halts maintenance, stops following the mapping source and closes
// every tenant connection.
func (a *Application) Stop() {
	ctx := a.schedule.Stop()
	<-ctx.Done()
	a.mappingStore.StopWatch()
	a.registry.Shutdown()
	a.log.Info("runtime: stopped")
}

// SetEngine stores the HTTP router in use.
func (a *Application) SetEngine(engine http.Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engine = engine
}

// GetEngine returns the HTTP router in use.
func (a *Application) GetEngine() http.Handler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine
}

// MappingStore returns the tenant mapping store.
func (a *Application) MappingStore() *mapping.Store {
	return a.mappingStore
}

// EnvLoader returns the tenant configuration loader.
func (a *Application) EnvLoader() *envloader.Loader {
	return a.envLoader
}

// Connections returns the connection registry.
func (a *Application) Connections() *connection.Registry {
	return a.registry
}

// StaticRegistry returns the edge descriptor registry.
func (a *Application) StaticRegistry() *static.Registry {
	return a.staticRegistry
}

// Pipeline returns the request middleware pipeline.
func (a *Application) Pipeline() *middleware.Pipeline {
	return a.pipeline
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
