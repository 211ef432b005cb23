package connection

// Package connection creates, pools and evicts per-tenant backing-store
// connections.
//
// Guarantees:
//   - One live handle per tenant id; concurrent first requests coalesce
//     into a single dial
//   - A failed dial leaves no registry entry, so the next request retries
//     cleanly
//   - The idle sweeper never evicts a handle with active borrowers, and a
//     just-released handle survives until the idle timeout elapses again

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quillcms/tenantcore/sdk/pkg/tenant/envloader"
)

var (
	// ErrConnection reports a backing-store dial failure. Retryable on a
	// subsequent request.
	ErrConnection = errors.New("tenant connection failed")
	// ErrTenantBusy reports the per-tenant concurrent borrow bound was hit.
	ErrTenantBusy = errors.New("tenant connection limit reached")
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultIdleTimeout  = 10 * time.Minute
	defaultMaxPerTenant = 50
)

// ConfigFunc supplies a tenant's loaded payload. The runtime wires it to
// the mapping store and env loader.
type ConfigFunc func(ctx context.Context, tenantID string) (*envloader.EnvConfig, error)

// Registry owns all live tenant connection handles. Construct one per
// process (or per test) and share it; there is deliberately no package
// singleton.
type Registry struct {
	dialer       Dialer
	configFn     ConfigFunc
	log          *zap.Logger
	dialTimeout  time.Duration
	idleTimeout  time.Duration
	maxPerTenant int

	sf      singleflight.Group
	mu      sync.Mutex
	handles map[string]*Handle

	active prometheus.Gauge

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDialTimeout bounds one connection dial.
func WithDialTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.dialTimeout = d
		}
	}
}

// WithIdleTimeout sets how long an unborrowed handle survives.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithMaxPerTenant bounds concurrent borrows of one tenant's handle.
func WithMaxPerTenant(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxPerTenant = n
		}
	}
}

// WithRegistryLogger overrides the default nop logger.
func WithRegistryLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = log
	}
}

// WithRegistryRegisterer registers the active-handle gauge with a
// prometheus registry.
func WithRegistryRegisterer(reg prometheus.Registerer) RegistryOption {
	return func(r *Registry) {
		reg.MustRegister(r.active)
	}
}

// NewRegistry creates a connection registry.
func NewRegistry(dialer Dialer, configFn ConfigFunc, opts ...RegistryOption) *Registry {
	r := &Registry{
		dialer:       dialer,
		configFn:     configFn,
		log:          zap.NewNop(),
		dialTimeout:  defaultDialTimeout,
		idleTimeout:  defaultIdleTimeout,
		maxPerTenant: defaultMaxPerTenant,
		handles:      make(map[string]*Handle),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenant_connections_active",
			Help: "Live tenant connection handles.",
		}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get borrows the tenant's connection handle, dialing it on first use.
// Callers must Release the handle when the request finishes.
func (r *Registry) Get(ctx context.Context, tenantID string) (*Handle, error) {
	for {
		h, err := r.borrow(tenantID)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}

		_, err, _ = r.sf.Do(tenantID, func() (interface{}, error) {
			// A waiter queued behind the winning dial reuses its handle.
			if r.lookup(tenantID) != nil {
				return nil, nil
			}
			_, err := r.dial(ctx, tenantID)
			return nil, err
		})
		if err != nil {
			return nil, err
		}
		// The sweeper may have evicted the fresh handle before we could
		// borrow it; loop to borrow or redial.
	}
}

func (r *Registry) lookup(tenantID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[tenantID]
}

// dial creates and registers a handle. On failure nothing is registered,
// keeping the entry unpoisoned for the next attempt. The dial runs on a
// context detached from the triggering caller so one cancelled request
// cannot fail every coalesced waiter; the dial timeout is the only bound.
func (r *Registry) dial(ctx context.Context, tenantID string) (*Handle, error) {
	dialCtx, cancel := context.WithTimeout(context.Background(), r.dialTimeout)
	defer cancel()

	cfg, err := r.configFn(dialCtx, tenantID)
	if err != nil {
		return nil, err
	}

	db, err := r.dialer.Dial(dialCtx, cfg)
	if err != nil {
		r.log.Error("tenant connection: dial failed",
			zap.String("tenantID", tenantID), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, tenantID, err)
	}

	h := newHandle(tenantID, db)
	r.mu.Lock()
	r.handles[tenantID] = h
	r.active.Set(float64(len(r.handles)))
	r.mu.Unlock()

	r.log.Info("tenant connection: created", zap.String("tenantID", tenantID))
	return h, nil
}

// borrow increments the refcount while holding the registry lock. The
// sweeper scans under the same lock, so a handle can never be observed as
// idle mid-borrow and closed out from under its caller. Returns nil when
// no handle is registered for the tenant.
func (r *Registry) borrow(tenantID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.handles[tenantID]
	if h == nil {
		return nil, nil
	}
	if int(h.refCount.Add(1)) > r.maxPerTenant {
		h.refCount.Add(-1)
		return nil, fmt.Errorf("%w: %s", ErrTenantBusy, h.TenantID)
	}
	h.touch()
	return h, nil
}

// Remove tears down one tenant's handle immediately, e.g. on tenant
// deletion. Active borrowers keep using the closed handle at their own
// risk; new Gets dial fresh.
func (r *Registry) Remove(tenantID string) {
	r.mu.Lock()
	h := r.handles[tenantID]
	delete(r.handles, tenantID)
	r.active.Set(float64(len(r.handles)))
	r.mu.Unlock()

	if h != nil {
		if err := h.close(); err != nil {
			r.log.Warn("tenant connection: close failed",
				zap.String("tenantID", tenantID), zap.Error(err))
		}
		r.log.Info("tenant connection: removed", zap.String("tenantID", tenantID))
	}
}

// StartSweeper runs the idle eviction loop until StopSweeper.
func (r *Registry) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	r.sweepStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.sweepStop:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// StopSweeper stops the eviction loop.
func (r *Registry) StopSweeper() {
	r.sweepOnce.Do(func() {
		if r.sweepStop != nil {
			close(r.sweepStop)
		}
	})
}

// Sweep evicts handles idle beyond the timeout. Borrowed handles are never
// evicted; the release timestamp gives just-returned handles a full idle
// window before they qualify again.
func (r *Registry) Sweep() int {
	cutoff := time.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	var evict []*Handle
	for id, h := range r.handles {
		if h.RefCount() > 0 {
			continue
		}
		if h.LastUsedAt().After(cutoff) {
			continue
		}
		delete(r.handles, id)
		evict = append(evict, h)
	}
	r.active.Set(float64(len(r.handles)))
	r.mu.Unlock()

	for _, h := range evict {
		if err := h.close(); err != nil {
			r.log.Warn("tenant connection: close failed",
				zap.String("tenantID", h.TenantID), zap.Error(err))
		}
		r.log.Info("tenant connection: evicted idle",
			zap.String("tenantID", h.TenantID),
			zap.Time("lastUsed", h.LastUsedAt()))
	}
	return len(evict)
}

// Shutdown closes every handle. Call on process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.active.Set(0)
	r.mu.Unlock()

	for id, h := range handles {
		if err := h.close(); err != nil {
			r.log.Warn("tenant connection: close failed",
				zap.String("tenantID", id), zap.Error(err))
		}
	}
	r.log.Info("tenant connection: registry shut down", zap.Int("closed", len(handles)))
}

// TenantStats describes one live handle for the health surface.
type TenantStats struct {
	RefCount   int       `json:"refCount"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// Stats reports the active handle count and a per-tenant breakdown.
type Stats struct {
	ActiveCount int                    `json:"activeCount"`
	PerTenant   map[string]TenantStats `json:"perTenant"`
}

// GetStats snapshots the registry for health checks.
func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		ActiveCount: len(r.handles),
		PerTenant:   make(map[string]TenantStats, len(r.handles)),
	}
	for id, h := range r.handles {
		stats.PerTenant[id] = TenantStats{
			RefCount:   h.RefCount(),
			CreatedAt:  h.CreatedAt,
			LastUsedAt: h.LastUsedAt(),
		}
	}
	return stats
}
