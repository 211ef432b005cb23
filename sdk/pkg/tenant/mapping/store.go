package mapping

// Package mapping keeps the domain → tenant binding table in memory and
// follows edits to the source document without a process restart.
//
// Reload behavior:
//   - The mapping file is watched with fsnotify; write/create/rename events
//     trigger a debounced reload
//   - A reload that fails to read or parse keeps the last good snapshot
//   - Each good load is persisted to an optional snapshot file used as a
//     startup fallback when the source is unreadable

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/quillcms/tenantcore/sdk/pkg/json"
)

// ErrMappingUnavailable reports that neither the source document nor the
// persisted snapshot could be read.
var ErrMappingUnavailable = errors.New("tenant mapping source unavailable")

// reloadDebounce coalesces the event bursts editors and atomic-rename
// writers produce into a single reload.
const reloadDebounce = 200 * time.Millisecond

type tenantTable struct {
	byDomain map[string]*TenantMapping
	byID     map[string]*TenantMapping
	ordered  []*TenantMapping
}

// Store serves TenantMapping lookups from an immutable in-memory snapshot.
// Snapshots are replaced whole on reload, never mutated in place.
type Store struct {
	sourcePath   string
	snapshotPath string
	log          *zap.Logger

	data atomic.Value // *tenantTable

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	watchDone   chan struct{}
	running     atomic.Bool
	reloadCount atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshotFile enables persisting each good load for startup fallback.
func WithSnapshotFile(path string) Option {
	return func(s *Store) {
		s.snapshotPath = path
	}
}

// WithLogger overrides the default nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// NewStore creates a store reading the mapping document at sourcePath.
// Call Load before serving lookups.
func NewStore(sourcePath string, opts ...Option) *Store {
	s := &Store{
		sourcePath: sourcePath,
		log:        zap.NewNop(),
	}
	s.data.Store(emptyTable())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func emptyTable() *tenantTable {
	return &tenantTable{
		byDomain: make(map[string]*TenantMapping),
		byID:     make(map[string]*TenantMapping),
	}
}

// Load reads the mapping document and publishes a fresh snapshot. When the
// source cannot be read it falls back to the persisted snapshot file; if
// that also fails the previous snapshot stays in place and
// ErrMappingUnavailable is returned.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.sourcePath)
	if err != nil {
		s.log.Warn("tenant mapping: source unreadable, trying snapshot",
			zap.String("path", s.sourcePath), zap.Error(err))
		return s.loadFromSnapshot(err)
	}

	table, err := s.buildTable(raw)
	if err != nil {
		return fmt.Errorf("tenant mapping: parse %s: %w", s.sourcePath, err)
	}

	s.data.Store(table)
	s.reloadCount.Add(1)
	s.log.Info("tenant mapping: loaded",
		zap.String("path", s.sourcePath), zap.Int("mappings", len(table.ordered)))

	s.persistSnapshot(table)
	return nil
}

func (s *Store) loadFromSnapshot(cause error) error {
	if s.snapshotPath == "" {
		return fmt.Errorf("%w: %v", ErrMappingUnavailable, cause)
	}
	raw, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMappingUnavailable, cause)
	}
	table, err := s.buildTable(raw)
	if err != nil {
		return fmt.Errorf("%w: snapshot corrupt: %v", ErrMappingUnavailable, err)
	}
	s.data.Store(table)
	s.log.Warn("tenant mapping: serving from persisted snapshot",
		zap.String("path", s.snapshotPath), zap.Int("mappings", len(table.ordered)))
	return nil
}

// buildTable enforces the one-active-mapping-per-domain invariant: the
// first record for a domain wins, later duplicates are dropped.
func (s *Store) buildTable(raw []byte) (*tenantTable, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	table := emptyTable()
	for _, m := range doc.Mappings {
		if m == nil || m.Domain == "" || m.ConfigRef == "" {
			continue
		}
		domain := normalizeDomain(m.Domain)
		if _, dup := table.byDomain[domain]; dup {
			s.log.Warn("tenant mapping: duplicate domain dropped", zap.String("domain", domain))
			continue
		}
		rec := *m
		rec.Domain = domain
		table.byDomain[domain] = &rec
		table.ordered = append(table.ordered, &rec)
		// The first mapping for an id also wins the id index. Keyed
		// lowercase to match LookupID's probe.
		id := strings.ToLower(rec.TenantID())
		if _, ok := table.byID[id]; !ok {
			table.byID[id] = &rec
		}
	}
	return table, nil
}

// LookupDomain returns the mapping registered for an exact domain.
func (s *Store) LookupDomain(domain string) (*TenantMapping, bool) {
	table := s.data.Load().(*tenantTable)
	m, ok := table.byDomain[normalizeDomain(domain)]
	return m, ok
}

// LookupID returns the mapping whose derived tenant id matches.
func (s *Store) LookupID(id string) (*TenantMapping, bool) {
	table := s.data.Load().(*tenantTable)
	m, ok := table.byID[strings.ToLower(id)]
	return m, ok
}

// Len reports the number of published mappings.
func (s *Store) Len() int {
	table := s.data.Load().(*tenantTable)
	return len(table.ordered)
}

// ReloadCount reports how many successful loads have been published.
func (s *Store) ReloadCount() int64 {
	return s.reloadCount.Load()
}

// StartWatch follows the source document for external edits.
func (s *Store) StartWatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("mapping store already watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tenant mapping: create watcher: %w", err)
	}
	if err := watcher.Add(s.sourcePath); err != nil {
		watcher.Close()
		return fmt.Errorf("tenant mapping: watch %s: %w", s.sourcePath, err)
	}

	s.watcher = watcher
	s.watchDone = make(chan struct{})
	s.running.Store(true)

	s.log.Info("tenant mapping: watching source", zap.String("path", s.sourcePath))

	go s.watchLoop(watcher, s.watchDone)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, done chan struct{}) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-done:
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Atomic-rename writers replace the inode; re-arm the watch so
			// subsequent edits still produce events.
			if ev.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				watcher.Add(s.sourcePath)
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := s.Load(); err != nil {
					s.log.Error("tenant mapping: reload failed, keeping last good snapshot",
						zap.Error(err))
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("tenant mapping: watch error", zap.Error(err))
		}
	}
}

// StopWatch stops following the source document.
func (s *Store) StopWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	close(s.watchDone)
	s.watcher.Close()
	s.watcher = nil
	s.running.Store(false)

	s.log.Info("tenant mapping: watch stopped")
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if idx := strings.IndexByte(domain, ':'); idx != -1 {
		domain = domain[:idx]
	}
	return domain
}
