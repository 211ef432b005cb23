package connection

import (
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

// Handle is a pooled tenant connection. Handles are owned by the Registry;
// callers borrow via Registry.Get and must Release when done. The borrow
// count keeps the idle sweeper from tearing down a connection in use.
type Handle struct {
	TenantID  string
	DB        *gorm.DB
	CreatedAt time.Time

	lastUsed atomic.Int64 // unix nanos
	refCount atomic.Int32
}

func newHandle(tenantID string, db *gorm.DB) *Handle {
	h := &Handle{
		TenantID:  tenantID,
		DB:        db,
		CreatedAt: time.Now(),
	}
	h.touch()
	return h
}

// Release returns a borrowed handle to the registry. The release moment
// starts the idle clock.
func (h *Handle) Release() {
	h.touch()
	h.refCount.Add(-1)
}

// LastUsedAt reports when the handle was last borrowed or released.
func (h *Handle) LastUsedAt() time.Time {
	return time.Unix(0, h.lastUsed.Load())
}

// RefCount reports the current number of borrowers.
func (h *Handle) RefCount() int {
	return int(h.refCount.Load())
}

func (h *Handle) touch() {
	h.lastUsed.Store(time.Now().UnixNano())
}

func (h *Handle) close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
