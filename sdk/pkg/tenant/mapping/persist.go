package mapping

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/quillcms/tenantcore/sdk/pkg/json"
)

// persistSnapshot writes the published table to the snapshot file using a
// temporary file + rename so readers never observe a partial document.
// Persistence is best effort; a failure only costs the startup fallback.
func (s *Store) persistSnapshot(table *tenantTable) {
	if s.snapshotPath == "" {
		return
	}

	doc := Document{Mappings: table.ordered}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.log.Warn("tenant mapping: encode snapshot failed", zap.Error(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		s.log.Warn("tenant mapping: create snapshot dir failed", zap.Error(err))
		return
	}

	tmpPath := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		s.log.Warn("tenant mapping: write snapshot failed", zap.Error(err))
		return
	}

	if err := os.Rename(tmpPath, s.snapshotPath); err != nil {
		os.Remove(tmpPath)
		s.log.Warn("tenant mapping: publish snapshot failed", zap.Error(err))
	}
}
