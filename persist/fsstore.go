package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"github.com/assetforge/upload/uptypes"
)

// FS is a filesystem-backed Store writing one JSON record per asset under a
// base directory. It works over the fs abstraction, so an in-memory filesystem
// can stand in during tests.
type FS struct {
	fsys fs.Filesystem
	dir  string
}

// NewFS creates a filesystem store rooted at dir.
func NewFS(fsys fs.Filesystem, dir string) *FS {
	return &FS{
		fsys: fsys,
		dir:  dir,
	}
}

// Get implements Store.
func (s *FS) Get(_ context.Context, assetID string) (*uptypes.SessionRecord, error) {
	p := s.recordPath(assetID)
	exists, err := s.fsys.Exists(p)
	if err != nil {
		return nil, fmt.Errorf("persist: stat record %q: %w", assetID, err)
	}
	if !exists {
		return nil, nil
	}

	data, err := s.fsys.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("persist: read record %q: %w", assetID, err)
	}

	var rec uptypes.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("persist: decode record %q: %w", assetID, err)
	}
	return &rec, nil
}

// Set implements Store.
func (s *FS) Set(_ context.Context, assetID string, record *uptypes.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("persist: encode record %q: %w", assetID, err)
	}

	if err := s.fsys.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("persist: create record dir: %w", err)
	}
	if err := s.fsys.WriteFile(s.recordPath(assetID), data, os.FileMode(0o644)); err != nil {
		return fmt.Errorf("persist: write record %q: %w", assetID, err)
	}
	return nil
}

// recordPath maps an asset ID to its record file, flattening path separators
// so an ID cannot escape the base directory.
func (s *FS) recordPath(assetID string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(assetID)
	return path.Join(s.dir, safe+".json")
}
