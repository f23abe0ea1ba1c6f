// Package enumerate turns a folder or file selection into a flat list of
// transferable file items with relative paths, sizes, and ranged-read handles.
//
// Enumeration assigns the stable 0-based indexes the rest of the pipeline uses
// as correlation keys. It works over the fs abstraction so selections can come
// from the OS filesystem or an in-memory one in tests.
package enumerate

import (
	"context"
	"fmt"
	"io"
	iofs "io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/input-output-hk/catalyst-forge-libs/fs"

	"github.com/assetforge/upload/uptypes"
)

// Enumerator walks a selection root and produces FileItems.
type Enumerator struct {
	fsys        fs.Filesystem
	detectTypes bool
}

// New creates an enumerator over the given filesystem.
func New(fsys fs.Filesystem) *Enumerator {
	return &Enumerator{
		fsys:        fsys,
		detectTypes: true,
	}
}

// WithTypeDetection toggles content-type sniffing during enumeration.
func (e *Enumerator) WithTypeDetection(enabled bool) *Enumerator {
	e.detectTypes = enabled
	return e
}

// Enumerate walks root and returns one Queued FileItem per regular file, in
// walk order, with slash-normalized paths relative to root. Selecting a single
// file yields a one-item list.
func (e *Enumerator) Enumerate(root string) ([]*uptypes.FileItem, error) {
	info, err := e.fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("enumerate: stat %q: %w", root, err)
	}

	if !info.IsDir() {
		item, err := e.fileItem(0, root, path.Base(filepath.ToSlash(root)), info.Size())
		if err != nil {
			return nil, err
		}
		return []*uptypes.FileItem{item}, nil
	}

	var items []*uptypes.FileItem
	err = e.fsys.Walk(root, func(p string, info iofs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relativize %q: %w", p, err)
		}
		item, err := e.fileItem(len(items), p, filepath.ToSlash(rel), info.Size())
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate: walk %q: %w", root, err)
	}
	return items, nil
}

func (e *Enumerator) fileItem(index int, fullPath, relPath string, size int64) (*uptypes.FileItem, error) {
	item := &uptypes.FileItem{
		Index:        index,
		Name:         path.Base(relPath),
		RelativePath: relPath,
		Size:         size,
		Status:       uptypes.StatusQueued,
		Total:        size,
		Handle:       &Handle{fsys: e.fsys, path: fullPath},
	}
	if e.detectTypes && size > 0 {
		item.ContentType = e.detectType(fullPath)
	}
	return item, nil
}

// detectType sniffs the file's MIME type from its leading bytes. Detection
// failures fall back to the generic binary type rather than failing the walk.
func (e *Enumerator) detectType(fullPath string) string {
	f, err := e.fsys.Open(fullPath)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	mime, err := mimetype.DetectReader(f)
	if err != nil {
		return "application/octet-stream"
	}
	return mime.String()
}

// Handle is a filesystem-backed file handle supporting ranged reads and the
// access-reacquisition capability.
type Handle struct {
	fsys fs.Filesystem
	path string
}

// NewHandle creates a handle for the given file path.
func NewHandle(fsys fs.Filesystem, path string) *Handle {
	return &Handle{fsys: fsys, path: path}
}

// Path returns the handle's full path on its filesystem.
func (h *Handle) Path() string {
	return h.path
}

// OpenRange implements uptypes.FileHandle.
func (h *Handle) OpenRange(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	f, err := h.fsys.Open(h.path)
	if err != nil {
		return nil, fmt.Errorf("enumerate: open %q: %w", h.path, err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("enumerate: seek %q to %d: %w", h.path, offset, err)
	}
	return &rangeReader{
		Reader: io.LimitReader(f, length),
		closer: f,
	}, nil
}

// CanRead implements uptypes.AccessChecker by probing the file for
// readability.
func (h *Handle) CanRead() bool {
	f, err := h.fsys.Open(h.path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// RequestAccess implements uptypes.AccessChecker. Plain filesystems have no
// grant flow, so reacquisition is just another readability probe.
func (h *Handle) RequestAccess() bool {
	return h.CanRead()
}

type rangeReader struct {
	io.Reader
	closer io.Closer
}

func (r *rangeReader) Close() error {
	return r.closer.Close()
}

// verify the handle satisfies both contracts
var (
	_ uptypes.FileHandle    = (*Handle)(nil)
	_ uptypes.AccessChecker = (*Handle)(nil)
)

// NormalizeKey joins a key prefix and relative path with forward slashes.
// Transports build destination object keys with it so local records and remote
// keys always agree.
func NormalizeKey(prefix, relPath string) string {
	prefix = strings.Trim(prefix, "/")
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "/")
	if prefix == "" {
		return relPath
	}
	return prefix + "/" + relPath
}
