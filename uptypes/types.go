// Package uptypes provides shared type definitions for the upload module.
package uptypes

import (
	"context"
	"io"
	"time"
)

// FileStatus represents the lifecycle state of a file within a session.
type FileStatus string

// Predefined file statuses.
const (
	// StatusQueued means the file is waiting for its parts to be scheduled.
	StatusQueued FileStatus = "queued"

	// StatusInProgress means at least one part of the file has reported progress.
	StatusInProgress FileStatus = "in_progress"

	// StatusCompleted means every part of the file uploaded and its token set is full.
	// Completed files are immutable for the remainder of the session.
	StatusCompleted FileStatus = "completed"

	// StatusFailed means a part transfer for the file failed. A failed file is
	// requeued only by an explicit retry or by the resume controller.
	StatusFailed FileStatus = "failed"
)

// FileHandle is an opaque reference to file content. The upload pipeline only
// reads through it; ownership stays with whoever enumerated the file.
type FileHandle interface {
	// OpenRange opens a reader over [offset, offset+length) of the file.
	OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error)
}

// AccessChecker is an optional capability of a FileHandle. Handles on platforms
// that gate filesystem reads behind a permission grant implement it; everything
// else is treated as always readable.
type AccessChecker interface {
	// CanRead reports whether the handle's content is currently readable.
	CanRead() bool

	// RequestAccess attempts to reacquire read permission and reports success.
	RequestAccess() bool
}

// FileItem is one file within an upload session.
//
// Index is the stable 0-based ordinal used as the correlation key for all
// progress and completion callbacks. It is never reassigned, even across resume.
type FileItem struct {
	Index        int        `json:"index"`
	Name         string     `json:"name"`
	RelativePath string     `json:"relativePath"`
	Size         int64      `json:"size"`
	ContentType  string     `json:"contentType,omitempty"`
	Status       FileStatus `json:"status"`
	Loaded       int64      `json:"loaded"`
	Total        int64      `json:"total"`
	StartedAt    time.Time  `json:"startedAt,omitzero"`

	// UploadID is the per-file remote multipart upload ID, assigned at
	// initialization and retained so a file completed in an earlier cycle can
	// still be finalized later.
	UploadID string `json:"uploadIdS3,omitempty"`

	// Parts is the file's full completion token set, recorded when the file
	// reaches Completed. Required for finalization; cleared on requeue.
	Parts []PartToken `json:"parts,omitempty"`

	// Handle is not persisted; the resume controller rebinds it from a fresh
	// enumeration.
	Handle FileHandle `json:"-"`
}

// Progress returns the file's transfer progress as a rounded integer 0-100.
// A Completed file always reports 100, a zero-byte file reports 0 until then.
func (f *FileItem) Progress() int {
	if f.Status == StatusCompleted {
		return 100
	}
	if f.Total <= 0 {
		return 0
	}
	return int((f.Loaded*100 + f.Total/2) / f.Total)
}

// Session represents one asset's in-flight transfer: the set of all files
// belonging to one asset upload, sharing one upload ID.
type Session struct {
	AssetID    string `json:"assetId"`
	DatabaseID string `json:"databaseId"`
	KeyPrefix  string `json:"keyPrefix"`

	// UploadID is the opaque session token returned by initialization.
	// It is required before any part upload and is refreshed on every
	// initialization cycle.
	UploadID string `json:"uploadId,omitempty"`

	// Files is the ordered file list, unique by Index. The session owns it;
	// only the resume controller may replace it wholesale.
	Files []*FileItem `json:"files"`

	// CompletionSubmitted guards against duplicate finalization. The remote
	// service is not assumed to be idempotent.
	CompletionSubmitted bool `json:"completionSubmitted"`
}

// Complete reports whether every file in the session has completed.
func (s *Session) Complete() bool {
	for _, f := range s.Files {
		if f.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Failed returns the files currently in the Failed state.
func (s *Session) Failed() []*FileItem {
	var failed []*FileItem
	for _, f := range s.Files {
		if f.Status == StatusFailed {
			failed = append(failed, f)
		}
	}
	return failed
}

// Pending returns the files that still need part transfers this cycle.
func (s *Session) Pending() []*FileItem {
	var pending []*FileItem
	for _, f := range s.Files {
		if f.Status != StatusCompleted {
			pending = append(pending, f)
		}
	}
	return pending
}

// Record returns a persistable snapshot of the session.
func (s *Session) Record() *SessionRecord {
	rec := &SessionRecord{
		AssetID:             s.AssetID,
		DatabaseID:          s.DatabaseID,
		KeyPrefix:           s.KeyPrefix,
		UploadID:            s.UploadID,
		CompletionSubmitted: s.CompletionSubmitted,
		UpdatedAt:           time.Now().UTC(),
	}
	for _, f := range s.Files {
		rec.Files = append(rec.Files, FileRecord{
			Index:        f.Index,
			Name:         f.Name,
			RelativePath: f.RelativePath,
			Size:         f.Size,
			ContentType:  f.ContentType,
			Status:       f.Status,
			Loaded:       f.Loaded,
			StartedAt:    f.StartedAt,
			UploadID:     f.UploadID,
			Parts:        append([]PartToken(nil), f.Parts...),
		})
	}
	return rec
}

// SessionRecord is the durable snapshot of a session, keyed by asset ID in the
// persistence store. Handles and part URLs are deliberately absent: URLs expire
// and handles cannot survive a process restart.
type SessionRecord struct {
	AssetID             string       `json:"assetId"`
	DatabaseID          string       `json:"databaseId"`
	KeyPrefix           string       `json:"keyPrefix"`
	UploadID            string       `json:"uploadId,omitempty"`
	Files               []FileRecord `json:"files"`
	CompletionSubmitted bool         `json:"completionSubmitted"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// FileRecord is the persisted form of a FileItem.
type FileRecord struct {
	Index        int         `json:"index"`
	Name         string      `json:"name"`
	RelativePath string      `json:"relativePath"`
	Size         int64       `json:"size"`
	ContentType  string      `json:"contentType,omitempty"`
	Status       FileStatus  `json:"status"`
	Loaded       int64       `json:"loaded"`
	StartedAt    time.Time   `json:"startedAt,omitzero"`
	UploadID     string      `json:"uploadIdS3,omitempty"`
	Parts        []PartToken `json:"parts,omitempty"`
}

// PartRange is one planned byte range of a file. Start is inclusive, End
// exclusive; PartNumber is 1-based.
type PartRange struct {
	PartNumber int
	Start      int64
	End        int64
}

// Size returns the byte length of the range.
func (p PartRange) Size() int64 {
	return p.End - p.Start
}

// PartToken is the opaque confirmation returned by a successful part transfer.
// A file is eligible for completion only when its token set covers all planned
// parts contiguously from 1..N.
type PartToken struct {
	PartNumber int    `json:"PartNumber"`
	ETag       string `json:"ETag"`
}

// PartURL is a pre-authorized upload location for one part. The URL is opaque
// to the core; transports are free to encode non-HTTP locators in it.
type PartURL struct {
	PartNumber int    `json:"PartNumber"`
	URL        string `json:"UploadUrl"`
}

// FilePlan is the per-file result of session initialization. It is ephemeral:
// regenerated on every initialization because upload URLs expire.
type FilePlan struct {
	RelativeKey string    `json:"relativeKey"`
	NumParts    int       `json:"numParts"`
	UploadID    string    `json:"uploadIdS3"`
	PartURLs    []PartURL `json:"partUploadUrls"`
}

// InitializeFile describes one file in an initialization request.
type InitializeFile struct {
	RelativeKey string `json:"relativeKey"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
}

// InitializeRequest asks the remote service to open an upload session.
// PartSize travels with the request so the remote part counts are derived from
// the same constant the planner uses.
type InitializeRequest struct {
	AssetID    string           `json:"assetId"`
	DatabaseID string           `json:"databaseId"`
	KeyPrefix  string           `json:"keyPrefix"`
	PartSize   int64            `json:"partSize"`
	Files      []InitializeFile `json:"files"`
}

// InitializeResult is the remote service's answer to InitializeRequest.
// Files are ordered to match the request.
type InitializeResult struct {
	UploadID string     `json:"uploadId"`
	Files    []FilePlan `json:"files"`
}

// CompleteFile carries one file's collected tokens into finalization.
type CompleteFile struct {
	RelativeKey string      `json:"relativeKey"`
	UploadID    string      `json:"uploadIdS3"`
	Parts       []PartToken `json:"parts"`
}

// CompleteRequest finalizes a session. Parts must be sorted by part number per
// file; the remote service validates contiguous numbering.
type CompleteRequest struct {
	UploadID  string         `json:"uploadId"`
	KeyPrefix string         `json:"keyPrefix"`
	Files     []CompleteFile `json:"files"`
}

// CompletedObject describes one finalized object.
type CompletedObject struct {
	Key  string `json:"key"`
	ETag string `json:"eTag,omitempty"`
}

// CompleteResult is the remote service's answer to CompleteRequest.
type CompleteResult struct {
	Objects []CompletedObject `json:"objects"`
}

// FileResult is delivered through the completion callback when a file finishes.
type FileResult struct {
	Index       int
	RelativeKey string
	Size        int64
	Parts       []PartToken
}

// Observer receives per-file lifecycle callbacks. Implementations do not need
// to be safe for concurrent use: the state tracker serializes invocations, so
// loaded values observed through OnProgress are monotonically non-decreasing.
type Observer interface {
	// OnProgress is called as bytes land for a file.
	OnProgress(index int, loaded, total int64)

	// OnFileComplete is called exactly once when a file reaches Completed.
	OnFileComplete(index int, result FileResult)

	// OnFileError is called when a file transitions to Failed.
	OnFileError(index int, err error)
}

// NopObserver is an Observer that ignores every callback.
type NopObserver struct{}

// OnProgress implements Observer.
func (NopObserver) OnProgress(int, int64, int64) {}

// OnFileComplete implements Observer.
func (NopObserver) OnFileComplete(int, FileResult) {}

// OnFileError implements Observer.
func (NopObserver) OnFileError(int, error) {}
