// Package testutil provides mock implementations and helpers for testing the
// upload pipeline without a real object store.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/assetforge/upload/internal/planner"
	"github.com/assetforge/upload/uptypes"
)

// MockService is a mock implementation of the upload service contract using
// function fields for easy customization in tests. Unset fields fall back to a
// benign in-memory happy path.
type MockService struct {
	InitializeUploadFunc func(ctx context.Context, req *uptypes.InitializeRequest) (*uptypes.InitializeResult, error)
	UploadPartFunc       func(ctx context.Context, url string, body io.Reader, size int64) (string, error)
	CompleteUploadFunc   func(ctx context.Context, req *uptypes.CompleteRequest) (*uptypes.CompleteResult, error)

	mu         sync.Mutex
	initCalls  []*uptypes.InitializeRequest
	partCalls  []PartCall
	completes  []*uptypes.CompleteRequest
	uploadSeq  int
	sessionSeq int
}

// PartCall records one UploadPart invocation.
type PartCall struct {
	URL  string
	Size int64
	Body []byte
}

// InitializeUpload implements the service contract. The default plan assigns
// urls of the form "mock://file/<relativeKey>/part/<n>".
func (m *MockService) InitializeUpload(
	ctx context.Context,
	req *uptypes.InitializeRequest,
) (*uptypes.InitializeResult, error) {
	m.mu.Lock()
	m.initCalls = append(m.initCalls, req)
	m.sessionSeq++
	seq := m.sessionSeq
	m.mu.Unlock()

	if m.InitializeUploadFunc != nil {
		return m.InitializeUploadFunc(ctx, req)
	}

	result := &uptypes.InitializeResult{
		UploadID: fmt.Sprintf("session-%d", seq),
	}
	for _, f := range req.Files {
		m.mu.Lock()
		m.uploadSeq++
		uploadID := fmt.Sprintf("upload-%d", m.uploadSeq)
		m.mu.Unlock()

		plan := uptypes.FilePlan{
			RelativeKey: f.RelativeKey,
			NumParts:    planner.Count(f.Size, req.PartSize),
			UploadID:    uploadID,
		}
		for part := 1; part <= plan.NumParts; part++ {
			plan.PartURLs = append(plan.PartURLs, uptypes.PartURL{
				PartNumber: part,
				URL:        fmt.Sprintf("mock://file/%s/part/%d", f.RelativeKey, part),
			})
		}
		result.Files = append(result.Files, plan)
	}
	return result, nil
}

// UploadPart implements the service contract. The default reads the body fully
// and returns a deterministic ETag derived from the URL.
func (m *MockService) UploadPart(ctx context.Context, url string, body io.Reader, size int64) (string, error) {
	if m.UploadPartFunc != nil {
		return m.UploadPartFunc(ctx, url, body, size)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.partCalls = append(m.partCalls, PartCall{URL: url, Size: size, Body: data})
	m.mu.Unlock()
	return "etag-" + url, nil
}

// CompleteUpload implements the service contract. The default echoes one
// completed object per file.
func (m *MockService) CompleteUpload(
	ctx context.Context,
	req *uptypes.CompleteRequest,
) (*uptypes.CompleteResult, error) {
	m.mu.Lock()
	m.completes = append(m.completes, req)
	m.mu.Unlock()

	if m.CompleteUploadFunc != nil {
		return m.CompleteUploadFunc(ctx, req)
	}

	result := &uptypes.CompleteResult{}
	for _, f := range req.Files {
		result.Objects = append(result.Objects, uptypes.CompletedObject{
			Key:  f.RelativeKey,
			ETag: "etag-" + f.RelativeKey,
		})
	}
	return result, nil
}

// InitializeCalls returns the recorded initialization requests.
func (m *MockService) InitializeCalls() []*uptypes.InitializeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*uptypes.InitializeRequest(nil), m.initCalls...)
}

// PartCalls returns the recorded default-path part uploads.
func (m *MockService) PartCalls() []PartCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PartCall(nil), m.partCalls...)
}

// CompleteCalls returns the recorded completion requests.
func (m *MockService) CompleteCalls() []*uptypes.CompleteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*uptypes.CompleteRequest(nil), m.completes...)
}

// ByteHandle is an in-memory FileHandle over a byte slice.
type ByteHandle struct {
	Data []byte
}

// NewByteHandle creates a handle over size bytes of repeating test content.
func NewByteHandle(size int) *ByteHandle {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return &ByteHandle{Data: data}
}

// OpenRange implements uptypes.FileHandle.
func (h *ByteHandle) OpenRange(_ context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || offset+length > int64(len(h.Data)) {
		return nil, fmt.Errorf("range [%d, %d) outside %d bytes", offset, offset+length, len(h.Data))
	}
	return io.NopCloser(bytes.NewReader(h.Data[offset : offset+length])), nil
}

// GatedHandle is a ByteHandle with an AccessChecker capability controlled by
// test flags.
type GatedHandle struct {
	ByteHandle
	Readable  bool
	Regrant   bool
	Requested bool
}

// CanRead implements uptypes.AccessChecker.
func (h *GatedHandle) CanRead() bool { return h.Readable }

// RequestAccess implements uptypes.AccessChecker.
func (h *GatedHandle) RequestAccess() bool {
	h.Requested = true
	if h.Regrant {
		h.Readable = true
	}
	return h.Regrant
}

// RecordingObserver records every callback it receives. Callbacks are
// serialized by the state tracker, so no locking is needed when the pipeline
// drives it; tests reading after the pipeline settles see a consistent view.
type RecordingObserver struct {
	mu        sync.Mutex
	Progress  []ProgressEvent
	Completes []CompleteEvent
	Errors    []ErrorEvent
}

// ProgressEvent is one OnProgress invocation.
type ProgressEvent struct {
	Index  int
	Loaded int64
	Total  int64
}

// CompleteEvent is one OnFileComplete invocation.
type CompleteEvent struct {
	Index  int
	Result uptypes.FileResult
}

// ErrorEvent is one OnFileError invocation.
type ErrorEvent struct {
	Index int
	Err   error
}

// OnProgress implements uptypes.Observer.
func (r *RecordingObserver) OnProgress(index int, loaded, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress = append(r.Progress, ProgressEvent{Index: index, Loaded: loaded, Total: total})
}

// OnFileComplete implements uptypes.Observer.
func (r *RecordingObserver) OnFileComplete(index int, result uptypes.FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Completes = append(r.Completes, CompleteEvent{Index: index, Result: result})
}

// OnFileError implements uptypes.Observer.
func (r *RecordingObserver) OnFileError(index int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, ErrorEvent{Index: index, Err: err})
}

// ErrorsFor returns the errors recorded for a file index.
func (r *RecordingObserver) ErrorsFor(index int) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, e := range r.Errors {
		if e.Index == index {
			errs = append(errs, e.Err)
		}
	}
	return errs
}

// NewFileItem builds a queued FileItem backed by an in-memory handle.
func NewFileItem(index int, relPath string, size int) *uptypes.FileItem {
	return &uptypes.FileItem{
		Index:        index,
		Name:         relPath,
		RelativePath: relPath,
		Size:         int64(size),
		Status:       uptypes.StatusQueued,
		Total:        int64(size),
		Handle:       NewByteHandle(size),
	}
}
