package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/internal/scheduler"
	"github.com/assetforge/upload/persist"
	"github.com/assetforge/upload/uptypes"
)

// DefaultPartSize is the fixed part size used when none is configured. It must
// stay consistent for a given transport target: the remote session derives its
// part counts from the same value.
const DefaultPartSize = 16 * 1024 * 1024

// MaxConcurrentUploads is the default global cap on in-flight part transfers.
const MaxConcurrentUploads = scheduler.DefaultMaxInFlight

// Service is the transport contract the core drives. Implementations talk to
// the session-issuing service and the object store; the core never does.
type Service interface {
	// InitializeUpload opens an upload session for a set of files, returning
	// per-file part counts and per-part upload URLs.
	InitializeUpload(ctx context.Context, req *uptypes.InitializeRequest) (*uptypes.InitializeResult, error)

	// UploadPart transfers one part's bytes to its upload URL and returns the
	// opaque completion token.
	UploadPart(ctx context.Context, url string, body io.Reader, size int64) (eTag string, err error)

	// CompleteUpload finalizes the session from the collected tokens.
	CompleteUpload(ctx context.Context, req *uptypes.CompleteRequest) (*uptypes.CompleteResult, error)
}

// Client orchestrates upload sessions: initialization, part scheduling, state
// tracking, persistence, completion, and resume. A Client is safe for
// concurrent use across distinct sessions; a single session must be driven by
// one goroutine at a time.
type Client struct {
	svc         Service
	store       persist.Store
	obs         uptypes.Observer
	logger      *slog.Logger
	partSize    int64
	concurrency int
}

// New creates a Client over the given transport.
func New(svc Service, opts ...Option) (*Client, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: nil service", uperrors.ErrInvalidInput)
	}

	c := &Client{
		svc:         svc,
		store:       persist.NewMemory(),
		obs:         uptypes.NopObserver{},
		partSize:    DefaultPartSize,
		concurrency: MaxConcurrentUploads,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewSession builds a session over an enumerated file list. File indexes are
// reassigned to their list positions; statuses reset to Queued.
func NewSession(assetID, databaseID, keyPrefix string, files []*uptypes.FileItem) *uptypes.Session {
	for i, f := range files {
		f.Index = i
		f.Status = uptypes.StatusQueued
		f.Loaded = 0
		f.Total = f.Size
	}
	return &uptypes.Session{
		AssetID:    assetID,
		DatabaseID: databaseID,
		KeyPrefix:  keyPrefix,
		Files:      files,
	}
}

// saveRecord persists the session snapshot. Persistence failures are logged
// and do not interrupt the transfer: losing a snapshot only costs resume
// granularity, never correctness.
func (c *Client) saveRecord(ctx context.Context, session *uptypes.Session) {
	if err := c.store.Set(ctx, session.AssetID, session.Record()); err != nil {
		if c.logger != nil {
			c.logger.Warn("failed to persist session record",
				"assetId", session.AssetID, "error", err)
		}
	}
}
