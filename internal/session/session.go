// Package session drives the remote session protocol: initialization before
// any part transfer, and completion once every file's token set is full.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/internal/planner"
	"github.com/assetforge/upload/uptypes"
)

// API is the slice of the transport contract the session protocol needs.
type API interface {
	InitializeUpload(ctx context.Context, req *uptypes.InitializeRequest) (*uptypes.InitializeResult, error)
	CompleteUpload(ctx context.Context, req *uptypes.CompleteRequest) (*uptypes.CompleteResult, error)
}

// Initializer opens an upload session for the files that still need transfer.
type Initializer struct {
	api    API
	logger *slog.Logger
}

// NewInitializer creates an initializer over the given transport.
func NewInitializer(api API) *Initializer {
	return &Initializer{api: api}
}

// WithLogger sets the logger for initialization logging.
func (i *Initializer) WithLogger(logger *slog.Logger) *Initializer {
	i.logger = logger
	return i
}

// Initialize asks the remote service to open a session for the given files and
// stamps the session's upload ID. Plans are ephemeral: upload URLs expire, so
// every cycle gets a fresh initialization covering only non-completed files.
//
// The remote per-file part counts are validated against the local plan derived
// from the same part size; a mismatch would silently strand parts, so it is
// rejected up front. Failure is fatal to starting the cycle: the error is
// surfaced and no state is committed.
func (i *Initializer) Initialize(
	ctx context.Context,
	session *uptypes.Session,
	files []*uptypes.FileItem,
	partSize int64,
) (map[int]uptypes.FilePlan, error) {
	req := &uptypes.InitializeRequest{
		AssetID:    session.AssetID,
		DatabaseID: session.DatabaseID,
		KeyPrefix:  session.KeyPrefix,
		PartSize:   partSize,
	}
	for _, f := range files {
		req.Files = append(req.Files, uptypes.InitializeFile{
			RelativeKey: f.RelativePath,
			Size:        f.Size,
			ContentType: f.ContentType,
		})
	}

	result, err := i.api.InitializeUpload(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", uperrors.ErrInitialization, err)
	}
	if result.UploadID == "" {
		return nil, fmt.Errorf("%w: empty upload ID", uperrors.ErrInitialization)
	}
	if len(result.Files) != len(files) {
		return nil, fmt.Errorf("%w: requested %d files, plan covers %d",
			uperrors.ErrPlanMismatch, len(files), len(result.Files))
	}

	plans := make(map[int]uptypes.FilePlan, len(files))
	for pos, f := range files {
		plan := result.Files[pos]
		want := planner.Count(f.Size, partSize)
		if plan.NumParts != want {
			return nil, fmt.Errorf("%w: file %q has %d remote parts, planned %d",
				uperrors.ErrPlanMismatch, f.RelativePath, plan.NumParts, want)
		}
		if len(plan.PartURLs) != plan.NumParts {
			return nil, fmt.Errorf("%w: file %q has %d part URLs for %d parts",
				uperrors.ErrPlanMismatch, f.RelativePath, len(plan.PartURLs), plan.NumParts)
		}
		plans[f.Index] = plan
	}

	session.UploadID = result.UploadID
	if i.logger != nil {
		i.logger.Debug("upload session initialized",
			"assetId", session.AssetID, "uploadId", result.UploadID, "files", len(files))
	}
	return plans, nil
}

// Completer finalizes a session once the state machine reports every file
// Completed.
type Completer struct {
	api    API
	logger *slog.Logger
}

// NewCompleter creates a completer over the given transport.
func NewCompleter(api API) *Completer {
	return &Completer{api: api}
}

// WithLogger sets the logger for completion logging.
func (c *Completer) WithLogger(logger *slog.Logger) *Completer {
	c.logger = logger
	return c
}

// Complete submits the collected per-part tokens to finalize the session.
// Invoking it with unfinished files is a caller error; the caller gates on the
// state machine. Parts are submitted sorted by part number per file, since the
// remote service validates contiguous numbering. Once completion has been
// submitted, re-invocation is a benign no-op guarded by the session's local
// CompletionSubmitted flag.
func (c *Completer) Complete(
	ctx context.Context,
	session *uptypes.Session,
) (*uptypes.CompleteResult, error) {
	if session.CompletionSubmitted {
		if c.logger != nil {
			c.logger.Debug("completion already submitted", "assetId", session.AssetID)
		}
		return nil, nil
	}
	if session.UploadID == "" {
		return nil, uperrors.ErrNoUploadID
	}
	if !session.Complete() {
		return nil, fmt.Errorf("%w: completion requires every file completed",
			uperrors.ErrSessionIncomplete)
	}

	req := &uptypes.CompleteRequest{
		UploadID:  session.UploadID,
		KeyPrefix: session.KeyPrefix,
	}
	for _, f := range session.Files {
		if f.UploadID == "" || len(f.Parts) == 0 {
			return nil, fmt.Errorf("%w: file %q completed without finalization data",
				uperrors.ErrCompletion, f.RelativePath)
		}
		parts := append([]uptypes.PartToken(nil), f.Parts...)
		sort.Slice(parts, func(a, b int) bool { return parts[a].PartNumber < parts[b].PartNumber })
		req.Files = append(req.Files, uptypes.CompleteFile{
			RelativeKey: f.RelativePath,
			UploadID:    f.UploadID,
			Parts:       parts,
		})
	}

	result, err := c.api.CompleteUpload(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", uperrors.ErrCompletion, err)
	}

	session.CompletionSubmitted = true
	if c.logger != nil {
		c.logger.Debug("upload session completed",
			"assetId", session.AssetID, "uploadId", session.UploadID, "files", len(req.Files))
	}
	return result, nil
}
