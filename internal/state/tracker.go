// Package state implements the per-file upload state machine.
//
// A Tracker owns the lifecycle of every file in a session
// (Queued -> In Progress -> Completed | Failed), accumulates part completion
// tokens, and derives progress. Files are mutated only here, in response to
// scheduler events; the tracker lock serializes observer callbacks so loaded
// byte counts are monotonically non-decreasing.
package state

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/uptypes"
)

// TransitionHook is invoked after every status transition, with the tracker
// lock held. The hook must not call back into the tracker.
type TransitionHook func(file *uptypes.FileItem)

// Tracker tracks the lifecycle of a session's files.
type Tracker struct {
	mu       sync.Mutex
	byIndex  map[int]*uptypes.FileItem
	numParts map[int]int
	tokens   map[int]map[int]string // fileIndex -> partNumber -> eTag

	obs    uptypes.Observer
	hook   TransitionHook
	logger *slog.Logger
}

// New creates a tracker over the session's file list. The tracker mutates the
// items in place; callers keep the session as the single source of truth.
func New(files []*uptypes.FileItem, obs uptypes.Observer) *Tracker {
	if obs == nil {
		obs = uptypes.NopObserver{}
	}
	t := &Tracker{
		byIndex:  make(map[int]*uptypes.FileItem, len(files)),
		numParts: make(map[int]int),
		tokens:   make(map[int]map[int]string),
		obs:      obs,
	}
	for _, f := range files {
		t.byIndex[f.Index] = f
	}
	return t
}

// WithTransitionHook sets the hook fired after every status transition.
func (t *Tracker) WithTransitionHook(hook TransitionHook) *Tracker {
	t.hook = hook
	return t
}

// WithLogger sets the logger used for transition debug logging.
func (t *Tracker) WithLogger(logger *slog.Logger) *Tracker {
	t.logger = logger
	return t
}

// SetPlan records the number of planned parts for a file. Completion requires
// the token set to cover 1..numParts with no gaps.
func (t *Tracker) SetPlan(index, numParts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.numParts[index] = numParts
}

// PartStarted marks the beginning of a part transfer for a file. The first
// report drives the Queued -> In Progress transition and stamps StartedAt.
func (t *Tracker) PartStarted(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.byIndex[index]
	if !ok || f.Status == uptypes.StatusCompleted || f.Status == uptypes.StatusFailed {
		return
	}
	t.startLocked(f)
}

// PartUploaded records a successful part transfer: the completion token is
// accumulated, progress is reported, and the file transitions to Completed
// once its token set covers every planned part and all bytes have landed.
//
// Tokens arriving for a Failed file are dropped: the file must restart from
// part 1 on the next retry cycle, so stale tokens are worthless.
func (t *Tracker) PartUploaded(index, partNumber int, eTag string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.byIndex[index]
	if !ok || f.Status == uptypes.StatusCompleted {
		return
	}
	if f.Status == uptypes.StatusFailed {
		if t.logger != nil {
			t.logger.Debug("discarding part token for failed file",
				"index", index, "partNumber", partNumber)
		}
		return
	}

	t.startLocked(f)

	if t.tokens[index] == nil {
		t.tokens[index] = make(map[int]string)
	}
	t.tokens[index][partNumber] = eTag

	f.Loaded += size
	if f.Loaded > f.Total {
		f.Loaded = f.Total
	}
	t.obs.OnProgress(index, f.Loaded, f.Total)

	if t.completeLocked(f) {
		t.obs.OnFileComplete(index, uptypes.FileResult{
			Index:       index,
			RelativeKey: f.RelativePath,
			Size:        f.Size,
			Parts:       t.tokensLocked(index),
		})
	}
}

// PartFailed transitions a file to Failed. Sibling files are unaffected and
// the scheduler stops dispatching further parts for this file via Halted.
func (t *Tracker) PartFailed(index, partNumber int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.byIndex[index]
	if !ok || f.Status == uptypes.StatusCompleted || f.Status == uptypes.StatusFailed {
		return
	}

	f.Status = uptypes.StatusFailed
	if t.logger != nil {
		t.logger.Warn("part transfer failed",
			"index", index, "partNumber", partNumber, "path", f.RelativePath, "error", err)
	}
	if t.hook != nil {
		t.hook(f)
	}
	t.obs.OnFileError(index, uperrors.NewError("uploadPart", err).WithPath(f.RelativePath))
}

// Fail transitions a file to Failed for reasons outside part transfers, such
// as a denied access reacquisition at resume time.
func (t *Tracker) Fail(index int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.byIndex[index]
	if !ok || f.Status == uptypes.StatusCompleted {
		return
	}
	already := f.Status == uptypes.StatusFailed
	f.Status = uptypes.StatusFailed
	if !already && t.hook != nil {
		t.hook(f)
	}
	t.obs.OnFileError(index, err)
}

// Halted reports whether the scheduler should stop dispatching parts for a
// file. Completed files are never re-enqueued; failed files stop immediately.
func (t *Tracker) Halted(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.byIndex[index]
	if !ok {
		return true
	}
	return f.Status == uptypes.StatusCompleted || f.Status == uptypes.StatusFailed
}

// Tokens returns the file's accumulated tokens sorted by part number.
func (t *Tracker) Tokens(index int) []uptypes.PartToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokensLocked(index)
}

// startLocked drives Queued -> In Progress and stamps StartedAt once.
func (t *Tracker) startLocked(f *uptypes.FileItem) {
	if f.Status != uptypes.StatusQueued {
		return
	}
	f.Status = uptypes.StatusInProgress
	if f.StartedAt.IsZero() {
		f.StartedAt = time.Now().UTC()
	}
	if t.logger != nil {
		t.logger.Debug("file upload started", "index", f.Index, "path", f.RelativePath)
	}
	if t.hook != nil {
		t.hook(f)
	}
}

// completeLocked transitions the file to Completed when its token set covers
// 1..numParts contiguously and every byte has landed. Progress is forced to
// 100 by pinning Loaded to Total.
func (t *Tracker) completeLocked(f *uptypes.FileItem) bool {
	n, planned := t.numParts[f.Index]
	if !planned {
		return false
	}
	toks := t.tokens[f.Index]
	if len(toks) != n {
		return false
	}
	for p := 1; p <= n; p++ {
		if _, ok := toks[p]; !ok {
			return false
		}
	}
	if f.Loaded != f.Total {
		return false
	}

	f.Status = uptypes.StatusCompleted
	f.Loaded = f.Total
	f.Parts = t.tokensLocked(f.Index)
	if t.logger != nil {
		t.logger.Debug("file upload completed", "index", f.Index, "path", f.RelativePath)
	}
	if t.hook != nil {
		t.hook(f)
	}
	return true
}

func (t *Tracker) tokensLocked(index int) []uptypes.PartToken {
	toks := t.tokens[index]
	if len(toks) == 0 {
		return nil
	}
	parts := make([]uptypes.PartToken, 0, len(toks))
	for p, tag := range toks {
		parts = append(parts, uptypes.PartToken{PartNumber: p, ETag: tag})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts
}
