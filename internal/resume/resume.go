// Package resume reconciles persisted session state with a fresh enumeration.
//
// After an interruption the persisted record knows what already uploaded, but
// its file handles are gone; the user re-selects the same files and the merge
// rebinds handles without losing completed work. The remote protocol has no
// mid-file resume, so anything not fully completed restarts from part 1.
package resume

import (
	"log/slog"

	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/uptypes"
)

// Merge reconciles a persisted file list with a freshly enumerated one,
// matching by relative path:
//
//   - persisted Completed items are kept unchanged (no re-upload);
//   - persisted Queued/In Progress/Failed items take the fresh handle but are
//     reset to Queued with zero progress;
//   - files present only in the fresh enumeration are appended as new Queued
//     items with never-recycled indexes;
//   - files present only in the record are dropped with a warning.
//
// Indexes from the record are preserved verbatim: they are the correlation
// key for every callback and must never be reassigned.
func Merge(record *uptypes.SessionRecord, fresh []*uptypes.FileItem, logger *slog.Logger) []*uptypes.FileItem {
	freshByPath := make(map[string]*uptypes.FileItem, len(fresh))
	for _, f := range fresh {
		freshByPath[f.RelativePath] = f
	}

	var merged []*uptypes.FileItem
	maxIndex := -1
	claimed := make(map[string]bool, len(record.Files))

	for _, rec := range record.Files {
		if rec.Index > maxIndex {
			maxIndex = rec.Index
		}

		if rec.Status == uptypes.StatusCompleted {
			claimed[rec.RelativePath] = true
			merged = append(merged, completedItem(rec))
			continue
		}

		f, ok := freshByPath[rec.RelativePath]
		if !ok {
			if logger != nil {
				logger.Warn("dropping persisted file missing from re-selection",
					"index", rec.Index, "path", rec.RelativePath)
			}
			continue
		}
		claimed[rec.RelativePath] = true
		merged = append(merged, requeuedItem(rec, f))
	}

	next := maxIndex + 1
	for _, f := range fresh {
		if claimed[f.RelativePath] {
			continue
		}
		item := *f
		item.Index = next
		item.Status = uptypes.StatusQueued
		item.Loaded = 0
		item.Total = f.Size
		next++
		merged = append(merged, &item)
	}

	return merged
}

// completedItem restores a completed file from its record. The handle stays
// nil: completed files are immutable and never read again.
func completedItem(rec uptypes.FileRecord) *uptypes.FileItem {
	return &uptypes.FileItem{
		Index:        rec.Index,
		Name:         rec.Name,
		RelativePath: rec.RelativePath,
		Size:         rec.Size,
		ContentType:  rec.ContentType,
		Status:       uptypes.StatusCompleted,
		Loaded:       rec.Size,
		Total:        rec.Size,
		StartedAt:    rec.StartedAt,
		UploadID:     rec.UploadID,
		Parts:        append([]uptypes.PartToken(nil), rec.Parts...),
	}
}

// requeuedItem rebinds a partially uploaded file to its freshly enumerated
// handle and resets the transient fields: a partial file restarts from part 1.
func requeuedItem(rec uptypes.FileRecord, fresh *uptypes.FileItem) *uptypes.FileItem {
	return &uptypes.FileItem{
		Index:        rec.Index,
		Name:         fresh.Name,
		RelativePath: rec.RelativePath,
		Size:         fresh.Size,
		ContentType:  fresh.ContentType,
		Status:       uptypes.StatusQueued,
		Loaded:       0,
		Total:        fresh.Size,
		Handle:       fresh.Handle,
	}
}

// Requeue resets a failed file for another attempt. Only the resume controller
// and explicit user retry drive the Failed -> Queued transition; the scheduler
// never requeues on its own.
func Requeue(f *uptypes.FileItem) {
	if f.Status != uptypes.StatusFailed {
		return
	}
	f.Status = uptypes.StatusQueued
	f.Loaded = 0
	f.UploadID = ""
	f.Parts = nil
}

// CheckAccess verifies read permission for a file handle, attempting
// reacquisition when the handle exposes the AccessChecker capability.
// Handles without the capability are treated as always readable. A denial is
// reported as a PermissionError; it must not be silently ignored.
func CheckAccess(f *uptypes.FileItem) error {
	if f.Handle == nil {
		return uperrors.NewError("checkAccess", uperrors.ErrPermission).WithPath(f.RelativePath)
	}
	checker, ok := f.Handle.(uptypes.AccessChecker)
	if !ok {
		return nil
	}
	if checker.CanRead() {
		return nil
	}
	if checker.RequestAccess() {
		return nil
	}
	return uperrors.NewError("checkAccess", uperrors.ErrPermission).WithPath(f.RelativePath)
}
