package upload

import (
	"context"
	"fmt"

	uperrors "github.com/assetforge/upload/errors"
	"github.com/assetforge/upload/internal/planner"
	"github.com/assetforge/upload/internal/resume"
	"github.com/assetforge/upload/internal/scheduler"
	"github.com/assetforge/upload/internal/session"
	"github.com/assetforge/upload/internal/state"
	"github.com/assetforge/upload/internal/validation"
	"github.com/assetforge/upload/uptypes"
)

// Upload runs one upload cycle over the session: initialize the queued files,
// transfer their parts under the global concurrency cap, and finalize the
// session once every file is Completed.
//
// Upload returns nil only when the whole session finalized. If any file failed,
// the remaining files still finish their transfers and the error wraps
// ErrSessionIncomplete; call Retry (or Resume in a later process) to requeue
// the failures and run another cycle.
func (c *Client) Upload(ctx context.Context, sess *uptypes.Session) error {
	if sess == nil {
		return fmt.Errorf("%w: nil session", uperrors.ErrInvalidInput)
	}
	if err := validation.ValidateSession(sess); err != nil {
		return err
	}
	if sess.CompletionSubmitted {
		return nil
	}

	queued := queuedFiles(sess)
	if len(queued) > 0 {
		if err := c.runCycle(ctx, sess, queued); err != nil {
			return err
		}
	}

	c.saveRecord(ctx, sess)

	if !sess.Complete() {
		done, total := completedCounts(sess)
		return uperrors.NewAssetError("upload", sess.AssetID,
			fmt.Errorf("%w: %d of %d files completed", uperrors.ErrSessionIncomplete, done, total))
	}

	completer := session.NewCompleter(c.svc).WithLogger(c.logger)
	if _, err := completer.Complete(ctx, sess); err != nil {
		c.saveRecord(ctx, sess)
		return uperrors.NewAssetError("upload", sess.AssetID, err)
	}

	c.saveRecord(ctx, sess)
	if c.logger != nil {
		c.logger.Info("upload session finalized",
			"assetId", sess.AssetID, "uploadId", sess.UploadID, "files", len(sess.Files))
	}
	return nil
}

// runCycle initializes the queued files and drains their parts through the
// scheduler. Transfer failures do not surface here; they land in file state.
func (c *Client) runCycle(ctx context.Context, sess *uptypes.Session, queued []*uptypes.FileItem) error {
	init := session.NewInitializer(c.svc).WithLogger(c.logger)
	plans, err := init.Initialize(ctx, sess, queued, c.partSize)
	if err != nil {
		return uperrors.NewAssetError("upload", sess.AssetID, err)
	}

	tracker := state.New(sess.Files, c.obs).
		WithLogger(c.logger).
		WithTransitionHook(func(*uptypes.FileItem) {
			c.saveRecord(ctx, sess)
		})

	sched := scheduler.New(c.svc, tracker, c.concurrency).WithLogger(c.logger)

	for _, f := range queued {
		plan := plans[f.Index]
		f.UploadID = plan.UploadID
		f.Parts = nil

		tasks, err := partTasks(f, plan, c.partSize)
		if err != nil {
			return uperrors.NewFileError("upload", sess.AssetID, f.RelativePath, err)
		}
		tracker.SetPlan(f.Index, plan.NumParts)
		sched.Enqueue(tasks...)
	}

	c.saveRecord(ctx, sess)

	if err := sched.Run(ctx); err != nil {
		c.saveRecord(ctx, sess)
		return uperrors.NewAssetError("upload", sess.AssetID, err)
	}
	return nil
}

// Resume reloads persisted session state and reconciles it with the session's
// freshly enumerated files. Completed files keep their tokens; everything else
// is requeued from scratch with its new handle. Files whose handles fail the
// access check are marked Failed and reported through the observer.
//
// With no persisted record the session is left untouched and Upload starts it
// from the beginning.
func (c *Client) Resume(ctx context.Context, sess *uptypes.Session) error {
	if sess == nil || sess.AssetID == "" {
		return fmt.Errorf("%w: session missing asset ID", uperrors.ErrInvalidInput)
	}

	record, err := c.store.Get(ctx, sess.AssetID)
	if err != nil {
		return uperrors.NewAssetError("resume", sess.AssetID, err)
	}
	if record == nil {
		if c.logger != nil {
			c.logger.Debug("no persisted session to resume", "assetId", sess.AssetID)
		}
		return nil
	}

	sess.UploadID = record.UploadID
	sess.CompletionSubmitted = record.CompletionSubmitted
	sess.Files = resume.Merge(record, sess.Files, c.logger)

	for _, f := range sess.Files {
		if f.Status != uptypes.StatusQueued {
			continue
		}
		if err := resume.CheckAccess(f); err != nil {
			f.Status = uptypes.StatusFailed
			c.obs.OnFileError(f.Index, err)
			if c.logger != nil {
				c.logger.Warn("file access lost on resume",
					"assetId", sess.AssetID, "index", f.Index, "path", f.RelativePath)
			}
		}
	}

	c.saveRecord(ctx, sess)
	if c.logger != nil {
		c.logger.Info("session resumed",
			"assetId", sess.AssetID, "files", len(sess.Files))
	}
	return nil
}

// Retry requeues the session's failed files and runs another upload cycle.
// Files whose handles no longer pass the access check stay Failed. With no
// failed files Retry is a no-op returning Upload's verdict on the session.
func (c *Client) Retry(ctx context.Context, sess *uptypes.Session) error {
	if sess == nil || sess.AssetID == "" {
		return fmt.Errorf("%w: session missing asset ID", uperrors.ErrInvalidInput)
	}

	for _, f := range sess.Files {
		if f.Status != uptypes.StatusFailed {
			continue
		}
		if err := resume.CheckAccess(f); err != nil {
			c.obs.OnFileError(f.Index, err)
			continue
		}
		resume.Requeue(f)
	}

	return c.Upload(ctx, sess)
}

// queuedFiles returns the files the next cycle must transfer. Failed files are
// deliberately excluded: only Retry or Resume requeues them.
func queuedFiles(sess *uptypes.Session) []*uptypes.FileItem {
	var queued []*uptypes.FileItem
	for _, f := range sess.Files {
		if f.Status == uptypes.StatusQueued {
			queued = append(queued, f)
		}
	}
	return queued
}

func completedCounts(sess *uptypes.Session) (done, total int) {
	for _, f := range sess.Files {
		if f.Status == uptypes.StatusCompleted {
			done++
		}
	}
	return done, len(sess.Files)
}

// partTasks zips the file's local part plan with the remote part URLs.
func partTasks(f *uptypes.FileItem, plan uptypes.FilePlan, partSize int64) ([]scheduler.Task, error) {
	ranges, err := planner.Plan(f.Size, partSize)
	if err != nil {
		return nil, err
	}

	urls := make(map[int]string, len(plan.PartURLs))
	for _, pu := range plan.PartURLs {
		urls[pu.PartNumber] = pu.URL
	}

	tasks := make([]scheduler.Task, 0, len(ranges))
	for _, r := range ranges {
		url, ok := urls[r.PartNumber]
		if !ok {
			return nil, fmt.Errorf("%w: no URL for part %d", uperrors.ErrPlanMismatch, r.PartNumber)
		}
		tasks = append(tasks, scheduler.Task{
			FileIndex:  f.Index,
			PartNumber: r.PartNumber,
			URL:        url,
			Offset:     r.Start,
			Length:     r.Size(),
			Handle:     f.Handle,
		})
	}
	return tasks, nil
}
