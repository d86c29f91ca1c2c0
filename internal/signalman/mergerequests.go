package signalman

import (
	"context"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/watch"
	"gorm.io/gorm"
)

// WatchMergeRequests reconciles every opened merge request watch. Each row
// is decided by the first matching rule: conflicts, head pipeline, closed or
// merged state, auto-merge.
func (e *Engine) WatchMergeRequests(ctx context.Context, gdb *gorm.DB) error {
	rows, err := watch.OpenMergeRequests(gdb)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.reconcileMergeRequest(ctx, gdb, row)
	}
	return nil
}

func (e *Engine) reconcileMergeRequest(ctx context.Context, gdb *gorm.DB, row watch.OpenMergeRequest) {
	rmr, err := e.remote.GetMergeRequest(ctx, row.ProjectID, row.RemoteID)
	if err != nil {
		e.logger.Printf("signalman: merge request !%d (project %d): %v", row.RemoteID, row.ProjectID, err)
		return
	}
	title := row.Title(rmr.Title)
	webURL := rmr.WebURL
	if webURL == "" {
		webURL = row.WebURL
	}
	mrNote := func(body string, level notify.Level) notify.Notification {
		return notify.Open(notify.Notification{Title: title, Body: body, Level: level}, webURL, "Open merge request")
	}

	mergeSHA := ""
	if rmr.State == models.MergeRequestMerged {
		mergeSHA = rmr.MergeCommitSHA
	}
	if err := watch.UpdateMergeRequestState(gdb, row.ID, string(rmr.State), rmr.HasConflicts, mergeSHA); err != nil {
		e.logger.Printf("signalman: merge request !%d: persist state: %v", row.RemoteID, err)
		return
	}
	if rmr.State != row.State() {
		e.progress("MR !%d: %s -> %s", row.RemoteID, row.Status, rmr.State)
	}

	if rmr.HasConflicts && !row.HasConflicts {
		e.notify(ctx, mrNote(msgConflict, notify.LevelFailure))
		return
	}

	if hp := rmr.HeadPipeline; hp != nil {
		if hp.Status.IsFailed() {
			n := mrNote(msgPipelineFailed, notify.LevelFailure)
			e.notify(ctx, notify.Open(n, hp.WebURL, "Open pipeline"))
			return
		}
		if !hp.Status.IsSuccess() {
			return
		}
	}

	if rmr.HasConflicts {
		return
	}

	switch rmr.State {
	case models.MergeRequestOpened:
	case models.MergeRequestClosed:
		if row.NotifyOnEnd {
			e.notify(ctx, mrNote(msgMRClosed, notify.LevelInfo))
		}
		return
	case models.MergeRequestMerged:
		if row.NotifyOnEnd {
			e.notify(ctx, mrNote(msgMRMerged, notify.LevelSuccess))
		}
		return
	default:
		return
	}

	if !row.AutoMerge {
		e.notify(ctx, mrNote(msgReadyToMerge, notify.LevelInfo))
		return
	}

	merged, err := e.remote.MergeMergeRequest(ctx, row.ProjectID, row.RemoteID)
	if err != nil {
		e.logger.Printf("signalman: merge request !%d: merge: %v", row.RemoteID, err)
		if ferr := watch.SetMergeRequestFailMessage(gdb, row.ID, err.Error()); ferr != nil {
			e.logger.Printf("signalman: merge request !%d: %v", row.RemoteID, ferr)
		}
		e.notify(ctx, mrNote(fmt.Sprintf("%s: %v", msgMergeError, err), notify.LevelFailure))
		return
	}

	if err := watch.MarkMerged(gdb, row.ID, merged.MergeCommitSHA); err != nil {
		e.logger.Printf("signalman: merge request !%d: persist merge: %v", row.RemoteID, err)
		return
	}
	e.progress("MR !%d merged (%s)", row.RemoteID, shortSHA(merged.MergeCommitSHA))
	if row.NotifyOnEnd {
		e.notify(ctx, mrNote(msgMRMerged, notify.LevelSuccess))
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
