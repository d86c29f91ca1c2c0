package signalman

import (
	"context"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/watch"
	"gorm.io/gorm"
)

// WatchPipelines refreshes every non-terminal pipeline watch. A failed fetch
// skips the row until the next cycle; a failed write suppresses its
// notification. Only a storage read failure is returned.
func (e *Engine) WatchPipelines(ctx context.Context, gdb *gorm.DB) error {
	rows, err := watch.PendingPipelines(gdb)
	if err != nil {
		return err
	}
	for _, p := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.reconcilePipeline(ctx, gdb, p)
	}
	return nil
}

func (e *Engine) reconcilePipeline(ctx context.Context, gdb *gorm.DB, p models.WatchedPipeline) {
	rp, err := e.remote.GetPipeline(ctx, p.ProjectID, p.RemoteID)
	if err != nil {
		e.logger.Printf("signalman: pipeline #%d (project %d): %v", p.RemoteID, p.ProjectID, err)
		return
	}

	if err := watch.UpdatePipelineStatus(gdb, p.ID, rp.Status); err != nil {
		e.logger.Printf("signalman: pipeline #%d: persist %s: %v", p.RemoteID, rp.Status, err)
		return
	}
	if rp.Status != p.PipelineStatus() {
		e.progress("Pipeline #%d: %s -> %s", p.RemoteID, p.Status, rp.Status)
	}

	if !p.NotifyOnEnd {
		return
	}
	webURL := rp.WebURL
	if webURL == "" {
		webURL = p.WebURL
	}
	e.notifyPipelineOutcome(ctx, p.RemoteID, rp.Status, webURL)
}

// notifyPipelineOutcome reports a finished pipeline. Non-terminal statuses
// are ignored.
func (e *Engine) notifyPipelineOutcome(ctx context.Context, remoteID int64, status models.PipelineStatus, webURL string) {
	switch {
	case status.IsSuccess():
		e.notify(ctx, notify.Open(notify.Notification{
			Title: pipelineTitle(remoteID),
			Body:  "Pipeline succeeded",
			Level: notify.LevelSuccess,
		}, webURL, "Open pipeline"))
	case status.IsFailed():
		e.notify(ctx, notify.Open(notify.Notification{
			Title: pipelineTitle(remoteID),
			Body:  fmt.Sprintf("Pipeline %s", status),
			Level: notify.LevelFailure,
		}, webURL, "Open pipeline"))
	}
}

func pipelineTitle(remoteID int64) string {
	return fmt.Sprintf("Pipeline #%d", remoteID)
}
