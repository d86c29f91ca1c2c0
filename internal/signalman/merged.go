package signalman

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/watch"
	"gorm.io/gorm"
)

// DetectMergedPipelines starts tracking the pipeline of each merge commit
// whose merge request asked for it. A commit without a pipeline yet is
// retried next cycle. Created watches notify on their outcome; a pipeline
// that already finished is reported at once, since the pipeline watcher
// never revisits a terminal row.
func (e *Engine) DetectMergedPipelines(ctx context.Context, gdb *gorm.DB) error {
	rows, err := watch.MergedWithoutPipeline(gdb)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, mr := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sha := *mr.MergeCommitSHA
		key := fmt.Sprintf("%d:%s", mr.ProjectID, sha)
		if seen[key] {
			continue
		}

		p, err := e.remote.GetPipelineBySHA(ctx, mr.ProjectID, sha)
		if err != nil {
			e.logger.Printf("signalman: pipeline for %s (project %d): %v", shortSHA(sha), mr.ProjectID, err)
			continue
		}
		if p == nil {
			continue
		}
		seen[key] = true

		created, err := watch.CreatePipeline(gdb, watch.CreatePipelineOpts{
			RemoteID:    p.ID,
			ProjectID:   mr.ProjectID,
			WebURL:      p.WebURL,
			Status:      string(p.Status),
			SHA:         sha,
			NotifyOnEnd: true,
		})
		if err != nil {
			if !errors.Is(err, watch.ErrDuplicatePipeline) {
				e.logger.Printf("signalman: track pipeline #%d: %v", p.ID, err)
			}
			continue
		}
		e.progress("Tracking pipeline #%d for merge of !%d (%s)", created.RemoteID, mr.RemoteID, shortSHA(sha))
		if p.Status.IsTerminal() {
			e.notifyPipelineOutcome(ctx, created.RemoteID, p.Status, created.WebURL)
		}
	}
	return nil
}
