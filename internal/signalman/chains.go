package signalman

import (
	"context"
	"fmt"

	"github.com/zulandar/signalbox/internal/chain"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/remote"
	"github.com/zulandar/signalbox/internal/watch"
	"gorm.io/gorm"
)

// WatchChains drives every active chain task one transition forward: it
// opens the merge request of a step that has none, advances past merged
// steps, fails the task when a step's merge request is closed, and settles
// tasks waiting on their post-merge pipeline.
func (e *Engine) WatchChains(ctx context.Context, gdb *gorm.DB) error {
	tasks, err := chain.Active(gdb)
	if err != nil {
		return err
	}
	for i := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		task := &tasks[i]
		switch task.ChainStatus() {
		case models.ChainPending:
			e.driveChain(ctx, gdb, task)
		case models.ChainWaitPipeline:
			e.settleChain(ctx, gdb, task)
		}
	}
	return nil
}

func chainTitle(task *models.ChainTask) string {
	return fmt.Sprintf("#%d: %s -> %s", task.ID, task.SourceBranch, task.TargetBranch)
}

func (e *Engine) driveChain(ctx context.Context, gdb *gorm.DB, task *models.ChainTask) {
	step, ok := chain.CurrentStep(task)
	if !ok {
		e.logger.Printf("signalman: chain #%d is pending but every step succeeded", task.ID)
		return
	}
	if step.ChainStatus() == models.ChainFailed {
		e.logger.Printf("signalman: chain #%d step %d already failed", task.ID, step.StepNumber)
		return
	}

	mrID, linked := step.MergeRequest().Linked()
	if !linked {
		e.materializeStep(ctx, gdb, task, step)
		return
	}

	mr, err := watch.GetMergeRequest(gdb, mrID)
	if err != nil {
		e.logger.Printf("signalman: chain #%d step %d: %v", task.ID, step.StepNumber, err)
		return
	}

	switch mr.State() {
	case models.MergeRequestClosed:
		msg := fmt.Sprintf("step %d merge request !%d was closed", step.StepNumber, mr.RemoteID)
		if err := chain.Fail(gdb, task.ID, step.ID, msg); err != nil {
			e.logger.Printf("signalman: chain #%d: fail: %v", task.ID, err)
			return
		}
		e.progress("Chain #%d failed at step %d", task.ID, step.StepNumber)
		e.notify(ctx, notify.Open(notify.Notification{
			Title: chainTitle(task),
			Body:  msgChainBroken,
			Level: notify.LevelFailure,
		}, mr.WebURL, "Open merge request"))

	case models.MergeRequestMerged:
		if chain.IsLast(task, step) {
			e.completeChain(ctx, gdb, task, step, mr)
			return
		}
		next, ok := chain.NextStep(task, step)
		if !ok {
			e.logger.Printf("signalman: chain #%d has no step after %d", task.ID, step.StepNumber)
			return
		}
		row, err := e.openStepMergeRequest(ctx, task, next)
		if err != nil {
			e.logger.Printf("signalman: chain #%d step %d: %v", task.ID, next.StepNumber, err)
			return
		}
		if _, err := chain.Advance(gdb, step.ID, next.ID, row); err != nil {
			e.logger.Printf("signalman: chain #%d: advance to step %d: %v", task.ID, next.StepNumber, err)
			return
		}
		e.progress("Chain #%d advanced to step %d/%d (!%d)", task.ID, next.StepNumber, len(task.Steps), row.RemoteID)
	}
}

func (e *Engine) completeChain(ctx context.Context, gdb *gorm.DB, task *models.ChainTask, step models.ChainStep, mr *models.WatchedMergeRequest) {
	status, err := chain.Complete(gdb, task.ID, step.ID, task.WatchPipelineAfterComplete)
	if err != nil {
		e.logger.Printf("signalman: chain #%d: complete: %v", task.ID, err)
		return
	}
	e.progress("Chain #%d %s", task.ID, status)

	body := msgChainComplete
	if status == models.ChainWaitPipeline {
		body = msgChainWaiting
	}
	e.notify(ctx, notify.Open(notify.Notification{
		Title: chainTitle(task),
		Body:  body,
		Level: notify.LevelSuccess,
	}, mr.WebURL, "Open merge request"))
}

// openStepMergeRequest creates the remote merge request for step and returns
// the unsaved watch row for it. Chain merge requests merge automatically and
// report through the chain rather than individually.
func (e *Engine) openStepMergeRequest(ctx context.Context, task *models.ChainTask, step models.ChainStep) (models.WatchedMergeRequest, error) {
	rmr, err := e.remote.CreateMergeRequest(ctx, task.ProjectID, remote.CreateMergeRequestOpts{
		SourceBranch: step.SourceBranch,
		TargetBranch: step.TargetBranch,
		Title:        fmt.Sprintf("%s (step %d/%d)", chainTitle(task), step.StepNumber, len(task.Steps)),
	})
	if err != nil {
		return models.WatchedMergeRequest{}, err
	}
	return watch.NewMergeRequest(watch.CreateMergeRequestOpts{
		RemoteID:                rmr.ID,
		ProjectID:               task.ProjectID,
		WebURL:                  rmr.WebURL,
		AutoMerge:               true,
		NotifyOnEnd:             false,
		WatchPipelineAfterMerge: task.WatchPipelineAfterComplete && chain.IsLast(task, step),
	}), nil
}

func (e *Engine) materializeStep(ctx context.Context, gdb *gorm.DB, task *models.ChainTask, step models.ChainStep) {
	row, err := e.openStepMergeRequest(ctx, task, step)
	if err != nil {
		e.logger.Printf("signalman: chain #%d step %d: %v", task.ID, step.StepNumber, err)
		return
	}
	if _, err := chain.Materialize(gdb, step.ID, row); err != nil {
		e.logger.Printf("signalman: chain #%d step %d: register !%d: %v", task.ID, step.StepNumber, row.RemoteID, err)
		return
	}
	e.progress("Chain #%d step %d/%d opened !%d (%s -> %s)", task.ID, step.StepNumber, len(task.Steps), row.RemoteID, step.SourceBranch, step.TargetBranch)
}

// settleChain links a waiting task to the pipeline of its final merge commit
// and finishes the task once that pipeline is terminal.
func (e *Engine) settleChain(ctx context.Context, gdb *gorm.DB, task *models.ChainTask) {
	pipelineID, linked := task.Pipeline().Linked()
	if !linked {
		p, err := e.finalPipeline(gdb, task)
		if err != nil {
			e.logger.Printf("signalman: chain #%d: %v", task.ID, err)
			return
		}
		if p == nil {
			return
		}
		if err := chain.LinkPipeline(gdb, task.ID, p.ID); err != nil {
			e.logger.Printf("signalman: chain #%d: %v", task.ID, err)
			return
		}
		pipelineID = p.ID
	}

	p, err := watch.GetPipeline(gdb, pipelineID)
	if err != nil {
		e.logger.Printf("signalman: chain #%d: %v", task.ID, err)
		return
	}
	status := p.PipelineStatus()
	switch {
	case status.IsSuccess():
		if err := chain.Finish(gdb, task.ID, models.ChainSuccess, ""); err != nil {
			e.logger.Printf("signalman: chain #%d: finish: %v", task.ID, err)
			return
		}
		e.progress("Chain #%d success", task.ID)
		e.notify(ctx, notify.Open(notify.Notification{
			Title: chainTitle(task),
			Body:  msgChainPipelineOK,
			Level: notify.LevelSuccess,
		}, p.WebURL, "Open pipeline"))
	case status.IsFailed():
		msg := fmt.Sprintf("pipeline #%d %s", p.RemoteID, status)
		if err := chain.Finish(gdb, task.ID, models.ChainFailed, msg); err != nil {
			e.logger.Printf("signalman: chain #%d: finish: %v", task.ID, err)
			return
		}
		e.progress("Chain #%d failed: %s", task.ID, msg)
		e.notify(ctx, notify.Open(notify.Notification{
			Title: chainTitle(task),
			Body:  msgChainPipeFailed,
			Level: notify.LevelFailure,
		}, p.WebURL, "Open pipeline"))
	}
}

// finalPipeline returns the tracked pipeline of the last step's merge commit,
// or nil while it is not tracked yet.
func (e *Engine) finalPipeline(gdb *gorm.DB, task *models.ChainTask) (*models.WatchedPipeline, error) {
	if len(task.Steps) == 0 {
		return nil, fmt.Errorf("task has no steps")
	}
	last := task.Steps[len(task.Steps)-1]
	mrID, linked := last.MergeRequest().Linked()
	if !linked {
		return nil, fmt.Errorf("final step has no merge request")
	}
	mr, err := watch.GetMergeRequest(gdb, mrID)
	if err != nil {
		return nil, err
	}
	if mr.MergeCommitSHA == nil || *mr.MergeCommitSHA == "" {
		return nil, nil
	}
	return watch.PipelineBySHA(gdb, task.ProjectID, *mr.MergeCommitSHA)
}
