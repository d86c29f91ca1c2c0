package chain

import (
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// wrap classifies a failed transition. Stale rows are a business outcome, not
// a storage failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStale) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return db.StorageError(op, err)
}

// materialize inserts mr and links it to a created, unlinked step.
func materialize(tx *gorm.DB, stepID uint, mr *models.WatchedMergeRequest) error {
	if err := tx.Create(mr).Error; err != nil {
		return err
	}
	result := tx.Model(&models.ChainStep{}).
		Where("id = ? AND watch_mr_id IS NULL AND status = ?", stepID, string(models.ChainCreated)).
		Updates(map[string]interface{}{
			"watch_mr_id": mr.ID,
			"status":      string(models.ChainPending),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: step %d is not awaiting a merge request", ErrStale, stepID)
	}
	return nil
}

// Materialize registers mr for watching and links it to the step in one
// transaction. The step moves from created to pending.
func Materialize(gdb *gorm.DB, stepID uint, mr models.WatchedMergeRequest) (*models.WatchedMergeRequest, error) {
	err := gdb.Transaction(func(tx *gorm.DB) error {
		return materialize(tx, stepID, &mr)
	})
	if err != nil {
		return nil, wrap(fmt.Sprintf("chain: materialize step %d", stepID), err)
	}
	return &mr, nil
}

// Advance marks a merged step successful and materializes the following step
// with mr, atomically.
func Advance(gdb *gorm.DB, stepID, nextStepID uint, mr models.WatchedMergeRequest) (*models.WatchedMergeRequest, error) {
	err := gdb.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ChainStep{}).
			Where("id = ? AND status NOT IN ?", stepID, terminalStep).
			Updates(map[string]interface{}{"status": string(models.ChainSuccess), "fail_message": nil})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: step %d is already terminal", ErrStale, stepID)
		}
		return materialize(tx, nextStepID, &mr)
	})
	if err != nil {
		return nil, wrap(fmt.Sprintf("chain: advance step %d", stepID), err)
	}
	return &mr, nil
}

// Fail marks the step failed, along with any step still created, and the task
// failed. Either every row changes or none does.
func Fail(gdb *gorm.DB, taskID, stepID uint, msg string) error {
	err := gdb.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ChainStep{}).
			Where("task_id = ? AND status NOT IN ?", taskID, terminalStep).
			Where("(id = ? OR status = ?)", stepID, string(models.ChainCreated)).
			Updates(map[string]interface{}{"status": string(models.ChainFailed), "fail_message": msg})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: task %d has no open step %d", ErrStale, taskID, stepID)
		}
		return tx.Model(&models.ChainTask{}).Where("id = ?", taskID).
			Updates(map[string]interface{}{"status": string(models.ChainFailed), "fail_message": msg}).Error
	})
	if err != nil {
		return wrap(fmt.Sprintf("chain: fail task %d", taskID), err)
	}
	return nil
}

// Complete marks the final step successful and moves the task to
// wait_pipeline when waitPipeline is set, otherwise to success. It returns
// the task status written.
func Complete(gdb *gorm.DB, taskID, stepID uint, waitPipeline bool) (models.ChainStatus, error) {
	status := models.ChainSuccess
	if waitPipeline {
		status = models.ChainWaitPipeline
	}
	err := gdb.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ChainStep{}).
			Where("id = ? AND task_id = ? AND status NOT IN ?", stepID, taskID, terminalStep).
			Updates(map[string]interface{}{"status": string(models.ChainSuccess), "fail_message": nil})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: step %d is already terminal", ErrStale, stepID)
		}
		return tx.Model(&models.ChainTask{}).Where("id = ?", taskID).
			Update("status", string(status)).Error
	})
	if err != nil {
		return models.ChainUnknown, wrap(fmt.Sprintf("chain: complete task %d", taskID), err)
	}
	return status, nil
}

// LinkPipeline records the tracked post-merge pipeline of a waiting task.
func LinkPipeline(gdb *gorm.DB, taskID, pipelineID uint) error {
	if err := gdb.Model(&models.ChainTask{}).Where("id = ?", taskID).
		Update("watch_pipline_id", pipelineID).Error; err != nil {
		return db.StorageError(fmt.Sprintf("chain: link pipeline to task %d", taskID), err)
	}
	return nil
}

// Finish settles a task waiting on its post-merge pipeline. Tasks in any other
// status are left untouched and ErrStale is returned.
func Finish(gdb *gorm.DB, taskID uint, status models.ChainStatus, failMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("chain: finish task %d: %q is not terminal", taskID, status)
	}
	updates := map[string]interface{}{"status": string(status)}
	if failMsg != "" {
		updates["fail_message"] = failMsg
	}
	result := gdb.Model(&models.ChainTask{}).
		Where("id = ? AND status = ?", taskID, string(models.ChainWaitPipeline)).
		Updates(updates)
	if result.Error != nil {
		return db.StorageError(fmt.Sprintf("chain: finish task %d", taskID), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: task %d is not waiting on a pipeline", ErrStale, taskID)
	}
	return nil
}
