// Package chain stores multi-step branch promotion tasks and applies their
// state transitions.
package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a task or step does not exist.
	ErrNotFound = errors.New("chain: not found")
	// ErrStale is returned when a transition finds the row already moved on,
	// e.g. a step that is already terminal or already linked.
	ErrStale = errors.New("chain: row changed since it was read")
)

// CreateOpts holds parameters for creating a chain task.
type CreateOpts struct {
	ProjectID                  int64
	Branches                   []string // feature, staging, main => 2 steps
	WatchPipelineAfterComplete bool
}

// Create inserts a pending task with one created step per adjacent branch
// pair. Steps are numbered from 1 without gaps.
func Create(gdb *gorm.DB, opts CreateOpts) (*models.ChainTask, error) {
	if opts.ProjectID == 0 {
		return nil, fmt.Errorf("chain: project id is required")
	}
	if len(opts.Branches) < 2 {
		return nil, fmt.Errorf("chain: at least two branches are required, got %d", len(opts.Branches))
	}
	for i, b := range opts.Branches {
		if strings.TrimSpace(b) == "" {
			return nil, fmt.Errorf("chain: branch %d is empty", i+1)
		}
		if i > 0 && b == opts.Branches[i-1] {
			return nil, fmt.Errorf("chain: branch %q merges into itself", b)
		}
	}

	task := models.ChainTask{
		ProjectID:                  opts.ProjectID,
		Status:                     string(models.ChainPending),
		SourceBranch:               opts.Branches[0],
		TargetBranch:               opts.Branches[len(opts.Branches)-1],
		WatchPipelineAfterComplete: opts.WatchPipelineAfterComplete,
	}

	err := gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return err
		}
		for i := 1; i < len(opts.Branches); i++ {
			step := models.ChainStep{
				TaskID:       task.ID,
				StepNumber:   i,
				Status:       string(models.ChainCreated),
				SourceBranch: opts.Branches[i-1],
				TargetBranch: opts.Branches[i],
			}
			if err := tx.Create(&step).Error; err != nil {
				return err
			}
			task.Steps = append(task.Steps, step)
		}
		return nil
	})
	if err != nil {
		return nil, db.StorageError("chain: create task", err)
	}
	return &task, nil
}

func preloadSteps(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Steps", func(q *gorm.DB) *gorm.DB {
		return q.Order("step_number ASC")
	})
}

// Get loads a task with its steps in step order.
func Get(gdb *gorm.DB, id uint) (*models.ChainTask, error) {
	var task models.ChainTask
	if err := preloadSteps(gdb).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: task %d", ErrNotFound, id)
		}
		return nil, db.StorageError(fmt.Sprintf("chain: get task %d", id), err)
	}
	return &task, nil
}

// List returns tasks newest first with their steps. A non-empty status filters
// the result.
func List(gdb *gorm.DB, status string) ([]models.ChainTask, error) {
	q := preloadSteps(gdb)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tasks []models.ChainTask
	if err := q.Order("id DESC").Find(&tasks).Error; err != nil {
		return nil, db.StorageError("chain: list tasks", err)
	}
	return tasks, nil
}

// Active returns tasks still being driven: pending ones and those waiting on
// their post-merge pipeline, ordered by id.
func Active(gdb *gorm.DB) ([]models.ChainTask, error) {
	var tasks []models.ChainTask
	err := preloadSteps(gdb).
		Where("status IN ?", []string{string(models.ChainPending), string(models.ChainWaitPipeline)}).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, db.StorageError("chain: active tasks", err)
	}
	return tasks, nil
}

// CurrentStep returns the lowest-numbered step that has not succeeded. The
// second result is false once every step succeeded.
func CurrentStep(task *models.ChainTask) (models.ChainStep, bool) {
	var cur models.ChainStep
	found := false
	for _, s := range task.Steps {
		if s.ChainStatus() == models.ChainSuccess {
			continue
		}
		if !found || s.StepNumber < cur.StepNumber {
			cur = s
			found = true
		}
	}
	return cur, found
}

// NextStep returns the step numbered after step, if any.
func NextStep(task *models.ChainTask, step models.ChainStep) (models.ChainStep, bool) {
	for _, s := range task.Steps {
		if s.StepNumber == step.StepNumber+1 {
			return s, true
		}
	}
	return models.ChainStep{}, false
}

// IsLast reports whether step is the final step of task.
func IsLast(task *models.ChainTask, step models.ChainStep) bool {
	return step.StepNumber == len(task.Steps)
}

// terminalStep lists step statuses that must never be overwritten.
var terminalStep = []string{string(models.ChainSuccess), string(models.ChainFailed)}
