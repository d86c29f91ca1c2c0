// Package watch stores the pipelines and merge requests under observation.
package watch

import (
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrDuplicatePipeline is returned when a still-running pipeline is
	// already tracked for the same project and commit.
	ErrDuplicatePipeline = errors.New("watch: pipeline already tracked for this commit")
	// ErrDuplicateMergeRequest is returned when the merge request is already
	// watched and still open.
	ErrDuplicateMergeRequest = errors.New("watch: merge request already watched")
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("watch: not found")
)

// CreatePipelineOpts holds parameters for registering a pipeline watch.
type CreatePipelineOpts struct {
	RemoteID    int64
	ProjectID   int64
	WebURL      string
	Status      string
	SHA         string
	NotifyOnEnd bool
}

// CreatePipeline registers a pipeline for watching. A commit that already has
// a non-terminal pipeline watch in the same project is rejected with
// ErrDuplicatePipeline.
func CreatePipeline(gdb *gorm.DB, opts CreatePipelineOpts) (*models.WatchedPipeline, error) {
	if opts.RemoteID == 0 {
		return nil, fmt.Errorf("watch: pipeline id is required")
	}
	if opts.ProjectID == 0 {
		return nil, fmt.Errorf("watch: project id is required")
	}

	if opts.SHA != "" {
		var count int64
		err := gdb.Model(&models.WatchedPipeline{}).
			Where("project_id = ? AND sha = ? AND status NOT IN ?", opts.ProjectID, opts.SHA, models.TerminalPipelineStatuses()).
			Count(&count).Error
		if err != nil {
			return nil, db.StorageError("watch: check duplicate pipeline", err)
		}
		if count > 0 {
			return nil, fmt.Errorf("%w: project %d sha %s", ErrDuplicatePipeline, opts.ProjectID, opts.SHA)
		}
	}

	status := opts.Status
	if status == "" {
		status = string(models.PipelineCreated)
	}

	p := models.WatchedPipeline{
		RemoteID:    opts.RemoteID,
		ProjectID:   opts.ProjectID,
		WebURL:      opts.WebURL,
		Status:      status,
		NotifyOnEnd: opts.NotifyOnEnd,
	}
	if opts.SHA != "" {
		sha := opts.SHA
		p.SHA = &sha
	}

	if err := gdb.Create(&p).Error; err != nil {
		return nil, db.StorageError("watch: create pipeline", err)
	}
	return &p, nil
}

// GetPipeline loads a pipeline watch by local id.
func GetPipeline(gdb *gorm.DB, id uint) (*models.WatchedPipeline, error) {
	var p models.WatchedPipeline
	if err := gdb.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: pipeline %d", ErrNotFound, id)
		}
		return nil, db.StorageError(fmt.Sprintf("watch: get pipeline %d", id), err)
	}
	return &p, nil
}

// PipelineBySHA returns the most recent pipeline watch for a commit, or nil
// when the commit is not tracked.
func PipelineBySHA(gdb *gorm.DB, projectID int64, sha string) (*models.WatchedPipeline, error) {
	var ps []models.WatchedPipeline
	if err := gdb.Where("project_id = ? AND sha = ?", projectID, sha).
		Order("id DESC").Limit(1).Find(&ps).Error; err != nil {
		return nil, db.StorageError("watch: pipeline by sha", err)
	}
	if len(ps) == 0 {
		return nil, nil
	}
	return &ps[0], nil
}

// PendingPipelines returns every pipeline watch that has not reached a
// terminal status, ordered by id.
func PendingPipelines(gdb *gorm.DB) ([]models.WatchedPipeline, error) {
	var ps []models.WatchedPipeline
	if err := gdb.Where("status IS NULL OR status NOT IN ?", models.TerminalPipelineStatuses()).
		Order("id ASC").Find(&ps).Error; err != nil {
		return nil, db.StorageError("watch: pending pipelines", err)
	}
	return ps, nil
}

// ListPipelines returns all pipeline watches, newest first. A non-empty
// status filters the result.
func ListPipelines(gdb *gorm.DB, status string) ([]models.WatchedPipeline, error) {
	q := gdb.Model(&models.WatchedPipeline{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var ps []models.WatchedPipeline
	if err := q.Order("id DESC").Find(&ps).Error; err != nil {
		return nil, db.StorageError("watch: list pipelines", err)
	}
	return ps, nil
}

// UpdatePipelineStatus writes a freshly fetched status back. The write is
// unconditional; an unchanged status is still written.
func UpdatePipelineStatus(gdb *gorm.DB, id uint, status models.PipelineStatus) error {
	result := gdb.Model(&models.WatchedPipeline{}).Where("id = ?", id).Update("status", string(status))
	if result.Error != nil {
		return db.StorageError(fmt.Sprintf("watch: update pipeline %d", id), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: pipeline %d", ErrNotFound, id)
	}
	return nil
}
