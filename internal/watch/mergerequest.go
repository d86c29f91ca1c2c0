package watch

import (
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// CreateMergeRequestOpts holds parameters for registering a merge request watch.
type CreateMergeRequestOpts struct {
	RemoteID                int64
	ProjectID               int64
	WebURL                  string
	Status                  string // defaults to opened
	NotifyOnEnd             bool
	AutoMerge               bool
	WatchPipelineAfterMerge bool
}

// ChainContext describes the chain task a watched merge request belongs to.
type ChainContext struct {
	TaskID       uint
	SourceBranch string
	TargetBranch string
}

// OpenMergeRequest is an opened merge request watch with its optional chain.
type OpenMergeRequest struct {
	models.WatchedMergeRequest
	Chain *ChainContext
}

// Title returns the notification title for the merge request. Chain members
// are named after their task; standalone requests use the remote title when
// one is known.
func (m OpenMergeRequest) Title(remoteTitle string) string {
	if m.Chain != nil {
		return fmt.Sprintf("#%d: %s -> %s", m.Chain.TaskID, m.Chain.SourceBranch, m.Chain.TargetBranch)
	}
	if remoteTitle != "" {
		return fmt.Sprintf("MR !%d: %s", m.RemoteID, remoteTitle)
	}
	return fmt.Sprintf("MR !%d", m.RemoteID)
}

// NewMergeRequest builds an unsaved row from opts.
func NewMergeRequest(opts CreateMergeRequestOpts) models.WatchedMergeRequest {
	status := opts.Status
	if status == "" {
		status = string(models.MergeRequestOpened)
	}
	return models.WatchedMergeRequest{
		RemoteID:                opts.RemoteID,
		ProjectID:               opts.ProjectID,
		WebURL:                  opts.WebURL,
		Status:                  status,
		NotifyOnEnd:             opts.NotifyOnEnd,
		AutoMerge:               opts.AutoMerge,
		WatchPipelineAfterMerge: opts.WatchPipelineAfterMerge,
	}
}

// CreateMergeRequest registers a merge request for watching. An opened watch
// for the same project and merge request is rejected.
func CreateMergeRequest(gdb *gorm.DB, opts CreateMergeRequestOpts) (*models.WatchedMergeRequest, error) {
	if opts.RemoteID == 0 {
		return nil, fmt.Errorf("watch: merge request id is required")
	}
	if opts.ProjectID == 0 {
		return nil, fmt.Errorf("watch: project id is required")
	}

	var count int64
	if err := gdb.Model(&models.WatchedMergeRequest{}).
		Where("project_id = ? AND mr_id = ? AND status = ?", opts.ProjectID, opts.RemoteID, string(models.MergeRequestOpened)).
		Count(&count).Error; err != nil {
		return nil, db.StorageError("watch: check duplicate merge request", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: project %d !%d", ErrDuplicateMergeRequest, opts.ProjectID, opts.RemoteID)
	}

	mr := NewMergeRequest(opts)
	if err := gdb.Create(&mr).Error; err != nil {
		return nil, db.StorageError("watch: create merge request", err)
	}
	return &mr, nil
}

// GetMergeRequest loads a merge request watch by local id.
func GetMergeRequest(gdb *gorm.DB, id uint) (*models.WatchedMergeRequest, error) {
	var mr models.WatchedMergeRequest
	if err := gdb.First(&mr, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: merge request %d", ErrNotFound, id)
		}
		return nil, db.StorageError(fmt.Sprintf("watch: get merge request %d", id), err)
	}
	return &mr, nil
}

// ListMergeRequests returns all merge request watches, newest first. A
// non-empty status filters the result.
func ListMergeRequests(gdb *gorm.DB, status string) ([]models.WatchedMergeRequest, error) {
	q := gdb.Model(&models.WatchedMergeRequest{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var mrs []models.WatchedMergeRequest
	if err := q.Order("id DESC").Find(&mrs).Error; err != nil {
		return nil, db.StorageError("watch: list merge requests", err)
	}
	return mrs, nil
}

// openRow is the scan target for OpenMergeRequests.
type openRow struct {
	models.WatchedMergeRequest
	ChainTaskID *uint
	ChainSource *string
	ChainTarget *string
}

// OpenMergeRequests returns every opened merge request watch, ordered by id,
// with the chain task it belongs to when there is one.
func OpenMergeRequests(gdb *gorm.DB) ([]OpenMergeRequest, error) {
	var rows []openRow
	err := gdb.Table("watch__mr AS wmr").
		Select("wmr.*, ct.id AS chain_task_id, ct.source_branch AS chain_source, ct.target_branch AS chain_target").
		Joins("LEFT JOIN chainmr__step cs ON cs.watch_mr_id = wmr.id").
		Joins("LEFT JOIN chainmr__task ct ON ct.id = cs.task_id").
		Where("wmr.status = ?", string(models.MergeRequestOpened)).
		Order("wmr.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, db.StorageError("watch: open merge requests", err)
	}

	out := make([]OpenMergeRequest, 0, len(rows))
	for _, r := range rows {
		omr := OpenMergeRequest{WatchedMergeRequest: r.WatchedMergeRequest}
		if r.ChainTaskID != nil {
			omr.Chain = &ChainContext{TaskID: *r.ChainTaskID}
			if r.ChainSource != nil {
				omr.Chain.SourceBranch = *r.ChainSource
			}
			if r.ChainTarget != nil {
				omr.Chain.TargetBranch = *r.ChainTarget
			}
		}
		out = append(out, omr)
	}
	return out, nil
}

// UpdateMergeRequestState persists the state and conflict flag read from the
// remote. A non-empty mergeSHA is stored as the merge commit.
func UpdateMergeRequestState(gdb *gorm.DB, id uint, state string, hasConflicts bool, mergeSHA string) error {
	updates := map[string]interface{}{
		"status":        state,
		"has_conflicts": hasConflicts,
	}
	if mergeSHA != "" {
		updates["merge_commit_sha"] = mergeSHA
	}
	result := gdb.Model(&models.WatchedMergeRequest{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return db.StorageError(fmt.Sprintf("watch: update merge request %d", id), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: merge request %d", ErrNotFound, id)
	}
	return nil
}

// MarkMerged records that the merge request was merged into sha.
func MarkMerged(gdb *gorm.DB, id uint, sha string) error {
	updates := map[string]interface{}{
		"status":       string(models.MergeRequestMerged),
		"fail_message": nil,
	}
	if sha != "" {
		updates["merge_commit_sha"] = sha
	}
	result := gdb.Model(&models.WatchedMergeRequest{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return db.StorageError(fmt.Sprintf("watch: mark merge request %d merged", id), result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: merge request %d", ErrNotFound, id)
	}
	return nil
}

// SetMergeRequestFailMessage records the last merge failure. The status is
// left untouched.
func SetMergeRequestFailMessage(gdb *gorm.DB, id uint, msg string) error {
	if err := gdb.Model(&models.WatchedMergeRequest{}).Where("id = ?", id).
		Update("fail_message", msg).Error; err != nil {
		return db.StorageError(fmt.Sprintf("watch: set fail message on %d", id), err)
	}
	return nil
}

// MergedWithoutPipeline returns merged watches that asked for their merge
// commit's pipeline to be tracked and have no pipeline row for it yet.
func MergedWithoutPipeline(gdb *gorm.DB) ([]models.WatchedMergeRequest, error) {
	var mrs []models.WatchedMergeRequest
	err := gdb.Where("status = ? AND watch_pipline_after_merge = ?", string(models.MergeRequestMerged), true).
		Where("merge_commit_sha IS NOT NULL AND merge_commit_sha <> ''").
		Where("NOT EXISTS (SELECT 1 FROM watch__piplines wp WHERE wp.sha = watch__mr.merge_commit_sha AND wp.project_id = watch__mr.project_id)").
		Order("id ASC").
		Find(&mrs).Error
	if err != nil {
		return nil, db.StorageError("watch: merged without pipeline", err)
	}
	return mrs, nil
}
