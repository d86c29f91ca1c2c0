package watch

import (
	"context"
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/remote"
	"gorm.io/gorm"
)

// RegisterPipeline looks the pipeline up on the remote and starts watching
// it with the remote's current status, commit and URL.
func RegisterPipeline(ctx context.Context, gdb *gorm.DB, rc remote.Client, projectID, pipelineID int64, notifyOnEnd bool) (*models.WatchedPipeline, error) {
	p, err := rc.GetPipeline(ctx, projectID, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("watch: look up pipeline #%d: %w", pipelineID, err)
	}
	return CreatePipeline(gdb, CreatePipelineOpts{
		RemoteID:    pipelineID,
		ProjectID:   projectID,
		WebURL:      p.WebURL,
		Status:      string(p.Status),
		SHA:         p.SHA,
		NotifyOnEnd: notifyOnEnd,
	})
}

// RegisterMergeRequest looks the merge request up on the remote and starts
// watching it. Only RemoteID, ProjectID and the flags of opts are used; the
// URL and state come from the remote.
func RegisterMergeRequest(ctx context.Context, gdb *gorm.DB, rc remote.Client, opts CreateMergeRequestOpts) (*models.WatchedMergeRequest, error) {
	mr, err := rc.GetMergeRequest(ctx, opts.ProjectID, opts.RemoteID)
	if err != nil {
		return nil, fmt.Errorf("watch: look up merge request !%d: %w", opts.RemoteID, err)
	}
	opts.WebURL = mr.WebURL
	opts.Status = string(mr.State)
	return CreateMergeRequest(gdb, opts)
}
