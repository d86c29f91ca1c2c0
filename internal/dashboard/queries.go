package dashboard

import (
	"github.com/zulandar/signalbox/internal/models"
)

// PipelineRow is the API view of a watched pipeline.
type PipelineRow struct {
	ID          uint   `json:"id"`
	PipelineID  int64  `json:"pipeline_id"`
	ProjectID   int64  `json:"project_id"`
	Status      string `json:"status"`
	SHA         string `json:"sha,omitempty"`
	WebURL      string `json:"web_url"`
	NotifyOnEnd bool   `json:"notify_on_end"`
	FailMessage string `json:"fail_message,omitempty"`
}

// MergeRequestRow is the API view of a watched merge request.
type MergeRequestRow struct {
	ID                      uint   `json:"id"`
	MRID                    int64  `json:"mr_id"`
	ProjectID               int64  `json:"project_id"`
	Status                  string `json:"status"`
	HasConflicts            bool   `json:"has_conflicts"`
	MergeCommitSHA          string `json:"merge_commit_sha,omitempty"`
	WebURL                  string `json:"web_url"`
	AutoMerge               bool   `json:"auto_merge"`
	NotifyOnEnd             bool   `json:"notify_on_end"`
	WatchPipelineAfterMerge bool   `json:"watch_pipeline_after_merge"`
	FailMessage             string `json:"fail_message,omitempty"`
}

// ChainStepRow is the API view of one chain step.
type ChainStepRow struct {
	Step           int    `json:"step"`
	Status         string `json:"status"`
	SourceBranch   string `json:"source_branch"`
	TargetBranch   string `json:"target_branch"`
	MergeRequestID *uint  `json:"watch_mr_id,omitempty"`
	FailMessage    string `json:"fail_message,omitempty"`
}

// ChainRow is the API view of a chain task.
type ChainRow struct {
	ID                         uint           `json:"id"`
	ProjectID                  int64          `json:"project_id"`
	Status                     string         `json:"status"`
	SourceBranch               string         `json:"source_branch"`
	TargetBranch               string         `json:"target_branch"`
	WatchPipelineAfterComplete bool           `json:"watch_pipeline_after_complete"`
	PipelineID                 *uint          `json:"watch_pipeline_id,omitempty"`
	FailMessage                string         `json:"fail_message,omitempty"`
	Steps                      []ChainStepRow `json:"steps"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pipelineRow(p models.WatchedPipeline) PipelineRow {
	return PipelineRow{
		ID:          p.ID,
		PipelineID:  p.RemoteID,
		ProjectID:   p.ProjectID,
		Status:      p.Status,
		SHA:         deref(p.SHA),
		WebURL:      p.WebURL,
		NotifyOnEnd: p.NotifyOnEnd,
		FailMessage: deref(p.FailMessage),
	}
}

func pipelineRows(ps []models.WatchedPipeline) []PipelineRow {
	rows := make([]PipelineRow, len(ps))
	for i, p := range ps {
		rows[i] = pipelineRow(p)
	}
	return rows
}

func mergeRequestRow(m models.WatchedMergeRequest) MergeRequestRow {
	return MergeRequestRow{
		ID:                      m.ID,
		MRID:                    m.RemoteID,
		ProjectID:               m.ProjectID,
		Status:                  m.Status,
		HasConflicts:            m.HasConflicts,
		MergeCommitSHA:          deref(m.MergeCommitSHA),
		WebURL:                  m.WebURL,
		AutoMerge:               m.AutoMerge,
		NotifyOnEnd:             m.NotifyOnEnd,
		WatchPipelineAfterMerge: m.WatchPipelineAfterMerge,
		FailMessage:             deref(m.FailMessage),
	}
}

func mergeRequestRows(ms []models.WatchedMergeRequest) []MergeRequestRow {
	rows := make([]MergeRequestRow, len(ms))
	for i, m := range ms {
		rows[i] = mergeRequestRow(m)
	}
	return rows
}

func chainRow(t models.ChainTask) ChainRow {
	row := ChainRow{
		ID:                         t.ID,
		ProjectID:                  t.ProjectID,
		Status:                     t.Status,
		SourceBranch:               t.SourceBranch,
		TargetBranch:               t.TargetBranch,
		WatchPipelineAfterComplete: t.WatchPipelineAfterComplete,
		PipelineID:                 t.WatchPipelineID,
		FailMessage:                deref(t.FailMessage),
		Steps:                      make([]ChainStepRow, len(t.Steps)),
	}
	for i, s := range t.Steps {
		row.Steps[i] = ChainStepRow{
			Step:           s.StepNumber,
			Status:         s.Status,
			SourceBranch:   s.SourceBranch,
			TargetBranch:   s.TargetBranch,
			MergeRequestID: s.WatchMRID,
			FailMessage:    deref(s.FailMessage),
		}
	}
	return row
}

func chainRows(ts []models.ChainTask) []ChainRow {
	rows := make([]ChainRow, len(ts))
	for i, t := range ts {
		rows[i] = chainRow(t)
	}
	return rows
}
