package models

// WatchedPipeline tracks one remote pipeline until it reaches a terminal status.
type WatchedPipeline struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	RemoteID    int64   `gorm:"column:gl_pipline_id;not null"`
	ProjectID   int64   `gorm:"not null;index:idx_pipeline_project_sha"`
	WebURL      string  `gorm:"type:text;not null"`
	Status      string  `gorm:"size:20;index"`
	FailMessage *string `gorm:"type:text"`
	SHA         *string `gorm:"column:sha;size:64;index:idx_pipeline_project_sha"`
	NotifyOnEnd bool    `gorm:"default:false"`
}

// TableName keeps the table name used by existing databases.
func (WatchedPipeline) TableName() string { return "watch__piplines" }

// PipelineStatus returns the parsed status.
func (p WatchedPipeline) PipelineStatus() PipelineStatus {
	return ParsePipelineStatus(p.Status)
}
