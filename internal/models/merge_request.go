package models

// WatchedMergeRequest tracks one remote merge request under automation.
type WatchedMergeRequest struct {
	ID                      uint    `gorm:"primaryKey;autoIncrement"`
	RemoteID                int64   `gorm:"column:mr_id;not null"`
	ProjectID               int64   `gorm:"not null"`
	WebURL                  string  `gorm:"type:text;not null"`
	Status                  string  `gorm:"size:20;index"`
	HasConflicts            bool    `gorm:"default:false"`
	FailMessage             *string `gorm:"type:text"`
	MergeCommitSHA          *string `gorm:"size:64"`
	NotifyOnEnd             bool    `gorm:"default:false"`
	AutoMerge               bool    `gorm:"default:false"`
	WatchPipelineAfterMerge bool    `gorm:"column:watch_pipline_after_merge;default:false"`
}

// TableName keeps the table name used by existing databases.
func (WatchedMergeRequest) TableName() string { return "watch__mr" }

// State returns the parsed merge request state.
func (m WatchedMergeRequest) State() MergeRequestState {
	return ParseMergeRequestState(m.Status)
}
