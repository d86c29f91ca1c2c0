package models

// ChainTask is one logical branch promotion made of ordered merge steps,
// e.g. feature -> staging -> main.
type ChainTask struct {
	ID                         uint    `gorm:"primaryKey;autoIncrement"`
	ProjectID                  int64   `gorm:"not null"`
	Status                     string  `gorm:"size:20;not null;index"`
	SourceBranch               string  `gorm:"size:128;not null"`
	TargetBranch               string  `gorm:"size:128;not null"`
	FailMessage                *string `gorm:"type:text"`
	WatchPipelineAfterComplete bool    `gorm:"column:watch_pipline_after_complete;default:false"`
	WatchPipelineID            *uint   `gorm:"column:watch_pipline_id"`

	Steps []ChainStep `gorm:"foreignKey:TaskID"`
}

// TableName keeps the table name used by existing databases.
func (ChainTask) TableName() string { return "chainmr__task" }

// ChainStatus returns the parsed task status.
func (t ChainTask) ChainStatus() ChainStatus { return ParseChainStatus(t.Status) }

// Pipeline returns the post-merge pipeline link.
func (t ChainTask) Pipeline() Link { return LinkOf(t.WatchPipelineID) }

// ChainStep is one merge within a chain task. StepNumber is 1-based.
type ChainStep struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"`
	TaskID       uint    `gorm:"not null;index"`
	StepNumber   int     `gorm:"not null;default:0"`
	Status       string  `gorm:"size:20;not null"`
	SourceBranch string  `gorm:"size:128;not null"`
	TargetBranch string  `gorm:"size:128;not null"`
	WatchMRID    *uint   `gorm:"column:watch_mr_id"`
	FailMessage  *string `gorm:"type:text"`
}

// TableName keeps the table name used by existing databases.
func (ChainStep) TableName() string { return "chainmr__step" }

// ChainStatus returns the parsed step status.
func (s ChainStep) ChainStatus() ChainStatus { return ParseChainStatus(s.Status) }

// MergeRequest returns the link to the step's watched merge request.
func (s ChainStep) MergeRequest() Link { return LinkOf(s.WatchMRID) }
