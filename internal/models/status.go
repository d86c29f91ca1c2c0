package models

// PipelineStatus is the lifecycle state of a remote CI pipeline.
type PipelineStatus string

const (
	PipelineCreated            PipelineStatus = "created"
	PipelinePending            PipelineStatus = "pending"
	PipelineRunning            PipelineStatus = "running"
	PipelineSuccess            PipelineStatus = "success"
	PipelineFailed             PipelineStatus = "failed"
	PipelineCanceled           PipelineStatus = "canceled"
	PipelineSkipped            PipelineStatus = "skipped"
	PipelineManual             PipelineStatus = "manual"
	PipelineScheduled          PipelineStatus = "scheduled"
	PipelineWaitingForResource PipelineStatus = "waiting_for_resource"
	PipelinePreparing          PipelineStatus = "preparing"

	// PipelineUnknown is any value the remote reports that we don't recognise.
	// It is treated as still in progress.
	PipelineUnknown PipelineStatus = "unknown"
)

var pipelineStatuses = map[string]PipelineStatus{
	"created":              PipelineCreated,
	"pending":              PipelinePending,
	"running":              PipelineRunning,
	"success":              PipelineSuccess,
	"failed":               PipelineFailed,
	"canceled":             PipelineCanceled,
	"skipped":              PipelineSkipped,
	"manual":               PipelineManual,
	"scheduled":            PipelineScheduled,
	"waiting_for_resource": PipelineWaitingForResource,
	"preparing":            PipelinePreparing,
}

// ParsePipelineStatus maps a raw status string to a PipelineStatus.
// Unrecognised values map to PipelineUnknown.
func ParsePipelineStatus(s string) PipelineStatus {
	if st, ok := pipelineStatuses[s]; ok {
		return st
	}
	return PipelineUnknown
}

// IsSuccess reports whether the pipeline finished successfully.
func (s PipelineStatus) IsSuccess() bool {
	return s == PipelineSuccess
}

// IsFailed reports whether the pipeline ended without success.
func (s PipelineStatus) IsFailed() bool {
	return s == PipelineFailed || s == PipelineCanceled || s == PipelineSkipped
}

// IsTerminal reports whether no further transition is expected.
func (s PipelineStatus) IsTerminal() bool {
	return s.IsSuccess() || s.IsFailed()
}

// TerminalPipelineStatuses lists the raw values excluded from reconciliation.
func TerminalPipelineStatuses() []string {
	return []string{
		string(PipelineSuccess),
		string(PipelineFailed),
		string(PipelineCanceled),
		string(PipelineSkipped),
	}
}

// MergeRequestState mirrors the remote merge request state.
type MergeRequestState string

const (
	MergeRequestOpened  MergeRequestState = "opened"
	MergeRequestClosed  MergeRequestState = "closed"
	MergeRequestMerged  MergeRequestState = "merged"
	MergeRequestLocked  MergeRequestState = "locked"
	MergeRequestUnknown MergeRequestState = "unknown"
)

// ParseMergeRequestState maps a raw state string to a MergeRequestState.
func ParseMergeRequestState(s string) MergeRequestState {
	switch MergeRequestState(s) {
	case MergeRequestOpened, MergeRequestClosed, MergeRequestMerged, MergeRequestLocked:
		return MergeRequestState(s)
	default:
		return MergeRequestUnknown
	}
}

// ChainStatus is the lifecycle state shared by chain tasks and chain steps.
type ChainStatus string

const (
	ChainCreated      ChainStatus = "created"
	ChainPending      ChainStatus = "pending"
	ChainSuccess      ChainStatus = "success"
	ChainFailed       ChainStatus = "failed"
	ChainWaitPipeline ChainStatus = "wait_pipeline"
	ChainUnknown      ChainStatus = "unknown"
)

// ParseChainStatus maps a raw status string to a ChainStatus.
func ParseChainStatus(s string) ChainStatus {
	switch ChainStatus(s) {
	case ChainCreated, ChainPending, ChainSuccess, ChainFailed, ChainWaitPipeline:
		return ChainStatus(s)
	default:
		return ChainUnknown
	}
}

// IsTerminal reports whether the chain status admits no further transition.
func (s ChainStatus) IsTerminal() bool {
	return s == ChainSuccess || s == ChainFailed
}
