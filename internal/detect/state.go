package detect

import "time"

// RunState is a step of the pipeline. A run ends in one of the terminal
// states; Clean reports which of those count as a successful process exit.
type RunState string

const (
	StateInit                RunState = "init"
	StateAuthFailed          RunState = "auth_failed"
	StateMetadataFailed      RunState = "metadata_failed"
	StateTrackingUnavailable RunState = "tracking_unavailable"
	StateStatisticsFailed    RunState = "statistics_failed"
	StateStoreFailed         RunState = "store_failed"
	StateBootstrap           RunState = "bootstrap"
	StateUnknownFields       RunState = "unknown_fields"
	StateQuerying            RunState = "querying"
	StateQueryFailed         RunState = "query_failed"
	StateFormatting          RunState = "formatting"
	StateNotifying           RunState = "notifying"
	StatePersisting          RunState = "persisting"
	StateDone                RunState = "done"
	StateCancelled           RunState = "cancelled"
)

// AllStates lists every state, in pipeline order.
var AllStates = []RunState{
	StateInit, StateAuthFailed, StateMetadataFailed, StateTrackingUnavailable,
	StateStatisticsFailed, StateStoreFailed, StateBootstrap, StateUnknownFields,
	StateQuerying, StateQueryFailed, StateFormatting, StateNotifying, StatePersisting, StateDone,
	StateCancelled,
}

// Clean reports whether a run that stopped in s exits successfully.
func (s RunState) Clean() bool {
	switch s {
	case StateDone, StateBootstrap, StateTrackingUnavailable, StateUnknownFields, StateQueryFailed:
		return true
	default:
		return false
	}
}

// RunResult summarizes one pipeline pass.
type RunResult struct {
	RunID      string
	State      RunState
	StartedAt  time.Time
	FinishedAt time.Time

	Records int
	Sent    int
	Failed  int

	// Before is the watermark read at the start of the run, nil on bootstrap.
	Before *Watermark
	// After is the watermark persisted by the run, nil if none was written.
	After *Watermark

	// Cause is the handled failure that ended the run early, if any.
	Cause error
}
