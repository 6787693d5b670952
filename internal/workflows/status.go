package workflows

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

// Workflow lifecycle states.
const (
	// WorkflowActive accepts lane runs and decisions.
	WorkflowActive WorkflowStatus = "active"
	// WorkflowSynthesized means the barrier released and the memo consumer ran.
	WorkflowSynthesized WorkflowStatus = "synthesized"
	// WorkflowAbandoned ends the workflow without synthesis.
	WorkflowAbandoned WorkflowStatus = "abandoned"
)

// LaneStatus represents the state of a single analysis lane.
type LaneStatus string

// Lane states. Pending → Running → AwaitingApproval → Approved is the happy
// path; a rejection returns the lane to Pending with a fresh prompt.
const (
	LanePending          LaneStatus = "pending"
	LaneRunning          LaneStatus = "running"
	LaneAwaitingApproval LaneStatus = "awaiting_approval"
	LaneApproved         LaneStatus = "approved"
	// LaneFailed marks a terminal provider failure; it blocks the barrier
	// until a manual retry or workflow abandonment resolves it.
	LaneFailed LaneStatus = "failed"
	// LaneExhausted marks a lane rejected at its attempt limit.
	LaneExhausted LaneStatus = "exhausted"
)

// Terminal reports whether the lane can make no further progress on its own.
func (s LaneStatus) Terminal() bool {
	return s == LaneApproved || s == LaneFailed || s == LaneExhausted
}

// Runnable reports whether the coordinator should schedule a run for the lane.
// Running is included so that runs interrupted by a process restart are
// picked up again on resume.
func (s LaneStatus) Runnable() bool {
	return s == LanePending || s == LaneRunning
}
