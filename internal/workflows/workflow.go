// Package workflows implements the renewal workflow domain: the durable
// aggregate of analysis lanes, their approval state, and the decisions
// applied to them. All lane transitions are compare-and-set operations
// against the lane's current status and attempt so that a late or duplicate
// input can never corrupt state.
package workflows

import (
	"time"

	"github.com/google/uuid"
)

// Workflow represents one renewal review run, keyed by borrower and sector.
// Synthesized is the one-way latch released when every lane is approved.
type Workflow struct {
	ID          uuid.UUID      `json:"id"`
	BorrowerID  string         `json:"borrower_id"`
	Sector      string         `json:"sector"`
	Status      WorkflowStatus `json:"status"`
	Synthesized bool           `json:"synthesized"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Lane is one analysis track within a workflow. CurrentAttemptID identifies
// the run whose output is pending review; a Decision must name it to be
// accepted. LatestAnalysis is set whenever Status is AwaitingApproval or
// Approved.
type Lane struct {
	WorkflowID       uuid.UUID  `json:"workflow_id"`
	ID               string     `json:"id"`
	Position         int        `json:"position"`
	Status           LaneStatus `json:"status"`
	CurrentPrompt    string     `json:"current_prompt"`
	LatestAnalysis   *string    `json:"latest_analysis,omitempty"`
	AttemptCount     int        `json:"attempt_count"`
	CurrentAttemptID *uuid.UUID `json:"current_attempt_id,omitempty"`
	Failure          *string    `json:"failure,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Decision records one reviewer verdict for a specific lane attempt.
type Decision struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	LaneID     string    `json:"lane_id"`
	AttemptID  uuid.UUID `json:"attempt_id"`
	Approved   bool      `json:"approved"`
	DecidedAt  time.Time `json:"decided_at"`
}

// LaneSeed declares a lane at workflow creation. Slice order fixes the
// lane order for the life of the workflow.
type LaneSeed struct {
	ID     string
	Prompt string
}

// CreateCommand carries the data needed to create a new workflow with its lanes.
type CreateCommand struct {
	BorrowerID string
	Sector     string
	Lanes      []LaneSeed
}

// ApprovedPack pairs a lane with its final approved analysis, in lane order.
type ApprovedPack struct {
	LaneID   string `json:"lane_id"`
	Analysis string `json:"analysis"`
}
