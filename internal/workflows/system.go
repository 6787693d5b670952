package workflows

import (
	"context"

	"github.com/google/uuid"

	"github.com/crestline/renewals/pkg/pagination"
)

// System defines the public contract for workflow domain operations.
// All lane transitions are compare-and-set: they succeed only when the lane
// is in the expected state (and, where relevant, the expected attempt),
// which serializes concurrent mutations per lane without any process-level
// locking.
type System interface {
	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Workflow], error)

	Find(ctx context.Context, id uuid.UUID) (*Workflow, error)
	FindByIdentity(ctx context.Context, borrowerID, sector string) (*Workflow, error)
	// Active returns all workflows still accepting lane runs and decisions,
	// used to resume interrupted work on process start.
	Active(ctx context.Context) ([]Workflow, error)
	Create(ctx context.Context, cmd CreateCommand) (*Workflow, error)

	Lanes(ctx context.Context, workflowID uuid.UUID) ([]Lane, error)
	Lane(ctx context.Context, workflowID uuid.UUID, laneID string) (*Lane, error)
	Decisions(ctx context.Context, workflowID uuid.UUID) ([]Decision, error)

	// BeginAttempt transitions a runnable lane of an active workflow to
	// Running under a fresh attempt id and increments its attempt count.
	BeginAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID) (*Lane, error)
	// CompleteAttempt records the produced analysis and transitions
	// Running → AwaitingApproval for the named attempt.
	CompleteAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, analysis string) (*Lane, error)
	// FailAttempt records a terminal provider failure for the named attempt.
	FailAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, failure string) (*Lane, error)

	// ApproveAttempt applies an approving decision to the named attempt.
	// Returns ErrStaleDecision when the attempt is no longer current.
	ApproveAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID) (*Lane, error)
	// RejectAttempt applies a rejecting decision: the lane returns to
	// Pending under rerunPrompt, or to Exhausted when its attempt count
	// has reached maxAttempts. Returns ErrStaleDecision when the attempt
	// is no longer current.
	RejectAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, rerunPrompt string, maxAttempts int) (*Lane, error)
	// ResetLane returns a Failed or Exhausted lane to Pending under a new
	// prompt (manual override).
	ResetLane(ctx context.Context, workflowID uuid.UUID, laneID string, prompt string) (*Lane, error)

	// PendingSyntheses returns synthesized workflows whose memo was never
	// written, so interrupted memo composition is retried on process start.
	PendingSyntheses(ctx context.Context) ([]Workflow, error)
	// MarkSynthesized flips the synthesis latch. It reports true only for
	// the single caller that wins the flip, and only when every lane is
	// Approved.
	MarkSynthesized(ctx context.Context, workflowID uuid.UUID) (bool, error)
	// ApprovedPacks returns the lane → approved analysis mapping in
	// declared lane order.
	ApprovedPacks(ctx context.Context, workflowID uuid.UUID) ([]ApprovedPack, error)

	// Abandon ends an active workflow without synthesis.
	Abandon(ctx context.Context, workflowID uuid.UUID) (*Workflow, error)
}
