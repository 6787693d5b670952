package workflows

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crestline/renewals/pkg/pagination"
	"github.com/crestline/renewals/pkg/query"
	"github.com/crestline/renewals/pkg/repository"
)

const laneColumns = `workflow_id, id, position, status, current_prompt,
		latest_analysis, attempt_count, current_attempt_id, failure, updated_at`

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates a workflow repository implementing the System interface.
func New(
	db *sql.DB,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "workflows"),
		pagination: pagination,
	}
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Workflow], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "BorrowerID", "Sector")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count workflows: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	flows, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}

	result := pagination.NewPageResult(flows, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Workflow, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	w, err := repository.QueryOne(ctx, r.db, q, args, scanWorkflow)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &w, nil
}

func (r *repo) FindByIdentity(ctx context.Context, borrowerID, sector string) (*Workflow, error) {
	q := `
		SELECT id, borrower_id, sector, status, synthesized, created_at, updated_at
		FROM workflows
		WHERE borrower_id = $1 AND sector = $2 AND status = $3`

	w, err := repository.QueryOne(ctx, r.db, q, []any{borrowerID, sector, WorkflowActive}, scanWorkflow)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &w, nil
}

func (r *repo) Active(ctx context.Context) ([]Workflow, error) {
	q := `
		SELECT id, borrower_id, sector, status, synthesized, created_at, updated_at
		FROM workflows
		WHERE status = $1
		ORDER BY created_at`

	flows, err := repository.QueryMany(ctx, r.db, q, []any{WorkflowActive}, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("query active workflows: %w", err)
	}
	return flows, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Workflow, error) {
	if len(cmd.Lanes) == 0 {
		return nil, ErrNoLanes
	}

	insertWorkflow := `
		INSERT INTO workflows(id, borrower_id, sector)
		VALUES ($1, $2, $3)
		RETURNING id, borrower_id, sector, status, synthesized, created_at, updated_at`

	insertLane := `
		INSERT INTO lanes(workflow_id, id, position, status, current_prompt)
		VALUES ($1, $2, $3, $4, $5)`

	id := uuid.New()

	w, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Workflow, error) {
		w, err := repository.QueryOne(ctx, tx, insertWorkflow, []any{id, cmd.BorrowerID, cmd.Sector}, scanWorkflow)
		if err != nil {
			return Workflow{}, err
		}

		for i, seed := range cmd.Lanes {
			if _, err := tx.ExecContext(ctx, insertLane, id, seed.ID, i, LanePending, seed.Prompt); err != nil {
				return Workflow{}, err
			}
		}

		return w, nil
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info(
		"workflow created",
		"id", w.ID,
		"borrower_id", w.BorrowerID,
		"sector", w.Sector,
		"lanes", len(cmd.Lanes),
	)
	return &w, nil
}

func (r *repo) Lanes(ctx context.Context, workflowID uuid.UUID) ([]Lane, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM lanes
		WHERE workflow_id = $1
		ORDER BY position`, laneColumns)

	lanes, err := repository.QueryMany(ctx, r.db, q, []any{workflowID}, scanLane)
	if err != nil {
		return nil, fmt.Errorf("query lanes: %w", err)
	}
	if len(lanes) == 0 {
		if _, err := r.Find(ctx, workflowID); err != nil {
			return nil, err
		}
	}
	return lanes, nil
}

func (r *repo) Lane(ctx context.Context, workflowID uuid.UUID, laneID string) (*Lane, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM lanes
		WHERE workflow_id = $1 AND id = $2`, laneColumns)

	l, err := repository.QueryOne(ctx, r.db, q, []any{workflowID, laneID}, scanLane)
	if err != nil {
		return nil, repository.MapError(err, ErrLaneNotFound, ErrDuplicate)
	}
	return &l, nil
}

func (r *repo) Decisions(ctx context.Context, workflowID uuid.UUID) ([]Decision, error) {
	q := `
		SELECT workflow_id, lane_id, attempt_id, approved, decided_at
		FROM decisions
		WHERE workflow_id = $1
		ORDER BY decided_at`

	decisions, err := repository.QueryMany(ctx, r.db, q, []any{workflowID}, scanDecision)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	return decisions, nil
}

func (r *repo) BeginAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID) (*Lane, error) {
	q := fmt.Sprintf(`
		UPDATE lanes SET
			status = $1,
			current_attempt_id = $2,
			attempt_count = attempt_count + 1,
			failure = NULL,
			updated_at = now()
		WHERE workflow_id = $3 AND id = $4
			AND status IN ($5, $6)
			AND EXISTS (
				SELECT 1 FROM workflows w
				WHERE w.id = $3 AND w.status = $7
			)
		RETURNING %s`, laneColumns)

	args := []any{LaneRunning, attemptID, workflowID, laneID, LanePending, LaneRunning, WorkflowActive}

	return r.transition(ctx, workflowID, laneID, q, args)
}

func (r *repo) CompleteAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, analysis string) (*Lane, error) {
	q := fmt.Sprintf(`
		UPDATE lanes SET
			status = $1,
			latest_analysis = $2,
			updated_at = now()
		WHERE workflow_id = $3 AND id = $4
			AND status = $5 AND current_attempt_id = $6
		RETURNING %s`, laneColumns)

	args := []any{LaneAwaitingApproval, analysis, workflowID, laneID, LaneRunning, attemptID}

	return r.transition(ctx, workflowID, laneID, q, args)
}

func (r *repo) FailAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, failure string) (*Lane, error) {
	q := fmt.Sprintf(`
		UPDATE lanes SET
			status = $1,
			failure = $2,
			updated_at = now()
		WHERE workflow_id = $3 AND id = $4
			AND status = $5 AND current_attempt_id = $6
		RETURNING %s`, laneColumns)

	args := []any{LaneFailed, failure, workflowID, laneID, LaneRunning, attemptID}

	return r.transition(ctx, workflowID, laneID, q, args)
}

func (r *repo) ApproveAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID) (*Lane, error) {
	update := fmt.Sprintf(`
		UPDATE lanes SET
			status = $1,
			updated_at = now()
		WHERE workflow_id = $2 AND id = $3
			AND status = $4 AND current_attempt_id = $5
		RETURNING %s`, laneColumns)

	args := []any{LaneApproved, workflowID, laneID, LaneAwaitingApproval, attemptID}

	l, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Lane, error) {
		l, err := repository.QueryOne(ctx, tx, update, args, scanLane)
		if err != nil {
			return Lane{}, err
		}
		return l, r.recordDecision(ctx, tx, workflowID, laneID, attemptID, true)
	})

	if err != nil {
		return nil, r.classifyDecisionError(ctx, workflowID, laneID, err)
	}

	r.logger.Info("lane approved", "workflow_id", workflowID, "lane", laneID, "attempt", l.AttemptCount)
	return &l, nil
}

func (r *repo) RejectAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, rerunPrompt string, maxAttempts int) (*Lane, error) {
	// A lane at its attempt limit parks in Exhausted instead of cycling
	// back to Pending; its prompt is left untouched for diagnosis.
	update := fmt.Sprintf(`
		UPDATE lanes SET
			status = CASE WHEN attempt_count >= $1 THEN $2::text ELSE $3::text END,
			current_prompt = CASE WHEN attempt_count >= $1 THEN current_prompt ELSE $4 END,
			updated_at = now()
		WHERE workflow_id = $5 AND id = $6
			AND status = $7 AND current_attempt_id = $8
		RETURNING %s`, laneColumns)

	args := []any{
		maxAttempts, LaneExhausted, LanePending, rerunPrompt,
		workflowID, laneID, LaneAwaitingApproval, attemptID,
	}

	l, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Lane, error) {
		l, err := repository.QueryOne(ctx, tx, update, args, scanLane)
		if err != nil {
			return Lane{}, err
		}
		return l, r.recordDecision(ctx, tx, workflowID, laneID, attemptID, false)
	})

	if err != nil {
		return nil, r.classifyDecisionError(ctx, workflowID, laneID, err)
	}

	r.logger.Info(
		"lane rejected",
		"workflow_id", workflowID,
		"lane", laneID,
		"attempt", l.AttemptCount,
		"status", l.Status,
	)
	return &l, nil
}

func (r *repo) ResetLane(ctx context.Context, workflowID uuid.UUID, laneID string, prompt string) (*Lane, error) {
	q := fmt.Sprintf(`
		UPDATE lanes SET
			status = $1,
			current_prompt = $2,
			failure = NULL,
			updated_at = now()
		WHERE workflow_id = $3 AND id = $4
			AND status IN ($5, $6)
			AND EXISTS (
				SELECT 1 FROM workflows w
				WHERE w.id = $3 AND w.status = $7
			)
		RETURNING %s`, laneColumns)

	args := []any{LanePending, prompt, workflowID, laneID, LaneFailed, LaneExhausted, WorkflowActive}

	l, err := r.transition(ctx, workflowID, laneID, q, args)
	if err != nil {
		return nil, err
	}

	r.logger.Info("lane reset", "workflow_id", workflowID, "lane", laneID)
	return l, nil
}

func (r *repo) MarkSynthesized(ctx context.Context, workflowID uuid.UUID) (bool, error) {
	// The single serialization point for the barrier: exactly one caller
	// can flip the latch, and only while every lane is approved.
	q := `
		UPDATE workflows SET
			synthesized = TRUE,
			status = $1,
			updated_at = now()
		WHERE id = $2
			AND status = $3
			AND synthesized = FALSE
			AND NOT EXISTS (
				SELECT 1 FROM lanes l
				WHERE l.workflow_id = $2 AND l.status <> $4
			)`

	result, err := r.db.ExecContext(ctx, q, WorkflowSynthesized, workflowID, WorkflowActive, LaneApproved)
	if err != nil {
		return false, fmt.Errorf("mark synthesized: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if rows == 1 {
		r.logger.Info("workflow synthesized", "workflow_id", workflowID)
	}
	return rows == 1, nil
}

func (r *repo) PendingSyntheses(ctx context.Context) ([]Workflow, error) {
	q := `
		SELECT id, borrower_id, sector, status, synthesized, created_at, updated_at
		FROM workflows w
		WHERE status = $1
			AND NOT EXISTS (
				SELECT 1 FROM syntheses s WHERE s.workflow_id = w.id
			)
		ORDER BY created_at`

	flows, err := repository.QueryMany(ctx, r.db, q, []any{WorkflowSynthesized}, scanWorkflow)
	if err != nil {
		return nil, fmt.Errorf("query pending syntheses: %w", err)
	}
	return flows, nil
}

func (r *repo) ApprovedPacks(ctx context.Context, workflowID uuid.UUID) ([]ApprovedPack, error) {
	q := `
		SELECT id, latest_analysis
		FROM lanes
		WHERE workflow_id = $1 AND status = $2
		ORDER BY position`

	packs, err := repository.QueryMany(ctx, r.db, q, []any{workflowID, LaneApproved},
		func(s repository.Scanner) (ApprovedPack, error) {
			var p ApprovedPack
			err := s.Scan(&p.LaneID, &p.Analysis)
			return p, err
		})
	if err != nil {
		return nil, fmt.Errorf("query approved packs: %w", err)
	}
	return packs, nil
}

func (r *repo) Abandon(ctx context.Context, workflowID uuid.UUID) (*Workflow, error) {
	q := `
		UPDATE workflows SET
			status = $1,
			updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING id, borrower_id, sector, status, synthesized, created_at, updated_at`

	w, err := repository.QueryOne(ctx, r.db, q, []any{WorkflowAbandoned, workflowID, WorkflowActive}, scanWorkflow)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, findErr := r.Find(ctx, workflowID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrNotActive
		}
		return nil, err
	}

	r.logger.Info("workflow abandoned", "workflow_id", workflowID)
	return &w, nil
}

func (r *repo) recordDecision(ctx context.Context, tx *sql.Tx, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, approved bool) error {
	q := `
		INSERT INTO decisions(workflow_id, lane_id, attempt_id, approved)
		VALUES ($1, $2, $3, $4)`

	_, err := tx.ExecContext(ctx, q, workflowID, laneID, attemptID, approved)
	return err
}

// transition runs a CAS update and maps a zero-row result to ErrLaneNotFound
// or ErrLaneConflict depending on whether the lane exists at all.
func (r *repo) transition(ctx context.Context, workflowID uuid.UUID, laneID, q string, args []any) (*Lane, error) {
	l, err := repository.QueryOne(ctx, r.db, q, args, scanLane)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, findErr := r.Lane(ctx, workflowID, laneID); findErr != nil {
				return nil, findErr
			}
			return nil, ErrLaneConflict
		}
		return nil, err
	}
	return &l, nil
}

// classifyDecisionError distinguishes an unknown lane from a decision that
// lost the attempt race.
func (r *repo) classifyDecisionError(ctx context.Context, workflowID uuid.UUID, laneID string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		if _, findErr := r.Lane(ctx, workflowID, laneID); findErr != nil {
			return findErr
		}
		return ErrStaleDecision
	}
	return err
}
