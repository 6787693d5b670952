package synthesis

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crestline/renewals/pkg/repository"
)

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:     db,
		logger: logger.With("system", "synthesis"),
	}
}

func (r *repo) Memo(ctx context.Context, workflowID uuid.UUID) (*Memo, error) {
	q := `
		SELECT workflow_id, content, created_at
		FROM syntheses
		WHERE workflow_id = $1`

	m, err := repository.QueryOne(ctx, r.db, q, []any{workflowID}, scanMemo)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &m, nil
}

func (r *repo) Save(ctx context.Context, workflowID uuid.UUID, content string) (*Memo, error) {
	q := `
		INSERT INTO syntheses(workflow_id, content)
		VALUES ($1, $2)
		RETURNING workflow_id, content, created_at`

	m, err := repository.QueryOne(ctx, r.db, q, []any{workflowID, content}, scanMemo)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("memo saved", "workflow_id", workflowID, "bytes", len(content))
	return &m, nil
}

func scanMemo(s repository.Scanner) (Memo, error) {
	var m Memo
	err := s.Scan(&m.WorkflowID, &m.Content, &m.CreatedAt)
	return m, err
}
