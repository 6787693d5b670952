package prompts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/crestline/renewals/pkg/pagination"
	"github.com/crestline/renewals/pkg/query"
	"github.com/crestline/renewals/pkg/repository"
)

const promptColumns = "id, stage, template, active, created_at, updated_at"

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

func New(
	db *sql.DB,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "prompts"),
		pagination: pagination,
	}
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Prompt], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort...).
		WhereSearch(page.Search, "Stage", "Template")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count prompts: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	items, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanPrompt)
	if err != nil {
		return nil, fmt.Errorf("query prompts: %w", err)
	}

	result := pagination.NewPageResult(items, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	p, err := repository.QueryOne(ctx, r.db, q, args, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) ActiveForStage(ctx context.Context, stage string) (*Prompt, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM prompts
		WHERE stage = $1 AND active = TRUE`, promptColumns)

	p, err := repository.QueryOne(ctx, r.db, q, []any{stage}, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Prompt, error) {
	if strings.TrimSpace(cmd.Stage) == "" {
		return nil, ErrEmptyStage
	}
	if strings.TrimSpace(cmd.Template) == "" {
		return nil, ErrEmptyTemplate
	}

	q := fmt.Sprintf(`
		INSERT INTO prompts(id, stage, template)
		VALUES ($1, $2, $3)
		RETURNING %s`, promptColumns)

	p, err := repository.QueryOne(ctx, r.db, q, []any{uuid.New(), cmd.Stage, cmd.Template}, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("prompt created", "id", p.ID, "stage", p.Stage)
	return &p, nil
}

func (r *repo) Update(ctx context.Context, id uuid.UUID, cmd UpdateCommand) (*Prompt, error) {
	if strings.TrimSpace(cmd.Template) == "" {
		return nil, ErrEmptyTemplate
	}

	q := fmt.Sprintf(`
		UPDATE prompts SET
			template = $1,
			updated_at = now()
		WHERE id = $2
		RETURNING %s`, promptColumns)

	p, err := repository.QueryOne(ctx, r.db, q, []any{cmd.Template, id}, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) Activate(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	// Activation swaps within the stage so at most one prompt stays active.
	clear := `
		UPDATE prompts SET active = FALSE, updated_at = now()
		WHERE active = TRUE
			AND stage = (SELECT stage FROM prompts WHERE id = $1)`

	activate := fmt.Sprintf(`
		UPDATE prompts SET active = TRUE, updated_at = now()
		WHERE id = $1
		RETURNING %s`, promptColumns)

	p, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Prompt, error) {
		if _, err := tx.ExecContext(ctx, clear, id); err != nil {
			return Prompt{}, err
		}
		return repository.QueryOne(ctx, tx, activate, []any{id}, scanPrompt)
	})

	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("prompt activated", "id", p.ID, "stage", p.Stage)
	return &p, nil
}

func (r *repo) Deactivate(ctx context.Context, id uuid.UUID) (*Prompt, error) {
	q := fmt.Sprintf(`
		UPDATE prompts SET active = FALSE, updated_at = now()
		WHERE id = $1
		RETURNING %s`, promptColumns)

	p, err := repository.QueryOne(ctx, r.db, q, []any{id}, scanPrompt)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &p, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	if err := repository.ExecExpectOne(ctx, r.db, "DELETE FROM prompts WHERE id = $1", id); err != nil {
		return repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return nil
}
