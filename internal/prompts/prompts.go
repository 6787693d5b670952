package prompts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/renewals/pkg/pagination"
)

// StageSynthesis is the reserved stage for memo composition. Every other
// stage name is a lane identifier.
const StageSynthesis = "synthesis"

// Prompt is a stored template override for a stage. At most one prompt per
// stage is active; inactive prompts are kept for review and reactivation.
type Prompt struct {
	ID        uuid.UUID `json:"id"`
	Stage     string    `json:"stage"`
	Template  string    `json:"template"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateCommand struct {
	Stage    string `json:"stage"`
	Template string `json:"template"`
}

type UpdateCommand struct {
	Template string `json:"template"`
}

type System interface {
	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Prompt], error)
	Find(ctx context.Context, id uuid.UUID) (*Prompt, error)
	ActiveForStage(ctx context.Context, stage string) (*Prompt, error)
	Create(ctx context.Context, cmd CreateCommand) (*Prompt, error)
	Update(ctx context.Context, id uuid.UUID, cmd UpdateCommand) (*Prompt, error)
	Activate(ctx context.Context, id uuid.UUID) (*Prompt, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*Prompt, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
