package synthesis

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Memo is the credit memo produced once every lane of a workflow has been
// approved. One memo exists per synthesized workflow.
type Memo struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

type System interface {
	Memo(ctx context.Context, workflowID uuid.UUID) (*Memo, error)
	Save(ctx context.Context, workflowID uuid.UUID, content string) (*Memo, error)
}
