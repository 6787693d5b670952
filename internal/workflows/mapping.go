package workflows

import (
	"net/url"

	"github.com/crestline/renewals/pkg/query"
	"github.com/crestline/renewals/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "workflows", "w").
	Project("id", "ID").
	Project("borrower_id", "BorrowerID").
	Project("sector", "Sector").
	Project("status", "Status").
	Project("synthesized", "Synthesized").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for workflow queries.
// Nil fields are ignored. Status uses exact matching; BorrowerID and
// Sector use case-insensitive contains matching.
type Filters struct {
	Status     *string `json:"status,omitempty"`
	BorrowerID *string `json:"borrower_id,omitempty"`
	Sector     *string `json:"sector,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereContains("BorrowerID", f.BorrowerID).
		WhereContains("Sector", f.Sector)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}
	if b := values.Get("borrower_id"); b != "" {
		f.BorrowerID = &b
	}
	if s := values.Get("sector"); s != "" {
		f.Sector = &s
	}

	return f
}

func scanWorkflow(s repository.Scanner) (Workflow, error) {
	var w Workflow
	err := s.Scan(
		&w.ID,
		&w.BorrowerID,
		&w.Sector,
		&w.Status,
		&w.Synthesized,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	return w, err
}

func scanLane(s repository.Scanner) (Lane, error) {
	var l Lane
	err := s.Scan(
		&l.WorkflowID,
		&l.ID,
		&l.Position,
		&l.Status,
		&l.CurrentPrompt,
		&l.LatestAnalysis,
		&l.AttemptCount,
		&l.CurrentAttemptID,
		&l.Failure,
		&l.UpdatedAt,
	)
	return l, err
}

func scanDecision(s repository.Scanner) (Decision, error) {
	var d Decision
	err := s.Scan(
		&d.WorkflowID,
		&d.LaneID,
		&d.AttemptID,
		&d.Approved,
		&d.DecidedAt,
	)
	return d, err
}
