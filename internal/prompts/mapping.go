package prompts

import (
	"net/url"
	"strconv"

	"github.com/crestline/renewals/pkg/query"
	"github.com/crestline/renewals/pkg/repository"
)

var projection = query.NewProjectionMap("public", "prompts", "p").
	Project("id", "ID").
	Project("stage", "Stage").
	Project("template", "Template").
	Project("active", "Active").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = []query.SortField{
	{Field: "Stage"},
	{Field: "CreatedAt", Descending: true},
}

type Filters struct {
	Stage  *string `json:"stage,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

func (f Filters) Apply(qb *query.Builder) {
	qb.WhereEquals("Stage", f.Stage)
	qb.WhereEquals("Active", f.Active)
}

func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if v := values.Get("stage"); v != "" {
		f.Stage = &v
	}

	if v := values.Get("active"); v != "" {
		if active, err := strconv.ParseBool(v); err == nil {
			f.Active = &active
		}
	}

	return f
}

func scanPrompt(s repository.Scanner) (Prompt, error) {
	var p Prompt
	err := s.Scan(&p.ID, &p.Stage, &p.Template, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
