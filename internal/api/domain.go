package api

import (
	"github.com/crestline/renewals/internal/collections"
	"github.com/crestline/renewals/internal/engine"
	"github.com/crestline/renewals/internal/prompts"
	"github.com/crestline/renewals/internal/synthesis"
	"github.com/crestline/renewals/internal/workflows"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Workflows   workflows.System
	Prompts     prompts.System
	Synthesis   synthesis.System
	Collections collections.System
	Engine      *engine.Engine
}

// NewDomain creates all domain systems from the API runtime and registers
// the engine with the lifecycle coordinator so interrupted workflows resume
// on startup.
func NewDomain(runtime *Runtime) (*Domain, error) {
	db := runtime.Database.Connection()

	workflowSystem := workflows.New(db, runtime.Logger, runtime.Pagination)
	promptSystem := prompts.New(db, runtime.Logger, runtime.Pagination)
	synthesisSystem := synthesis.New(db, runtime.Logger)

	collectionSystem := collections.New(
		runtime.Storage,
		runtime.Config.Collections,
		runtime.Logger,
	)

	eng := engine.New(
		workflowSystem,
		synthesisSystem,
		engine.NewAgentProvider(runtime.Config.Agent),
		collectionSystem,
		prompts.NewBuilder(promptSystem, runtime.Logger),
		nil,
		runtime.Config.Workflow,
		runtime.Logger,
	)

	if err := eng.Start(runtime.Lifecycle); err != nil {
		return nil, err
	}

	return &Domain{
		Workflows:   workflowSystem,
		Prompts:     promptSystem,
		Synthesis:   synthesisSystem,
		Collections: collectionSystem,
		Engine:      eng,
	}, nil
}
