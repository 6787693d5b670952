package api

import (
	"net/http"

	"github.com/crestline/renewals/internal/collections"
	"github.com/crestline/renewals/internal/prompts"
	"github.com/crestline/renewals/internal/workflows"
	"github.com/crestline/renewals/pkg/routes"
)

func registerRoutes(mux *http.ServeMux, domain *Domain, runtime *Runtime) {
	workflowHandler := workflows.NewHandler(
		domain.Workflows,
		domain.Engine,
		domain.Synthesis,
		runtime.Logger,
		runtime.Pagination,
	)

	promptHandler := prompts.NewHandler(domain.Prompts, runtime.Logger, runtime.Pagination)

	collectionHandler := collections.NewHandler(
		domain.Collections,
		runtime.Config.Collections,
		runtime.Config.API.MaxUploadSizeBytes(),
		runtime.Logger,
	)

	routes.Register(
		mux,
		workflowHandler.Routes(),
		promptHandler.Routes(),
		collectionHandler.Routes(),
	)
}
