package engine

import (
	"log/slog"

	"github.com/crestline/renewals/internal/workflows"
)

// Events receives workflow notifications at the points where a human or an
// external channel needs to act: a lane waiting on a decision, a lane that
// can make no further progress, and a completed memo.
type Events interface {
	LaneAwaiting(flow workflows.Workflow, lane workflows.Lane)
	LaneFailed(flow workflows.Workflow, lane workflows.Lane)
	LaneExhausted(flow workflows.Workflow, lane workflows.Lane)
	MemoReady(flow workflows.Workflow)
}

// LogEvents is the default Events sink, emitting structured log records for
// each notification.
type LogEvents struct {
	Logger *slog.Logger
}

func NewLogEvents(logger *slog.Logger) *LogEvents {
	return &LogEvents{Logger: logger.With("system", "events")}
}

func (e *LogEvents) LaneAwaiting(flow workflows.Workflow, lane workflows.Lane) {
	e.Logger.Info(
		"lane awaiting approval",
		"workflow_id", flow.ID,
		"borrower_id", flow.BorrowerID,
		"lane", lane.ID,
		"attempt", lane.AttemptCount,
	)
}

func (e *LogEvents) LaneFailed(flow workflows.Workflow, lane workflows.Lane) {
	failure := ""
	if lane.Failure != nil {
		failure = *lane.Failure
	}

	e.Logger.Error(
		"lane failed",
		"workflow_id", flow.ID,
		"borrower_id", flow.BorrowerID,
		"lane", lane.ID,
		"attempt", lane.AttemptCount,
		"failure", failure,
	)
}

func (e *LogEvents) LaneExhausted(flow workflows.Workflow, lane workflows.Lane) {
	e.Logger.Warn(
		"lane exhausted",
		"workflow_id", flow.ID,
		"borrower_id", flow.BorrowerID,
		"lane", lane.ID,
		"attempts", lane.AttemptCount,
	)
}

func (e *LogEvents) MemoReady(flow workflows.Workflow) {
	e.Logger.Info(
		"credit memo ready",
		"workflow_id", flow.ID,
		"borrower_id", flow.BorrowerID,
		"sector", flow.Sector,
	)
}
