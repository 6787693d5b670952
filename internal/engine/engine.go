// Package engine coordinates lane execution for renewal workflows: it
// launches lanes, routes human decisions into durable state transitions,
// and releases the synthesis barrier once every lane is approved. All
// progress is persisted before any goroutine acts on it, so a process
// restart resumes exactly where the previous run stopped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/crestline/renewals/internal/prompts"
	"github.com/crestline/renewals/internal/synthesis"
	"github.com/crestline/renewals/internal/workflows"
	"github.com/crestline/renewals/pkg/lifecycle"
)

// ContextSource assembles reference material for a lane's collection.
type ContextSource interface {
	Context(ctx context.Context, collection string) (string, error)
}

// Prompts renders stage prompts for lane attempts and memo synthesis.
type Prompts interface {
	Initial(ctx context.Context, lane, borrowerID, sector string) (string, error)
	Rerun(ctx context.Context, lane, borrowerID, sector, rejected string, attempt int) (string, error)
	Synthesis(ctx context.Context, borrowerID, sector string, sections []prompts.Section) (string, error)
}

type Engine struct {
	store    workflows.System
	memos    synthesis.System
	provider Provider
	source   ContextSource
	prompts  Prompts
	events   Events
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	base    context.Context
	runs    map[uuid.UUID]map[uint64]context.CancelFunc
	nextRun uint64
	wg      sync.WaitGroup
}

func New(
	store workflows.System,
	memos synthesis.System,
	provider Provider,
	source ContextSource,
	prompts Prompts,
	events Events,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if events == nil {
		events = NewLogEvents(logger)
	}

	return &Engine{
		store:    store,
		memos:    memos,
		provider: provider,
		source:   source,
		prompts:  prompts,
		events:   events,
		cfg:      cfg,
		logger:   logger.With("system", "engine"),
		base:     context.Background(),
		runs:     make(map[uuid.UUID]map[uint64]context.CancelFunc),
	}
}

// Start binds the engine to the lifecycle coordinator. On startup it resumes
// every active workflow's runnable lanes and retries any memo composition
// interrupted by a previous shutdown; on shutdown it drains in-flight work.
func (e *Engine) Start(lc *lifecycle.Coordinator) error {
	e.mu.Lock()
	e.base = lc.Context()
	e.mu.Unlock()

	lc.OnStartup(func() {
		e.resume(lc.Context())
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()
		e.wg.Wait()
	})

	return nil
}

// Launch creates a workflow with one lane per configured collection and
// starts every lane immediately.
func (e *Engine) Launch(ctx context.Context, borrowerID, sector string) (*workflows.Workflow, error) {
	borrowerID = strings.TrimSpace(borrowerID)
	sector = strings.TrimSpace(sector)

	if borrowerID == "" || sector == "" {
		return nil, workflows.ErrInvalidIdentity
	}

	seeds := make([]workflows.LaneSeed, 0, len(e.cfg.Lanes))
	for _, lane := range e.cfg.Lanes {
		prompt, err := e.prompts.Initial(ctx, lane, borrowerID, sector)
		if err != nil {
			return nil, fmt.Errorf("build prompt for lane %s: %w", lane, err)
		}
		seeds = append(seeds, workflows.LaneSeed{ID: lane, Prompt: prompt})
	}

	flow, err := e.store.Create(ctx, workflows.CreateCommand{
		BorrowerID: borrowerID,
		Sector:     sector,
		Lanes:      seeds,
	})
	if err != nil {
		return nil, err
	}

	lanes, err := e.store.Lanes(ctx, flow.ID)
	if err != nil {
		return nil, err
	}

	for _, lane := range lanes {
		e.dispatch(*flow, lane.ID)
	}

	return flow, nil
}

// Decide applies a human decision to a lane attempt. Approval may release
// the synthesis barrier; rejection either relaunches the lane under a fresh
// prompt or parks it in Exhausted at the attempt limit.
func (e *Engine) Decide(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, approved bool) (*workflows.Lane, error) {
	flow, err := e.store.Find(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if flow.Status != workflows.WorkflowActive {
		return nil, workflows.ErrNotActive
	}

	if approved {
		lane, err := e.store.ApproveAttempt(ctx, workflowID, laneID, attemptID)
		if err != nil {
			return nil, err
		}

		if err := e.evaluateBarrier(*flow); err != nil {
			e.logger.Error("barrier evaluation failed", "workflow_id", workflowID, "error", err)
		}
		return lane, nil
	}

	current, err := e.store.Lane(ctx, workflowID, laneID)
	if err != nil {
		return nil, err
	}

	rejected := ""
	if current.LatestAnalysis != nil {
		rejected = *current.LatestAnalysis
	}

	rerun, err := e.prompts.Rerun(ctx, laneID, flow.BorrowerID, flow.Sector, rejected, current.AttemptCount+1)
	if err != nil {
		return nil, fmt.Errorf("build rerun prompt for lane %s: %w", laneID, err)
	}

	lane, err := e.store.RejectAttempt(ctx, workflowID, laneID, attemptID, rerun, e.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}

	switch lane.Status {
	case workflows.LanePending:
		e.dispatch(*flow, lane.ID)
	case workflows.LaneExhausted:
		e.events.LaneExhausted(*flow, *lane)
	}

	return lane, nil
}

// Retry returns a Failed or Exhausted lane to Pending under a fresh initial
// prompt and relaunches it.
func (e *Engine) Retry(ctx context.Context, workflowID uuid.UUID, laneID string) (*workflows.Lane, error) {
	flow, err := e.store.Find(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if flow.Status != workflows.WorkflowActive {
		return nil, workflows.ErrNotActive
	}

	prompt, err := e.prompts.Initial(ctx, laneID, flow.BorrowerID, flow.Sector)
	if err != nil {
		return nil, fmt.Errorf("build prompt for lane %s: %w", laneID, err)
	}

	lane, err := e.store.ResetLane(ctx, workflowID, laneID, prompt)
	if err != nil {
		return nil, err
	}

	e.dispatch(*flow, lane.ID)
	return lane, nil
}

// Abandon ends a workflow and cancels its in-flight lane runs.
func (e *Engine) Abandon(ctx context.Context, workflowID uuid.UUID) (*workflows.Workflow, error) {
	flow, err := e.store.Abandon(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	e.release(workflowID)
	return flow, nil
}

func (e *Engine) resume(ctx context.Context) {
	flows, err := e.store.Active(ctx)
	if err != nil {
		e.logger.Error("resume: query active workflows failed", "error", err)
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.ResumeWorkers)

	resumed := 0
	for _, flow := range flows {
		g.Go(func() error {
			lanes, err := e.store.Lanes(ctx, flow.ID)
			if err != nil {
				return fmt.Errorf("workflow %s: %w", flow.ID, err)
			}

			for _, lane := range lanes {
				if lane.Status.Runnable() {
					e.dispatch(flow, lane.ID)
				}
			}

			// The previous process may have stopped between the final
			// approval and the latch flip. Re-evaluating is idempotent:
			// the flip only fires while every lane is approved.
			if err := e.evaluateBarrier(flow); err != nil {
				return fmt.Errorf("workflow %s: %w", flow.ID, err)
			}
			return nil
		})
		resumed++
	}

	if err := g.Wait(); err != nil {
		e.logger.Error("resume incomplete", "error", err)
	}

	pending, err := e.store.PendingSyntheses(ctx)
	if err != nil {
		e.logger.Error("resume: query pending syntheses failed", "error", err)
	}

	for _, flow := range pending {
		flowCtx, done := e.flowContext(flow.ID)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer done()
			if err := e.compose(flowCtx, flow); err != nil {
				e.logger.Error("memo composition failed", "workflow_id", flow.ID, "error", err)
			}
		}()
	}

	e.logger.Info("resume complete", "workflows", resumed, "pending_syntheses", len(pending))
}

func (e *Engine) dispatch(flow workflows.Workflow, laneID string) {
	ctx, done := e.flowContext(flow.ID)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer done()
		e.runLane(ctx, flow, laneID)
	}()
}

func (e *Engine) runLane(ctx context.Context, flow workflows.Workflow, laneID string) {
	attemptID := uuid.New()

	lane, err := e.store.BeginAttempt(ctx, flow.ID, laneID, attemptID)
	if err != nil {
		// A conflict means another transition won the lane; nothing to run.
		if !errors.Is(err, workflows.ErrLaneConflict) && !errors.Is(err, workflows.ErrLaneNotFound) {
			e.logger.Error("begin attempt failed", "workflow_id", flow.ID, "lane", laneID, "error", err)
		}
		return
	}

	e.logger.Info(
		"lane running",
		"workflow_id", flow.ID,
		"lane", laneID,
		"attempt", lane.AttemptCount,
		"attempt_id", attemptID,
	)

	analysis, err := e.runGraph(ctx, laneID, lane.CurrentPrompt)
	if err != nil {
		if ctx.Err() != nil {
			// Abandoned or shutting down. The lane stays Running and is
			// picked up again on resume unless the workflow ended.
			return
		}

		failed, ferr := e.store.FailAttempt(ctx, flow.ID, laneID, attemptID, err.Error())
		if ferr != nil {
			e.logger.Error("fail attempt not recorded", "workflow_id", flow.ID, "lane", laneID, "error", ferr)
			return
		}

		e.events.LaneFailed(flow, *failed)
		return
	}

	completed, err := e.store.CompleteAttempt(ctx, flow.ID, laneID, attemptID, analysis)
	if err != nil {
		e.logger.Error("complete attempt not recorded", "workflow_id", flow.ID, "lane", laneID, "error", err)
		return
	}

	e.events.LaneAwaiting(flow, *completed)
}

// evaluateBarrier attempts to flip the synthesis latch. Exactly one caller
// wins the flip; that caller owns memo composition. The flip runs on the
// engine's own context so an abandoned request cannot interrupt it.
func (e *Engine) evaluateBarrier(flow workflows.Workflow) error {
	fired, err := e.store.MarkSynthesized(e.baseContext(), flow.ID)
	if err != nil || !fired {
		return err
	}

	flow.Status = workflows.WorkflowSynthesized
	flow.Synthesized = true

	ctx, done := e.flowContext(flow.ID)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer done()
		if err := e.compose(ctx, flow); err != nil {
			// The latch stays flipped; composition is retried on resume.
			e.logger.Error("memo composition failed", "workflow_id", flow.ID, "error", err)
		}
	}()

	return nil
}

func (e *Engine) compose(ctx context.Context, flow workflows.Workflow) error {
	packs, err := e.store.ApprovedPacks(ctx, flow.ID)
	if err != nil {
		return fmt.Errorf("load approved analyses: %w", err)
	}

	sections := make([]prompts.Section, len(packs))
	for i, pack := range packs {
		sections[i] = prompts.Section{Lane: pack.LaneID, Analysis: pack.Analysis}
	}

	prompt, err := e.prompts.Synthesis(ctx, flow.BorrowerID, flow.Sector, sections)
	if err != nil {
		return fmt.Errorf("build synthesis prompt: %w", err)
	}

	content, err := e.provider.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("generate memo: %w", err)
	}

	if _, err := e.memos.Save(ctx, flow.ID, content); err != nil {
		if errors.Is(err, synthesis.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("save memo: %w", err)
	}

	e.events.MemoReady(flow)
	return nil
}

func (e *Engine) baseContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.base
}

// flowContext registers a cancelable run context under the workflow so
// Abandon can stop every in-flight run. The returned done func releases
// the registration when the run finishes.
func (e *Engine) flowContext(id uuid.UUID) (context.Context, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithCancel(e.base)
	e.nextRun++
	token := e.nextRun

	if e.runs[id] == nil {
		e.runs[id] = make(map[uint64]context.CancelFunc)
	}
	e.runs[id][token] = cancel

	done := func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		cancel()
		if runs, ok := e.runs[id]; ok {
			delete(runs, token)
			if len(runs) == 0 {
				delete(e.runs, id)
			}
		}
	}

	return ctx, done
}

func (e *Engine) release(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, cancel := range e.runs[id] {
		cancel()
	}
	delete(e.runs, id)
}
