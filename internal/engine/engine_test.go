package engine_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/renewals/internal/engine"
	"github.com/crestline/renewals/internal/prompts"
	"github.com/crestline/renewals/internal/synthesis"
	"github.com/crestline/renewals/internal/workflows"
	"github.com/crestline/renewals/pkg/lifecycle"
	"github.com/crestline/renewals/pkg/pagination"
)

// fakeStore is an in-memory workflows.System with the same compare-and-set
// transition semantics as the Postgres repository.
type fakeStore struct {
	mu        sync.Mutex
	flows     map[uuid.UUID]*workflows.Workflow
	lanes     map[uuid.UUID]map[string]*workflows.Lane
	order     map[uuid.UUID][]string
	decisions map[uuid.UUID][]workflows.Decision
	memos     *fakeMemos
}

func newFakeStore(memos *fakeMemos) *fakeStore {
	return &fakeStore{
		flows:     make(map[uuid.UUID]*workflows.Workflow),
		lanes:     make(map[uuid.UUID]map[string]*workflows.Lane),
		order:     make(map[uuid.UUID][]string),
		decisions: make(map[uuid.UUID][]workflows.Decision),
		memos:     memos,
	}
}

func (s *fakeStore) List(ctx context.Context, page pagination.PageRequest, filters workflows.Filters) (*pagination.PageResult[workflows.Workflow], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]workflows.Workflow, 0, len(s.flows))
	for _, f := range s.flows {
		items = append(items, *f)
	}

	result := pagination.NewPageResult(items, len(items), 1, len(items)+1)
	return &result, nil
}

func (s *fakeStore) Find(ctx context.Context, id uuid.UUID) (*workflows.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(id)
}

func (s *fakeStore) findLocked(id uuid.UUID) (*workflows.Workflow, error) {
	f, ok := s.flows[id]
	if !ok {
		return nil, workflows.ErrNotFound
	}
	copied := *f
	return &copied, nil
}

func (s *fakeStore) FindByIdentity(ctx context.Context, borrowerID, sector string) (*workflows.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.flows {
		if f.BorrowerID == borrowerID && f.Sector == sector && f.Status == workflows.WorkflowActive {
			copied := *f
			return &copied, nil
		}
	}
	return nil, workflows.ErrNotFound
}

func (s *fakeStore) Active(ctx context.Context) ([]workflows.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]workflows.Workflow, 0)
	for _, f := range s.flows {
		if f.Status == workflows.WorkflowActive {
			active = append(active, *f)
		}
	}
	return active, nil
}

func (s *fakeStore) Create(ctx context.Context, cmd workflows.CreateCommand) (*workflows.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(cmd.Lanes) == 0 {
		return nil, workflows.ErrNoLanes
	}

	for _, f := range s.flows {
		if f.BorrowerID == cmd.BorrowerID && f.Sector == cmd.Sector && f.Status == workflows.WorkflowActive {
			return nil, workflows.ErrDuplicate
		}
	}

	now := time.Now()
	flow := &workflows.Workflow{
		ID:         uuid.New(),
		BorrowerID: cmd.BorrowerID,
		Sector:     cmd.Sector,
		Status:     workflows.WorkflowActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.flows[flow.ID] = flow
	s.lanes[flow.ID] = make(map[string]*workflows.Lane)

	for i, seed := range cmd.Lanes {
		s.lanes[flow.ID][seed.ID] = &workflows.Lane{
			WorkflowID:    flow.ID,
			ID:            seed.ID,
			Position:      i,
			Status:        workflows.LanePending,
			CurrentPrompt: seed.Prompt,
			UpdatedAt:     now,
		}
		s.order[flow.ID] = append(s.order[flow.ID], seed.ID)
	}

	copied := *flow
	return &copied, nil
}

func (s *fakeStore) Lanes(ctx context.Context, workflowID uuid.UUID) ([]workflows.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.lanes[workflowID]
	if !ok {
		return nil, workflows.ErrNotFound
	}

	lanes := make([]workflows.Lane, 0, len(byID))
	for _, id := range s.order[workflowID] {
		lanes = append(lanes, *byID[id])
	}
	return lanes, nil
}

func (s *fakeStore) Lane(ctx context.Context, workflowID uuid.UUID, laneID string) (*workflows.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.laneLocked(workflowID, laneID)
}

func (s *fakeStore) laneLocked(workflowID uuid.UUID, laneID string) (*workflows.Lane, error) {
	byID, ok := s.lanes[workflowID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}
	l, ok := byID[laneID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}
	copied := *l
	return &copied, nil
}

func (s *fakeStore) Decisions(ctx context.Context, workflowID uuid.UUID) ([]workflows.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]workflows.Decision(nil), s.decisions[workflowID]...), nil
}

func (s *fakeStore) BeginAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID) (*workflows.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[workflowID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}

	l, ok := s.lanes[workflowID][laneID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}

	if flow.Status != workflows.WorkflowActive || !l.Status.Runnable() {
		return nil, workflows.ErrLaneConflict
	}

	l.Status = workflows.LaneRunning
	l.CurrentAttemptID = &attemptID
	l.AttemptCount++
	l.Failure = nil
	l.UpdatedAt = time.Now()

	copied := *l
	return &copied, nil
}

func (s *fakeStore) CompleteAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, analysis string) (*workflows.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[workflowID][laneID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}
	if l.Status != workflows.LaneRunning || l.CurrentAttemptID == nil || *l.CurrentAttemptID != attemptID {
		return nil, workflows.ErrLaneConflict
	}

	l.Status = workflows.LaneAwaitingApproval
	l.LatestAnalysis = &analysis
	l.UpdatedAt = time.Now()

	copied := *l
	return &copied, nil
}

func (s *fakeStore) FailAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, failure string) (*workflows.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[workflowID][laneID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}
	if l.Status != workflows.LaneRunning || l.CurrentAttemptID == nil || *l.CurrentAttemptID != attemptID {
		return nil, workflows.ErrLaneConflict
	}

	l.Status = workflows.LaneFailed
	l.Failure = &failure
	l.UpdatedAt = time.Now()

	copied := *l
	return &copied, nil
}

func (s *fakeStore) ApproveAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID) (*workflows.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[workflowID][laneID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}
	if l.Status != workflows.LaneAwaitingApproval || l.CurrentAttemptID == nil || *l.CurrentAttemptID != attemptID {
		return nil, workflows.ErrStaleDecision
	}

	l.Status = workflows.LaneApproved
	l.UpdatedAt = time.Now()
	s.recordDecision(workflowID, laneID, attemptID, true)

	copied := *l
	return &copied, nil
}

func (s *fakeStore) RejectAttempt(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, rerunPrompt string, maxAttempts int) (*workflows.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[workflowID][laneID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}
	if l.Status != workflows.LaneAwaitingApproval || l.CurrentAttemptID == nil || *l.CurrentAttemptID != attemptID {
		return nil, workflows.ErrStaleDecision
	}

	if l.AttemptCount >= maxAttempts {
		l.Status = workflows.LaneExhausted
	} else {
		l.Status = workflows.LanePending
		l.CurrentPrompt = rerunPrompt
	}
	l.UpdatedAt = time.Now()
	s.recordDecision(workflowID, laneID, attemptID, false)

	copied := *l
	return &copied, nil
}

func (s *fakeStore) ResetLane(ctx context.Context, workflowID uuid.UUID, laneID string, prompt string) (*workflows.Lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[workflowID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}

	l, ok := s.lanes[workflowID][laneID]
	if !ok {
		return nil, workflows.ErrLaneNotFound
	}

	if flow.Status != workflows.WorkflowActive ||
		(l.Status != workflows.LaneFailed && l.Status != workflows.LaneExhausted) {
		return nil, workflows.ErrLaneConflict
	}

	l.Status = workflows.LanePending
	l.CurrentPrompt = prompt
	l.Failure = nil
	l.UpdatedAt = time.Now()

	copied := *l
	return &copied, nil
}

func (s *fakeStore) PendingSyntheses(ctx context.Context) ([]workflows.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]workflows.Workflow, 0)
	for _, f := range s.flows {
		if f.Status == workflows.WorkflowSynthesized && !s.memos.exists(f.ID) {
			pending = append(pending, *f)
		}
	}
	return pending, nil
}

func (s *fakeStore) MarkSynthesized(ctx context.Context, workflowID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[workflowID]
	if !ok {
		return false, nil
	}
	if flow.Status != workflows.WorkflowActive || flow.Synthesized {
		return false, nil
	}

	for _, l := range s.lanes[workflowID] {
		if l.Status != workflows.LaneApproved {
			return false, nil
		}
	}

	flow.Synthesized = true
	flow.Status = workflows.WorkflowSynthesized
	flow.UpdatedAt = time.Now()
	return true, nil
}

func (s *fakeStore) ApprovedPacks(ctx context.Context, workflowID uuid.UUID) ([]workflows.ApprovedPack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	packs := make([]workflows.ApprovedPack, 0)
	for _, id := range s.order[workflowID] {
		l := s.lanes[workflowID][id]
		if l.Status == workflows.LaneApproved && l.LatestAnalysis != nil {
			packs = append(packs, workflows.ApprovedPack{LaneID: l.ID, Analysis: *l.LatestAnalysis})
		}
	}
	return packs, nil
}

func (s *fakeStore) Abandon(ctx context.Context, workflowID uuid.UUID) (*workflows.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.flows[workflowID]
	if !ok {
		return nil, workflows.ErrNotFound
	}
	if flow.Status != workflows.WorkflowActive {
		return nil, workflows.ErrNotActive
	}

	flow.Status = workflows.WorkflowAbandoned
	flow.UpdatedAt = time.Now()

	copied := *flow
	return &copied, nil
}

func (s *fakeStore) recordDecision(workflowID uuid.UUID, laneID string, attemptID uuid.UUID, approved bool) {
	s.decisions[workflowID] = append(s.decisions[workflowID], workflows.Decision{
		WorkflowID: workflowID,
		LaneID:     laneID,
		AttemptID:  attemptID,
		Approved:   approved,
		DecidedAt:  time.Now(),
	})
}

type fakeMemos struct {
	mu    sync.Mutex
	saved map[uuid.UUID][]string
}

func newFakeMemos() *fakeMemos {
	return &fakeMemos{saved: make(map[uuid.UUID][]string)}
}

func (m *fakeMemos) Memo(ctx context.Context, workflowID uuid.UUID) (*synthesis.Memo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	contents, ok := m.saved[workflowID]
	if !ok {
		return nil, synthesis.ErrNotFound
	}
	return &synthesis.Memo{WorkflowID: workflowID, Content: contents[0]}, nil
}

func (m *fakeMemos) Save(ctx context.Context, workflowID uuid.UUID, content string) (*synthesis.Memo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.saved[workflowID]; ok {
		return nil, synthesis.ErrDuplicate
	}
	m.saved[workflowID] = append(m.saved[workflowID], content)
	return &synthesis.Memo{WorkflowID: workflowID, Content: content}, nil
}

func (m *fakeMemos) exists(workflowID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.saved[workflowID]
	return ok
}

func (m *fakeMemos) count(workflowID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved[workflowID])
}

// scriptProvider returns canned output per call, optionally failing while a
// substring matches the prompt.
type scriptProvider struct {
	mu    sync.Mutex
	calls int
	fail  map[string]error
}

func (p *scriptProvider) Generate(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for substr, err := range p.fail {
		if strings.Contains(prompt, substr) {
			return "", err
		}
	}

	p.calls += 1
	return fmt.Sprintf("output %d", p.calls), nil
}

func (p *scriptProvider) setFail(substr string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail == nil {
		p.fail = make(map[string]error)
	}
	if err == nil {
		delete(p.fail, substr)
	} else {
		p.fail[substr] = err
	}
}

type fakeSource struct{}

func (fakeSource) Context(ctx context.Context, collection string) (string, error) {
	return collection + " reference material", nil
}

// fakePromptStore backs a real prompt builder with no stored overrides.
type fakePromptStore struct{}

func (fakePromptStore) List(ctx context.Context, page pagination.PageRequest, filters prompts.Filters) (*pagination.PageResult[prompts.Prompt], error) {
	return nil, nil
}
func (fakePromptStore) Find(ctx context.Context, id uuid.UUID) (*prompts.Prompt, error) {
	return nil, prompts.ErrNotFound
}
func (fakePromptStore) ActiveForStage(ctx context.Context, stage string) (*prompts.Prompt, error) {
	return nil, prompts.ErrNotFound
}
func (fakePromptStore) Create(ctx context.Context, cmd prompts.CreateCommand) (*prompts.Prompt, error) {
	return nil, prompts.ErrNotFound
}
func (fakePromptStore) Update(ctx context.Context, id uuid.UUID, cmd prompts.UpdateCommand) (*prompts.Prompt, error) {
	return nil, prompts.ErrNotFound
}
func (fakePromptStore) Activate(ctx context.Context, id uuid.UUID) (*prompts.Prompt, error) {
	return nil, prompts.ErrNotFound
}
func (fakePromptStore) Deactivate(ctx context.Context, id uuid.UUID) (*prompts.Prompt, error) {
	return nil, prompts.ErrNotFound
}
func (fakePromptStore) Delete(ctx context.Context, id uuid.UUID) error {
	return prompts.ErrNotFound
}

type harness struct {
	store    *fakeStore
	memos    *fakeMemos
	provider *scriptProvider
	engine   *engine.Engine
}

func newHarness(t *testing.T, cfg engine.Config) *harness {
	t.Helper()

	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize config: %v", err)
	}

	memos := newFakeMemos()
	store := newFakeStore(memos)
	provider := &scriptProvider{}
	logger := slog.New(slog.DiscardHandler)

	eng := engine.New(
		store,
		memos,
		provider,
		fakeSource{},
		prompts.NewBuilder(fakePromptStore{}, logger),
		nil,
		cfg,
		logger,
	)

	return &harness{store: store, memos: memos, provider: provider, engine: eng}
}

func (h *harness) waitLaneStatus(t *testing.T, workflowID uuid.UUID, laneID string, want workflows.LaneStatus) workflows.Lane {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		lane, err := h.store.Lane(context.Background(), workflowID, laneID)
		if err == nil && lane.Status == want {
			return *lane
		}
		time.Sleep(5 * time.Millisecond)
	}

	lane, _ := h.store.Lane(context.Background(), workflowID, laneID)
	t.Fatalf("lane %s never reached %s (currently %+v)", laneID, want, lane)
	return workflows.Lane{}
}

// waitLaneAttempt waits for the lane to sit in AwaitingApproval on the given
// attempt, distinguishing a rerun from the attempt that was just rejected.
func (h *harness) waitLaneAttempt(t *testing.T, workflowID uuid.UUID, laneID string, attempt int) workflows.Lane {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		lane, err := h.store.Lane(context.Background(), workflowID, laneID)
		if err == nil && lane.Status == workflows.LaneAwaitingApproval && lane.AttemptCount == attempt {
			return *lane
		}
		time.Sleep(5 * time.Millisecond)
	}

	lane, _ := h.store.Lane(context.Background(), workflowID, laneID)
	t.Fatalf("lane %s never reached attempt %d awaiting approval (currently %+v)", laneID, attempt, lane)
	return workflows.Lane{}
}

func (h *harness) waitMemo(t *testing.T, workflowID uuid.UUID) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.memos.exists(workflowID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("memo never produced for workflow %s", workflowID)
}

func (h *harness) approve(t *testing.T, workflowID uuid.UUID, laneID string) {
	t.Helper()

	lane := h.waitLaneStatus(t, workflowID, laneID, workflows.LaneAwaitingApproval)
	if _, err := h.engine.Decide(context.Background(), workflowID, laneID, *lane.CurrentAttemptID, true); err != nil {
		t.Fatalf("approve %s: %v", laneID, err)
	}
}

func TestLaunchRunsAllLanes(t *testing.T) {
	h := newHarness(t, engine.Config{})

	flow, err := h.engine.Launch(context.Background(), "BRW-1042", "energy")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	if flow.Status != workflows.WorkflowActive {
		t.Errorf("status = %s, want %s", flow.Status, workflows.WorkflowActive)
	}

	for _, laneID := range []string{"policy", "entity", "market"} {
		lane := h.waitLaneStatus(t, flow.ID, laneID, workflows.LaneAwaitingApproval)
		if lane.AttemptCount != 1 {
			t.Errorf("lane %s attempt count = %d, want 1", laneID, lane.AttemptCount)
		}
		if lane.LatestAnalysis == nil || *lane.LatestAnalysis == "" {
			t.Errorf("lane %s has no analysis", laneID)
		}
		if lane.CurrentAttemptID == nil {
			t.Errorf("lane %s has no attempt id", laneID)
		}
	}

	if h.memos.count(flow.ID) != 0 {
		t.Error("memo produced before any approval")
	}
}

func TestLaunchValidation(t *testing.T) {
	h := newHarness(t, engine.Config{})

	if _, err := h.engine.Launch(context.Background(), " ", "energy"); !errors.Is(err, workflows.ErrInvalidIdentity) {
		t.Errorf("blank borrower: got %v, want ErrInvalidIdentity", err)
	}

	if _, err := h.engine.Launch(context.Background(), "BRW-1", "retail"); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	if _, err := h.engine.Launch(context.Background(), "BRW-1", "retail"); !errors.Is(err, workflows.ErrDuplicate) {
		t.Errorf("second launch: got %v, want ErrDuplicate", err)
	}
}

func TestApprovalsReleaseBarrierExactlyOnce(t *testing.T) {
	h := newHarness(t, engine.Config{})

	flow, err := h.engine.Launch(context.Background(), "BRW-2", "retail")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	h.approve(t, flow.ID, "policy")
	h.approve(t, flow.ID, "entity")

	if h.memos.count(flow.ID) != 0 {
		t.Fatal("memo produced before final approval")
	}

	// Race the final approval from several goroutines; exactly one decision
	// lands and exactly one memo is produced.
	lane := h.waitLaneStatus(t, flow.ID, "market", workflows.LaneAwaitingApproval)

	var (
		wg        sync.WaitGroup
		successes atomicCounter
		stales    atomicCounter
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Decide(context.Background(), flow.ID, "market", *lane.CurrentAttemptID, true)
			switch {
			case err == nil:
				successes.inc()
			case errors.Is(err, workflows.ErrStaleDecision), errors.Is(err, workflows.ErrNotActive):
				stales.inc()
			}
		}()
	}
	wg.Wait()

	if successes.get() != 1 {
		t.Errorf("approvals that landed = %d, want 1", successes.get())
	}
	if successes.get()+stales.get() != 4 {
		t.Errorf("unexpected decision outcomes: %d landed, %d rejected as stale", successes.get(), stales.get())
	}

	h.waitMemo(t, flow.ID)
	if n := h.memos.count(flow.ID); n != 1 {
		t.Errorf("memo count = %d, want 1", n)
	}

	final, err := h.store.Find(context.Background(), flow.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if final.Status != workflows.WorkflowSynthesized || !final.Synthesized {
		t.Errorf("workflow = %+v, want synthesized", final)
	}
}

func TestRejectionRerunsWithFreshPrompt(t *testing.T) {
	h := newHarness(t, engine.Config{})

	flow, err := h.engine.Launch(context.Background(), "BRW-3", "maritime")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	first := h.waitLaneStatus(t, flow.ID, "policy", workflows.LaneAwaitingApproval)
	firstPrompt := first.CurrentPrompt
	firstAnalysis := *first.LatestAnalysis

	if _, err := h.engine.Decide(context.Background(), flow.ID, "policy", *first.CurrentAttemptID, false); err != nil {
		t.Fatalf("reject: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var second workflows.Lane
	for time.Now().Before(deadline) {
		lane, err := h.store.Lane(context.Background(), flow.ID, "policy")
		if err == nil && lane.Status == workflows.LaneAwaitingApproval && lane.AttemptCount == 2 {
			second = *lane
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if second.AttemptCount != 2 {
		t.Fatal("lane never reran after rejection")
	}

	if second.CurrentPrompt == firstPrompt {
		t.Error("rerun prompt matches the rejected prompt")
	}
	if !strings.Contains(second.CurrentPrompt, firstAnalysis) {
		t.Error("rerun prompt does not carry the rejected analysis")
	}
	if *second.CurrentAttemptID == *first.CurrentAttemptID {
		t.Error("rerun reused the rejected attempt id")
	}

	decisions, _ := h.store.Decisions(context.Background(), flow.ID)
	if len(decisions) != 1 || decisions[0].Approved {
		t.Errorf("decisions = %+v, want one rejection", decisions)
	}
}

func TestThreeLaneReviewScenario(t *testing.T) {
	h := newHarness(t, engine.Config{})

	flow, err := h.engine.Launch(context.Background(), "BRW-7", "transportation")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	h.approve(t, flow.ID, "entity")
	h.approve(t, flow.ID, "market")

	// Reject policy twice; each rejection must rerun the lane under a new
	// attempt without disturbing the two approved lanes.
	for attempt := 1; attempt <= 2; attempt++ {
		lane := h.waitLaneAttempt(t, flow.ID, "policy", attempt)
		if _, err := h.engine.Decide(context.Background(), flow.ID, "policy", *lane.CurrentAttemptID, false); err != nil {
			t.Fatalf("reject attempt %d: %v", attempt, err)
		}

		if h.memos.count(flow.ID) != 0 {
			t.Fatal("memo produced while a lane was still unapproved")
		}
	}

	final := h.waitLaneAttempt(t, flow.ID, "policy", 3)
	if _, err := h.engine.Decide(context.Background(), flow.ID, "policy", *final.CurrentAttemptID, true); err != nil {
		t.Fatalf("approve policy: %v", err)
	}

	h.waitMemo(t, flow.ID)
	if n := h.memos.count(flow.ID); n != 1 {
		t.Errorf("memo count = %d, want 1", n)
	}

	policy, _ := h.store.Lane(context.Background(), flow.ID, "policy")
	if policy.AttemptCount != 3 {
		t.Errorf("policy attempt count = %d, want 3", policy.AttemptCount)
	}

	packs, err := h.store.ApprovedPacks(context.Background(), flow.ID)
	if err != nil {
		t.Fatalf("approved packs: %v", err)
	}
	if len(packs) != 3 {
		t.Fatalf("approved packs = %d, want 3", len(packs))
	}
	for _, pack := range packs {
		if pack.Analysis == "" {
			t.Errorf("lane %s has no final analysis", pack.LaneID)
		}
	}
}

func TestStaleDecisionRejected(t *testing.T) {
	h := newHarness(t, engine.Config{})

	flow, err := h.engine.Launch(context.Background(), "BRW-4", "energy")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	lane := h.waitLaneStatus(t, flow.ID, "entity", workflows.LaneAwaitingApproval)
	staleAttempt := *lane.CurrentAttemptID

	if _, err := h.engine.Decide(context.Background(), flow.ID, "entity", staleAttempt, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	h.waitLaneStatus(t, flow.ID, "entity", workflows.LaneAwaitingApproval)

	// The original attempt is no longer current; deciding on it must fail
	// without changing lane state.
	if _, err := h.engine.Decide(context.Background(), flow.ID, "entity", staleAttempt, true); !errors.Is(err, workflows.ErrStaleDecision) {
		t.Errorf("got %v, want ErrStaleDecision", err)
	}

	current, _ := h.store.Lane(context.Background(), flow.ID, "entity")
	if current.Status != workflows.LaneAwaitingApproval {
		t.Errorf("lane status = %s after stale decision", current.Status)
	}
}

func TestRejectionExhaustsAtAttemptLimit(t *testing.T) {
	h := newHarness(t, engine.Config{MaxAttempts: 2})

	flow, err := h.engine.Launch(context.Background(), "BRW-5", "retail")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	lane := h.waitLaneStatus(t, flow.ID, "policy", workflows.LaneAwaitingApproval)
	if _, err := h.engine.Decide(context.Background(), flow.ID, "policy", *lane.CurrentAttemptID, false); err != nil {
		t.Fatalf("first reject: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		l, err := h.store.Lane(context.Background(), flow.ID, "policy")
		if err == nil && l.Status == workflows.LaneAwaitingApproval && l.AttemptCount == 2 {
			lane = *l
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rejected, err := h.engine.Decide(context.Background(), flow.ID, "policy", *lane.CurrentAttemptID, false)
	if err != nil {
		t.Fatalf("second reject: %v", err)
	}
	if rejected.Status != workflows.LaneExhausted {
		t.Fatalf("lane status = %s, want %s", rejected.Status, workflows.LaneExhausted)
	}

	// A retry returns the lane to service; the attempt counter keeps its
	// history.
	if _, err := h.engine.Retry(context.Background(), flow.ID, "policy"); err != nil {
		t.Fatalf("retry: %v", err)
	}

	final := h.waitLaneStatus(t, flow.ID, "policy", workflows.LaneAwaitingApproval)
	if final.AttemptCount != 3 {
		t.Errorf("attempt count after retry = %d, want 3", final.AttemptCount)
	}
}

func TestProviderFailureMarksLaneFailed(t *testing.T) {
	h := newHarness(t, engine.Config{})
	h.provider.setFail("entity reference material", errors.New("model unavailable"))

	flow, err := h.engine.Launch(context.Background(), "BRW-6", "energy")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	failed := h.waitLaneStatus(t, flow.ID, "entity", workflows.LaneFailed)
	if failed.Failure == nil || !strings.Contains(*failed.Failure, "model unavailable") {
		t.Errorf("failure = %v, want the provider error", failed.Failure)
	}

	// The other lanes are unaffected, and the barrier holds.
	h.approve(t, flow.ID, "policy")
	h.approve(t, flow.ID, "market")

	time.Sleep(50 * time.Millisecond)
	if h.memos.count(flow.ID) != 0 {
		t.Fatal("memo produced with a failed lane outstanding")
	}

	h.provider.setFail("entity reference material", nil)
	if _, err := h.engine.Retry(context.Background(), flow.ID, "entity"); err != nil {
		t.Fatalf("retry: %v", err)
	}

	h.approve(t, flow.ID, "entity")
	h.waitMemo(t, flow.ID)
}

func TestAbandonStopsDecisions(t *testing.T) {
	h := newHarness(t, engine.Config{})

	flow, err := h.engine.Launch(context.Background(), "BRW-7", "maritime")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	lane := h.waitLaneStatus(t, flow.ID, "policy", workflows.LaneAwaitingApproval)

	abandoned, err := h.engine.Abandon(context.Background(), flow.ID)
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if abandoned.Status != workflows.WorkflowAbandoned {
		t.Errorf("status = %s, want %s", abandoned.Status, workflows.WorkflowAbandoned)
	}

	if _, err := h.engine.Decide(context.Background(), flow.ID, "policy", *lane.CurrentAttemptID, true); !errors.Is(err, workflows.ErrNotActive) {
		t.Errorf("decide after abandon: got %v, want ErrNotActive", err)
	}
	if _, err := h.engine.Abandon(context.Background(), flow.ID); !errors.Is(err, workflows.ErrNotActive) {
		t.Errorf("second abandon: got %v, want ErrNotActive", err)
	}

	if h.memos.count(flow.ID) != 0 {
		t.Error("memo produced for abandoned workflow")
	}
}

func TestResumeRunsInterruptedLanes(t *testing.T) {
	h := newHarness(t, engine.Config{})

	// Simulate a process that died mid-flight: one lane approved, one still
	// pending, one interrupted while running.
	flow, err := h.store.Create(context.Background(), workflows.CreateCommand{
		BorrowerID: "BRW-8",
		Sector:     "energy",
		Lanes: []workflows.LaneSeed{
			{ID: "policy", Prompt: "policy prompt"},
			{ID: "entity", Prompt: "entity prompt"},
			{ID: "market", Prompt: "market prompt"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	approvedID := uuid.New()
	if _, err := h.store.BeginAttempt(context.Background(), flow.ID, "policy", approvedID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.store.CompleteAttempt(context.Background(), flow.ID, "policy", approvedID, "policy analysis"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := h.store.ApproveAttempt(context.Background(), flow.ID, "policy", approvedID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.store.BeginAttempt(context.Background(), flow.ID, "market", uuid.New()); err != nil {
		t.Fatalf("begin market: %v", err)
	}

	lc := lifecycle.New()
	if err := h.engine.Start(lc); err != nil {
		t.Fatalf("start: %v", err)
	}
	lc.WaitForStartup()

	h.approve(t, flow.ID, "entity")
	h.approve(t, flow.ID, "market")
	h.waitMemo(t, flow.ID)

	policy, _ := h.store.Lane(context.Background(), flow.ID, "policy")
	if policy.Status != workflows.LaneApproved {
		t.Errorf("approved lane disturbed by resume: %s", policy.Status)
	}
}

func TestResumeReleasesBarrierAfterApprovals(t *testing.T) {
	h := newHarness(t, engine.Config{})

	// Simulate a process that died between the final approval and the latch
	// flip: every lane approved, workflow still active and unsynthesized.
	flow, err := h.store.Create(context.Background(), workflows.CreateCommand{
		BorrowerID: "BRW-11",
		Sector:     "energy",
		Lanes: []workflows.LaneSeed{
			{ID: "policy", Prompt: "policy prompt"},
			{ID: "entity", Prompt: "entity prompt"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, laneID := range []string{"policy", "entity"} {
		attemptID := uuid.New()
		if _, err := h.store.BeginAttempt(context.Background(), flow.ID, laneID, attemptID); err != nil {
			t.Fatalf("begin %s: %v", laneID, err)
		}
		if _, err := h.store.CompleteAttempt(context.Background(), flow.ID, laneID, attemptID, laneID+" analysis"); err != nil {
			t.Fatalf("complete %s: %v", laneID, err)
		}
		if _, err := h.store.ApproveAttempt(context.Background(), flow.ID, laneID, attemptID); err != nil {
			t.Fatalf("approve %s: %v", laneID, err)
		}
	}

	lc := lifecycle.New()
	if err := h.engine.Start(lc); err != nil {
		t.Fatalf("start: %v", err)
	}
	lc.WaitForStartup()

	h.waitMemo(t, flow.ID)
	if n := h.memos.count(flow.ID); n != 1 {
		t.Errorf("memo count = %d, want 1", n)
	}

	resumed, err := h.store.Find(context.Background(), flow.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if resumed.Status != workflows.WorkflowSynthesized || !resumed.Synthesized {
		t.Errorf("workflow = %s synthesized=%v, want %s synthesized=true",
			resumed.Status, resumed.Synthesized, workflows.WorkflowSynthesized)
	}
}

func TestApprovalSurvivesClientDisconnect(t *testing.T) {
	h := newHarness(t, engine.Config{})

	flow, err := h.engine.Launch(context.Background(), "BRW-12", "retail")
	if err != nil {
		t.Fatalf("launch: %v", err)
	}

	for _, laneID := range []string{"entity", "market"} {
		h.approve(t, flow.ID, laneID)
	}

	// The final approval arrives on a request context the client has
	// already abandoned. The latch must still flip.
	lane := h.waitLaneStatus(t, flow.ID, "policy", workflows.LaneAwaitingApproval)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.engine.Decide(ctx, flow.ID, "policy", *lane.CurrentAttemptID, true); err != nil {
		t.Fatalf("approve policy: %v", err)
	}

	h.waitMemo(t, flow.ID)
	if n := h.memos.count(flow.ID); n != 1 {
		t.Errorf("memo count = %d, want 1", n)
	}
}

func TestResumeRetriesInterruptedMemo(t *testing.T) {
	h := newHarness(t, engine.Config{})

	flow, err := h.store.Create(context.Background(), workflows.CreateCommand{
		BorrowerID: "BRW-9",
		Sector:     "retail",
		Lanes:      []workflows.LaneSeed{{ID: "policy", Prompt: "policy prompt"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	attemptID := uuid.New()
	if _, err := h.store.BeginAttempt(context.Background(), flow.ID, "policy", attemptID); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := h.store.CompleteAttempt(context.Background(), flow.ID, "policy", attemptID, "analysis"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := h.store.ApproveAttempt(context.Background(), flow.ID, "policy", attemptID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// The latch flipped but the process died before the memo was written.
	fired, err := h.store.MarkSynthesized(context.Background(), flow.ID)
	if err != nil || !fired {
		t.Fatalf("mark synthesized: fired=%v err=%v", fired, err)
	}

	lc := lifecycle.New()
	if err := h.engine.Start(lc); err != nil {
		t.Fatalf("start: %v", err)
	}
	lc.WaitForStartup()

	h.waitMemo(t, flow.ID)
	if n := h.memos.count(flow.ID); n != 1 {
		t.Errorf("memo count = %d, want 1", n)
	}
}

type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
