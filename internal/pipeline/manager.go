package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
)

// Store persists pipeline snapshots.
type Store interface {
	Save(ctx context.Context, p *Pipeline) error
	// Load returns a NotFoundError wrapping ErrPipelineNotFound for unknown IDs.
	Load(ctx context.Context, id string) (*Pipeline, error)
	List(ctx context.Context) ([]*Pipeline, error)
	Delete(ctx context.Context, id string) error
}

// DecisionAction is what an operator chose to do with an escalated pipeline.
type DecisionAction string

const (
	DecisionRetry DecisionAction = "retry"
	DecisionAbort DecisionAction = "abort"
)

// Decision is an operator's answer to an escalation. StageIndex, when set,
// overrides the stage recorded in the escalation; it may not be past the
// cursor.
type Decision struct {
	Action     DecisionAction `json:"action"`
	StageIndex *int           `json:"stage_index,omitempty"`
}

var errSuperseded = errors.New("dispatch superseded")

// entry is the manager's per-pipeline slot. mu serializes every mutation of
// p; seq identifies the current dispatch so late outcomes are discarded.
type entry struct {
	mu     sync.Mutex
	p      *Pipeline
	seq    uint64
	cancel context.CancelFunc
}

// Manager owns all in-flight pipelines, drives each through its stages, and
// applies operator commands.
//
// Pipelines run concurrently with each other; within one pipeline at most
// one stage is in flight. Every state change is persisted before the
// events describing it are published.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store  Store
	prov   Provisioner
	runner *Runner
	bus    *event.Bus
	logger *logging.Logger
	cfg    managerConfig

	ctx     context.Context
	stop    context.CancelFunc
	closing atomic.Bool
	wg      conc.WaitGroup
}

// NewManager creates a Manager.
func NewManager(store Store, exec Executor, prov Provisioner, opts ...ManagerOption) *Manager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.bus == nil {
		cfg.bus = event.NewBus(cfg.logger)
	}

	logger := cfg.logger.WithComponent("manager")
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		entries: make(map[string]*entry),
		store:   store,
		prov:    prov,
		runner:  NewRunner(exec, cfg.logger.WithComponent("runner")),
		bus:     cfg.bus,
		logger:  logger,
		cfg:     cfg,
		ctx:     ctx,
		stop:    stop,
	}
}

// Bus returns the bus lifecycle events are published on.
func (m *Manager) Bus() *event.Bus {
	return m.bus
}

// Launch resolves def, provisions a workspace, persists the new pipeline and
// starts its first stage. Resolution and provisioning failures are returned
// as DefinitionError and WorkspaceError, and no pipeline is created.
func (m *Manager) Launch(ctx context.Context, def Definition) (string, error) {
	if m.closing.Load() {
		return "", errors.NewPipelineError("manager is shutting down", errors.ErrCanceled)
	}

	stages, err := Resolve(def, m.cfg.resolve)
	if err != nil {
		return "", err
	}

	id := NewID()
	log := m.logger.WithPipeline(id)

	ws, err := m.prov.Provision(ctx, id)
	if err != nil {
		var wsErr *errors.WorkspaceError
		if !errors.As(err, &wsErr) {
			wsErr = errors.NewWorkspaceError("provision workspace", err)
		}
		return "", wsErr.WithPipelineID(id)
	}

	now := m.cfg.clock()
	p := &Pipeline{
		ID:        id,
		Project:   def.Project,
		Label:     def.Label,
		Workspace: ws,
		Stages:    stages,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created := p.record(event.PipelineCreated, 0, fmt.Sprintf("%d stages", len(stages)), now)

	if err := m.store.Save(ctx, p); err != nil {
		m.release(p.ID, ws)
		return "", errors.Wrap(err, "persist new pipeline")
	}

	e := &entry{p: p}
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	log.Info("pipeline created", "stages", len(stages), "workspace", ws.Path, "label", def.Label)
	m.publish(created)

	e.mu.Lock()
	// A subscriber of pipeline.created may already have aborted it.
	if p.Status != StatusPending {
		status := p.Status
		e.mu.Unlock()
		log.Info("pipeline left pending before first dispatch", "status", status.String())
		return id, nil
	}
	p.Status = StatusRunning
	launch := m.dispatchLocked(e)
	err = m.persistLocked(m.ctx, e)
	e.mu.Unlock()

	// A failed save has already halted the pipeline in memory; the launch
	// itself succeeded and the operator sees the escalation.
	if err == nil {
		launch()
	}
	return id, nil
}

// Abort stops a pipeline immediately. In-flight work is asked to cancel but
// Abort does not wait for it.
func (m *Manager) Abort(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.p.Status.IsFinal() {
		status := e.p.Status
		e.mu.Unlock()
		return errors.NewPipelineError("cannot abort", errors.ErrPipelineTerminal).
			WithPipelineID(id).WithStatus(status.String())
	}
	ev := m.abortLocked(e, "aborted by operator")
	ws := e.p.Workspace
	err = m.persistLocked(ctx, e)
	e.mu.Unlock()

	if err != nil {
		return err
	}
	m.publish(ev)
	m.releaseAsync(id, ws)
	return nil
}

// Escalate stops automated progress on a running pipeline and waits for an
// operator. The stage at the cursor is canceled and becomes the retry point.
func (m *Manager) Escalate(ctx context.Context, id, reason string) error {
	return m.escalate(ctx, id, reason, nil)
}

// StageRef pins the dispatch a caller observed: the cursor and the time the
// stage at the cursor started.
type StageRef struct {
	Index     int
	StartedAt time.Time
}

// EscalateStage escalates like Escalate, but only while the stage at the
// cursor is still the dispatch described by ref. A stage that finished, or
// was re-dispatched, in the meantime yields ErrStageChanged.
func (m *Manager) EscalateStage(ctx context.Context, id string, ref StageRef, reason string) error {
	return m.escalate(ctx, id, reason, &ref)
}

func (m *Manager) escalate(ctx context.Context, id, reason string, ref *StageRef) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "escalated by operator"
	}

	e.mu.Lock()
	if e.p.Status != StatusRunning {
		status := e.p.Status
		e.mu.Unlock()
		return errors.NewPipelineError("cannot escalate", errors.ErrPipelineNotRunning).
			WithPipelineID(id).WithStatus(status.String())
	}
	if ref != nil && !e.p.dispatchMatches(*ref) {
		e.mu.Unlock()
		return errors.NewPipelineError("cannot escalate", errors.ErrStageChanged).
			WithPipelineID(id).WithStatus(StatusRunning.String())
	}
	m.invalidateLocked(e)
	now := m.cfg.clock()
	e.p.escalate(reason, e.p.Cursor, nil, "", now)
	ev := e.p.record(event.PipelineEscalated, e.p.Cursor, reason, now)
	err = m.persistLocked(ctx, e)
	e.mu.Unlock()

	if err != nil {
		return err
	}
	m.logger.WithPipeline(id).Warn("pipeline escalated", "reason", reason)
	m.publish(ev)
	return nil
}

// ResumeFromEscalation applies an operator decision to an escalated
// pipeline. Retry resets the chosen stage's attempt counter and dispatches
// it; abort ends the pipeline.
func (m *Manager) ResumeFromEscalation(ctx context.Context, id string, d Decision) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	p := e.p
	status := p.Status
	switch {
	case status.IsFinal():
		e.mu.Unlock()
		return errors.NewPipelineError("cannot resume", errors.ErrPipelineTerminal).
			WithPipelineID(id).WithStatus(status.String())
	case status != StatusAwaitingEscalation:
		e.mu.Unlock()
		return errors.NewPipelineError("cannot resume", errors.ErrNotEscalated).
			WithPipelineID(id).WithStatus(status.String())
	}

	switch d.Action {
	case DecisionAbort:
		ev := m.abortLocked(e, "aborted after escalation")
		ws := p.Workspace
		err := m.persistLocked(ctx, e)
		e.mu.Unlock()
		if err != nil {
			return err
		}
		m.publish(ev)
		m.releaseAsync(id, ws)
		return nil

	case DecisionRetry:
		idx := p.Cursor
		if p.Escalation != nil {
			idx = p.Escalation.RetryIndex
		}
		if d.StageIndex != nil {
			idx = *d.StageIndex
		}
		if idx < 0 || idx > p.Cursor || idx >= len(p.Stages) {
			e.mu.Unlock()
			return errors.NewValidationError("stage index must be between 0 and the cursor").
				WithField("stage_index").WithValue(idx).WithCause(errors.ErrInvalidDecision)
		}

		now := m.cfg.clock()
		p.rewind(idx)
		p.Status = StatusRunning
		ev := p.record(event.PipelineResumed, idx, "retry from "+p.Stages[idx].Label(), now)
		launch := m.dispatchLocked(e)
		err := m.persistLocked(ctx, e)
		e.mu.Unlock()
		if err != nil {
			return err
		}
		m.logger.WithPipeline(id).Info("pipeline resumed", "stage_index", idx)
		m.publish(ev)
		launch()
		return nil

	default:
		e.mu.Unlock()
		return errors.NewValidationError("decision must be retry or abort").
			WithField("action").WithValue(string(d.Action)).WithCause(errors.ErrInvalidDecision)
	}
}

// Get returns a snapshot of one pipeline. The caller may modify it freely.
func (m *Manager) Get(id string) (*Pipeline, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p.Clone(), nil
}

// List returns snapshots of all pipelines, oldest first. With one or more
// statuses only pipelines in those statuses are returned.
func (m *Manager) List(statuses ...Status) []*Pipeline {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]*Pipeline, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if len(statuses) == 0 || slices.Contains(statuses, e.p.Status) {
			out = append(out, e.p.Clone())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b *Pipeline) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Delete removes a completed or aborted pipeline from memory and storage.
func (m *Manager) Delete(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if !e.p.Status.IsFinal() {
		status := e.p.Status
		e.mu.Unlock()
		return errors.NewPipelineError("cannot delete", errors.ErrPipelineActive).
			WithPipelineID(id).WithStatus(status.String())
	}
	err = m.store.Delete(ctx, id)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	m.logger.WithPipeline(id).Info("pipeline deleted")
	return nil
}

// Shutdown stops accepting outcomes, cancels in-flight stages and waits for
// their goroutines. Running pipelines stay Running in the store so that
// Recover picks them up on the next start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closing.Store(true)

	m.mu.RLock()
	for _, e := range m.entries {
		e.mu.Lock()
		if e.cancel != nil {
			e.cancel()
		}
		e.mu.Unlock()
	}
	m.mu.RUnlock()
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StageStarted implements Recorder. It records and publishes the start of a
// dispatch unless the dispatch has been superseded.
func (m *Manager) StageStarted(req StageRequest) error {
	e, err := m.lookup(req.PipelineID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if m.closing.Load() || e.seq != req.seq || e.p.Status != StatusRunning {
		e.mu.Unlock()
		return errSuperseded
	}
	detail := fmt.Sprintf("%s attempt %d/%d", req.Stage.Owner, req.Stage.Attempt, req.Stage.MaxAttempts)
	ev := e.p.record(event.StageStarted, req.StageIndex, detail, m.cfg.clock())
	err = m.persistLocked(m.ctx, e)
	e.mu.Unlock()

	if err != nil {
		return err
	}
	m.publish(ev)
	return nil
}

// StageFinished implements Recorder. It feeds the outcome through the
// transition engine, persists the result and dispatches the next stage.
func (m *Manager) StageFinished(req StageRequest, outcome StageOutcome) {
	e, err := m.lookup(req.PipelineID)
	if err != nil {
		return
	}
	log := m.logger.WithPipeline(req.PipelineID).WithStage(req.StageIndex, req.Stage.Label())

	e.mu.Lock()
	if m.closing.Load() || e.seq != req.seq || e.p.Status != StatusRunning {
		e.mu.Unlock()
		log.Debug("discarding outcome of superseded dispatch")
		return
	}

	if req.Stage.Kind == StageValidation && outcome.Succeeded() {
		if _, perr := ParseVerdict(req.Stage, outcome.RawPayload); perr != nil {
			log.Warn("validator payload not understood", "error", perr.Error())
		}
	}
	events := []event.PipelineEvent{e.p.recordOutcome(outcome, m.cfg.clock())}
	more, launch, release := m.transitionLocked(e, outcome, log)
	events = append(events, more...)
	ws := e.p.Workspace
	err = m.persistLocked(m.ctx, e)
	e.mu.Unlock()

	if err != nil {
		return
	}
	m.publish(events...)
	if release {
		m.release(req.PipelineID, ws)
	}
	launch()
}

// transitionLocked applies the engine's decision for the stage at the
// cursor. It returns the events produced, a function that launches the next
// dispatch (a no-op when none is needed), and whether the workspace should
// be released.
func (m *Manager) transitionLocked(e *entry, outcome StageOutcome, log *logging.Logger) ([]event.PipelineEvent, func(), bool) {
	action := NextAction(e.p, outcome)
	events := e.p.apply(action, m.cfg.clock())

	switch action.Kind {
	case ActionEscalate:
		log.Warn("pipeline escalated", "reason", action.Reason, "retry_index", action.Target)
	case ActionRetry:
		log.Info("retrying execution stage", "target", action.Target, "attempt", e.p.Stages[action.Target].Attempt)
	default:
		log.Info("transition", "action", string(action.Kind), "target", action.Target)
	}

	switch e.p.Status {
	case StatusRunning:
		return events, m.dispatchLocked(e), false
	case StatusCompleted:
		e.cancel = nil
		return events, func() {}, true
	default:
		e.cancel = nil
		return events, func() {}, false
	}
}

// dispatchLocked prepares the stage at the cursor and returns a function
// that starts it. The caller must persist and publish, then release e.mu,
// before calling the returned function.
func (m *Manager) dispatchLocked(e *entry) func() {
	p := e.p
	stage := p.prepareDispatch(m.cfg.clock())

	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	e.seq++
	e.cancel = cancel

	req := StageRequest{
		PipelineID:  p.ID,
		Project:     p.Project,
		Label:       p.Label,
		StageIndex:  p.Cursor,
		StageCount:  len(p.Stages),
		Stage:       stage.clone(),
		Workspace:   p.Workspace,
		PriorOutput: p.priorOutput(p.Cursor),
		seq:         e.seq,
	}
	if stage.Kind == StageExecution {
		req.RevisionPrompt = stage.RevisionPrompt
		req.Findings = slices.Clone(stage.Findings)
	}

	return func() {
		m.wg.Go(func() {
			defer cancel()
			m.runStage(ctx, req)
		})
	}
}

// runStage runs one dispatch. A panic inside the executor is converted into
// a Failure outcome instead of taking the process down.
func (m *Manager) runStage(ctx context.Context, req StageRequest) {
	var pc panics.Catcher
	pc.Try(func() { m.runner.Run(ctx, req, m) })
	if r := pc.Recovered(); r != nil {
		m.logger.WithPipeline(req.PipelineID).Error("stage runner panicked",
			"stage_index", req.StageIndex, "panic", fmt.Sprint(r.Value), "stack", string(r.Stack))
		m.StageFinished(req, FailureOutcome(r.AsError()))
	}
}

// abortLocked marks the pipeline aborted and cancels any in-flight stage.
func (m *Manager) abortLocked(e *entry, detail string) event.PipelineEvent {
	m.invalidateLocked(e)
	e.p.Status = StatusAborted
	m.logger.WithPipeline(e.p.ID).Info("pipeline aborted", "detail", detail)
	return e.p.record(event.PipelineAborted, e.p.Cursor, detail, m.cfg.clock())
}

// invalidateLocked makes any outstanding dispatch stale and asks it to stop.
func (m *Manager) invalidateLocked(e *entry) {
	e.seq++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// persistLocked saves the pipeline. When the save fails the pipeline is
// halted in memory: it is moved to AwaitingEscalation so no further stage
// is started from state that is not on disk.
func (m *Manager) persistLocked(ctx context.Context, e *entry) error {
	err := m.store.Save(ctx, e.p)
	if err == nil {
		return nil
	}
	m.logger.WithPipeline(e.p.ID).Error("failed to persist pipeline snapshot", "error", err.Error())
	if !e.p.Status.IsTerminal() {
		m.invalidateLocked(e)
		now := m.cfg.clock()
		reason := "persist snapshot: " + err.Error()
		e.p.escalate(reason, e.p.Cursor, nil, "", now)
		e.p.record(event.PipelineEscalated, e.p.Cursor, reason, now)
	}
	return errors.Wrapf(err, "persist pipeline %s", e.p.ID)
}

func (m *Manager) publish(events ...event.PipelineEvent) {
	for _, ev := range events {
		m.bus.Publish(ev)
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("pipeline", id).WithCause(errors.ErrPipelineNotFound)
	}
	return e, nil
}

func (m *Manager) release(id string, ws Workspace) {
	if ws.Path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.releaseTimeout)
	defer cancel()
	if err := m.prov.Release(ctx, ws); err != nil {
		m.logger.WithPipeline(id).Warn("failed to release workspace", "path", ws.Path, "error", err.Error())
		return
	}
	m.logger.WithPipeline(id).Debug("workspace released", "path", ws.Path)
}

func (m *Manager) releaseAsync(id string, ws Workspace) {
	m.wg.Go(func() { m.release(id, ws) })
}
