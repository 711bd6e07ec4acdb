package pipeline

import (
	"context"

	"github.com/Iron-Ham/foreman/internal/event"
)

// RecoveryReport summarizes what Recover did.
type RecoveryReport struct {
	// Restored counts pipelines loaded without further action.
	Restored int
	// Resumed counts running pipelines whose current stage was re-dispatched
	// or whose recorded outcome was fed to the transition engine.
	Resumed int
	// Skipped counts snapshots already present in memory.
	Skipped int
}

// Recover loads every persisted pipeline into the manager.
//
// Completed, aborted and escalated pipelines are restored as they are. A
// running pipeline whose current stage already has a result continues from
// that result, which reproduces the decision made before the restart. A
// running or pending pipeline without a result re-dispatches the stage at
// its cursor.
func (m *Manager) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	snapshots, err := m.store.List(ctx)
	if err != nil {
		return report, err
	}

	for _, p := range snapshots {
		e, fresh := m.adopt(p)
		if !fresh {
			report.Skipped++
			continue
		}
		if !m.resumeRecovered(ctx, e) {
			report.Restored++
			continue
		}
		report.Resumed++
	}

	m.logger.Info("recovered pipelines",
		"restored", report.Restored, "resumed", report.Resumed, "skipped", report.Skipped)
	return report, nil
}

// adopt registers p unless a pipeline with its ID is already loaded.
func (m *Manager) adopt(p *Pipeline) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[p.ID]; ok {
		return nil, false
	}
	e := &entry{p: p}
	m.entries[p.ID] = e
	return e, true
}

// resumeRecovered restarts automated progress for a freshly adopted
// pipeline and reports whether it did anything.
func (m *Manager) resumeRecovered(ctx context.Context, e *entry) bool {
	e.mu.Lock()
	p := e.p
	log := m.logger.WithPipeline(p.ID)

	if p.Status != StatusRunning && p.Status != StatusPending {
		e.mu.Unlock()
		return false
	}

	cur := p.Current()
	if cur == nil {
		now := m.cfg.clock()
		p.escalate("cursor out of range after recovery", 0, nil, "", now)
		ev := p.record(event.PipelineEscalated, p.Cursor, p.Escalation.Reason, now)
		err := m.persistLocked(ctx, e)
		e.mu.Unlock()
		if err == nil {
			m.publish(ev)
		}
		return true
	}

	p.Status = StatusRunning
	var (
		events  []event.PipelineEvent
		launch  func()
		release bool
	)
	if cur.Result != nil {
		log.Info("continuing from recorded outcome", "stage_index", p.Cursor)
		events, launch, release = m.transitionLocked(e, *cur.Result, log.WithStage(p.Cursor, cur.Label()))
	} else {
		log.Info("re-dispatching interrupted stage", "stage_index", p.Cursor, "attempt", cur.Attempt)
		launch = m.dispatchLocked(e)
	}
	ws := p.Workspace
	err := m.persistLocked(ctx, e)
	e.mu.Unlock()

	if err != nil {
		return true
	}
	m.publish(events...)
	if release {
		m.release(p.ID, ws)
	}
	launch()
	return true
}
