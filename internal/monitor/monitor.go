// Package monitor escalates pipelines whose current stage has been running
// longer than the configured stall timeout. It acts only through the
// manager's public commands, the same way an operator would.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// Target is the part of the pipeline manager the monitor drives.
type Target interface {
	List(statuses ...pipeline.Status) []*pipeline.Pipeline
	// EscalateStage escalates id only while ref is still the stage in flight.
	EscalateStage(ctx context.Context, id string, ref pipeline.StageRef, reason string) error
}

// Config holds the stall detection thresholds.
type Config struct {
	// StallTimeout is how long a stage may stay in flight. Zero disables the monitor.
	StallTimeout time.Duration
	// Interval is how often running pipelines are scanned.
	Interval time.Duration
}

// Monitor periodically scans running pipelines for stalled stages.
type Monitor struct {
	target Target
	bus    *event.Bus
	cfg    Config
	logger *logging.Logger
	clock  func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source used to age stages.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// New creates a Monitor. bus may be nil, in which case no stall events are
// published.
func New(target Target, bus *event.Bus, cfg Config, logger *logging.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	m := &Monitor{
		target: target,
		bus:    bus,
		cfg:    cfg,
		logger: logger.WithComponent("monitor"),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the scan loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.cfg.StallTimeout <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(ctx, m.done)
	m.logger.Info("stall monitor started",
		"stall_timeout", m.cfg.StallTimeout.String(),
		"interval", m.cfg.Interval.String())
}

// Stop ends the scan loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.running = false
	m.mu.Unlock()

	<-done
	m.logger.Info("stall monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan escalates every running pipeline whose current stage has been in
// flight longer than the stall timeout and returns their IDs. A pipeline
// whose status or current stage changed between listing and escalation is
// skipped.
func (m *Monitor) Scan(ctx context.Context) []string {
	if m.cfg.StallTimeout <= 0 {
		return nil
	}
	now := m.clock()

	var escalated []string
	for _, p := range m.target.List(pipeline.StatusRunning) {
		stage := p.Current()
		if stage == nil || !stage.InFlight() {
			continue
		}
		since := *stage.StartedAt
		age := now.Sub(since)
		if age < m.cfg.StallTimeout {
			continue
		}

		log := m.logger.WithPipeline(p.ID).WithStage(p.Cursor, stage.Label())
		reason := fmt.Sprintf("stage %s stalled: no result after %s", stage.Label(), age.Truncate(time.Second))
		ref := pipeline.StageRef{Index: p.Cursor, StartedAt: since}
		if err := m.target.EscalateStage(ctx, p.ID, ref, reason); err != nil {
			log.Debug("stalled pipeline not escalated", "error", err.Error())
			continue
		}

		log.Warn("stage stalled", "since", since.Format(time.RFC3339), "age", age.String())
		if m.bus != nil {
			m.bus.Publish(event.NewStageStalledEvent(p.ID, p.Cursor, since))
		}
		escalated = append(escalated, p.ID)
	}
	return escalated
}
