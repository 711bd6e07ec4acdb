// Package event defines the lifecycle events foreman publishes and the bus
// that carries them to the UI, HTTP stream and monitor.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier such as "stage.started".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// PipelineScoped is implemented by events that belong to one pipeline.
type PipelineScoped interface {
	Pipeline() string
}

// Kind identifies a pipeline lifecycle event.
type Kind string

// Pipeline lifecycle event kinds.
const (
	PipelineCreated   Kind = "pipeline.created"
	StageStarted      Kind = "stage.started"
	StageFinished     Kind = "stage.finished"
	PipelineAdvanced  Kind = "pipeline.advanced"
	PipelineRetrying  Kind = "pipeline.retrying"
	PipelineEscalated Kind = "pipeline.escalated"
	PipelineResumed   Kind = "pipeline.resumed"
	PipelineCompleted Kind = "pipeline.completed"
	PipelineAborted   Kind = "pipeline.aborted"
)

// Kinds lists every pipeline event kind in lifecycle order.
func Kinds() []Kind {
	return []Kind{
		PipelineCreated, StageStarted, StageFinished, PipelineAdvanced,
		PipelineRetrying, PipelineEscalated, PipelineResumed,
		PipelineCompleted, PipelineAborted,
	}
}

// IsTerminal reports whether the kind marks the end of automated progress.
func (k Kind) IsTerminal() bool {
	switch k {
	case PipelineEscalated, PipelineCompleted, PipelineAborted:
		return true
	}
	return false
}

// PipelineEvent is an immutable fact about one pipeline. It is both
// published on the bus and appended to the pipeline's persisted event log,
// so it carries JSON tags.
type PipelineEvent struct {
	PipelineID string    `json:"pipeline_id"`
	At         time.Time `json:"timestamp"`
	Kind       Kind      `json:"kind"`
	StageIndex int       `json:"stage_index"`
	Detail     string    `json:"detail,omitempty"`
}

// NewPipelineEvent creates a PipelineEvent stamped with the current time.
func NewPipelineEvent(pipelineID string, kind Kind, stageIndex int, detail string) PipelineEvent {
	return PipelineEvent{
		PipelineID: pipelineID,
		At:         time.Now().UTC(),
		Kind:       kind,
		StageIndex: stageIndex,
		Detail:     detail,
	}
}

func (e PipelineEvent) EventType() string    { return string(e.Kind) }
func (e PipelineEvent) Timestamp() time.Time { return e.At }
func (e PipelineEvent) Pipeline() string     { return e.PipelineID }

// StageStalledEvent is emitted by the stall monitor when it escalates a
// stage that has been in flight longer than the configured timeout.
type StageStalledEvent struct {
	PipelineID string
	StageIndex int
	Since      time.Time
	at         time.Time
}

// NewStageStalledEvent creates a StageStalledEvent.
func NewStageStalledEvent(pipelineID string, stageIndex int, since time.Time) StageStalledEvent {
	return StageStalledEvent{
		PipelineID: pipelineID,
		StageIndex: stageIndex,
		Since:      since,
		at:         time.Now().UTC(),
	}
}

func (e StageStalledEvent) EventType() string    { return "stage.stalled" }
func (e StageStalledEvent) Timestamp() time.Time { return e.at }
func (e StageStalledEvent) Pipeline() string     { return e.PipelineID }
