package pipeline

import (
	"slices"
	"time"

	"github.com/Iron-Ham/foreman/internal/event"
)

// StageKind distinguishes work stages from judgment stages.
type StageKind string

const (
	// StageExecution is a stage in which the owner produces an artifact.
	StageExecution StageKind = "execution"
	// StageValidation is a stage in which a validator judges the preceding
	// execution stage's artifact and renders a Verdict.
	StageValidation StageKind = "validation"
)

// Status is the lifecycle state of a pipeline.
type Status string

const (
	StatusPending            Status = "pending"
	StatusRunning            Status = "running"
	StatusAwaitingEscalation Status = "awaiting_escalation"
	StatusCompleted          Status = "completed"
	StatusAborted            Status = "aborted"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether automated progress has stopped. Escalation is
// terminal for the engine; only an operator command moves a pipeline out of it.
func (s Status) IsTerminal() bool {
	return s == StatusAwaitingEscalation || s == StatusCompleted || s == StatusAborted
}

// IsFinal reports whether the pipeline can never run again.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// ParseStatus converts a string into a Status. The second result is false
// for unknown values.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusRunning, StatusAwaitingEscalation, StatusCompleted, StatusAborted:
		return st, true
	}
	return "", false
}

// ExitStatus is the coarse result of running a stage.
type ExitStatus string

const (
	ExitSuccess ExitStatus = "success"
	ExitFailure ExitStatus = "failure"
)

// StageOutcome is the normalized result of one stage run.
type StageOutcome struct {
	ExitStatus ExitStatus `json:"exit_status"`
	OutputPath string     `json:"output_path,omitempty"`
	// RawPayload is the validator's unparsed output. It is kept as a string
	// so that malformed payloads survive a snapshot round trip unchanged.
	RawPayload string `json:"raw_payload,omitempty"`
	// Error describes an executor transport failure, if that is why the
	// stage failed.
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether the outcome is a success.
func (o StageOutcome) Succeeded() bool {
	return o.ExitStatus == ExitSuccess
}

// FailureOutcome builds a Failure outcome carrying a transport error message.
func FailureOutcome(err error) StageOutcome {
	o := StageOutcome{ExitStatus: ExitFailure}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// Stage is one unit of work in a pipeline's flattened sequence.
type Stage struct {
	// Name is the phase or role the stage belongs to. An execution stage and
	// its validation stage share a name.
	Name           string        `json:"name"`
	Kind           StageKind     `json:"kind"`
	Owner          string        `json:"owner"`
	ExpectedOutput string        `json:"expected_output"`
	Attempt        int           `json:"attempt"`
	MaxAttempts    int           `json:"max_attempts"`
	Result         *StageOutcome `json:"result,omitempty"`

	// Verdict is the interpretation of Result for validation stages.
	Verdict *Verdict `json:"verdict,omitempty"`

	// RevisionPrompt and Findings carry corrective context into the next
	// run of an execution stage.
	RevisionPrompt string   `json:"revision_prompt,omitempty"`
	Findings       []string `json:"findings,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Label returns "name" for execution stages and "name/validate" for
// validation stages.
func (s Stage) Label() string {
	if s.Kind == StageValidation {
		return s.Name + "/validate"
	}
	return s.Name
}

// InFlight reports whether the stage has been started and has no result yet.
func (s Stage) InFlight() bool {
	return s.StartedAt != nil && s.Result == nil
}

func (s Stage) clone() Stage {
	c := s
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	if s.Verdict != nil {
		v := s.Verdict.clone()
		c.Verdict = &v
	}
	c.Findings = slices.Clone(s.Findings)
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// Revision records one Revision verdict that sent an execution stage back
// for another attempt.
type Revision struct {
	StageIndex int       `json:"stage_index"`
	Attempt    int       `json:"attempt"`
	Reason     string    `json:"reason,omitempty"`
	Prompt     string    `json:"prompt"`
	Findings   []string  `json:"findings,omitempty"`
	At         time.Time `json:"at"`
}

// Escalation explains why automated progress stopped. RetryIndex is the
// stage that a "retry" decision re-dispatches by default.
type Escalation struct {
	Reason          string     `json:"reason"`
	StageIndex      int        `json:"stage_index"`
	RetryIndex      int        `json:"retry_index"`
	Findings        []string   `json:"findings,omitempty"`
	RevisionHistory []Revision `json:"revision_history,omitempty"`
	At              time.Time  `json:"at"`
}

// Workspace is the handle returned by a provisioner. It is persisted with
// the pipeline so that it can be released after a restart.
type Workspace struct {
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
}

// Pipeline is one workflow instance. Stages are fixed at creation; Cursor
// is the only pointer that moves.
type Pipeline struct {
	ID         string                `json:"id"`
	Project    string                `json:"project,omitempty"`
	Label      string                `json:"label,omitempty"`
	Workspace  Workspace             `json:"workspace"`
	Stages     []Stage               `json:"stages"`
	Cursor     int                   `json:"cursor"`
	Status     Status                `json:"status"`
	Events     []event.PipelineEvent `json:"events"`
	Revisions  []Revision            `json:"revisions,omitempty"`
	Escalation *Escalation           `json:"escalation,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Current returns the stage at the cursor, or nil if the cursor is out of range.
func (p *Pipeline) Current() *Stage {
	if p.Cursor < 0 || p.Cursor >= len(p.Stages) {
		return nil
	}
	return &p.Stages[p.Cursor]
}

// dispatchMatches reports whether the stage at the cursor is still the
// in-flight dispatch ref was taken from.
func (p *Pipeline) dispatchMatches(ref StageRef) bool {
	cur := p.Current()
	if p.Cursor != ref.Index || cur == nil || !cur.InFlight() {
		return false
	}
	return cur.StartedAt.Equal(ref.StartedAt)
}

// IsLast reports whether idx is the final stage.
func (p *Pipeline) IsLast(idx int) bool {
	return idx == len(p.Stages)-1
}

// LastEvent returns the most recent event, if any.
func (p *Pipeline) LastEvent() (event.PipelineEvent, bool) {
	if len(p.Events) == 0 {
		return event.PipelineEvent{}, false
	}
	return p.Events[len(p.Events)-1], true
}

// record appends an event to the log and returns it for publishing.
func (p *Pipeline) record(kind event.Kind, stageIndex int, detail string, now time.Time) event.PipelineEvent {
	ev := event.PipelineEvent{
		PipelineID: p.ID,
		At:         now,
		Kind:       kind,
		StageIndex: stageIndex,
		Detail:     detail,
	}
	p.Events = append(p.Events, ev)
	p.UpdatedAt = now
	return ev
}

// Clone returns a deep copy that shares no mutable state with p.
func (p *Pipeline) Clone() *Pipeline {
	c := *p
	c.Stages = make([]Stage, len(p.Stages))
	for i, s := range p.Stages {
		c.Stages[i] = s.clone()
	}
	// Events and revisions are never modified after being appended.
	c.Events = slices.Clone(p.Events)
	c.Revisions = slices.Clone(p.Revisions)
	if p.Escalation != nil {
		esc := *p.Escalation
		esc.Findings = slices.Clone(p.Escalation.Findings)
		esc.RevisionHistory = slices.Clone(p.Escalation.RevisionHistory)
		c.Escalation = &esc
	}
	return &c
}

// Summary is the list view of a pipeline.
type Summary struct {
	ID           string    `json:"id"`
	Project      string    `json:"project,omitempty"`
	Label        string    `json:"label,omitempty"`
	Status       Status    `json:"status"`
	Cursor       int       `json:"cursor"`
	StageCount   int       `json:"stage_count"`
	CurrentStage string    `json:"current_stage"`
	Attempt      int       `json:"attempt"`
	LastEvent    string    `json:"last_event,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summarize builds the list view of p.
func (p *Pipeline) Summarize() Summary {
	s := Summary{
		ID:         p.ID,
		Project:    p.Project,
		Label:      p.Label,
		Status:     p.Status,
		Cursor:     p.Cursor,
		StageCount: len(p.Stages),
		UpdatedAt:  p.UpdatedAt,
	}
	if cur := p.Current(); cur != nil {
		s.CurrentStage = cur.Label()
		s.Attempt = cur.Attempt
	}
	if ev, ok := p.LastEvent(); ok {
		s.LastEvent = string(ev.Kind)
	}
	return s
}
