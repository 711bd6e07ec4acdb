package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/Iron-Ham/foreman/internal/event"
)

// ActionKind is the decision the transition engine makes after a stage
// finishes.
type ActionKind string

const (
	ActionAdvance  ActionKind = "advance"
	ActionRetry    ActionKind = "retry"
	ActionEscalate ActionKind = "escalate"
	ActionComplete ActionKind = "complete"
)

// Escalation reasons produced by the engine.
const (
	ReasonExecutionFailed   = "execution stage failed"
	ReasonValidatorNoResult = "validator failed to produce a verdict"
	ReasonRevisionExhausted = "revision attempts exhausted"
	ReasonNoExecutionStage  = "validation stage has no preceding execution stage"
)

// Action is what the manager must do next.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Target is the stage to dispatch for advance and retry, and the stage a
	// later operator retry should restart from for escalate.
	Target         int      `json:"target"`
	RevisionPrompt string   `json:"revision_prompt,omitempty"`
	Findings       []string `json:"findings,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// NextAction computes the next action for p given the outcome of the stage
// at its cursor. It reads p but never modifies it, so identical inputs
// always produce identical actions.
//
// Execution failures escalate. Execution successes advance, or complete on
// the last stage. A crashed validator escalates. A Complete verdict advances
// or completes. A Revision verdict retries the preceding execution stage
// while it has attempts left and escalates once they are exhausted. A Failed
// verdict escalates with the verdict's reason.
func NextAction(p *Pipeline, outcome StageOutcome) Action {
	idx := p.Cursor
	stage := p.Stages[idx]

	if stage.Kind == StageExecution {
		if !outcome.Succeeded() {
			return Action{Kind: ActionEscalate, Target: idx, Reason: ReasonExecutionFailed}
		}
		return advanceFrom(p, idx)
	}

	if !outcome.Succeeded() {
		return Action{Kind: ActionEscalate, Target: idx, Reason: ReasonValidatorNoResult}
	}

	verdict := Interpret(stage, outcome)
	prev := idx - 1
	hasExecution := prev >= 0 && p.Stages[prev].Kind == StageExecution

	switch verdict.Kind {
	case VerdictComplete:
		return advanceFrom(p, idx)

	case VerdictRevision:
		if !hasExecution {
			return Action{Kind: ActionEscalate, Target: idx, Reason: ReasonNoExecutionStage, Findings: verdict.Findings}
		}
		if CheckAttempt(p.Stages[prev]) == AttemptExhausted {
			return Action{
				Kind:           ActionEscalate,
				Target:         prev,
				Reason:         ReasonRevisionExhausted,
				RevisionPrompt: verdict.RevisionPrompt,
				Findings:       verdict.Findings,
			}
		}
		return Action{
			Kind:           ActionRetry,
			Target:         prev,
			RevisionPrompt: verdict.RevisionPrompt,
			Findings:       verdict.Findings,
			Reason:         verdict.Reason,
		}

	default:
		// An unparseable payload is the validator's fault; retrying means
		// judging again. A real rejection sends the work back.
		target := idx
		if hasExecution && verdict.Reason != ReasonUnparseable {
			target = prev
		}
		return Action{Kind: ActionEscalate, Target: target, Reason: verdict.Reason, Findings: verdict.Findings}
	}
}

func advanceFrom(p *Pipeline, idx int) Action {
	if p.IsLast(idx) {
		return Action{Kind: ActionComplete, Target: idx}
	}
	return Action{Kind: ActionAdvance, Target: idx + 1}
}

// recordOutcome stores the outcome of the stage at the cursor, interprets
// it for validation stages, and returns the StageFinished event.
func (p *Pipeline) recordOutcome(outcome StageOutcome, now time.Time) event.PipelineEvent {
	stage := &p.Stages[p.Cursor]
	result := outcome
	stage.Result = &result
	stage.FinishedAt = &now
	if stage.Kind == StageValidation {
		v := Interpret(*stage, outcome)
		stage.Verdict = &v
	}

	detail := string(outcome.ExitStatus)
	if stage.Verdict != nil {
		detail += ": " + string(stage.Verdict.Kind)
	}
	if outcome.Error != "" {
		detail += ": " + outcome.Error
	}
	return p.record(event.StageFinished, p.Cursor, detail, now)
}

// apply mutates p according to action and returns the events it produced.
// The caller dispatches the stage at the cursor afterwards when the
// pipeline is still running.
func (p *Pipeline) apply(action Action, now time.Time) []event.PipelineEvent {
	from := p.Cursor

	switch action.Kind {
	case ActionAdvance:
		p.Cursor = action.Target
		p.Stages[p.Cursor].clearRun()
		next := p.Stages[p.Cursor]
		return []event.PipelineEvent{
			p.record(event.PipelineAdvanced, p.Cursor, fmt.Sprintf("%s -> %s", p.Stages[from].Label(), next.Label()), now),
		}

	case ActionRetry:
		target := &p.Stages[action.Target]
		RecordAttempt(target)
		target.clearRun()
		target.RevisionPrompt = action.RevisionPrompt
		target.Findings = slices.Clone(action.Findings)
		p.Revisions = append(p.Revisions, Revision{
			StageIndex: action.Target,
			Attempt:    target.Attempt,
			Reason:     action.Reason,
			Prompt:     action.RevisionPrompt,
			Findings:   slices.Clone(action.Findings),
			At:         now,
		})
		p.Cursor = action.Target
		return []event.PipelineEvent{
			p.record(event.PipelineRetrying, p.Cursor,
				fmt.Sprintf("attempt %d/%d: %s", target.Attempt, target.MaxAttempts, action.RevisionPrompt), now),
		}

	case ActionEscalate:
		p.escalate(action.Reason, action.Target, action.Findings, action.RevisionPrompt, now)
		return []event.PipelineEvent{p.record(event.PipelineEscalated, p.Cursor, action.Reason, now)}

	case ActionComplete:
		p.Status = StatusCompleted
		return []event.PipelineEvent{p.record(event.PipelineCompleted, p.Cursor, "", now)}
	}
	return nil
}

// escalate moves p to AwaitingEscalation and records the context an
// operator needs to decide what to do.
func (p *Pipeline) escalate(reason string, retryIndex int, findings []string, prompt string, now time.Time) {
	p.Status = StatusAwaitingEscalation
	history := slices.Clone(p.Revisions)
	if prompt != "" {
		history = append(history, Revision{
			StageIndex: retryIndex,
			Attempt:    p.Stages[retryIndex].Attempt,
			Reason:     reason,
			Prompt:     prompt,
			Findings:   slices.Clone(findings),
			At:         now,
		})
	}
	p.Escalation = &Escalation{
		Reason:          reason,
		StageIndex:      p.Cursor,
		RetryIndex:      retryIndex,
		Findings:        slices.Clone(findings),
		RevisionHistory: history,
		At:              now,
	}
}

// prepareDispatch readies the stage at the cursor to run and returns it.
// Execution stages count their first run as attempt 1. Validation stages
// mirror the attempt of the execution stage they judge.
func (p *Pipeline) prepareDispatch(now time.Time) *Stage {
	stage := &p.Stages[p.Cursor]
	switch stage.Kind {
	case StageExecution:
		if stage.Attempt == 0 {
			stage.Attempt = 1
		}
	case StageValidation:
		if p.Cursor > 0 {
			stage.Attempt = p.Stages[p.Cursor-1].Attempt
		}
		if stage.Attempt == 0 {
			stage.Attempt = 1
		}
	}
	stage.clearRun()
	stage.StartedAt = &now
	p.UpdatedAt = now
	return stage
}

// clearRun forgets the previous run of a stage that is about to run again.
// A leftover result would otherwise be mistaken for the new run's outcome
// during recovery.
func (s *Stage) clearRun() {
	s.Result = nil
	s.Verdict = nil
	s.StartedAt = nil
	s.FinishedAt = nil
}

// priorOutput returns the artifact the stage at idx builds on: for an
// execution stage the output of the nearest earlier execution stage, for a
// validation stage the output it judges.
func (p *Pipeline) priorOutput(idx int) string {
	if p.Stages[idx].Kind == StageValidation {
		if idx > 0 {
			return outputOf(p.Stages[idx-1])
		}
		return p.Stages[idx].ExpectedOutput
	}
	for i := idx - 1; i >= 0; i-- {
		if p.Stages[i].Kind == StageExecution {
			return outputOf(p.Stages[i])
		}
	}
	return ""
}

func outputOf(s Stage) string {
	if s.Result != nil && s.Result.OutputPath != "" {
		return s.Result.OutputPath
	}
	return s.ExpectedOutput
}

// rewind moves the cursor back to idx for an operator retry. Every stage
// from idx to the old cursor forgets its last run, and idx gets a fresh
// attempt budget. An execution stage inherits the corrective context of the
// escalation that stopped it.
func (p *Pipeline) rewind(idx int) {
	for i := idx; i <= p.Cursor && i < len(p.Stages); i++ {
		p.Stages[i].clearRun()
	}
	target := &p.Stages[idx]
	ResetAttempts(target)

	if esc := p.Escalation; esc != nil && target.Kind == StageExecution {
		if n := len(esc.RevisionHistory); n > 0 && esc.RevisionHistory[n-1].StageIndex == idx {
			last := esc.RevisionHistory[n-1]
			target.RevisionPrompt = last.Prompt
			target.Findings = slices.Clone(last.Findings)
		}
		if esc.RetryIndex == idx && len(esc.Findings) > 0 {
			target.Findings = slices.Clone(esc.Findings)
		}
	}

	p.Escalation = nil
	p.Cursor = idx
}
