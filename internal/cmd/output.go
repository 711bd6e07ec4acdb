package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/util"
)

const (
	listIDWidth     = 26
	listStatusWidth = 20
	listStageWidth  = 24
	detailMaxWidth  = 72
)

// writeEventLine prints one lifecycle event as
// "15:04:05 stage.finished     [3] implement/validate: success: revision".
func writeEventLine(w io.Writer, at time.Time, kind string, stageIndex int, stage, detail string) {
	line := fmt.Sprintf("%s %-19s [%d] %s", at.Local().Format("15:04:05"), kind, stageIndex, stage)
	if detail != "" {
		line += ": " + util.TruncateString(detail, detailMaxWidth)
	}
	fmt.Fprintln(w, line)
}

// stageLabel returns the label of stage idx, or "" when p does not have it.
func stageLabel(p *pipeline.Pipeline, idx int) string {
	if p == nil || idx < 0 || idx >= len(p.Stages) {
		return ""
	}
	return p.Stages[idx].Label()
}

func writeSummaries(w io.Writer, summaries []pipeline.Summary, now time.Time) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No pipelines.")
		return
	}

	fmt.Fprintf(w, "%s %s %s %-8s %s\n",
		util.PadANSI("ID", listIDWidth),
		util.PadANSI("STATUS", listStatusWidth),
		util.PadANSI("STAGE", listStageWidth),
		"UPDATED", "LABEL")
	for _, s := range summaries {
		stage := fmt.Sprintf("%d/%d %s", s.Cursor+1, s.StageCount, s.CurrentStage)
		if s.Attempt > 1 {
			stage += fmt.Sprintf(" #%d", s.Attempt)
		}
		label := s.Label
		if s.Project != "" {
			label = s.Project + ": " + label
		}
		fmt.Fprintf(w, "%s %s %s %-8s %s\n",
			util.PadANSI(s.ID, listIDWidth),
			util.PadANSI(string(s.Status), listStatusWidth),
			util.PadANSI(util.TruncateString(stage, listStageWidth), listStageWidth),
			util.FormatAge(now.Sub(s.UpdatedAt)),
			label)
	}
}

// writePipeline prints the detailed view used by show and by run once a
// pipeline stops.
func writePipeline(w io.Writer, p *pipeline.Pipeline, events int) {
	fmt.Fprintf(w, "Pipeline: %s\n", p.ID)
	if p.Label != "" {
		fmt.Fprintf(w, "Label:    %s\n", p.Label)
	}
	if p.Project != "" {
		fmt.Fprintf(w, "Project:  %s\n", p.Project)
	}
	fmt.Fprintf(w, "Status:   %s\n", p.Status)
	fmt.Fprintf(w, "Created:  %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if p.Workspace.Path != "" {
		ws := p.Workspace.Path
		if p.Workspace.Branch != "" {
			ws += " (" + p.Workspace.Branch + ")"
		}
		fmt.Fprintf(w, "Workspace: %s\n", ws)
	}

	fmt.Fprintln(w, "\nStages:")
	for i, s := range p.Stages {
		fmt.Fprintf(w, "  %s [%d] %-24s %-10s %s\n", stageMarker(p, i), i, s.Label(), s.Owner, stageState(s))
	}

	if esc := p.Escalation; esc != nil && p.Status == pipeline.StatusAwaitingEscalation {
		fmt.Fprintf(w, "\nEscalated: %s\n", esc.Reason)
		for _, f := range esc.Findings {
			fmt.Fprintf(w, "  - %s\n", f)
		}
		fmt.Fprintf(w, "Retry would restart at stage %d (%s)\n", esc.RetryIndex, stageLabel(p, esc.RetryIndex))
		if n := len(esc.RevisionHistory); n > 0 {
			fmt.Fprintf(w, "Revisions: %d\n", n)
			for _, r := range esc.RevisionHistory {
				fmt.Fprintf(w, "  [%d] attempt %d: %s\n", r.StageIndex, r.Attempt, util.TruncateString(r.Prompt, detailMaxWidth))
			}
		}
	}

	if events > 0 && len(p.Events) > 0 {
		fmt.Fprintln(w, "\nRecent events:")
		start := max(len(p.Events)-events, 0)
		for _, ev := range p.Events[start:] {
			fmt.Fprint(w, "  ")
			writeEventLine(w, ev.At, string(ev.Kind), ev.StageIndex, stageLabel(p, ev.StageIndex), ev.Detail)
		}
	}
}

func stageMarker(p *pipeline.Pipeline, idx int) string {
	switch {
	case p.Status == pipeline.StatusCompleted || idx < p.Cursor:
		return "✓"
	case idx == p.Cursor && p.Status == pipeline.StatusAwaitingEscalation:
		return "!"
	case idx == p.Cursor && p.Status == pipeline.StatusAborted:
		return "✗"
	case idx == p.Cursor:
		return "▶"
	default:
		return "·"
	}
}

func stageState(s pipeline.Stage) string {
	var parts []string
	if s.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt %d/%d", s.Attempt, s.MaxAttempts))
	}
	switch {
	case s.InFlight():
		parts = append(parts, "running")
	case s.Result != nil:
		parts = append(parts, string(s.Result.ExitStatus))
	}
	if s.Verdict != nil {
		parts = append(parts, string(s.Verdict.Kind))
	}
	return strings.Join(parts, ", ")
}
