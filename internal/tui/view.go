package tui

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/util"
)

// Column widths of the pipeline table.
const (
	colID     = 10
	colLabel  = 20
	colStatus = 22
	colStage  = 24
	colAge    = 8
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	running := 0
	for _, p := range m.pipelines {
		if p.Status == pipeline.StatusRunning {
			running++
		}
	}
	b.WriteString(titleStyle.Render("foreman"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d pipelines, %d running", len(m.pipelines), running)))
	b.WriteString("\n\n")

	if len(m.pipelines) == 0 {
		b.WriteString(mutedStyle.Render("No pipelines yet."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderTable())
	}

	if m.detail {
		if p := m.selectedPipeline(); p != nil {
			b.WriteString("\n")
			b.WriteString(detailBox.Width(max(m.width-4, 40)).Render(m.renderDetail(p)))
			b.WriteString("\n")
		}
	}

	if len(m.activity) > 0 {
		b.WriteString("\n")
		b.WriteString(headerStyle.Render("Activity"))
		b.WriteString("\n")
		for _, line := range m.activity {
			b.WriteString(mutedStyle.Render(util.TruncateANSI(line, max(m.width-2, 20))))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderTable() string {
	var b strings.Builder
	header := util.PadANSI("ID", colID) + " " +
		util.PadANSI("LABEL", colLabel) + " " +
		util.PadANSI("STATUS", colStatus) + " " +
		util.PadANSI("STAGE", colStage) + " " +
		util.PadANSI("AGE", colAge) + " ATTEMPT"
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	now := m.clock()
	for i, p := range m.pipelines {
		s := p.Summarize()
		label := s.Label
		if label == "" {
			label = "-"
		}
		stage := fmt.Sprintf("%d/%d %s", s.Cursor+1, s.StageCount, s.CurrentStage)
		age := "-"
		if cur := p.Current(); cur != nil && cur.InFlight() {
			age = util.FormatAge(now.Sub(*cur.StartedAt))
		}
		attempt := "-"
		if cur := p.Current(); cur != nil && cur.Attempt > 0 {
			attempt = fmt.Sprintf("%d/%d", cur.Attempt, cur.MaxAttempts)
		}

		status := statusStyle(p.Status).Render(statusIcon(p.Status) + " " + string(p.Status))
		row := util.PadANSI(util.ShortID(p.ID), colID) + " " +
			util.PadANSI(label, colLabel) + " " +
			util.PadANSI(status, colStatus) + " " +
			util.PadANSI(stage, colStage) + " " +
			util.PadANSI(age, colAge) + " " + attempt

		if i == m.selected {
			row = selectedStyle.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderDetail(p *pipeline.Pipeline) string {
	var b strings.Builder
	title := p.ID
	if p.Label != "" {
		title = p.Label + "  " + mutedStyle.Render(p.ID)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	if p.Workspace.Path != "" {
		ws := p.Workspace.Path
		if p.Workspace.Branch != "" {
			ws += " (" + p.Workspace.Branch + ")"
		}
		b.WriteString(mutedStyle.Render("workspace " + ws))
		b.WriteString("\n")
	}

	for i, s := range p.Stages {
		marker := "  "
		switch {
		case i == p.Cursor && p.Status == pipeline.StatusRunning:
			marker = "▶ "
		case i == p.Cursor && p.Status == pipeline.StatusAwaitingEscalation:
			marker = warningStyle.Render("! ")
		case i < p.Cursor || (i == p.Cursor && p.Status == pipeline.StatusCompleted):
			marker = "✓ "
		}
		line := fmt.Sprintf("%s%2d %-26s %-12s", marker, i+1, s.Label(), s.Owner)
		if s.Attempt > 0 {
			line += fmt.Sprintf(" attempt %d/%d", s.Attempt, s.MaxAttempts)
		}
		if s.Verdict != nil {
			line += " " + string(s.Verdict.Kind)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if esc := p.Escalation; esc != nil && p.Status == pipeline.StatusAwaitingEscalation {
		b.WriteString("\n")
		b.WriteString(warningStyle.Render("Escalated: " + esc.Reason))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(fmt.Sprintf("retry would restart at stage %d (%s)",
			esc.RetryIndex+1, p.Stages[esc.RetryIndex].Label())))
		b.WriteString("\n")
		for _, f := range esc.Findings {
			b.WriteString(errorStyle.Render("  - " + f))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
