// Package tui renders a live board of pipelines with bubbletea.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// activityLimit is how many recent events the activity pane keeps.
const activityLimit = 8

// Source supplies pipeline snapshots to the board.
type Source interface {
	List(statuses ...pipeline.Status) []*pipeline.Pipeline
}

// eventMsg carries a bus event into the update loop.
type eventMsg struct {
	ev event.Event
}

// tickMsg refreshes ages once a second.
type tickMsg time.Time

// Model is the bubbletea model of the board.
type Model struct {
	source Source
	clock  func() time.Time

	pipelines []*pipeline.Pipeline
	selected  int
	detail    bool
	activity  []string

	// follow is the pipeline whose end closes the board, if any.
	follow   string
	finished *pipeline.Pipeline

	keys   keyMap
	help   help.Model
	width  int
	height int
}

// NewModel creates a board over source. When follow is set the board quits
// once that pipeline stops making automated progress.
func NewModel(source Source, follow string) Model {
	m := Model{
		source: source,
		clock:  time.Now,
		follow: follow,
		detail: follow != "",
		keys:   defaultKeyMap(),
		help:   help.New(),
		width:  100,
		height: 30,
	}
	m.refresh()
	return m
}

// Finished returns the followed pipeline's snapshot once it stopped, or nil.
func (m Model) Finished() *pipeline.Pipeline {
	return m.finished
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selected < len(m.pipelines)-1 {
				m.selected++
			}
		case key.Matches(msg, m.keys.Detail):
			m.detail = !m.detail
		}
		return m, nil

	case eventMsg:
		m.record(msg.ev)
		m.refresh()
		if m.followDone() {
			return m, tea.Quit
		}
		return m, nil

	case tickMsg:
		m.refresh()
		if m.followDone() {
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

// refresh reloads snapshots and keeps the selection on the same pipeline.
func (m *Model) refresh() {
	var selectedID string
	if p := m.selectedPipeline(); p != nil {
		selectedID = p.ID
	} else if m.follow != "" {
		selectedID = m.follow
	}

	m.pipelines = m.source.List()
	m.selected = 0
	for i, p := range m.pipelines {
		if p.ID == selectedID {
			m.selected = i
			break
		}
	}
}

func (m *Model) record(ev event.Event) {
	line := fmt.Sprintf("%s %s", ev.Timestamp().Local().Format("15:04:05"), ev.EventType())
	switch e := ev.(type) {
	case event.PipelineEvent:
		line += fmt.Sprintf(" #%d", e.StageIndex)
		if e.Detail != "" {
			line += " " + e.Detail
		}
	case event.StageStalledEvent:
		line += fmt.Sprintf(" #%d", e.StageIndex)
	}
	m.activity = append(m.activity, line)
	if len(m.activity) > activityLimit {
		m.activity = m.activity[len(m.activity)-activityLimit:]
	}
}

func (m *Model) followDone() bool {
	if m.follow == "" || m.finished != nil {
		return m.finished != nil
	}
	for _, p := range m.pipelines {
		if p.ID == m.follow && p.Status.IsTerminal() {
			m.finished = p
			return true
		}
	}
	return false
}

func (m Model) selectedPipeline() *pipeline.Pipeline {
	if m.selected < 0 || m.selected >= len(m.pipelines) {
		return nil
	}
	return m.pipelines[m.selected]
}
