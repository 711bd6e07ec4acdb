package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/foreman/internal/event"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// App wraps the Bubbletea program
type App struct {
	model Model
	bus   *event.Bus
}

// New creates a board over source that refreshes on events from bus.
func New(source Source, bus *event.Bus, follow string) *App {
	return &App{model: NewModel(source, follow), bus: bus}
}

// Run shows the board until the user quits, ctx is canceled or the followed
// pipeline stops. It returns the followed pipeline's final snapshot, if any.
func (a *App) Run(ctx context.Context) (*pipeline.Pipeline, error) {
	program := tea.NewProgram(a.model, tea.WithAltScreen(), tea.WithContext(ctx))

	if a.bus != nil {
		subID := a.bus.SubscribeAll(func(e event.Event) {
			// Send blocks until the program reads it; never hold the bus up.
			go program.Send(eventMsg{ev: e})
		})
		defer a.bus.Unsubscribe(subID)
	}

	final, err := program.Run()
	if m, ok := final.(Model); ok {
		a.model = m
	}
	if err != nil && ctx.Err() == nil {
		return a.model.Finished(), err
	}
	return a.model.Finished(), nil
}
