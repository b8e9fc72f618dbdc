package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the board until the user quits or ctx is cancelled
func Run(ctx context.Context, source Source, refresh time.Duration, quitWhenIdle bool) error {
	m := NewModel(source, refresh, quitWhenIdle)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
