package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// Run drives sess from the terminal until the user quits or ctx is done.
func Run(ctx context.Context, sess Session, code string) error {
	// Inline mode keeps the setup output above the program visible.
	p := tea.NewProgram(NewModel(ctx, sess, code), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
