package chat

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/huddle-chat/huddle/client/internal/eventbus"
)

// Run shows the chat view until the user quits or ctx is done. Bus events
// are forwarded to the program as they are published.
func Run(ctx context.Context, actions Actions, bus *eventbus.Bus, user string) error {
	// Subscribe before the snapshot so nothing published in between is lost.
	sub := bus.Subscribe()
	defer sub.Close()

	p := tea.NewProgram(NewModel(actions, user, actions.Snapshot()), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		var seen uint64
		for e := range sub.C {
			p.Send(BusMsg{Event: e})
			if n := sub.Dropped(); n > seen {
				seen = n
				p.Send(ResyncMsg{View: actions.Snapshot()})
			}
		}
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
