// Package chat is the interactive room view: transcript, agent status,
// connection indicator and message input.
package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/huddle-chat/huddle/client/internal/agentstatus"
	"github.com/huddle-chat/huddle/client/internal/conn"
	"github.com/huddle-chat/huddle/client/internal/eventbus"
	"github.com/huddle-chat/huddle/client/internal/room"
	"github.com/huddle-chat/huddle/client/internal/session"
	"github.com/huddle-chat/huddle/client/internal/stream"
	"github.com/huddle-chat/huddle/client/internal/tui"
	"github.com/huddle-chat/huddle/pkg/protocol"
)

const maxTranscriptLines = 2000

// Actions are the session operations the view can trigger.
type Actions interface {
	SendMessage(text string) error
	Retry() error
	Snapshot() session.View
}

// BusMsg carries an event bus item into the program.
type BusMsg struct {
	Event eventbus.Event
}

// ResyncMsg replaces the view's state with a fresh session snapshot after
// bus events were dropped.
type ResyncMsg struct {
	View session.View
}

type actionResultMsg struct {
	op  string
	err error
}

type keyMap struct {
	Send     key.Binding
	Retry    key.Binding
	Quit     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
}

var keys = keyMap{
	Send:     key.NewBinding(key.WithKeys("enter")),
	Retry:    key.NewBinding(key.WithKeys("ctrl+r")),
	Quit:     key.NewBinding(key.WithKeys("ctrl+c", "esc")),
	PageUp:   key.NewBinding(key.WithKeys("pgup")),
	PageDown: key.NewBinding(key.WithKeys("pgdown")),
}

// Model is the root chat TUI model.
type Model struct {
	actions Actions
	room    string
	user    string

	state   conn.State
	agent   agentstatus.Status
	members map[string]room.Member
	lines   []string
	notice  string

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
	quitting bool
}

// NewModel creates a chat view seeded from a session snapshot.
func NewModel(actions Actions, user string, view session.View) Model {
	in := textinput.New()
	in.Placeholder = "Message (@agent to ask the agent)"
	in.CharLimit = 4000
	in.Width = 60
	in.Focus()

	m := Model{
		actions:  actions,
		room:     view.Pair.Room,
		user:     user,
		state:    view.State,
		agent:    view.Agent,
		viewport: viewport.New(80, 20),
		input:    in,
	}
	m.load(view)
	return m
}

// load rebuilds the members and transcript from a snapshot.
func (m *Model) load(view session.View) {
	m.members = make(map[string]room.Member, len(view.Members))
	for _, mem := range view.Members {
		m.members[mem.UserID] = mem
	}
	m.lines = make([]string, 0, len(view.Messages))
	for _, msg := range view.Messages {
		m.lines = append(m.lines, formatMessage(msg))
	}
	if len(m.lines) > maxTranscriptLines {
		m.lines = m.lines[len(m.lines)-maxTranscriptLines:]
	}
	m.refresh()
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(msg.Width-4, 10)
		m.viewport.Height = max(msg.Height-7, 3)
		m.input.Width = max(msg.Width-6, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Send):
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.run("send", func() error { return m.actions.SendMessage(text) })
		case key.Matches(msg, keys.Retry):
			return m, m.run("retry", m.actions.Retry)
		case key.Matches(msg, keys.PageUp), key.Matches(msg, keys.PageDown):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case BusMsg:
		m.apply(msg.Event)
		return m, nil

	case ResyncMsg:
		if msg.View.Pair.Room != "" {
			m.room = msg.View.Pair.Room
		}
		m.state = msg.View.State
		m.agent = msg.View.Agent
		m.load(msg.View)
		return m, nil

	case actionResultMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// run performs a session operation off the update loop.
func (m Model) run(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{op: op, err: fn()}
	}
}

func (m *Model) apply(e eventbus.Event) {
	switch p := e.Payload.(type) {
	case conn.Change:
		m.state = p.State
		m.notice = changeNotice(p)
	case stream.Message:
		m.appendLine(formatMessage(p))
	case agentstatus.Status:
		m.agent = p
	case room.Member:
		name := displayName(p)
		if e.Topic == eventbus.MemberJoined {
			m.members[p.UserID] = p
			m.appendLine(tui.Dimmed.Render(name + " joined"))
		} else {
			delete(m.members, p.UserID)
			m.appendLine(tui.Dimmed.Render(name + " left"))
		}
	case eventbus.RoomChange:
		m.room = p.To
		m.lines = nil
		m.members = make(map[string]room.Member)
		m.refresh()
	case eventbus.LogRecord:
		if p.Level >= tui.NoticeLevel {
			m.notice = p.Message
		}
	case string:
		if e.Topic == eventbus.ServerError {
			m.notice = "server: " + p
		}
	}
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxTranscriptLines {
		m.lines = m.lines[len(m.lines)-maxTranscriptLines:]
	}
	m.refresh()
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if atBottom || len(m.lines) <= m.viewport.Height {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	header := m.header()
	transcript := tui.Panel.Width(max(m.width-2, 20)).Render(m.viewport.View())

	var status string
	if line := agentLine(m.agent); line != "" {
		status = tui.AgentNotice.Render(line)
	} else if m.notice != "" {
		status = tui.WarningStyle.Render(m.notice)
	}

	help := tui.Help.Render("  enter send  ctrl+r retry  pgup/pgdn scroll  esc quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		transcript,
		status,
		m.input.View(),
		help,
	)
}

func (m Model) header() string {
	left := tui.Title.Render("huddle") + " " + tui.Subtitle.Render(m.room)
	right := fmt.Sprintf("%s %s  %s  %d here",
		tui.StatusDot(m.state), tui.StatusText(m.state), tui.Description.Render(m.user), len(m.members))
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return " " + left + strings.Repeat(" ", gap) + right
}

func changeNotice(c conn.Change) string {
	switch c.State {
	case conn.Disconnected:
		if c.RetryIn > 0 {
			return fmt.Sprintf("connection lost, retrying in %s (attempt %d)", c.RetryIn, c.Attempt)
		}
		if c.Err != nil {
			return fmt.Sprintf("disconnected: %v (ctrl+r to reconnect)", c.Err)
		}
		return "disconnected (ctrl+r to reconnect)"
	case conn.Failed:
		return fmt.Sprintf("connection failed: %v (ctrl+r to retry)", c.Err)
	default:
		return ""
	}
}

func agentLine(s agentstatus.Status) string {
	switch s.State {
	case protocol.AgentThinking:
		return "Agent is thinking..."
	case protocol.AgentResponding:
		return "Agent is responding..."
	case protocol.AgentFailed:
		if s.Detail != "" {
			return "Agent failed: " + s.Detail
		}
		return "Agent failed"
	default:
		return ""
	}
}

func formatMessage(msg stream.Message) string {
	ts := tui.Dimmed.Render(msg.ReceivedAt.Format("15:04"))
	var name string
	switch {
	case msg.IsSelf:
		name = tui.SelfName.Render("you")
	case msg.IsAgent:
		n := msg.SenderName
		if n == "" {
			n = "Agent"
		}
		name = tui.AgentName.Render(n)
	default:
		name = tui.OtherName.Render(displayName(room.Member{UserID: msg.SenderID, Name: msg.SenderName}))
	}
	return fmt.Sprintf("%s %s: %s", ts, name, msg.Body)
}

func displayName(m room.Member) string {
	if m.Name != "" {
		return m.Name
	}
	return "user " + m.UserID
}
