package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/huddle-chat/huddle/client/internal/agentstatus"
	"github.com/huddle-chat/huddle/client/internal/conn"
	"github.com/huddle-chat/huddle/client/internal/eventbus"
	"github.com/huddle-chat/huddle/client/internal/room"
	"github.com/huddle-chat/huddle/client/internal/stream"
	"github.com/huddle-chat/huddle/pkg/protocol"
)

// lineTopics are printed in line mode.
var lineTopics = []string{
	eventbus.ConnectionState,
	eventbus.MessageNew,
	eventbus.AgentStatus,
	eventbus.MemberJoined,
	eventbus.MemberLeft,
	eventbus.ServerError,
}

type lineActions interface {
	SendMessage(text string) error
	Retry() error
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) println(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, s)
}

// runLines prints session events as plain text and sends each input line as
// a message. "/retry" reconnects and "/quit" exits.
func runLines(ctx context.Context, actions lineActions, sub *eventbus.Subscription, in io.Reader, out io.Writer) error {
	w := &lockedWriter{w: out}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range sub.C {
			if line := formatEvent(e); line != "" {
				w.println(line)
			}
		}
	}()

	input := make(chan string)
	go func() {
		defer close(input)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case input <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				return nil
			case "/retry":
				if err := actions.Retry(); err != nil {
					w.println("! retry failed: " + err.Error())
				}
			default:
				if err := actions.SendMessage(line); err != nil {
					w.println("! not sent: " + err.Error())
				}
			}
		case <-printed:
			return nil
		}
	}
}

func formatEvent(e eventbus.Event) string {
	switch p := e.Payload.(type) {
	case conn.Change:
		switch p.State {
		case conn.Connected:
			return "* connected to " + p.Room
		case conn.Disconnected:
			if p.RetryIn > 0 {
				return fmt.Sprintf("* connection lost, retrying in %s (attempt %d)", p.RetryIn, p.Attempt)
			}
			return "* disconnected (/retry to reconnect)"
		case conn.Failed:
			return fmt.Sprintf("* connection failed: %v (/retry to try again)", p.Err)
		}
	case stream.Message:
		name := p.SenderName
		switch {
		case p.IsSelf:
			name = "you"
		case p.IsAgent && name == "":
			name = "Agent"
		case name == "":
			name = "user " + p.SenderID
		}
		return fmt.Sprintf("[%s] %s: %s", p.ReceivedAt.Format("15:04"), name, p.Body)
	case agentstatus.Status:
		switch p.State {
		case protocol.AgentThinking, protocol.AgentResponding:
			return "* agent is " + p.State
		case protocol.AgentFailed:
			return "* agent failed: " + p.Detail
		}
	case room.Member:
		name := p.Name
		if name == "" {
			name = "user " + p.UserID
		}
		if e.Topic == eventbus.MemberJoined {
			return "* " + name + " joined"
		}
		return "* " + name + " left"
	case string:
		if e.Topic == eventbus.ServerError {
			return "! server: " + p
		}
	}
	return ""
}
