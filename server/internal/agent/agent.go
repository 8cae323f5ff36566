// Package agent implements the automated room participant that answers
// messages addressed to it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Mention is the prefix that addresses a message to the agent.
const Mention = "@agent"

// ErrRequestedFailure is returned for the "fail" command.
var ErrRequestedFailure = errors.New("failure requested")

// Responder produces the agent's reply to a prompt.
type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// Request is one agent turn.
type Request struct {
	RoomCode string
	Prompt   string
	// History is the room's recent conversation, oldest first. It ends with
	// the message that carried the prompt.
	History []Turn
}

// Turn is one message of room history.
type Turn struct {
	Sender    string
	Content   string
	FromAgent bool
}

// Prompt returns the text following the mention when message is addressed to
// the agent. A bare mention is not a prompt.
func Prompt(message string) (string, bool) {
	message = strings.TrimSpace(message)
	if !strings.HasPrefix(message, Mention) {
		return "", false
	}
	prompt := strings.TrimSpace(message[len(Mention):])
	return prompt, prompt != ""
}

// Echo is a deterministic responder for local development.
type Echo struct{}

const helpText = "I'm the room agent. `@agent echo <text>` repeats text, `@agent history` recaps what I can see and `@agent fail` simulates a failed turn."

// Respond implements Responder.
func (Echo) Respond(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cmd, rest, _ := strings.Cut(req.Prompt, " ")
	switch strings.ToLower(cmd) {
	case "help":
		return helpText, nil
	case "fail":
		return "", ErrRequestedFailure
	case "echo":
		return strings.TrimSpace(rest), nil
	case "history":
		return recap(req), nil
	default:
		return fmt.Sprintf("You said %q in %s.", req.Prompt, req.RoomCode), nil
	}
}

func recap(req Request) string {
	var people []string
	seen := make(map[string]bool)
	for _, t := range req.History {
		if t.FromAgent || seen[t.Sender] {
			continue
		}
		seen[t.Sender] = true
		people = append(people, t.Sender)
	}
	if len(people) == 0 {
		return fmt.Sprintf("Nothing has been said in %s yet.", req.RoomCode)
	}
	return fmt.Sprintf("I can see %d recent messages in %s from %s.",
		len(req.History), req.RoomCode, strings.Join(people, ", "))
}
