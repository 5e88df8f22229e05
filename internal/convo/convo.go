// Package convo holds the append-only conversation log. The system prompt
// lives outside the log; provider renderers inject it per wire schema.
package convo

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"

	// RoleComment marks user annotations recorded with ,comment. They show
	// up in ,history but are never sent to a provider.
	RoleComment Role = "comment"
)

// Turn is one (role, text) entry.
type Turn struct {
	Role Role
	Text string
}

// Log is the ordered sequence of turns for the current session.
type Log struct {
	turns []Turn
}

func New() *Log {
	return &Log{}
}

func (l *Log) Append(role Role, text string) {
	l.turns = append(l.turns, Turn{Role: role, Text: text})
}

func (l *Log) Reset() {
	l.turns = nil
}

func (l *Log) Len() int {
	return len(l.turns)
}

// Turns returns the log in order. Callers must not mutate the slice.
func (l *Log) Turns() []Turn {
	return l.turns
}

// Replace swaps in a whole new sequence (used by session load).
func (l *Log) Replace(turns []Turn) {
	l.turns = turns
}

// DropLast removes the most recent turn. The dispatcher uses it to unwind a
// user turn whose request failed, so retries do not accumulate orphans.
func (l *Log) DropLast() {
	if len(l.turns) > 0 {
		l.turns = l.turns[:len(l.turns)-1]
	}
}

// RenderDisplay formats the log for ,history.
func (l *Log) RenderDisplay() string {
	if len(l.turns) == 0 {
		return "Conversation is empty."
	}
	var b strings.Builder
	for i, t := range l.turns {
		fmt.Fprintf(&b, "--- [%d] %s ---\n%s\n", i, t.Role, strings.TrimRight(t.Text, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}
