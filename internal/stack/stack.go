package stack

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Stack is the ordered collection of attachments prepended to every outgoing
// prompt. Index 0 is the bottom (oldest); new items go on top.
type Stack struct {
	items []Item
}

func New() *Stack {
	return &Stack{}
}

// PushFile resolves path to absolute form and pushes a file reference.
// The file is not read here.
func (s *Stack) PushFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	s.items = append(s.items, &FileItem{Path: abs})
	return abs, nil
}

// PushCapture pushes a command-output capture.
func (s *Stack) PushCapture(cmd, output string, status int) {
	s.items = append(s.items, &CaptureItem{Cmd: cmd, Output: output, Status: status})
}

// Push appends an already-built item (used by session load).
func (s *Stack) Push(it Item) {
	s.items = append(s.items, it)
}

// Drop removes the top item.
func (s *Stack) Drop() error {
	if len(s.items) == 0 {
		return fmt.Errorf("Stack is empty, nothing to drop")
	}
	s.items = s.items[:len(s.items)-1]
	return nil
}

// DropAt removes the item at bottom-origin index i.
func (s *Stack) DropAt(i int) error {
	if i < 0 || i >= len(s.items) {
		return fmt.Errorf("index %d out of range (stack has %d items)", i, len(s.items))
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

// Swap exchanges the top two items. Returns false on stacks shorter than 2.
func (s *Stack) Swap() bool {
	n := len(s.items)
	if n < 2 {
		return false
	}
	s.items[n-1], s.items[n-2] = s.items[n-2], s.items[n-1]
	return true
}

// Rot moves the bottom item to the top. Returns false on an empty stack.
func (s *Stack) Rot() bool {
	if len(s.items) == 0 {
		return false
	}
	bottom := s.items[0]
	s.items = append(s.items[1:], bottom)
	return true
}

// Reset clears the stack.
func (s *Stack) Reset() {
	s.items = nil
}

func (s *Stack) Len() int {
	return len(s.items)
}

// Items returns the items bottom-first. Callers must not mutate the slice.
func (s *Stack) Items() []Item {
	return s.items
}

// RenderDisplay lists items bottom-first, one line each, top starred.
func (s *Stack) RenderDisplay() string {
	if len(s.items) == 0 {
		return "Stack is empty."
	}
	var b strings.Builder
	for i, it := range s.items {
		marker := " "
		if i == len(s.items)-1 {
			marker = "*"
		}
		fmt.Fprintf(&b, "[%d]%s %s\n", i, marker, it.Describe())
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderPayload produces the attachment block for an outgoing prompt,
// bottom-first so older context reads first.
func (s *Stack) RenderPayload(encode bool) string {
	if len(s.items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, it := range s.items {
		b.WriteString(it.Payload(encode))
		b.WriteString("\n")
	}
	return b.String()
}
