package stack

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// Item is one attachment on the context stack: either a file reference or a
// captured command output.
type Item interface {
	// Describe is the one-line form used by the stack display.
	Describe() string

	// Payload renders the attachment block inlined into an outgoing prompt.
	// When encode is true the body is base64-encoded in place.
	Payload(encode bool) string
}

// FileItem references a file by absolute path. The file is read at render
// time, never at push time, so the stack can outlive edits to the file.
type FileItem struct {
	Path string
}

func (f *FileItem) Describe() string {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Sprintf("file %s | WARNING: unreadable: %v", f.Path, err)
	}
	return fmt.Sprintf("file %s | contents: %s", f.Path, preview(string(data)))
}

func (f *FileItem) Payload(encode bool) string {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Sprintf("[file %s: unreadable: %v]\n", f.Path, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- BEGIN FILE %s ---\n", f.Path)
	writeBody(&b, string(data), encode)
	fmt.Fprintf(&b, "--- END FILE %s ---\n", f.Path)
	return b.String()
}

// CaptureItem holds the output of a ,exec command.
type CaptureItem struct {
	Cmd    string
	Output string
	Status int
}

func (c *CaptureItem) Describe() string {
	return fmt.Sprintf("capture '%s' (exit %d) | contents: %s", c.Cmd, c.Status, preview(c.Output))
}

func (c *CaptureItem) Payload(encode bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- BEGIN COMMAND OUTPUT '%s' (exit %d) ---\n", c.Cmd, c.Status)
	writeBody(&b, c.Output, encode)
	fmt.Fprintf(&b, "--- END COMMAND OUTPUT ---\n")
	return b.String()
}

func writeBody(b *strings.Builder, body string, encode bool) {
	if encode {
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(body)))
		b.WriteString("\n")
		return
	}
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
}

const previewLen = 120

// preview collapses whitespace runs to single spaces and truncates.
func preview(s string) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	if runes := []rune(collapsed); len(runes) > previewLen {
		return string(runes[:previewLen])
	}
	return collapsed
}
