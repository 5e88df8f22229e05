// Package patch applies conflict-marker edit blocks to a file under the
// working directory. Search text is matched literally, never as a regex, and
// a missed block skips without touching the file.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	markerOriginal = "<<<<<<< ORIGINAL"
	markerDivider  = "======="
	markerUpdated  = ">>>>>>> UPDATED"

	// Diffs arriving as a single command-line argument encode newlines as
	// this sentinel.
	newlineSentinel = "<NL>"
)

// Result reports what one Apply call did.
type Result struct {
	// Messages are user-facing lines, in order: creation notices, search
	// misses, and the final applied line.
	Messages []string

	// Applied counts blocks that changed the file.
	Applied int
}

type block struct {
	search  string
	replace string
}

// Apply runs the diff against target. cwd bounds where edits may land:
// target must resolve strictly inside it.
func Apply(cwd, target, diff string) (*Result, error) {
	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return nil, err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}

	if absTarget == absCwd {
		return nil, fmt.Errorf("Cannot apply edits to the current working directory itself")
	}
	rel, err := filepath.Rel(absCwd, absTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("File must be within current working directory")
	}

	diff = strings.ReplaceAll(diff, newlineSentinel, "\n")
	blocks := parseBlocks(diff)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("No valid edit blocks found in diff text")
	}

	res := &Result{}

	content, err := os.ReadFile(absTarget)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		res.Messages = append(res.Messages,
			fmt.Sprintf("File '%s' does not exist, will create new file", target))
		content = nil
	}

	text := string(content)
	for _, b := range blocks {
		text = applyBlock(text, b, res)
	}

	if err := os.MkdirAll(filepath.Dir(absTarget), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(absTarget, []byte(text), 0644); err != nil {
		return nil, err
	}
	res.Messages = append(res.Messages, fmt.Sprintf("Applied edits to file '%s'", target))
	return res, nil
}

// applyBlock applies one block to text. An empty search appends the
// replacement once at end of file; a missed search warns and leaves the text
// unchanged.
func applyBlock(text string, b block, res *Result) string {
	if strings.TrimSpace(b.search) == "" {
		res.Applied++
		if text != "" && !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		return text + b.replace
	}

	idx := strings.Index(text, b.search)
	if idx < 0 {
		res.Messages = append(res.Messages,
			fmt.Sprintf("WARNING: Search text not found: '%s'", truncate(b.search, 80)))
		return text
	}
	res.Applied++
	return text[:idx] + b.replace + text[idx+len(b.search):]
}

// parseBlocks extracts every well-formed ORIGINAL/UPDATED block, in document
// order. Malformed regions are skipped.
func parseBlocks(diff string) []block {
	var blocks []block
	lines := strings.Split(diff, "\n")

	const (
		outside = iota
		inSearch
		inReplace
	)
	state := outside
	var search, replace []string

	for _, line := range lines {
		switch state {
		case outside:
			if strings.TrimRight(line, " \t") == markerOriginal {
				state = inSearch
				search = nil
				replace = nil
			}
		case inSearch:
			if strings.TrimRight(line, " \t") == markerDivider {
				state = inReplace
			} else {
				search = append(search, line)
			}
		case inReplace:
			if strings.TrimRight(line, " \t") == markerUpdated {
				blocks = append(blocks, block{
					search:  strings.Join(search, "\n"),
					replace: strings.Join(replace, "\n"),
				})
				state = outside
			} else {
				replace = append(replace, line)
			}
		}
	}
	return blocks
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
