// Package sandbox runs allow-listed read-only commands for ,exec. Rejecting
// anything outside the list is a security requirement: argv never reaches a
// shell, and metacharacters are refused outright so no token can smuggle a
// second command.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// allowedCommands is the static read-only tool list.
var allowedCommands = map[string]bool{
	"grep":  true,
	"egrep": true,
	"fgrep": true,
	"ls":    true,
	"wc":    true,
	"cat":   true,
	"head":  true,
	"tail":  true,
	"find":  true,
	"file":  true,
	"diff":  true,
	"stat":  true,
	"sort":  true,
	"uniq":  true,
	"tr":    true,
	"awk":   true,
	"sed":   true,
}

const metaChars = ";&|`$><()\n"

const defaultTimeout = 30 * time.Second

// Capture is the recorded result of one ,exec invocation.
type Capture struct {
	Cmd    string // original command line, space-joined
	Output string // captured stdout
	Status int    // exit status
	Path   string // temp file holding Output
}

// AllowedList returns the allow-list sorted, for error messages and help.
func AllowedList() []string {
	names := make([]string, 0, len(allowedCommands))
	for name := range allowedCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks argv against the allow-list and metacharacter rules.
func Validate(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("No command provided to ,exec")
	}
	if !allowedCommands[argv[0]] {
		return fmt.Errorf("Command '%s' not allowed in ,exec mode. Allowed commands: %s",
			argv[0], strings.Join(AllowedList(), ", "))
	}
	for _, tok := range argv {
		if strings.ContainsAny(tok, metaChars) {
			return fmt.Errorf("Shell metacharacters not allowed")
		}
	}
	return nil
}

// Exec validates and runs argv, captures stdout to a temp file, and returns
// the capture. A non-zero exit is not an error here; the caller decides how
// loudly to report it.
func Exec(ctx context.Context, argv []string) (*Capture, error) {
	if err := Validate(argv); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	output, err := cmd.Output()

	status := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("running %s: %w", argv[0], err)
		}
		status = exitErr.ExitCode()
	}

	path := filepath.Join(os.TempDir(),
		fmt.Sprintf("synergy_exec_pid_%d_timestamp_%d.txt", os.Getpid(), time.Now().UnixNano()))
	if err := os.WriteFile(path, output, 0600); err != nil {
		return nil, fmt.Errorf("writing capture: %w", err)
	}

	return &Capture{
		Cmd:    strings.Join(argv, " "),
		Output: string(output),
		Status: status,
		Path:   path,
	}, nil
}
