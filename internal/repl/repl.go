// Package repl reads command lines and drives every other component. A line
// starting with "," is a meta-command; any other non-empty line is a query
// for the active model. All errors are local: print one line, return to the
// prompt.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/rmloveland/synergy/internal/config"
	"github.com/rmloveland/synergy/internal/convo"
	"github.com/rmloveland/synergy/internal/history"
	"github.com/rmloveland/synergy/internal/logger"
	"github.com/rmloveland/synergy/internal/provider"
	"github.com/rmloveland/synergy/internal/session"
	"github.com/rmloveland/synergy/internal/stack"
)

// REPL owns the mutable session state. Nothing else mutates the stack,
// conversation, active model, or session id.
type REPL struct {
	Cfg      *config.Config
	Registry *config.Registry
	Stack    *stack.Stack
	Log      *convo.Log
	Disp     *provider.Dispatcher
	Hist     *history.Store // nil when history is unavailable

	SessionID   string
	Interactive bool

	in   *bufio.Scanner
	out  io.Writer
	done bool

	errColor  *color.Color
	warnColor *color.Color
}

func New(cfg *config.Config, reg *config.Registry, st *stack.Stack, log *convo.Log, disp *provider.Dispatcher, in io.Reader, out io.Writer) *REPL {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &REPL{
		Cfg:       cfg,
		Registry:  reg,
		Stack:     st,
		Log:       log,
		Disp:      disp,
		SessionID: uuid.NewString(),
		in:        sc,
		out:       out,
		errColor:  color.New(color.FgRed),
		warnColor: color.New(color.FgYellow),
	}
}

// Run is the main loop: read a line, execute its effects to completion,
// print, repeat. Returns on ,exit or EOF.
func (r *REPL) Run(ctx context.Context) error {
	for !r.done {
		if r.Interactive {
			fmt.Fprint(r.out, "synergy> ")
		}
		if !r.in.Scan() {
			break
		}
		r.Execute(ctx, r.in.Text())
	}
	if err := r.in.Err(); err != nil {
		return err
	}
	r.autodump()
	return nil
}

// Execute handles one input line.
func (r *REPL) Execute(ctx context.Context, line string) {
	if line == "" {
		return
	}
	if r.Hist != nil {
		if err := r.Hist.Append(line); err != nil {
			logger.Warn("history append", "error", err)
		}
	}

	if strings.HasPrefix(line, ",") {
		r.dispatchCommand(ctx, line)
		return
	}

	if strings.TrimSpace(line) == "" {
		r.warnf("Ignoring empty assistant query")
		return
	}
	r.query(ctx, line)
}

func (r *REPL) query(ctx context.Context, prompt string) {
	reply, err := r.Disp.Ask(ctx, prompt)
	if err != nil {
		r.errorf("%v", err)
		return
	}
	fmt.Fprintln(r.out, reply)
}

// Reset clears the stack and conversation and rotates the session id.
func (r *REPL) Reset() {
	r.Stack.Reset()
	r.Log.Reset()
	r.SessionID = uuid.NewString()
}

// Adopt replaces session state from a parsed dump.
func (r *REPL) Adopt(res *session.LoadResult, path string) {
	if res.V1 {
		r.warnf("No session ID found in '%s'", path)
		r.SessionID = uuid.NewString()
	} else {
		fmt.Fprintf(r.out, "Loading session ID…ok\n")
		r.SessionID = res.SessionID
	}

	r.Stack.Reset()
	for _, it := range res.Items {
		r.Stack.Push(it)
	}
	r.Log.Replace(res.Turns)

	if res.SystemPrompt != "" {
		r.Disp.System = res.SystemPrompt
	}
	if res.Model != "" {
		if err := r.Registry.SetActive(res.Model); err != nil {
			r.warnf("dump references %v, keeping '%s'", err, r.Registry.Active().Shortname)
		}
	}
}

func (r *REPL) snapshot() *session.Snapshot {
	return &session.Snapshot{
		SessionID:    r.SessionID,
		Model:        r.Registry.Active().Shortname,
		Stack:        r.Stack,
		Convo:        r.Log,
		SystemPrompt: r.Disp.System,
	}
}

// autodump writes a final snapshot on clean exit when the session is
// interactive (or forced). Always a freshly-generated filename, so it never
// clobbers an explicit dump from the same session.
func (r *REPL) autodump() {
	if r.Cfg.NoAutodump {
		return
	}
	if !r.Interactive && !r.Cfg.ForceAutodump {
		return
	}
	path := session.DefaultDumpPath(r.Cfg.DumpsDir(), r.SessionID)
	if err := session.Dump(path, r.snapshot()); err != nil {
		r.errorf("autodump failed: %v", err)
		return
	}
	fmt.Fprintf(r.out, "Dumped conversation to '%s'.\n", path)
}

func (r *REPL) errorf(format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", r.errColor.Sprint("ERROR:"), fmt.Sprintf(format, args...))
}

func (r *REPL) warnf(format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", r.warnColor.Sprint("WARNING:"), fmt.Sprintf(format, args...))
}

func (r *REPL) cwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
