package repl

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rmloveland/synergy/internal/convo"
	"github.com/rmloveland/synergy/internal/patch"
	"github.com/rmloveland/synergy/internal/sandbox"
	"github.com/rmloveland/synergy/internal/session"
)

const helpText = `This is Synergy. You are interacting with the command processor.

Meta-commands start with a comma; anything else is a query for the model.

  ,help                       show this text
  ,exit                       end the session
  ,pwd                        print the working directory
  ,cd <dir>                   change the working directory
  ,push <file>                push a file onto the context stack
  ,s                          show the context stack
  ,drop [i]                   drop the top item, or the item at index i
  ,swap                       exchange the top two items
  ,rot                        move the bottom item to the top
  ,reset                      clear stack and conversation, new session id
  ,history                    show the conversation so far
  ,model [name]               show or switch the active model
  ,encoded                    toggle base64 encoding of attachments
  ,dump [file]                write the session to an XML dump
  ,load <file>                restore a session from an XML dump
  ,apply_patch <file> <diff>  apply conflict-marker edits to a file
  ,exec <cmd> [args...]       run an allow-listed read-only command
  ,comment <text>             record a note in the conversation log`

// dispatchCommand routes one meta-command line.
func (r *REPL) dispatchCommand(ctx context.Context, line string) {
	fields := strings.Fields(line)
	name := strings.TrimPrefix(fields[0], ",")
	args := fields[1:]

	// Commands whose tail must keep its spacing take the raw remainder.
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch name {
	case "help":
		fmt.Fprintln(r.out, helpText)
		fmt.Fprintf(r.out, "\nAllowed ,exec commands: %s\n", strings.Join(sandbox.AllowedList(), ", "))
	case "exit":
		r.done = true
	case "pwd":
		fmt.Fprintln(r.out, r.cwd())
	case "cd":
		r.cmdCd(args)
	case "push":
		r.cmdPush(rest)
	case "s":
		fmt.Fprintln(r.out, r.Stack.RenderDisplay())
	case "drop":
		r.cmdDrop(args)
	case "swap":
		if !r.Stack.Swap() {
			fmt.Fprintln(r.out, "Need at least two items to swap.")
		}
	case "rot":
		if !r.Stack.Rot() {
			fmt.Fprintln(r.out, "Stack is empty, nothing to rotate.")
		}
	case "reset":
		r.Reset()
		fmt.Fprintln(r.out, "Session reset.")
	case "history":
		fmt.Fprintln(r.out, r.Log.RenderDisplay())
	case "model":
		r.cmdModel(args)
	case "encoded":
		r.Disp.EncodeAttachments = !r.Disp.EncodeAttachments
		fmt.Fprintf(r.out, "Base64 encoding of attachments: %v\n", r.Disp.EncodeAttachments)
	case "dump":
		r.cmdDump(rest)
	case "load":
		r.cmdLoad(rest)
	case "apply_patch":
		r.cmdApplyPatch(rest)
	case "exec":
		r.cmdExec(ctx, args)
	case "comment":
		r.cmdComment(rest)
	default:
		r.errorf("Unknown command '%s'. Try ,help", fields[0])
	}
}

func (r *REPL) cmdCd(args []string) {
	if len(args) != 1 {
		r.errorf("Usage: ,cd <dir>")
		return
	}
	if err := os.Chdir(args[0]); err != nil {
		r.errorf("%v", err)
		return
	}
	fmt.Fprintln(r.out, r.cwd())
}

func (r *REPL) cmdPush(rest string) {
	if rest == "" {
		r.errorf("Usage: ,push <file>")
		return
	}
	if _, err := os.Stat(rest); err != nil {
		r.errorf("Cannot read '%s': %v", rest, err)
		return
	}
	abs, err := r.Stack.PushFile(rest)
	if err != nil {
		r.errorf("%v", err)
		return
	}
	fmt.Fprintf(r.out, "Pushed '%s'.\n", abs)
}

func (r *REPL) cmdDrop(args []string) {
	switch len(args) {
	case 0:
		if err := r.Stack.Drop(); err != nil {
			fmt.Fprintln(r.out, err)
		}
	case 1:
		i, err := strconv.Atoi(args[0])
		if err != nil {
			r.errorf("Bad index '%s'", args[0])
			return
		}
		if err := r.Stack.DropAt(i); err != nil {
			r.errorf("%v", err)
		}
	default:
		r.errorf("Usage: ,drop [i]")
	}
}

func (r *REPL) cmdModel(args []string) {
	switch len(args) {
	case 0:
		for _, name := range r.Registry.List() {
			fmt.Fprintln(r.out, name)
		}
	case 1:
		if err := r.Registry.SetActive(args[0]); err != nil {
			r.errorf("%v", err)
			return
		}
		m := r.Registry.Active()
		fmt.Fprintf(r.out, "Active model: %s (%s, %s)\n", m.Shortname, m.Provider, m.WireID)
	default:
		r.errorf("Usage: ,model [name]")
	}
}

func (r *REPL) cmdDump(rest string) {
	path := rest
	if path == "" {
		path = session.DefaultDumpPath(r.Cfg.DumpsDir(), r.SessionID)
		r.warnf("No filename provided, using '%s'", path)
	}
	if err := session.Dump(path, r.snapshot()); err != nil {
		r.errorf("%v", err)
		return
	}
	fmt.Fprintf(r.out, "Dumped conversation to '%s'.\n", path)
}

func (r *REPL) cmdLoad(rest string) {
	if rest == "" {
		r.errorf("Usage: ,load <file>")
		return
	}
	res, err := session.Load(rest)
	if err != nil {
		r.errorf("%v", err)
		return
	}
	r.Adopt(res, rest)
	fmt.Fprintf(r.out, "Loaded session from '%s'.\n", rest)
}

func (r *REPL) cmdApplyPatch(rest string) {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 || parts[0] == "" || strings.TrimSpace(parts[1]) == "" {
		r.errorf("Usage: ,apply_patch <file> <diff>")
		return
	}
	res, err := patch.Apply(r.cwd(), parts[0], parts[1])
	if err != nil {
		r.errorf("%v", err)
		return
	}
	for _, msg := range res.Messages {
		fmt.Fprintln(r.out, msg)
	}
}

func (r *REPL) cmdExec(ctx context.Context, args []string) {
	c, err := sandbox.Exec(ctx, args)
	if err != nil {
		r.errorf("%v", err)
		return
	}
	if c.Status != 0 {
		r.warnf("Command exited with status %d", c.Status)
	}
	fmt.Fprintf(r.out, "Captured output to '%s'.\n", c.Path)
	fmt.Fprintf(r.out, "COMMAND:\n%s\nOUTPUT:\n%s", c.Cmd, c.Output)
	if !strings.HasSuffix(c.Output, "\n") {
		fmt.Fprintln(r.out)
	}
	r.Stack.PushCapture(c.Cmd, c.Output, c.Status)
}

func (r *REPL) cmdComment(rest string) {
	if rest == "" {
		r.errorf("Usage: ,comment <text>")
		return
	}
	r.Log.Append(convo.RoleComment, rest)
	fmt.Fprintln(r.out, "Comment recorded.")
}
