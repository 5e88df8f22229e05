package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/rmloveland/synergy/internal/config"
	"github.com/rmloveland/synergy/internal/convo"
	"github.com/rmloveland/synergy/internal/history"
	"github.com/rmloveland/synergy/internal/logger"
	"github.com/rmloveland/synergy/internal/provider"
	"github.com/rmloveland/synergy/internal/repl"
	"github.com/rmloveland/synergy/internal/session"
	"github.com/rmloveland/synergy/internal/stack"
	"github.com/rmloveland/synergy/internal/transport"
)

var (
	modelFlag  string
	rootFlag   string
	loadFlag   string
	noAutodump bool
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "synergy",
		Short: "Interactive terminal client for LLM chat providers",
		Long: "Synergy reads command lines from stdin: meta-commands start with a\n" +
			"comma, anything else is a query for the active model. A context stack\n" +
			"of files and command output is attached to every outgoing query.",
		RunE: run,
	}

	rootCmd.Flags().StringVar(&modelFlag, "model", "", "Active model shortname")
	rootCmd.Flags().StringVar(&rootFlag, "root", "", "Root directory for history and dumps (overrides SYNERGY_ROOT)")
	rootCmd.Flags().StringVar(&loadFlag, "load", "", "Load a session dump at startup")
	rootCmd.Flags().BoolVar(&noAutodump, "no-autodump", false, "Skip the exit-time session dump")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if rootFlag != "" {
		os.Setenv("SYNERGY_ROOT", rootFlag)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.NoAutodump = noAutodump
	cfg.LogLevel = logLevel
	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFile()); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	reg := config.NewRegistry()
	if err := reg.LoadOverlay(cfg.ModelsPath()); err != nil {
		return fmt.Errorf("loading model overlay: %w", err)
	}
	if modelFlag != "" {
		if err := reg.SetActive(modelFlag); err != nil {
			return err
		}
	}

	st := stack.New()
	log := convo.New()
	tc := transport.New(transport.Options{
		Offline:         cfg.Offline,
		OfflineResponse: cfg.OfflineResponse,
		StubPath:        cfg.CurlStub,
		CaptureDir:      cfg.CaptureDir,
		MaxRetries:      cfg.MaxRetries,
		Timeout:         cfg.HTTPTimeout,
	})
	disp := provider.NewDispatcher(tc, reg, log, st)

	r := repl.New(cfg, reg, st, log, disp, os.Stdin, os.Stdout)
	r.Interactive = isatty.IsTerminal(os.Stdin.Fd())

	if hist, err := history.Open(cfg.HistoryPath()); err != nil {
		logger.Warn("input history unavailable", "error", err)
	} else {
		r.Hist = hist
		defer hist.Close()
		if lines, err := hist.Recent(5); err == nil && len(lines) > 0 && r.Interactive {
			logger.Debug("restored input history", "lines", len(lines))
		}
	}

	if loadFlag != "" {
		res, err := session.Load(loadFlag)
		if err != nil {
			return fmt.Errorf("loading %s: %w", loadFlag, err)
		}
		r.Adopt(res, loadFlag)
	}

	// Ctrl-C at the prompt should not kill the session. Catch the signal
	// rather than ignore it: an ignored disposition would survive exec and
	// leave curl and ,exec children immune to interrupts, while a caught one
	// resets to default in the child, so a ctrl-C mid-request still kills
	// the tool. The transport handles the killed curl like any other curl
	// failure: it is retried under the transient policy and surfaces as a
	// transport error only when no attempt succeeds.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for range sigCh {
		}
	}()

	if r.Interactive {
		fmt.Println("This is Synergy. You are interacting with the command processor.")
		fmt.Printf("Active model: %s. Type ,help for commands.\n", reg.Active().Shortname)
	}

	return r.Run(context.Background())
}
