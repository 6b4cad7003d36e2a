package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/depflow/internal/harness"
	"github.com/roach88/depflow/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// RunResult summarizes one recorded scenario run.
type RunResult struct {
	Session  string   `json:"session"`
	Pass     bool     `json:"pass"`
	Events   int      `json:"events"`
	Submits  int      `json:"submits"`
	APICalls int      `json:"api_calls"`
	Errors   []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario and record its audit log",
		Long: `Run one scenario against the dependency runtime and keep its audit log.

The scenario's dispatches run against a scripted backend. Every dependency
run and status change is written to the SQLite database under a session
named after the scenario (creating the database if it doesn't exist).
Inspect it afterwards with "depflow trace".

Example:
  depflow run --db ./audit.db ./scenarios/chain.yaml
  depflow run --db /tmp/audit.db ./scenarios/chain.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	slog.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	_, err = st.ReadSession(ctx, scenario.Name)
	switch {
	case err == nil:
		return NewExitError(ExitCommandError, fmt.Sprintf("session %q already recorded in %s", scenario.Name, opts.Database))
	case !errors.Is(err, sql.ErrNoRows):
		return WrapExitError(ExitCommandError, "failed to read sessions", err)
	}

	slog.Info("running scenario", "scenario", scenario.Name, "steps", len(scenario.Steps))
	result, err := harness.RunWithStore(scenario, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	calls, err := st.ReadAPICalls(ctx, scenario.Name)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit log", err)
	}

	summary := RunResult{
		Session:  scenario.Name,
		Pass:     result.Pass,
		Events:   len(result.Trace),
		APICalls: len(calls),
		Errors:   result.Errors,
	}
	for _, ev := range result.Trace {
		if ev.Type == harness.EventSubmit {
			summary.Submits++
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose, SessionID: scenario.Name}
	if structured(opts.Format) {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		mark := "✓"
		if !summary.Pass {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d event(s), %d submission(s), %d API call(s) recorded\n",
			mark, summary.Session, summary.Events, summary.Submits, summary.APICalls)
		for _, e := range summary.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	if !summary.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}
