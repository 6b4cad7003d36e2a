package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/queryir"
	"github.com/roach88/depflow/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Fn       int // optional - filter to one dependency; -1 means all
	Where    string
	Stage    string
}

// TraceCall is one recorded dependency run.
type TraceCall struct {
	Seq          int64  `json:"seq"`
	FnIndex      int    `json:"fn_index"`
	InvocationID string `json:"invocation_id,omitempty"`
	Data         []any  `json:"data"`
	EventData    any    `json:"event_data,omitempty"`
	TriggerID    *int   `json:"trigger_id,omitempty"`
	PayloadHash  string `json:"payload_hash"`
	Repeats      int    `json:"repeats"`
}

// TraceStatus is one recorded status change.
type TraceStatus struct {
	Seq     int64    `json:"seq"`
	FnIndex int      `json:"fn_index"`
	Stage   ir.Stage `json:"stage"`
	Message string   `json:"message,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Session  store.Session `json:"session"`
	Calls    []TraceCall   `json:"calls"`
	Statuses []TraceStatus `json:"statuses"`
	Stats    TraceStats    `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Calls           int  `json:"calls"`
	StatusUpdates   int  `json:"status_updates"`
	Errors          int  `json:"errors"`
	RepeatedPayload int  `json:"repeated_payloads"`
	IsSettled       bool `json:"is_settled"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Read the audit log of a session",
		Long: `Read what a recorded session did.

Without --session, lists the sessions in the database. With it, shows:
- Calls: every dependency run with the data it was given
- Statuses: every loading status change, in order
- Stats: counts, and whether every dependency settled

A call whose exact payload was sent more than once in the session is
flagged with its repeat count.

--where filters calls with column=value terms joined by commas
(columns: seq, invocation_id, fn_index, trigger_id, payload_hash).
--stage keeps only status updates of one stage.

Examples:
  depflow trace --db ./audit.db
  depflow trace --db ./audit.db --session chain_success
  depflow trace --db ./audit.db --session chain_success --fn 1 --format json
  depflow trace --db ./audit.db --session failure_chain --where trigger_id=9 --stage error`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to trace")
	cmd.Flags().IntVar(&opts.Fn, "fn", -1, "filter to one dependency id")
	cmd.Flags().StringVar(&opts.Where, "where", "", "filter calls, e.g. fn_index=1,trigger_id=9")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "filter status updates to one stage")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(opts.Database, store.ReadOnly())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Session == "" {
		return listSessions(ctx, st, opts, cmd)
	}

	sess, err := st.ReadSession(ctx, opts.Session)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	filter, err := newTraceFilter(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	result, err := buildTrace(ctx, st, sess, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit log", err)
	}

	if structured(opts.Format) {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func listSessions(ctx context.Context, st *store.Store, opts *TraceOptions, cmd *cobra.Command) error {
	sessions, err := st.ReadSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read sessions", err)
	}

	if structured(opts.Format) {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(sessions)
	}

	w := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %d dependencies  %s\n", s.ID, s.DependencyCount, truncateID(s.DeclarationsHash))
	}
	return nil
}

// traceFilter narrows the calls and statuses a trace reads.
type traceFilter struct {
	Calls    queryir.Predicate
	Statuses queryir.Predicate
}

func newTraceFilter(opts *TraceOptions) (traceFilter, error) {
	where, err := queryir.ParseFilter(opts.Where)
	if err != nil {
		return traceFilter{}, err
	}
	if res := queryir.Validate(queryir.Select{From: queryir.TableAPICalls, Filter: where}); !res.Valid {
		return traceFilter{}, fmt.Errorf("--where: %s", strings.Join(res.Errors, "; "))
	}

	var fn, stage queryir.Predicate
	if opts.Fn >= 0 {
		fn = queryir.Equals{Field: "fn_index", Value: opts.Fn}
	}
	if opts.Stage != "" {
		stage = queryir.Equals{Field: "stage", Value: opts.Stage}
	}
	return traceFilter{
		Calls:    queryir.Where(fn, where),
		Statuses: queryir.Where(fn, stage),
	}, nil
}

// buildTrace reads one session's calls and status updates.
func buildTrace(ctx context.Context, st *store.Store, sess store.Session, filter traceFilter) (TraceResult, error) {
	result := TraceResult{Session: sess, Calls: []TraceCall{}, Statuses: []TraceStatus{}}

	calls, err := st.FilterAPICalls(ctx, sess.ID, filter.Calls)
	if err != nil {
		return result, err
	}

	repeated := make(map[string]bool)
	for _, c := range calls {
		n, err := st.CountByPayload(ctx, sess.ID, c.PayloadHash)
		if err != nil {
			return result, err
		}
		if n > 1 {
			repeated[c.PayloadHash] = true
		}
		result.Calls = append(result.Calls, TraceCall{
			Seq:          c.Seq,
			FnIndex:      c.FnIndex,
			InvocationID: c.InvokeID,
			Data:         c.Data,
			EventData:    c.EventData,
			TriggerID:    c.TriggerID,
			PayloadHash:  c.PayloadHash,
			Repeats:      n,
		})
	}

	statuses, err := st.FilterStatus(ctx, sess.ID, filter.Statuses)
	if err != nil {
		return result, err
	}
	last := make(map[int]ir.Stage)
	for _, s := range statuses {
		result.Statuses = append(result.Statuses, TraceStatus{
			Seq:     s.Seq,
			FnIndex: s.FnIndex,
			Stage:   s.Stage,
			Message: s.Message,
		})
		if s.Stage == ir.StageError {
			result.Stats.Errors++
		}
		last[s.FnIndex] = s.Stage
	}

	result.Stats.Calls = len(result.Calls)
	result.Stats.StatusUpdates = len(result.Statuses)
	result.Stats.RepeatedPayload = len(repeated)
	result.Stats.IsSettled = true
	for _, stage := range last {
		if stage == ir.StagePending || stage == ir.StageGenerating {
			result.Stats.IsSettled = false
		}
	}
	return result, nil
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for Session: %s\n", result.Session.ID)
	fmt.Fprintf(w, "Declarations: %s (%d dependencies)\n", truncateID(result.Session.DeclarationsHash), result.Session.DependencyCount)
	fmt.Fprintf(w, "Status: %s\n", settledStatus(result.Stats.IsSettled))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Calls ===")
	if len(result.Calls) == 0 {
		fmt.Fprintln(w, "  (no calls)")
	}
	for _, c := range result.Calls {
		fmt.Fprintf(w, "  [%d] fn %d %s", c.Seq, c.FnIndex, formatValue(c.Data))
		if c.Repeats > 1 {
			fmt.Fprintf(w, " (sent %d times)", c.Repeats)
		}
		fmt.Fprintln(w)
		if verbose {
			if c.InvocationID != "" {
				fmt.Fprintf(w, "       Invocation: %s\n", truncateID(c.InvocationID))
			}
			if c.TriggerID != nil {
				fmt.Fprintf(w, "       Trigger: %d\n", *c.TriggerID)
			}
			fmt.Fprintf(w, "       Payload: %s\n", truncateID(c.PayloadHash))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Statuses ===")
	if len(result.Statuses) == 0 {
		fmt.Fprintln(w, "  (no status updates)")
	}
	for _, s := range result.Statuses {
		fmt.Fprintf(w, "  [%d] fn %d %s", s.Seq, s.FnIndex, s.Stage)
		if s.Message != "" {
			fmt.Fprintf(w, ": %s", s.Message)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Calls:             %d\n", result.Stats.Calls)
	fmt.Fprintf(w, "  Status Updates:    %d\n", result.Stats.StatusUpdates)
	fmt.Fprintf(w, "  Errors:            %d\n", result.Stats.Errors)
	fmt.Fprintf(w, "  Repeated Payloads: %d\n", result.Stats.RepeatedPayload)

	return nil
}

// formatArgs formats a map of args for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

// settledStatus returns a human-readable settle status.
func settledStatus(settled bool) string {
	if settled {
		return "Settled"
	}
	return "Unsettled (dependencies still pending)"
}
