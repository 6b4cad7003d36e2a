package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/depflow/internal/compiler"
	"github.com/roach88/depflow/internal/components"
	"github.com/roach88/depflow/internal/engine"
	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/loading"
	"github.com/roach88/depflow/internal/store"
	"github.com/roach88/depflow/internal/transport"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	URL       string
	Fn        int
	API       string
	Event     string
	Target    int
	EventData string
	StateFile string
	Database  string
	Session   string
	Timeout   time.Duration
}

// DispatchResult is what one live dispatch left behind.
type DispatchResult struct {
	Session       string                 `json:"session"`
	Calls         int                    `json:"calls"`
	State         map[int]map[string]any `json:"state"`
	Stages        map[int]ir.Stage       `json:"stages"`
	Notifications []ir.LogMessage        `json:"notifications,omitempty"`
	Failed        bool                   `json:"failed"`
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch <declarations>",
		Short: "Dispatch one event against a live backend",
		Long: `Dispatch one event through the dependency runtime against a running backend.

The declarations are loaded as for "compile". Calls go to --url: sse
dependencies POST to /queue/join, stream dependencies open a websocket
at /stream. Chained dependencies run until the work queue is empty.

Component state starts from --state (a YAML map of component id to
state) and the final state of every component is printed. With --db
every call and status change is recorded for "depflow trace".

Examples:
  depflow dispatch app.json --url http://localhost:7860 --event click --target 9
  depflow dispatch app.json --url http://localhost:7860 --fn 3 --state state.yaml
  depflow dispatch app.json --url http://localhost:7860 --api predict
  depflow dispatch app.json --url http://localhost:7860 --fn 3 --db audit.db --session demo`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "backend base URL (required)")
	_ = cmd.MarkFlagRequired("url")
	cmd.Flags().IntVar(&opts.Fn, "fn", -1, "dependency id to invoke directly")
	cmd.Flags().StringVar(&opts.API, "api", "", "api_name of the dependency to invoke directly")
	cmd.Flags().StringVar(&opts.Event, "event", "", "event name to dispatch (needs --target)")
	cmd.Flags().IntVar(&opts.Target, "target", -1, "target component id")
	cmd.Flags().StringVar(&opts.EventData, "event-data", "", "event payload as JSON")
	cmd.Flags().StringVar(&opts.StateFile, "state", "", "initial component state file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the session to this SQLite database")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session name (default: the client session hash)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "give up after this long")

	return cmd
}

func runDispatch(opts *DispatchOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}
	decls, loadErr := LoadDeclarations(path)
	if loadErr != nil {
		return outputCompileError(formatter, loadErr)
	}

	ev, err := dispatchEventFromFlags(opts, decls)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid dispatch", err)
	}

	initial, err := loadInitialState(opts.StateFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load state", err)
	}

	client, err := transport.New(opts.URL, decls, transport.WithHTTPClient(&http.Client{}))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid backend url", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, opts.Timeout)
	defer cancel()

	session := opts.Session
	if session == "" {
		session = client.Session()
	}
	formatter.SessionID = session

	state := components.New(initial)
	tracker := loading.NewTracker()
	notes := &collectingNotifier{}
	calls := &callCounter{}

	var status engine.StatusTracker = tracker
	mgrOpts := []engine.ManagerOption{engine.WithNotifier(notes)}
	if opts.Database != "" {
		st, err := openSession(ctx, opts.Database, session, decls)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		rec, clock, err := store.ResumeRecorder(ctx, st, session, tracker)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read audit log", err)
		}
		status = rec
		calls.next = rec
		mgrOpts = append(mgrOpts, engine.WithClock(clock))
	}
	mgrOpts = append(mgrOpts, engine.WithStatusTracker(status), engine.WithAPIRecorder(calls))

	mgr, err := engine.New(client, state, decls, mgrOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create manager", err)
	}
	defer mgr.Stop()

	slog.Info("dispatching", "url", opts.URL, "session", session)
	if err := mgr.Dispatch(ctx, ev); err != nil {
		return WrapExitError(ExitCommandError, "dispatch failed", err)
	}
	if err := mgr.Drain(ctx); err != nil {
		return WrapExitError(ExitCommandError, "drain failed", err)
	}

	result := DispatchResult{
		Session:       session,
		Calls:         calls.count(),
		State:         state.Snapshot(),
		Stages:        make(map[int]ir.Stage),
		Notifications: notes.all(),
	}
	for _, id := range mgr.IDs() {
		if stage, ok := tracker.Stage(id); ok {
			result.Stages[id] = stage
			if stage == ir.StageError {
				result.Failed = true
			}
		}
	}

	if structured(opts.Format) {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		outputDispatchText(cmd.OutOrStdout(), result)
	}

	if result.Failed {
		return NewExitError(ExitFailure, "one or more dependencies failed")
	}
	return nil
}

func dispatchEventFromFlags(opts *DispatchOptions, decls []ir.Declaration) (ir.DispatchEvent, error) {
	var eventData any
	if opts.EventData != "" {
		if err := json.Unmarshal([]byte(opts.EventData), &eventData); err != nil {
			return ir.DispatchEvent{}, fmt.Errorf("--event-data: %w", err)
		}
	}

	set := 0
	for _, given := range []bool{opts.Fn >= 0, opts.API != "", opts.Event != ""} {
		if given {
			set++
		}
	}
	if set > 1 {
		return ir.DispatchEvent{}, fmt.Errorf("--fn, --api and --event are mutually exclusive")
	}

	fn := opts.Fn
	if opts.API != "" {
		d, suggestions, ok := compiler.LookupAPIName(decls, opts.API)
		if !ok {
			if len(suggestions) > 0 {
				return ir.DispatchEvent{}, fmt.Errorf("no dependency named %q (did you mean %s?)", opts.API, strings.Join(suggestions, ", "))
			}
			return ir.DispatchEvent{}, fmt.Errorf("no dependency named %q", opts.API)
		}
		fn = d.ID
	}

	switch {
	case opts.Event != "":
		if opts.Target < 0 {
			return ir.DispatchEvent{}, fmt.Errorf("--event needs --target")
		}
		return ir.UIEvent(opts.Event, opts.Target, eventData), nil
	case fn >= 0:
		var target *int
		if opts.Target >= 0 {
			target = ir.IntPtr(opts.Target)
		}
		ev := ir.FnEvent(fn, target)
		ev.EventData = eventData
		return ev, nil
	default:
		return ir.DispatchEvent{}, fmt.Errorf("one of --fn, --api or --event is required")
	}
}

// loadInitialState reads a YAML map of component id to state.
func loadInitialState(path string) (map[int]map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var initial map[int]map[string]any
	if err := yaml.Unmarshal(data, &initial); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return initial, nil
}

func openSession(ctx context.Context, dbPath, session string, decls []ir.Declaration) (*store.Store, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	hash, err := ir.DeclarationsHash(decls)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to hash declarations", err)
	}
	if err := st.WriteSession(ctx, store.Session{
		ID:               session,
		DeclarationsHash: hash,
		SchemaVersion:    ir.SchemaVersion,
		DependencyCount:  len(decls),
	}); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to register session", err)
	}
	return st, nil
}

func outputDispatchText(w io.Writer, result DispatchResult) {
	mark := "✓"
	if result.Failed {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s session %s: %d call(s)\n", mark, truncateID(result.Session), result.Calls)

	fmt.Fprintln(w, "State:")
	ids := make([]int, 0, len(result.State))
	for id := range result.State {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  component %d: %s\n", id, formatArgs(result.State[id]))
	}

	if len(result.Stages) > 0 {
		fmt.Fprintln(w, "Stages:")
		fns := make([]int, 0, len(result.Stages))
		for id := range result.Stages {
			fns = append(fns, id)
		}
		slices.Sort(fns)
		for _, id := range fns {
			fmt.Fprintf(w, "  fn %d: %s\n", id, result.Stages[id])
		}
	}

	for _, n := range result.Notifications {
		fmt.Fprintf(w, "[%s] %s: %s\n", n.Level, n.Title, n.Message)
	}
}

// collectingNotifier keeps every notification.
type collectingNotifier struct {
	mu   sync.Mutex
	msgs []ir.LogMessage
}

func (n *collectingNotifier) Notify(msg ir.LogMessage) {
	slog.Debug("notification", "title", msg.Title, "message", msg.Message, "dependency", msg.FnIndex)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *collectingNotifier) all() []ir.LogMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.msgs)
}

// callCounter counts outbound calls and forwards them to next, if set.
type callCounter struct {
	next engine.APIRecorder

	mu sync.Mutex
	n  int
}

func (c *callCounter) RecordAPICall(ctx context.Context, call ir.APICall) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	if c.next != nil {
		c.next.RecordAPICall(ctx, call)
	}
}

func (c *callCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
