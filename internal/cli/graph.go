package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/depflow/internal/compiler"
)

// GraphResult holds the trigger chain forest and any cycles.
type GraphResult struct {
	Chains []compiler.ChainNode    `json:"chains"`
	Cycles []compiler.CycleWarning `json:"cycles,omitempty"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph <declarations>",
		Short: "Show trigger chains",
		Long: `Show how dependencies chain through trigger_after.

Each root is a dependency started by its own targets. Children run after
their parent on success, failure, or always, as labelled. Dependencies
that only sit on a trigger cycle are listed separately.

With --dot the whole dependency set, component targets included, is
printed as a Graphviz digraph.

Examples:
  depflow graph ./app
  depflow graph ./config.json --format json
  depflow graph ./app --dot | dot -Tsvg > app.svg`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(rootOpts, args[0], dot, cmd)
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print a Graphviz digraph")

	return cmd
}

func runGraph(opts *RootOptions, path string, dot bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	decls, loadErr := LoadDeclarations(path)
	if loadErr != nil {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return NewExitError(ExitCommandError, loadErr.Error())
	}

	if dot {
		out, err := compiler.DOT(decls)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render graph", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	}

	result := GraphResult{
		Chains: compiler.Chains(decls),
		Cycles: compiler.AnalyzeCycles(decls),
	}

	if structured(opts.Format) {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(result.Chains) == 0 {
		fmt.Fprintln(w, "No trigger roots found.")
	} else {
		fmt.Fprint(w, compiler.FormatChains(result.Chains))
	}
	for _, c := range result.Cycles {
		fmt.Fprintf(w, "cycle: %s\n", c.Message)
	}
	return nil
}
