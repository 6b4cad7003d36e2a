package cli

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/depflow/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the normalized dependency set.
type CompilationResult struct {
	SchemaVersion    string           `json:"schema_version"`
	EngineVersion    string           `json:"engine_version"`
	DeclarationsHash string           `json:"declarations_hash"`
	Dependencies     []ir.Declaration `json:"dependencies"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	DependencyCount int
	BackendCount    int
	FrontendCount   int
	ChainedCount    int
	StreamCount     int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <declarations>",
		Short: "Compile declarations to normalized JSON",
		Long: `Compile dependency declarations to normalized JSON.

Reads a CUE package, a .cue file, or a JSON/YAML backend config, and
emits the declaration list together with its content hash. The hash
identifies the dependency set in audit sessions.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	decls, loadErr := LoadDeclarations(path)
	if loadErr != nil {
		return outputCompileError(formatter, loadErr)
	}
	formatter.VerboseLog("Loaded %d dependency declaration(s) from %s", len(decls), path)

	hash, err := ir.DeclarationsHash(decls)
	if err != nil {
		return outputCompileError(formatter, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("hashing declarations: %v", err)})
	}

	result := &CompilationResult{
		SchemaVersion:    ir.SchemaVersion,
		EngineVersion:    ir.EngineVersion,
		DeclarationsHash: hash,
		Dependencies:     decls,
	}
	stats := calculateStats(decls)

	if opts.Output != "" {
		if err := writeResultToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, &LoadError{Code: ErrCodeWriteFailed, Message: fmt.Sprintf("writing output file: %v", err)})
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// calculateStats computes summary statistics over decls.
func calculateStats(decls []ir.Declaration) CompilationStats {
	stats := CompilationStats{DependencyCount: len(decls)}
	for _, d := range decls {
		if d.Backend {
			stats.BackendCount++
		} else {
			stats.FrontendCount++
		}
		if d.TriggerAfter != nil {
			stats.ChainedCount++
		}
		if d.Connection() == ir.ConnectionStream {
			stats.StreamCount++
		}
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if structured(formatter.Format) {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d dependencies: %d backend, %d frontend-only\n",
		stats.DependencyCount, stats.BackendCount, stats.FrontendCount)
	fmt.Fprintf(w, "  chained: %d, streaming: %d\n", stats.ChainedCount, stats.StreamCount)
	fmt.Fprintf(w, "  hash: %s\n", result.DeclarationsHash)

	if outputFile != "" {
		fmt.Fprintf(w, "\nWrote normalized declarations to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a load failure.
func outputCompileError(formatter *OutputFormatter, loadErr *LoadError) error {
	if !structured(formatter.Format) && loadErr.Pos.IsValid() {
		fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
}

// writeResultToFile writes the compilation result as indented JSON.
// Canonical JSON without indentation is used only for hashing.
func writeResultToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling declarations: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
