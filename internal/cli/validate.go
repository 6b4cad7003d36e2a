package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/depflow/internal/compiler"
	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/script"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <declarations>",
		Short: "Validate dependency declarations",
		Long: `Validate dependency declarations without running them.

Checks ids, trigger modes, connection types, trigger_after and cancels
references, and compiles every transform. Trigger cycles are reported as
warnings: a cycle that only fires on failure may still terminate.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	decls, loadErr := LoadDeclarations(path)
	if loadErr != nil {
		return outputValidateError(formatter, loadErr)
	}

	formatter.VerboseLog("Loaded %d dependency declaration(s) from %s", len(decls), path)

	errs, warnings := ValidateDeclarations(decls)
	if len(errs) > 0 {
		return outputValidationErrors(formatter, errs, warnings)
	}

	return outputValidateSuccess(formatter, warnings)
}

// ValidateDeclarations runs the schema checks and the cycle analysis.
// This is a helper function for external callers.
func ValidateDeclarations(decls []ir.Declaration) ([]compiler.ValidationError, []compiler.CycleWarning) {
	return compiler.Validate(decls, script.NewExprEvaluator()), compiler.AnalyzeCycles(decls)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, warnings []compiler.CycleWarning) error {
	if structured(formatter.Format) {
		return formatter.Success(ValidationResult{Valid: true, Warnings: warnings})
	}

	fmt.Fprintln(formatter.Writer, "✓ All declarations valid")
	writeWarnings(formatter, warnings)
	return nil
}

// outputValidateError outputs a load failure.
func outputValidateError(formatter *OutputFormatter, loadErr *LoadError) error {
	if !structured(formatter.Format) && loadErr.Pos.IsValid() {
		fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError, warnings []compiler.CycleWarning) error {
	if structured(formatter.Format) {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:    false,
				Errors:   errs,
				Warnings: warnings,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		if err := formatter.Emit(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "dependency %d (%s)\n", err.DependencyID, err.Field)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}
	writeWarnings(formatter, warnings)

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

func writeWarnings(formatter *OutputFormatter, warnings []compiler.CycleWarning) {
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "warning: %s\n", w.Message)
	}
}
