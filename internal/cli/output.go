package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // A scenario, declaration or dependency failed
	ExitCommandError = 2 // Bad flags, unreadable files, unreachable database
)

// Output formats. json and yaml are structured: they wrap every result
// in a CLIResponse.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{FormatText, FormatJSON, FormatYAML}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// structured reports whether format wraps results in a CLIResponse.
func structured(format string) bool {
	return format == FormatJSON || format == FormatYAML
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code of err; errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results in the selected format.
//
// When SessionID is set, structured responses carry it so output can be
// matched to the audit log a run or dispatch wrote.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
	SessionID string
}

// CLIResponse is the envelope of structured output.
type CLIResponse struct {
	Status    string    `json:"status"`
	Data      any       `json:"data,omitempty"`
	Error     *CLIError `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// CLIError describes a failed command in structured output.
type CLIError struct {
	Code    string `json:"code"` // E101, NOT_FOUND, E_TEST_FAILED, ...
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. Text output prints data with fmt.
func (f *OutputFormatter) Success(data any) error {
	if !structured(f.Format) {
		fmt.Fprintln(f.Writer, data)
		return nil
	}
	return f.Emit(CLIResponse{Status: "ok", Data: data})
}

// Error writes a failure. Details are shown in text output only with
// --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if !structured(f.Format) {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
		if f.Verbose && details != nil {
			fmt.Fprintf(f.Writer, "Details: %v\n", details)
		}
		return nil
	}
	return f.Emit(CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: code, Message: message, Details: details},
	})
}

// Emit writes resp in the structured format, filling in SessionID.
func (f *OutputFormatter) Emit(resp CLIResponse) error {
	if resp.SessionID == "" {
		resp.SessionID = f.SessionID
	}

	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if f.Format == FormatYAML {
		return writeYAML(f.Writer, data)
	}
	data = append(data, '\n')
	_, err = f.Writer.Write(data)
	return err
}

// writeYAML re-encodes a JSON document as block-style YAML. Going through
// JSON keeps the json field names and the field order.
func writeYAML(w io.Writer, jsonDoc []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(jsonDoc, &doc); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles the JSON parse left on
// every node.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// VerboseLog writes a diagnostic line with --verbose. It goes to
// ErrWriter when set so structured stdout stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
