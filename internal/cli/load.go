package cli

import (
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/roach88/depflow/internal/compiler"
	"github.com/roach88/depflow/internal/ir"
)

// LoadError represents an error that occurred while loading declarations.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands.
// Declaration validation codes (E1xx) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeNoDecls     = "E003" // No dependencies declared
	ErrCodeLoadFailed  = "E004" // Declarations could not be loaded
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeCompile     = "E006" // A declaration field has the wrong shape
	ErrCodeWriteFailed = "E007" // File write error
)

// LoadDeclarations reads declarations from path and maps failures to
// CLI error codes.
func LoadDeclarations(path string) ([]ir.Declaration, *LoadError) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("declarations not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing declarations: %v", err)}
	}

	decls, err := compiler.Load(path)
	if err == nil {
		return decls, nil
	}

	var compileErr *compiler.CompileError
	switch {
	case errors.Is(err, compiler.ErrNoDeclarations):
		return nil, &LoadError{Code: ErrCodeNoDecls, Message: err.Error()}
	case errors.As(err, &compileErr):
		return nil, &LoadError{Code: ErrCodeCompile, Message: compileErr.Field + ": " + compileErr.Message, Pos: compileErr.Pos}
	default:
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}
}
