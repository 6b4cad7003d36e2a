package script

import (
	"context"
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/depflow/internal/ir"
)

// Function is a compiled transform.
type Function interface {
	// Call runs the transform against positional args and returns one
	// Output per result slot.
	Call(ctx context.Context, args []any, eventData any) ([]ir.Output, error)
}

// Evaluator compiles transform source into a Function.
//
// When wrap is true a non-list result is wrapped into a single element list;
// when false the transform must return a list.
type Evaluator interface {
	Compile(source string, wrap bool) (Function, error)
}

// skipMarker is returned by skip() and becomes ir.Unset.
type skipMarker struct{}

// ExprEvaluator compiles transforms with expr-lang.
type ExprEvaluator struct{}

// NewExprEvaluator returns the default evaluator.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{}
}

func baseEnv() map[string]any {
	return map[string]any{
		"args":  []any{},
		"arg":   nil,
		"event": nil,
	}
}

func builtins() []expr.Option {
	return []expr.Option{
		expr.Function("skip", func(params ...any) (any, error) {
			return skipMarker{}, nil
		}, new(func() any)),
		expr.Function("update", func(params ...any) (any, error) {
			props, ok := params[0].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("update: expected map, got %T", params[0])
			}
			return ir.Update(props), nil
		}, new(func(map[string]any) any)),
	}
}

// Compile implements Evaluator.
func (e *ExprEvaluator) Compile(source string, wrap bool) (Function, error) {
	if source == "" {
		return nil, NewCompileError(source, ErrEmptySource)
	}

	options := append([]expr.Option{expr.Env(baseEnv()), expr.AsAny()}, builtins()...)
	program, err := expr.Compile(source, options...)
	if err != nil {
		return nil, NewCompileError(source, err)
	}

	return &exprFunction{source: source, program: program, wrap: wrap}, nil
}

type exprFunction struct {
	source  string
	program *vm.Program
	wrap    bool
}

// Call implements Function.
func (f *exprFunction) Call(ctx context.Context, args []any, eventData any) ([]ir.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	env := baseEnv()
	if args == nil {
		args = []any{}
	}
	env["args"] = args
	if len(args) == 1 {
		env["arg"] = args[0]
	}
	env["event"] = eventData

	result, err := expr.Run(f.program, env)
	if err != nil {
		return nil, NewRunError(f.source, err)
	}

	outs, err := normalize(result, f.wrap)
	if err != nil {
		return nil, NewRunError(f.source, err)
	}
	return outs, nil
}

// normalize converts a transform result into positional outputs.
// nil means "no outputs".
func normalize(result any, wrap bool) ([]ir.Output, error) {
	if result == nil {
		return []ir.Output{}, nil
	}

	rv := reflect.ValueOf(result)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		outs := make([]ir.Output, rv.Len())
		for i := range outs {
			outs[i] = toOutput(rv.Index(i).Interface())
		}
		return outs, nil
	}

	if !wrap {
		return nil, fmt.Errorf("expected a list result, got %T", result)
	}
	return []ir.Output{toOutput(result)}, nil
}

func toOutput(v any) ir.Output {
	if _, ok := v.(skipMarker); ok {
		return ir.Unset
	}
	return ir.Some(v)
}
