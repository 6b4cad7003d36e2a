package engine

import (
	"context"
	"fmt"

	"github.com/roach88/depflow/internal/ir"
	"github.com/roach88/depflow/internal/script"
)

// RunKind is the shape of a dependency run.
type RunKind int

const (
	// RunVoid means nothing was executable.
	RunVoid RunKind = iota
	// RunData means a frontend transform produced the outputs directly.
	RunData
	// RunSubmit means a backend call was started.
	RunSubmit
)

func (k RunKind) String() string {
	switch k {
	case RunData:
		return "data"
	case RunSubmit:
		return "submit"
	default:
		return "void"
	}
}

// RunResult is returned by Dependency.Run.
type RunResult struct {
	Kind       RunKind
	Data       []ir.Output
	Submission Submission
}

type trigger struct {
	id        int
	condition ir.TriggerCondition
}

// Dependency is one trigger to function binding.
//
// The executable forms are fixed at construction. Chained triggers and the
// original trigger id are filled in by the manager while linking and are
// only mutated under the manager's lock.
type Dependency struct {
	decl ir.Declaration

	// implementation replaces the backend call entirely when present.
	implementation script.Function
	frontend       script.Function

	triggers          []trigger
	originalTriggerID int
}

// NewDependency compiles the executable forms of decl.
// A malformed transform is returned as a *RuntimeError with
// ErrCodeCompile; it is never swallowed.
func NewDependency(decl ir.Declaration, evaluator script.Evaluator) (*Dependency, error) {
	d := &Dependency{
		decl:              decl,
		originalTriggerID: decl.ID,
	}

	switch {
	case decl.JSImplementation != "":
		fn, err := evaluator.Compile(decl.JSImplementation, true)
		if err != nil {
			return nil, NewCompileError(decl.ID, err)
		}
		d.implementation = fn

	case decl.JS != "":
		wrap := len(decl.Outputs) == 1
		if decl.Backend {
			wrap = len(decl.Inputs) == 1
		}
		fn, err := evaluator.Compile(decl.JS, wrap)
		if err != nil {
			return nil, NewCompileError(decl.ID, err)
		}
		d.frontend = fn
	}

	return d, nil
}

// ID returns the dependency id.
func (d *Dependency) ID() int { return d.decl.ID }

// Declaration returns the declaration the dependency was built from.
func (d *Dependency) Declaration() ir.Declaration { return d.decl }

// Inputs returns the ordered input component ids.
func (d *Dependency) Inputs() []int { return d.decl.Inputs }

// Outputs returns the ordered output component ids.
func (d *Dependency) Outputs() []int { return d.decl.Outputs }

// Submits reports whether running the dependency issues a backend call.
func (d *Dependency) Submits() bool {
	return d.implementation == nil && d.decl.Backend
}

// OriginalTriggerID returns the root of this dependency's trigger_after chain.
// Within a Manager it changes on render; callers hold the Manager's lock.
func (d *Dependency) OriginalTriggerID() int { return d.originalTriggerID }

// AddTrigger records that id fires after this dependency under condition.
// Duplicate pairs are ignored so re-linking after a re-render is safe.
func (d *Dependency) AddTrigger(id int, condition ir.TriggerCondition) {
	for _, t := range d.triggers {
		if t.id == id && t.condition == condition {
			return
		}
	}
	d.triggers = append(d.triggers, trigger{id: id, condition: condition})
}

func (d *Dependency) resetTriggers() {
	d.triggers = nil
}

// Triggers returns chained dependency ids split by condition.
func (d *Dependency) Triggers() (success, failure, all []int) {
	for _, t := range d.triggers {
		switch t.condition {
		case ir.ConditionSuccess:
			success = append(success, t.id)
		case ir.ConditionFailure:
			failure = append(failure, t.id)
		default:
			all = append(all, t.id)
		}
	}
	return success, failure, all
}

// Run executes the dependency.
//
// js_implementation wins over everything else and never reaches the
// backend. Otherwise a frontend transform runs first and its outputs become
// the backend inputs. The returned submission has not been consumed.
func (d *Dependency) Run(ctx context.Context, client Client, data []any, eventData any, targetID *int) (RunResult, error) {
	if d.implementation != nil {
		outs, err := d.implementation.Call(ctx, data, eventData)
		if err != nil {
			return RunResult{}, fmt.Errorf("dependency %d: %w", d.ID(), err)
		}
		return RunResult{Kind: RunData, Data: outs}, nil
	}

	if d.decl.Backend {
		payload := data
		if d.frontend != nil {
			outs, err := d.frontend.Call(ctx, data, eventData)
			if err != nil {
				return RunResult{}, fmt.Errorf("dependency %d: frontend: %w", d.ID(), err)
			}
			payload = ir.Values(outs)
		}

		sub, err := client.Submit(ctx, d.ID(), payload, eventData, targetID)
		if err != nil {
			return RunResult{}, fmt.Errorf("dependency %d: submit: %w", d.ID(), err)
		}
		return RunResult{Kind: RunSubmit, Submission: sub}, nil
	}

	if d.frontend != nil {
		outs, err := d.frontend.Call(ctx, data, eventData)
		if err != nil {
			return RunResult{}, fmt.Errorf("dependency %d: frontend: %w", d.ID(), err)
		}
		return RunResult{Kind: RunData, Data: outs}, nil
	}

	return RunResult{Kind: RunVoid}, nil
}
