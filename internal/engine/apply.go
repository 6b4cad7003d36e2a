package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/depflow/internal/ir"
)

// ValidationErrorKey is the component state key holding an input's
// validation message.
const ValidationErrorKey = "validation_error"

// ApplyOutputs writes data to the output components, position by position.
//
// Unset outputs and missing trailing values leave the component alone. A
// plain value sets the "value" key. An update envelope patches every key
// but the marker, then applies "visible" in its own update.
//
// Applying the same data twice yields the same state.
func (m *Manager) ApplyOutputs(ctx context.Context, outputs []int, data []ir.Output) error {
	var errs []error
	for i, id := range outputs {
		if i >= len(data) {
			break
		}
		out := data[i]
		if !out.IsSet() {
			continue
		}

		env, ok := out.Value().(map[string]any)
		if !ok || !ir.IsUpdate(env) {
			if err := m.state.Update(ctx, id, map[string]any{"value": out.Value()}, false); err != nil {
				errs = append(errs, fmt.Errorf("output %d: %w", id, err))
			}
			continue
		}

		patch := make(map[string]any, len(env))
		visible, hasVisible := env[ir.VisibleKey]
		for k, v := range env {
			if k == ir.TypeKey || k == ir.VisibleKey {
				continue
			}
			patch[k] = v
		}
		if len(patch) > 0 {
			if err := m.state.Update(ctx, id, patch, false); err != nil {
				errs = append(errs, fmt.Errorf("output %d: %w", id, err))
				continue
			}
		}
		if hasVisible {
			if err := m.state.Update(ctx, id, map[string]any{ir.VisibleKey: visible}, true); err != nil {
				errs = append(errs, fmt.Errorf("output %d visibility: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

// clearValidation removes stale validation messages from inputs.
func (m *Manager) clearValidation(ctx context.Context, inputs []int) {
	for _, id := range inputs {
		st, err := m.state.Get(ctx, id)
		if err != nil || st == nil || st[ValidationErrorKey] == nil {
			continue
		}
		if err := m.state.Update(ctx, id, map[string]any{ValidationErrorKey: nil}, false); err != nil {
			slog.Warn("clear validation failed", "component", id, "error", err)
		}
	}
}

// rejectInputs records per-input validation failures and ends the run
// without firing any chained dependency.
func (m *Manager) rejectInputs(ctx context.Context, r *run, verdicts []ir.ValidationError) {
	inputs := r.dep.Inputs()
	for i, v := range verdicts {
		if i >= len(inputs) {
			break
		}
		if v.IsValid {
			continue
		}
		if err := m.state.Update(ctx, inputs[i], map[string]any{ValidationErrorKey: v.Message}, false); err != nil {
			slog.Warn("set validation failed", "component", inputs[i], "error", err)
		}
	}

	var outputsOnly []int
	for _, id := range r.dep.Outputs() {
		if !slices.Contains(inputs, id) {
			outputsOnly = append(outputsOnly, id)
		}
	}
	m.status.Clear(outputsOnly)

	slog.Info("inputs rejected",
		"dependency", r.dep.ID(),
		"verdicts", len(verdicts),
	)

	r.restore(ctx)
	m.release(r.inv)
	m.replayDeferred(r.dep.ID(), r.quota)
}
