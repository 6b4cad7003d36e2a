package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/depflow/internal/ir"
)

// CompileDeclarations parses the "dependencies" list of a CUE value.
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`dependencies: [{id: 0, backend_fn: true, ...}]`)
//	decls, err := CompileDeclarations(v)
//
// A missing list yields no declarations and no error.
func CompileDeclarations(v cue.Value) ([]ir.Declaration, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	list := v.LookupPath(cue.ParsePath("dependencies"))
	if !list.Exists() {
		return nil, nil
	}

	it, err := list.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var decls []ir.Declaration
	for it.Next() {
		decl, err := CompileDeclaration(it.Value())
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// CompileDeclaration parses a single dependency declaration.
func CompileDeclaration(v cue.Value) (ir.Declaration, error) {
	var d ir.Declaration
	if err := v.Err(); err != nil {
		return d, formatCUEError(err)
	}

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return d, &CompileError{Field: "id", Message: "id is required", Pos: v.Pos()}
	}
	id, err := lookupInt(idVal, "id")
	if err != nil {
		return d, err
	}
	d.ID = id

	if d.Targets, err = parseTargets(v); err != nil {
		return d, err
	}
	if d.Inputs, err = optionalInts(v, "inputs"); err != nil {
		return d, err
	}
	if d.Outputs, err = optionalInts(v, "outputs"); err != nil {
		return d, err
	}
	if d.Cancels, err = optionalInts(v, "cancels"); err != nil {
		return d, err
	}

	mode, err := optionalString(v, "trigger_mode")
	if err != nil {
		return d, err
	}
	d.TriggerMode = ir.TriggerMode(mode)

	conn, err := optionalString(v, "connection")
	if err != nil {
		return d, err
	}
	d.ConnectionType = ir.ConnectionType(conn)

	if d.Backend, err = optionalBool(v, "backend_fn"); err != nil {
		return d, err
	}
	if d.JS, err = optionalString(v, "js"); err != nil {
		return d, err
	}
	if d.JSImplementation, err = optionalString(v, "js_implementation"); err != nil {
		return d, err
	}
	if d.TriggerAfter, err = optionalIntPtr(v, "trigger_after"); err != nil {
		return d, err
	}
	if d.TriggerOnlyOnSuccess, err = optionalBool(v, "trigger_only_on_success"); err != nil {
		return d, err
	}
	if d.TriggerOnlyOnFailure, err = optionalBool(v, "trigger_only_on_failure"); err != nil {
		return d, err
	}
	if d.RenderID, err = optionalIntPtr(v, "rendered_in"); err != nil {
		return d, err
	}
	if d.APIName, err = optionalString(v, "api_name"); err != nil {
		return d, err
	}

	if sp := v.LookupPath(cue.ParsePath("show_progress")); sp.Exists() {
		b, err := sp.Bool()
		if err != nil {
			return d, fieldError("show_progress", sp, err)
		}
		d.ShowProgress = &b
	}

	if args := v.LookupPath(cue.ParsePath("event_specific_args")); args.Exists() {
		var m map[string]any
		if err := args.Decode(&m); err != nil {
			return d, fieldError("event_specific_args", args, err)
		}
		d.EventArgs = m
	}

	return d, nil
}

// parseTargets accepts [[id, "event"], ...] or [{component_id: id, event: "e"}, ...].
func parseTargets(v cue.Value) ([]ir.Target, error) {
	tv := v.LookupPath(cue.ParsePath("targets"))
	if !tv.Exists() {
		return nil, nil
	}
	it, err := tv.List()
	if err != nil {
		return nil, fieldError("targets", tv, err)
	}

	var targets []ir.Target
	for it.Next() {
		elem := it.Value()
		var t ir.Target

		if pair, err := elem.List(); err == nil {
			var parts []cue.Value
			for pair.Next() {
				parts = append(parts, pair.Value())
			}
			if len(parts) != 2 {
				return nil, &CompileError{
					Field:   "targets",
					Message: fmt.Sprintf("target must be [id, event], got %d elements", len(parts)),
					Pos:     elem.Pos(),
				}
			}
			if t.ComponentID, err = lookupInt(parts[0], "targets"); err != nil {
				return nil, err
			}
			if t.Event, err = parts[1].String(); err != nil {
				return nil, fieldError("targets", parts[1], err)
			}
		} else {
			if t.ComponentID, err = lookupInt(elem.LookupPath(cue.ParsePath("component_id")), "targets.component_id"); err != nil {
				return nil, err
			}
			ev := elem.LookupPath(cue.ParsePath("event"))
			if t.Event, err = ev.String(); err != nil {
				return nil, fieldError("targets.event", ev, err)
			}
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func lookupInt(v cue.Value, field string) (int, error) {
	n, err := v.Int64()
	if err != nil {
		return 0, fieldError(field, v, err)
	}
	return int(n), nil
}

func optionalInts(v cue.Value, field string) ([]int, error) {
	lv := v.LookupPath(cue.ParsePath(field))
	if !lv.Exists() {
		return nil, nil
	}
	it, err := lv.List()
	if err != nil {
		return nil, fieldError(field, lv, err)
	}
	out := []int{}
	for it.Next() {
		n, err := lookupInt(it.Value(), field)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func optionalIntPtr(v cue.Value, field string) (*int, error) {
	iv := v.LookupPath(cue.ParsePath(field))
	if !iv.Exists() || iv.IsNull() {
		return nil, nil
	}
	n, err := lookupInt(iv, field)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(field))
	if !sv.Exists() {
		return "", nil
	}
	if d, ok := sv.Default(); ok {
		sv = d
	}
	s, err := sv.String()
	if err != nil {
		return "", fieldError(field, sv, err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	bv := v.LookupPath(cue.ParsePath(field))
	if !bv.Exists() {
		return false, nil
	}
	b, err := bv.Bool()
	if err != nil {
		return false, fieldError(field, bv, err)
	}
	return b, nil
}

func fieldError(field string, v cue.Value, err error) error {
	return &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
