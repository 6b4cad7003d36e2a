package ir

import (
	"fmt"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// UpdateMarker is the value of the "__type__" key that marks a property
// update envelope.
const UpdateMarker = "update"

// TypeKey is the envelope tag key.
const TypeKey = "__type__"

// VisibleKey is applied after every other envelope key, in its own transaction.
const VisibleKey = "visible"

// Output is one positional result slot.
//
// An Output is in one of three states: Unset (leave the component alone),
// explicit null, or a value. The zero value is Unset.
type Output struct {
	set   bool
	value any
}

// Unset is the "no update" output.
var Unset = Output{}

// Some wraps v as a set output. Some(nil) is an explicit null.
func Some(v any) Output {
	return Output{set: true, value: v}
}

// Outputs wraps every element of vals as a set output.
func Outputs(vals ...any) []Output {
	out := make([]Output, len(vals))
	for i, v := range vals {
		out[i] = Some(v)
	}
	return out
}

// IsSet reports whether the output carries an update.
func (o Output) IsSet() bool { return o.set }

// IsNull reports whether the output is an explicit null.
func (o Output) IsNull() bool { return o.set && o.value == nil }

// Value returns the wrapped value, nil when unset.
func (o Output) Value() any { return o.value }

// String renders the output for logs and golden traces.
func (o Output) String() string {
	switch {
	case !o.set:
		return "<unset>"
	case o.value == nil:
		return "null"
	default:
		return fmt.Sprintf("%v", o.value)
	}
}

// MarshalJSON encodes an unset output as null; use Values to drop them first
// when the distinction matters.
func (o Output) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.value)
}

// UnmarshalJSON always produces a set output.
func (o *Output) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// UnmarshalYAML always produces a set output.
func (o *Output) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// Values unwraps outputs into plain values; unset slots become nil.
func Values(outs []Output) []any {
	vals := make([]any, len(outs))
	for i, o := range outs {
		vals[i] = o.value
	}
	return vals
}

// Update builds a property update envelope.
func Update(props map[string]any) map[string]any {
	env := make(map[string]any, len(props)+1)
	for k, v := range props {
		env[k] = v
	}
	env[TypeKey] = UpdateMarker
	return env
}

// IsUpdate reports whether v is a property update envelope.
func IsUpdate(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	tag, ok := m[TypeKey].(string)
	return ok && tag == UpdateMarker
}

// UnmarshalYAML accepts both [id, "event"] and the mapping form.
func (t *Target) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		if len(node.Content) != 2 {
			return fmt.Errorf("target: expected [id, event], got %d elements", len(node.Content))
		}
		if err := node.Content[0].Decode(&t.ComponentID); err != nil {
			return fmt.Errorf("target id: %w", err)
		}
		if err := node.Content[1].Decode(&t.Event); err != nil {
			return fmt.Errorf("target event: %w", err)
		}
		return nil
	}

	type plain Target
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	*t = Target(p)
	return nil
}
