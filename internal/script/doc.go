// Package script compiles and runs frontend transforms.
//
// A dependency may carry a frontend transform (run before or instead of the
// backend call) or a js_implementation that replaces the backend call
// entirely. Both are source strings supplied by the backend. This package
// isolates their evaluation behind Evaluator so the dispatch engine never
// depends on a particular language. The default evaluator is a sandboxed
// expr-lang program: no I/O, no host access, bounded by the expression.
//
// Environment exposed to a transform:
//
//	args    []any   positional input values
//	arg     any     args[0] when there is exactly one input
//	event   any     event payload of the dispatch (may be nil)
//	skip()          "no update" for an output slot
//	update(map)     property update envelope
package script
