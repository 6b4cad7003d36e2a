package queryir

import "slices"

// Table names an audit log table.
type Table string

const (
	TableAPICalls Table = "api_calls"
	TableStatus   Table = "status_updates"
)

// results lists the columns a Select returns, in result order. The store
// scans rows in exactly this order.
var results = map[Table][]string{
	TableAPICalls: {"seq", "invocation_id", "fn_index", "data", "event_data", "trigger_id", "payload_hash"},
	TableStatus:   {"seq", "fn_index", "stage", "message", "queue", "position", "eta"},
}

// filterable lists the columns a predicate may compare. JSON payload
// columns are excluded; session_id is filterable but never returned.
var filterable = map[Table][]string{
	TableAPICalls: {"session_id", "seq", "invocation_id", "fn_index", "trigger_id", "payload_hash"},
	TableStatus:   {"session_id", "seq", "fn_index", "stage", "message", "queue", "position"},
}

// Columns returns the result columns of t in order, or nil when t is not
// an audit table.
func Columns(t Table) []string {
	return slices.Clone(results[t])
}

// Filterable reports whether predicates may compare column on t.
func Filterable(t Table, column string) bool {
	return slices.Contains(filterable[t], column)
}

// Query is a query over the audit log.
//
// This is a sealed interface. Select is the only implementation.
type Query interface {
	queryNode()
}

// Predicate is a row filter.
//
// This is a sealed interface. Implementations:
//   - Equals: column = literal
//   - BoundEquals: column = value bound at compile time
//   - And: every predicate holds
type Predicate interface {
	predicateNode()
}

// Select reads rows of one table.
//
//	SELECT <Columns(From)> FROM <From> WHERE <Filter> ORDER BY seq
//
// A nil Filter selects every row.
type Select struct {
	From   Table
	Filter Predicate
}

func (Select) queryNode() {}

// Equals compares a column to a literal.
//
// Value must be a string, bool or integer. NULL comparisons are not
// expressible.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// BoundEquals compares a column to a value supplied when the query is
// compiled.
//
// BoundVar follows the "bound.name" convention, e.g. "bound.session".
type BoundEquals struct {
	Field    string
	BoundVar string
}

func (BoundEquals) predicateNode() {}

// And holds when all of Predicates hold. An empty And always holds.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Where conjoins preds, dropping nils. It returns nil when nothing is
// left and the predicate itself when only one is.
func Where(preds ...Predicate) Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}
