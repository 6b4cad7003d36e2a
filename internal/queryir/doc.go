// Package queryir provides a small query intermediate representation for
// filtering the session audit log.
//
// The IR sits between the places that ask questions of the log (the trace
// command, scenario assertions, the store's own read helpers) and the SQL
// that answers them:
//
//	[--where text] → [Query IR] → [querysql] → SQLite
//
// A query is a Select over one audit table with an optional predicate.
// Predicates are limited to equality on a known column, equality on a
// value bound at compile time, and conjunctions of the two. There is no
// OR, no NULL comparison and no column outside the table's allowlist, so
// every query the IR can express maps to a parameterized WHERE clause.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed with marker methods. Only types in this
// package implement them, which keeps the compiler's type switches
// exhaustive.
//
// VALIDATION:
//
// Validate reports every problem in a query rather than the first one.
// querysql refuses to compile a query that does not validate.
//
// Usage:
//
//	filter, err := queryir.ParseFilter("fn_index=1,stage=error")
//	if err != nil { ... }
//	q := queryir.Select{From: queryir.TableStatus, Filter: filter}
//	if res := queryir.Validate(q); !res.Valid { ... }
package queryir
