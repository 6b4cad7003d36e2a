package queryir

import (
	"fmt"
	"strings"
)

// ValidationResult lists every problem found in a query.
type ValidationResult struct {
	// Valid is true when Errors is empty.
	Valid bool

	Errors []string
}

// Validate checks a query against the audit table allowlists.
//
// Rules:
//  1. From must name an audit table.
//  2. Every compared column must be filterable on that table.
//  3. Literal values must be strings, bools or integers (no NULL).
//  4. Bound variables must use the "bound." prefix.
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{errors: []string{}}
	v.validateQuery(query)
	return ValidationResult{
		Valid:  len(v.errors) == 0,
		Errors: v.errors,
	}
}

type validator struct {
	table  Table
	errors []string
}

func (v *validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addError("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	default:
		v.addError("unknown query type: %T", q)
	}
}

func (v *validator) validateSelect(sel Select) {
	if _, ok := results[sel.From]; !ok {
		v.addError("unknown table %q", sel.From)
		return
	}
	v.table = sel.From
	v.validatePredicate(sel.Filter)
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		// no filter
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case BoundEquals:
		v.validateBound(pred)
	case *BoundEquals:
		v.validateBound(*pred)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addError("unknown predicate type: %T", p)
	}
}

func (v *validator) validateField(field string) bool {
	if !Filterable(v.table, field) {
		v.addError("column %q cannot be filtered on %s", field, v.table)
		return false
	}
	return true
}

func (v *validator) validateEquals(eq Equals) {
	if !v.validateField(eq.Field) {
		return
	}
	switch eq.Value.(type) {
	case string, bool, int, int32, int64:
	case nil:
		v.addError("column %q compared to NULL", eq.Field)
	default:
		v.addError("column %q compared to unsupported value type %T", eq.Field, eq.Value)
	}
}

func (v *validator) validateBound(b BoundEquals) {
	v.validateField(b.Field)
	if !strings.HasPrefix(b.BoundVar, "bound.") || len(b.BoundVar) == len("bound.") {
		v.addError("bound variable %q must look like bound.name", b.BoundVar)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		v.validatePredicate(sub)
	}
}
