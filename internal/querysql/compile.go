// Package querysql compiles queryir queries to parameterized SQLite.
package querysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/depflow/internal/queryir"
)

// SQLCompiler compiles queryir queries to SQL for the audit log.
//
// Every compiled query orders by seq, so results follow the log's logical
// clock. Values are always passed as parameters, never interpolated.
type SQLCompiler struct {
	// BoundValues holds the values for BoundEquals predicates, keyed by
	// bound variable name ("bound.session").
	BoundValues map[string]any
}

// NewSQLCompiler creates a compiler with no bound values.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{
		BoundValues: make(map[string]any),
	}
}

// Compile converts a query to SQL and its parameters.
//
// The query must pass queryir.Validate. A BoundEquals whose variable has
// no value in BoundValues is an error.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if res := queryir.Validate(q); !res.Valid {
		return "", nil, fmt.Errorf("invalid query: %s", strings.Join(res.Errors, "; "))
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	var where string
	var params []any
	if q.Filter != nil {
		sql, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where = " WHERE " + sql
		params = filterParams
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		strings.Join(queryir.Columns(q.From), ", "),
		q.From,
		where,
		stableOrderKey(q.From))
	return sql, params, nil
}

// stableOrderKey orders by seq with a binary-collated tiebreaker where the
// table has a text key.
func stableOrderKey(t queryir.Table) string {
	if t == queryir.TableAPICalls {
		return "seq ASC, invocation_id COLLATE BINARY ASC"
	}
	return "seq ASC"
}

func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return compileEquals(pred)
	case *queryir.Equals:
		return compileEquals(*pred)
	case queryir.BoundEquals:
		return c.compileBoundEquals(pred)
	case *queryir.BoundEquals:
		return c.compileBoundEquals(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEquals(eq queryir.Equals) (string, []any, error) {
	param, err := toParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("column %s: %w", eq.Field, err)
	}
	return eq.Field + " = ?", []any{param}, nil
}

func (c *SQLCompiler) compileBoundEquals(beq queryir.BoundEquals) (string, []any, error) {
	val, ok := c.BoundValues[beq.BoundVar]
	if !ok {
		return "", nil, fmt.Errorf("no value bound for %s", beq.BoundVar)
	}
	param, err := toParam(val)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", beq.BoundVar, err)
	}
	return beq.Field + " = ?", []any{param}, nil
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, predParams, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		if _, nested := pred.(queryir.And); nested {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		params = append(params, predParams...)
	}
	return strings.Join(parts, " AND "), params, nil
}

var errNullParam = errors.New("NULL cannot be used as a parameter")

// toParam normalizes integer literals to int64 for the driver.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string, bool, int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case nil:
		return nil, errNullParam
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", v)
	}
}
