package queryir

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFilter parses a comma-separated list of column=value terms into a
// conjunction of Equals predicates.
//
// Values that parse as integers become int, true and false become bool,
// double-quoted values are unquoted, and anything else is a string. An
// empty expression yields a nil predicate.
//
//	fn_index=1,stage=error
//	message="a, b"
func ParseFilter(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var preds []Predicate
	for _, term := range splitTerms(expr) {
		field, raw, ok := strings.Cut(term, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("filter term %q: want column=value", term)
		}
		val, err := parseValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("filter term %q: %w", term, err)
		}
		preds = append(preds, Equals{Field: field, Value: val})
	}
	return Where(preds...), nil
}

// splitTerms splits on commas outside double quotes.
func splitTerms(expr string) []string {
	var terms []string
	var cur strings.Builder
	quoted := false
	escaped := false
	for _, r := range expr {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			terms = append(terms, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	return append(terms, cur.String())
}

func parseValue(raw string) (any, error) {
	if strings.HasPrefix(raw, `"`) {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return nil, fmt.Errorf("bad quoted value: %w", err)
		}
		return s, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return raw, nil
}
