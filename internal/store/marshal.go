package store

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/roach88/depflow/internal/ir"
)

// marshalPayload converts a call payload to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalPayload(v any) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalData parses a stored data column back to positional inputs.
// Numbers decode as json.Number so integers above 2^53 survive.
func unmarshalData(text string) ([]any, error) {
	if text == "" || text == "null" {
		return nil, nil
	}
	var out []any
	if err := decode(text, &out); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	return out, nil
}

// unmarshalEventData parses a stored event_data column.
func unmarshalEventData(text string) (any, error) {
	if text == "" || text == "null" {
		return nil, nil
	}
	var out any
	if err := decode(text, &out); err != nil {
		return nil, fmt.Errorf("unmarshal event data: %w", err)
	}
	return out, nil
}

func decode(text string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	return dec.Decode(v)
}
