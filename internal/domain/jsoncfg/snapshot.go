// Package jsoncfg holds helpers for the free-form JSON payloads stored next to
// job records.
package jsoncfg

import (
	"encoding/json"
	"fmt"
)

// MustMarshal encodes v and panics on failure. Use only for values built from
// plain maps and structs.
func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}

// Snapshot encodes v for a step snapshot. Values that cannot be encoded are
// recorded as an error object instead of failing the step.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return MustMarshal(map[string]string{"snapshot_error": err.Error()})
	}
	return b
}

// Object decodes a snapshot back into a generic map. Empty or invalid input
// yields nil.
func Object(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
