// Package issue defines the unit of work routed through the phase engine.
//
// An Issue is an open record of facts with two engine-owned fields promoted to
// typed struct members:
//
//   - CurrentPhase: the phase the issue claims to be in. Plugins write it to
//     request a jump to (or re-entry into) another phase.
//   - Reward: accumulator incremented once per phase invocation.
//
// Every other field is payload the engine never interprets. On the wire an
// Issue is a flat JSON object where the engine fields appear under the
// reserved keys "_current_phase" and "_reward".
package issue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Reserved payload keys owned by the engine.
const (
	KeyCurrentPhase = "_current_phase"
	KeyReward       = "_reward"
)

// ErrReservedKey is returned when payload helpers are used with an engine key.
var ErrReservedKey = errors.New("reserved issue key")

// Issue is a mutable record shared by pointer across one processing pass.
//
// Issue is not safe for concurrent use; the engine serializes access while
// plugins act on it.
type Issue struct {
	CurrentPhase string
	Reward       float64
	Fields       map[string]any
}

// New returns an issue seeded with a copy of fields. Reserved keys present in
// fields are promoted to the typed members.
func New(fields map[string]any) (*Issue, error) {
	is := &Issue{Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		if err := is.assign(k, v); err != nil {
			return nil, err
		}
	}
	return is, nil
}

// Get returns a payload field.
func (is *Issue) Get(key string) (any, bool) {
	if is.Fields == nil {
		return nil, false
	}
	v, ok := is.Fields[key]
	return v, ok
}

// Has reports whether a payload field is present.
func (is *Issue) Has(key string) bool {
	_, ok := is.Get(key)
	return ok
}

// Set writes a payload field. Reserved keys must be written through the typed
// members.
func (is *Issue) Set(key string, value any) error {
	if isReserved(key) {
		return fmt.Errorf("set %q: %w", key, ErrReservedKey)
	}
	if is.Fields == nil {
		is.Fields = make(map[string]any)
	}
	is.Fields[key] = value
	return nil
}

// Delete removes a payload field.
func (is *Issue) Delete(key string) {
	delete(is.Fields, key)
}

// Keys returns the payload keys in sorted order.
func (is *Issue) Keys() []string {
	keys := make([]string, 0, len(is.Fields))
	for k := range is.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a field as a list: a missing field yields an empty list and a
// scalar yields a one-element list.
func (is *Issue) Values(key string) []any {
	v, ok := is.Get(key)
	if !ok || v == nil {
		return []any{}
	}
	switch t := v.(type) {
	case []any:
		return append([]any(nil), t...)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// String returns a field formatted as a string, or "" when absent.
func (is *Issue) String(key string) string {
	v, ok := is.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Env returns a flat view of the issue including the reserved keys. The payload
// values are shared with the issue, not copied.
func (is *Issue) Env() map[string]any {
	env := make(map[string]any, len(is.Fields)+2)
	for k, v := range is.Fields {
		env[k] = v
	}
	env[KeyCurrentPhase] = is.CurrentPhase
	env[KeyReward] = is.Reward
	return env
}

// Clone returns a deep copy of the issue. Nested maps and slices of the JSON
// shapes are copied; other values are shared.
func (is *Issue) Clone() *Issue {
	out := &Issue{
		CurrentPhase: is.CurrentPhase,
		Reward:       is.Reward,
		Fields:       make(map[string]any, len(is.Fields)),
	}
	for k, v := range is.Fields {
		out.Fields[k] = cloneValue(v)
	}
	return out
}

// MarshalJSON encodes the issue as a flat object.
func (is *Issue) MarshalJSON() ([]byte, error) {
	return json.Marshal(is.Env())
}

// UnmarshalJSON decodes a flat object, promoting the reserved keys.
func (is *Issue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode issue: %w", err)
	}
	if raw == nil {
		return errors.New("decode issue: expected a JSON object")
	}
	decoded := Issue{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		if err := decoded.assign(k, normalizeNumbers(v)); err != nil {
			return err
		}
	}
	*is = decoded
	return nil
}

func (is *Issue) assign(key string, value any) error {
	switch key {
	case KeyCurrentPhase:
		if value == nil {
			is.CurrentPhase = ""
			return nil
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s must be a string, got %T", KeyCurrentPhase, value)
		}
		is.CurrentPhase = s
	case KeyReward:
		if value == nil {
			is.Reward = 0
			return nil
		}
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("%s must be numeric, got %T", KeyReward, value)
		}
		is.Reward = f
	default:
		is.Fields[key] = value
	}
	return nil
}

func isReserved(key string) bool {
	return key == KeyCurrentPhase || key == KeyReward
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// normalizeNumbers turns json.Number into int64 when integral and float64
// otherwise, so payload arithmetic behaves the same as hand-built issues.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
