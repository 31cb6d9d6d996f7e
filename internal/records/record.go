// Package records is the generic CRUD gateway over registered entity types.
package records

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is one row of an entity table: the implicit id plus an open set of
// text fields. A nil value is SQL NULL.
type Record struct {
	ID     int64
	Fields map[string]*string
}

// Value returns the field value, or "" when the field is NULL or absent.
func (r Record) Value(field string) string {
	if v := r.Fields[field]; v != nil {
		return *v
	}
	return ""
}

// MarshalJSON flattens the record into a single JSON object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = *v
	}
	out["id"] = r.ID
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat object produced by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	r.Fields = make(map[string]*string, len(raw))
	for k, v := range raw {
		if k == "id" {
			id, err := parseID(v)
			if err != nil {
				return err
			}
			r.ID = id
			continue
		}
		s, err := normalizeValue(v)
		if err != nil {
			return fmt.Errorf("records: field %s: %w", k, err)
		}
		r.Fields[k] = s
	}
	return nil
}

// normalizeValue converts a decoded JSON value into a column value. Empty
// strings and nulls are the same state and both become NULL.
func normalizeValue(v any) (*string, error) {
	var s string
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case bool:
		s = strconv.FormatBool(val)
	case []any, map[string]any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		s = string(encoded)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// parseID accepts the id forms a JSON payload or query string may carry.
// A zero result with nil error means no id was supplied.
func parseID(v any) (int64, error) {
	var raw string
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		raw = strings.TrimSpace(val)
	case json.Number:
		raw = val.String()
	case float64:
		raw = strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		raw = strconv.FormatInt(val, 10)
	case int:
		raw = strconv.Itoa(val)
	default:
		return 0, errInvalidID(v)
	}
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID(v)
	}
	return id, nil
}
