package storage

import (
	"fmt"
	"strconv"
	"time"
)

// Document is a flat map of field path to value. Nested fields use dotted
// paths ("tokenUsage.used") so that a single field can be merged or
// incremented without rewriting its siblings.
type Document map[string]string

// Clone returns an independent copy of d
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Int64 parses an integer field; a missing or empty field reads as zero
func (d Document) Int64(field string) (int64, error) {
	raw, ok := d[field]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", field, err)
	}
	return v, nil
}

// Time parses a timestamp field; a missing or empty field reads as nil
func (d Document) Time(field string) (*time.Time, error) {
	raw, ok := d[field]
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", field, err)
	}
	return &t, nil
}

// FormatInt encodes an integer field value
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// FormatTime encodes a timestamp field value
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// pairs flattens d into the field/value argument list Redis expects
func (d Document) pairs() []interface{} {
	args := make([]interface{}, 0, len(d)*2)
	for k, v := range d {
		args = append(args, k, v)
	}
	return args
}
