package source

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Well-known Source record fields consulted by the sync decision logic.
const (
	FieldID            = "id"
	FieldName          = "name"
	FieldDescription   = "description"
	FieldCategory      = "product_category"
	FieldDisabled      = "disabled"
	FieldMaintainStock = "maintain_stock"
	FieldTaxable       = "taxable"
)

// Record is an immutable snapshot of one Source product as delivered by the
// API or a webhook payload. Values keep the loose JSON typing of the wire
// format (numbers, strings, booleans, nested arrays).
type Record map[string]any

// Has reports whether the field was present in the payload.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Value returns the raw field value and whether it was present.
func (r Record) Value(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// ID returns the Source product identifier, or zero when absent or
// malformed. The API delivers numbers; webhook payloads occasionally carry
// the id as a string.
func (r Record) ID() int64 {
	switch v := r[FieldID].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0
		}
		return parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// Category returns the Source category name, or empty string.
func (r Record) Category() string {
	return r.String(FieldCategory)
}

// Disabled reports whether the record carries a truthy disabled flag.
func (r Record) Disabled() bool {
	v, ok := r.BoolFlag(FieldDisabled)
	return ok && v
}

// BoolFlag interprets the field as a boolean, reporting presence separately
// so "absent" and "false" stay distinguishable.
func (r Record) BoolFlag(key string) (value bool, present bool) {
	raw, ok := r[key]
	if !ok {
		return false, false
	}
	switch v := raw.(type) {
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case string:
		lowered := strings.ToLower(strings.TrimSpace(v))
		return lowered == "1" || lowered == "true", true
	case nil:
		return false, true
	default:
		return false, true
	}
}

// String renders the field as its canonical string form: scalars directly,
// non-scalars via JSON serialization. Used for attribute-field identity
// comparison.
func (r Record) String(key string) string {
	raw, ok := r[key]
	if !ok {
		return ""
	}
	return Stringify(raw)
}

// Stringify converts a loosely typed JSON value into its canonical string
// form for storage and comparison.
func Stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
