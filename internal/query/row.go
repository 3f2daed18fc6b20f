package query

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Row is one materialized result record keyed by column name.
type Row map[string]any

// Get returns a column value. Lookup falls back to a case-insensitive match
// because the engine folds unquoted identifiers.
func (r Row) Get(key string) (any, bool) {
	if v, ok := r[key]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Float returns a numeric column as float64. Absent, null and non-numeric
// values report false. NaN is treated as absent.
func (r Row) Float(key string) (float64, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// String returns a column rendered as text; null is the empty string.
func (r Row) String(key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case *big.Int:
		if x == nil {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	case interface{ Float64() float64 }:
		return x.Float64(), true
	}
	return 0, false
}

// ContractError reports result rows that lack a column its query promises.
type ContractError struct {
	Kind   Kind
	Row    int
	Column string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("query: %s result row %d has no column %q", e.Kind, e.Row, e.Column)
}

// Validate checks every row against the query's column contract.
func Validate(s Spec, rows []Row) error {
	cols := s.Columns()
	if cols == nil {
		return nil
	}
	for i, r := range rows {
		for _, c := range cols {
			if _, ok := r.Get(c); !ok {
				return &ContractError{Kind: s.Kind(), Row: i, Column: c}
			}
		}
	}
	return nil
}
