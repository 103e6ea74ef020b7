package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// MetricValues maps metric name to value. Durations are stored in minutes.
// Persisted as a JSON text column.
type MetricValues map[string]decimal.Decimal

func (mv MetricValues) Clone() MetricValues {
	if mv == nil {
		return nil
	}
	out := make(MetricValues, len(mv))
	for k, v := range mv {
		out[k] = v
	}
	return out
}

func (mv MetricValues) Names() []string {
	names := make([]string, 0, len(mv))
	for k := range mv {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal compares by decimal value, so 1.50 equals 1.5.
func (mv MetricValues) Equal(other MetricValues) bool {
	if len(mv) != len(other) {
		return false
	}
	for k, v := range mv {
		o, ok := other[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

func (mv MetricValues) Value() (driver.Value, error) {
	if mv == nil {
		return "{}", nil
	}
	b, err := json.Marshal(mv)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (mv *MetricValues) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*mv = MetricValues{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("metric values: unsupported source %T", src)
	}
	out := MetricValues{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &out); err != nil {
			return err
		}
	}
	*mv = out
	return nil
}
