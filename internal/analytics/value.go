package analytics

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Value is a statistic that may be undefined for its input (zero variance,
// too few points). An undefined Value marshals as JSON null.
type Value struct {
	v  float64
	ok bool
}

// NA is the undefined Value
var NA = Value{}

// Some wraps v; NaN and infinities become NA
func Some(v float64) Value {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NA
	}
	return Value{v: v, ok: true}
}

// Float returns the value and whether it is defined
func (v Value) Float() (float64, bool) {
	return v.v, v.ok
}

// Or returns the value, or fallback when undefined
func (v Value) Or(fallback float64) float64 {
	if !v.ok {
		return fallback
	}
	return v.v
}

// IsNA reports whether the value is undefined
func (v Value) IsNA() bool {
	return !v.ok
}

func (v Value) String() string {
	if !v.ok {
		return "N/A"
	}
	return strconv.FormatFloat(v.v, 'g', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = NA
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Some(f)
	return nil
}
