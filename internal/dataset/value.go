package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
)

// Kind is the storage kind of a Value or Column.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	default:
		return "null"
	}
}

// Value is a scalar cell value or null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
}

func Null() Value                { return Value{} }
func BoolValue(v bool) Value     { return Value{kind: KindBool, b: v} }
func IntValue(v int64) Value     { return Value{kind: KindInt, i: v} }
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }
func StringValue(v string) Value { return Value{kind: KindString, s: v} }
func TimeValue(v time.Time) Value {
	return Value{kind: KindTime, t: v}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Any returns the Go value held by v, or nil for null.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	default:
		return nil
	}
}

// String renders v as prompt-friendly text. Null renders as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindString:
		return v.s
	case KindTime:
		if v.t.Hour() == 0 && v.t.Minute() == 0 && v.t.Second() == 0 && v.t.Nanosecond() == 0 {
			return v.t.Format("2006-01-02")
		}
		return v.t.Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindTime:
		return v.t.Equal(other.t)
	case KindFloat:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	default:
		return v.Any() == other.Any()
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.f)
	case KindTime:
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	default:
		return json.Marshal(v.Any())
	}
}

// ValueOf converts a value scanned from database/sql into a Value.
func ValueOf(raw any) Value {
	switch typed := raw.(type) {
	case nil:
		return Null()
	case bool:
		return BoolValue(typed)
	case int:
		return IntValue(int64(typed))
	case int8:
		return IntValue(int64(typed))
	case int16:
		return IntValue(int64(typed))
	case int32:
		return IntValue(int64(typed))
	case int64:
		return IntValue(typed)
	case uint8:
		return IntValue(int64(typed))
	case uint16:
		return IntValue(int64(typed))
	case uint32:
		return IntValue(int64(typed))
	case uint64:
		if typed > math.MaxInt64 {
			return FloatValue(float64(typed))
		}
		return IntValue(int64(typed))
	case float32:
		return FloatValue(float64(typed))
	case float64:
		return FloatValue(typed)
	case string:
		return StringValue(typed)
	case []byte:
		return StringValue(string(typed))
	case time.Time:
		return TimeValue(typed)
	case *big.Int:
		if typed == nil {
			return Null()
		}
		if typed.IsInt64() {
			return IntValue(typed.Int64())
		}
		f, _ := new(big.Float).SetInt(typed).Float64()
		return FloatValue(f)
	case duckdb.Decimal:
		return FloatValue(typed.Float64())
	case map[string]any, []any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return StringValue(fmt.Sprint(typed))
		}
		return StringValue(string(encoded))
	case fmt.Stringer:
		return StringValue(typed.String())
	default:
		return StringValue(fmt.Sprint(typed))
	}
}

// Coerce converts v to kind, returning null when the conversion is not possible.
func (v Value) Coerce(kind Kind) Value {
	if v.kind == kind || v.kind == KindNull {
		return v
	}
	switch kind {
	case KindString:
		return StringValue(v.String())
	case KindFloat:
		switch v.kind {
		case KindInt:
			return FloatValue(float64(v.i))
		case KindString:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
				return FloatValue(f)
			}
		}
	case KindInt:
		switch v.kind {
		case KindFloat:
			if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f <= math.MaxInt64 {
				return IntValue(int64(v.f))
			}
		case KindString:
			if i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64); err == nil {
				return IntValue(i)
			}
		}
	case KindBool:
		if v.kind == KindString {
			if b, err := strconv.ParseBool(strings.TrimSpace(v.s)); err == nil {
				return BoolValue(b)
			}
		}
	case KindTime:
		if v.kind == KindString {
			if t, ok := parseTimestamp(v.s); ok {
				return TimeValue(t)
			}
		}
	}
	return Null()
}
