package format

import (
	"math"
	"strconv"

	"github.com/goccy/go-json"

	exerrors "github.com/logflow/docexport/pkg/errors"
)

// typedValue converts v for a column of c's type. Nil stays nil; a value the
// column cannot hold is an InvalidDocument error rather than a null cell.
func typedValue(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		ok  bool
	)
	switch c.Type {
	case TypeFloat64:
		out, ok = asFloat64(v)
	case TypeInt64:
		out, ok = asInt64(v)
	case TypeBool:
		out, ok = asBool(v)
	default:
		return asText(v), nil
	}
	if !ok {
		return nil, exerrors.Newf(exerrors.CodeInvalidDocument, "value of type %T does not fit a %s column", v, c.Type).
			WithContext("column", c.Name).
			WithContext("value", asText(v))
	}
	return out, nil
}

func asFloat64(v any) (float64, bool) {
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
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	f, ok := asFloat64(v)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		p, err := strconv.ParseBool(b)
		return p, err == nil
	}
	f, ok := asFloat64(v)
	return f != 0, ok
}

// asText renders a value for text cells; arrays and objects become JSON.
func asText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case int, int64, int32, uint, uint64, uint32:
		n, _ := asInt64(t)
		return strconv.FormatInt(n, 10)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
