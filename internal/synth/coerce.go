package synth

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/adapters"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llmjson"
)

var truthy = map[string]bool{"true": true, "1": true, "yes": true, "y": true}

// Coerce keeps only the declared parameters of schema and converts each
// value to its declared type. Values that cannot be converted are dropped.
// Coerce(Coerce(x)) == Coerce(x).
func Coerce(schema orchestrator.ToolSchema, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for _, p := range schema.Params() {
		raw, ok := args[p.Name]
		if !ok {
			continue
		}
		v, err := CoerceValue(p.Type, raw)
		if err != nil {
			logger.KV(xlog.WARNING,
				"status", "argument_dropped",
				"tool", schema.Name,
				"param", p.Name,
				"expected", p.Type,
				"err", err.Error())
			continue
		}
		out[p.Name] = v
	}
	return out
}

// CoerceValue converts v to typ.
func CoerceValue(typ orchestrator.ParamType, v any) (any, error) {
	switch typ {
	case orchestrator.ParamNumber:
		return toNumber(v)
	case orchestrator.ParamInteger:
		return toInteger(v)
	case orchestrator.ParamBoolean:
		return toBoolean(v), nil
	case orchestrator.ParamObject:
		return toObject(v), nil
	case orchestrator.ParamList:
		return toList(v), nil
	default:
		return toString(v)
	}
}

func toNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.Newf("%q is not a number", t)
		}
		return f, nil
	}
	return 0, errors.Newf("cannot use %T as number", v)
}

func toInteger(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.Atoi(s); err == nil {
			return i, nil
		}
	}
	f, err := toNumber(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errors.Newf("%v is not an integer", v)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errors.Newf("%v is out of integer range", v)
	}
	return int(f), nil
}

func toBoolean(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return truthy[strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))]
}

func toObject(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
		return obj
	}
	return v
}

func toList(v any) any {
	switch t := v.(type) {
	case []any:
		return t
	case string:
		var list []any
		if err := json.Unmarshal([]byte(t), &list); err == nil && list != nil {
			return list
		}
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return v
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", errors.New("null value")
	case map[string]any, []any:
		return llmjson.Compact(t)
	}
	return adapters.RenderValue(v), nil
}
