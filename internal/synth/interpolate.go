package synth

import "regexp"

var placeholder = regexp.MustCompile(`\$\{([^{}]+?)_OUTPUT\}`)

// Interpolate replaces ${<step id>_OUTPUT} in every string of v, walking
// nested maps and lists. Placeholders naming steps absent from results are
// left as they are.
func Interpolate(v any, results map[string]string) any {
	switch t := v.(type) {
	case string:
		return InterpolateString(t, results)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = Interpolate(inner, results)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = Interpolate(inner, results)
		}
		return out
	default:
		return v
	}
}

// InterpolateString is Interpolate for a single string.
func InterpolateString(s string, results map[string]string) string {
	if len(results) == 0 {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		id := placeholder.FindStringSubmatch(m)[1]
		if out, ok := results[id]; ok {
			return out
		}
		return m
	})
}
