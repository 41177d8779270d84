// Package llmjson decodes the loosely formatted JSON that chat models return.
package llmjson

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"
)

// StepsKey is the key a bare top-level array is wrapped under.
const StepsKey = "steps"

var (
	backtick       = "```"
	objectBoundary = regexp.MustCompile(`}\s*{`)
)

// DecodeObject extracts a JSON object from model output. It tries, in order:
// a direct parse, the content inside Markdown code fences, the outermost
// {...} (or [...]) substring, and finally a merge of concatenated objects.
// Arrays are wrapped as {"steps": [...]}. It never fails; when nothing
// parses the result is an empty map.
func DecodeObject(content string) map[string]any {
	text := strings.TrimSpace(content)
	if text == "" {
		return map[string]any{}
	}

	if obj, ok := parse(text, 1); ok {
		return obj
	}
	if unfenced := TrimFences(text); unfenced != text {
		if obj, ok := parse(unfenced, 1); ok {
			return obj
		}
		text = unfenced
	}
	if obj, ok := outermost(text); ok {
		return obj
	}
	if obj, ok := mergeConcatenated(text); ok {
		return obj
	}
	return map[string]any{}
}

// parse decodes text as an object, an array, or a JSON string holding
// either. depth bounds the string unwrapping.
func parse(text string, depth int) (map[string]any, bool) {
	var v any
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return normalize(t).(map[string]any), true
	case []any:
		return map[string]any{StepsKey: normalize(t)}, true
	case string:
		if depth > 0 {
			return parse(strings.TrimSpace(t), depth-1)
		}
	}
	return nil, false
}

// TrimFences removes a leading ``` line (with optional language tag) and a
// trailing ``` marker.
func TrimFences(text string) string {
	s := strings.TrimSpace(text)
	start := strings.Index(s, backtick)
	if start == -1 {
		return s
	}
	s = s[start+len(backtick):]
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		head := strings.TrimSpace(s[:nl])
		if head == "" || !strings.ContainsAny(head, "{[") {
			s = s[nl+1:]
		}
	}
	if end := strings.LastIndex(s, backtick); end != -1 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func outermost(text string) (map[string]any, bool) {
	if start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); start != -1 && end > start {
		if obj, ok := parse(text[start:end+1], 0); ok {
			return obj, true
		}
	}
	if start, end := strings.IndexByte(text, '['), strings.LastIndexByte(text, ']'); start != -1 && end > start {
		if obj, ok := parse(text[start:end+1], 0); ok {
			if _, isList := obj[StepsKey].([]any); isList {
				return obj, true
			}
		}
	}
	return nil, false
}

// mergeConcatenated handles "{...}{...}", pretty-printed objects back to
// back, or one object per line. Later objects overwrite earlier keys.
func mergeConcatenated(text string) (map[string]any, bool) {
	if start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); start != -1 && end > start {
		text = text[start : end+1]
	}
	if merged, ok := mergeStream(text); ok {
		return merged, true
	}

	parts := strings.Split(objectBoundary.ReplaceAllString(text, "}\n{"), "\n")
	merged := map[string]any{}
	found := false
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		obj, ok := parse(part, 0)
		if !ok {
			continue
		}
		for k, v := range obj {
			merged[k] = v
		}
		found = true
	}
	return merged, found
}

// mergeStream decodes consecutive JSON values. It succeeds only when the
// whole text is a sequence of objects or arrays.
func mergeStream(text string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	merged := map[string]any{}
	found := false
	for {
		var v any
		err := dec.Decode(&v)
		if err == io.EOF {
			return merged, found
		}
		if err != nil {
			return nil, false
		}
		switch t := v.(type) {
		case map[string]any:
			for k, inner := range normalize(t).(map[string]any) {
				merged[k] = inner
			}
		case []any:
			merged[StepsKey] = normalize(t)
		default:
			return nil, false
		}
		found = true
	}
}

// normalize converts json.Number values into int64 when integral and
// float64 otherwise.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = normalize(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = normalize(inner)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

// Compact marshals v without HTML escaping, keeping non-ASCII text readable.
func Compact(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
