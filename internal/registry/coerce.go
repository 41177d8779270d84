package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// MetadataKind classifies the shapes tool servers use to describe a tool.
type MetadataKind int

const (
	// KindUnknown is anything not recognized; it yields a tool named "unknown".
	KindUnknown MetadataKind = iota
	// KindObject is a map with name/description/schema fields.
	KindObject
	// KindPair is a [name, details] pair.
	KindPair
	// KindName is a bare tool name.
	KindName
	// KindSchema is an already coerced orchestrator.ToolSchema.
	KindSchema
)

// Classify reports the shape of meta.
func Classify(meta any) MetadataKind {
	switch t := meta.(type) {
	case orchestrator.ToolSchema, *orchestrator.ToolSchema:
		return KindSchema
	case map[string]any:
		return KindObject
	case string:
		return KindName
	case []any:
		if len(t) == 2 {
			if _, ok := t[0].(string); ok {
				return KindPair
			}
		}
	case []string:
		if len(t) == 2 {
			return KindPair
		}
	}
	return KindUnknown
}

// CoerceSchema converts any accepted metadata shape into a ToolSchema.
func CoerceSchema(meta any) orchestrator.ToolSchema {
	switch Classify(meta) {
	case KindSchema:
		if p, ok := meta.(*orchestrator.ToolSchema); ok {
			return *p
		}
		return meta.(orchestrator.ToolSchema)
	case KindObject:
		return fromObject(meta.(map[string]any))
	case KindName:
		return orchestrator.NewToolSchema(meta.(string), "")
	case KindPair:
		var name string
		var details any
		switch t := meta.(type) {
		case []any:
			name, details = t[0].(string), t[1]
		case []string:
			name, details = t[0], t[1]
		}
		if d, ok := details.(map[string]any); ok {
			merged := make(map[string]any, len(d)+1)
			for k, v := range d {
				merged[k] = v
			}
			merged["name"] = name
			return fromObject(merged)
		}
		desc := ""
		if details != nil {
			desc = fmt.Sprint(details)
		}
		return orchestrator.NewToolSchema(name, desc)
	default:
		return orchestrator.NewToolSchema("unknown", "")
	}
}

func fromObject(m map[string]any) orchestrator.ToolSchema {
	name := firstString(m, "name", "tool")
	if name == "" {
		name = "unknown"
	}
	desc := firstString(m, "description", "docstring")

	var params []orchestrator.Param
	for _, key := range []string{"inputSchema", "input_schema", "parameters"} {
		if raw, ok := m[key]; ok && raw != nil {
			params = schemaParams(raw)
			break
		}
	}

	if args, ok := m["args"].([]any); ok {
		seen := make(map[string]bool, len(params))
		for _, p := range params {
			seen[p.Name] = true
		}
		for _, a := range args {
			if n, ok := a.(string); ok && !seen[n] {
				params = append(params, orchestrator.Param{Name: n, Type: orchestrator.ParamString})
				seen[n] = true
			}
		}
	}
	return orchestrator.NewToolSchema(name, desc, params...)
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// schemaParams extracts ordered parameters from a JSON-schema-like value.
// Raw JSON keeps declaration order; plain maps are sorted by name.
func schemaParams(raw any) []orchestrator.Param {
	switch t := raw.(type) {
	case json.RawMessage:
		return rawSchemaParams(t)
	case []byte:
		return rawSchemaParams(t)
	case *jsonschema.Schema:
		return jsonSchemaParams(t)
	case map[string]any:
		props, ok := t["properties"].(map[string]any)
		if !ok {
			// {"a": "number", ...} or {"a": {"type": "number"}}
			props = t
		}
		names := make([]string, 0, len(props))
		for n := range props {
			if n == "type" || n == "required" {
				if _, isProps := t["properties"]; !isProps {
					continue
				}
			}
			names = append(names, n)
		}
		sort.Strings(names)
		params := make([]orchestrator.Param, 0, len(names))
		for _, n := range names {
			params = append(params, orchestrator.Param{Name: n, Type: propertyType(props[n])})
		}
		return params
	}
	return nil
}

func rawSchemaParams(data []byte) []orchestrator.Param {
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err == nil && s.Properties != nil {
		return jsonSchemaParams(&s)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return schemaParams(m)
}

func jsonSchemaParams(s *jsonschema.Schema) []orchestrator.Param {
	if s == nil || s.Properties == nil {
		return nil
	}
	params := make([]orchestrator.Param, 0, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		typ := orchestrator.ParamString
		if pair.Value != nil && pair.Value.Type != "" {
			typ = orchestrator.ParseParamType(pair.Value.Type)
		}
		params = append(params, orchestrator.Param{Name: pair.Key, Type: typ})
	}
	return params
}

func propertyType(v any) orchestrator.ParamType {
	switch t := v.(type) {
	case string:
		return orchestrator.ParseParamType(t)
	case map[string]any:
		if s, ok := t["type"].(string); ok {
			return orchestrator.ParseParamType(s)
		}
	}
	return orchestrator.ParamString
}
