package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/adapters"
)

func invoke(t *testing.T, host *adapters.LocalServers, tool string, args map[string]any) *orchestrator.ToolResult {
	t.Helper()
	res, err := host.Invoke(context.Background(), orchestrator.ServerSpec{Key: ArithmeticServer, Transport: orchestrator.TransportBuiltin}, tool, args)
	require.NoError(t, err)
	return res
}

func TestSetupArithmetic(t *testing.T) {
	host := adapters.NewLocalServers()
	spec := SetupArithmetic(host)

	assert.Equal(t, ArithmeticServer, spec.Key)
	assert.True(t, spec.IsBuiltin())
	names := make([]string, 0, len(spec.Tools))
	for _, tool := range spec.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"add", "subtract", "multiply", "divide", "evaluate"}, names)
	assert.Equal(t, "add(a:number, b:number)", spec.Tools[0].Signature("add"))
}

func TestArithmetic(t *testing.T) {
	host := adapters.NewLocalServers()
	SetupArithmetic(host)

	tcases := []struct {
		tool string
		args map[string]any
		exp  string
	}{
		{"add", map[string]any{"a": 17.0, "b": 25.0}, "42.0"},
		{"add", map[string]any{"a": int64(2), "b": "3.5"}, "5.5"},
		{"subtract", map[string]any{"a": 10.0, "b": json.Number("4")}, "6.0"},
		{"multiply", map[string]any{"a": 6, "b": 7}, "42.0"},
		{"divide", map[string]any{"a": 1.0, "b": 4.0}, "0.25"},
		{"evaluate", map[string]any{"expression": "(2 + 3) * 4"}, "20.0"},
	}
	for _, tc := range tcases {
		t.Run(tc.tool, func(t *testing.T) {
			res := invoke(t, host, tc.tool, tc.args)
			require.False(t, res.IsError, "%s", *res.Content[0].Text)
			assert.Equal(t, tc.exp, *res.Content[0].Text)
		})
	}
}

func TestArithmetic_Errors(t *testing.T) {
	host := adapters.NewLocalServers()
	SetupArithmetic(host)

	res := invoke(t, host, "divide", map[string]any{"a": 1.0, "b": 0.0})
	assert.True(t, res.IsError)
	assert.Contains(t, *res.Content[0].Text, "division by zero")

	res = invoke(t, host, "add", map[string]any{"a": "seven", "b": 1.0})
	assert.True(t, res.IsError)

	res = invoke(t, host, "add", map[string]any{"a": 1.0})
	assert.True(t, res.IsError)
	assert.Contains(t, *res.Content[0].Text, `missing argument "b"`)

	res = invoke(t, host, "evaluate", map[string]any{"expression": "1 +"})
	assert.True(t, res.IsError)
}

func TestRegisterExpressionFunction(t *testing.T) {
	RegisterExpressionFunction("double", func(args ...any) (any, error) {
		return args[0].(float64) * 2, nil
	})
	require.NoError(t, ValidateExpression("double(4) + 1"))
	assert.Error(t, ValidateExpression("triple(4)"))

	host := adapters.NewLocalServers()
	SetupArithmetic(host)
	res := invoke(t, host, "evaluate", map[string]any{"expression": "double(4) + 1"})
	assert.Equal(t, "9.0", *res.Content[0].Text)
}

func TestToFloat(t *testing.T) {
	f, err := ToFloat(" 2.5 ")
	require.NoError(t, err)
	assert.Equal(t, 2.5, f)

	_, err = ToFloat(nil)
	assert.Error(t, err)
	_, err = ToFloat([]int{1})
	assert.Error(t, err)
}
