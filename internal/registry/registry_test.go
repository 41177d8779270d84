package registry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/catalog"
)

type fakeLister struct {
	mu    sync.Mutex
	tools map[string][]any
	errs  map[string]error
	calls []string
}

func (f *fakeLister) ListTools(_ context.Context, server orchestrator.ServerSpec) ([]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, server.Key)
	f.mu.Unlock()
	if err := f.errs[server.Key]; err != nil {
		return nil, err
	}
	return f.tools[server.Key], nil
}

func TestCoerceSchema(t *testing.T) {
	t.Run("object with raw input schema keeps order", func(t *testing.T) {
		s := CoerceSchema(map[string]any{
			"name":        "integrate_definite",
			"description": "definite integral",
			"inputSchema": json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"},"lower":{"type":"number"},"upper":{"type":"number"}}}`),
		})
		assert.Equal(t, "integrate_definite", s.Name)
		assert.Equal(t, "definite integral", s.Description)
		assert.Equal(t, []orchestrator.Param{
			{Name: "expression", Type: orchestrator.ParamString},
			{Name: "lower", Type: orchestrator.ParamNumber},
			{Name: "upper", Type: orchestrator.ParamNumber},
		}, s.Params())
	})

	t.Run("object with map parameters", func(t *testing.T) {
		s := CoerceSchema(map[string]any{
			"tool":       "send",
			"docstring":  "sends",
			"parameters": map[string]any{"properties": map[string]any{"to": map[string]any{"type": "string"}, "count": map[string]any{"type": "integer"}}},
		})
		assert.Equal(t, "send", s.Name)
		assert.Equal(t, "sends", s.Description)
		assert.Equal(t, []orchestrator.Param{
			{Name: "count", Type: orchestrator.ParamInteger},
			{Name: "to", Type: orchestrator.ParamString},
		}, s.Params())
	})

	t.Run("args list defaults to string", func(t *testing.T) {
		s := CoerceSchema(map[string]any{"name": "echo", "args": []any{"text", "times"}})
		assert.Equal(t, []orchestrator.Param{
			{Name: "text", Type: orchestrator.ParamString},
			{Name: "times", Type: orchestrator.ParamString},
		}, s.Params())
	})

	t.Run("pair with details", func(t *testing.T) {
		s := CoerceSchema([]any{"add", map[string]any{"description": "adds", "parameters": map[string]any{"a": "number", "b": "number"}}})
		assert.Equal(t, "add", s.Name)
		assert.Equal(t, "adds", s.Description)
		assert.Equal(t, []orchestrator.Param{
			{Name: "a", Type: orchestrator.ParamNumber},
			{Name: "b", Type: orchestrator.ParamNumber},
		}, s.Params())
	})

	t.Run("pair with text details", func(t *testing.T) {
		s := CoerceSchema([]any{"ping", "checks liveness"})
		assert.Equal(t, "ping", s.Name)
		assert.Equal(t, "checks liveness", s.Description)
		assert.False(t, s.HasParams())
	})

	t.Run("bare name", func(t *testing.T) {
		s := CoerceSchema("list_videos")
		assert.Equal(t, "list_videos", s.Name)
		assert.False(t, s.HasParams())
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Equal(t, "unknown", CoerceSchema(42).Name)
		assert.Equal(t, "unknown", CoerceSchema(map[string]any{"description": "nameless"}).Name)
	})

	t.Run("schema passthrough", func(t *testing.T) {
		in := orchestrator.NewToolSchema("x", "y", orchestrator.Param{Name: "a", Type: orchestrator.ParamBoolean})
		assert.Equal(t, in, CoerceSchema(in))
		assert.Equal(t, KindSchema, Classify(&in))
	})
}

func TestBuilder_StaticUsesCatalog(t *testing.T) {
	lister := &fakeLister{}
	b := NewBuilder(WithLister(lister))

	graph, err := b.Capabilities(context.Background(), []orchestrator.ServerSpec{
		{Key: "integration", Command: "python", Transport: orchestrator.TransportStdio},
		{Key: "tiktok_mcp", Command: "node", Transport: orchestrator.TransportStdio},
		{Key: "weather", Command: "weather", Transport: orchestrator.TransportStdio},
	})
	require.NoError(t, err)
	assert.Empty(t, lister.calls)

	assert.True(t, graph.HasTool("integration.integrate_definite"))
	assert.True(t, graph.HasTool("tiktok_mcp.tiktok_search"))
	_, ok := graph.Server("weather")
	assert.False(t, ok)
	assert.Equal(t, []string{"integration", "tiktok_mcp"}, graph.ServerKeys())
}

func TestBuilder_LiveFallsBack(t *testing.T) {
	lister := &fakeLister{
		tools: map[string][]any{
			"arithmetic": {map[string]any{"name": "add", "inputSchema": json.RawMessage(`{"properties":{"a":{"type":"number"},"b":{"type":"number"}}}`)}},
		},
		errs: map[string]error{"translate": errors.New("connection refused")},
	}
	b := NewBuilder(WithLister(lister), WithMode(ModeLive))

	graph, err := b.Capabilities(context.Background(), []orchestrator.ServerSpec{
		{Key: "arithmetic", Transport: orchestrator.TransportStdio},
		{Key: "translate", Transport: orchestrator.TransportStdio},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"arithmetic", "translate"}, lister.calls)

	assert.Equal(t, []string{
		"arithmetic.add",
		"translate.translate_to_english",
		"translate.translate_from_english",
	}, graph.ToolKeys())
}

func TestBuilder_BuiltinListedInStaticMode(t *testing.T) {
	lister := &fakeLister{tools: map[string][]any{"calc": {"eval"}}}
	b := NewBuilder(WithLister(lister))

	graph, err := b.Capabilities(context.Background(), []orchestrator.ServerSpec{
		{Key: "calc", Transport: orchestrator.TransportBuiltin},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"calc.eval"}, graph.ToolKeys())
}

func TestBuilder_CustomCatalogAndDeclaredTools(t *testing.T) {
	cat, err := catalog.Parse([]byte("calc:\n  - name: eval\n    params: {expression: string}\n"))
	require.NoError(t, err)
	b := NewBuilder(WithCatalog(cat))

	graph, err := b.Capabilities(context.Background(), []orchestrator.ServerSpec{
		{Key: "calc"},
		{Key: "echo", Tools: []orchestrator.ToolSchema{orchestrator.NewToolSchema("say", "")}},
		{Key: "arithmetic"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"calc.eval", "echo.say"}, graph.ToolKeys())
}

func TestBuilder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder().Capabilities(ctx, nil)
	require.Error(t, err)
	assert.True(t, orchestrator.IsCancellation(err))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeLive, ParseMode(" LIVE "))
	assert.Equal(t, ModeStatic, ParseMode("static"))
	assert.Equal(t, ModeStatic, ParseMode(""))
}
