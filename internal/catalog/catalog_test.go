package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, []string{
		"arithmetic", "integration", "differentiation", "probability", "venn", "grammar",
		"translate", "botany", "zoology", "youtube", "tiktok", "x", "google_ads", "shopify", "telegram",
	}, c.Servers())

	tools, ok := c.Tools("integration")
	require.True(t, ok)
	require.Len(t, tools, 2)
	assert.Equal(t, "integrate_definite", tools[1].Name)
	assert.Equal(t, []orchestrator.Param{
		{Name: "expression", Type: orchestrator.ParamString},
		{Name: "variable", Type: orchestrator.ParamString},
		{Name: "lower", Type: orchestrator.ParamString},
		{Name: "upper", Type: orchestrator.ParamString},
	}, tools[1].Params())

	yt, ok := c.Tools("youtube")
	require.True(t, ok)
	assert.Equal(t, "refresh_token", yt[0].Name)
	assert.False(t, yt[0].HasParams())
	tags, ok := yt[3].ParamType("tags")
	require.True(t, ok)
	assert.Equal(t, orchestrator.ParamList, tags)

	tg, _ := c.Tools("telegram")
	dr, ok := tg[2].ParamType("date_range")
	require.True(t, ok)
	assert.Equal(t, orchestrator.ParamList, dr)

	_, ok = c.Tools("weather")
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("- a\n- b\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("srv:\n  - params: {a: string}\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("srv:\n  - name: t\n    params: [a, b]\n"))
	assert.Error(t, err)

	c, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("calc:\n  - name: eval\n    description: evaluates\n    params: {expression: string}\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	tools, ok := c.Tools("calc")
	require.True(t, ok)
	assert.Equal(t, "evaluates", tools[0].Description)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	def, err := Load("")
	require.NoError(t, err)
	assert.Same(t, Default(), def)
}
