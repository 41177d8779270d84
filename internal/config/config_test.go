package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llm"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/registry"
)

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, llm.DefaultModel, cfg.LLM.Model)
	assert.Equal(t, llm.ProviderOpenAI, cfg.Provider())
	assert.Equal(t, "static", cfg.Discovery.Mode)

	specs := cfg.ServerSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, "arithmetic", specs[0].Key)
	assert.True(t, specs[0].IsBuiltin())

	oc := cfg.OrchestratorConfig()
	assert.True(t, oc.EnableReflection)
	assert.False(t, oc.ReportStalls)
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("ORCHESTRATOR_DISCOVERY", "")
	t.Setenv("ORCHESTRATOR_PROVIDER", "")

	cfg, err := Load(filepath.Join("testdata", "orchestrator.yaml"))
	require.NoError(t, err)

	assert.Equal(t, llm.ProviderAnthropic, cfg.Provider())
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
	assert.Equal(t, 10*time.Minute, cfg.LLM.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.Discovery.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.RetryDelay)
	assert.True(t, cfg.Output.Humanize)
	assert.True(t, cfg.Output.ASCIIOnly)

	exp := []orchestrator.ServerSpec{
		{Key: "arithmetic", Transport: orchestrator.TransportBuiltin},
		{
			Key:       "integration",
			Command:   "python",
			Args:      []string{"maths_mcp_server/integration_server.py"},
			Env:       map[string]string{"PYTHONUNBUFFERED": "1"},
			Transport: orchestrator.TransportStdio,
		},
	}
	if diff := cmp.Diff(exp, cfg.ServerSpecs()); diff != "" {
		t.Errorf("servers mismatch (-want +got):\n%s", diff)
	}

	opts := cfg.LLMOptions(nil)
	assert.Equal(t, 2048, opts.MaxTokens)
	assert.Equal(t, 2.0, opts.RequestsPerSecond)
	assert.Equal(t, 4, opts.Burst)

	oc := cfg.OrchestratorConfig()
	assert.False(t, oc.EnableReflection)
	assert.True(t, oc.ReportStalls)
	assert.Len(t, cfg.ExecutorOptions(), 4)
	assert.Len(t, cfg.RegistryOptions(), 2)
	assert.Equal(t, registry.ModeLive, registry.ParseMode(cfg.Discovery.Mode))
}

func TestLoad_TOML(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("ORCHESTRATOR_DISCOVERY", "")
	t.Setenv("ORCHESTRATOR_PROVIDER", "")

	cfg, err := Load(filepath.Join("testdata", "orchestrator.toml"))
	require.NoError(t, err)

	assert.Equal(t, "catalog.yaml", cfg.CatalogFile)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
	assert.Equal(t, 15*time.Second, cfg.Executor.StepTimeout)
	assert.Equal(t, 0, cfg.Executor.MaxRetries)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "grammar", cfg.Servers[0].Key)
	assert.Equal(t, "static", cfg.Discovery.Mode)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("ORCHESTRATOR_PROVIDER", "")
	_, err := Load(filepath.Join("testdata", "invalid.yaml"))
	require.Error(t, err)
	assert.True(t, orchestrator.HasCode(err, orchestrator.ErrCodeValidation))
	assert.ErrorContains(t, err, "Provider")
	assert.ErrorContains(t, err, "MaxConcurrency")
	assert.ErrorContains(t, err, "Servers")

	_, err = Load(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.ini")
	require.NoError(t, os.WriteFile(bad, []byte("x=1"), 0o600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestApplyEnv(t *testing.T) {
	tcases := []struct {
		name     string
		file     LLMConfig
		env      map[string]string
		model    string
		provider llm.Provider
		key      string
	}{
		{
			name:     "openai default",
			env:      map[string]string{"OPENAI_API_KEY": "o", "ANTHROPIC_API_KEY": "a"},
			model:    llm.DefaultModel,
			provider: llm.ProviderOpenAI,
			key:      "o",
		},
		{
			name:     "model from env picks provider key",
			env:      map[string]string{"OPENAI_MODEL": "claude-3-5-sonnet-latest", "OPENAI_API_KEY": "o", "ANTHROPIC_API_KEY": "a"},
			model:    "claude-3-5-sonnet-latest",
			provider: llm.ProviderAnthropic,
			key:      "a",
		},
		{
			name:     "gemini falls back to google key",
			file:     LLMConfig{Model: "gemini-2.0-flash"},
			env:      map[string]string{"GOOGLE_API_KEY": "g"},
			model:    "gemini-2.0-flash",
			provider: llm.ProviderGenkit,
			key:      "g",
		},
		{
			name:     "file key wins",
			file:     LLMConfig{Model: "gpt-4o", APIKey: "file"},
			env:      map[string]string{"OPENAI_API_KEY": "env"},
			model:    "gpt-4o",
			provider: llm.ProviderOpenAI,
			key:      "file",
		},
		{
			name:     "explicit provider",
			file:     LLMConfig{Model: "llama3"},
			env:      map[string]string{"ORCHESTRATOR_PROVIDER": " Anthropic ", "ANTHROPIC_API_KEY": "a"},
			model:    "llama3",
			provider: llm.ProviderAnthropic,
			key:      "a",
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{LLM: tc.file}
			cfg.ApplyEnv(envMap(tc.env))
			cfg.ResolveAPIKey(envMap(tc.env))
			assert.Equal(t, tc.model, cfg.LLM.Model)
			assert.Equal(t, tc.provider, cfg.Provider())
			assert.Equal(t, tc.key, cfg.LLM.APIKey)
		})
	}

	cfg := Default()
	cfg.ApplyEnv(noEnv)
	cfg.ResolveAPIKey(noEnv)
	assert.Equal(t, Default().LLM, cfg.LLM)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("ORCHESTRATOR_PROVIDER", "")
	t.Setenv("ORCHESTRATOR_DISCOVERY", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load("", func(c *Config) {
		c.LLM.Model = "claude-3-5-haiku-latest"
		c.Discovery.Mode = "live"
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-latest", cfg.LLM.Model)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
	assert.Equal(t, "live", cfg.Discovery.Mode)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("ORCH_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("ORCH_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("ORCH_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env"), file))
	assert.Equal(t, "loaded", os.Getenv("ORCH_TEST_DOTENV"))
}
