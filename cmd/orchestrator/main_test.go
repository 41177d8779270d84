package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/adapters"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY",
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "ORCHESTRATOR_PROVIDER", "ORCHESTRATOR_DISCOVERY",
	} {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	clearEnv(t)
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestAsk_Offline(t *testing.T) {
	out, _, err := execute(t, "--offline", "ask", "What", "is", "12", "plus", "30?")
	require.NoError(t, err)
	assert.Equal(t, "42.0\n", out)
}

func TestAsk_PlanFile(t *testing.T) {
	out, _, err := execute(t, "ask", "--plan", filepath.Join("testdata", "sum_then_multiply.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "5.0\n\n20.0\n", out)
}

func TestAsk_Trace(t *testing.T) {
	out, errOut, err := execute(t, "--offline", "--trace", "ask", "what is 6 * 7")
	require.NoError(t, err)
	assert.Equal(t, "42.0\n", out)
	// the bus is closed before the command returns, so every event has
	// been handled
	assert.Contains(t, errOut, "[trace]")
	assert.Contains(t, errOut, "question_processing_success")
}

func TestAsk_SetupErrors(t *testing.T) {
	_, _, err := execute(t, "--offline", "ask")
	assert.ErrorContains(t, err, "a question is required")

	_, _, err = execute(t, "ask", "What is 1 plus 2?")
	require.Error(t, err)
	assert.True(t, orchestrator.HasCode(err, orchestrator.ErrCodeConfiguration))

	_, _, err = execute(t, "--static", "--live", "tools")
	assert.ErrorContains(t, err, "mutually exclusive")

	_, _, err = execute(t, "--log-level", "loud", "tools")
	assert.ErrorContains(t, err, "unknown log level")

	_, _, err = execute(t, "--offline", "route", "What is 1 plus 2?")
	assert.ErrorContains(t, err, "drop --offline")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("executor:\n  max_concurrency: 0\n"), 0o600))
	_, _, err = execute(t, "--config", bad, "tools")
	assert.True(t, orchestrator.HasCode(err, orchestrator.ErrCodeValidation))
}

func TestTools(t *testing.T) {
	out, _, err := execute(t, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "arithmetic (5 tools)")
	assert.Contains(t, out, "- arithmetic.add(a:number, b:number)")
	assert.Contains(t, out, "- arithmetic.evaluate(expression:string)")
}

func TestPlan_Offline(t *testing.T) {
	out, _, err := execute(t, "--offline", "plan", "what is 6 * 7")
	require.NoError(t, err)
	assert.Contains(t, out, "step_1: arithmetic.multiply")
	assert.Contains(t, out, "[1] step_1 :: arithmetic.multiply")
}

func TestResolveServers(t *testing.T) {
	local := adapters.NewLocalServers()
	specs, err := resolveServers([]orchestrator.ServerSpec{
		{Key: "arithmetic", Transport: orchestrator.TransportBuiltin},
		{Key: "grammar", Command: "python", Transport: orchestrator.TransportStdio},
	}, local)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Len(t, specs[0].Tools, 5)
	assert.Equal(t, "grammar", specs[1].Key)
	assert.True(t, local.Has("arithmetic"))

	_, err = resolveServers([]orchestrator.ServerSpec{{Key: "weather", Transport: orchestrator.TransportBuiltin}}, local)
	assert.ErrorContains(t, err, "unknown builtin server 'weather'")
}
