package synth

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []orchestrator.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req orchestrator.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func toolSpec(server, tool string, params ...orchestrator.Param) orchestrator.ToolSpec {
	return orchestrator.ToolSpec{
		ServerKey: server,
		ToolName:  tool,
		Schema:    orchestrator.NewToolSchema(tool, "", params...),
	}
}

var (
	pa = orchestrator.Param{Name: "a", Type: orchestrator.ParamNumber}
	pb = orchestrator.Param{Name: "b", Type: orchestrator.ParamNumber}
)

func TestSynthesize_NoParamsSkipsLLM(t *testing.T) {
	llm := &fakeLLM{reply: `{"x": 1}`}
	args, err := New(llm).Synthesize(context.Background(), "q", orchestrator.PlanStep{ID: "s"}, toolSpec("x", "get_my_user_info"), nil)
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Empty(t, llm.reqs)
}

func TestSynthesize_PromptAndCoercion(t *testing.T) {
	llm := &fakeLLM{reply: "```json\n{\"a\": \"2\", \"b\": 3, \"extra\": true}\n```"}
	s := New(llm, WithModel("gpt-test"))
	step := orchestrator.PlanStep{ID: "step_1", Intent: "add numbers"}

	args, err := s.Synthesize(context.Background(), "What is 2 plus 3?", step, toolSpec("arithmetic", "add", pa, pb), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 2.0, "b": 3.0}, args)

	require.Len(t, llm.reqs, 1)
	req := llm.reqs[0]
	assert.True(t, req.JSON)
	assert.Equal(t, "gpt-test", req.Model)
	assert.Contains(t, req.System, "tool argument generator")
	assert.Contains(t, req.User, "Target tool: arithmetic.add")
	assert.Contains(t, req.User, "- a: number\n- b: number")
}

func TestSynthesize_LLMFailureUsesHints(t *testing.T) {
	llm := &fakeLLM{err: errors.New("unavailable")}
	step := orchestrator.PlanStep{ID: "step_1", ArgsHint: map[string]any{"a": 4, "b": "5"}}

	args, err := New(llm).Synthesize(context.Background(), "q", step, toolSpec("arithmetic", "add", pa, pb), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 4.0, "b": 5.0}, args)

	args, err = New(nil).Synthesize(context.Background(), "q", orchestrator.PlanStep{}, toolSpec("arithmetic", "add", pa, pb), nil)
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestSynthesize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Synthesize(ctx, "q", orchestrator.PlanStep{}, toolSpec("arithmetic", "add", pa), nil)
	assert.True(t, orchestrator.HasCode(err, orchestrator.ErrCodeCancelled))
}

func TestSynthesize_NestedArguments(t *testing.T) {
	spec := toolSpec("tiktok", "tiktok_search",
		orchestrator.Param{Name: "query", Type: orchestrator.ParamString},
		orchestrator.Param{Name: "count", Type: orchestrator.ParamInteger})

	llm := &fakeLLM{reply: `{"arguments": {"query": "cats", "count": 5.0}}`}
	args, err := New(llm).Synthesize(context.Background(), "q", orchestrator.PlanStep{}, spec, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "cats", "count": 5}, args)

	llm = &fakeLLM{reply: `{"query": "dogs"}`}
	step := orchestrator.PlanStep{ArgsHint: map[string]any{"arguments": map[string]any{"count": "7", "query": "ignored"}}}
	args, err = New(llm).Synthesize(context.Background(), "q", step, spec, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"query": "dogs", "count": 7}, args)
}

func TestSynthesize_Interpolation(t *testing.T) {
	spec := toolSpec("translate", "translate_from_english",
		orchestrator.Param{Name: "text", Type: orchestrator.ParamString},
		orchestrator.Param{Name: "target_language", Type: orchestrator.ParamString})
	step := orchestrator.PlanStep{
		ID:        "step_2",
		ArgsHint:  map[string]any{"target_language": "ta", "text": "${step_1_OUTPUT}"},
		DependsOn: []string{"step_1"},
	}

	args, err := New(nil).Synthesize(context.Background(), "q", step, spec, map[string]string{"step_1": "42.0"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "42.0", "target_language": "ta"}, args)
}

func TestSynthesize_CreatePostRepair(t *testing.T) {
	spec := toolSpec("x", "create_post", orchestrator.Param{Name: "a", Type: orchestrator.ParamString})

	tcases := []struct {
		name     string
		reply    string
		question string
		exp      string
	}{
		{"from text key", `{"text": "hello world"}`, "tweet something", "hello world"},
		{"from question", `{}`, "please post good morning everyone", "good morning everyone"},
		{"model value wins", `{"a": "from model"}`, "post something else", "from model"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			args, err := New(&fakeLLM{reply: tc.reply}).Synthesize(context.Background(), tc.question, orchestrator.PlanStep{}, spec, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.exp, args["a"])
		})
	}
}

func TestSchemaLines_Hints(t *testing.T) {
	lines := SchemaLines(toolSpec("youtube", "remove_video", orchestrator.Param{Name: "arguments", Type: orchestrator.ParamObject}))
	assert.Equal(t, []string{"video_id: string"}, lines)

	lines = SchemaLines(toolSpec("calc", "add", pa, pb))
	assert.Equal(t, []string{"a: number", "b: number"}, lines)
}

func TestInterpolate(t *testing.T) {
	results := map[string]string{"step_1": "one", "s2": "two"}
	in := map[string]any{
		"a": "${step_1_OUTPUT} and ${s2_OUTPUT}",
		"b": []any{"${s2_OUTPUT}", 3},
		"c": map[string]any{"d": "${missing_OUTPUT}"},
	}
	exp := map[string]any{
		"a": "one and two",
		"b": []any{"two", 3},
		"c": map[string]any{"d": "${missing_OUTPUT}"},
	}
	if diff := cmp.Diff(exp, Interpolate(in, results)); diff != "" {
		t.Errorf("Interpolate mismatch (-want +got):\n%s", diff)
	}
}

func TestCoerce(t *testing.T) {
	schema := orchestrator.NewToolSchema("t", "",
		orchestrator.Param{Name: "n", Type: orchestrator.ParamNumber},
		orchestrator.Param{Name: "i", Type: orchestrator.ParamInteger},
		orchestrator.Param{Name: "b", Type: orchestrator.ParamBoolean},
		orchestrator.Param{Name: "o", Type: orchestrator.ParamObject},
		orchestrator.Param{Name: "l", Type: orchestrator.ParamList},
		orchestrator.Param{Name: "s", Type: orchestrator.ParamString},
	)

	got := Coerce(schema, map[string]any{
		"n":       "1.5",
		"i":       "3",
		"b":       "Yes",
		"o":       `{"k": "v"}`,
		"l":       []string{"x", "y"},
		"s":       map[string]any{"k": 1},
		"ignored": 1,
	})
	exp := map[string]any{
		"n": 1.5,
		"i": 3,
		"b": true,
		"o": map[string]any{"k": "v"},
		"l": []any{"x", "y"},
		"s": `{"k":1}`,
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("Coerce mismatch (-want +got):\n%s", diff)
	}

	got = Coerce(schema, map[string]any{"n": "abc", "i": 2.5, "b": 0, "l": `[1, 2]`, "s": 3.0, "o": "plain"})
	exp = map[string]any{"b": false, "l": []any{1.0, 2.0}, "s": "3.0", "o": "plain"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("Coerce mismatch (-want +got):\n%s", diff)
	}
	for _, big := range []any{1e20, "1e20", -1e30, float64(math.MaxInt64)} {
		got = Coerce(schema, map[string]any{"i": big})
		assert.Empty(t, got, "%v", big)
	}
	got = Coerce(schema, map[string]any{"i": "4e3"})
	assert.Equal(t, map[string]any{"i": 4000}, got)
}

type rawValue struct{ V any }

func genRawValue() gopter.Gen {
	return gen.OneGenOf(
		gen.Float64Range(-1e6, 1e6).Map(func(f float64) rawValue { return rawValue{f} }),
		gen.IntRange(-1000, 1000).Map(func(i int) rawValue { return rawValue{i} }),
		gen.AlphaString().Map(func(s string) rawValue { return rawValue{s} }),
		gen.NumString().Map(func(s string) rawValue { return rawValue{s} }),
		gen.Bool().Map(func(b bool) rawValue { return rawValue{b} }),
		gen.SliceOf(gen.AlphaString()).Map(func(l []string) rawValue { return rawValue{l} }),
	)
}

func TestCoerce_IdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	types := []orchestrator.ParamType{
		orchestrator.ParamString, orchestrator.ParamNumber, orchestrator.ParamInteger,
		orchestrator.ParamBoolean, orchestrator.ParamObject, orchestrator.ParamList,
	}

	properties.Property("coercing twice equals coercing once", prop.ForAll(
		func(typeIdx int, raw rawValue) bool {
			schema := orchestrator.NewToolSchema("t", "", orchestrator.Param{Name: "v", Type: types[typeIdx]})
			once := Coerce(schema, map[string]any{"v": raw.V})
			twice := Coerce(schema, once)
			return cmp.Equal(once, twice)
		},
		gen.IntRange(0, len(types)-1),
		genRawValue(),
	))

	properties.TestingRun(t)
}
