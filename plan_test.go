package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_Validate(t *testing.T) {
	tcases := []struct {
		name  string
		steps []PlanStep
		err   string
	}{
		{"empty", nil, ""},
		{"chain", []PlanStep{{ID: "a"}, {ID: "b", DependsOn: []string{"a"}}}, ""},
		{"forward reference", []PlanStep{{ID: "b", DependsOn: []string{"a"}}, {ID: "a"}}, ""},
		{"empty id", []PlanStep{{ToolKey: "svc.t"}}, `step for tool "svc.t" has an empty id`},
		{"duplicate", []PlanStep{{ID: "a"}, {ID: "a"}}, "duplicate step id found: a"},
		{"missing dep", []PlanStep{{ID: "a", DependsOn: []string{"z"}}}, "step 'a' depends on missing step 'z'"},
		{"self cycle", []PlanStep{{ID: "a", DependsOn: []string{"a"}}}, "cycle detected in plan at step 'a'"},
		{"cycle", []PlanStep{
			{ID: "a", DependsOn: []string{"c"}},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"b"}},
		}, "cycle detected"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := (&Plan{Steps: tc.steps}).Validate()
			if tc.err == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.err)
		})
	}
}

func TestPlan_Clone(t *testing.T) {
	orig := &Plan{Steps: []PlanStep{
		{ID: "a", ToolKey: "svc.t", ArgsHint: map[string]any{"x": 1.0}},
		{ID: "b", ToolKey: "svc.t", DependsOn: []string{"a"}},
	}}
	cp := orig.Clone()
	if diff := cmp.Diff(orig, cp); diff != "" {
		t.Fatalf("clone mismatch (-want +got):\n%s", diff)
	}

	cp.Steps[0].ArgsHint["x"] = 2.0
	cp.Steps[1].DependsOn[0] = "z"
	assert.Equal(t, 1.0, orig.Steps[0].ArgsHint["x"])
	assert.Equal(t, "a", orig.Steps[1].DependsOn[0])
	assert.Nil(t, cp.Steps[0].DependsOn)

	var nilPlan *Plan
	assert.True(t, nilPlan.IsEmpty())
	assert.NotNil(t, nilPlan.Clone())
	_, ok := nilPlan.Step("a")
	assert.False(t, ok)
}

func TestPlan_JSON(t *testing.T) {
	raw := `{"steps":[{"id":"step_1","intent":"add","tool_key":"arithmetic.add","args_hint":{"a":1,"b":2}},
		{"id":"step_2","intent":"double","tool_key":"arithmetic.multiply","depends_on":["step_1"]}]}`
	var plan Plan
	require.NoError(t, json.Unmarshal([]byte(raw), &plan))
	require.Equal(t, 2, plan.Len())
	assert.True(t, plan.HasStep("step_2"))
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, plan.Steps[0].ArgsHint)
	assert.Equal(t,
		"- step_1: arithmetic.add :: intent='add' deps=[]\n- step_2: arithmetic.multiply :: intent='double' deps=[step_1]",
		plan.Format())

	out, err := json.Marshal(plan.Steps[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"step_2","intent":"double","tool_key":"arithmetic.multiply","depends_on":["step_1"]}`, string(out))
	assert.Equal(t, "(no steps)", (&Plan{}).Diagram())
}
