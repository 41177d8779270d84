// Package tools provides the builtin tool servers hosted in-process.
package tools

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/adapters"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "tools")

// ArithmeticServer is the key the builtin arithmetic server registers under.
const ArithmeticServer = "arithmetic"

// ErrDivisionByZero is returned by divide when b is zero.
var ErrDivisionByZero = errors.New("division by zero")

var binaryParams = []orchestrator.Param{
	{Name: "a", Type: orchestrator.ParamNumber},
	{Name: "b", Type: orchestrator.ParamNumber},
}

// SetupArithmetic registers the arithmetic tools on host and returns the
// server spec to hand to the orchestrator.
func SetupArithmetic(host *adapters.LocalServers) orchestrator.ServerSpec {
	host.Register(ArithmeticServer,
		binaryTool("add", "Add two numbers.", "a + b"),
		binaryTool("subtract", "Subtract b from a.", "a - b"),
		binaryTool("multiply", "Multiply two numbers.", "a * b"),
		adapters.NewGoToolAdapter("divide", divide,
			adapters.WithDescription("Divide a by b."),
			adapters.WithParameters(binaryParams...),
			adapters.WithValidator(validateBinary),
		),
		adapters.NewGoToolAdapter("evaluate", evaluate,
			adapters.WithDescription("Evaluate an arithmetic expression."),
			adapters.WithParameters(orchestrator.Param{Name: "expression", Type: orchestrator.ParamString}),
			adapters.WithValidator(validateExpressionInput),
		),
	)
	spec, _ := host.Spec(ArithmeticServer)
	return spec
}

func binaryTool(name, description, expr string) *adapters.GoToolAdapter {
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		panic(errors.Wrapf(err, "arithmetic: %s", name))
	}
	fn := func(ctx context.Context, input map[string]any) (any, error) {
		a, b, err := operands(input)
		if err != nil {
			return nil, err
		}
		res, err := compiled.Evaluate(map[string]any{"a": a, "b": b})
		if err != nil {
			return nil, errors.Wrapf(err, "%s", name)
		}
		logger.ContextKV(ctx, xlog.DEBUG, "tool", name, "a", a, "b", b, "result", res)
		return res, nil
	}
	return adapters.NewGoToolAdapter(name, fn,
		adapters.WithDescription(description),
		adapters.WithParameters(binaryParams...),
		adapters.WithValidator(validateBinary),
	)
}

func divide(_ context.Context, input map[string]any) (any, error) {
	a, b, err := operands(input)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, ErrDivisionByZero
	}
	return a / b, nil
}

func evaluate(_ context.Context, input map[string]any) (any, error) {
	expr, _ := input["expression"].(string)
	e, err := govaluate.NewEvaluableExpressionWithFunctions(expr, whitelistedFunctions())
	if err != nil {
		return nil, errors.Wrapf(err, "parse %q", expr)
	}
	res, err := e.Evaluate(nil)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate %q", expr)
	}
	if f, ok := res.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return nil, errors.Newf("%q has no finite value", expr)
	}
	return res, nil
}

func operands(input map[string]any) (float64, float64, error) {
	a, err := ToFloat(input["a"])
	if err != nil {
		return 0, 0, errors.Wrap(err, "argument a")
	}
	b, err := ToFloat(input["b"])
	if err != nil {
		return 0, 0, errors.Wrap(err, "argument b")
	}
	return a, b, nil
}

// ToFloat accepts the numeric shapes arguments arrive in after synthesis
// or JSON decoding.
func ToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.Newf("%q is not a number", t)
		}
		return f, nil
	case nil:
		return 0, errors.New("missing number")
	}
	return 0, errors.Newf("unsupported number type %T", v)
}

func validateBinary(input map[string]any) error {
	for _, k := range []string{"a", "b"} {
		if _, ok := input[k]; !ok {
			return errors.Newf("missing argument %q", k)
		}
	}
	return nil
}

func validateExpressionInput(input map[string]any) error {
	expr, ok := input["expression"].(string)
	if !ok {
		return errors.Newf("expression must be a string, got %T", input["expression"])
	}
	if strings.TrimSpace(expr) == "" {
		return errors.New("expression cannot be empty")
	}
	if len(expr) > 500 {
		return errors.New("expression too long (max 500 characters)")
	}
	return nil
}

var (
	funcsMu   sync.RWMutex
	exprFuncs = map[string]govaluate.ExpressionFunction{}
)

// RegisterExpressionFunction makes fn callable from the evaluate tool.
func RegisterExpressionFunction(name string, fn govaluate.ExpressionFunction) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	exprFuncs[name] = fn
}

func whitelistedFunctions() map[string]govaluate.ExpressionFunction {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	out := make(map[string]govaluate.ExpressionFunction, len(exprFuncs))
	for k, v := range exprFuncs {
		out[k] = v
	}
	return out
}

// ValidateExpression reports whether expr parses with the registered functions.
func ValidateExpression(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, whitelistedFunctions())
	return err
}
