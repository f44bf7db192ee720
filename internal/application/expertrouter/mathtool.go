package expertrouter

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/sashabaranov/go-openai"
)

// MathToolName is the allow-listed tool the Gateway exposes to a chat call
// when pipeline.ChatRequest.AllowedTools names it, e.g. the Critic
// recomputing a confidence-weighted count during adjudication
// (SPEC_FULL.md SUPPLEMENTED FEATURES #5). It is never attached unless the
// caller explicitly allow-lists it, and the Gateway resolves it itself in a
// single follow-up round trip rather than handing control back to the node.
const MathToolName = "evaluate_math"

// mathToolArgs is the tool-call argument shape the model is asked to emit.
type mathToolArgs struct {
	Expression string `json:"expression"`
}

func mathTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        MathToolName,
			Description: "Evaluate a self-contained arithmetic expression (numbers and +-*/() only) and return its numeric result.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"description": "An arithmetic expression, e.g. \"(0.9*12 + 0.6*3) / 15\".",
					},
				},
				"required": []string{"expression"},
			},
		},
	}
}

func mathToolCall(calls []openai.ToolCall) (openai.ToolCall, bool) {
	for _, c := range calls {
		if c.Function.Name == MathToolName {
			return c, true
		}
	}
	return openai.ToolCall{}, false
}

// EvaluateExpression evaluates a narrow arithmetic expression deterministically.
// It runs against a nil environment, so expr rejects anything but numeric
// literals and arithmetic operators -- there is no identifier it could
// resolve, which is what keeps this a sandboxed calculator rather than a
// general scripting surface.
func EvaluateExpression(expression string) (float64, error) {
	result, err := expr.Eval(expression, nil)
	if err != nil {
		return 0, fmt.Errorf("expertrouter: math sandbox rejected expression: %w", err)
	}
	switch v := result.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("expertrouter: math sandbox produced a non-numeric result (%T)", result)
	}
}

func mathToolResultContent(expression string) string {
	value, err := EvaluateExpression(expression)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload)
	}
	payload, _ := json.Marshal(map[string]float64{"result": value})
	return string(payload)
}

func parseMathToolArgs(raw string) (mathToolArgs, error) {
	var args mathToolArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return mathToolArgs{}, fmt.Errorf("expertrouter: malformed math tool arguments: %w", err)
	}
	return args, nil
}
