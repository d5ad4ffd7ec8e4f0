package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// executeWhile implements the WHILE control command:
// { condition, body: [Command], max_iterations }. It re-evaluates condition
// before each iteration, executes body as a sub-sequence, honors
// BreakLoop/ContinueLoop from the body, and always stops at max_iterations
// regardless of condition.
func (e *Engine) executeWhile(ctx context.Context, cmd burwell.Command, ectx *state.ExecutionContext) (burwell.Status, error) {
	condition, _ := cmd.Parameters["condition"].(string)

	bodyRaw, ok := cmd.Parameters["body"].([]interface{})
	if !ok {
		return "", errs.New(errs.MissingParameter, "WHILE requires a 'body' array")
	}
	body, err := toCommands(bodyRaw)
	if err != nil {
		return "", err
	}

	maxIterations, err := intParam(cmd.Parameters, "max_iterations")
	if err != nil || maxIterations <= 0 {
		return "", errs.New(errs.MissingParameter, "WHILE requires a positive 'max_iterations'")
	}

	for i := 0; i < maxIterations; i++ {
		if condition != "" && !evaluateCondition(condition, ectx.VariablesSnapshot()) {
			break
		}

		result, err := e.ExecuteCommandSequence(ctx, body, ectx)
		if err != nil {
			return "", err
		}
		if result.Status == burwell.StatusBreakLoop {
			break
		}
		// ContinueLoop and Completed both fall through to the next iteration.
	}

	return burwell.StatusCompleted, nil
}

// executeRetryUntilSuccess implements RETRY_UNTIL_SUCCESS: { command,
// max_attempts, retry_delay_ms }. It retries the wrapped single command up
// to max_attempts times, succeeding on the first success and otherwise
// surfacing the last attempt's failure.
func (e *Engine) executeRetryUntilSuccess(ctx context.Context, cmd burwell.Command, ectx *state.ExecutionContext) (burwell.Status, error) {
	innerRaw, ok := cmd.Parameters["command"].(map[string]interface{})
	if !ok {
		return "", errs.New(errs.MissingParameter, "RETRY_UNTIL_SUCCESS requires a 'command' object")
	}
	inner, err := toCommands([]interface{}{innerRaw})
	if err != nil {
		return "", err
	}

	maxAttempts, err := intParam(cmd.Parameters, "max_attempts")
	if err != nil || maxAttempts <= 0 {
		return "", errs.New(errs.MissingParameter, "RETRY_UNTIL_SUCCESS requires a positive 'max_attempts'")
	}
	delayMs, _ := intParam(cmd.Parameters, "retry_delay_ms")

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, runErr := e.ExecuteCommand(ctx, inner[0], ectx)
		if runErr == nil {
			return result.Status, nil
		}
		last = runErr
		if attempt < maxAttempts && delayMs > 0 {
			sleep(ctx, time.Duration(delayMs)*time.Millisecond)
		}
	}
	return "", last
}

// executeIfContains implements IF_CONTAINS: { variable, value, then, else? }.
func (e *Engine) executeIfContains(ctx context.Context, cmd burwell.Command, ectx *state.ExecutionContext) (burwell.Status, error) {
	varName, _ := cmd.Parameters["variable"].(string)
	needle, _ := cmd.Parameters["value"].(string)

	value, _ := ectx.GetVariable(varName)
	haystack := stringifyValue(value)

	var branchRaw []interface{}
	if strings.Contains(haystack, needle) {
		branchRaw, _ = cmd.Parameters["then"].([]interface{})
	} else {
		branchRaw, _ = cmd.Parameters["else"].([]interface{})
	}
	if branchRaw == nil {
		return burwell.StatusCompleted, nil
	}

	branch, err := toCommands(branchRaw)
	if err != nil {
		return "", err
	}
	result, err := e.ExecuteCommandSequence(ctx, branch, ectx)
	if err != nil {
		return "", err
	}
	return result.Status, nil
}

// evaluateCondition supports a small comparison grammar: "name", "name ==
// value", "name != value", and numeric "name > value" / "< " / ">=" / "<=".
// A bare name is truthy if the variable exists and is not false/zero/empty.
func evaluateCondition(condition string, vars map[string]interface{}) bool {
	condition = strings.TrimSpace(condition)
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if idx := strings.Index(condition, op); idx >= 0 {
			name := strings.TrimSpace(condition[:idx])
			want := strings.Trim(strings.TrimSpace(condition[idx+len(op):]), `"'`)
			got := stringifyValue(vars[name])
			return compare(got, want, op)
		}
	}
	v, ok := vars[condition]
	if !ok {
		return false
	}
	return truthy(v)
}

func compare(got, want, op string) bool {
	gotNum, gotErr := strconv.ParseFloat(got, 64)
	wantNum, wantErr := strconv.ParseFloat(want, 64)
	if gotErr == nil && wantErr == nil {
		switch op {
		case "==":
			return gotNum == wantNum
		case "!=":
			return gotNum != wantNum
		case ">":
			return gotNum > wantNum
		case "<":
			return gotNum < wantNum
		case ">=":
			return gotNum >= wantNum
		case "<=":
			return gotNum <= wantNum
		}
	}
	switch op {
	case "==":
		return got == want
	case "!=":
		return got != want
	default:
		return false
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false" && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func toCommands(raw []interface{}) ([]burwell.Command, error) {
	out := make([]burwell.Command, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errs.New(errs.InvalidPlan, "command entry is not an object")
		}
		name, _ := m["command"].(string)
		if name == "" {
			return nil, errs.New(errs.InvalidPlan, "command entry missing 'command'")
		}
		cmd := burwell.Command{Command: name}
		if params, ok := m["parameters"].(map[string]interface{}); ok {
			cmd.Parameters = params
		}
		if desc, ok := m["description"].(string); ok {
			cmd.Description = desc
		}
		if optional, ok := m["optional"].(bool); ok {
			cmd.Optional = optional
		}
		out = append(out, cmd)
	}
	return out, nil
}

func intParam(params map[string]interface{}, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing %q", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%q is not a number", key)
	}
}
