package engine

import (
	"context"
	"strings"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

var adapterFamilies = map[string]bool{
	"mouse": true, "keyboard": true, "window": true,
	"application": true, "system": true, "clipboard": true,
}

// dispatch routes a single, already-substituted command to its handler
// family and returns the resulting status (normally StatusCompleted, or a
// loop-control status surfaced by a control.* command).
func (e *Engine) dispatch(ctx context.Context, cmd burwell.Command, ectx *state.ExecutionContext) (burwell.Status, error) {
	name := cmd.Command
	upper := strings.ToUpper(name)

	switch upper {
	case "CONDITIONAL_STOP":
		return burwell.StatusBreakLoop, nil
	case "IF_CONTAINS":
		return e.executeIfContains(ctx, cmd, ectx)
	case "WHILE":
		return e.executeWhile(ctx, cmd, ectx)
	case "RETRY_UNTIL_SUCCESS":
		return e.executeRetryUntilSuccess(ctx, cmd, ectx)
	case "EXECUTE_SCRIPT":
		return e.executeScriptCommand(ctx, cmd, ectx)
	case "SET_OUTPUT":
		ectx.SetVariable(outputVariable, cmd.Parameters["value"])
		return burwell.StatusCompleted, nil
	}

	if strings.HasPrefix(upper, "UIA_") {
		return e.callAdapter(ctx, "window", name, cmd.Parameters)
	}

	family, op, ok := splitOnce(name, ".")
	if !ok {
		return "", errs.New(errs.UnknownCommand, "unrecognized command: "+name)
	}
	family = strings.ToLower(family)

	switch family {
	case "control":
		return e.dispatch(ctx, burwell.Command{Command: strings.ToUpper(op), Parameters: cmd.Parameters}, ectx)
	case "script":
		return e.executeScriptCommand(ctx, cmd, ectx)
	default:
		if adapterFamilies[family] {
			return e.callAdapter(ctx, family, op, cmd.Parameters)
		}
		return "", errs.New(errs.UnknownCommand, "unrecognized command family: "+family)
	}
}

func (e *Engine) callAdapter(ctx context.Context, family, op string, params map[string]interface{}) (burwell.Status, error) {
	if e.adapter == nil {
		return "", errs.New(errs.Internal, "no OS adapter configured")
	}
	result, err := e.adapter.Do(ctx, family, op, params)
	if err != nil {
		if ctx.Err() != nil {
			return "", errs.Wrap(errs.TimedOut, family+"."+op+" timed out", ctx.Err())
		}
		return "", errs.Wrap(errs.AdapterFailure, family+"."+op+" failed", err)
	}
	if !result.Success {
		return "", errs.New(errs.AdapterFailure, family+"."+op+": "+result.Error)
	}
	return burwell.StatusCompleted, nil
}

func (e *Engine) executeScriptCommand(ctx context.Context, cmd burwell.Command, ectx *state.ExecutionContext) (burwell.Status, error) {
	if e.script == nil {
		return "", errs.New(errs.Internal, "no script manager configured")
	}
	path, ok := cmd.Parameters["script_path"].(string)
	if !ok || path == "" {
		return "", errs.New(errs.MissingParameter, "EXECUTE_SCRIPT requires 'script_path'")
	}

	result, err := e.script.ExecuteScriptFile(ctx, path, ectx)
	if err != nil {
		return "", err
	}

	// A result_variable on the EXECUTE_SCRIPT command itself (as opposed to
	// one declared inside the child script) names where the caller wants the
	// child's output exposed in its own variables.
	if rv, ok := cmd.Parameters["result_variable"].(string); ok && rv != "" {
		ectx.SetVariable(rv, result.Output)
	}

	return result.Status, nil
}

func splitOnce(s, sep string) (string, string, bool) {
	idx := strings.Index(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}
