package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/adapter"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

func newTestEngine(t *testing.T) (*Engine, *adapter.MockAdapter) {
	t.Helper()
	ad := adapter.NewMockAdapter()
	return New(Config{}, ad, nil), ad
}

func newTestCtx() *state.ExecutionContext {
	return state.NewExecutionContext(burwell.NewRequestID(), "test", 3)
}

func TestExecuteCommandSequenceSubstitutesVariables(t *testing.T) {
	e, ad := newTestEngine(t)
	ectx := newTestCtx()
	ectx.SetVariable("name", "Alice")

	result, err := e.ExecuteCommandSequence(context.Background(), []burwell.Command{
		{Command: "keyboard.type", Parameters: map[string]interface{}{"text": "hi ${name}"}},
	}, ectx)
	require.NoError(t, err)
	assert.True(t, result.Success)

	calls := ad.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hi Alice", calls[0].Params["text"])
}

func TestExecuteCommandSequenceStopsOnNonOptionalFailure(t *testing.T) {
	e, ad := newTestEngine(t)
	ad.FailCommand("mouse", "click")
	ectx := newTestCtx()

	result, err := e.ExecuteCommandSequence(context.Background(), []burwell.Command{
		{Command: "mouse.click"},
		{Command: "keyboard.type", Parameters: map[string]interface{}{"text": "unreached"}},
	}, ectx)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.ExecutedCommands)
	assert.Len(t, ad.Calls(), 1)
}

func TestExecuteCommandSequenceContinuesPastOptionalFailure(t *testing.T) {
	e, ad := newTestEngine(t)
	ad.FailCommand("mouse", "click")
	ectx := newTestCtx()

	result, err := e.ExecuteCommandSequence(context.Background(), []burwell.Command{
		{Command: "mouse.click", Optional: true},
		{Command: "keyboard.type", Parameters: map[string]interface{}{"text": "reached"}},
	}, ectx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"keyboard.type"}, result.ExecutedCommands)
}

func TestConditionalStopBreaksWhileLoop(t *testing.T) {
	e, _ := newTestEngine(t)
	ectx := newTestCtx()

	cmd := burwell.Command{
		Command: "WHILE",
		Parameters: map[string]interface{}{
			"max_iterations": 10,
			"body": []interface{}{
				map[string]interface{}{"command": "CONDITIONAL_STOP"},
			},
		},
	}
	status, err := e.executeWhile(context.Background(), cmd, ectx)
	require.NoError(t, err)
	assert.Equal(t, burwell.StatusCompleted, status)
}

func TestWhileStopsAtMaxIterationsRegardlessOfCondition(t *testing.T) {
	e, ad := newTestEngine(t)
	ectx := newTestCtx()

	cmd := burwell.Command{
		Command: "WHILE",
		Parameters: map[string]interface{}{
			"max_iterations": 3,
			"body": []interface{}{
				map[string]interface{}{"command": "mouse.click"},
			},
		},
	}
	_, err := e.executeWhile(context.Background(), cmd, ectx)
	require.NoError(t, err)
	assert.Len(t, ad.Calls(), 3)
}

func TestRetryUntilSuccessExhaustsAttemptsAndSurfacesLastError(t *testing.T) {
	e, ad := newTestEngine(t)
	ad.FailCommand("mouse", "click")
	ectx := newTestCtx()

	cmd := burwell.Command{
		Command: "RETRY_UNTIL_SUCCESS",
		Parameters: map[string]interface{}{
			"max_attempts":   3,
			"retry_delay_ms": 0,
			"command":        map[string]interface{}{"command": "mouse.click"},
		},
	}

	_, err := e.dispatch(context.Background(), cmd, ectx)
	require.Error(t, err)
	assert.Len(t, ad.Calls(), 3)
}

func TestRetryUntilSuccessStopsOnFirstSuccess(t *testing.T) {
	e, ad := newTestEngine(t)
	ectx := newTestCtx()

	cmd := burwell.Command{
		Command: "RETRY_UNTIL_SUCCESS",
		Parameters: map[string]interface{}{
			"max_attempts":   5,
			"retry_delay_ms": 0,
			"command":        map[string]interface{}{"command": "mouse.click"},
		},
	}

	status, err := e.dispatch(context.Background(), cmd, ectx)
	require.NoError(t, err)
	assert.Equal(t, burwell.StatusCompleted, status)
	assert.Len(t, ad.Calls(), 1)
}

func TestRetryUntilSuccessRequiresPositiveMaxAttempts(t *testing.T) {
	e, _ := newTestEngine(t)
	ectx := newTestCtx()
	cmd := burwell.Command{
		Command: "RETRY_UNTIL_SUCCESS",
		Parameters: map[string]interface{}{
			"max_attempts": 0,
			"command":      map[string]interface{}{"command": "mouse.click"},
		},
	}
	_, err := e.dispatch(context.Background(), cmd, ectx)
	assert.Error(t, err)
}

func TestSubstituteVariablesLeavesUnknownPlaceholderLiteral(t *testing.T) {
	out := SubstituteVariables("hello ${missing}", map[string]interface{}{})
	assert.Equal(t, "hello ${missing}", out)
}

func TestSubstituteVariablesIsIdentityWithEmptyVarsAndNoPlaceholders(t *testing.T) {
	out := SubstituteVariables("no placeholders here", map[string]interface{}{})
	assert.Equal(t, "no placeholders here", out)
}

func TestSubstituteInParamsRecursesThroughNestedStructures(t *testing.T) {
	vars := map[string]interface{}{"x": "10"}
	params := map[string]interface{}{
		"nested": map[string]interface{}{
			"list": []interface{}{"${x}", "literal"},
		},
	}
	out := SubstituteInParams(params, vars)
	nested := out["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	assert.Equal(t, "10", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestUnknownCommandFails(t *testing.T) {
	e, _ := newTestEngine(t)
	ectx := newTestCtx()
	_, err := e.ExecuteCommand(context.Background(), burwell.Command{Command: "nonsense"}, ectx)
	assert.Error(t, err)
}
