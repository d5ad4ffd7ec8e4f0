package script

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

type fakeExecutor struct {
	fn func(commands []burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error)
}

func (f *fakeExecutor) ExecuteCommandSequence(_ context.Context, commands []burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error) {
	if f.fn != nil {
		return f.fn(commands, ectx)
	}
	return &burwell.TaskExecutionResult{Status: burwell.StatusCompleted, Success: true, Output: "ok"}, nil
}

func writeScript(t *testing.T, root, name string, plan map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(plan)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, name), data, 0o644))
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	m, err := New(Config{ScriptsRoot: root, MaxNestingLevel: 3}, nil)
	require.NoError(t, err)
	return m, root
}

func TestResolvePathRejectsTraversal(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.ResolvePath("../outside")
	require.Error(t, err)
	assert.Equal(t, errs.ScriptPathUnsafe, errs.KindOf(err))
}

func TestResolvePathAppendsJSONExtension(t *testing.T) {
	m, root := newTestManager(t)
	resolved, err := m.ResolvePath("child")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "child.json"), resolved)
}

func TestValidateRejectsEmptyCommands(t *testing.T) {
	err := Validate(burwell.Plan{})
	require.Error(t, err)
	assert.Equal(t, errs.InvalidPlan, errs.KindOf(err))
}

func TestExecuteScriptFileMergesVariablesWithoutOverridingParent(t *testing.T) {
	m, root := newTestManager(t)
	writeScript(t, root, "child.json", map[string]interface{}{
		"commands":  []interface{}{map[string]interface{}{"command": "noop"}},
		"variables": map[string]interface{}{"greeting": "from-child"},
	})

	m.SetExecutor(&fakeExecutor{})
	ectx := state.NewExecutionContext(burwell.NewRequestID(), "test", 3)
	ectx.SetVariable("greeting", "from-parent")

	_, err := m.ExecuteScriptFile(context.Background(), "child.json", ectx)
	require.NoError(t, err)

	v, _ := ectx.GetVariable("greeting")
	assert.Equal(t, "from-parent", v)
	assert.Equal(t, 0, ectx.Depth())
}

func TestExecuteScriptFileDetectsCycle(t *testing.T) {
	m, root := newTestManager(t)
	writeScript(t, root, "a.json", map[string]interface{}{
		"commands": []interface{}{
			map[string]interface{}{"command": "EXECUTE_SCRIPT", "parameters": map[string]interface{}{"script_path": "b.json"}},
		},
	})
	writeScript(t, root, "b.json", map[string]interface{}{
		"commands": []interface{}{
			map[string]interface{}{"command": "EXECUTE_SCRIPT", "parameters": map[string]interface{}{"script_path": "a.json"}},
		},
	})

	engine := &fakeExecutor{fn: func(commands []burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error) {
		for _, c := range commands {
			if c.Command == "EXECUTE_SCRIPT" {
				path := c.Parameters["script_path"].(string)
				return m.ExecuteScriptFile(context.Background(), path, ectx)
			}
		}
		return &burwell.TaskExecutionResult{Status: burwell.StatusCompleted, Success: true}, nil
	}}
	m.SetExecutor(engine)

	ectx := state.NewExecutionContext(burwell.NewRequestID(), "test", 3)
	_, err := m.ExecuteScriptFile(context.Background(), "a.json", ectx)
	require.Error(t, err)
	assert.Equal(t, errs.CircularScriptDependency, errs.KindOf(err))
	assert.Equal(t, 0, ectx.Depth())
}

func TestExecuteScriptFileRefusesAtMaxNesting(t *testing.T) {
	m, root := newTestManager(t)
	writeScript(t, root, "leaf.json", map[string]interface{}{
		"commands": []interface{}{map[string]interface{}{"command": "noop"}},
	})
	m.SetExecutor(&fakeExecutor{})

	ectx := state.NewExecutionContext(burwell.NewRequestID(), "test", 1)
	require.NoError(t, ectx.PushScript("already-nested"))

	_, err := m.ExecuteScriptFile(context.Background(), "leaf.json", ectx)
	require.Error(t, err)
	assert.Equal(t, errs.MaxNestingExceeded, errs.KindOf(err))
}

func TestValidateStaticCollectsMultipleBrokenReferences(t *testing.T) {
	m, root := newTestManager(t)
	writeScript(t, root, "parent.json", map[string]interface{}{
		"commands": []interface{}{
			map[string]interface{}{"command": "EXECUTE_SCRIPT", "parameters": map[string]interface{}{"script_path": "missing-one.json"}},
			map[string]interface{}{"command": "EXECUTE_SCRIPT", "parameters": map[string]interface{}{"script_path": "missing-two.json"}},
		},
	})

	errsOut := m.ValidateStatic("parent.json")
	assert.Len(t, errsOut, 2)
	for _, e := range errsOut {
		assert.Equal(t, errs.ScriptNotFound, errs.KindOf(e))
	}
}

func TestListAvailableScriptsFindsJSONFiles(t *testing.T) {
	m, root := newTestManager(t)
	writeScript(t, root, "one.json", map[string]interface{}{
		"commands": []interface{}{map[string]interface{}{"command": "noop"}},
	})

	scripts, err := m.ListAvailableScripts()
	require.NoError(t, err)
	assert.Contains(t, scripts, "one.json")
}
