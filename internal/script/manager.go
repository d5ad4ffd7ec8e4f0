// Package script implements the ScriptManager: sandboxed path resolution,
// validation, caching, cycle detection, and nested script execution.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// Executor is the subset of the execution engine the script manager
// delegates command execution to. Defined here (rather than imported from
// the engine package) so engine -> script can depend without a cycle back.
type Executor interface {
	ExecuteCommandSequence(ctx context.Context, commands []burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error)
}

// Config controls the script manager's sandbox root and nesting/caching policy.
type Config struct {
	ScriptsRoot     string
	MaxNestingLevel int
	CachingEnabled  bool
}

// Manager loads, validates, caches, and orchestrates nested script execution.
type Manager struct {
	cfg      Config
	root     string
	executor Executor
	log      *logger.Logger

	cacheMu sync.Mutex
	cache   map[string]burwell.Plan
}

// New builds a Manager rooted at cfg.ScriptsRoot. SetExecutor must be called
// before ExecuteScriptFile is used.
func New(cfg Config, log *logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxNestingLevel <= 0 {
		cfg.MaxNestingLevel = 3
	}
	root, err := filepath.Abs(cfg.ScriptsRoot)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "resolving scripts root", err)
	}
	return &Manager{
		cfg:   cfg,
		root:  root,
		log:   log,
		cache: make(map[string]burwell.Plan),
	}, nil
}

// SetExecutor wires the execution engine used to run a loaded script's
// command array.
func (m *Manager) SetExecutor(e Executor) { m.executor = e }

// ResolvePath sandboxes scriptPath under the configured root: any path
// containing ".." is rejected, absolute paths outside the root are rejected, and ".json" is
// appended when the path has no extension. The return value is always an
// absolute path under the root, suitable as a cache and script-stack key.
func (m *Manager) ResolvePath(scriptPath string) (string, error) {
	if strings.Contains(scriptPath, "..") {
		return "", errs.New(errs.ScriptPathUnsafe, "path contains '..': "+scriptPath)
	}

	candidate := scriptPath
	if filepath.Ext(candidate) == "" {
		candidate += ".json"
	}

	var abs string
	if filepath.IsAbs(candidate) {
		abs = filepath.Clean(candidate)
	} else {
		abs = filepath.Clean(filepath.Join(m.root, candidate))
	}

	rel, err := filepath.Rel(m.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.ScriptPathUnsafe, "path escapes scripts root: "+scriptPath)
	}

	return abs, nil
}

// LoadScript resolves, loads (from cache if enabled), and validates a
// script. It does not touch the nesting stack.
func (m *Manager) LoadScript(scriptPath string) (burwell.Plan, string, error) {
	resolved, err := m.ResolvePath(scriptPath)
	if err != nil {
		return burwell.Plan{}, "", err
	}

	if m.cfg.CachingEnabled {
		m.cacheMu.Lock()
		plan, ok := m.cache[resolved]
		m.cacheMu.Unlock()
		if ok {
			return plan, resolved, nil
		}
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return burwell.Plan{}, "", errs.Wrap(errs.ScriptNotFound, "reading script "+scriptPath, err)
	}

	var plan burwell.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return burwell.Plan{}, "", errs.Wrap(errs.InvalidPlan, "parsing script "+scriptPath, err)
	}

	if err := Validate(plan); err != nil {
		return burwell.Plan{}, "", err
	}

	if m.cfg.CachingEnabled {
		m.cacheMu.Lock()
		m.cache[resolved] = plan
		m.cacheMu.Unlock()
	}

	return plan, resolved, nil
}

// Validate checks the structural requirements of a loaded script: a
// non-empty command array whose elements each carry a string command field.
func Validate(plan burwell.Plan) error {
	if len(plan.Commands) == 0 {
		return errs.New(errs.InvalidPlan, "script has no commands")
	}
	for i, c := range plan.Commands {
		if strings.TrimSpace(c.Command) == "" {
			return errs.New(errs.InvalidPlan, fmt.Sprintf("command at index %d missing 'command' field", i))
		}
	}
	return nil
}

// ClearCache empties the parsed-script cache.
func (m *Manager) ClearCache() {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.cache = make(map[string]burwell.Plan)
}

// CacheSize returns the number of parsed scripts currently cached.
func (m *Manager) CacheSize() int {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	return len(m.cache)
}

// ExecuteScriptFile implements the nested-execution contract: nesting check,
// load+validate, push+pop (on every exit path), variable merge (parent
// wins), delegation to the engine, and result-variable capture.
func (m *Manager) ExecuteScriptFile(ctx context.Context, scriptPath string, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error) {
	if m.executor == nil {
		return nil, errs.New(errs.Internal, "script manager has no executor wired")
	}

	resolved, err := m.ResolvePath(scriptPath)
	if err != nil {
		return nil, err
	}

	if ectx.IsInStack(resolved) {
		return nil, errs.New(errs.CircularScriptDependency, "script already in stack: "+resolved)
	}
	if ectx.Depth() >= ectx.MaxNesting {
		return nil, errs.New(errs.MaxNestingExceeded, "nesting already at max for "+resolved)
	}

	plan, resolved, err := m.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}

	if err := ectx.PushScript(resolved); err != nil {
		return nil, err
	}
	defer ectx.PopScript()

	for name, value := range plan.Variables {
		if !ectx.HasVariable(name) {
			ectx.SetVariable(name, value)
		}
	}

	result, err := m.executor.ExecuteCommandSequence(ctx, plan.Commands, ectx)
	if err != nil {
		return result, err
	}

	if plan.ResultVariable != "" && result != nil {
		ectx.SetSubScriptResult(plan.ResultVariable, result.Output)
	}

	return result, nil
}

// CheckStaticCycle recursively scans a script's EXECUTE_SCRIPT commands for a
// cycle without executing anything, used for offline validation of a script
// directory. visited is the set of resolved paths already on the current
// recursive path.
func (m *Manager) CheckStaticCycle(scriptPath string, visited map[string]bool) error {
	resolved, err := m.ResolvePath(scriptPath)
	if err != nil {
		return err
	}
	if visited[resolved] {
		return errs.New(errs.CircularScriptDependency, "static cycle detected at "+resolved)
	}

	plan, resolved, err := m.LoadScript(scriptPath)
	if err != nil {
		return err
	}

	visited[resolved] = true
	defer delete(visited, resolved)

	for _, cmd := range plan.Commands {
		if !isExecuteScript(cmd.Command) {
			continue
		}
		child, ok := cmd.Parameters["script_path"].(string)
		if !ok || child == "" {
			continue
		}
		if err := m.CheckStaticCycle(child, visited); err != nil {
			return err
		}
	}
	return nil
}

// ValidateStatic walks scriptPath's EXECUTE_SCRIPT references, collecting
// every broken reference (missing file, unsafe path, invalid structure)
// rather than stopping at the first, so a pre-flight check can report the
// whole set of problems in one pass.
func (m *Manager) ValidateStatic(scriptPath string) []error {
	var errsOut []error
	visited := make(map[string]bool)
	m.walkStatic(scriptPath, visited, &errsOut)
	return errsOut
}

func (m *Manager) walkStatic(scriptPath string, visited map[string]bool, out *[]error) {
	resolved, err := m.ResolvePath(scriptPath)
	if err != nil {
		*out = append(*out, err)
		return
	}
	if visited[resolved] {
		*out = append(*out, errs.New(errs.CircularScriptDependency, "static cycle detected at "+resolved))
		return
	}

	plan, resolved, err := m.LoadScript(scriptPath)
	if err != nil {
		*out = append(*out, err)
		return
	}

	visited[resolved] = true
	defer delete(visited, resolved)

	for _, cmd := range plan.Commands {
		if !isExecuteScript(cmd.Command) {
			continue
		}
		child, ok := cmd.Parameters["script_path"].(string)
		if !ok || child == "" {
			*out = append(*out, errs.New(errs.MissingParameter, "EXECUTE_SCRIPT missing 'script_path' in "+resolved))
			continue
		}
		m.walkStatic(child, visited, out)
	}
}

func isExecuteScript(command string) bool {
	return strings.EqualFold(command, "EXECUTE_SCRIPT") || strings.EqualFold(command, "script.execute")
}

// ListAvailableScripts walks the sandbox root and returns every *.json file
// path relative to the root.
func (m *Manager) ListAvailableScripts() ([]string, error) {
	var out []string
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			rel, relErr := filepath.Rel(m.root, path)
			if relErr == nil {
				out = append(out, rel)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "listing scripts", err)
	}
	return out, nil
}
