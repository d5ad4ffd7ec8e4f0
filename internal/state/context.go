// Package state implements the StateStore: per-request ExecutionContexts,
// completed-result retention, and the process-wide activity log.
package state

import (
	"sync"
	"time"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// ExecutionContext is per-request state. It is created and owned exclusively
// by the Store; callers borrow it mutably through WithContext / WithContextRead.
//
// Three lock domains guard disjoint field groups so a caller holding the
// borrow lock via WithContext can still rely on fine-grained variable reads
// from other goroutines (e.g. a status poller) without deadlocking:
//   - borrowMu:   "at most one mutator at a time" over the whole context
//   - varsMu:     the variable map and its version counter
//   - fieldsMu:   script stack, sub-script results, log, status, environment
type ExecutionContext struct {
	RequestID       burwell.RequestID
	OriginalRequest string
	MaxNesting      int

	borrowMu sync.RWMutex

	varsMu      sync.RWMutex
	variables   map[string]interface{}
	varsVersion uint64

	fieldsMu           sync.Mutex
	scriptStack        []string
	subScriptResults   map[string]interface{}
	executionLog       []string
	currentEnvironment *burwell.EnvironmentSnapshot
	status             burwell.Status

	StartTime time.Time
	EndTime   time.Time
}

// NewExecutionContext allocates a fresh context in StatusPending.
func NewExecutionContext(id burwell.RequestID, originalRequest string, maxNesting int) *ExecutionContext {
	return &ExecutionContext{
		RequestID:        id,
		OriginalRequest:  originalRequest,
		MaxNesting:       maxNesting,
		variables:        make(map[string]interface{}),
		subScriptResults: make(map[string]interface{}),
		status:           burwell.StatusPending,
		StartTime:        time.Now(),
	}
}

// WithContext locks the context for exclusive mutation for the duration of
// fn. fn MUST NOT block on external I/O or acquire any Store lock.
func (c *ExecutionContext) WithContext(fn func(*ExecutionContext) error) error {
	c.borrowMu.Lock()
	defer c.borrowMu.Unlock()
	return fn(c)
}

// WithContextRead locks the context for shared, read-only access.
func (c *ExecutionContext) WithContextRead(fn func(*ExecutionContext) error) error {
	c.borrowMu.RLock()
	defer c.borrowMu.RUnlock()
	return fn(c)
}

// --- Variables ---

// SetVariable stores value under name and bumps the version counter.
func (c *ExecutionContext) SetVariable(name string, value interface{}) {
	c.varsMu.Lock()
	c.variables[name] = value
	c.varsVersion++
	c.varsMu.Unlock()
}

// GetVariable returns the value stored under name, if any.
func (c *ExecutionContext) GetVariable(name string) (interface{}, bool) {
	c.varsMu.RLock()
	defer c.varsMu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// HasVariable reports whether name is set.
func (c *ExecutionContext) HasVariable(name string) bool {
	c.varsMu.RLock()
	defer c.varsMu.RUnlock()
	_, ok := c.variables[name]
	return ok
}

// VariablesSnapshot returns a shallow copy of the variable map, suitable as
// the pure-function input to variable substitution.
func (c *ExecutionContext) VariablesSnapshot() map[string]interface{} {
	c.varsMu.RLock()
	defer c.varsMu.RUnlock()
	out := make(map[string]interface{}, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// VariablesVersion returns the current optimistic-consistency version.
func (c *ExecutionContext) VariablesVersion() uint64 {
	c.varsMu.RLock()
	defer c.varsMu.RUnlock()
	return c.varsVersion
}

// InheritFrom shallow-copies every variable from src into c without
// overwriting entries that already exist in c.
func (c *ExecutionContext) InheritFrom(src *ExecutionContext) {
	snapshot := src.VariablesSnapshot()
	c.varsMu.Lock()
	defer c.varsMu.Unlock()
	for k, v := range snapshot {
		if _, exists := c.variables[k]; !exists {
			c.variables[k] = v
		}
	}
	c.varsVersion++
}

// --- Script stack ---

// PushScript pushes path onto the script stack. Returns MaxNestingExceeded
// if the context is already at MaxNesting.
func (c *ExecutionContext) PushScript(path string) error {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	if len(c.scriptStack) >= c.MaxNesting {
		return errs.New(errs.MaxNestingExceeded, "script stack already at max nesting")
	}
	c.scriptStack = append(c.scriptStack, path)
	return nil
}

// PopScript pops the most recently pushed script path. MUST be called on
// every exit path from a nested-script execution, paired 1:1 with PushScript.
func (c *ExecutionContext) PopScript() {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	if len(c.scriptStack) == 0 {
		return
	}
	c.scriptStack = c.scriptStack[:len(c.scriptStack)-1]
}

// IsInStack reports whether path already appears in the script stack.
func (c *ExecutionContext) IsInStack(path string) bool {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	for _, p := range c.scriptStack {
		if p == path {
			return true
		}
	}
	return false
}

// Depth returns the current nesting depth.
func (c *ExecutionContext) Depth() int {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	return len(c.scriptStack)
}

// ScriptStack returns a snapshot of the current script stack.
func (c *ExecutionContext) ScriptStack() []string {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	out := make([]string, len(c.scriptStack))
	copy(out, c.scriptStack)
	return out
}

// --- Sub-script results ---

// SetSubScriptResult records the output of a completed nested script under label.
func (c *ExecutionContext) SetSubScriptResult(label string, value interface{}) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	c.subScriptResults[label] = value
}

// SubScriptResult returns the recorded output for label, if any.
func (c *ExecutionContext) SubScriptResult(label string) (interface{}, bool) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	v, ok := c.subScriptResults[label]
	return v, ok
}

// --- Execution log ---

// AppendLog appends a human-readable step description.
func (c *ExecutionContext) AppendLog(entry string) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	c.executionLog = append(c.executionLog, entry)
}

// ExecutionLog returns a snapshot of the log, oldest first.
func (c *ExecutionContext) ExecutionLog() []string {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	out := make([]string, len(c.executionLog))
	copy(out, c.executionLog)
	return out
}

// --- Status ---

// validTransition enforces monotonic status transitions, with WaitingForInput
// treated as a reversible side-state of InProgress. Terminal statuses accept
// no further transitions.
func validTransition(from, to burwell.Status) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	switch from {
	case burwell.StatusPending:
		return true
	case burwell.StatusInProgress:
		return to != burwell.StatusPending
	case burwell.StatusWaitingForInput:
		return to == burwell.StatusInProgress || to.IsTerminal()
	case burwell.StatusBreakLoop, burwell.StatusContinueLoop:
		return true
	default:
		return true
	}
}

// SetStatus transitions the context's status. An invalid transition is
// rejected and the status is left unchanged.
func (c *ExecutionContext) SetStatus(s burwell.Status) error {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	if !validTransition(c.status, s) {
		return errs.New(errs.Internal, "invalid status transition: "+string(c.status)+" -> "+string(s))
	}
	c.status = s
	if s.IsTerminal() {
		c.EndTime = time.Now()
	}
	return nil
}

// Status returns the current status.
func (c *ExecutionContext) Status() burwell.Status {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	return c.status
}

// SetEnvironment stores the most recently captured environment snapshot.
func (c *ExecutionContext) SetEnvironment(snap *burwell.EnvironmentSnapshot) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	c.currentEnvironment = snap
}

// Environment returns the last captured environment snapshot, if any.
func (c *ExecutionContext) Environment() *burwell.EnvironmentSnapshot {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	return c.currentEnvironment
}

// snapshotJSON is the on-wire shape used by export_state/import_state.
type snapshotJSON struct {
	RequestID        burwell.RequestID        `json:"requestId"`
	OriginalRequest  string                   `json:"originalRequest"`
	MaxNesting       int                      `json:"maxNesting"`
	Variables        map[string]interface{}   `json:"variables"`
	ScriptStack      []string                 `json:"scriptStack"`
	SubScriptResults map[string]interface{}   `json:"subScriptResults"`
	ExecutionLog     []string                 `json:"executionLog"`
	Status           burwell.Status           `json:"status"`
	StartTime        time.Time                `json:"startTime"`
	EndTime          time.Time                `json:"endTime"`
}

func (c *ExecutionContext) toSnapshot() snapshotJSON {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	return snapshotJSON{
		RequestID:        c.RequestID,
		OriginalRequest:  c.OriginalRequest,
		MaxNesting:       c.MaxNesting,
		Variables:        c.VariablesSnapshot(),
		ScriptStack:      append([]string{}, c.scriptStack...),
		SubScriptResults: c.subScriptResults,
		ExecutionLog:     append([]string{}, c.executionLog...),
		Status:           c.status,
		StartTime:        c.StartTime,
		EndTime:          c.EndTime,
	}
}

func fromSnapshot(s snapshotJSON) *ExecutionContext {
	c := NewExecutionContext(s.RequestID, s.OriginalRequest, s.MaxNesting)
	c.variables = s.Variables
	if c.variables == nil {
		c.variables = make(map[string]interface{})
	}
	c.scriptStack = s.ScriptStack
	c.subScriptResults = s.SubScriptResults
	if c.subScriptResults == nil {
		c.subScriptResults = make(map[string]interface{})
	}
	c.executionLog = s.ExecutionLog
	c.status = s.Status
	c.StartTime = s.StartTime
	c.EndTime = s.EndTime
	return c
}
