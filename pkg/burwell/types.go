// Package burwell holds the wire-level data model shared by every
// orchestrator subsystem: requests, plans, commands, scripts, and
// environment snapshots.
package burwell

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// RequestID uniquely identifies a submitted request. It carries a
// timestamp prefix so ids sort roughly by submission order, followed by a
// random suffix to avoid collisions within the same millisecond.
type RequestID string

var requestCounter uint64

// NewRequestID allocates a new, process-unique request id.
func NewRequestID() RequestID {
	seq := atomic.AddUint64(&requestCounter, 1)
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return RequestID(fmt.Sprintf("req-%x-%06d-%x", time.Now().UnixNano(), seq, buf))
}

// Status is the lifecycle state of an ExecutionContext.
type Status string

const (
	StatusPending         Status = "Pending"
	StatusInProgress      Status = "InProgress"
	StatusCompleted       Status = "Completed"
	StatusFailed          Status = "Failed"
	StatusCancelled       Status = "Cancelled"
	StatusWaitingForInput Status = "WaitingForInput"
	StatusBreakLoop       Status = "BreakLoop"
	StatusContinueLoop    Status = "ContinueLoop"
)

// IsTerminal reports whether s is a state from which a context never
// transitions except by deletion.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Command is one step of a plan: a dotted or UPPER_SNAKE name dispatched by
// the execution engine to a handler family.
type Command struct {
	Command      string                 `json:"command"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Priority     int                    `json:"priority,omitempty"`
	Optional     bool                   `json:"optional,omitempty"`
	DelayAfterMs int                    `json:"delayAfterMs,omitempty"`
}

// Plan is a structured list of commands submitted for execution. It accepts
// either a "commands" or a "sequence" key on the wire; both are equivalent.
type Plan struct {
	Commands       []Command              `json:"commands"`
	Variables      map[string]interface{} `json:"variables,omitempty"`
	ResultVariable string                  `json:"resultVariable,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// planWire mirrors Plan but keeps "commands" and "sequence" distinct so
// UnmarshalJSON can normalize whichever the caller sent.
type planWire struct {
	Commands       []Command              `json:"commands"`
	Sequence       []Command              `json:"sequence"`
	Variables      map[string]interface{} `json:"variables,omitempty"`
	ResultVariable string                  `json:"resultVariable,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts "commands" and "sequence" as equivalent keys,
// preferring "commands" when both are present.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Commands = w.Commands
	if len(p.Commands) == 0 {
		p.Commands = w.Sequence
	}
	p.Variables = w.Variables
	p.ResultVariable = w.ResultVariable
	p.Metadata = w.Metadata
	return nil
}

// MarshalJSON always writes the "commands" key.
func (p Plan) MarshalJSON() ([]byte, error) {
	w := planWire{
		Commands:       p.Commands,
		Variables:      p.Variables,
		ResultVariable: p.ResultVariable,
		Metadata:       p.Metadata,
	}
	return json.Marshal(w)
}

// Script is a Plan persisted on disk under the script manager's sandboxed
// root, loadable by path and possibly nested.
type Script struct {
	Plan
	Path string `json:"-"`
}

// Window describes one top-level window captured in an environment
// snapshot.
type Window struct {
	Title       string `json:"title"`
	ClassName   string `json:"className"`
	ProcessName string `json:"processName"`
	Bounds      Rect   `json:"bounds"`
	Visible     bool   `json:"visible"`
	Minimized   bool   `json:"minimized"`
	Maximized   bool   `json:"maximized"`
	ZOrder      int    `json:"zOrder"`
	Responding  bool   `json:"responding"`
}

// Rect is an axis-aligned pixel rectangle.
type Rect struct {
	X, Y, W, H int
}

// EnvironmentSnapshot is an immutable, point-in-time capture of visible
// windows and system metadata.
type EnvironmentSnapshot struct {
	Windows       []Window               `json:"windows"`
	ActiveWindow  *Window                `json:"activeWindow,omitempty"`
	System        map[string]interface{} `json:"system"`
	CapturedAt    time.Time              `json:"timestamp"`
}

// TaskExecutionResult is the outcome of executing a plan, script, or
// command sequence.
type TaskExecutionResult struct {
	ExecutionID      RequestID              `json:"executionId"`
	Status           Status                 `json:"status"`
	Success          bool                   `json:"success"`
	ErrorMessage     string                 `json:"errorMessage,omitempty"`
	Output           string                 `json:"output,omitempty"`
	Result           map[string]interface{} `json:"result,omitempty"`
	ExecutedCommands []string               `json:"executedCommands"`
	ExecutionTime    time.Duration          `json:"executionTimeNs"`
}

// OrchestratorEvent enumerates the event codes the event bus carries.
type OrchestratorEvent string

const (
	EventUserRequest            OrchestratorEvent = "USER_REQUEST"
	EventTaskCompleted          OrchestratorEvent = "TASK_COMPLETED"
	EventTaskFailed             OrchestratorEvent = "TASK_FAILED"
	EventEnvironmentChanged     OrchestratorEvent = "ENVIRONMENT_CHANGED"
	EventEmergencyStop          OrchestratorEvent = "EMERGENCY_STOP"
	EventExecutionStarted       OrchestratorEvent = "EXECUTION_STARTED"
	EventExecutionPaused        OrchestratorEvent = "EXECUTION_PAUSED"
	EventExecutionResumed       OrchestratorEvent = "EXECUTION_RESUMED"
	EventCommandExecuted        OrchestratorEvent = "COMMAND_EXECUTED"
	EventErrorOccurred          OrchestratorEvent = "ERROR_OCCURRED"
	EventUserInteractionRequired OrchestratorEvent = "USER_INTERACTION_REQUIRED"
	EventUserInteractionReceived OrchestratorEvent = "USER_INTERACTION_RECEIVED"
)

// EventData is one entry raised on the event bus.
type EventData struct {
	Type      OrchestratorEvent      `json:"type"`
	Data      string                 `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID RequestID              `json:"requestId,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
