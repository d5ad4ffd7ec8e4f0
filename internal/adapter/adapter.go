// Package adapter defines the narrow OS-control boundary the execution
// engine calls into. The real mouse/keyboard/window/process implementation
// is an external collaborator; this package only carries the contract and a
// deterministic mock used by tests and by the CLI.
package adapter

import (
	"context"

	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// Result is the uniform return shape for every adapter operation.
type Result struct {
	Success bool
	Error   string
	Output  map[string]interface{}
}

// Adapter is the engine's view of the OS-control layer: mouse, keyboard,
// window, process, clipboard, sleep, and a generic system-command escape
// hatch, plus environment capture for the feedback controller.
type Adapter interface {
	// Do performs one OS-adapter operation. family is the command's dotted
	// prefix (mouse, keyboard, window, application, system); op is the
	// remainder of the command name. params carries the already
	// variable-substituted command parameters.
	Do(ctx context.Context, family, op string, params map[string]interface{}) (Result, error)

	// CaptureEnvironment takes a fresh snapshot of visible windows and the
	// active window for the feedback controller and conversation manager.
	CaptureEnvironment(ctx context.Context) (*burwell.EnvironmentSnapshot, error)
}
