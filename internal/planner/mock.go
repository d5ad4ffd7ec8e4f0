// Package planner provides PlannerTransport implementations: HTTPTransport,
// a net/http client for a live planner endpoint, and Mock, a deterministic
// scripted transport for tests and local runs.
package planner

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// Script is one canned response a Mock returns for a matching turn.
type Script struct {
	// Match is a free-form label for the scripted turn. Mock.SendPrompt does
	// not read it: scripts are replayed in order whatever the prompt says.
	Match    string
	Response map[string]interface{}
}

// Mock is a deterministic conversation.PlannerTransport driven by a fixed
// script, used by tests and by `run --script` without a live planner
// endpoint configured.
type Mock struct {
	mu      sync.Mutex
	scripts []Script
	turn    int
	calls   []map[string]interface{}
}

// NewMock builds a Mock that replays scripts in order, one per call to
// SendPrompt, regardless of prompt content.
func NewMock(scripts ...Script) *Mock {
	return &Mock{scripts: scripts}
}

// SendPrompt returns the next scripted response. Calling SendPrompt more
// times than there are scripts ends the conversation with an empty
// "commands" array rather than panicking.
func (m *Mock) SendPrompt(_ context.Context, prompt map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, prompt)
	if m.turn >= len(m.scripts) {
		return map[string]interface{}{"commands": []interface{}{}}, nil
	}
	resp := m.scripts[m.turn].Response
	m.turn++
	return resp, nil
}

// Calls returns every prompt SendPrompt has received, in order.
func (m *Mock) Calls() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.calls))
	copy(out, m.calls)
	return out
}

// SingleCommandResponse builds a one-command "commands" response, a
// convenience for hand-written Script tables in tests.
func SingleCommandResponse(command string, params map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"commands": []interface{}{
			map[string]interface{}{
				"command":    command,
				"parameters": params,
			},
		},
	}
}

// EnvironmentalDataRequest builds a response shape requesting the current
// environment before the planner continues.
func EnvironmentalDataRequest(reason string) map[string]interface{} {
	return map[string]interface{}{
		"environmental_data_request": map[string]interface{}{"reason": reason},
	}
}

// UserInteractionRequest builds a response shape requesting user input.
func UserInteractionRequest(prompt string, inputType string, options []string) map[string]interface{} {
	req := map[string]interface{}{
		"prompt":     prompt,
		"input_type": inputType,
	}
	if len(options) > 0 {
		opts := make([]interface{}, len(options))
		for i, o := range options {
			opts[i] = o
		}
		req["options"] = opts
	}
	return map[string]interface{}{"user_interaction_request": req}
}

// RecoveryPlanResponse builds a "recovery_plan" response shape for error
// recovery conversations.
func RecoveryPlanResponse(commands ...burwell.Command) map[string]interface{} {
	items := make([]interface{}, len(commands))
	for i, c := range commands {
		items[i] = map[string]interface{}{
			"command":     c.Command,
			"parameters":  c.Parameters,
			"description": c.Description,
			"optional":    c.Optional,
		}
	}
	return map[string]interface{}{"recovery_plan": items}
}

func (m *Mock) String() string {
	return fmt.Sprintf("planner.Mock{turn=%d, scripts=%d}", m.turn, len(m.scripts))
}
