package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// PlannerTransport is the narrow external collaborator: send a prompt, get
// back the planner's next response as a loosely-typed document. The six
// recognized shapes are documented on Manager.Converse.
type PlannerTransport interface {
	SendPrompt(ctx context.Context, prompt map[string]interface{}) (map[string]interface{}, error)
}

// EnvironmentCapturer is satisfied by an adapter.Adapter; declared narrowly
// here so this package does not need to import the adapter package.
type EnvironmentCapturer interface {
	CaptureEnvironment(ctx context.Context) (*burwell.EnvironmentSnapshot, error)
}

// UI surfaces conversational feedback and interaction prompts to whatever is
// driving the orchestrator (CLI, UI, test double).
type UI interface {
	DisplayFeedback(message string)
}

// Config bounds a conversation's lifetime.
type Config struct {
	MaxTurns            int
	InteractionTimeoutMs int
}

// Manager is the ConversationManager: it drives a bounded multi-turn
// exchange with the planner, resolving environmental-data requests and
// user-interaction requests locally until the planner returns an executable
// command set or the conversation exhausts its turn budget.
type Manager struct {
	cfg       Config
	transport PlannerTransport
	env       EnvironmentCapturer
	ui        UI
	log       *logger.Logger

	interactions *interactionStore

	mu       sync.Mutex
	sessions map[string]*State
}

// New builds a Manager. Defaults are applied for zero-valued Config fields.
func New(cfg Config, transport PlannerTransport, env EnvironmentCapturer, ui UI, log *logger.Logger) *Manager {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.InteractionTimeoutMs <= 0 {
		cfg.InteractionTimeoutMs = 60000
	}
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		cfg:          cfg,
		transport:    transport,
		env:          env,
		ui:           ui,
		log:          log,
		interactions: newInteractionStore(time.Duration(cfg.InteractionTimeoutMs) * time.Millisecond),
		sessions:     make(map[string]*State),
	}
}

// ProvideResponse delivers a user's answer to a pending interaction created
// during an in-flight Converse call.
func (m *Manager) ProvideResponse(interactionID string, value interface{}) error {
	return m.interactions.ProvideResponse(interactionID, value)
}

// Converse drives one conversation to completion: it sends userInput to the
// planner and loops, per turn, on the planner's response shape, until the
// planner hands back an executable command set or the conversation's turn
// budget / active-flags termination rule is exhausted.
//
// Recognized planner response shapes:
//   - "commands" or "execution_plan.commands": the conversation is done;
//     the commands are returned as the Outcome.
//   - "environmental_data_request": the current environment is captured
//     locally via EnvironmentCapturer and folded into a follow-up prompt.
//   - "user_interaction_request": a pending interaction is registered,
//     surfaced via UI.DisplayFeedback, and awaited with a bounded timeout;
//     the answer is folded into a follow-up prompt.
//   - "adapted_commands", "alternatives", "recovery_plan": treated like
//     "commands" — each is itself already an executable command set
//     produced in response to a prior failure or ambiguity.
func (m *Manager) Converse(ctx context.Context, ectx *state.ExecutionContext, userInput string) (*Outcome, error) {
	sess := newState(uuid.New().String(), ectx.RequestID, m.cfg.MaxTurns)
	sess.AwaitingResponse = true
	sess.History = append(sess.History, Message{Role: "user", Content: userInput})

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.sessions, sess.ID)
		m.mu.Unlock()
		m.interactions.CancelAllFor(sess.ID)
	}()

	prompt := buildInitialPrompt(userInput, ectx.VariablesSnapshot(), ectx.Environment())

	for sess.active() || m.interactions.HasPendingFor(sess.ID) {
		sess.Turn++
		sess.LastInteraction = time.Now()

		resp, err := m.transport.SendPrompt(ctx, prompt)
		if err != nil {
			return nil, errs.Wrap(errs.PlannerUnavailable, "planner request failed", err)
		}
		sess.History = append(sess.History, Message{Role: "planner", Content: fmt.Sprintf("%v", resp)})

		outcome, followUp, done, err := m.processTurn(ctx, sess, resp)
		if err != nil {
			return nil, err
		}
		if done {
			return outcome, nil
		}
		prompt = followUp
	}

	summary := fmt.Sprintf("conversation %s ended after %d turns without an executable plan", sess.ID, sess.Turn)
	ectx.SetVariable("conversation_result", summary)
	return &Outcome{Summary: summary}, nil
}

// processTurn interprets a single planner response. It returns a non-nil
// Outcome with done=true when the conversation is finished, or a follow-up
// prompt with done=false to continue.
func (m *Manager) processTurn(ctx context.Context, sess *State, resp map[string]interface{}) (*Outcome, map[string]interface{}, bool, error) {
	if commands, ok := extractCommands(resp); ok {
		sess.AwaitingResponse = false
		sess.RequiresEnvUpdate = false
		return &Outcome{Commands: commands}, nil, true, nil
	}

	if req, ok := resp["environmental_data_request"]; ok {
		_ = req
		sess.RequiresEnvUpdate = true
		snap, err := m.env.CaptureEnvironment(ctx)
		if err != nil {
			return nil, nil, false, errs.Wrap(errs.AdapterFailure, "environment capture for conversation failed", err)
		}
		sess.RequiresEnvUpdate = false
		return nil, buildFollowUpPrompt(sess.History, map[string]interface{}{"environment": snap}), false, nil
	}

	if raw, ok := resp["user_interaction_request"]; ok {
		fields, _ := raw.(map[string]interface{})
		prompt, _ := fields["prompt"].(string)
		inputType := InputText
		if it, ok := fields["input_type"].(string); ok {
			inputType = InputType(it)
		}
		var options []string
		if opts, ok := fields["options"].([]interface{}); ok {
			for _, o := range opts {
				if s, ok := o.(string); ok {
					options = append(options, s)
				}
			}
		}
		urgent, _ := fields["urgent"].(bool)

		sess.AwaitingResponse = true
		interaction := m.interactions.Create(sess.ID, prompt, inputType, options, urgent)
		if m.ui != nil {
			m.ui.DisplayFeedback(prompt)
		}

		answer, err := m.interactions.WaitForResponse(ctx, interaction.InteractionID, time.Duration(m.cfg.InteractionTimeoutMs)*time.Millisecond)
		if err != nil {
			return nil, nil, false, err
		}
		sess.AwaitingResponse = false
		return nil, buildFollowUpPrompt(sess.History, map[string]interface{}{"answer": answer.Value}), false, nil
	}

	// No recognized shape: treat as a stall and end the conversation on the
	// next loop check rather than looping forever on garbage.
	sess.AwaitingResponse = false
	sess.RequiresEnvUpdate = false
	return nil, nil, false, nil
}

// extractCommands recognizes the "commands", "execution_plan.commands",
// "adapted_commands", "alternatives", and "recovery_plan" shapes, all of
// which denote an executable command set.
func extractCommands(resp map[string]interface{}) ([]burwell.Command, bool) {
	for _, key := range []string{"commands", "adapted_commands", "alternatives", "recovery_plan"} {
		if raw, ok := resp[key]; ok {
			if cmds, ok := toCommands(raw); ok {
				return cmds, true
			}
		}
	}
	if plan, ok := resp["execution_plan"].(map[string]interface{}); ok {
		if raw, ok := plan["commands"]; ok {
			if cmds, ok := toCommands(raw); ok {
				return cmds, true
			}
		}
	}
	return nil, false
}

// toCommands converts a loosely-typed planner payload into burwell.Commands.
func toCommands(raw interface{}) ([]burwell.Command, bool) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]burwell.Command, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		cmd := burwell.Command{Parameters: make(map[string]interface{})}
		if v, ok := fields["command"].(string); ok {
			cmd.Command = v
		} else if v, ok := fields["action"].(string); ok {
			cmd.Command = v
		}
		if v, ok := fields["parameters"].(map[string]interface{}); ok {
			cmd.Parameters = v
		}
		if v, ok := fields["description"].(string); ok {
			cmd.Description = v
		}
		if v, ok := fields["optional"].(bool); ok {
			cmd.Optional = v
		}
		out = append(out, cmd)
	}
	return out, true
}
