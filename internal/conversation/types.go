// Package conversation implements the ConversationManager: multi-turn
// dialogues with the planner to request missing environmental data, prompt
// the user, or recover from command failure.
package conversation

import (
	"time"

	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is the per-conversation state machine described in the design:
// a turn counter bounded by MaxTurns, a shared working context, and the two
// flags that keep the conversation alive between turns.
type State struct {
	ID                string
	History           []Message
	Context           map[string]interface{}
	Turn              int
	MaxTurns          int
	AwaitingResponse  bool
	RequiresEnvUpdate bool
	LastInteraction   time.Time
	RequestID         burwell.RequestID
}

func newState(id string, requestID burwell.RequestID, maxTurns int) *State {
	return &State{
		ID:              id,
		Context:         make(map[string]interface{}),
		MaxTurns:        maxTurns,
		LastInteraction: time.Now(),
		RequestID:       requestID,
	}
}

// active reports whether the conversation's termination rule still holds:
// turn < max_turns AND (awaiting_response OR requires_env_update). The
// pending-interaction half of the rule is evaluated by the Manager, which
// also knows about the interaction store.
func (s *State) active() bool {
	return s.Turn < s.MaxTurns && (s.AwaitingResponse || s.RequiresEnvUpdate)
}

// InputType enumerates the kinds of value a user interaction request expects back.
type InputType string

const (
	InputText         InputType = "text"
	InputChoice       InputType = "choice"
	InputPassword     InputType = "password"
	InputFilePath     InputType = "file_path"
	InputConfirmation InputType = "confirmation"
)

// InteractionRequest is surfaced to the UI collaborator when the planner asks
// the user a question mid-conversation.
type InteractionRequest struct {
	InteractionID  string
	ConversationID string
	Prompt         string
	InputType      InputType
	Options        []string
	RequestTime    time.Time
	TimeoutTime    time.Time
	Urgent         bool
}

// InteractionAnswer is the validated response to an InteractionRequest.
type InteractionAnswer struct {
	Value     interface{}
	Timestamp time.Time
	TimedOut  bool
}

// Outcome is what Converse returns once the planner has produced an
// executable command set or the conversation has finalized without one.
type Outcome struct {
	Commands []burwell.Command
	Summary  string
}
