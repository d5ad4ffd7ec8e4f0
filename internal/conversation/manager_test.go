package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

type scriptedTransport struct {
	responses []map[string]interface{}
	calls     int
}

func (s *scriptedTransport) SendPrompt(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
	if s.calls >= len(s.responses) {
		return map[string]interface{}{"commands": []interface{}{}}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

type fakeEnv struct{ snap *burwell.EnvironmentSnapshot }

func (f *fakeEnv) CaptureEnvironment(context.Context) (*burwell.EnvironmentSnapshot, error) {
	return f.snap, nil
}

type fakeUI struct{ messages []string }

func (f *fakeUI) DisplayFeedback(msg string) { f.messages = append(f.messages, msg) }

func newTestContext() *state.ExecutionContext {
	return state.NewExecutionContext(burwell.NewRequestID(), "do the thing", 3)
}

func TestConverseReturnsCommandsOnFirstTurn(t *testing.T) {
	transport := &scriptedTransport{responses: []map[string]interface{}{
		{"commands": []interface{}{
			map[string]interface{}{"command": "window.focus", "parameters": map[string]interface{}{"title": "Notepad"}},
		}},
	}}
	m := New(Config{}, transport, &fakeEnv{}, &fakeUI{}, nil)

	outcome, err := m.Converse(context.Background(), newTestContext(), "focus notepad")
	require.NoError(t, err)
	require.Len(t, outcome.Commands, 1)
	assert.Equal(t, "window.focus", outcome.Commands[0].Command)
}

func TestConverseResolvesEnvironmentalDataRequest(t *testing.T) {
	snap := &burwell.EnvironmentSnapshot{Windows: []burwell.Window{{Title: "Notepad"}}}
	transport := &scriptedTransport{responses: []map[string]interface{}{
		{"environmental_data_request": map[string]interface{}{"reason": "need windows"}},
		{"commands": []interface{}{map[string]interface{}{"command": "window.focus"}}},
	}}
	m := New(Config{}, transport, &fakeEnv{snap: snap}, &fakeUI{}, nil)

	outcome, err := m.Converse(context.Background(), newTestContext(), "focus notepad")
	require.NoError(t, err)
	require.Len(t, outcome.Commands, 1)
	assert.Equal(t, 2, transport.calls)
}

func TestConverseResolvesUserInteractionRequest(t *testing.T) {
	transport := &scriptedTransport{responses: []map[string]interface{}{
		{"user_interaction_request": map[string]interface{}{
			"prompt":     "which window?",
			"input_type": "choice",
			"options":    []interface{}{"Notepad", "Calc"},
		}},
		{"commands": []interface{}{map[string]interface{}{"command": "window.focus"}}},
	}}
	ui := &fakeUI{}
	m := New(Config{}, transport, &fakeEnv{}, ui, nil)

	var interactionID string
	done := make(chan struct{})
	go func() {
		defer close(done)
		outcome, err := m.Converse(context.Background(), newTestContext(), "focus a window")
		require.NoError(t, err)
		require.Len(t, outcome.Commands, 1)
	}()

	assert.Eventually(t, func() bool {
		m.interactions.mu.RLock()
		defer m.interactions.mu.RUnlock()
		for id := range m.interactions.pending {
			interactionID = id
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	require.NoError(t, m.ProvideResponse(interactionID, "Notepad"))
	<-done

	assert.Contains(t, ui.messages, "which window?")
}

func TestConverseTerminatesAtMaxTurns(t *testing.T) {
	transport := &scriptedTransport{responses: []map[string]interface{}{
		{"environmental_data_request": map[string]interface{}{}},
		{"environmental_data_request": map[string]interface{}{}},
	}}
	m := New(Config{MaxTurns: 2}, transport, &fakeEnv{snap: &burwell.EnvironmentSnapshot{}}, &fakeUI{}, nil)

	ectx := newTestContext()
	outcome, err := m.Converse(context.Background(), ectx, "stall forever")
	require.NoError(t, err)
	assert.Nil(t, outcome.Commands)
	assert.Contains(t, outcome.Summary, "ended after")

	v, ok := ectx.GetVariable("conversation_result")
	require.True(t, ok)
	assert.Equal(t, outcome.Summary, v)
}
