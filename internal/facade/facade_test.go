package facade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/conversation"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/events/bus"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/resource"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

type fakeSequencer struct {
	mu      sync.Mutex
	calls   int
	failFor int // fail this many calls before succeeding
	fn      func(commands []burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error)
}

func (f *fakeSequencer) ExecuteCommandSequence(_ context.Context, commands []burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(commands, ectx)
	}
	if call <= f.failFor {
		return &burwell.TaskExecutionResult{ExecutionID: ectx.RequestID, Status: burwell.StatusFailed},
			errs.New(errs.AdapterFailure, "simulated failure")
	}
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.Command
	}
	return &burwell.TaskExecutionResult{
		ExecutionID:      ectx.RequestID,
		Status:           burwell.StatusCompleted,
		Success:          true,
		ExecutedCommands: names,
	}, nil
}

type fakeConversationalist struct {
	outcome *conversation.Outcome
	err     error
}

func (f *fakeConversationalist) Converse(context.Context, *state.ExecutionContext, string) (*conversation.Outcome, error) {
	return f.outcome, f.err
}

func newTestFacade(t *testing.T, seq CommandSequencer, conv Conversationalist) (*Facade, *bus.MemoryBus) {
	t.Helper()
	store := state.New(state.Config{}, nil)
	evbus := bus.NewMemoryBus(128, nil)
	cfg := Config{MaxConcurrentTasks: 2, MainLoopDelayMs: 5, ErrorRecoveryEnabled: true, ErrorRecoveryDelayMs: 5, MaxErrorRetries: 2}
	f := New(cfg, store, seq, nil, conv, evbus, nil, nil)
	return f, evbus
}

func TestProcessUserRequestSynchronousSuccess(t *testing.T) {
	seq := &fakeSequencer{}
	conv := &fakeConversationalist{outcome: &conversation.Outcome{Commands: []burwell.Command{{Command: "window.focus"}}}}
	f, evbus := newTestFacade(t, seq, conv)

	result, err := f.ProcessUserRequest(context.Background(), "focus notepad")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"window.focus"}, result.ExecutedCommands)

	counts := evbus.CountByType()
	assert.Equal(t, int64(1), counts[burwell.EventUserRequest])
	assert.Equal(t, int64(1), counts[burwell.EventExecutionStarted])
	assert.Equal(t, int64(1), counts[burwell.EventTaskCompleted])
	assert.Equal(t, int64(0), counts[burwell.EventTaskFailed])
}

func TestProcessUserRequestRecoversFromFailure(t *testing.T) {
	seq := &fakeSequencer{failFor: 1}
	conv := &fakeConversationalist{outcome: &conversation.Outcome{Commands: []burwell.Command{{Command: "window.focus"}}}}
	f, evbus := newTestFacade(t, seq, conv)

	result, err := f.ProcessUserRequest(context.Background(), "focus notepad")
	require.NoError(t, err)
	assert.True(t, result.Success)

	counts := evbus.CountByType()
	assert.Equal(t, int64(1), counts[burwell.EventErrorOccurred])
	assert.Equal(t, int64(1), counts[burwell.EventTaskCompleted])
}

func TestProcessUserRequestGivesUpAfterMaxRetries(t *testing.T) {
	seq := &fakeSequencer{failFor: 100}
	conv := &fakeConversationalist{outcome: &conversation.Outcome{Commands: []burwell.Command{{Command: "window.focus"}}}}
	f, evbus := newTestFacade(t, seq, conv)

	result, err := f.ProcessUserRequest(context.Background(), "focus notepad")
	require.Error(t, err)
	assert.False(t, result.Success)

	counts := evbus.CountByType()
	assert.Equal(t, int64(1), counts[burwell.EventTaskFailed])
	assert.Equal(t, int64(3), counts[burwell.EventErrorOccurred]) // one initial + 2 retries
}

func TestExecutePlanBypassesConversation(t *testing.T) {
	seq := &fakeSequencer{}
	f, _ := newTestFacade(t, seq, nil)

	plan := burwell.Plan{Commands: []burwell.Command{{Command: "mouse.click"}}, Variables: map[string]interface{}{"x": 10}}
	result, err := f.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, seq.calls)
}

func TestProcessUserRequestAsyncAndGetResult(t *testing.T) {
	seq := &fakeSequencer{}
	conv := &fakeConversationalist{outcome: &conversation.Outcome{Commands: []burwell.Command{{Command: "window.focus"}}}}
	f, _ := newTestFacade(t, seq, conv)

	f.Start(context.Background())
	defer f.Stop()

	id := f.ProcessUserRequestAsync("focus notepad")

	require.Eventually(t, func() bool {
		_, ok := f.GetResult(id)
		return ok
	}, time.Second, 5*time.Millisecond)

	result, ok := f.GetResult(id)
	require.True(t, ok)
	assert.True(t, result.Success)
}

func TestIsIdleReflectsQueueAndActiveCount(t *testing.T) {
	seq := &fakeSequencer{}
	conv := &fakeConversationalist{outcome: &conversation.Outcome{Commands: []burwell.Command{{Command: "window.focus"}}}}
	f, _ := newTestFacade(t, seq, conv)

	assert.True(t, f.IsIdle())

	f.Start(context.Background())
	defer f.Stop()

	id := f.ProcessUserRequestAsync("focus notepad")
	require.Eventually(t, func() bool {
		_, ok := f.GetResult(id)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.True(t, f.IsIdle())
}

func TestResourceThresholdRefusesExecution(t *testing.T) {
	seq := &fakeSequencer{}
	conv := &fakeConversationalist{outcome: &conversation.Outcome{Commands: []burwell.Command{{Command: "window.focus"}}}}
	store := state.New(state.Config{}, nil)
	evbus := bus.NewMemoryBus(128, nil)
	monitor := resource.NewMonitor(resource.Thresholds{resource.FamilyFile: 1})
	_, err := monitor.Acquire(resource.FamilyFile, "already-open", func() {})
	require.NoError(t, err)

	f := New(Config{MaxConcurrentTasks: 2, MainLoopDelayMs: 5}, store, seq, nil, conv, evbus, monitor, nil)

	result, err := f.ProcessUserRequest(context.Background(), "focus notepad")
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 0, seq.calls)

	counts := evbus.CountByType()
	assert.Equal(t, int64(0), counts[burwell.EventExecutionStarted])
	assert.Equal(t, int64(1), counts[burwell.EventTaskFailed])
}

func TestEmergencyStopDiscardsQueuedRequests(t *testing.T) {
	seq := &fakeSequencer{}
	conv := &fakeConversationalist{outcome: &conversation.Outcome{Commands: []burwell.Command{{Command: "window.focus"}}}}
	f, _ := newTestFacade(t, seq, conv)

	f.Pause() // keep the worker from draining the queue before we stop it
	f.Start(context.Background())
	id := f.ProcessUserRequestAsync("focus notepad")

	f.EmergencyStop()

	result, ok := f.GetResult(id)
	require.True(t, ok)
	assert.False(t, result.Success)
	assert.Contains(t, result.ErrorMessage, "emergency stop")
	f.Stop()
}
