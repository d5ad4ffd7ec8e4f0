// Package facade implements the OrchestratorFacade: the single entry point
// that accepts user requests and script/plan submissions, schedules their
// execution against a bounded concurrency budget, drives error recovery, and
// publishes lifecycle events in the documented order.
package facade

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/conversation"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/events/bus"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/resource"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// CommandParser optionally turns raw user input directly into a command set
// without opening a conversation, e.g. a fixed-grammar or regex front end
// tried before falling back to the planner.
type CommandParser interface {
	Parse(ctx context.Context, input string) ([]burwell.Command, bool, error)
}

// Conversationalist is the subset of conversation.Manager the facade drives
// a request through when no parser matches and no commands are already known.
type Conversationalist interface {
	Converse(ctx context.Context, ectx *state.ExecutionContext, userInput string) (*conversation.Outcome, error)
}

// ScriptExecutor is the subset of script.Manager used to run a script file
// directly, bypassing command-sequence planning.
type ScriptExecutor interface {
	ExecuteScriptFile(ctx context.Context, path string, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error)
}

// CommandSequencer is the subset of engine.Engine used to run an already
// resolved command set.
type CommandSequencer interface {
	ExecuteCommandSequence(ctx context.Context, commands []burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error)
}

// Config controls scheduling and error recovery.
type Config struct {
	MaxConcurrentTasks   int
	MainLoopDelayMs      int
	ErrorRecoveryEnabled bool
	ErrorRecoveryDelayMs int
	MaxErrorRetries      int
}

// Facade is the OrchestratorFacade. One worker goroutine pulls an unbounded
// FIFO of queued requests, holding each back with a main_loop_delay_ms
// sleep-and-recheck whenever the StateStore's active count is already at the
// configured concurrency cap; each admitted request then runs in its own
// goroutine through parse -> plan -> execute(-with-recovery) -> publish.
type Facade struct {
	cfg Config
	log *logger.Logger

	store     *state.Store
	engine    CommandSequencer
	scripts   ScriptExecutor
	conv      Conversationalist
	evbus     bus.Bus
	resources *resource.Monitor
	parser    CommandParser

	queue *requestQueue

	runCtx    context.Context
	cancelRun context.CancelFunc

	running   int32
	paused    int32
	emergency int32
	workerWg  sync.WaitGroup
	inflight  sync.WaitGroup
}

// New builds a Facade with no CommandParser. Until SetCommandParser wires
// one, requests skip the parse step and go to a "parsed_commands" variable,
// if set, and otherwise to the conversation manager.
func New(cfg Config, store *state.Store, eng CommandSequencer, scripts ScriptExecutor, conv Conversationalist, evbus bus.Bus, resources *resource.Monitor, log *logger.Logger) *Facade {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 4
	}
	if cfg.MainLoopDelayMs <= 0 {
		cfg.MainLoopDelayMs = 50
	}
	if cfg.ErrorRecoveryDelayMs <= 0 {
		cfg.ErrorRecoveryDelayMs = 2000
	}
	if cfg.MaxErrorRetries <= 0 {
		cfg.MaxErrorRetries = 3
	}
	if log == nil {
		log = logger.Default()
	}
	return &Facade{
		cfg:       cfg,
		log:       log,
		store:     store,
		engine:    eng,
		scripts:   scripts,
		conv:      conv,
		evbus:     evbus,
		resources: resources,
		queue:     newRequestQueue(),
	}
}

// SetCommandParser wires an optional fast-path parser tried before the
// conversation manager.
func (f *Facade) SetCommandParser(p CommandParser) { f.parser = p }

// Start launches the worker goroutine. Safe to call once; a second call
// before Stop is a no-op.
func (f *Facade) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&f.running, 0, 1) {
		return
	}
	f.runCtx, f.cancelRun = context.WithCancel(ctx)
	atomic.StoreInt32(&f.emergency, 0)
	f.workerWg.Add(1)
	go f.workerLoop()
}

// Stop drains the queue, cancels in-flight work, and waits for the worker
// and all in-flight requests to exit.
func (f *Facade) Stop() {
	if !atomic.CompareAndSwapInt32(&f.running, 1, 0) {
		return
	}
	f.queue.Close()
	if f.cancelRun != nil {
		f.cancelRun()
	}
	f.workerWg.Wait()
	f.inflight.Wait()
}

// Pause stops the worker from admitting new requests; in-flight requests
// continue to completion.
func (f *Facade) Pause() { atomic.StoreInt32(&f.paused, 1) }

// Resume re-enables admission of new requests after Pause.
func (f *Facade) Resume() { atomic.StoreInt32(&f.paused, 0) }

// EmergencyStop cancels every in-flight request's context, fails every
// request still sitting in the queue, and raises EMERGENCY_STOP. The facade
// must be restarted (Stop then Start) to process further work.
func (f *Facade) EmergencyStop() {
	atomic.StoreInt32(&f.emergency, 1)
	for _, id := range f.queue.Drain() {
		f.finishWithError(id, errs.New(errs.EmergencyStop, "request discarded by emergency stop"))
	}
	if f.cancelRun != nil {
		f.cancelRun()
	}
	if f.evbus != nil {
		f.evbus.Raise(context.Background(), &burwell.EventData{Type: burwell.EventEmergencyStop, Timestamp: time.Now()})
	}
}

// ProcessUserRequestAsync creates a request, enqueues it, and returns
// immediately with its id; the caller polls GetResult.
func (f *Facade) ProcessUserRequestAsync(userInput string) burwell.RequestID {
	id := f.store.CreateRequest(userInput)
	f.raise(burwell.EventUserRequest, id, userInput)
	f.queue.Enqueue(id)
	return id
}

// ProcessUserRequest creates a request and runs it synchronously to
// completion, for callers that do not need the queue's concurrency cap.
func (f *Facade) ProcessUserRequest(ctx context.Context, userInput string) (*burwell.TaskExecutionResult, error) {
	id := f.store.CreateRequest(userInput)
	f.raise(burwell.EventUserRequest, id, userInput)
	f.processRequestInternal(ctx, id, func(ectx *state.ExecutionContext) ([]burwell.Command, error) {
		return f.resolveCommands(ctx, ectx)
	})
	result, _ := f.store.GetResult(id)
	if result != nil && !result.Success {
		return result, errs.New(errs.Internal, result.ErrorMessage)
	}
	return result, nil
}

// ExecutePlan runs an already-built plan synchronously, bypassing parsing
// and conversation entirely.
func (f *Facade) ExecutePlan(ctx context.Context, plan burwell.Plan) (*burwell.TaskExecutionResult, error) {
	id := f.store.CreateRequest("<plan>")
	f.raise(burwell.EventUserRequest, id, "execute_plan")
	f.processRequestInternal(ctx, id, func(ectx *state.ExecutionContext) ([]burwell.Command, error) {
		for name, v := range plan.Variables {
			ectx.SetVariable(name, v)
		}
		return plan.Commands, nil
	})
	result, _ := f.store.GetResult(id)
	if result != nil && !result.Success {
		return result, errs.New(errs.Internal, result.ErrorMessage)
	}
	return result, nil
}

// ExecuteScriptFile loads and runs a script file synchronously, bypassing
// the command-sequence pipeline's planning stage.
func (f *Facade) ExecuteScriptFile(ctx context.Context, path string) (*burwell.TaskExecutionResult, error) {
	if f.scripts == nil {
		return nil, errs.New(errs.Internal, "facade has no script executor wired")
	}
	id := f.store.CreateRequest("<script:" + path + ">")
	f.raise(burwell.EventUserRequest, id, path)

	if f.resources != nil {
		if err := f.resources.CheckThresholds(); err != nil {
			f.finishWithError(id, err)
			result, _ := f.store.GetResult(id)
			return result, err
		}
	}

	if err := f.store.MarkActive(id); err != nil {
		return nil, err
	}
	f.raise(burwell.EventExecutionStarted, id, path)

	var result *burwell.TaskExecutionResult
	var runErr error
	err := f.store.WithContext(id, func(ectx *state.ExecutionContext) error {
		result, runErr = f.scripts.ExecuteScriptFile(ctx, path, ectx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.publish(id, result, runErr)
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

// GetResult returns the published result for id, if execution has finished.
func (f *Facade) GetResult(id burwell.RequestID) (*burwell.TaskExecutionResult, bool) {
	return f.store.GetResult(id)
}

// Cancel marks a queued-but-not-yet-started request's context as cancelled
// and removes it from the queue if it is still waiting there.
func (f *Facade) Cancel(id burwell.RequestID) error {
	f.queue.Remove(id)
	return f.store.WithContext(id, func(ectx *state.ExecutionContext) error {
		return ectx.SetStatus(burwell.StatusCancelled)
	})
}

// AddEventListener registers fn on the underlying event bus.
func (f *Facade) AddEventListener(fn bus.Listener) bus.Subscription {
	return f.evbus.AddListener(fn)
}

// SystemStatus summarizes the facade's current load for diagnostics.
type SystemStatus struct {
	Idle          bool
	QueueLength   int
	ActiveCount   int
	Paused        bool
	EmergencyStop bool
	Stats         state.Stats
	Resources     resource.Snapshot
}

// Status reports the facade's current load and lifetime counters.
func (f *Facade) Status() SystemStatus {
	st := SystemStatus{
		QueueLength:   f.queue.Len(),
		ActiveCount:   f.store.ActiveCount(),
		Paused:        atomic.LoadInt32(&f.paused) == 1,
		EmergencyStop: atomic.LoadInt32(&f.emergency) == 1,
		Stats:         f.store.Stats(),
	}
	if f.resources != nil {
		st.Resources = f.resources.Dump()
	}
	st.Idle = st.QueueLength == 0 && st.ActiveCount == 0
	return st
}

// IsIdle reports whether the queue is empty and no request is in flight.
func (f *Facade) IsIdle() bool {
	return f.queue.Len() == 0 && f.store.ActiveCount() == 0
}

// RecentActivity returns the bounded process-wide activity log.
func (f *Facade) RecentActivity() []string {
	return f.store.RecentActivity()
}

func (f *Facade) workerLoop() {
	defer f.workerWg.Done()
	delay := time.Duration(f.cfg.MainLoopDelayMs) * time.Millisecond

	for {
		if atomic.LoadInt32(&f.emergency) == 1 {
			return
		}
		if atomic.LoadInt32(&f.paused) == 1 {
			if !sleepOrDone(f.runCtx, delay) {
				return
			}
			continue
		}

		id, ok := f.queue.Dequeue()
		if !ok {
			return
		}

		for f.store.ActiveCount() >= f.cfg.MaxConcurrentTasks {
			if !sleepOrDone(f.runCtx, delay) {
				return
			}
			if atomic.LoadInt32(&f.emergency) == 1 {
				return
			}
		}

		f.inflight.Add(1)
		go func(id burwell.RequestID) {
			defer f.inflight.Done()
			f.processRequestInternal(f.runCtx, id, func(ectx *state.ExecutionContext) ([]burwell.Command, error) {
				return f.resolveCommands(f.runCtx, ectx)
			})
		}(id)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveCommands implements the plan-generation stage: a wired parser is
// tried first, then a previously parsed "parsed_commands" variable, and
// finally a full conversation with the planner.
func (f *Facade) resolveCommands(ctx context.Context, ectx *state.ExecutionContext) ([]burwell.Command, error) {
	if f.parser != nil {
		if cmds, ok, err := f.parser.Parse(ctx, ectx.OriginalRequest); err != nil {
			return nil, errs.Wrap(errs.Internal, "command parser failed", err)
		} else if ok {
			ectx.SetVariable("parsed_commands", cmds)
			return cmds, nil
		}
	}

	if v, ok := ectx.GetVariable("parsed_commands"); ok {
		if cmds, ok := v.([]burwell.Command); ok && len(cmds) > 0 {
			return cmds, nil
		}
	}

	if f.conv == nil {
		return nil, errs.New(errs.Internal, "facade has no conversation manager wired")
	}
	outcome, err := f.conv.Converse(ctx, ectx, ectx.OriginalRequest)
	if err != nil {
		return nil, err
	}
	if len(outcome.Commands) == 0 {
		return nil, errs.New(errs.InvalidPlan, "conversation ended without an executable command set")
	}
	return outcome.Commands, nil
}

// processRequestInternal runs the full parse -> plan -> execute(-with-
// recovery) -> publish pipeline for an already-created request.
func (f *Facade) processRequestInternal(ctx context.Context, id burwell.RequestID, plan func(*state.ExecutionContext) ([]burwell.Command, error)) {
	if f.resources != nil {
		if err := f.resources.CheckThresholds(); err != nil {
			f.finishWithError(id, err)
			return
		}
	}

	if err := f.store.MarkActive(id); err != nil {
		f.log.Error("mark active failed", zap.String("requestId", string(id)), zap.Error(err))
		return
	}
	f.raise(burwell.EventExecutionStarted, id, "")

	var result *burwell.TaskExecutionResult
	var runErr error
	err := f.store.WithContext(id, func(ectx *state.ExecutionContext) error {
		commands, perr := plan(ectx)
		if perr != nil {
			runErr = perr
			return nil
		}
		result, runErr = f.executeWithErrorRecovery(ctx, ectx, commands)
		return nil
	})
	if err != nil {
		f.log.Error("with context failed", zap.String("requestId", string(id)), zap.Error(err))
		return
	}
	f.publish(id, result, runErr)
}

// executeWithErrorRecovery runs commands once and, on failure, retries
// through attempt_error_recovery up to MaxErrorRetries, sleeping
// ErrorRecoveryDelayMs between attempts.
func (f *Facade) executeWithErrorRecovery(ctx context.Context, ectx *state.ExecutionContext, commands []burwell.Command) (*burwell.TaskExecutionResult, error) {
	result, err := f.engine.ExecuteCommandSequence(ctx, commands, ectx)
	f.raiseCommandEvents(ectx.RequestID, result)
	if err != nil {
		f.raise(burwell.EventErrorOccurred, ectx.RequestID, err.Error())
	}

	if err == nil || !f.cfg.ErrorRecoveryEnabled {
		return result, err
	}

	for attempt := 1; attempt <= f.cfg.MaxErrorRetries; attempt++ {
		recovered, rerr := f.attemptErrorRecovery(ctx, ectx, err)
		if rerr != nil {
			return result, err
		}

		if !sleepOrDone(ctx, time.Duration(f.cfg.ErrorRecoveryDelayMs)*time.Millisecond) {
			return result, ctx.Err()
		}

		result, err = f.engine.ExecuteCommandSequence(ctx, recovered, ectx)
		f.raiseCommandEvents(ectx.RequestID, result)
		if err == nil {
			return result, nil
		}
		f.raise(burwell.EventErrorOccurred, ectx.RequestID, err.Error())
	}

	return result, err
}

// attemptErrorRecovery opens a recovery conversation describing the failure
// and expects the planner to answer with a "recovery_plan" command set.
func (f *Facade) attemptErrorRecovery(ctx context.Context, ectx *state.ExecutionContext, cause error) ([]burwell.Command, error) {
	if f.conv == nil {
		return nil, errs.New(errs.Internal, "facade has no conversation manager wired for error recovery")
	}
	request := "recover from execution error: " + cause.Error()
	outcome, err := f.conv.Converse(ctx, ectx, request)
	if err != nil {
		return nil, err
	}
	if len(outcome.Commands) == 0 {
		return nil, errs.New(errs.InvalidPlan, "recovery conversation produced no commands")
	}
	return outcome.Commands, nil
}

func (f *Facade) raiseCommandEvents(id burwell.RequestID, result *burwell.TaskExecutionResult) {
	if result == nil {
		return
	}
	for _, cmd := range result.ExecutedCommands {
		f.raise(burwell.EventCommandExecuted, id, cmd)
	}
}

func (f *Facade) publish(id burwell.RequestID, result *burwell.TaskExecutionResult, runErr error) {
	if result == nil {
		result = &burwell.TaskExecutionResult{ExecutionID: id, Status: burwell.StatusFailed}
	}
	if runErr != nil {
		result.Success = false
		result.Status = burwell.StatusFailed
		result.ErrorMessage = runErr.Error()
	}

	if err := f.store.MarkComplete(id, result); err != nil {
		f.log.Error("mark complete failed", zap.String("requestId", string(id)), zap.Error(err))
	}

	if result.Success {
		f.raise(burwell.EventTaskCompleted, id, result.Output)
	} else {
		f.raise(burwell.EventTaskFailed, id, result.ErrorMessage)
	}
}

// finishWithError publishes a failed result for a request that never
// reached execution (refused by a resource threshold or discarded by
// emergency stop).
func (f *Facade) finishWithError(id burwell.RequestID, err error) {
	result := &burwell.TaskExecutionResult{
		ExecutionID:  id,
		Status:       burwell.StatusFailed,
		Success:      false,
		ErrorMessage: err.Error(),
	}
	f.raise(burwell.EventErrorOccurred, id, err.Error())
	if markErr := f.store.MarkComplete(id, result); markErr != nil {
		f.log.Error("mark complete failed", zap.String("requestId", string(id)), zap.Error(markErr))
	}
	f.raise(burwell.EventTaskFailed, id, err.Error())
}

func (f *Facade) raise(t burwell.OrchestratorEvent, id burwell.RequestID, data string) {
	if f.evbus == nil {
		return
	}
	f.evbus.Raise(context.Background(), &burwell.EventData{
		Type:      t,
		Data:      data,
		RequestID: id,
		Timestamp: time.Now(),
	})
}
