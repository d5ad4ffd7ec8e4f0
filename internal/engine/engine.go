// Package engine implements the ExecutionEngine: interpretation of a JSON
// command sequence against a borrowed ExecutionContext, including variable
// substitution, loops, conditionals, and delegation to nested scripts.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/adapter"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// ScriptRunner is the subset of the ScriptManager the engine delegates
// script.* / EXECUTE_SCRIPT commands to.
type ScriptRunner interface {
	ExecuteScriptFile(ctx context.Context, path string, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error)
}

// Confirmer optionally gates command execution on user confirmation.
type Confirmer interface {
	RequireConfirmation(ctx context.Context, cmd burwell.Command) bool
}

// MetricsSink receives per-command success/failure counts, consumed by the
// feedback controller's success-rate tracking.
type MetricsSink interface {
	RecordCommandResult(command string, success bool)
}

// outputVariable is the reserved context variable a SET_OUTPUT command
// writes to; ExecuteCommandSequence surfaces it as the result's Output.
const outputVariable = "__execution_output"

// Config controls engine-wide timing and confirmation policy.
type Config struct {
	CommandSequenceDelayMs int
	ExecutionTimeoutMs     int
	ConfirmationRequired   bool
}

// Engine interprets command sequences against a borrowed ExecutionContext.
type Engine struct {
	adapter adapter.Adapter
	script  ScriptRunner
	confirm Confirmer
	metrics MetricsSink
	log     *logger.Logger
	cfg     Config
}

// New builds an Engine. script may be nil and wired later with SetScriptRunner.
func New(cfg Config, ad adapter.Adapter, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	if cfg.ExecutionTimeoutMs <= 0 {
		cfg.ExecutionTimeoutMs = 30000
	}
	return &Engine{adapter: ad, log: log, cfg: cfg}
}

func (e *Engine) SetScriptRunner(s ScriptRunner)   { e.script = s }
func (e *Engine) SetConfirmer(c Confirmer)         { e.confirm = c }
func (e *Engine) SetMetricsSink(m MetricsSink)     { e.metrics = m }

// ExecuteCommandSequence runs commands in order against ectx. It stops early
// on a non-optional failure or a loop-control status (BreakLoop/ContinueLoop)
// bubbling up from a nested command, matching the contract that
// control.CONDITIONAL_STOP's BreakLoop surfaces to "the enclosing WHILE or
// caller".
func (e *Engine) ExecuteCommandSequence(ctx context.Context, commands []burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error) {
	start := time.Now()
	executed := make([]string, 0, len(commands))

	for _, cmd := range commands {
		result, err := e.ExecuteCommand(ctx, cmd, ectx)
		if result != nil {
			executed = append(executed, result.ExecutedCommands...)
		}

		if err != nil {
			if cmd.Optional {
				ectx.AppendLog(fmt.Sprintf("optional command failed, continuing: %s: %v", cmd.Command, err))
				continue
			}
			return &burwell.TaskExecutionResult{
				ExecutionID:      ectx.RequestID,
				Status:           burwell.StatusFailed,
				Success:          false,
				ErrorMessage:     err.Error(),
				ExecutedCommands: executed,
				ExecutionTime:    time.Since(start),
			}, err
		}

		if result.Status == burwell.StatusBreakLoop || result.Status == burwell.StatusContinueLoop {
			return &burwell.TaskExecutionResult{
				ExecutionID:      ectx.RequestID,
				Status:           result.Status,
				Success:          true,
				ExecutedCommands: executed,
				ExecutionTime:    time.Since(start),
			}, nil
		}

		if cmd.DelayAfterMs > 0 {
			sleep(ctx, time.Duration(cmd.DelayAfterMs)*time.Millisecond)
		}
		if e.cfg.CommandSequenceDelayMs > 0 {
			sleep(ctx, time.Duration(e.cfg.CommandSequenceDelayMs)*time.Millisecond)
		}
	}

	output := ""
	if v, ok := ectx.GetVariable(outputVariable); ok {
		output = stringifyValue(v)
	}

	return &burwell.TaskExecutionResult{
		ExecutionID:      ectx.RequestID,
		Status:           burwell.StatusCompleted,
		Success:          true,
		Output:           output,
		ExecutedCommands: executed,
		ExecutionTime:    time.Since(start),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// ExecuteCommand substitutes variables, optionally requests confirmation,
// dispatches to the matching handler family, and records success metrics.
func (e *Engine) ExecuteCommand(ctx context.Context, cmd burwell.Command, ectx *state.ExecutionContext) (*burwell.TaskExecutionResult, error) {
	vars := ectx.VariablesSnapshot()
	substituted := cmd
	substituted.Parameters = SubstituteInParams(cmd.Parameters, vars)

	if e.confirm != nil && (e.cfg.ConfirmationRequired || requiresConfirmation(substituted)) {
		if !e.confirm.RequireConfirmation(ctx, substituted) {
			err := errs.New(errs.Cancelled, "user declined to confirm command: "+substituted.Command)
			return nil, err
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.ExecutionTimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.ExecutionTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	status, err := e.dispatch(runCtx, substituted, ectx)
	success := err == nil

	if e.metrics != nil {
		e.metrics.RecordCommandResult(substituted.Command, success)
	}

	if err != nil {
		if errs.Is(err, errs.TimedOut) {
			e.log.Warn("command timed out", zap.String("command", substituted.Command))
		}
		return nil, err
	}

	ectx.AppendLog(describeCommand(substituted))

	return &burwell.TaskExecutionResult{
		ExecutionID:      ectx.RequestID,
		Status:           status,
		Success:          true,
		ExecutedCommands: []string{substituted.Command},
	}, nil
}

func requiresConfirmation(cmd burwell.Command) bool {
	switch strings.ToLower(cmd.Command) {
	case "application.close", "system.run":
		return true
	default:
		return false
	}
}

func describeCommand(cmd burwell.Command) string {
	if cmd.Description != "" {
		return cmd.Description
	}
	return cmd.Command
}
