// Package main is the CLI entry point for the Burwell orchestrator: a thin
// wrapper that loads configuration, wires the subsystems together, and
// drives the facade either interactively or against a single script file.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/adapter"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/config"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/conversation"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/engine"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/events/bus"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/facade"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/feedback"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/planner"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/resource"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/script"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
)

// version is stamped at build time via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	var configPath, scriptPath string

	root := &cobra.Command{
		Use:     "burwell",
		Short:   "Burwell desktop automation orchestrator",
		Version: version,
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Start the orchestrator, optionally running a single script then exiting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator(configPath, scriptPath)
		},
	}
	run.Flags().StringVar(&configPath, "config", "", "path to config.json/yaml (default ./config.json)")
	run.Flags().StringVar(&scriptPath, "script", "", "run this script non-interactively, then exit")
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runOrchestrator(configPath, scriptPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return err
	}
	defer log.Sync()

	log.Info("starting burwell orchestrator", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	osAdapter := adapter.NewMockAdapter()

	stateStore := state.New(state.Config{
		MaxNesting:             cfg.Script.MaxNestingLevel,
		MaxCompletedExecutions: cfg.StateStore.MaxCompletedExecutions,
		ActivityLogSize:        cfg.StateStore.ActivityLogSize,
	}, log)

	monitor := resource.NewMonitor(resource.Thresholds{
		resource.FamilyFile:    cfg.Resource.MaxFileHandles,
		resource.FamilyWindow:  cfg.Resource.MaxWindowHandles,
		resource.FamilyProcess: cfg.Resource.MaxProcessHandles,
		resource.FamilyThread:  cfg.Resource.MaxThreads,
		resource.FamilyMutex:   cfg.Resource.MaxMutexes,
	})

	scripts, err := script.New(script.Config{
		ScriptsRoot:     cfg.Script.ScriptsRoot,
		MaxNestingLevel: cfg.Script.MaxNestingLevel,
		CachingEnabled:  cfg.Script.CachingEnabled,
	}, log)
	if err != nil {
		log.Error("failed to initialize script manager", zap.Error(err))
		return err
	}

	feedbackCtl := feedback.New(feedback.Config{
		EnvironmentCheckIntervalMs: cfg.Feedback.EnvironmentCheckIntervalMs,
		AdaptationThresholdMs:      cfg.Feedback.AdaptationThresholdMs,
		MaxEnvironmentHistorySize:  cfg.Feedback.MaxEnvironmentHistorySize,
	}, osAdapter, log)

	eng := engine.New(engine.Config{
		CommandSequenceDelayMs: cfg.Facade.CommandSequenceDelayMs,
		ExecutionTimeoutMs:     cfg.Engine.ExecutionTimeoutMs,
		ConfirmationRequired:   cfg.Facade.ConfirmationRequired,
	}, osAdapter, log)
	eng.SetScriptRunner(scripts)
	eng.SetMetricsSink(feedbackCtl)
	scripts.SetExecutor(eng)

	transport := plannerTransport(cfg.Planner, log)
	conv := conversation.New(conversation.Config{
		MaxTurns:             cfg.Conversation.MaxTurns,
		InteractionTimeoutMs: cfg.Conversation.UserInteractionTimeoutMs,
	}, transport, osAdapter, &stdoutUI{log: log}, log)

	evbus := bus.NewMemoryBus(512, log)

	f := facade.New(facade.Config{
		MaxConcurrentTasks:   cfg.Facade.MaxConcurrentTasks,
		MainLoopDelayMs:      cfg.Facade.MainLoopDelayMs,
		ErrorRecoveryEnabled: cfg.Facade.ErrorRecoveryEnabled,
		ErrorRecoveryDelayMs: cfg.Facade.ErrorRecoveryDelayMs,
		MaxErrorRetries:      cfg.Facade.MaxErrorRetries,
	}, stateStore, eng, scripts, conv, evbus, monitor, log)

	if cfg.Feedback.Enabled {
		feedbackCtl.Start(ctx)
		defer feedbackCtl.Stop()
	}

	f.Start(ctx)
	defer f.Stop()

	if scriptPath != "" {
		if errs := scripts.ValidateStatic(scriptPath); len(errs) > 0 {
			for _, e := range errs {
				log.Error("script validation failed", zap.Error(e))
			}
			return errs[0]
		}
		result, err := f.ExecuteScriptFile(ctx, scriptPath)
		if err != nil {
			log.Error("script execution failed", zap.Error(err))
			return err
		}
		log.Info("script execution finished", zap.Bool("success", result.Success))
		return nil
	}

	return interactiveLoop(ctx, f, log)
}

func interactiveLoop(ctx context.Context, f *facade.Facade, log *logger.Logger) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	inputs := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			inputs <- scanner.Text()
		}
		close(inputs)
	}()

	for {
		select {
		case <-quit:
			log.Info("shutting down burwell orchestrator")
			return nil
		case line, ok := <-inputs:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			result, err := f.ProcessUserRequest(ctx, line)
			if err != nil {
				log.Error("request failed", zap.Error(err))
				continue
			}
			log.Info("request finished", zap.Bool("success", result.Success))
		}
	}
}

func plannerTransport(cfg config.PlannerConfig, log *logger.Logger) conversation.PlannerTransport {
	if cfg.Endpoint == "" {
		log.Warn("no planner.endpoint configured, using scripted mock transport")
		return planner.NewMock()
	}
	return planner.NewHTTPTransport(cfg.Endpoint, cfg.TimeoutMs)
}

// stdoutUI is the UI collaborator used in interactive CLI mode.
type stdoutUI struct{ log *logger.Logger }

func (u *stdoutUI) DisplayFeedback(message string) {
	fmt.Println(message)
}
