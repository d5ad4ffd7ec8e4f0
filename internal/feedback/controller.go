// Package feedback implements the FeedbackController: a timer-driven
// monitor that snapshots the environment, computes deltas against the
// previous snapshot, and writes adaptation hints back into the active
// request's variables.
package feedback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/adapter"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// Config controls monitoring cadence and retention.
type Config struct {
	EnvironmentCheckIntervalMs int
	AdaptationThresholdMs      int
	MaxEnvironmentHistorySize  int
}

// Controller is the continuous feedback loop. Exactly one background
// goroutine runs the monitoring loop when started.
type Controller struct {
	ad  adapter.Adapter
	cfg Config
	log *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running int32

	stateMu      sync.Mutex
	lastSnapshot *burwell.EnvironmentSnapshot
	history      []burwell.EnvironmentSnapshot

	targetMu sync.Mutex
	target   *state.ExecutionContext

	rulesMu sync.Mutex
	rules   []AdaptationRule

	successMu sync.Mutex
	successes map[string]int
	failures  map[string]int
}

// New builds a Controller. Defaults are applied for zero-valued Config fields.
func New(cfg Config, ad adapter.Adapter, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Default()
	}
	if cfg.EnvironmentCheckIntervalMs <= 0 {
		cfg.EnvironmentCheckIntervalMs = 1000
	}
	if cfg.MaxEnvironmentHistorySize <= 0 {
		cfg.MaxEnvironmentHistorySize = 100
	}
	return &Controller{
		ad:        ad,
		cfg:       cfg,
		log:       log,
		successes: make(map[string]int),
		failures:  make(map[string]int),
	}
}

// Attach binds ctx as the active plan's context that adaptation hints are
// written into. Passing nil detaches.
func (c *Controller) Attach(ctx *state.ExecutionContext) {
	c.targetMu.Lock()
	c.target = ctx
	c.targetMu.Unlock()
}

// Start launches the monitoring goroutine. It is a no-op if already running.
func (c *Controller) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return
	}
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.monitorLoop(ctx)
}

// Stop signals the monitoring goroutine and waits for it to exit.
func (c *Controller) Stop() {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
}

// IsMonitoringActive reports whether the background loop is running.
func (c *Controller) IsMonitoringActive() bool {
	return atomic.LoadInt32(&c.running) == 1
}

func (c *Controller) monitorLoop(ctx context.Context) {
	defer c.wg.Done()
	interval := time.Duration(c.cfg.EnvironmentCheckIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	snap, err := c.ad.CaptureEnvironment(ctx)
	if err != nil {
		c.log.Warn("environment capture failed", zap.Error(err))
		return
	}

	c.stateMu.Lock()
	prev := c.lastSnapshot
	c.lastSnapshot = snap
	c.history = append(c.history, *snap)
	if len(c.history) > c.cfg.MaxEnvironmentHistorySize {
		c.history = c.history[len(c.history)-c.cfg.MaxEnvironmentHistorySize:]
	}
	c.stateMu.Unlock()

	if prev == nil {
		return
	}

	delta := ComputeDelta(prev, snap)
	if !delta.Significant() {
		return
	}

	c.processChange(delta)
}

func (c *Controller) processChange(delta Delta) {
	c.targetMu.Lock()
	target := c.target
	c.targetMu.Unlock()
	if target == nil {
		return
	}

	applied := c.evaluateRules(delta)
	for _, rule := range applied {
		applyRule(rule, target)
	}
}

// GetLastEnvironmentSnapshot returns the most recently captured snapshot, if any.
func (c *Controller) GetLastEnvironmentSnapshot() *burwell.EnvironmentSnapshot {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.lastSnapshot
}

// GetEnvironmentHistory returns a snapshot of the bounded history, oldest first.
func (c *Controller) GetEnvironmentHistory() []burwell.EnvironmentSnapshot {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	out := make([]burwell.EnvironmentSnapshot, len(c.history))
	copy(out, c.history)
	return out
}

// ClearEnvironmentHistory empties the history buffer.
func (c *Controller) ClearEnvironmentHistory() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.history = nil
}
