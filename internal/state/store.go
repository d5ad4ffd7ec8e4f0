package state

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// Config controls retention and sizing for a Store.
type Config struct {
	MaxNesting             int
	MaxCompletedExecutions int
	ActivityLogSize        int
}

// Store owns every ExecutionContext and completed TaskExecutionResult in the
// process. Two independent reader-writer locks guard contexts and results so
// a reader of one never blocks a writer of the other.
type Store struct {
	log *logger.Logger
	cfg Config

	contextsMu sync.RWMutex
	contexts   map[burwell.RequestID]*ExecutionContext

	resultsMu   sync.RWMutex
	results     map[burwell.RequestID]*burwell.TaskExecutionResult
	resultOrder []burwell.RequestID // oldest first, by mark_complete order

	activity *activityLog

	totalCreated   int64
	totalCompleted int64
	totalFailed    int64
}

// New builds an empty Store.
func New(cfg Config, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxNesting <= 0 {
		cfg.MaxNesting = 3
	}
	if cfg.MaxCompletedExecutions <= 0 {
		cfg.MaxCompletedExecutions = 1000
	}
	if cfg.ActivityLogSize <= 0 {
		cfg.ActivityLogSize = 256
	}
	return &Store{
		log:      log,
		cfg:      cfg,
		contexts: make(map[burwell.RequestID]*ExecutionContext),
		results:  make(map[burwell.RequestID]*burwell.TaskExecutionResult),
		activity: newActivityLog(cfg.ActivityLogSize),
	}
}

// CreateRequest allocates a new id, creates its context in StatusPending, and
// registers it in the active map. It emits nothing on the event bus; callers
// do that once they decide to act on the request.
func (s *Store) CreateRequest(originalInput string) burwell.RequestID {
	id := burwell.NewRequestID()
	ctx := NewExecutionContext(id, originalInput, s.cfg.MaxNesting)

	s.contextsMu.Lock()
	s.contexts[id] = ctx
	s.contextsMu.Unlock()

	atomic.AddInt64(&s.totalCreated, 1)
	s.activity.push("created request " + string(id))
	return id
}

// lookup returns the context for id without exposing the internal map.
func (s *Store) lookup(id burwell.RequestID) (*ExecutionContext, bool) {
	s.contextsMu.RLock()
	defer s.contextsMu.RUnlock()
	ctx, ok := s.contexts[id]
	return ctx, ok
}

// WithContext borrows the context for id exclusively and runs fn against it.
// fn MUST NOT acquire any other Store lock and MUST NOT block on external I/O.
func (s *Store) WithContext(id burwell.RequestID, fn func(*ExecutionContext) error) error {
	ctx, ok := s.lookup(id)
	if !ok {
		return errs.New(errs.InvalidInput, "unknown request id: "+string(id))
	}
	return ctx.WithContext(fn)
}

// WithContextRead borrows the context for id for shared, read-only access.
func (s *Store) WithContextRead(id burwell.RequestID, fn func(*ExecutionContext) error) error {
	ctx, ok := s.lookup(id)
	if !ok {
		return errs.New(errs.InvalidInput, "unknown request id: "+string(id))
	}
	return ctx.WithContextRead(fn)
}

// MarkActive transitions the context for id to InProgress.
func (s *Store) MarkActive(id burwell.RequestID) error {
	ctx, ok := s.lookup(id)
	if !ok {
		return errs.New(errs.InvalidInput, "unknown request id: "+string(id))
	}
	s.activity.push("activated request " + string(id))
	return ctx.SetStatus(burwell.StatusInProgress)
}

// MarkComplete publishes result for id, removes its context from the active
// map, and enforces MaxCompletedExecutions by evicting the oldest result by
// EndTime.
func (s *Store) MarkComplete(id burwell.RequestID, result *burwell.TaskExecutionResult) error {
	ctx, ok := s.lookup(id)
	if !ok {
		return errs.New(errs.InvalidInput, "unknown request id: "+string(id))
	}
	// A failed transition here means the context already reached a terminal
	// status by another path (e.g. Cancelled racing with completion); the
	// result is still published under whichever status the context settled on.
	_ = ctx.SetStatus(result.Status)

	s.contextsMu.Lock()
	delete(s.contexts, id)
	s.contextsMu.Unlock()

	s.resultsMu.Lock()
	s.results[id] = result
	s.resultOrder = append(s.resultOrder, id)
	s.evictOldestLocked()
	s.resultsMu.Unlock()

	if result.Success {
		atomic.AddInt64(&s.totalCompleted, 1)
	} else {
		atomic.AddInt64(&s.totalFailed, 1)
	}
	s.activity.push("completed request " + string(id))
	return nil
}

// evictOldestLocked must be called with resultsMu held for writing.
func (s *Store) evictOldestLocked() {
	for len(s.resultOrder) > s.cfg.MaxCompletedExecutions {
		oldest := s.resultOrder[0]
		s.resultOrder = s.resultOrder[1:]
		delete(s.results, oldest)
	}
}

// GetResult returns the published result for id, if any.
func (s *Store) GetResult(id burwell.RequestID) (*burwell.TaskExecutionResult, bool) {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	r, ok := s.results[id]
	return r, ok
}

// IsActive reports whether id currently has a live (non-terminal) context.
func (s *Store) IsActive(id burwell.RequestID) bool {
	_, ok := s.lookup(id)
	return ok
}

// HasResult reports whether id has a published result.
func (s *Store) HasResult(id burwell.RequestID) bool {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	_, ok := s.results[id]
	return ok
}

// ActiveCount returns the number of contexts currently in StatusInProgress.
func (s *Store) ActiveCount() int {
	s.contextsMu.RLock()
	defer s.contextsMu.RUnlock()
	n := 0
	for _, ctx := range s.contexts {
		if ctx.Status() == burwell.StatusInProgress {
			n++
		}
	}
	return n
}

// RecentActivity returns a snapshot of the bounded process-wide activity log.
func (s *Store) RecentActivity() []string {
	return s.activity.recent()
}

// Stats summarizes lifetime counters.
type Stats struct {
	TotalCreated   int64 `json:"totalCreated"`
	TotalCompleted int64 `json:"totalCompleted"`
	TotalFailed    int64 `json:"totalFailed"`
	ActiveCount    int   `json:"activeCount"`
	CompletedCount int   `json:"completedCount"`
}

func (s *Store) Stats() Stats {
	s.resultsMu.RLock()
	completed := len(s.results)
	s.resultsMu.RUnlock()
	return Stats{
		TotalCreated:   atomic.LoadInt64(&s.totalCreated),
		TotalCompleted: atomic.LoadInt64(&s.totalCompleted),
		TotalFailed:    atomic.LoadInt64(&s.totalFailed),
		ActiveCount:    s.ActiveCount(),
		CompletedCount: completed,
	}
}

// exportedState is the JSON shape produced by ExportState / consumed by
// ImportState, used for diagnostics and warm restarts.
type exportedState struct {
	Contexts []snapshotJSON                            `json:"contexts"`
	Results  map[burwell.RequestID]*burwell.TaskExecutionResult `json:"results"`
	Stats    Stats                                      `json:"stats"`
}

// ExportState produces a JSON document capturing every live context, every
// retained result, and lifetime statistics.
func (s *Store) ExportState() ([]byte, error) {
	s.contextsMu.RLock()
	contexts := make([]snapshotJSON, 0, len(s.contexts))
	for _, ctx := range s.contexts {
		contexts = append(contexts, ctx.toSnapshot())
	}
	s.contextsMu.RUnlock()

	s.resultsMu.RLock()
	results := make(map[burwell.RequestID]*burwell.TaskExecutionResult, len(s.results))
	for k, v := range s.results {
		results[k] = v
	}
	s.resultsMu.RUnlock()

	out := exportedState{
		Contexts: contexts,
		Results:  results,
		Stats:    s.Stats(),
	}
	return json.Marshal(out)
}

// ImportState replaces the store's contexts and results with the contents of
// an ExportState document. Lifetime counters are reset to reflect the
// imported set exactly, so a subsequent ExportState round-trips to an
// equivalent externally-visible state.
func (s *Store) ImportState(data []byte) error {
	var in exportedState
	if err := json.Unmarshal(data, &in); err != nil {
		return errs.Wrap(errs.InvalidInput, "decoding exported state", err)
	}

	contexts := make(map[burwell.RequestID]*ExecutionContext, len(in.Contexts))
	for _, snap := range in.Contexts {
		contexts[snap.RequestID] = fromSnapshot(snap)
	}

	results := make(map[burwell.RequestID]*burwell.TaskExecutionResult, len(in.Results))
	order := make([]burwell.RequestID, 0, len(in.Results))
	for id, r := range in.Results {
		results[id] = r
		order = append(order, id)
	}

	s.contextsMu.Lock()
	s.contexts = contexts
	s.contextsMu.Unlock()

	s.resultsMu.Lock()
	s.results = results
	s.resultOrder = order
	s.resultsMu.Unlock()

	atomic.StoreInt64(&s.totalCreated, in.Stats.TotalCreated)
	atomic.StoreInt64(&s.totalCompleted, in.Stats.TotalCompleted)
	atomic.StoreInt64(&s.totalFailed, in.Stats.TotalFailed)
	return nil
}
