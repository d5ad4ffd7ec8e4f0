package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/logger"
	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// memorySubscription tracks one listener registration.
type memorySubscription struct {
	bus     *MemoryBus
	handler Listener
	pred    Predicate // nil means "all events"
	mu      sync.Mutex
	active  bool
}

func (s *memorySubscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.bus.remove(s)
}

func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memorySubscription) matches(e *burwell.EventData) bool {
	if s.pred == nil {
		return true
	}
	return s.pred(e)
}

// MemoryBus is the default in-process implementation of Bus. It holds all
// subscriptions and history in memory; nothing crosses a process boundary.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions []*memorySubscription
	history       []burwell.EventData
	historyMax    int
	counts        map[burwell.OrchestratorEvent]*int64
	countsMu      sync.Mutex
	logger        *logger.Logger
	closed        int32
}

// NewMemoryBus builds a MemoryBus retaining up to historySize events (0
// disables history retention).
func NewMemoryBus(historySize int, log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		historyMax: historySize,
		counts:     make(map[burwell.OrchestratorEvent]*int64),
		logger:     log,
	}
}

func (b *MemoryBus) AddListener(fn Listener) Subscription {
	return b.add(nil, fn)
}

func (b *MemoryBus) AddListenerForType(t burwell.OrchestratorEvent, fn Listener) Subscription {
	return b.add(func(e *burwell.EventData) bool { return e.Type == t }, fn)
}

func (b *MemoryBus) AddListenerFiltered(pred Predicate, fn Listener) Subscription {
	return b.add(pred, fn)
}

func (b *MemoryBus) add(pred Predicate, fn Listener) Subscription {
	sub := &memorySubscription{bus: b, handler: fn, pred: pred, active: true}
	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, sub)
	b.mu.Unlock()
	return sub
}

func (b *MemoryBus) remove(target *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	filtered := b.subscriptions[:0]
	for _, s := range b.subscriptions {
		if s != target {
			filtered = append(filtered, s)
		}
	}
	b.subscriptions = filtered
}

// Raise snapshots the listener list under the read lock, then dispatches to
// each match synchronously, in registration order, on the calling goroutine
// — so events for a single request are observed by every listener in the
// order they were raised. A panicking listener is recovered and logged
// rather than allowed to abort the remaining dispatches.
func (b *MemoryBus) Raise(ctx context.Context, event *burwell.EventData) {
	if atomic.LoadInt32(&b.closed) != 0 {
		return
	}

	b.recordHistory(event)
	b.bumpCount(event.Type)

	b.mu.RLock()
	snapshot := make([]*memorySubscription, len(b.subscriptions))
	copy(snapshot, b.subscriptions)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.IsValid() || !sub.matches(event) {
			continue
		}
		b.dispatch(ctx, sub, event)
	}
}

func (b *MemoryBus) dispatch(ctx context.Context, sub *memorySubscription, event *burwell.EventData) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r))
		}
	}()
	sub.handler(ctx, event)
}

func (b *MemoryBus) recordHistory(event *burwell.EventData) {
	if b.historyMax <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, *event)
	if len(b.history) > b.historyMax {
		b.history = b.history[len(b.history)-b.historyMax:]
	}
}

func (b *MemoryBus) bumpCount(t burwell.OrchestratorEvent) {
	b.countsMu.Lock()
	counter, ok := b.counts[t]
	if !ok {
		var zero int64
		counter = &zero
		b.counts[t] = counter
	}
	b.countsMu.Unlock()
	atomic.AddInt64(counter, 1)
}

func (b *MemoryBus) History() []burwell.EventData {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]burwell.EventData, len(b.history))
	copy(out, b.history)
	return out
}

// HistoryFor returns the bounded history filtered to a single request id,
// oldest first, for diagnostics tooling that traces one request's event
// timeline without scanning the whole history.
func (b *MemoryBus) HistoryFor(id burwell.RequestID) []burwell.EventData {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []burwell.EventData
	for _, e := range b.history {
		if e.RequestID == id {
			out = append(out, e)
		}
	}
	return out
}

func (b *MemoryBus) CountByType() map[burwell.OrchestratorEvent]int64 {
	b.countsMu.Lock()
	defer b.countsMu.Unlock()
	out := make(map[burwell.OrchestratorEvent]int64, len(b.counts))
	for t, c := range b.counts {
		out[t] = atomic.LoadInt64(c)
	}
	return out
}

func (b *MemoryBus) Close() {
	atomic.StoreInt32(&b.closed, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscriptions {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}
	b.subscriptions = nil
}
