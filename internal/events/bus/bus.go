// Package bus provides the orchestrator's event bus abstraction: lightweight
// pub/sub with optional bounded history and per-type counters.
package bus

import (
	"context"

	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// Listener receives events raised on the bus.
type Listener func(ctx context.Context, event *burwell.EventData)

// Predicate filters events for a listener registered via AddListenerFiltered.
type Predicate func(event *burwell.EventData) bool

// Subscription represents one active listener registration.
type Subscription interface {
	Unsubscribe()
	IsValid() bool
}

// Bus is the orchestrator's event bus. Listener callbacks run synchronously
// on the raising goroutine, in registration order, so events for a single
// request are observed by every listener in the order they were raised; a
// listener panic is recovered and logged so it never prevents other
// listeners from running.
type Bus interface {
	// Raise records the event, updates per-type counters, appends to the
	// bounded history if enabled, then invokes every matching listener in
	// order, on the calling goroutine.
	Raise(ctx context.Context, event *burwell.EventData)

	// AddListener registers fn for every event raised on the bus.
	AddListener(fn Listener) Subscription

	// AddListenerForType registers fn for events of the given type only.
	AddListenerForType(t burwell.OrchestratorEvent, fn Listener) Subscription

	// AddListenerFiltered registers fn for events matching pred.
	AddListenerFiltered(pred Predicate, fn Listener) Subscription

	// History returns a snapshot of the bounded event history, oldest first.
	History() []burwell.EventData

	// CountByType returns the number of events raised per type so far.
	CountByType() map[burwell.OrchestratorEvent]int64

	// Close deactivates all subscriptions. Raise after Close is a no-op.
	Close()
}
