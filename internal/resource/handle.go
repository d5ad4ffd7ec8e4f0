// Package resource implements the resource-and-lifecycle layer: scoped
// handle ownership and process-wide usage accounting.
package resource

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/common/errs"
)

// Family names a class of OS resource tracked by the Monitor.
type Family string

const (
	FamilyFile     Family = "file"
	FamilyProcess  Family = "process"
	FamilyWindow   Family = "window"
	FamilyRegistry Family = "registry"
	FamilyGeneric  Family = "generic"
	FamilyThread   Family = "thread"
	FamilyMutex    Family = "mutex"
	FamilyMemory   Family = "memory"
)

// ReleaseFunc is the type-specific close action run exactly once when a
// Handle is released.
type ReleaseFunc func()

// Handle is a scoped owner of exactly one OS resource. It is never copied —
// callers pass a *Handle, and Move transfers ownership explicitly rather
// than relying on value semantics the way the original RAII wrapper's move
// constructor did. Release runs the close action at most once, on whichever
// exit path reaches it first.
type Handle struct {
	family  Family
	label   string
	release ReleaseFunc
	once    sync.Once
	monitor *Monitor
}

// newHandle is unexported: handles are only ever minted by a Monitor's
// Acquire, so every live handle is reflected in the monitor's counts.
func newHandle(m *Monitor, family Family, label string, release ReleaseFunc) *Handle {
	return &Handle{family: family, label: label, release: release, monitor: m}
}

// Release runs the handle's close action exactly once and decrements the
// owning monitor's live count for its family. Safe to call multiple times
// and safe to call on a nil Handle.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
		if h.monitor != nil {
			h.monitor.release(h.family)
		}
	})
}

// Move transfers ownership of h's resource to a new Handle, leaving h
// inert (its own Release becomes a no-op). This is the Go analogue of the
// original wrapper's move constructor: after Move, only the returned
// Handle may release the underlying resource.
func (h *Handle) Move() *Handle {
	if h == nil {
		return nil
	}
	moved := &Handle{family: h.family, label: h.label, release: h.release, monitor: h.monitor}
	h.once.Do(func() {}) // neuter the source: its Release is now a no-op
	h.release = nil
	h.monitor = nil
	return moved
}

// Label identifies the resource for logging/diagnostics.
func (h *Handle) Label() string {
	if h == nil {
		return ""
	}
	return h.label
}

// Family returns the resource class this handle belongs to.
func (h *Handle) Family() Family {
	if h == nil {
		return ""
	}
	return h.family
}

// Thresholds bounds per-family concurrent live-handle counts. A zero or
// negative value means "no limit" for that family.
type Thresholds map[Family]int

// Monitor is the process-wide ResourceMonitor: it tracks live and peak
// counts per resource family and enforces configurable thresholds before
// a plan is allowed to start executing.
type Monitor struct {
	thresholds Thresholds

	mu    sync.Mutex
	live  map[Family]int
	peak  map[Family]int
	total map[Family]uint64
}

// NewMonitor builds a Monitor with the given per-family thresholds.
func NewMonitor(thresholds Thresholds) *Monitor {
	if thresholds == nil {
		thresholds = Thresholds{}
	}
	return &Monitor{
		thresholds: thresholds,
		live:       make(map[Family]int),
		peak:       make(map[Family]int),
		total:      make(map[Family]uint64),
	}
}

// CheckThresholds refuses to proceed if any family's live count has already
// reached its configured threshold. Called by the facade before starting a
// plan's execution.
func (m *Monitor) CheckThresholds() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for family, limit := range m.thresholds {
		if limit <= 0 {
			continue
		}
		if m.live[family] >= limit {
			return errs.New(errs.ResourceExhausted, string(family)+" handle count at threshold "+strconv.Itoa(limit))
		}
	}
	return nil
}

// Acquire registers a new live handle in family and returns its owning
// Handle. release runs when the handle is eventually released.
func (m *Monitor) Acquire(family Family, label string, release ReleaseFunc) (*Handle, error) {
	m.mu.Lock()
	if limit, ok := m.thresholds[family]; ok && limit > 0 && m.live[family] >= limit {
		m.mu.Unlock()
		return nil, errs.New(errs.ResourceExhausted, string(family)+" handle count at threshold "+strconv.Itoa(limit))
	}
	m.live[family]++
	if m.live[family] > m.peak[family] {
		m.peak[family] = m.live[family]
	}
	m.total[family]++
	m.mu.Unlock()
	return newHandle(m, family, label, release), nil
}

func (m *Monitor) release(family Family) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[family] > 0 {
		m.live[family]--
	}
}

// Snapshot is a point-in-time dump of counts per family, produced on demand
// by Dump. No dump is taken automatically around an execution; the facade
// takes one only when Status is called.
type Snapshot struct {
	Live  map[Family]int
	Peak  map[Family]int
	Total map[Family]uint64
}

// Dump returns a Snapshot of current live/peak/total counts.
func (m *Monitor) Dump() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Snapshot{
		Live:  make(map[Family]int, len(m.live)),
		Peak:  make(map[Family]int, len(m.peak)),
		Total: make(map[Family]uint64, len(m.total)),
	}
	for k, v := range m.live {
		out.Live[k] = v
	}
	for k, v := range m.peak {
		out.Peak[k] = v
	}
	for k, v := range m.total {
		out.Total[k] = v
	}
	return out
}

// LiveCount returns the current live count for family.
func (m *Monitor) LiveCount(family Family) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[family]
}

// threadCounter supports FamilyThread accounting for goroutines the facade
// explicitly tracks as "threads" in the original model's sense.
var threadCounter int64

// NextThreadLabel returns a monotonically increasing label for a tracked
// goroutine, used as the label argument to Acquire(FamilyThread, ...).
func NextThreadLabel() string {
	n := atomic.AddInt64(&threadCounter, 1)
	return "thread-" + strconv.FormatInt(n, 10)
}
