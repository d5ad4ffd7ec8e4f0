package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"
)

// MockAdapter is a deterministic, in-memory stand-in for the real OS-control
// adapter. It tracks a small simulated desktop (a fixed set of windows) so
// tests can exercise window enumeration, focus changes, and failure
// injection without a live OS.
type MockAdapter struct {
	mu           sync.Mutex
	windows      []burwell.Window
	active       string
	failCommands map[string]bool
	calls        []Call
}

// Call records one Do invocation, for assertions in tests.
type Call struct {
	Family string
	Op     string
	Params map[string]interface{}
}

// NewMockAdapter returns a MockAdapter seeded with one visible window.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		windows: []burwell.Window{
			{Title: "Untitled", ClassName: "MainWindow", ProcessName: "app.exe", Visible: true},
		},
		active:       "Untitled",
		failCommands: make(map[string]bool),
	}
}

// FailCommand marks every later call to family.op as a failure.
func (m *MockAdapter) FailCommand(family, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommands[family+"."+op] = true
}

// Calls returns every recorded call so far, in order.
func (m *MockAdapter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockAdapter) Do(ctx context.Context, family, op string, params map[string]interface{}) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Family: family, Op: op, Params: params})
	fail := m.failCommands[family+"."+op]
	m.mu.Unlock()

	if fail {
		return Result{Success: false, Error: fmt.Sprintf("mock adapter: %s.%s injected failure", family, op)}, nil
	}

	switch family {
	case "system":
		if op == "sleep" {
			if ms, ok := params["ms"]; ok {
				if n, ok := toInt(ms); ok {
					select {
					case <-time.After(time.Duration(n) * time.Millisecond):
					case <-ctx.Done():
						return Result{}, ctx.Err()
					}
				}
			}
		}
	case "window":
		if op == "focus" {
			if title, ok := params["title"].(string); ok {
				m.mu.Lock()
				m.active = title
				m.mu.Unlock()
			}
		}
	}

	return Result{Success: true, Output: map[string]interface{}{"family": family, "op": op}}, nil
}

func (m *MockAdapter) CaptureEnvironment(ctx context.Context) (*burwell.EnvironmentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	windows := make([]burwell.Window, len(m.windows))
	copy(windows, m.windows)

	var activeWin *burwell.Window
	for i := range windows {
		if windows[i].Title == m.active {
			activeWin = &windows[i]
			break
		}
	}

	return &burwell.EnvironmentSnapshot{
		Windows:      windows,
		ActiveWindow: activeWin,
		System:       map[string]interface{}{"simulated": true},
		CapturedAt:   time.Now(),
	}, nil
}

// AddWindow appends a simulated window, for tests that exercise the feedback
// controller's delta computation.
func (m *MockAdapter) AddWindow(w burwell.Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, w)
}

// RemoveWindow removes the first window with the given title.
func (m *MockAdapter) RemoveWindow(title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.windows {
		if w.Title == title {
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			return
		}
	}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
