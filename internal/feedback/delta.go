package feedback

import "github.com/Sean-Khorasani/Burwell-sub001/pkg/burwell"

// windowKey identifies a window for membership comparisons across
// snapshots, per the spec's "simple form" keyed by (title, className).
type windowKey struct {
	Title     string
	ClassName string
}

func keyOf(w burwell.Window) windowKey {
	return windowKey{Title: w.Title, ClassName: w.ClassName}
}

// Delta is the computed difference between two consecutive environment
// snapshots.
type Delta struct {
	WindowsAdded        []burwell.Window
	WindowsRemoved      []burwell.Window
	ActiveWindowChanged  bool
	Similarity           float64
}

// ComputeDelta compares prev and curr, detecting added/removed windows and
// an active-window change, and scores their similarity in [0,1].
func ComputeDelta(prev, curr *burwell.EnvironmentSnapshot) Delta {
	prevSet := make(map[windowKey]bool, len(prev.Windows))
	for _, w := range prev.Windows {
		prevSet[keyOf(w)] = true
	}
	currSet := make(map[windowKey]bool, len(curr.Windows))
	for _, w := range curr.Windows {
		currSet[keyOf(w)] = true
	}

	var added, removed []burwell.Window
	for _, w := range curr.Windows {
		if !prevSet[keyOf(w)] {
			added = append(added, w)
		}
	}
	for _, w := range prev.Windows {
		if !currSet[keyOf(w)] {
			removed = append(removed, w)
		}
	}

	activeChanged := activeTitle(prev) != activeTitle(curr)

	similarity := 1.0
	countDelta := len(curr.Windows) - len(prev.Windows)
	if countDelta < 0 {
		countDelta = -countDelta
	}
	similarity -= float64(countDelta) * 0.10
	if activeChanged {
		similarity -= 0.30
	}
	if similarity < 0 {
		similarity = 0
	}

	return Delta{
		WindowsAdded:        added,
		WindowsRemoved:      removed,
		ActiveWindowChanged: activeChanged,
		Similarity:          similarity,
	}
}

func activeTitle(s *burwell.EnvironmentSnapshot) string {
	if s == nil || s.ActiveWindow == nil {
		return ""
	}
	return s.ActiveWindow.Title
}

// Significant reports whether the delta crosses the threshold the spec
// defines: any window removed, the active window changed, or three or more
// windows added.
func (d Delta) Significant() bool {
	return len(d.WindowsRemoved) > 0 || d.ActiveWindowChanged || len(d.WindowsAdded) >= 3
}
