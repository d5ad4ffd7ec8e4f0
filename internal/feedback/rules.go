package feedback

import (
	"sort"

	"github.com/Sean-Khorasani/Burwell-sub001/internal/state"
)

// Condition names an adaptation rule can trigger on.
type Condition string

const (
	ConditionWindowClosed  Condition = "window_closed"
	ConditionWindowChanged Condition = "window_changed"
	ConditionWindowsAdded  Condition = "windows_added"
)

// Action names the hint an adaptation rule writes into context variables.
type Action string

const (
	ActionRetryCommand       Action = "retry_command"
	ActionWaitAndRetry       Action = "wait_and_retry"
	ActionFindAlternative    Action = "find_alternative_window"
)

// AdaptationRule is one entry in the controller's priority-ordered rule list.
type AdaptationRule struct {
	Name       string
	Condition  Condition
	Action     Action
	Parameters map[string]interface{}
	Priority   int
	Enabled    bool
}

func (c *Controller) matches(rule AdaptationRule, delta Delta) bool {
	switch rule.Condition {
	case ConditionWindowClosed:
		return len(delta.WindowsRemoved) > 0
	case ConditionWindowChanged:
		return delta.ActiveWindowChanged
	case ConditionWindowsAdded:
		return len(delta.WindowsAdded) > 0
	default:
		return false
	}
}

// evaluateRules returns the enabled rules matching delta, in descending
// priority order.
func (c *Controller) evaluateRules(delta Delta) []AdaptationRule {
	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()

	var matched []AdaptationRule
	for _, r := range c.rules {
		if r.Enabled && c.matches(r, delta) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Priority > matched[j].Priority })
	return matched
}

// applyRule writes the rule's hints into the target context's variables.
func applyRule(rule AdaptationRule, target *state.ExecutionContext) {
	switch rule.Action {
	case ActionRetryCommand:
		target.SetVariable("retry_required", true)
	case ActionWaitAndRetry:
		target.SetVariable("retry_required", true)
		waitMs := 1000
		if v, ok := rule.Parameters["wait_duration_ms"]; ok {
			if n, ok := toInt(v); ok {
				waitMs = n
			}
		}
		target.SetVariable("wait_duration_ms", waitMs)
	case ActionFindAlternative:
		target.SetVariable("find_alternative_window", true)
	}
	target.SetVariable("last_adaptation_rule", rule.Name)
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

// AddRule appends a rule to the controller's rule list.
func (c *Controller) AddRule(rule AdaptationRule) {
	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()
	c.rules = append(c.rules, rule)
}

// RemoveRule removes the rule with the given name, if present.
func (c *Controller) RemoveRule(name string) {
	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()
	filtered := c.rules[:0]
	for _, r := range c.rules {
		if r.Name != name {
			filtered = append(filtered, r)
		}
	}
	c.rules = filtered
}

// ListRules returns a snapshot of the current rule list.
func (c *Controller) ListRules() []AdaptationRule {
	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()
	out := make([]AdaptationRule, len(c.rules))
	copy(out, c.rules)
	return out
}

// SetRuleEnabled toggles a rule's Enabled flag by name.
func (c *Controller) SetRuleEnabled(name string, enabled bool) {
	c.rulesMu.Lock()
	defer c.rulesMu.Unlock()
	for i := range c.rules {
		if c.rules[i].Name == name {
			c.rules[i].Enabled = enabled
		}
	}
}
