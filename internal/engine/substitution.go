package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// placeholderPrefix and placeholderSuffix delimit a substitution token:
// ${name}. Substitution is a pure function of (input, variables snapshot) —
// it never touches the owning context, so callers take a VariablesSnapshot
// first.
const (
	placeholderPrefix = "${"
	placeholderSuffix = "}"
)

// SubstituteVariables replaces every ${name} occurrence in input with the
// stringified value of vars[name]. Non-string values are JSON-serialized.
// A name with no entry in vars is left as a literal, unresolved placeholder
// — the documented behavior for this implementation (see design notes on
// the open question of unresolved-placeholder handling).
func SubstituteVariables(input string, vars map[string]interface{}) string {
	var b strings.Builder
	rest := input
	for {
		start := strings.Index(rest, placeholderPrefix)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(placeholderPrefix):], placeholderSuffix)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start + len(placeholderPrefix)

		b.WriteString(rest[:start])
		name := rest[start+len(placeholderPrefix) : end]

		if v, ok := vars[name]; ok {
			b.WriteString(stringifyValue(v))
		} else {
			b.WriteString(rest[start : end+len(placeholderSuffix)])
		}
		rest = rest[end+len(placeholderSuffix):]
	}
	return b.String()
}

func stringifyValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		out, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprintf("%v", s)
		}
		return string(out)
	}
}

// SubstituteInParams applies SubstituteVariables recursively to every string
// value reachable from params: top-level values, nested maps, and slices.
func SubstituteInParams(params map[string]interface{}, vars map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = substituteValue(v, vars)
	}
	return out
}

func substituteValue(v interface{}, vars map[string]interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return SubstituteVariables(t, vars)
	case map[string]interface{}:
		return SubstituteInParams(t, vars)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = substituteValue(item, vars)
		}
		return out
	default:
		return v
	}
}
