// model/condition.go
package model

import (
	"encoding/json"
	"fmt"
)

// Condition operators supported by the evaluation DSL.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpRegex       = "regex"
)

// Condition matches a dotted context path against a value with an operator.
type Condition struct {
	Path     string      `json:"path"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// ConditionSet is a conjunction of conditions: all must pass.
type ConditionSet []Condition

// UnmarshalJSON accepts the compact wire form: an object mapping dotted
// context paths to either a literal (shorthand for equals) or an
// {"operator": ..., "value": ...} object.
func (cs *ConditionSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("conditions must be an object: %w", err)
	}

	set := make(ConditionSet, 0, len(raw))
	for path, value := range raw {
		var op struct {
			Operator string      `json:"operator"`
			Value    interface{} `json:"value"`
		}
		if err := json.Unmarshal(value, &op); err == nil && op.Operator != "" {
			set = append(set, Condition{Path: path, Operator: op.Operator, Value: op.Value})
			continue
		}

		var literal interface{}
		if err := json.Unmarshal(value, &literal); err != nil {
			return fmt.Errorf("invalid condition value for %q: %w", path, err)
		}
		set = append(set, Condition{Path: path, Operator: OpEquals, Value: literal})
	}

	*cs = set
	return nil
}

// MarshalJSON emits the compact wire form.
func (cs ConditionSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(cs))
	for _, c := range cs {
		if c.Operator == "" || c.Operator == OpEquals {
			out[c.Path] = c.Value
			continue
		}
		out[c.Path] = map[string]interface{}{"operator": c.Operator, "value": c.Value}
	}
	return json.Marshal(out)
}
