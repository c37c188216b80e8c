// rbac/conditions.go
package rbac

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

// EvaluateConditions applies a condition set against a merged context map.
// All conditions are ANDed. An unresolvable dotted path yields an undefined
// value, which fails every operator except not_equals and not_in against a
// defined expected value.
func EvaluateConditions(conditions model.ConditionSet, ctx map[string]interface{}) bool {
	for _, cond := range conditions {
		if !evaluateCondition(cond, ctx) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond model.Condition, ctx map[string]interface{}) bool {
	actual, defined := LookupPath(ctx, cond.Path)

	op := cond.Operator
	if op == "" {
		op = model.OpEquals
	}

	if !defined {
		switch op {
		case model.OpNotEquals, model.OpNotIn:
			return cond.Value != nil
		default:
			return false
		}
	}

	switch op {
	case model.OpEquals:
		return looseEqual(actual, cond.Value)
	case model.OpNotEquals:
		return !looseEqual(actual, cond.Value)
	case model.OpIn:
		return contains(cond.Value, actual)
	case model.OpNotIn:
		return !contains(cond.Value, actual)
	case model.OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		return aok && bok && a > b
	case model.OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		return aok && bok && a < b
	case model.OpRegex:
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		matched, err := regexp.MatchString(pattern, fmt.Sprint(actual))
		if err != nil {
			logger.Warn("Invalid condition regex",
				zap.String("path", cond.Path),
				zap.String("pattern", pattern),
				zap.Error(err))
			return false
		}
		return matched
	default:
		logger.Warn("Unknown condition operator",
			zap.String("path", cond.Path),
			zap.String("operator", op))
		return false
	}
}

// LookupPath resolves a dotted path against nested maps. The second return
// reports whether the path resolved at all.
func LookupPath(ctx map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = ctx
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares with numeric coercion, so a JSON float64 1 equals an
// int 1 coming from a typed context.
func looseEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func contains(list, value interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		if strs, sok := list.([]string); sok {
			for _, s := range strs {
				if looseEqual(s, value) {
					return true
				}
			}
		}
		return false
	}
	for _, item := range items {
		if looseEqual(item, value) {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
