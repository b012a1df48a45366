package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"labcrm/internal/models"
)

// ConditionEvaluator checks a rule's conditions against the current state of its target entity.
type ConditionEvaluator struct {
	entities EntityStore
}

func NewConditionEvaluator(entities EntityStore) *ConditionEvaluator {
	return &ConditionEvaluator{entities: entities}
}

// Check returns true when every condition holds. An empty list always holds and does not touch the store.
// A missing entity fails closed.
func (e *ConditionEvaluator) Check(ctx context.Context, conditions []models.Condition, model string, id uint) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}
	entity, err := e.entities.FindByID(ctx, model, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return MatchConditions(conditions, entity), nil
}

// MatchConditions evaluates the AND of conditions against an entity snapshot.
func MatchConditions(conditions []models.Condition, entity map[string]interface{}) bool {
	for _, cond := range conditions {
		if !evaluateCondition(cond, entity) {
			return false
		}
	}
	return true
}

func evaluateCondition(cond models.Condition, attrs map[string]interface{}) bool {
	actual := normalizeValue(attrs[cond.Field])
	expected := normalizeValue(cond.Value)

	switch cond.Operator {
	case models.OpEq:
		return strictEqual(actual, expected)
	case models.OpNe:
		return !strictEqual(actual, expected)
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		a, ok := toNumber(actual)
		if !ok {
			return false
		}
		b, ok := toNumber(expected)
		if !ok {
			return false
		}
		switch cond.Operator {
		case models.OpGt:
			return a > b
		case models.OpGte:
			return a >= b
		case models.OpLt:
			return a < b
		default:
			return a <= b
		}
	case models.OpContains:
		return strings.Contains(stringify(actual), stringify(expected))
	case models.OpIn:
		list, ok := expected.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if strictEqual(actual, item) {
				return true
			}
		}
		return false
	default:
		// unknown operators are rejected when a rule is saved; legacy rows fail closed
		return false
	}
}

// ValidateConditions rejects unknown operators, empty fields and non-array "in" values.
func ValidateConditions(conditions []models.Condition) error {
	for i, cond := range conditions {
		if cond.Field == "" {
			return invalid("conditions[%d].field is required", i)
		}
		switch cond.Operator {
		case models.OpEq, models.OpNe, models.OpGt, models.OpGte, models.OpLt, models.OpLte, models.OpContains:
		case models.OpIn:
			if _, ok := normalizeValue(cond.Value).([]interface{}); !ok {
				return invalid("conditions[%d]: operator in requires an array value", i)
			}
		default:
			return invalid("conditions[%d]: unsupported operator %q", i, cond.Operator)
		}
	}
	return nil
}

// normalizeValue maps Go numeric kinds to float64 and typed slices to []interface{},
// so values decoded from JSON, YAML or built in code compare the same way.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeValue(item)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice {
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = normalizeValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

func strictEqual(a, b interface{}) bool {
	switch a.(type) {
	case nil, string, bool, float64:
		return a == b
	default:
		return false
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// stringify renders a value the way templates and "contains" see it.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}
