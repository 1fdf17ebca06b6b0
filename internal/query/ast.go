// Package query holds the filter condition model shared by the planner
// and the collection scan path: comparison operators with their
// evaluation semantics, the DNF condition tree (OrNode/AndNode/
// Comparison), sort conditions, and the OR-tree normaliser.
package query

import (
	"fmt"
)

// Operator is a comparison operator in Mongo-style spelling.
type Operator string

const (
	OpEq    Operator = "$eq"
	OpNe    Operator = "$ne"
	OpGt    Operator = "$gt"
	OpGte   Operator = "$gte"
	OpLt    Operator = "$lt"
	OpLte   Operator = "$lte"
	OpIn    Operator = "$in"
	OpNotIn Operator = "$nin"
)

// Matcher evaluates a condition against one document.
type Matcher interface {
	Matches(doc map[string]interface{}) bool
}

// ParseFilter converts a map-shaped filter into a DNF tree over the
// given variable. A plain map is one conjunction; a top-level `$or`
// contributes one conjunction per branch. Nested `$and`/`$or` beyond
// that is not supported — the planner consumes flat DNF only.
//
//	{"age": {"$gt": 25}, "status": "active"}
//	{"$or": [{"x": 1}, {"x": {"$in": [2, 3]}}]}
func ParseFilter(variable string, filter map[string]interface{}) (*OrNode, error) {
	if branches, ok := filter["$or"]; ok {
		if len(filter) != 1 {
			return nil, fmt.Errorf("$or cannot be combined with sibling conditions")
		}
		list, ok := branches.([]interface{})
		if !ok {
			return nil, fmt.Errorf("value for $or must be a list")
		}
		or := &OrNode{Variable: variable}
		for _, branch := range list {
			m, ok := branch.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("element of $or must be an object")
			}
			and, err := parseConjunction(variable, m)
			if err != nil {
				return nil, err
			}
			or.Clauses = append(or.Clauses, and)
		}
		return or, nil
	}

	and, err := parseConjunction(variable, filter)
	if err != nil {
		return nil, err
	}
	return &OrNode{Variable: variable, Clauses: []*AndNode{and}}, nil
}

// parseConjunction reads one flat field->condition map as an AndNode.
func parseConjunction(variable string, m map[string]interface{}) (*AndNode, error) {
	and := &AndNode{}
	for field, val := range m {
		if field == "$or" || field == "$and" {
			return nil, fmt.Errorf("nested %s is not supported", field)
		}
		ops, ok := val.(map[string]interface{})
		if !ok {
			// bare value means equality
			and.Conditions = append(and.Conditions, &Comparison{
				Variable:  variable,
				Attribute: []string{field},
				Operator:  OpEq,
				Value:     val,
			})
			continue
		}
		for op, opVal := range ops {
			switch Operator(op) {
			case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn:
				and.Conditions = append(and.Conditions, &Comparison{
					Variable:  variable,
					Attribute: []string{field},
					Operator:  Operator(op),
					Value:     opVal,
				})
			default:
				return nil, fmt.Errorf("unknown operator: %s", op)
			}
		}
	}
	return and, nil
}

// Compare evaluates `actual op expected`.
func Compare(actual interface{}, op Operator, expected interface{}) bool {
	return compare(actual, op, expected)
}

func compare(actual interface{}, op Operator, expected interface{}) bool {
	switch op {
	case OpEq:
		return CompareValues(actual, expected) == 0
	case OpNe:
		return CompareValues(actual, expected) != 0
	case OpGt:
		return CompareValues(actual, expected) > 0
	case OpGte:
		return CompareValues(actual, expected) >= 0
	case OpLt:
		return CompareValues(actual, expected) < 0
	case OpLte:
		return CompareValues(actual, expected) <= 0
	case OpIn:
		arr, ok := expected.([]interface{})
		if !ok {
			return false
		}
		for _, v := range arr {
			if CompareValues(actual, v) == 0 {
				return true
			}
		}
		return false
	case OpNotIn:
		return !compare(actual, OpIn, expected)
	}
	return false
}

// CompareValues is the package's one total order: numerically when both
// sides are numbers, otherwise by string rendering. Every sort and
// equality decision in the planner and the normaliser routes through
// here so filters and ordering cannot disagree.
func CompareValues(a, b interface{}) int {
	f1, ok1 := toFloat(a)
	f2, ok2 := toFloat(b)
	if ok1 && ok2 {
		switch {
		case f1 > f2:
			return 1
		case f1 < f2:
			return -1
		default:
			return 0
		}
	}

	s1 := fmt.Sprintf("%v", a)
	s2 := fmt.Sprintf("%v", b)
	switch {
	case s1 > s2:
		return 1
	case s1 < s2:
		return -1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
