package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Holds reports whether the condition is satisfied by the session
// variables. Comparisons against missing variables fail except for
// the exists operator, which tests presence alone.
func (c LogicCondition) Holds(variables map[string]any) bool {
	value, present := variables[c.Variable]

	if c.Operator == "exists" {
		return present
	}
	if !present {
		return false
	}

	actual := fmt.Sprintf("%v", value)
	switch c.Operator {
	case "eq":
		return actual == c.Value
	case "neq":
		return actual != c.Value
	case "contains":
		return strings.Contains(strings.ToLower(actual), strings.ToLower(c.Value))
	case "gt", "gte", "lt", "lte":
		left, err := strconv.ParseFloat(actual, 64)
		if err != nil {
			return false
		}
		right, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return false
		}
		switch c.Operator {
		case "gt":
			return left > right
		case "gte":
			return left >= right
		case "lt":
			return left < right
		case "lte":
			return left <= right
		}
	}
	return false
}
