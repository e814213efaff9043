package graph

import "testing"

func TestLogicConditionHolds(t *testing.T) {
	variables := map[string]any{
		"department": "Sales Team",
		"attempts":   3,
		"score":      "7.5",
	}

	cases := []struct {
		name      string
		condition LogicCondition
		want      bool
	}{
		{"eq match", LogicCondition{Variable: "department", Operator: "eq", Value: "Sales Team"}, true},
		{"eq mismatch", LogicCondition{Variable: "department", Operator: "eq", Value: "Support"}, false},
		{"neq", LogicCondition{Variable: "department", Operator: "neq", Value: "Support"}, true},
		{"contains is case-insensitive", LogicCondition{Variable: "department", Operator: "contains", Value: "sales"}, true},
		{"gt numeric", LogicCondition{Variable: "attempts", Operator: "gt", Value: "2"}, true},
		{"gte boundary", LogicCondition{Variable: "attempts", Operator: "gte", Value: "3"}, true},
		{"lt float", LogicCondition{Variable: "score", Operator: "lt", Value: "8"}, true},
		{"lte fails", LogicCondition{Variable: "score", Operator: "lte", Value: "7"}, false},
		{"numeric operator on text", LogicCondition{Variable: "department", Operator: "gt", Value: "1"}, false},
		{"exists present", LogicCondition{Variable: "score", Operator: "exists"}, true},
		{"exists missing", LogicCondition{Variable: "missing", Operator: "exists"}, false},
		{"comparison against missing", LogicCondition{Variable: "missing", Operator: "eq", Value: "x"}, false},
		{"unknown operator", LogicCondition{Variable: "attempts", Operator: "approximately", Value: "3"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.condition.Holds(variables); got != tc.want {
				t.Fatalf("Holds() = %v, want %v", got, tc.want)
			}
		})
	}
}
