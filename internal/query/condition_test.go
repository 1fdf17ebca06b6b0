package query

import (
	"reflect"
	"testing"
)

func cmp(variable string, attr string, op Operator, value interface{}) *Comparison {
	return &Comparison{Variable: variable, Attribute: []string{attr}, Operator: op, Value: value}
}

func andOf(c *Comparison) *AndNode { return &AndNode{Conditions: []*Comparison{c}} }

// TestSortOrs_MergesAndOrders exercises spec scenario 3 verbatim: two IN
// clauses on the same attribute merge into one, and the surviving clauses
// sort with the equality clause ahead of the merged IN clause.
func TestSortOrs_MergesAndOrders(t *testing.T) {
	or := &OrNode{
		Variable: "doc",
		Clauses: []*AndNode{
			andOf(cmp("doc", "a", OpIn, []interface{}{3.0, 1.0})),
			andOf(cmp("doc", "a", OpEq, 2.0)),
			andOf(cmp("doc", "a", OpIn, []interface{}{5.0, 3.0})),
		},
	}
	handles := []interface{}{"h0", "h1", "h2"}

	newHandles, ok := SortOrs(or, handles)
	if !ok {
		t.Fatalf("SortOrs reported unsupported input")
	}
	if len(or.Clauses) != 2 {
		t.Fatalf("expected 2 surviving clauses, got %d: %+v", len(or.Clauses), or.Clauses)
	}

	first, second := or.Clauses[0].Conditions[0], or.Clauses[1].Conditions[0]
	if first.Operator != OpEq || first.Value != 2.0 {
		t.Errorf("expected first clause to be the equality a==2, got %+v", first)
	}
	if second.Operator != OpIn {
		t.Errorf("expected second clause to be the merged IN, got %+v", second)
	}
	wantValues := []interface{}{1.0, 3.0, 5.0}
	if !reflect.DeepEqual(second.Value, wantValues) {
		t.Errorf("merged IN values = %v, want %v", second.Value, wantValues)
	}

	if len(newHandles) != 2 || newHandles[0] != "h1" || newHandles[1] != "h0" {
		t.Errorf("handles not rebuilt in sorted order: %v", newHandles)
	}
}

// Applying SortOrs twice to the same root must yield the same root.
func TestSortOrs_Idempotent(t *testing.T) {
	or := &OrNode{
		Variable: "doc",
		Clauses: []*AndNode{
			andOf(cmp("doc", "a", OpIn, []interface{}{3.0, 1.0})),
			andOf(cmp("doc", "a", OpEq, 2.0)),
			andOf(cmp("doc", "a", OpIn, []interface{}{5.0, 3.0})),
		},
	}
	handles := []interface{}{0, 1, 2}

	firstHandles, ok := SortOrs(or, handles)
	if !ok {
		t.Fatalf("first SortOrs call failed")
	}
	firstSnapshot := cloneOr(or)

	secondHandles, ok := SortOrs(or, firstHandles)
	if !ok {
		t.Fatalf("second SortOrs call failed")
	}

	if !reflect.DeepEqual(firstSnapshot, or) {
		t.Errorf("SortOrs is not idempotent: %+v != %+v", firstSnapshot, or)
	}
	if !reflect.DeepEqual(firstHandles, secondHandles) {
		t.Errorf("handle order changed on second application: %v != %v", firstHandles, secondHandles)
	}
}

func cloneOr(or *OrNode) *OrNode {
	out := &OrNode{Variable: or.Variable}
	for _, and := range or.Clauses {
		na := &AndNode{}
		for _, c := range and.Conditions {
			cc := *c
			na.Conditions = append(na.Conditions, &cc)
		}
		out.Clauses = append(out.Clauses, na)
	}
	return out
}

// `!=` and `NOT IN` clauses are never optimized.
func TestSortOrs_RejectsNotEqual(t *testing.T) {
	or := &OrNode{
		Variable: "doc",
		Clauses: []*AndNode{
			andOf(cmp("doc", "a", OpNe, 1.0)),
			andOf(cmp("doc", "a", OpEq, 2.0)),
		},
	}
	if _, ok := SortOrs(or, []interface{}{1, 2}); ok {
		t.Error("expected SortOrs to refuse a clause using !=")
	}
}

// A clause with more than one comparison is refused outright.
func TestSortOrs_RejectsMultiConditionClause(t *testing.T) {
	or := &OrNode{
		Variable: "doc",
		Clauses: []*AndNode{
			{Conditions: []*Comparison{cmp("doc", "a", OpEq, 1.0), cmp("doc", "b", OpEq, 2.0)}},
		},
	}
	if _, ok := SortOrs(or, []interface{}{1}); ok {
		t.Error("expected SortOrs to refuse a multi-comparison clause")
	}
}
