package query

import "sort"

// Comparison is a single binary comparison against one attribute path,
// e.g. `x == 5` or `x IN [1,2,3]`.
type Comparison struct {
	Variable  string
	Attribute []string
	Operator  Operator
	Value     interface{} // scalar, or []interface{} for OpIn/OpNotIn
}

// AndNode is a conjunction of comparisons (a single DNF clause).
type AndNode struct {
	Conditions []*Comparison
}

// OrNode is a disjunction of AndNode clauses bound to one variable.
type OrNode struct {
	Variable string
	Clauses  []*AndNode
}

// SortField is one leg of a sort condition.
type SortField struct {
	Attribute []string
	Ascending bool
}

// SortCondition is an ordered list of sort fields.
type SortCondition struct {
	Fields []SortField
}

// Unidirectional reports whether every field sorts the same direction.
func (s *SortCondition) Unidirectional() bool {
	if s == nil || len(s.Fields) == 0 {
		return true
	}
	asc := s.Fields[0].Ascending
	for _, f := range s.Fields[1:] {
		if f.Ascending != asc {
			return false
		}
	}
	return true
}

func attrEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isArray(v interface{}) ([]interface{}, bool) {
	arr, ok := v.([]interface{})
	return arr, ok
}

// lowerBound returns a representative value used to order a clause. For
// IN, the whole value array is used rather than its minimum element: an
// IN clause's bound is a set, not a point. CompareValues compares an
// array against any other bound by its string rendering, which starts
// with '[': that orders it after numeric bounds and after strings
// beginning with a digit or an uppercase letter, but before strings
// beginning with a lowercase letter.
func lowerBound(c *Comparison) interface{} {
	switch c.Operator {
	case OpIn:
		arr, ok := isArray(c.Value)
		if !ok || len(arr) == 0 {
			return nil
		}
		return c.Value
	default:
		return c.Value
	}
}

// dedupSortValues unions a set of IN-clause value arrays, sorts and
// deduplicates the result.
func dedupSortValues(vals []interface{}) []interface{} {
	sort.SliceStable(vals, func(i, j int) bool {
		return CompareValues(vals[i], vals[j]) < 0
	})
	out := vals[:0:0]
	for i, v := range vals {
		if i == 0 || CompareValues(v, out[len(out)-1]) != 0 {
			out = append(out, v)
		}
	}
	return out
}

// SortOrs canonicalises a DNF root of shape OR(AND(cmp), AND(cmp), ...)
// over one bound variable, merging IN-array clauses and sorting the
// surviving clauses into a deterministic order. handles is a parallel
// slice (one entry per clause in or.Clauses on entry) and is rebuilt in
// the same order as the returned clauses on success.
//
// Returns false without modifying anything if any clause is not exactly
// one comparison, uses `!=`/`NOT IN`, references a different
// variable/attribute than the first clause, or if handles is the wrong
// length.
func SortOrs(or *OrNode, handles []interface{}) ([]interface{}, bool) {
	if or == nil || len(or.Clauses) != len(handles) {
		return nil, false
	}
	if len(or.Clauses) == 0 {
		return handles, true
	}

	type item struct {
		cmp    *Comparison
		handle interface{}
		dead   bool
	}

	items := make([]item, len(or.Clauses))
	var variable string
	var attribute []string
	for i, and := range or.Clauses {
		if and == nil || len(and.Conditions) != 1 {
			return nil, false
		}
		cmp := and.Conditions[0]
		if cmp.Operator == OpNe || cmp.Operator == OpNotIn {
			return nil, false
		}
		if cmp.Operator == OpIn {
			if _, ok := isArray(cmp.Value); !ok {
				return nil, false
			}
		}
		if i == 0 {
			variable = cmp.Variable
			attribute = cmp.Attribute
		} else if cmp.Variable != variable || !attrEqual(cmp.Attribute, attribute) {
			return nil, false
		}
		items[i] = item{cmp: cmp, handle: handles[i]}
	}

	// Merge all IN-array clauses into the first one encountered.
	firstIn := -1
	for i := range items {
		if items[i].cmp.Operator != OpIn {
			continue
		}
		if firstIn == -1 {
			firstIn = i
			continue
		}
		arr, _ := isArray(items[i].cmp.Value)
		baseArr, _ := isArray(items[firstIn].cmp.Value)
		merged := append(append([]interface{}{}, baseArr...), arr...)
		items[firstIn].cmp.Value = dedupSortValues(merged)
		items[i].cmp.Value = []interface{}{}
		items[i].dead = true
	}

	live := items[:0:0]
	for _, it := range items {
		if it.dead {
			continue
		}
		live = append(live, it)
	}

	sort.SliceStable(live, func(i, j int) bool {
		lb1, lb2 := lowerBound(live[i].cmp), lowerBound(live[j].cmp)
		if lb1 == nil && lb2 == nil {
			return false
		}
		if lb1 == nil {
			return true
		}
		if lb2 == nil {
			return false
		}
		c := CompareValues(lb1, lb2)
		if c != 0 {
			return c < 0
		}
		// inclusive before exclusive on ties: treat eq/in as inclusive,
		// gt/lt as exclusive.
		return clauseRank(live[i].cmp.Operator) < clauseRank(live[j].cmp.Operator)
	})

	newClauses := make([]*AndNode, len(live))
	newHandles := make([]interface{}, len(live))
	for i, it := range live {
		newClauses[i] = &AndNode{Conditions: []*Comparison{it.cmp}}
		newHandles[i] = it.handle
	}
	or.Clauses = newClauses
	return newHandles, true
}

// attrValue looks up a (possibly nested) attribute path in a document.
func attrValue(doc map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = doc
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Matches implements Matcher for a single comparison, letting a
// Comparison, AndNode, or OrNode stand in as the post-filter passed to
// NewFilterIterator once index specialisation has consumed what it can.
func (c *Comparison) Matches(doc map[string]interface{}) bool {
	val, ok := attrValue(doc, c.Attribute)
	if !ok {
		return false
	}
	return compare(val, c.Operator, c.Value)
}

// Matches implements Matcher for a conjunction of comparisons.
func (a *AndNode) Matches(doc map[string]interface{}) bool {
	for _, c := range a.Conditions {
		if !c.Matches(doc) {
			return false
		}
	}
	return true
}

// Matches implements Matcher for a disjunction of conjunctions.
func (o *OrNode) Matches(doc map[string]interface{}) bool {
	for _, and := range o.Clauses {
		if and.Matches(doc) {
			return true
		}
	}
	return false
}

func clauseRank(op Operator) int {
	switch op {
	case OpEq, OpIn:
		return 0
	case OpGte, OpLte:
		return 1
	default:
		return 2
	}
}
