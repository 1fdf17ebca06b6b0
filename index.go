package facade

import (
	"fmt"
	"strings"

	"github.com/kartikbazzad/docfacade/internal/query"
	"github.com/kartikbazzad/docfacade/storage"
)

// Iterator is a cursor over documents, shared by table scans, index
// scans, and the filter/sort/skip/limit wrappers composed over them.
type Iterator interface {
	Next() bool
	Value() (storage.Document, error)
	Close() error
}

// IndexKind is a closed tag over the index implementations: a small,
// fixed set of concrete behaviours dispatched on by a switch, all
// backed by the same
// storage.BPlusTree family.
type IndexKind string

const (
	IndexPrimary  IndexKind = "primary"
	IndexHash     IndexKind = "hash"
	IndexSkiplist IndexKind = "skiplist"
)

// Index is the uniform capability surface consumed by the planner and
// cursor factory. The engine never exposes more than this to either.
type Index interface {
	Type() string
	Fields() [][]string
	IsSorted() bool
	Sparse() bool

	SupportsFilterCondition(and *query.AndNode, variable string, itemsIn int64) (supports bool, estimatedItems int64, estimatedCost float64)
	SupportsSortCondition(sort *query.SortCondition, variable string, itemsIn int64) (supports bool, estimatedCost float64, coveredAttributes int)
	SpecializeCondition(and *query.AndNode, variable string) *query.AndNode

	IteratorForCondition(and *query.AndNode, variable string, reverse bool) (Iterator, error)
	IteratorForSlice(search map[string]interface{}) (Iterator, error)
	AllIterator(reverse bool) (Iterator, error)
	AnyIterator() (Iterator, error)

	InvokeOnAllElements(cb func(storage.Document) bool) error
	InvokeOnAllElementsForRemoval(cb func(storage.Document) bool) error
}

// IndexHandle is a shared-ownership holder over an index: multiple
// handles may reference the same underlying Index, and equality is
// reference equality on it. The engine hands these out from a
// per-collection index registry rather than the indices owning their
// own lifetime.
type IndexHandle struct {
	idx Index
}

// NewIndexHandle wraps idx in a handle.
func NewIndexHandle(idx Index) *IndexHandle {
	return &IndexHandle{idx: idx}
}

// Empty reports whether the handle carries no index — passing one of
// these to the cursor factory for an INDEX scan is a BAD_PARAMETER.
func (h *IndexHandle) Empty() bool {
	return h == nil || h.idx == nil
}

// Index returns the underlying index.
func (h *IndexHandle) Index() Index {
	if h == nil {
		return nil
	}
	return h.idx
}

// Equal is reference equality on the underlying index.
func (h *IndexHandle) Equal(o *IndexHandle) bool {
	if h == nil || o == nil {
		return h == o
	}
	return h.idx == o.idx
}

// Descriptor is the handle's serialisation passthrough: it writes
// enough of the index's shape to reconstruct its type and fields, plus
// basic figures when requested.
func (h *IndexHandle) Descriptor(withFigures bool) map[string]interface{} {
	if h.Empty() {
		return nil
	}
	d := map[string]interface{}{
		"type":   h.idx.Type(),
		"fields": h.idx.Fields(),
		"sorted": h.idx.IsSorted(),
		"sparse": h.idx.Sparse(),
	}
	if withFigures {
		d["figures"] = map[string]interface{}{} // no live statistics tracked locally
	}
	return d
}

// LocalIndex is the concrete index family backing local collections: the
// primary index, a hash-like equality index, and a skiplist-like sorted
// index are all configurations of the same storage.BPlusTree, consumed
// only through the Index interface above.
type LocalIndex struct {
	kind   IndexKind
	fields [][]string // for primary, [["_key"]]
	sparse bool
	tree   *storage.BPlusTree
	coll   *Collection // owning collection, for doc lookup by primary key
}

func newLocalIndex(kind IndexKind, fields [][]string, sparse bool, tree *storage.BPlusTree, coll *Collection) *LocalIndex {
	return &LocalIndex{kind: kind, fields: fields, sparse: sparse, tree: tree, coll: coll}
}

func (idx *LocalIndex) Type() string       { return string(idx.kind) }
func (idx *LocalIndex) Fields() [][]string { return idx.fields }
func (idx *LocalIndex) IsSorted() bool     { return idx.kind != IndexHash }
func (idx *LocalIndex) Sparse() bool       { return idx.sparse }

// fieldName renders a one-level attribute path (the only kind this
// planner's composite keys deal with) as a flat string.
func fieldName(path []string) string {
	return strings.Join(path, ".")
}

// matchPrefix reports how many leading fields of the index are matched
// by equality comparisons in and, and whether the field right after that
// prefix carries a usable range comparison (>,>=,<,<=) or an IN.
func (idx *LocalIndex) matchPrefix(and *query.AndNode) (eqPrefix int, hasRangeNext bool) {
	byField := make(map[string]*query.Comparison, len(and.Conditions))
	for _, c := range and.Conditions {
		byField[fieldName(c.Attribute)] = c
	}
	for _, f := range idx.fields {
		c, ok := byField[fieldName(f)]
		if !ok {
			return eqPrefix, false
		}
		if c.Operator == query.OpEq {
			eqPrefix++
			continue
		}
		switch c.Operator {
		case query.OpGt, query.OpGte, query.OpLt, query.OpLte, query.OpIn:
			return eqPrefix, true
		default:
			return eqPrefix, false
		}
	}
	return eqPrefix, false
}

func (idx *LocalIndex) SupportsFilterCondition(and *query.AndNode, variable string, itemsIn int64) (bool, int64, float64) {
	if and == nil || len(and.Conditions) == 0 {
		return false, itemsIn, float64(itemsIn) * 1.5
	}

	switch idx.kind {
	case IndexPrimary:
		for _, c := range and.Conditions {
			if fieldName(c.Attribute) == "_key" && c.Operator == query.OpEq {
				return true, 1, 1.0
			}
		}
		return false, itemsIn, float64(itemsIn) * 1.5

	case IndexHash:
		eqPrefix, _ := idx.matchPrefix(and)
		if eqPrefix == len(idx.fields) {
			// Every field of the key matched by equality: a point lookup.
			return true, 1, 2.0
		}
		return false, itemsIn, float64(itemsIn) * 1.5

	case IndexSkiplist:
		eqPrefix, hasRange := idx.matchPrefix(and)
		if eqPrefix == 0 && !hasRange {
			return false, itemsIn, float64(itemsIn) * 1.5
		}
		estimated := itemsIn
		cost := float64(eqPrefix) + 1.0
		if hasRange {
			estimated = itemsIn/10 + 1
			cost += 3.0
		} else {
			estimated = 1
		}
		return true, estimated, cost

	default:
		return false, itemsIn, float64(itemsIn) * 1.5
	}
}

func (idx *LocalIndex) SupportsSortCondition(sort *query.SortCondition, variable string, itemsIn int64) (bool, float64, int) {
	if sort == nil || len(sort.Fields) == 0 {
		return true, 0, 0
	}
	if idx.kind == IndexHash {
		return false, float64(itemsIn) * 1.5, 0
	}
	// Sorted index (primary, skiplist): supports the sort if the
	// requested fields are a prefix of the index's own field order.
	covered := 0
	for covered < len(sort.Fields) && covered < len(idx.fields) {
		if fieldName(sort.Fields[covered].Attribute) != fieldName(idx.fields[covered]) {
			break
		}
		covered++
	}
	if covered == len(sort.Fields) {
		return true, 0, covered
	}
	return false, float64(itemsIn) * 1.5, covered
}

// SpecializeCondition rewrites and to the subset this index can push
// down: the equality prefix plus, for skiplist indexes, one trailing
// range comparison. Anything else is left for a post-filter (the engine
// doesn't strip it here — it just reports what was consumed).
func (idx *LocalIndex) SpecializeCondition(and *query.AndNode, variable string) *query.AndNode {
	if and == nil {
		return nil
	}
	eqPrefix, hasRange := idx.matchPrefix(and)
	limit := eqPrefix
	if hasRange {
		limit++
	}
	if limit >= len(and.Conditions) {
		return and
	}

	byField := make(map[string]*query.Comparison, len(and.Conditions))
	for _, c := range and.Conditions {
		byField[fieldName(c.Attribute)] = c
	}
	out := &AndNodeBuilder{}
	for i, f := range idx.fields {
		if i >= limit {
			break
		}
		if c, ok := byField[fieldName(f)]; ok {
			out.conditions = append(out.conditions, c)
		}
	}
	return &query.AndNode{Conditions: out.conditions}
}

// AndNodeBuilder is a tiny accumulator used only by SpecializeCondition.
type AndNodeBuilder struct {
	conditions []*query.Comparison
}

// compositeKey builds the `value\x00value...\x00id` key used by hash
// and skiplist indexes.
func compositeKey(values []interface{}, id string) []byte {
	parts := make([]string, 0, len(values)+1)
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%v", v))
	}
	parts = append(parts, id)
	return []byte(strings.Join(parts, "\x00"))
}

func (idx *LocalIndex) IteratorForSlice(search map[string]interface{}) (Iterator, error) {
	values := make([]interface{}, 0, len(idx.fields))
	for _, f := range idx.fields {
		v, ok := search[fieldName(f)]
		if !ok {
			return nil, wrapErr(ArangoIndexHandleBad, nil, "search slice missing field %s", fieldName(f))
		}
		values = append(values, v)
	}
	prefix := compositeKey(values, "")
	start := prefix
	end := append(append([]byte{}, prefix...), 0xFF)
	entries, err := idx.tree.RangeScan(start, end)
	if err != nil {
		return nil, wrapErr(Internal, err, "index range scan")
	}
	return newDocLookupIterator(idx.coll, entries), nil
}

func (idx *LocalIndex) IteratorForCondition(and *query.AndNode, variable string, reverse bool) (Iterator, error) {
	if and == nil {
		return idx.AllIterator(reverse)
	}
	byField := make(map[string]*query.Comparison, len(and.Conditions))
	for _, c := range and.Conditions {
		byField[fieldName(c.Attribute)] = c
	}

	var eqValues []interface{}
	var rangeCmp *query.Comparison
	for _, f := range idx.fields {
		c, ok := byField[fieldName(f)]
		if !ok {
			break
		}
		if c.Operator == query.OpEq {
			eqValues = append(eqValues, c.Value)
			continue
		}
		rangeCmp = c
		break
	}

	prefix := compositeKey(eqValues, "")
	start, end := prefix, append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	if rangeCmp != nil {
		bound := []byte(fmt.Sprintf("%v", rangeCmp.Value))
		switch rangeCmp.Operator {
		case query.OpGt, query.OpGte:
			start = append(append([]byte{}, prefix...), bound...)
		case query.OpLt, query.OpLte:
			end = append(append([]byte{}, prefix...), bound...)
		}
	}

	entries, err := idx.tree.RangeScan(start, end)
	if err != nil {
		return nil, wrapErr(Internal, err, "index range scan for condition")
	}
	return newDocLookupIterator(idx.coll, entries), nil
}

func (idx *LocalIndex) AllIterator(reverse bool) (Iterator, error) {
	entries, err := idx.tree.RangeScan([]byte{0x00}, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	if err != nil {
		return nil, wrapErr(Internal, err, "full index scan")
	}
	if reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	if idx.kind == IndexPrimary {
		return newDocValueIterator(entries), nil
	}
	return newDocLookupIterator(idx.coll, entries), nil
}

func (idx *LocalIndex) AnyIterator() (Iterator, error) {
	return idx.AllIterator(false)
}

func (idx *LocalIndex) InvokeOnAllElements(cb func(storage.Document) bool) error {
	it, err := idx.AllIterator(false)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		doc, err := it.Value()
		if err != nil {
			return err
		}
		if !cb(doc) {
			break
		}
	}
	return nil
}

func (idx *LocalIndex) InvokeOnAllElementsForRemoval(cb func(storage.Document) bool) error {
	return idx.InvokeOnAllElements(cb)
}
