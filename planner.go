package facade

import "github.com/kartikbazzad/docfacade/internal/query"

// FindIndexHandleForAndNode picks the cheapest index of coll for one
// conjunction plus an optional sort condition.
//
// Returns (supportsFilter, supportsSort) describing the winner's
// capability, the winning handle (nil if none qualified), and whether
// the winner is sparse.
func FindIndexHandleForAndNode(coll *Collection, and *query.AndNode, variable string, sort *query.SortCondition, itemsIn int64) (bool, bool, *IndexHandle, bool) {
	var (
		best       *IndexHandle
		bestCost   float64
		bestFilter bool
		bestSort   bool
		found      bool
	)

	for _, h := range coll.IndexHandles() {
		idx := h.Index()

		supportsFilter, _, filterCost := idx.SupportsFilterCondition(and, variable, itemsIn)
		if !supportsFilter {
			filterCost = float64(itemsIn) * 1.5
		}

		supportsSortLocal := false
		sortCost := 0.0
		if sort.Unidirectional() {
			var ok bool
			ok, sortCost, _ = idx.SupportsSortCondition(sort, variable, itemsIn)
			supportsSortLocal = ok
			if !supportsSortLocal && isAllEquality(and) && coversSortPrefix(idx, sort) {
				supportsSortLocal = true
				sortCost = 0
			}
		}

		if !supportsFilter && !supportsSortLocal {
			continue
		}

		total := filterCost + sortCost
		if !found || total < bestCost {
			found = true
			bestCost = total
			best = h
			bestFilter = supportsFilter
			bestSort = supportsSortLocal
		}
	}

	if !found {
		return false, false, nil, false
	}

	best.Index().SpecializeCondition(and, variable)
	return bestFilter, bestSort, best, best.Index().Sparse()
}

func isAllEquality(and *query.AndNode) bool {
	for _, c := range and.Conditions {
		if c.Operator != query.OpEq {
			return false
		}
	}
	return true
}

func coversSortPrefix(idx Index, sort *query.SortCondition) bool {
	if sort == nil || len(sort.Fields) == 0 {
		return true
	}
	fields := idx.Fields()
	if len(fields) < len(sort.Fields) {
		return false
	}
	for i, sf := range sort.Fields {
		if fieldName(sf.Attribute) != fieldName(fields[i]) {
			return false
		}
	}
	return true
}

// PlannedOr is the outcome of planning every AND child of an OR root.
type PlannedOr struct {
	CanUseForFilter bool
	CanUseForSort   bool
	Handles         []*IndexHandle
}

// GetBestIndexHandlesForFilterCondition walks each AND child of or,
// invoking FindIndexHandleForAndNode, then aggregates and (when every
// clause supports filtering) normalises the OR root via query.SortOrs.
func GetBestIndexHandlesForFilterCondition(coll *Collection, or *query.OrNode, sort *query.SortCondition, itemsIn int64) *PlannedOr {
	result := &PlannedOr{CanUseForFilter: true}

	var sortOnlyHandle *IndexHandle
	sortOnlySparse := false
	sawSortOnly := false

	for _, and := range or.Clauses {
		supportsFilter, supportsSort, handle, sparse := FindIndexHandleForAndNode(coll, and, or.Variable, sort, itemsIn)

		result.CanUseForFilter = result.CanUseForFilter && supportsFilter
		result.CanUseForSort = result.CanUseForSort || supportsSort

		if !supportsFilter && supportsSort {
			sawSortOnly = true
			sortOnlyHandle = handle
			sortOnlySparse = sparse
		}

		result.Handles = append(result.Handles, handle)
	}

	// A clause that can only serve the sort, not the filter, discards
	// every other choice, unless it's sparse, in which case it can't
	// serve the sort either (a sparse index skips documents, so it can
	// never yield a complete order).
	if sawSortOnly {
		if sortOnlySparse {
			return &PlannedOr{CanUseForFilter: false, CanUseForSort: false}
		}
		return &PlannedOr{CanUseForFilter: false, CanUseForSort: true, Handles: []*IndexHandle{sortOnlyHandle}}
	}

	if result.CanUseForFilter {
		asInterface := make([]interface{}, len(result.Handles))
		for i, h := range result.Handles {
			asInterface[i] = h
		}
		if reordered, ok := query.SortOrs(or, asInterface); ok {
			newHandles := make([]*IndexHandle, len(reordered))
			for i, v := range reordered {
				newHandles[i], _ = v.(*IndexHandle)
			}
			result.Handles = newHandles
		}
	}

	return result
}
