package facade

import (
	"github.com/kartikbazzad/docfacade/internal/query"
	"github.com/kartikbazzad/docfacade/storage"
)

// CursorKind selects which of the three cursor-construction modes
// IndexScan serves.
type CursorKind int

const (
	CursorAny CursorKind = iota
	CursorAll
	CursorIndex
)

// Cursor is a batched materialisation of an index scan: each GetMore
// call hands back up to BatchSize documents.
type Cursor struct {
	it        Iterator
	batchSize int
	limit     int // remaining, 0 after construction means "unlimited" unless limited was requested
	unlimited bool
	exhausted bool
}

// IndexScan builds a batched cursor over one collection.
//
// ANY and ALL require no index handle and no search slice; they use the
// primary index. INDEX requires a non-empty handle. On a coordinator
// (role == RoleCoordinator), index scans are refused outright. limit==0
// yields an empty, already-exhausted cursor. skip elements are consumed
// immediately after the iterator is built, before the first GetMore.
func IndexScan(coll *Collection, kind CursorKind, handle *IndexHandle, search map[string]interface{}, skip, limit, batchSize int, reverse bool) (*Cursor, error) {
	if coll.db.role == RoleCoordinator {
		return nil, ErrOnlyOnDBServer
	}

	switch kind {
	case CursorAny, CursorAll:
		if handle != nil && !handle.Empty() {
			return nil, wrapErr(BadParameter, nil, "ANY/ALL cursor must not carry an index handle")
		}
		if search != nil {
			return nil, wrapErr(BadParameter, nil, "ANY/ALL cursor must not carry a search slice")
		}
	case CursorIndex:
		if handle.Empty() {
			return nil, wrapErr(BadParameter, nil, "INDEX cursor requires a non-empty index handle")
		}
	default:
		return nil, wrapErr(BadParameter, nil, "unknown cursor kind")
	}

	if limit == 0 {
		return &Cursor{exhausted: true}, nil
	}

	primary := coll.primaryHandle()

	var it Iterator
	var err error
	switch kind {
	case CursorAny:
		it, err = primary.Index().AnyIterator()
	case CursorAll:
		it, err = primary.Index().AllIterator(reverse)
	case CursorIndex:
		if search != nil {
			it, err = handle.Index().IteratorForSlice(search)
		} else {
			it, err = handle.Index().AllIterator(reverse)
		}
	}
	if err != nil {
		return nil, err
	}

	if skip > 0 {
		it = NewSkipIterator(it, skip)
	}

	c := &Cursor{it: it, batchSize: batchSize}
	if limit > 0 {
		c.limit = limit
	} else {
		c.unlimited = true
	}
	return c, nil
}

// IndexScanForCondition builds an INDEX cursor directly from a specialized
// condition, the path used by the local CRUD pipeline's query execution
// rather than a raw search slice.
func IndexScanForCondition(coll *Collection, handle *IndexHandle, cond *query.AndNode, variable string, reverse bool, skip, limit, batchSize int) (*Cursor, error) {
	if coll.db.role == RoleCoordinator {
		return nil, ErrOnlyOnDBServer
	}
	if handle.Empty() {
		return nil, wrapErr(BadParameter, nil, "INDEX cursor requires a non-empty index handle")
	}
	if limit == 0 {
		return &Cursor{exhausted: true}, nil
	}

	it, err := handle.Index().IteratorForCondition(cond, variable, reverse)
	if err != nil {
		return nil, err
	}
	if skip > 0 {
		it = NewSkipIterator(it, skip)
	}

	c := &Cursor{it: it, batchSize: batchSize}
	if limit > 0 {
		c.limit = limit
	} else {
		c.unlimited = true
	}
	return c, nil
}

// GetMore returns up to BatchSize documents and whether more remain.
func (c *Cursor) GetMore() ([]storage.Document, bool, error) {
	if c.exhausted || c.it == nil {
		return nil, false, nil
	}

	batch := c.batchSize
	if batch <= 0 {
		batch = 1000
	}

	var docs []storage.Document
	for len(docs) < batch {
		if !c.unlimited {
			if c.limit <= 0 {
				c.exhausted = true
				break
			}
		}
		if !c.it.Next() {
			c.exhausted = true
			break
		}
		doc, err := c.it.Value()
		if err != nil {
			return docs, !c.exhausted, err
		}
		docs = append(docs, doc)
		if !c.unlimited {
			c.limit--
		}
	}

	if c.exhausted {
		c.it.Close()
	}
	return docs, !c.exhausted, nil
}

// Close releases the underlying iterator.
func (c *Cursor) Close() error {
	if c.it == nil {
		return nil
	}
	return c.it.Close()
}
