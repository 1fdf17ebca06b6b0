package facade

import (
	"sort"

	"github.com/kartikbazzad/docfacade/internal/query"
	"github.com/kartikbazzad/docfacade/storage"
)

// docValueIterator walks entries whose value is already a serialized
// document (the primary index scheme).
type docValueIterator struct {
	entries []storage.Entry
	pos     int
	cur     storage.Document
}

func newDocValueIterator(entries []storage.Entry) Iterator {
	return &docValueIterator{entries: entries, pos: -1}
}

func (it *docValueIterator) Next() bool {
	it.pos++
	for it.pos < len(it.entries) {
		doc, err := storage.DeserializeDocument(it.entries[it.pos].Value)
		if err == nil && len(doc) > 0 {
			it.cur = doc
			return true
		}
		it.pos++
	}
	return false
}

func (it *docValueIterator) Value() (storage.Document, error) { return it.cur, nil }
func (it *docValueIterator) Close() error                     { return nil }

// docLookupIterator walks entries whose value is a document key, fetching
// the current primary copy for each (the secondary-index scheme).
type docLookupIterator struct {
	coll    *Collection
	entries []storage.Entry
	pos     int
	cur     storage.Document
}

func newDocLookupIterator(coll *Collection, entries []storage.Entry) Iterator {
	return &docLookupIterator{coll: coll, entries: entries, pos: -1}
}

func (it *docLookupIterator) Next() bool {
	it.pos++
	for it.pos < len(it.entries) {
		doc, err := it.coll.lookupByKey(string(it.entries[it.pos].Value))
		if err == nil {
			it.cur = doc
			return true
		}
		it.pos++
	}
	return false
}

func (it *docLookupIterator) Value() (storage.Document, error) { return it.cur, nil }
func (it *docLookupIterator) Close() error                     { return nil }

// filterIterator wraps another iterator, emitting only documents that
// satisfy an AST matcher (the post-filter left over after specialisation).
type filterIterator struct {
	inner   Iterator
	matcher query.Matcher
	cur     storage.Document
}

func NewFilterIterator(inner Iterator, matcher query.Matcher) Iterator {
	return &filterIterator{inner: inner, matcher: matcher}
}

func (it *filterIterator) Next() bool {
	for it.inner.Next() {
		doc, err := it.inner.Value()
		if err != nil {
			continue
		}
		if it.matcher == nil || it.matcher.Matches(doc) {
			it.cur = doc
			return true
		}
	}
	return false
}

func (it *filterIterator) Value() (storage.Document, error) { return it.cur, nil }
func (it *filterIterator) Close() error                     { return it.inner.Close() }

// skipIterator discards the first n documents.
type skipIterator struct {
	inner     Iterator
	remaining int
}

func NewSkipIterator(inner Iterator, n int) Iterator {
	return &skipIterator{inner: inner, remaining: n}
}

func (it *skipIterator) Next() bool {
	for it.remaining > 0 {
		if !it.inner.Next() {
			return false
		}
		it.remaining--
	}
	return it.inner.Next()
}

func (it *skipIterator) Value() (storage.Document, error) { return it.inner.Value() }
func (it *skipIterator) Close() error                     { return it.inner.Close() }

// limitIterator stops after n documents.
type limitIterator struct {
	inner     Iterator
	remaining int
}

func NewLimitIterator(inner Iterator, n int) Iterator {
	return &limitIterator{inner: inner, remaining: n}
}

func (it *limitIterator) Next() bool {
	if it.remaining <= 0 {
		return false
	}
	it.remaining--
	return it.inner.Next()
}

func (it *limitIterator) Value() (storage.Document, error) { return it.inner.Value() }
func (it *limitIterator) Close() error                     { return it.inner.Close() }

// chainIterator concatenates several iterators in order, used when a
// DNF root's clauses were each planned against a different index scan
// and need to be presented to the caller as a single stream.
type chainIterator struct {
	iters []Iterator
	pos   int
	cur   storage.Document
}

func newChainIterator(iters []Iterator) Iterator {
	return &chainIterator{iters: iters}
}

func (it *chainIterator) Next() bool {
	for it.pos < len(it.iters) {
		if it.iters[it.pos].Next() {
			doc, err := it.iters[it.pos].Value()
			if err != nil {
				continue
			}
			it.cur = doc
			return true
		}
		it.pos++
	}
	return false
}

func (it *chainIterator) Value() (storage.Document, error) { return it.cur, nil }

func (it *chainIterator) Close() error {
	var firstErr error
	for _, sub := range it.iters {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sortIterator buffers the whole input and sorts it in memory, for the
// case where no index order covers the requested sort.
type sortIterator struct {
	docs []storage.Document
	pos  int
}

func NewSortIterator(inner Iterator, field string, desc bool) Iterator {
	var docs []storage.Document
	for inner.Next() {
		if doc, err := inner.Value(); err == nil {
			docs = append(docs, doc)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		c := query.CompareValues(docs[i][field], docs[j][field])
		if desc {
			return c > 0
		}
		return c < 0
	})
	return &sortIterator{docs: docs, pos: -1}
}

func (it *sortIterator) Next() bool {
	it.pos++
	return it.pos < len(it.docs)
}

func (it *sortIterator) Value() (storage.Document, error) { return it.docs[it.pos], nil }
func (it *sortIterator) Close() error                     { return nil }
