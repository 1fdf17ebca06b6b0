package facade

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kartikbazzad/docfacade/internal/query"
	"github.com/kartikbazzad/docfacade/internal/transaction"
	"github.com/kartikbazzad/docfacade/rules"
	"github.com/kartikbazzad/docfacade/storage"
)

// Collection is a named set of documents plus the indexes maintained over
// them. The primary index is always present under name "_key"; secondary
// indexes are added via EnsureIndex.
type Collection struct {
	name string
	id   uint64
	db   *Database

	indexes map[string]*IndexHandle // index name -> handle
	primary *IndexHandle

	// followers is non-nil when this collection is a shard leader with
	// a replica set to fan writes out to. Nil on a plain single-node
	// collection.
	followers *FollowerSet

	// coordinatorPeer is the DBServer base URL a coordinator instance
	// dispatches this collection's single-document CRUD to. One peer
	// per collection: there is no intra-collection shard splitting.
	coordinatorPeer string

	mu sync.RWMutex
}

// SetFollowers installs (or replaces) the follower set replicated to
// after every successful local write.
func (c *Collection) SetFollowers(fs *FollowerSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followers = fs
}

// Followers returns the collection's current follower set, or nil if
// none is configured.
func (c *Collection) Followers() *FollowerSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.followers
}

// SetCoordinatorPeer records the DBServer base URL a coordinator routes
// this collection's CRUD dispatch to.
func (c *Collection) SetCoordinatorPeer(peerBaseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coordinatorPeer = peerBaseURL
}

// CoordinatorPeer returns the collection's configured dispatch peer, or
// "" if none is set.
func (c *Collection) CoordinatorPeer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coordinatorPeer
}

func newCollection(db *Database, name string, id uint64) *Collection {
	return &Collection{
		name:    name,
		id:      id,
		db:      db,
		indexes: make(map[string]*IndexHandle),
	}
}

// attachIndex wraps tree in a LocalIndex/IndexHandle, wires its
// root-change listener to the metadata catalog, and registers it on the
// collection (callers must hold c.mu or be during construction, where no
// lock is needed).
func (c *Collection) attachIndex(indexName string, kind IndexKind, fields [][]string, sparse bool, tree *storage.BPlusTree) *IndexHandle {
	idx := newLocalIndex(kind, fields, sparse, tree, c)
	handle := NewIndexHandle(idx)

	collName, name := c.name, indexName
	db := c.db
	tree.SetOnRootChange(func(newRootID storage.PageID) {
		if err := db.metadataMgr.UpdateIndexRoot(collName, name, newRootID); err != nil {
			fmt.Printf("[WARN] failed to persist index root for %s/%s: %v\n", collName, name, err)
		}
	})

	c.indexes[indexName] = handle
	if kind == IndexPrimary {
		c.primary = handle
	}
	return handle
}

// persistIndexes writes the full index map for this collection to the
// metadata catalog, used right after attaching a new index.
func (c *Collection) persistIndexes() error {
	out := make(map[string]IndexMeta, len(c.indexes))
	for name, h := range c.indexes {
		li, ok := h.Index().(*LocalIndex)
		if !ok {
			continue
		}
		out[name] = IndexMeta{
			Kind:   li.kind,
			Fields: li.fields,
			Sparse: li.sparse,
			RootID: uint64(li.tree.GetRootID()),
		}
	}
	return c.db.metadataMgr.UpdateIndexes(c.name, out)
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// ID returns the collection's numeric id, used by the custom-tagged `_id`
// blob encoding (identity.go).
func (c *Collection) ID() uint64 { return c.id }

// IndexHandles returns every index handle registered on the collection,
// consumed by the planner (planner.go). The order is stable (by index
// name) so the planner's first-encountered-wins tie-break resolves the
// same way on every run.
func (c *Collection) IndexHandles() []*IndexHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*IndexHandle, 0, len(names))
	for _, name := range names {
		out = append(out, c.indexes[name])
	}
	return out
}

// primaryHandle returns the collection's primary index handle, used by
// ANY/ALL cursor scans (cursor.go).
func (c *Collection) primaryHandle() *IndexHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.primary
}

// lookupByKey fetches the current primary copy of a document by its
// `_key`, used by secondary-index iterators (iterator.go) that only carry
// the key in their leaf value.
func (c *Collection) lookupByKey(key string) (storage.Document, error) {
	data, err := c.primary.Index().(*LocalIndex).tree.Search([]byte(key))
	if err != nil {
		return nil, wrapErr(ArangoDocumentNotFound, err, "document not found: %s", key)
	}
	return storage.DeserializeDocument(data)
}

// SetRules updates the collection's CEL access-policy rules, keyed by
// operation name.
func (c *Collection) SetRules(rulesMap map[string]string) error {
	return c.db.metadataMgr.UpdateCollectionRules(c.name, rulesMap)
}

// GetRules returns the collection's CEL access-policy rules.
func (c *Collection) GetRules() map[string]string {
	meta, ok := c.db.metadataMgr.GetCollection(c.name)
	if !ok {
		return nil
	}
	return meta.Rules
}

// evaluateRule checks whether an operation is allowed by the collection's
// CEL rules. An admin auth bypasses evaluation; a nil auth is evaluated
// as an unauthenticated request (request.auth is null). A collection
// with no rules for the op defaults to allow.
func (c *Collection) evaluateRule(op string, auth *rules.AuthContext, resource map[string]interface{}) error {
	if auth != nil && auth.IsAdmin {
		return nil
	}

	meta, ok := c.db.metadataMgr.GetCollection(c.name)
	if !ok || len(meta.Rules) == 0 {
		return nil
	}

	rule, ok := meta.Rules[op]
	if !ok {
		if op == "create" || op == "update" || op == "delete" {
			rule, ok = meta.Rules["write"]
		}
	}
	if !ok {
		return nil
	}

	reqData := map[string]interface{}{"auth": nil}
	if auth != nil {
		reqData["auth"] = map[string]interface{}{"uid": auth.UID, "claims": auth.Claims}
	}
	ctx := map[string]interface{}{
		"request":  reqData,
		"resource": map[string]interface{}{"data": resource},
	}

	allowed, err := c.db.RulesEngine.Evaluate(rule, ctx)
	if err != nil {
		return wrapErr(Internal, err, "rule evaluation error")
	}
	if !allowed {
		return wrapErr(ArangoDocumentTypeInvalid, nil, "permission denied: rule %q failed", op)
	}
	return nil
}

func generateKey() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func generateRev() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// maintainSecondaryIndexes updates every non-primary index for a document
// whose old (possibly nil) and new (possibly nil, meaning delete)
// values are given.
func (c *Collection) maintainSecondaryIndexes(key string, oldDoc, newDoc storage.Document) error {
	for name, h := range c.indexes {
		if name == "_key" {
			continue
		}
		li := h.Index().(*LocalIndex)

		oldValues, oldOK := fieldValues(li.fields, oldDoc)
		newValues, newOK := fieldValues(li.fields, newDoc)

		if oldOK && (!newOK || !valuesEqual(oldValues, newValues)) {
			_ = li.tree.Delete(compositeKey(oldValues, key))
		}
		if newOK && (!oldOK || !valuesEqual(oldValues, newValues)) {
			if err := li.tree.Insert(compositeKey(newValues, key), []byte(key)); err != nil {
				return wrapErr(Internal, err, "failed to maintain index %s", name)
			}
		}
	}
	return nil
}

// fieldValues extracts every field this index is keyed on from doc,
// returning ok=false if any field is missing (sparse behaviour: the
// document is simply absent from this index).
func fieldValues(fields [][]string, doc storage.Document) ([]interface{}, bool) {
	if doc == nil {
		return nil, false
	}
	values := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		v, ok := doc[fieldName(f)]
		if !ok {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

func valuesEqual(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if fmt.Sprintf("%v", a[i]) != fmt.Sprintf("%v", b[i]) {
			return false
		}
	}
	return true
}

// Insert adds a new document, assigning a key and revision if absent,
// then maintaining every secondary index.
func (c *Collection) Insert(auth *rules.AuthContext, txn *transaction.Transaction, doc storage.Document) error {
	if err := c.evaluateRule("create", auth, doc); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key, hasKey := doc.GetID()
	if !hasKey || key == "" {
		key = storage.DocumentID(generateKey())
	}
	rev := generateRev()

	identity, err := BuildDocumentIdentity(c.name, string(key), rev, nil, nil, nil)
	if err != nil {
		return err
	}
	for k, v := range identity {
		if k == "old" || k == "new" {
			continue
		}
		doc[k] = v
	}
	doc.SetID(key)

	data, err := doc.Serialize()
	if err != nil {
		return wrapErr(Internal, err, "failed to serialize document")
	}

	txnKey := c.name + "/" + string(key)
	if err := c.db.txnMgr.Write(txn, txnKey, data); err != nil {
		return wrapErr(TransactionInternal, err, "failed to write document")
	}

	primary := c.primary.Index().(*LocalIndex)
	if err := primary.tree.Insert([]byte(key), data); err != nil {
		return wrapErr(Internal, err, "failed to insert into primary index")
	}

	return c.maintainSecondaryIndexes(string(key), nil, doc)
}

// FindByID retrieves a document by key, giving read-your-own-writes via
// the transaction's write set before falling back to the primary index.
func (c *Collection) FindByID(auth *rules.AuthContext, txn *transaction.Transaction, key string) (storage.Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, err := c.findByIDLocked(txn, key)
	if err != nil {
		return nil, err
	}
	if err := c.evaluateRule("read", auth, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Collection) findByIDLocked(txn *transaction.Transaction, key string) (storage.Document, error) {
	txnKey := c.name + "/" + key

	if data, err := c.db.txnMgr.Read(txn, txnKey); err == nil && len(data) > 0 {
		doc, derr := storage.DeserializeDocument(data)
		if derr != nil {
			return nil, wrapErr(Internal, derr, "failed to deserialize document")
		}
		return doc, nil
	}

	primary := c.primary.Index().(*LocalIndex)
	data, err := primary.tree.Search([]byte(key))
	if err != nil {
		return nil, wrapErr(ArangoDocumentNotFound, err, "document not found: %s", key)
	}
	doc, err := storage.DeserializeDocument(data)
	if err != nil {
		return nil, wrapErr(Internal, err, "failed to deserialize document")
	}
	return doc, nil
}

// Update replaces a document's content, keeping its key and assigning a
// fresh revision.
func (c *Collection) Update(auth *rules.AuthContext, txn *transaction.Transaction, key string, doc storage.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldDoc, err := c.findByIDLocked(txn, key)
	if err != nil {
		return wrapErr(ArangoDocumentNotFound, err, "document not found for update: %s", key)
	}
	if err := c.evaluateRule("update", auth, doc); err != nil {
		return err
	}

	return c.updateLocked(txn, key, oldDoc, doc)
}

// Patch merges a partial update into the current document (dot-notation
// paths) and performs a full update.
func (c *Collection) Patch(auth *rules.AuthContext, txn *transaction.Transaction, key string, patch map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldDoc, err := c.findByIDLocked(txn, key)
	if err != nil {
		return err
	}

	newDoc := oldDoc.Clone()
	for path, v := range patch {
		parts := strings.Split(path, ".")
		cur := newDoc
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(storage.Document)
			if !ok {
				next = storage.Document{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	newDoc.SetID(storage.DocumentID(key))

	if err := c.evaluateRule("update", auth, newDoc); err != nil {
		return err
	}

	return c.updateLocked(txn, key, oldDoc, newDoc)
}

func (c *Collection) updateLocked(txn *transaction.Transaction, key string, oldDoc, newDoc storage.Document) error {
	rev := generateRev()
	oldRev, _ := oldDoc["_rev"].(string)

	identity, err := BuildDocumentIdentity(c.name, key, rev, &oldRev, nil, nil)
	if err != nil {
		return err
	}
	for k, v := range identity {
		if k == "old" || k == "new" {
			continue
		}
		newDoc[k] = v
	}
	newDoc.SetID(storage.DocumentID(key))

	data, err := newDoc.Serialize()
	if err != nil {
		return wrapErr(Internal, err, "failed to serialize document")
	}

	txnKey := c.name + "/" + key
	if err := c.db.txnMgr.Write(txn, txnKey, data); err != nil {
		return wrapErr(TransactionInternal, err, "failed to write document")
	}

	primary := c.primary.Index().(*LocalIndex)
	if err := primary.tree.Insert([]byte(key), data); err != nil {
		return wrapErr(Internal, err, "failed to update primary index")
	}

	return c.maintainSecondaryIndexes(key, oldDoc, newDoc)
}

// Delete removes a document, tombstoning its transactional write entry
// and cleaning up every secondary index.
func (c *Collection) Delete(auth *rules.AuthContext, txn *transaction.Transaction, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.findByIDLocked(txn, key)
	if err == nil {
		if rerr := c.evaluateRule("delete", auth, doc); rerr != nil {
			return rerr
		}
		if merr := c.maintainSecondaryIndexes(key, doc, nil); merr != nil {
			return merr
		}
	}

	txnKey := c.name + "/" + key
	if err := c.db.txnMgr.Write(txn, txnKey, []byte{}); err != nil {
		return wrapErr(TransactionInternal, err, "failed to delete document")
	}

	primary := c.primary.Index().(*LocalIndex)
	if err := primary.tree.Delete([]byte(key)); err != nil {
		fmt.Printf("[WARN] delete from primary index for %s/%s: %v\n", c.name, key, err)
	}
	return nil
}

// List returns documents with simple pagination, via the primary index's
// full scan (ANY/ALL path).
func (c *Collection) List(auth *rules.AuthContext, skip, limit int) ([]storage.Document, error) {
	if auth == nil || !auth.IsAdmin {
		if err := c.evaluateRule("list", auth, nil); err != nil {
			return nil, err
		}
	}

	cur, err := IndexScan(c, CursorAll, nil, nil, skip, negIfZero(limit), 1000, false)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var results []storage.Document
	for {
		batch, more, err := cur.GetMore()
		if err != nil {
			return results, err
		}
		results = append(results, batch...)
		if !more {
			break
		}
	}
	return results, nil
}

// negIfZero maps the conventional "0 means unlimited" limit to cursor.go's
// "-1 means unlimited" convention, leaving positive limits untouched.
func negIfZero(limit int) int {
	if limit == 0 {
		return -1
	}
	return limit
}

// Count returns the number of documents via a full primary scan. There is
// no maintained counter; this walks the index.
func (c *Collection) Count() int {
	c.mu.RLock()
	primary := c.primary
	c.mu.RUnlock()

	n := 0
	_ = primary.Index().InvokeOnAllElements(func(storage.Document) bool {
		n++
		return true
	})
	return n
}

// EnsureIndex creates a secondary index over fields (each a dotted
// attribute path, flattened by fieldName) if one doesn't already exist,
// backfilling it from the primary index.
func (c *Collection) EnsureIndex(kind IndexKind, fields [][]string, sparse bool) (*IndexHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	indexName := indexDisplayName(fields)
	if h, exists := c.indexes[indexName]; exists {
		return h, nil
	}

	fmt.Printf("[INFO] auto-creating %s index on %s.%s\n", kind, c.name, indexName)

	tree, err := storage.NewBPlusTree(c.db.bufferPool)
	if err != nil {
		return nil, wrapErr(Internal, err, "failed to create index")
	}
	handle := c.attachIndex(indexName, kind, fields, sparse, tree)
	li := handle.Index().(*LocalIndex)

	if err := c.primary.Index().InvokeOnAllElements(func(doc storage.Document) bool {
		key, _ := doc.GetID()
		values, ok := fieldValues(fields, doc)
		if ok {
			_ = li.tree.Insert(compositeKey(values, string(key)), []byte(key))
		}
		return true
	}); err != nil {
		return nil, wrapErr(Internal, err, "failed to backfill index")
	}

	if err := c.persistIndexes(); err != nil {
		return nil, err
	}
	return handle, nil
}

// DropIndex removes a secondary index by name ("_key" cannot be dropped).
func (c *Collection) DropIndex(indexName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if indexName == "_key" {
		return wrapErr(BadParameter, nil, "cannot drop primary index")
	}
	if _, exists := c.indexes[indexName]; !exists {
		return wrapErr(ArangoIndexNotFound, nil, "index not found: %s", indexName)
	}

	delete(c.indexes, indexName)
	fmt.Printf("[INFO] dropped index %s on %s\n", indexName, c.name)
	return c.persistIndexes()
}

// ListIndexes returns the names of every secondary index.
func (c *Collection) ListIndexes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.indexes))
	for name := range c.indexes {
		if name != "_key" {
			out = append(out, name)
		}
	}
	return out
}

// Find searches for documents matching field == value, lazily creating
// a hash index on field if none covers it yet.
func (c *Collection) Find(field string, value interface{}) ([]storage.Document, error) {
	if field == "_key" {
		// direct lookup path has no txn/auth context here; callers wanting
		// rule enforcement should use FindByID directly.
		doc, err := c.lookupByKey(fmt.Sprintf("%v", value))
		if err != nil {
			return nil, err
		}
		return []storage.Document{doc}, nil
	}

	fields := [][]string{{field}}
	indexName := indexDisplayName(fields)

	c.mu.RLock()
	_, exists := c.indexes[indexName]
	c.mu.RUnlock()

	if !exists {
		if _, err := c.EnsureIndex(IndexHash, fields, false); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	handle := c.indexes[indexName]
	c.mu.RUnlock()

	it, err := handle.Index().IteratorForSlice(map[string]interface{}{field: value})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var docs []storage.Document
	for it.Next() {
		doc, err := it.Value()
		if err == nil {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Query parses a map-shaped filter into DNF and runs it through
// FindQuery. The bound variable name is fixed; callers supplying a
// pre-built tree use FindQuery directly.
func (c *Collection) Query(auth *rules.AuthContext, filter map[string]interface{}, opts QueryOptions) ([]storage.Document, error) {
	or, err := query.ParseFilter("doc", filter)
	if err != nil {
		return nil, err
	}
	var sort *query.SortCondition
	if opts.SortField != "" {
		sort = &query.SortCondition{Fields: []query.SortField{{
			Attribute: []string{opts.SortField},
			Ascending: !opts.SortDesc,
		}}}
	}
	return c.FindQuery(auth, or, sort, opts)
}

// FindQuery executes a DNF-normalized filter tree against the collection,
// using GetBestIndexHandlesForFilterCondition (planner.go) to pick index
// scans per clause and falling back to a table scan plus post-filter
// otherwise.
func (c *Collection) FindQuery(auth *rules.AuthContext, or *query.OrNode, sort *query.SortCondition, opts QueryOptions) ([]storage.Document, error) {
	if auth == nil || !auth.IsAdmin {
		if err := c.evaluateRule("list", auth, nil); err != nil {
			return nil, err
		}
	}

	itemsIn := int64(c.Count())
	plan := GetBestIndexHandlesForFilterCondition(c, or, sort, itemsIn)

	var iters []Iterator
	if plan.CanUseForFilter && len(plan.Handles) == len(or.Clauses) {
		for i, and := range or.Clauses {
			h := plan.Handles[i]
			if h.Empty() {
				continue
			}
			it, err := h.Index().IteratorForCondition(and, or.Variable, sort != nil && !sort.Unidirectional())
			if err != nil {
				return nil, err
			}
			iters = append(iters, it)
		}
	} else {
		it, err := c.primary.Index().AllIterator(false)
		if err != nil {
			return nil, err
		}
		iters = []Iterator{NewFilterIterator(it, or)}
	}

	var combined Iterator
	if len(iters) == 1 {
		combined = iters[0]
	} else {
		combined = newChainIterator(iters)
	}
	defer combined.Close()

	if opts.SortField != "" && !plan.CanUseForSort {
		combined = NewSortIterator(combined, opts.SortField, opts.SortDesc)
	}
	if opts.Skip > 0 {
		combined = NewSkipIterator(combined, opts.Skip)
	}
	if opts.Limit > 0 {
		combined = NewLimitIterator(combined, opts.Limit)
	}

	var results []storage.Document
	for combined.Next() {
		doc, err := combined.Value()
		if err == nil {
			results = append(results, doc)
		}
	}
	return results, nil
}

// indexDisplayName renders a field-list into the catalog key used to
// store and look up an index definition.
func indexDisplayName(fields [][]string) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = fieldName(f)
	}
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}
