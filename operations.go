package facade

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/kartikbazzad/docfacade/storage"
)

// OperationResult is what every CRUD operation returns: a status code, an
// optional tagged-tree payload, and — for multi-document operations — a
// per-error-kind counter map. WaitForSync reflects the option bit
// requested on the call, not whether the engine actually synced.
type OperationResult struct {
	Code        ErrorKind
	Message     string
	Payload     map[string]interface{}   // single-document form
	Payloads    []map[string]interface{} // multi-document form, parallel to the input array
	CountByKind map[ErrorKind]int
	WaitForSync bool
}

// Ok reports whether Code is NoError.
func (r *OperationResult) Ok() bool { return r.Code == NoError }

func newResult(code ErrorKind, waitForSync bool) *OperationResult {
	return &OperationResult{Code: code, WaitForSync: waitForSync}
}

// DocumentOptions configures a single- or multi-document read.
type DocumentOptions struct {
	IgnoreRevs bool
	Silent     bool
}

// InsertOptions configures an insert.
type InsertOptions struct {
	WaitForSync bool
	Silent      bool
	ReturnNew   bool
}

// UpdateOptions configures an update or replace.
type UpdateOptions struct {
	WaitForSync bool
	IgnoreRevs  bool
	Silent      bool
	ReturnOld   bool
	ReturnNew   bool
}

// RemoveOptions configures a remove.
type RemoveOptions struct {
	WaitForSync bool
	IgnoreRevs  bool
	Silent      bool
	ReturnOld   bool
}

// TruncateOptions configures a truncate.
type TruncateOptions struct {
	WaitForSync bool
}

// KeyForm selects the prefix emitted by AllKeys.
type KeyForm int

const (
	KeyFormPlain KeyForm = iota // ""
	KeyFormID                   // "<collection>/"
	KeyFormURL                  // "/_db/<database>/_api/document/<collection>/"
)

// ListOptions configures All/AllKeys/Any paging.
type ListOptions struct {
	Skip      int
	Limit     int
	BatchSize int // defaults to 1000
}

func (o ListOptions) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return 1000
}

// db returns the database this transaction was begun against.
func (t *Transaction) db() *Database {
	if t.ctx == nil {
		return nil
	}
	return t.ctx.db
}

func asArray(value interface{}) ([]interface{}, bool) {
	arr, ok := value.([]interface{})
	return arr, ok
}

func asDoc(value interface{}) (map[string]interface{}, bool) {
	m, ok := value.(map[string]interface{})
	return m, ok
}

// extractRev pulls the caller-supplied expected `_rev` out of an entry
// that may be a bare key string, an object, or already a document.
func extractRev(value interface{}) (string, bool) {
	obj, ok := asDoc(value)
	if !ok {
		return "", false
	}
	rev, ok := obj["_rev"].(string)
	return rev, ok
}

// checkRevision enforces the optimistic revision check: unless
// ignoreRevs is set, a non-empty expected revision must match the stored
// one, else the operation conflicts.
func checkRevision(stored map[string]interface{}, expected string, ignoreRevs bool) bool {
	if ignoreRevs || expected == "" {
		return true
	}
	cur, _ := stored["_rev"].(string)
	return cur == expected
}

// Document reads one or many documents. value is either a
// single key/identity entry or an array of them.
func (t *Transaction) Document(collName string, value interface{}, opts DocumentOptions) (*OperationResult, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return t.coordinatorDocument(collName, value, opts)
	}

	coll, err := db.GetCollection(collName)
	if err != nil {
		return newResult(KindOf(err), false), err
	}

	if arr, ok := asArray(value); ok {
		result := newResult(NoError, false)
		result.CountByKind = make(map[ErrorKind]int)
		for _, entry := range arr {
			payload, kind, _ := t.localDocumentOne(coll, entry, opts)
			if kind != NoError {
				result.CountByKind[kind]++
			}
			result.Payloads = append(result.Payloads, payload)
		}
		return result, nil
	}

	payload, kind, err := t.localDocumentOne(coll, value, opts)
	result := newResult(kind, false)
	result.Payload = payload
	return result, err
}

func (t *Transaction) localDocumentOne(coll *Collection, entry interface{}, opts DocumentOptions) (map[string]interface{}, ErrorKind, error) {
	key := ExtractKey(entry)
	if key == "" {
		return nil, ArangoDocumentKeyBad, wrapErr(ArangoDocumentKeyBad, nil, "could not extract _key")
	}

	doc, err := coll.FindByID(nil, t.EngineHandle(), key)
	if err != nil {
		return nil, KindOf(err), err
	}

	if expected, hasRev := extractRev(entry); hasRev && !checkRevision(doc, expected, opts.IgnoreRevs) {
		if opts.Silent {
			return nil, ArangoConflict, ErrConflict
		}
		rev, _ := doc["_rev"].(string)
		identity, _ := BuildDocumentIdentity(coll.Name(), key, rev, nil, nil, nil)
		return identity, ArangoConflict, ErrConflict
	}

	if opts.Silent {
		return nil, NoError, nil
	}
	return doc, NoError, nil
}

// Insert stores one document or a batch. A single element succeeds or
// fails as one operation; an array processes every element, counting
// per-document failures without aborting the batch.
func (t *Transaction) Insert(collName string, value interface{}, opts InsertOptions) (*OperationResult, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return t.coordinatorInsert(collName, value, opts)
	}

	coll, err := db.GetCollection(collName)
	if err != nil {
		return newResult(KindOf(err), opts.WaitForSync), err
	}

	if arr, ok := asArray(value); ok {
		result := newResult(NoError, opts.WaitForSync)
		result.CountByKind = make(map[ErrorKind]int)
		for _, entry := range arr {
			doc, ok := asDoc(entry)
			if !ok {
				result.CountByKind[ArangoDocumentTypeInvalid]++
				result.Payloads = append(result.Payloads, nil)
				continue
			}
			payload, kind, _ := t.localInsertOne(coll, doc, opts)
			if kind != NoError {
				t.MarkFailed()
				result.CountByKind[kind]++
			}
			result.Payloads = append(result.Payloads, payload)
		}
		return result, nil
	}

	doc, ok := asDoc(value)
	if !ok {
		return newResult(ArangoDocumentTypeInvalid, opts.WaitForSync), ErrDocumentTypeInvalid
	}
	payload, kind, err := t.localInsertOne(coll, doc, opts)
	if err != nil {
		t.MarkFailed()
	}
	result := newResult(kind, opts.WaitForSync)
	result.Payload = payload
	return result, err
}

func (t *Transaction) localInsertOne(coll *Collection, doc map[string]interface{}, opts InsertOptions) (map[string]interface{}, ErrorKind, error) {
	sdoc := storage.Document(doc)
	if err := coll.Insert(nil, t.EngineHandle(), sdoc); err != nil {
		return nil, KindOf(err), err
	}

	key, _ := sdoc["_key"].(string)
	rev, _ := sdoc["_rev"].(string)
	identity, err := BuildDocumentIdentity(coll.Name(), key, rev, nil, nil, nil)
	if err != nil {
		return nil, Internal, err
	}

	t.replicateIfLeader(coll, "POST", sdoc, opts.WaitForSync)

	if opts.Silent {
		return nil, NoError, nil
	}
	if opts.ReturnNew {
		identity["new"] = map[string]interface{}(sdoc)
	}
	return identity, NoError, nil
}

// Update patches stored documents (partial merge semantics are
// left to Collection.Patch, consumed here as the single-document step).
func (t *Transaction) Update(collName string, value interface{}, opts UpdateOptions) (*OperationResult, error) {
	return t.applyWrite(collName, value, opts, func(coll *Collection, key string, oldDoc map[string]interface{}, patch map[string]interface{}) (map[string]interface{}, error) {
		if err := coll.Patch(nil, t.EngineHandle(), key, patch); err != nil {
			return nil, err
		}
		return coll.FindByID(nil, t.EngineHandle(), key)
	}, "PATCH")
}

// Replace overwrites stored documents: the new document wholly
// supersedes the old one rather than being merged into it.
func (t *Transaction) Replace(collName string, value interface{}, opts UpdateOptions) (*OperationResult, error) {
	return t.applyWrite(collName, value, opts, func(coll *Collection, key string, oldDoc map[string]interface{}, newDoc map[string]interface{}) (map[string]interface{}, error) {
		if err := coll.Update(nil, t.EngineHandle(), key, storage.Document(newDoc)); err != nil {
			return nil, err
		}
		return coll.FindByID(nil, t.EngineHandle(), key)
	}, "PUT")
}

// applyWrite is the shared update/replace pipeline: single documents
// succeed or fail as one operation; an array stops processing at the
// first per-document failure, unlike Insert's
// continue-on-error batch.
func (t *Transaction) applyWrite(collName string, value interface{}, opts UpdateOptions, step func(coll *Collection, key string, oldDoc, newDoc map[string]interface{}) (map[string]interface{}, error), httpMethod string) (*OperationResult, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return t.coordinatorWrite(collName, value, opts, httpMethod)
	}

	coll, err := db.GetCollection(collName)
	if err != nil {
		return newResult(KindOf(err), opts.WaitForSync), err
	}

	if arr, ok := asArray(value); ok {
		result := newResult(NoError, opts.WaitForSync)
		result.CountByKind = make(map[ErrorKind]int)
		for _, entry := range arr {
			payload, kind, werr := t.applyWriteOne(coll, entry, opts, step, httpMethod)
			result.Payloads = append(result.Payloads, payload)
			if kind != NoError {
				t.MarkFailed()
				result.CountByKind[kind]++
				result.Code = kind
				_ = werr
				break // first failure stops the batch
			}
		}
		return result, nil
	}

	payload, kind, werr := t.applyWriteOne(coll, value, opts, step, httpMethod)
	if werr != nil {
		t.MarkFailed()
	}
	result := newResult(kind, opts.WaitForSync)
	result.Payload = payload
	return result, werr
}

func (t *Transaction) applyWriteOne(coll *Collection, entry interface{}, opts UpdateOptions, step func(coll *Collection, key string, oldDoc, newDoc map[string]interface{}) (map[string]interface{}, error), httpMethod string) (map[string]interface{}, ErrorKind, error) {
	newDoc, ok := asDoc(entry)
	if !ok {
		return nil, ArangoDocumentTypeInvalid, ErrDocumentTypeInvalid
	}
	key := ExtractKey(entry)
	if key == "" {
		return nil, ArangoDocumentKeyBad, ErrDocumentKeyBad
	}

	oldDoc, err := coll.FindByID(nil, t.EngineHandle(), key)
	if err != nil {
		return nil, KindOf(err), err
	}

	if expected, hasRev := extractRev(entry); hasRev && !checkRevision(oldDoc, expected, opts.IgnoreRevs) {
		if opts.Silent {
			return nil, ArangoConflict, ErrConflict
		}
		rev, _ := oldDoc["_rev"].(string)
		identity, _ := BuildDocumentIdentity(coll.Name(), key, rev, nil, nil, nil)
		return identity, ArangoConflict, ErrConflict
	}

	updated, err := step(coll, key, oldDoc, newDoc)
	if err != nil {
		return nil, KindOf(err), err
	}

	rev, _ := updated["_rev"].(string)
	oldRev, _ := oldDoc["_rev"].(string)
	identity, berr := BuildDocumentIdentity(coll.Name(), key, rev, &oldRev, nil, nil)
	if berr != nil {
		return nil, Internal, berr
	}

	sdoc := storage.Document(updated)
	t.replicateIfLeader(coll, httpMethod, sdoc, opts.WaitForSync)

	if opts.ReturnOld {
		identity["old"] = oldDoc
	}
	if opts.ReturnNew {
		identity["new"] = updated
	}
	if opts.Silent {
		return nil, NoError, nil
	}
	return identity, NoError, nil
}

// Remove deletes one document or a batch.
func (t *Transaction) Remove(collName string, value interface{}, opts RemoveOptions) (*OperationResult, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return t.coordinatorRemove(collName, value, opts)
	}

	coll, err := db.GetCollection(collName)
	if err != nil {
		return newResult(KindOf(err), opts.WaitForSync), err
	}

	if arr, ok := asArray(value); ok {
		result := newResult(NoError, opts.WaitForSync)
		result.CountByKind = make(map[ErrorKind]int)
		for _, entry := range arr {
			payload, kind, _ := t.removeOne(coll, entry, opts)
			result.Payloads = append(result.Payloads, payload)
			if kind != NoError {
				t.MarkFailed()
				result.CountByKind[kind]++
				result.Code = kind
				break // first failure stops the batch
			}
		}
		return result, nil
	}

	payload, kind, werr := t.removeOne(coll, value, opts)
	if werr != nil {
		t.MarkFailed()
	}
	result := newResult(kind, opts.WaitForSync)
	result.Payload = payload
	return result, werr
}

func (t *Transaction) removeOne(coll *Collection, entry interface{}, opts RemoveOptions) (map[string]interface{}, ErrorKind, error) {
	key := ExtractKey(entry)
	if key == "" {
		return nil, ArangoDocumentKeyBad, ErrDocumentKeyBad
	}

	oldDoc, err := coll.FindByID(nil, t.EngineHandle(), key)
	if err != nil {
		return nil, KindOf(err), err
	}

	if expected, hasRev := extractRev(entry); hasRev && !checkRevision(oldDoc, expected, opts.IgnoreRevs) {
		if opts.Silent {
			return nil, ArangoConflict, ErrConflict
		}
		rev, _ := oldDoc["_rev"].(string)
		identity, _ := BuildDocumentIdentity(coll.Name(), key, rev, nil, nil, nil)
		return identity, ArangoConflict, ErrConflict
	}

	if err := coll.Delete(nil, t.EngineHandle(), key); err != nil {
		return nil, KindOf(err), err
	}

	rev, _ := oldDoc["_rev"].(string)
	identity, berr := BuildDocumentIdentity(coll.Name(), key, rev, nil, nil, nil)
	if berr != nil {
		return nil, Internal, berr
	}

	t.replicateIfLeader(coll, "DELETE", storage.Document(oldDoc), opts.WaitForSync)

	if opts.ReturnOld {
		identity["old"] = oldDoc
	}
	if opts.Silent {
		return nil, NoError, nil
	}
	return identity, NoError, nil
}

// Truncate empties the collection: a full scan-and-remove of
// the primary index under write lock, bypassing revision checks
// entirely (ignoreRevs=true).
func (t *Transaction) Truncate(collName string, opts TruncateOptions) (*OperationResult, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return nil, ErrOnlyOnDBServer
	}

	coll, err := db.GetCollection(collName)
	if err != nil {
		return newResult(KindOf(err), opts.WaitForSync), err
	}

	if err := t.Lock(coll.ID(), AccessWrite); err != nil {
		return newResult(Internal, opts.WaitForSync), err
	}
	defer t.Unlock(coll.ID(), AccessWrite)

	var firstErr error
	_ = coll.primaryHandle().Index().InvokeOnAllElementsForRemoval(func(doc storage.Document) bool {
		key := ExtractKey(map[string]interface{}(doc))
		if key == "" {
			return true
		}
		if derr := coll.Delete(nil, t.EngineHandle(), key); derr != nil && firstErr == nil {
			firstErr = derr
		}
		return true
	})
	if firstErr != nil {
		t.MarkFailed()
		return newResult(KindOf(firstErr), opts.WaitForSync), firstErr
	}
	return newResult(NoError, opts.WaitForSync), nil
}

// All returns every document via a paged ALL cursor scan.
func (t *Transaction) All(collName string, opts ListOptions) ([]storage.Document, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return nil, ErrOnlyOnDBServer
	}
	coll, err := db.GetCollection(collName)
	if err != nil {
		return nil, err
	}
	return drainCursor(coll, CursorAll, opts)
}

// Any returns one arbitrary document.
func (t *Transaction) Any(collName string) (storage.Document, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return nil, ErrOnlyOnDBServer
	}
	coll, err := db.GetCollection(collName)
	if err != nil {
		return nil, err
	}
	docs, err := drainCursor(coll, CursorAny, ListOptions{Limit: 1, BatchSize: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Count returns the number of documents in the collection.
func (t *Transaction) Count(collName string) (int, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return 0, ErrOnlyOnDBServer
	}
	coll, err := db.GetCollection(collName)
	if err != nil {
		return 0, err
	}
	return coll.Count(), nil
}

// AllKeys returns every document key, prefixed per form:
// "" for keys, "<coll>/" for ids, or the REST document-URL form.
func (t *Transaction) AllKeys(collName string, form KeyForm, opts ListOptions) ([]string, error) {
	db := t.db()
	if db.role == RoleCoordinator {
		return nil, ErrOnlyOnDBServer
	}
	coll, err := db.GetCollection(collName)
	if err != nil {
		return nil, err
	}
	docs, err := drainCursor(coll, CursorAll, opts)
	if err != nil {
		return nil, err
	}

	var prefix string
	switch form {
	case KeyFormID:
		prefix = coll.Name() + "/"
	case KeyFormURL:
		prefix = "/_db/" + db.Name() + "/_api/document/" + coll.Name() + "/"
	}

	out := make([]string, 0, len(docs))
	for _, d := range docs {
		key := ExtractKey(map[string]interface{}(d))
		out = append(out, prefix+key)
	}
	return out, nil
}

func drainCursor(coll *Collection, kind CursorKind, opts ListOptions) ([]storage.Document, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = -1 // unlimited
	}
	cur, err := IndexScan(coll, kind, nil, nil, opts.Skip, limit, opts.batchSize(), false)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []storage.Document
	for {
		batch, more, err := cur.GetMore()
		if err != nil {
			return out, err
		}
		out = append(out, batch...)
		if !more {
			break
		}
	}
	return out, nil
}

// replicateIfLeader fans a just-committed local write out to coll's
// current followers, if any. Coordinator instances never
// hold followers directly (replication happens between DBServers), so
// this is a no-op there.
func (t *Transaction) replicateIfLeader(coll *Collection, method string, doc storage.Document, waitForSync bool) {
	db := t.db()
	if db == nil || db.role == RoleCoordinator || coll.Followers() == nil {
		return
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return
	}
	params := url.Values{}
	params.Set("waitForSync", strconv.FormatBool(waitForSync))
	ReplicateWrite(context.Background(), db, coll, method, body, params, t.NoLockHeader)
}
