package facade

import (
	"fmt"
	"sync"
	"time"

	"github.com/kartikbazzad/docfacade/internal/transaction"
	"github.com/kartikbazzad/docfacade/mvcc"
)

// TxnStatus is the lifecycle state of a façade transaction. It tracks
// created/running/committed/aborted on top of whatever state the engine
// handle carries once begun.
type TxnStatus int

const (
	TxnCreated TxnStatus = iota
	TxnRunning
	TxnCommitted
	TxnAborted
)

func (s TxnStatus) String() string {
	switch s {
	case TxnCreated:
		return "created"
	case TxnRunning:
		return "running"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// AccessType is the access a façade transaction requests on a registered
// collection.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
)

// Hints is the caller-supplied hint bitmap carried on a transaction.
// The façade never interprets these bits; they pass through untouched
// to whatever layer set them.
type Hints uint32

// CollectionBinding pairs a collection id with the access type it was
// registered under and a lazily resolved pointer.
type CollectionBinding struct {
	CollectionID uint64
	Access       AccessType

	mu   sync.Mutex
	coll *Collection // resolved on first use
}

// resolve lazily looks up the bound collection by id via db, caching the
// result on the binding.
func (b *CollectionBinding) resolve(db *Database) (*Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.coll != nil {
		return b.coll, nil
	}
	name, err := db.ResolveCollectionName(b.CollectionID)
	if err != nil {
		return nil, err
	}
	coll, err := db.GetCollection(name)
	if err != nil {
		return nil, err
	}
	b.coll = coll
	return coll, nil
}

// TransactionContext is shared across a top-level transaction and any
// transactions embedded within it: it supplies the name resolver
// (Database implements NameResolver) and the lookup used to find a
// running top-level transaction by its external id.
type TransactionContext struct {
	db *Database

	// AllowEmbedding gates whether BeginEmbedded may nest a new
	// transaction inside an already-running one; false yields
	// TransactionNested.
	AllowEmbedding bool

	mu      sync.Mutex
	byExtID map[uint64]*Transaction
	nextExt uint64
}

// NewTransactionContext creates a context bound to db, allowing
// embedding by default; callers that want to forbid it set
// AllowEmbedding = false after construction.
func NewTransactionContext(db *Database) *TransactionContext {
	return &TransactionContext{db: db, AllowEmbedding: true, byExtID: make(map[uint64]*Transaction)}
}

// Lookup resolves a running top-level transaction by its external id.
func (ctx *TransactionContext) Lookup(externalID uint64) (*Transaction, bool) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	t, ok := ctx.byExtID[externalID]
	return t, ok
}

func (ctx *TransactionContext) register(t *Transaction) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.byExtID[t.externalID] = t
}

func (ctx *TransactionContext) unregister(t *Transaction) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	delete(ctx.byExtID, t.externalID)
}

// Transaction is one façade transaction: it owns (or, if embedded,
// shares) an engine handle, a set of registered collection bindings, a
// nesting level, and its lifecycle flags. It is not safe for concurrent
// use by multiple goroutines: a façade object belongs to exactly one
// goroutine for the duration of a request.
type Transaction struct {
	ctx    *TransactionContext
	parent *Transaction

	handle *transaction.Transaction // nil until Begin, shared with parent if embedded

	collections map[uint64]*CollectionBinding
	locks       map[uint64]*sync.RWMutex
	heldRead    map[uint64]bool
	heldWrite   map[uint64]bool

	nestingLevel  int
	status        TxnStatus
	hints         Hints
	timeout       time.Duration
	waitForSync   bool
	allowImplicit bool
	isReal        bool
	externalID    uint64

	// NoLockHeader, when non-empty, is injected as X-Arango-Nolock on
	// any shard dispatch performed while processing this transaction,
	// telling the remote server to skip re-locking collections already
	// held here. A Transaction belongs to exactly one goroutine for its
	// lifetime, so the field lives here rather than in process-wide
	// state.
	NoLockHeader string

	anyOperationFailed bool
}

// NewTransaction constructs a new top-level façade transaction. isReal
// is false on a coordinator, where the façade is a router only and
// never owns an engine handle of its own.
func NewTransaction(ctx *TransactionContext, opts *TransactionOptions, isReal bool) *Transaction {
	if opts == nil {
		opts = DefaultTransactionOptions()
	}
	t := &Transaction{
		ctx:           ctx,
		collections:   make(map[uint64]*CollectionBinding),
		locks:         make(map[uint64]*sync.RWMutex),
		heldRead:      make(map[uint64]bool),
		heldWrite:     make(map[uint64]bool),
		status:        TxnCreated,
		timeout:       opts.Timeout,
		waitForSync:   opts.WaitForSync,
		allowImplicit: opts.AllowImplicitCollections,
		isReal:        isReal,
		externalID:    opts.ExternalID,
	}
	if t.externalID == 0 {
		ctx.mu.Lock()
		ctx.nextExt++
		t.externalID = ctx.nextExt
		ctx.mu.Unlock()
	}
	return t
}

// BeginEmbedded constructs a transaction embedded inside parent,
// sharing its engine handle and incrementing its nesting level. It
// fails with TransactionNested if parent's context forbids embedding.
func BeginEmbedded(parent *Transaction) (*Transaction, error) {
	if parent.ctx != nil && !parent.ctx.AllowEmbedding {
		return nil, wrapErr(TransactionNested, nil, "embedding is not permitted in this context")
	}
	if parent.status != TxnRunning {
		return nil, wrapErr(TransactionInternal, nil, "cannot embed in a transaction that is not running")
	}

	parent.nestingLevel++
	child := &Transaction{
		ctx:           parent.ctx,
		parent:        parent,
		handle:        parent.handle,
		collections:   parent.collections, // embedded transactions share the parent's registrations
		locks:         parent.locks,
		heldRead:      parent.heldRead,
		heldWrite:     parent.heldWrite,
		status:        TxnRunning,
		nestingLevel:  parent.nestingLevel,
		waitForSync:   parent.waitForSync,
		allowImplicit: parent.allowImplicit,
		isReal:        parent.isReal,
		externalID:    parent.externalID,
		NoLockHeader:  parent.NoLockHeader,
	}
	return child, nil
}

// IsEmbedded reports whether this transaction shares a handle with a
// parent rather than owning one.
func (t *Transaction) IsEmbedded() bool { return t.parent != nil }

// NestingLevel returns the nesting depth (0 = top-level).
func (t *Transaction) NestingLevel() int { return t.nestingLevel }

// Status returns the current lifecycle state.
func (t *Transaction) Status() TxnStatus { return t.status }

// ExternalID returns the caller-visible transaction id.
func (t *Transaction) ExternalID() uint64 { return t.externalID }

// Hints returns the transaction's hint bitmap.
func (t *Transaction) Hints() Hints { return t.hints }

// SetHints overwrites the hint bitmap.
func (t *Transaction) SetHints(h Hints) { t.hints = h }

// WaitForSync reports the durability flag requested for this transaction.
func (t *Transaction) WaitForSync() bool { return t.waitForSync }

// EngineHandle returns the underlying engine transaction handle, for
// use by the CRUD pipelines. It is non-nil whenever Status is running
// on a real transaction.
func (t *Transaction) EngineHandle() *transaction.Transaction { return t.handle }

// Begin promotes the transaction to running; past created it is a
// no-op. On a non-real (coordinator) transaction begin simply flips the
// status flag; on a real one, a fresh engine handle is created (or the
// parent's is adopted, for an embedded transaction).
func (t *Transaction) Begin(db *Database, level mvcc.IsolationLevel) error {
	if t.status != TxnCreated {
		return nil
	}

	if t.IsEmbedded() {
		t.status = TxnRunning
		return nil
	}

	if !t.isReal {
		t.status = TxnRunning
		if t.ctx != nil {
			t.ctx.register(t)
		}
		return nil
	}

	handle, err := db.BeginTransaction(level)
	if err != nil {
		return wrapErr(TransactionInternal, err, "failed to begin transaction")
	}
	t.handle = handle
	t.status = TxnRunning
	if t.ctx != nil {
		t.ctx.register(t)
	}
	return nil
}

// AddCollection registers cid under access, lazily resolvable later.
// Legal only while created for a top-level transaction; an embedded
// transaction may add collections at any time while running.
func (t *Transaction) AddCollection(cid uint64, access AccessType) error {
	if !t.IsEmbedded() && t.status != TxnCreated {
		return wrapErr(TransactionInternal, nil, "cannot add collection %d: transaction already started", cid)
	}
	if t.IsEmbedded() && t.status != TxnRunning {
		return wrapErr(TransactionInternal, nil, "cannot add collection %d: embedded transaction not running", cid)
	}

	if existing, ok := t.collections[cid]; ok {
		if access == AccessWrite {
			existing.Access = AccessWrite
		}
		return nil
	}
	t.collections[cid] = &CollectionBinding{CollectionID: cid, Access: access}
	return nil
}

// Binding returns the registered binding for cid, or false if cid was
// never added (and AllowImplicitCollections is false).
func (t *Transaction) Binding(cid uint64) (*CollectionBinding, bool) {
	b, ok := t.collections[cid]
	if ok {
		return b, true
	}
	if t.allowImplicit {
		b = &CollectionBinding{CollectionID: cid, Access: AccessWrite}
		t.collections[cid] = b
		return b, true
	}
	return nil, false
}

// lockFor returns (creating if necessary) the RWMutex guarding cid.
func (t *Transaction) lockFor(cid uint64) *sync.RWMutex {
	if l, ok := t.locks[cid]; ok {
		return l
	}
	l := &sync.RWMutex{}
	t.locks[cid] = l
	return l
}

// Lock acquires the collection's lock at the given access type.
func (t *Transaction) Lock(cid uint64, access AccessType) error {
	l := t.lockFor(cid)
	switch access {
	case AccessWrite:
		l.Lock()
		t.heldWrite[cid] = true
	default:
		l.RLock()
		t.heldRead[cid] = true
	}
	return nil
}

// Unlock releases a previously acquired lock. Errors from the operation
// it guarded propagate only after Unlock runs: callers are expected to
// `defer t.Unlock(...)` immediately after a successful Lock.
func (t *Transaction) Unlock(cid uint64, access AccessType) error {
	l, ok := t.locks[cid]
	if !ok {
		return nil
	}
	switch access {
	case AccessWrite:
		if t.heldWrite[cid] {
			l.Unlock()
			delete(t.heldWrite, cid)
		}
	default:
		if t.heldRead[cid] {
			l.RUnlock()
			delete(t.heldRead, cid)
		}
	}
	return nil
}

// IsLocked reports whether this transaction currently holds the given
// access type's lock on cid.
func (t *Transaction) IsLocked(cid uint64, access AccessType) bool {
	if access == AccessWrite {
		return t.heldWrite[cid]
	}
	return t.heldRead[cid]
}

// MarkFailed records that an operation performed under this transaction
// failed, consulted by Release to decide whether a force-abort should
// be reported.
func (t *Transaction) MarkFailed() { t.anyOperationFailed = true }

// Commit finalises a RUNNING transaction. An embedded transaction merely
// decrements the parent's nesting level and never touches the engine
// directly — only the outermost Commit actually commits the handle.
func (t *Transaction) Commit(db *Database) error {
	if t.status != TxnRunning {
		return wrapErr(TransactionInternal, nil, "cannot commit: transaction is %s", t.status)
	}

	if t.IsEmbedded() {
		t.status = TxnCommitted
		if t.parent != nil {
			t.parent.nestingLevel--
		}
		return nil
	}

	if t.isReal && t.handle != nil {
		if err := db.CommitTransaction(t.handle); err != nil {
			return wrapErr(TransactionInternal, err, "commit failed")
		}
	}
	t.status = TxnCommitted
	if t.ctx != nil {
		t.ctx.unregister(t)
	}
	return nil
}

// Abort rolls back a RUNNING transaction via the engine (no-op on a
// non-real transaction, which never held an engine handle).
func (t *Transaction) Abort(db *Database) error {
	if t.status != TxnRunning {
		return nil
	}

	if t.IsEmbedded() {
		t.status = TxnAborted
		if t.parent != nil {
			t.parent.nestingLevel--
		}
		return nil
	}

	if t.isReal && t.handle != nil {
		if err := db.RollbackTransaction(t.handle); err != nil {
			return wrapErr(TransactionInternal, err, "abort failed")
		}
	}
	t.status = TxnAborted
	if t.ctx != nil {
		t.ctx.unregister(t)
	}
	return nil
}

// Release finishes a transaction that was never explicitly committed or
// aborted: an embedded transaction just decrements nesting (already
// done if Commit/Abort ran), while a top-level transaction still
// running is force-aborted. A force-abort of a transaction under which
// an operation failed is logged for the operator. Callers should
// `defer txn.Release(db)` right after a successful Begin.
func (t *Transaction) Release(db *Database) {
	forced := false
	if t.status == TxnRunning {
		if t.IsEmbedded() {
			t.status = TxnAborted
			if t.parent != nil {
				t.parent.nestingLevel--
			}
		} else {
			forced = true
			if err := t.Abort(db); err != nil {
				fmt.Printf("[WARN] auto-abort on release failed for txn %d: %v\n", t.externalID, err)
			}
		}
	}
	if forced && t.anyOperationFailed {
		fmt.Printf("[WARN] transaction %d force-aborted with a failed operation\n", t.externalID)
	}
}
