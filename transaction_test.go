package facade

import "testing"

func TestTransactionLifecycle(t *testing.T) {
	db := newTestDatabase(t)
	ctx := NewTransactionContext(db)
	txn := NewTransaction(ctx, DefaultTransactionOptions(), true)

	if txn.Status() != TxnCreated {
		t.Fatalf("new transaction status = %s, want created", txn.Status())
	}
	if err := txn.Begin(db, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if txn.Status() != TxnRunning {
		t.Fatalf("status after Begin = %s, want running", txn.Status())
	}
	if txn.EngineHandle() == nil {
		t.Fatal("a real transaction should have a non-nil engine handle once running")
	}
	if _, ok := ctx.Lookup(txn.ExternalID()); !ok {
		t.Fatal("Begin should register the transaction in its context")
	}

	if err := txn.Commit(db); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if txn.Status() != TxnCommitted {
		t.Fatalf("status after Commit = %s, want committed", txn.Status())
	}
	if _, ok := ctx.Lookup(txn.ExternalID()); ok {
		t.Fatal("Commit should unregister the transaction from its context")
	}
}

func TestTransactionAbortOnRelease(t *testing.T) {
	db := newTestDatabase(t)
	ctx := NewTransactionContext(db)
	txn := NewTransaction(ctx, DefaultTransactionOptions(), true)
	if err := txn.Begin(db, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	txn.Release(db)
	if txn.Status() != TxnAborted {
		t.Fatalf("status after Release without Commit = %s, want aborted", txn.Status())
	}
}

func TestBeginEmbeddedSharesHandle(t *testing.T) {
	db := newTestDatabase(t)
	ctx := NewTransactionContext(db)
	parent := NewTransaction(ctx, DefaultTransactionOptions(), true)
	if err := parent.Begin(db, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer parent.Release(db)

	child, err := BeginEmbedded(parent)
	if err != nil {
		t.Fatalf("BeginEmbedded: %v", err)
	}
	if !child.IsEmbedded() {
		t.Error("child should report IsEmbedded")
	}
	if child.EngineHandle() != parent.EngineHandle() {
		t.Error("an embedded transaction should share its parent's engine handle")
	}
	if child.NestingLevel() != 1 {
		t.Errorf("child nesting level = %d, want 1", child.NestingLevel())
	}

	if err := child.Commit(db); err != nil {
		t.Fatalf("child Commit: %v", err)
	}
	if parent.NestingLevel() != 0 {
		t.Errorf("parent nesting level after child commit = %d, want 0", parent.NestingLevel())
	}
}

func TestBeginEmbeddedRejectsWhenForbidden(t *testing.T) {
	db := newTestDatabase(t)
	ctx := NewTransactionContext(db)
	ctx.AllowEmbedding = false
	parent := NewTransaction(ctx, DefaultTransactionOptions(), true)
	if err := parent.Begin(db, 0); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer parent.Release(db)

	if _, err := BeginEmbedded(parent); err == nil {
		t.Fatal("expected TRANSACTION_NESTED when embedding is forbidden")
	} else if KindOf(err) != TransactionNested {
		t.Errorf("error kind = %s, want TransactionNested", KindOf(err))
	}
}

func TestCollectionBindingImplicitVsExplicit(t *testing.T) {
	db := newTestDatabase(t)
	coll, err := db.CreateCollection("widgets")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	ctx := NewTransactionContext(db)
	opts := DefaultTransactionOptions()
	opts.AllowImplicitCollections = false
	txn := NewTransaction(ctx, opts, true)

	if _, ok := txn.Binding(coll.ID()); ok {
		t.Fatal("an unregistered collection should not resolve a binding when implicit collections are disallowed")
	}
	if err := txn.AddCollection(coll.ID(), AccessRead); err != nil {
		t.Fatalf("AddCollection: %v", err)
	}
	b, ok := txn.Binding(coll.ID())
	if !ok {
		t.Fatal("expected a binding after AddCollection")
	}
	if b.Access != AccessRead {
		t.Errorf("binding access = %v, want AccessRead", b.Access)
	}

	if err := txn.AddCollection(coll.ID(), AccessWrite); err != nil {
		t.Fatalf("AddCollection upgrade: %v", err)
	}
	if b.Access != AccessWrite {
		t.Error("re-adding with AccessWrite should upgrade the existing binding")
	}
}

func TestLockUnlock(t *testing.T) {
	db := newTestDatabase(t)
	ctx := NewTransactionContext(db)
	txn := NewTransaction(ctx, DefaultTransactionOptions(), true)

	if err := txn.Lock(1, AccessWrite); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !txn.IsLocked(1, AccessWrite) {
		t.Error("IsLocked should report true after Lock")
	}
	if err := txn.Unlock(1, AccessWrite); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if txn.IsLocked(1, AccessWrite) {
		t.Error("IsLocked should report false after Unlock")
	}
}
