package transaction

import (
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/docfacade/internal/wal"
	"github.com/kartikbazzad/docfacade/mvcc"
)

func newTestManager(t testing.TB) *TransactionManager {
	t.Helper()
	vm := mvcc.NewVersionManager()
	sm := mvcc.NewSnapshotManager(vm)
	walWriter, err := wal.NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	tm := NewTransactionManager(sm, walWriter)
	t.Cleanup(func() {
		tm.Close()
		walWriter.Close()
	})
	return tm
}

func TestBeginWriteCommit(t *testing.T) {
	tm := newTestManager(t)

	txn, err := tm.Begin(mvcc.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if txn.ID == 0 {
		t.Error("transaction id should be non-zero")
	}
	if txn.Status != StatusActive {
		t.Errorf("status = %v, want StatusActive", txn.Status)
	}

	if err := tm.Write(txn, "key1", []byte("value1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tm.Write(txn, "key2", []byte("value2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(txn.WriteSet) != 2 {
		t.Errorf("write set holds %d entries, want 2", len(txn.WriteSet))
	}

	if err := tm.Commit(txn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if txn.Status != StatusCommitted {
		t.Errorf("status = %v, want StatusCommitted", txn.Status)
	}
	if n := tm.GetActiveTransactionCount(); n != 0 {
		t.Errorf("active count after commit = %d, want 0", n)
	}
}

func TestWriteOverwritesInPlace(t *testing.T) {
	tm := newTestManager(t)

	txn, err := tm.Begin(mvcc.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	tm.Write(txn, "k", []byte("first"))
	tm.Write(txn, "k", []byte("second"))

	if len(txn.WriteSet) != 1 {
		t.Errorf("write set holds %d entries, want 1 (overwrite in place)", len(txn.WriteSet))
	}
	got, err := tm.Read(txn, "k")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Read = %q, want %q", got, "second")
	}
	tm.Rollback(txn)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	tm := newTestManager(t)

	txn, err := tm.Begin(mvcc.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tm.Write(txn, "key1", []byte("value1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tm.Rollback(txn); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if txn.Status != StatusAborted {
		t.Errorf("status = %v, want StatusAborted", txn.Status)
	}
	if txn.WriteSet != nil {
		t.Error("write set should be discarded on rollback")
	}

	// a finished transaction accepts no further operations
	if err := tm.Write(txn, "k", []byte("v")); err == nil {
		t.Error("Write on an aborted transaction should fail")
	}
	if err := tm.Commit(txn); err == nil {
		t.Error("Commit on an aborted transaction should fail")
	}
}

func TestConcurrentTransactions(t *testing.T) {
	tm := newTestManager(t)

	const txns = 10
	var wg sync.WaitGroup
	errs := make(chan error, txns)
	for i := 0; i < txns; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			txn, err := tm.Begin(mvcc.ReadCommitted)
			if err != nil {
				errs <- err
				return
			}
			if err := tm.Write(txn, string(rune('a'+id)), []byte("value")); err != nil {
				errs <- err
				return
			}
			time.Sleep(10 * time.Millisecond)
			errs <- tm.Commit(txn)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent transaction: %v", err)
		}
	}
	if n := tm.GetActiveTransactionCount(); n != 0 {
		t.Errorf("active count = %d, want 0", n)
	}
}

func TestIsolationLevels(t *testing.T) {
	tm := newTestManager(t)

	levels := []mvcc.IsolationLevel{
		mvcc.ReadUncommitted,
		mvcc.ReadCommitted,
		mvcc.RepeatableRead,
		mvcc.Serializable,
	}
	for _, level := range levels {
		txn, err := tm.Begin(level)
		if err != nil {
			t.Errorf("Begin(%d): %v", level, err)
			continue
		}
		if txn.IsolationLevel != level {
			t.Errorf("IsolationLevel = %d, want %d", txn.IsolationLevel, level)
		}
		tm.Rollback(txn)
	}
}

func TestReadOwnWrites(t *testing.T) {
	tm := newTestManager(t)

	txn, err := tm.Begin(mvcc.ReadCommitted)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := tm.Write(txn, "test_key", []byte("test_value")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := tm.Read(txn, "test_key")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "test_value" {
		t.Errorf("Read = %q, want %q", got, "test_value")
	}

	if _, err := tm.Read(txn, "missing"); err == nil {
		t.Error("Read of a key outside the write set should fail")
	}
	tm.Rollback(txn)
}

func BenchmarkTransactionCommit(b *testing.B) {
	tm := newTestManager(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		txn, _ := tm.Begin(mvcc.ReadCommitted)
		tm.Write(txn, "key", []byte("value"))
		tm.Commit(txn)
	}
}
