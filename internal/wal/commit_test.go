package wal

import (
	"sync"
	"testing"
)

func TestGroupCommitterSingle(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	gc := NewGroupCommitter(w)
	defer gc.Stop()

	lsn, err := w.Append(&Record{TxnID: 1, Type: RecordTypeInsert, Key: []byte("k"), Value: []byte("v")})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := gc.Commit(lsn); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestGroupCommitterConcurrent(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	gc := NewGroupCommitter(w)
	defer gc.Stop()

	const committers = 20
	var wg sync.WaitGroup
	errs := make(chan error, committers)
	for i := 0; i < committers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			lsn, err := w.Append(&Record{TxnID: uint64(id), Type: RecordTypeInsert, Key: []byte("k"), Value: []byte("v")})
			if err != nil {
				errs <- err
				return
			}
			errs <- gc.Commit(lsn)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent commit: %v", err)
		}
	}
}

func TestGroupCommitterStopped(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	gc := NewGroupCommitter(w)
	gc.Stop()
	gc.Stop() // idempotent

	if err := gc.Commit(1); err != ErrCommitterStopped {
		t.Errorf("Commit after Stop = %v, want ErrCommitterStopped", err)
	}
}

func TestSharedFlusher(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	if _, err := w.Append(&Record{TxnID: 1, Type: RecordTypeInsert, Key: []byte("k"), Value: []byte("v")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	sf := GetSharedFlusher()
	if sf != GetSharedFlusher() {
		t.Fatal("GetSharedFlusher is not a singleton")
	}
	if err := sf.Flush(w); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := sf.GetStats()
	if stats.IsStopped {
		t.Error("flusher reports stopped while running")
	}
	if stats.BatchSize <= 0 {
		t.Errorf("BatchSize = %d, want > 0", stats.BatchSize)
	}
}

func TestRecoveryFiltersUncommitted(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}

	// txn 1 commits; txn 2 aborts; txn 3 never decides
	appends := []*Record{
		{TxnID: 1, Type: RecordTypeInsert, Key: []byte("a"), Value: []byte("1")},
		{TxnID: 2, Type: RecordTypeInsert, Key: []byte("b"), Value: []byte("2")},
		{TxnID: 1, Type: RecordTypeUpdate, Key: []byte("a"), Value: []byte("1b")},
		{TxnID: 1, Type: RecordTypeCommit},
		{TxnID: 2, Type: RecordTypeAbort},
		{TxnID: 3, Type: RecordTypeInsert, Key: []byte("c"), Value: []byte("3")},
	}
	for _, r := range appends {
		if _, err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	w.Sync()
	w.Close()

	w2, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("NewWAL (reopen): %v", err)
	}
	defer w2.Close()

	replay, err := NewRecovery(w2).Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(replay) != 2 {
		t.Fatalf("Recover returned %d records, want 2 (only txn 1's writes)", len(replay))
	}
	for _, r := range replay {
		if r.TxnID != 1 {
			t.Errorf("record from txn %d leaked into replay", r.TxnID)
		}
	}
}

func TestRecoveryIntegrity(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if _, err := w.Append(&Record{TxnID: uint64(i), Type: RecordTypeInsert, Key: []byte("k"), Value: []byte("v")}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	w.Sync()

	if err := NewRecovery(w).VerifyIntegrity(); err != nil {
		t.Errorf("VerifyIntegrity on a clean log: %v", err)
	}
}

func TestRecoveryLastCommittedLSN(t *testing.T) {
	w, err := NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	w.Append(&Record{TxnID: 1, Type: RecordTypeInsert, Key: []byte("a"), Value: []byte("1")})
	commitLSN, _ := w.Append(&Record{TxnID: 1, Type: RecordTypeCommit})
	w.Append(&Record{TxnID: 2, Type: RecordTypeInsert, Key: []byte("b"), Value: []byte("2")})
	w.Sync()

	got, err := NewRecovery(w).GetLastCommittedLSN()
	if err != nil {
		t.Fatalf("GetLastCommittedLSN: %v", err)
	}
	if got != commitLSN {
		t.Errorf("GetLastCommittedLSN = %d, want %d", got, commitLSN)
	}
}
