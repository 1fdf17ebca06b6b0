// Package transaction implements the engine-level transaction handle
// underneath the façade: begin/commit/rollback, a per-transaction write
// set with read-your-own-writes, and durability via the write-ahead log.
package transaction

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kartikbazzad/docfacade/internal/wal"
	"github.com/kartikbazzad/docfacade/mvcc"
)

// Status is the lifecycle state of an engine transaction.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusAborted
)

// WriteEntry is one write buffered in a transaction's write set until
// commit.
type WriteEntry struct {
	Key  string
	Data []byte
}

// Transaction is the engine-level handle the façade's Transaction wraps.
// It is not itself safe for concurrent use by multiple goroutines.
type Transaction struct {
	ID             uint64
	Status         Status
	IsolationLevel mvcc.IsolationLevel
	WriteSet       []WriteEntry

	snapshot *mvcc.Snapshot
	writeIdx map[string]int // key -> index into WriteSet, for read-your-writes and overwrite-in-place
}

// TransactionManager coordinates the lifecycle of engine transactions
// against a shared snapshot manager and write-ahead log, mirroring the
// wiring `database.go` already does for its own higher-level Database
// type (snapshot manager + WAL passed in at construction).
type TransactionManager struct {
	snapshotMgr *mvcc.SnapshotManager
	wal         *wal.WAL
	committer   *wal.GroupCommitter

	nextID uint64

	mu     sync.Mutex
	active map[uint64]*Transaction
	closed bool
}

// NewTransactionManager creates a manager backed by the given snapshot
// manager and WAL writer. Commit durability goes through a group
// committer so concurrent commits share fsyncs.
func NewTransactionManager(snapshotMgr *mvcc.SnapshotManager, walWriter *wal.WAL) *TransactionManager {
	return &TransactionManager{
		snapshotMgr: snapshotMgr,
		wal:         walWriter,
		committer:   wal.NewGroupCommitter(walWriter),
		active:      make(map[uint64]*Transaction),
	}
}

// Begin starts a new transaction at the given isolation level.
func (tm *TransactionManager) Begin(level mvcc.IsolationLevel) (*Transaction, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return nil, fmt.Errorf("transaction manager is closed")
	}

	id := atomic.AddUint64(&tm.nextID, 1)
	snap := tm.snapshotMgr.BeginSnapshot(id, level)

	txn := &Transaction{
		ID:             id,
		Status:         StatusActive,
		IsolationLevel: level,
		snapshot:       snap,
		writeIdx:       make(map[string]int),
	}
	tm.active[id] = txn
	return txn, nil
}

// Write buffers a key/value write in the transaction's write set. A
// second write to the same key overwrites the first in place, so
// WriteSet length tracks distinct keys, not write calls.
func (tm *TransactionManager) Write(txn *Transaction, key string, data []byte) error {
	if txn.Status != StatusActive {
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}

	if i, ok := txn.writeIdx[key]; ok {
		txn.WriteSet[i].Data = data
		return nil
	}
	txn.writeIdx[key] = len(txn.WriteSet)
	txn.WriteSet = append(txn.WriteSet, WriteEntry{Key: key, Data: data})
	return nil
}

// Read returns a value from the transaction's own write set, giving
// read-your-own-writes within a still-active transaction. It does not
// consult committed storage — that's the collection's job once the
// write set misses.
func (tm *TransactionManager) Read(txn *Transaction, key string) ([]byte, error) {
	if i, ok := txn.writeIdx[key]; ok {
		return txn.WriteSet[i].Data, nil
	}
	return nil, fmt.Errorf("key not found in write set: %s", key)
}

// Commit appends the write set plus a commit marker to the WAL, waits
// for the group committer to sync them, then marks the transaction
// committed in the snapshot manager and releases its snapshot. Without
// the marker, recovery would treat the whole write set as in-flight
// and drop it.
func (tm *TransactionManager) Commit(txn *Transaction) error {
	if txn.Status != StatusActive {
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}

	if len(txn.WriteSet) > 0 {
		records := make([]*wal.Record, 0, len(txn.WriteSet)+1)
		for _, w := range txn.WriteSet {
			recType := wal.RecordTypeUpdate
			if len(w.Data) == 0 {
				recType = wal.RecordTypeDelete
			}
			records = append(records, &wal.Record{
				TxnID: txn.ID,
				Type:  recType,
				Key:   []byte(w.Key),
				Value: w.Data,
			})
		}
		records = append(records, &wal.Record{
			TxnID: txn.ID,
			Type:  wal.RecordTypeCommit,
		})
		lsn, err := tm.wal.AppendBatch(records)
		if err != nil {
			return fmt.Errorf("failed to append commit records: %w", err)
		}
		if err := tm.committer.Commit(lsn); err != nil {
			return fmt.Errorf("failed to sync commit: %w", err)
		}
	}

	txn.Status = StatusCommitted
	tm.snapshotMgr.CommitTransaction(txn.ID)
	tm.snapshotMgr.ReleaseSnapshot(txn.snapshot)

	tm.mu.Lock()
	delete(tm.active, txn.ID)
	tm.mu.Unlock()

	return nil
}

// Rollback discards the write set and marks the transaction aborted.
// An abort marker is logged best-effort so recovery sees the decision
// even if data records from this transaction ever reach the log.
func (tm *TransactionManager) Rollback(txn *Transaction) error {
	if txn.Status != StatusActive {
		return fmt.Errorf("transaction %d is not active", txn.ID)
	}

	if len(txn.WriteSet) > 0 {
		tm.wal.Append(&wal.Record{TxnID: txn.ID, Type: wal.RecordTypeAbort})
	}

	txn.Status = StatusAborted
	txn.WriteSet = nil
	txn.writeIdx = nil
	tm.snapshotMgr.AbortTransaction(txn.ID)
	tm.snapshotMgr.ReleaseSnapshot(txn.snapshot)

	tm.mu.Lock()
	delete(tm.active, txn.ID)
	tm.mu.Unlock()

	return nil
}

// GetActiveTransactionCount returns the number of in-flight transactions.
func (tm *TransactionManager) GetActiveTransactionCount() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.active)
}

// Close shuts the manager down, stopping the group committer. Any
// still-active transactions are left as-is; callers are expected to
// have committed or rolled them back.
func (tm *TransactionManager) Close() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return nil
	}
	tm.closed = true
	tm.committer.Stop()
	return nil
}
