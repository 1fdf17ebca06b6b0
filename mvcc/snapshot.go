package mvcc

import (
	"sync"
)

// IsolationLevel selects how much concurrent state a snapshot may see.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

// Snapshot freezes the transaction landscape at one instant: the
// logical time, the highest transaction id handed out, and which
// transactions were still in flight or already aborted. Everything a
// visibility decision needs is copied in, so the snapshot stays valid
// while the manager's state moves on.
type Snapshot struct {
	Timestamp      Timestamp
	MaxTxnID       uint64
	ActiveTxns     []uint64
	AbortedTxns    []uint64
	IsolationLevel IsolationLevel
	mu             sync.RWMutex
}

// SnapshotManager tracks in-flight and aborted transactions and cuts
// snapshots against that state.
type SnapshotManager struct {
	versionMgr      *VersionManager
	activeSnapshots map[Timestamp]*Snapshot
	abortedTxns     map[uint64]bool
	activeTxns      map[uint64]bool
	maxTxnID        uint64
	mu              sync.RWMutex
}

func NewSnapshotManager(vm *VersionManager) *SnapshotManager {
	return &SnapshotManager{
		versionMgr:      vm,
		activeSnapshots: make(map[Timestamp]*Snapshot),
		abortedTxns:     make(map[uint64]bool),
		activeTxns:      make(map[uint64]bool),
	}
}

// BeginSnapshot cuts a snapshot for txnID and marks it active.
func (sm *SnapshotManager) BeginSnapshot(txnID uint64, level IsolationLevel) *Snapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if txnID > sm.maxTxnID {
		sm.maxTxnID = txnID
	}

	active := make([]uint64, 0, len(sm.activeTxns))
	for id := range sm.activeTxns {
		active = append(active, id)
	}
	aborted := make([]uint64, 0, len(sm.abortedTxns))
	for id := range sm.abortedTxns {
		aborted = append(aborted, id)
	}

	snapshot := &Snapshot{
		Timestamp:      sm.versionMgr.NewTimestamp(),
		MaxTxnID:       sm.maxTxnID,
		ActiveTxns:     active,
		AbortedTxns:    aborted,
		IsolationLevel: level,
	}
	sm.activeSnapshots[snapshot.Timestamp] = snapshot
	sm.activeTxns[txnID] = true
	return snapshot
}

// CommitTransaction drops txnID from the active set. Absent from both
// active and aborted means committed.
func (sm *SnapshotManager) CommitTransaction(txnID uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.activeTxns, txnID)
}

// AbortTransaction records txnID as aborted.
func (sm *SnapshotManager) AbortTransaction(txnID uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.abortedTxns[txnID] = true
	delete(sm.activeTxns, txnID)
}

// ReleaseSnapshot retires a snapshot, letting garbage collection move
// past it.
func (sm *SnapshotManager) ReleaseSnapshot(snapshot *Snapshot) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.activeSnapshots, snapshot.Timestamp)
}

// GetOldestActiveSnapshot returns the GC horizon: no version at or
// above it may be reclaimed. With no snapshots active, the horizon is
// now.
func (sm *SnapshotManager) GetOldestActiveSnapshot() Timestamp {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if len(sm.activeSnapshots) == 0 {
		return sm.versionMgr.GetCurrentTimestamp()
	}
	oldest := Timestamp(^uint64(0))
	for ts := range sm.activeSnapshots {
		if ts < oldest {
			oldest = ts
		}
	}
	return oldest
}

// containsTxn does a linear scan; snapshot txn lists are small enough
// that a map would cost more than it saves.
func containsTxn(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// IsVisible decides whether a version may be returned under this
// snapshot. A version is invisible if it is from the snapshot's
// future, from a transaction still active at snapshot time, or from an
// aborted transaction. ReadUncommitted skips the latter two checks.
// Reading your own uncommitted writes is the write set's job, not the
// snapshot's.
func (s *Snapshot) IsVisible(version *Version) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version.Timestamp > s.Timestamp {
		return false
	}
	if version.TxnID > s.MaxTxnID {
		return false
	}

	switch s.IsolationLevel {
	case ReadUncommitted:
		return true
	case ReadCommitted, RepeatableRead, Serializable:
		if containsTxn(s.ActiveTxns, version.TxnID) {
			return false
		}
		if containsTxn(s.AbortedTxns, version.TxnID) {
			return false
		}
		return true
	default:
		return false
	}
}

// GetVisibleVersion walks the chain and returns the newest visible
// version, or nil.
func (s *Snapshot) GetVisibleVersion(head *Version) *Version {
	for v := head; v != nil; v = v.Next {
		if s.IsVisible(v) {
			return v
		}
	}
	return nil
}
