// Package mvcc provides the engine's multi-version layer: per-record
// version chains, transaction snapshots, and the visibility rules that
// pick which version a snapshot may see. Readers never block writers;
// stale versions are reclaimed once no active snapshot can reach them.
package mvcc

import (
	"sync/atomic"
	"time"
)

// Timestamp is a logical clock value, unique and increasing.
type Timestamp uint64

// Version is one historical state of a record. Chains run newest-first:
// Next points at the older version.
type Version struct {
	Timestamp Timestamp
	Data      []byte
	TxnID     uint64
	Next      *Version
}

// VersionManager issues timestamps and builds version-chain links.
type VersionManager struct {
	clock atomic.Uint64
}

// NewVersionManager seeds the logical clock from wall time so
// timestamps stay unique across restarts without persisting the clock.
func NewVersionManager() *VersionManager {
	vm := &VersionManager{}
	vm.clock.Store(uint64(time.Now().UnixNano()))
	return vm
}

// NewTimestamp draws the next clock value.
func (vm *VersionManager) NewTimestamp() Timestamp {
	return Timestamp(vm.clock.Add(1))
}

// GetCurrentTimestamp reads the clock without advancing it.
func (vm *VersionManager) GetCurrentTimestamp() Timestamp {
	return Timestamp(vm.clock.Load())
}

// CreateVersion stamps a fresh, unlinked version.
func (vm *VersionManager) CreateVersion(data []byte, txnID uint64) *Version {
	return &Version{
		Timestamp: vm.NewTimestamp(),
		Data:      data,
		TxnID:     txnID,
	}
}

// AddVersion links v in front of head and returns the new head.
func (vm *VersionManager) AddVersion(head, v *Version) *Version {
	v.Next = head
	return v
}

// FindVersion walks the chain from head and returns the newest version
// the snapshot may see, or nil.
func FindVersion(head *Version, snapshot *Snapshot) *Version {
	for v := head; v != nil; v = v.Next {
		if snapshot.IsVisible(v) {
			return v
		}
	}
	return nil
}

// GarbageCollect unlinks versions older than the oldest active
// snapshot. The head stays even if old: it is the newest committed
// state and the only one a future snapshot starts from.
func GarbageCollect(head *Version, oldestActive Timestamp) *Version {
	if head == nil {
		return nil
	}
	for v := head; v.Next != nil; {
		if v.Next.Timestamp < oldestActive {
			v.Next = v.Next.Next
		} else {
			v = v.Next
		}
	}
	return head
}

// CountVersions reports the chain length from head.
func CountVersions(head *Version) int {
	n := 0
	for v := head; v != nil; v = v.Next {
		n++
	}
	return n
}

// CopyData clones version payload bytes; nil stays nil.
func CopyData(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
