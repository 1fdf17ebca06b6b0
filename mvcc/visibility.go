package mvcc

import (
	"fmt"
	"sync"
	"time"
)

// VisibilityChecker is the read-side entry point: given a snapshot and
// a version chain, hand back the payload the snapshot is allowed to
// see.
type VisibilityChecker struct {
	snapshotMgr *SnapshotManager
}

func NewVisibilityChecker(sm *SnapshotManager) *VisibilityChecker {
	return &VisibilityChecker{snapshotMgr: sm}
}

// CheckVisibility reports whether version is visible under snapshot.
func (vc *VisibilityChecker) CheckVisibility(snapshot *Snapshot, version *Version) bool {
	return snapshot.IsVisible(version)
}

// GetVisibleData returns the newest visible payload in the chain.
func (vc *VisibilityChecker) GetVisibleData(snapshot *Snapshot, chain *Version) ([]byte, error) {
	v := snapshot.GetVisibleVersion(chain)
	if v == nil {
		return nil, fmt.Errorf("no visible version found")
	}
	return v.Data, nil
}

// SweepFunc prunes the owner's version chains against the given GC
// horizon and reports how many versions it dropped. The chain owner
// supplies it: the mvcc package knows the horizon, not where chains
// live.
type SweepFunc func(oldestActive Timestamp) int

// GarbageCollector periodically computes the GC horizon from the
// snapshot manager and runs the owner's sweep over it.
type GarbageCollector struct {
	snapshotMgr *SnapshotManager
	sweep       SweepFunc
	gcInterval  time.Duration
	running     bool
	stopChan    chan struct{}
	mu          sync.Mutex
}

// NewGarbageCollector creates a collector sweeping every gcInterval.
// sweep may be nil; ManualGC still works.
func NewGarbageCollector(sm *SnapshotManager, sweep SweepFunc, gcInterval time.Duration) *GarbageCollector {
	return &GarbageCollector{
		snapshotMgr: sm,
		sweep:       sweep,
		gcInterval:  gcInterval,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the background sweep loop; idempotent.
func (gc *GarbageCollector) Start() {
	gc.mu.Lock()
	if gc.running {
		gc.mu.Unlock()
		return
	}
	gc.running = true
	gc.mu.Unlock()

	go gc.run()
}

// Stop halts the background loop; idempotent.
func (gc *GarbageCollector) Stop() {
	gc.mu.Lock()
	if !gc.running {
		gc.mu.Unlock()
		return
	}
	gc.running = false
	gc.mu.Unlock()

	close(gc.stopChan)
}

func (gc *GarbageCollector) run() {
	ticker := time.NewTicker(gc.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if gc.sweep != nil {
				gc.sweep(gc.snapshotMgr.GetOldestActiveSnapshot())
			}
		case <-gc.stopChan:
			return
		}
	}
}

// ManualGC prunes one chain immediately against the current horizon.
func (gc *GarbageCollector) ManualGC(chain *Version) *Version {
	return GarbageCollect(chain, gc.snapshotMgr.GetOldestActiveSnapshot())
}

// GCStats is a point-in-time view of the collector.
type GCStats struct {
	Running  bool
	Interval time.Duration
}

func (gc *GarbageCollector) GetStats() GCStats {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return GCStats{Running: gc.running, Interval: gc.gcInterval}
}
