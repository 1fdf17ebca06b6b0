// Package wal is the write-ahead log backing transaction durability:
// every committed write set is appended and fsynced here before the
// datafile pages carrying it are allowed to reach disk. The log is a
// chain of rotated segment files; GroupCommitter and SharedFlusher
// amortize the fsyncs of concurrent committers.
package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

// WAL manages the segment chain and hands out LSNs.
type WAL struct {
	dir        string
	active     *Segment
	currentLSN atomic.Uint64
	nextSegID  SegmentID
	mu         sync.RWMutex
}

// listSegmentIDs returns the ids of all segment files in dir, ascending.
func listSegmentIDs(dir string) ([]SegmentID, error) {
	files, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	if err != nil {
		return nil, fmt.Errorf("list WAL segments: %w", err)
	}
	ids := make([]SegmentID, 0, len(files))
	for _, f := range files {
		var id uint64
		if _, err := fmt.Sscanf(filepath.Base(f), "wal-%016x.log", &id); err != nil {
			continue
		}
		ids = append(ids, SegmentID(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// NewWAL opens the log at dir. An existing log is scanned so the LSN
// counter resumes past every record already on disk; appending then
// continues in the highest segment.
func NewWAL(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}

	ids, err := listSegmentIDs(dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{dir: dir}

	if len(ids) == 0 {
		segment, err := NewSegment(dir, 0, LSN(1))
		if err != nil {
			return nil, err
		}
		w.active = segment
		w.nextSegID = 1
		w.currentLSN.Store(1)
		return w, nil
	}

	var maxLSN LSN = 1
	for _, id := range ids {
		segment, err := OpenSegment(dir, id)
		if err != nil {
			return nil, err
		}
		records, err := segment.ReadRecords()
		segment.Close()
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.LSN > maxLSN {
				maxLSN = r.LSN
			}
		}
	}

	last := ids[len(ids)-1]
	active, err := NewSegment(dir, last, maxLSN)
	if err != nil {
		return nil, err
	}
	w.active = active
	w.nextSegID = last + 1
	w.currentLSN.Store(uint64(maxLSN))
	return w, nil
}

// Append writes one record and returns its assigned LSN.
func (w *WAL) Append(record *Record) (LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.append(record)
}

// AppendBatch writes the records back to back under one lock hold and
// returns the last assigned LSN.
func (w *WAL) AppendBatch(records []*Record) (LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var last LSN
	for _, record := range records {
		lsn, err := w.append(record)
		if err != nil {
			return 0, err
		}
		last = lsn
	}
	return last, nil
}

// append assigns the next LSN and writes, rotating first if the active
// segment is full. Caller holds w.mu.
func (w *WAL) append(record *Record) (LSN, error) {
	lsn := LSN(w.currentLSN.Add(1))
	record.LSN = lsn

	if w.active.IsFull() {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	if err := w.active.Write(record); err != nil {
		return 0, err
	}
	return lsn, nil
}

// rotate closes the active segment and opens the next one. Caller
// holds w.mu.
func (w *WAL) rotate() error {
	if err := w.active.Close(); err != nil {
		return err
	}
	segment, err := NewSegment(w.dir, w.nextSegID, LSN(w.currentLSN.Load()+1))
	if err != nil {
		return err
	}
	w.active = segment
	w.nextSegID++
	return nil
}

// Sync fsyncs the active segment.
func (w *WAL) Sync() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active.Sync()
}

// GetCurrentLSN returns the highest LSN assigned so far. On a fresh log
// the counter starts at 1 and the first append is assigned 2, so it
// returns 1 before anything is appended.
func (w *WAL) GetCurrentLSN() LSN {
	return LSN(w.currentLSN.Load())
}

// RecordExists reports whether lsn lies in 1..GetCurrentLSN(). LSN 1 is
// never handed out, yet counts as existing.
func (w *WAL) RecordExists(lsn LSN) bool {
	return lsn > 0 && lsn <= w.GetCurrentLSN()
}

// ReadAllRecords decodes every record in every segment, oldest segment
// first.
func (w *WAL) ReadAllRecords() ([]*Record, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	ids, err := listSegmentIDs(w.dir)
	if err != nil {
		return nil, err
	}

	var all []*Record
	for _, id := range ids {
		var records []*Record
		if w.active != nil && id == w.active.ID {
			records, err = w.active.ReadRecords()
		} else {
			var segment *Segment
			segment, err = OpenSegment(w.dir, id)
			if err != nil {
				return nil, err
			}
			records, err = segment.ReadRecords()
			segment.Close()
		}
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// Truncate deletes closed segments whose records all fall below
// upToLSN. The active segment is never removed.
func (w *WAL) Truncate(upToLSN LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids, err := listSegmentIDs(w.dir)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if id == w.active.ID {
			continue
		}
		segment, err := OpenSegment(w.dir, id)
		if err != nil {
			continue
		}
		records, err := segment.ReadRecords()
		segment.Close()
		if err != nil {
			continue
		}

		disposable := true
		for _, r := range records {
			if r.LSN >= upToLSN {
				disposable = false
				break
			}
		}
		if disposable {
			if err := os.Remove(segmentPath(w.dir, id)); err != nil {
				return fmt.Errorf("remove WAL segment %d: %w", id, err)
			}
		}
	}
	return nil
}

// Close closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil {
		return w.active.Close()
	}
	return nil
}
