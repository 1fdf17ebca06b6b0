package wal

import (
	"errors"
	"sync"
	"time"
)

// ErrCommitterStopped is returned for commits submitted after Stop.
var ErrCommitterStopped = errors.New("group committer stopped")

// commitTicket is one waiter in a commit batch.
type commitTicket struct {
	lsn  LSN
	done chan error
}

// GroupCommitter folds the fsyncs of concurrent commits into one. A
// committer parks on Commit; the background loop gathers tickets and
// answers a whole batch with a single log sync. A batch closes when it
// reaches batchSize, when the intake runs dry (keeps single-writer
// latency low), or on the timeout.
type GroupCommitter struct {
	wal          *WAL
	intake       chan *commitTicket
	batchSize    int
	batchTimeout time.Duration
	mu           sync.Mutex
	stopped      bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// NewGroupCommitter starts the batching loop for wal.
func NewGroupCommitter(wal *WAL) *GroupCommitter {
	gc := &GroupCommitter{
		wal:          wal,
		intake:       make(chan *commitTicket, 1000),
		batchSize:    100,
		batchTimeout: 10 * time.Millisecond,
		stopChan:     make(chan struct{}),
	}
	gc.wg.Add(1)
	go gc.run()
	return gc
}

// Commit blocks until the log covering lsn has been synced to disk.
func (gc *GroupCommitter) Commit(lsn LSN) error {
	gc.mu.Lock()
	stopped := gc.stopped
	gc.mu.Unlock()
	if stopped {
		return ErrCommitterStopped
	}

	ticket := &commitTicket{lsn: lsn, done: make(chan error, 1)}
	select {
	case gc.intake <- ticket:
	case <-gc.stopChan:
		return ErrCommitterStopped
	}
	return <-ticket.done
}

func (gc *GroupCommitter) run() {
	defer gc.wg.Done()

	var batch []*commitTicket
	timer := time.NewTimer(gc.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case ticket := <-gc.intake:
			batch = append(batch, ticket)
			// full batch, or nobody else waiting: sync now
			if len(batch) >= gc.batchSize || len(gc.intake) == 0 {
				gc.settle(batch)
				batch = nil
				timer.Reset(gc.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				gc.settle(batch)
				batch = nil
			}
			timer.Reset(gc.batchTimeout)

		case <-gc.stopChan:
			if len(batch) > 0 {
				gc.settle(batch)
			}
			return
		}
	}
}

// settle syncs once through the shared flusher and releases every
// waiter in the batch.
func (gc *GroupCommitter) settle(batch []*commitTicket) {
	err := GetSharedFlusher().Flush(gc.wal)
	for _, ticket := range batch {
		ticket.done <- err
	}
}

// Stop drains the current batch and shuts the loop down.
func (gc *GroupCommitter) Stop() {
	gc.mu.Lock()
	if gc.stopped {
		gc.mu.Unlock()
		return
	}
	gc.stopped = true
	gc.mu.Unlock()

	close(gc.stopChan)
	gc.wg.Wait()
}
