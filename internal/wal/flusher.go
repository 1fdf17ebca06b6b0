package wal

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrFlusherStopped is returned for flushes submitted after Stop.
var ErrFlusherStopped = errors.New("shared flusher stopped")

// flushTicket is one pending sync request.
type flushTicket struct {
	wal  *WAL
	done chan error
}

// SharedFlusher is the process-wide fsync funnel. Several databases may
// each run their own log; funneling every sync through one goroutine
// lets requests against the same WAL collapse into a single fsync.
type SharedFlusher struct {
	intake       chan *flushTicket
	batchSize    int
	batchTimeout time.Duration
	stopped      atomic.Bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

var (
	sharedFlusher     *SharedFlusher
	sharedFlusherOnce sync.Once
)

// GetSharedFlusher returns the process-wide flusher, starting it on
// first use.
func GetSharedFlusher() *SharedFlusher {
	sharedFlusherOnce.Do(func() {
		sharedFlusher = &SharedFlusher{
			intake:       make(chan *flushTicket, 10000),
			batchSize:    1000,
			batchTimeout: 5 * time.Millisecond,
			stopChan:     make(chan struct{}),
		}
		sharedFlusher.wg.Add(1)
		go sharedFlusher.run()
	})
	return sharedFlusher
}

// Flush blocks until wal has been synced to disk.
func (sf *SharedFlusher) Flush(wal *WAL) error {
	if sf.stopped.Load() {
		return ErrFlusherStopped
	}

	ticket := &flushTicket{wal: wal, done: make(chan error, 1)}
	select {
	case sf.intake <- ticket:
	case <-sf.stopChan:
		return ErrFlusherStopped
	}
	return <-ticket.done
}

func (sf *SharedFlusher) run() {
	defer sf.wg.Done()

	var batch []*flushTicket
	timer := time.NewTimer(sf.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case ticket := <-sf.intake:
			batch = append(batch, ticket)
			if len(batch) >= sf.batchSize || len(sf.intake) == 0 {
				sf.settle(batch)
				batch = nil
				timer.Reset(sf.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				sf.settle(batch)
				batch = nil
			}
			timer.Reset(sf.batchTimeout)

		case <-sf.stopChan:
			if len(batch) > 0 {
				sf.settle(batch)
			}
			return
		}
	}
}

// settle groups the batch by WAL, syncs each once, and fans the result
// back out to every waiter.
func (sf *SharedFlusher) settle(batch []*flushTicket) {
	byWAL := make(map[*WAL][]*flushTicket)
	for _, ticket := range batch {
		byWAL[ticket.wal] = append(byWAL[ticket.wal], ticket)
	}
	for wal, tickets := range byWAL {
		err := wal.Sync()
		for _, ticket := range tickets {
			ticket.done <- err
		}
	}
}

// Stop drains the current batch and shuts the loop down.
func (sf *SharedFlusher) Stop() {
	if sf.stopped.Swap(true) {
		return
	}
	close(sf.stopChan)
	sf.wg.Wait()
}

// Stats is a point-in-time view of the flusher.
type Stats struct {
	QueueDepth int
	BatchSize  int
	IsStopped  bool
}

// GetStats reports queue depth and batching configuration.
func (sf *SharedFlusher) GetStats() Stats {
	return Stats{
		QueueDepth: len(sf.intake),
		BatchSize:  sf.batchSize,
		IsStopped:  sf.stopped.Load(),
	}
}
