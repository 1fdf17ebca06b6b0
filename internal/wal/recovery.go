package wal

import (
	"fmt"

	"github.com/kartikbazzad/docfacade/internal/util"
)

// Recovery reconstructs replayable state from the log after a crash.
// Only writes belonging to transactions with a commit marker are
// surfaced; everything else was in flight when the process died and
// must not reappear.
type Recovery struct {
	wal *WAL
}

func NewRecovery(wal *WAL) *Recovery {
	return &Recovery{wal: wal}
}

// Recover returns the data records of every committed transaction, in
// log order.
func (r *Recovery) Recover() ([]*Record, error) {
	records, err := r.wal.ReadAllRecords()
	if err != nil {
		return nil, fmt.Errorf("recovery failed: %w", err)
	}

	committed := make(map[uint64]bool)
	for _, record := range records {
		switch record.Type {
		case RecordTypeCommit:
			committed[record.TxnID] = true
		case RecordTypeAbort:
			committed[record.TxnID] = false
		}
	}

	var replay []*Record
	for _, record := range records {
		if record.Type == RecordTypeCommit || record.Type == RecordTypeAbort {
			continue
		}
		if committed[record.TxnID] {
			replay = append(replay, record)
		}
	}
	return replay, nil
}

// RecoverToLSN limits Recover to records at or below targetLSN.
func (r *Recovery) RecoverToLSN(targetLSN LSN) ([]*Record, error) {
	all, err := r.Recover()
	if err != nil {
		return nil, err
	}

	var records []*Record
	for _, record := range all {
		if record.LSN <= targetLSN {
			records = append(records, record)
		}
	}
	return records, nil
}

// VerifyIntegrity decodes the whole log and checks that LSNs are
// strictly increasing.
func (r *Recovery) VerifyIntegrity() error {
	records, err := r.wal.ReadAllRecords()
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrWALCorrupt, err)
	}

	var prev LSN
	for i, record := range records {
		if record.LSN <= prev {
			return fmt.Errorf("%w: LSN not monotonic at record %d (prev=%d, current=%d)",
				util.ErrWALCorrupt, i, prev, record.LSN)
		}
		prev = record.LSN
	}
	return nil
}

// GetLastCommittedLSN returns the LSN of the latest commit marker, 0 if
// none exists.
func (r *Recovery) GetLastCommittedLSN() (LSN, error) {
	records, err := r.wal.ReadAllRecords()
	if err != nil {
		return 0, err
	}

	var last LSN
	for _, record := range records {
		if record.Type == RecordTypeCommit && record.LSN > last {
			last = record.LSN
		}
	}
	return last, nil
}
