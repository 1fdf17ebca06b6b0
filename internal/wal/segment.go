package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/docfacade/internal/util"
)

// SegmentID numbers segment files in creation order.
type SegmentID uint64

// DefaultSegmentSize caps a segment file at 64MB before rotation.
const DefaultSegmentSize = 64 * 1024 * 1024

// maxRecordSize bounds a single framed record read back from disk.
const maxRecordSize = 10 * 1024 * 1024

// Segment is one append-only log file. Records are framed with a 4-byte
// little-endian length prefix.
type Segment struct {
	ID       SegmentID
	file     *os.File
	size     int64
	maxSize  int64
	startLSN LSN
	endLSN   LSN
	mu       sync.RWMutex
}

func segmentPath(dir string, id SegmentID) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%016x.log", id))
}

// NewSegment creates (or reopens for append) the segment file for id.
func NewSegment(dir string, id SegmentID, startLSN LSN) (*Segment, error) {
	file, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create WAL segment: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat WAL segment: %w", err)
	}

	return &Segment{
		ID:       id,
		file:     file,
		size:     info.Size(),
		maxSize:  DefaultSegmentSize,
		startLSN: startLSN,
		endLSN:   startLSN,
	}, nil
}

// OpenSegment opens an existing segment for reading or appending. The
// LSN bounds are discovered by the caller scanning its records.
func OpenSegment(dir string, id SegmentID) (*Segment, error) {
	file, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL segment: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat WAL segment: %w", err)
	}

	return &Segment{
		ID:      id,
		file:    file,
		size:    info.Size(),
		maxSize: DefaultSegmentSize,
	}, nil
}

// Write appends one framed record.
func (s *Segment) Write(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := record.Encode()
	if err != nil {
		return err
	}

	var frame [4]byte
	binary.LittleEndian.PutUint32(frame[:], uint32(len(data)))
	if _, err := s.file.Write(frame[:]); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	s.size += int64(4 + len(data))
	s.endLSN = record.LSN
	return nil
}

// ReadRecords scans the segment from the start and decodes every
// record.
func (s *Segment) ReadRecords() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}

	var records []*Record
	var frame [4]byte
	for {
		n, err := s.file.Read(frame[:])
		if err != nil || n == 0 {
			break
		}
		if n != 4 {
			return nil, fmt.Errorf("%w: truncated length frame", util.ErrWALCorrupt)
		}

		recordLen := int(binary.LittleEndian.Uint32(frame[:]))
		if recordLen == 0 || recordLen > maxRecordSize {
			return nil, fmt.Errorf("%w: implausible record length %d", util.ErrWALCorrupt, recordLen)
		}

		data := make([]byte, recordLen)
		if n, err := s.file.Read(data); err != nil || n != recordLen {
			return nil, fmt.Errorf("%w: truncated record body", util.ErrWALCorrupt)
		}

		record, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", util.ErrWALCorrupt, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Sync fsyncs the segment file.
func (s *Segment) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return nil
}

// IsFull reports whether the segment is due for rotation.
func (s *Segment) IsFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size >= s.maxSize
}

// Size reports the current file size in bytes.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close syncs and closes the segment file.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// GetPath returns the backing file path.
func (s *Segment) GetPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file != nil {
		return s.file.Name()
	}
	return ""
}
