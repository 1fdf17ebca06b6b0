package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// RecordType tags what a log record describes.
type RecordType byte

const (
	RecordTypeInvalid RecordType = iota
	RecordTypeInsert
	RecordTypeUpdate
	RecordTypeDelete
	RecordTypeCommit
	RecordTypeAbort
	RecordTypeCheckpoint
)

// LSN is the log sequence number: strictly increasing across the whole
// log, never reused across segment rotation or restart.
type LSN uint64

// Record is one log entry. PrevLSN chains the records of a transaction
// newest-first.
type Record struct {
	LSN       LSN
	TxnID     uint64
	Type      RecordType
	Key       []byte
	Value     []byte
	PrevLSN   LSN
	Timestamp int64
}

// On-disk record layout, all fields little-endian:
//
//	crc32 (4) | lsn (8) | txnID (8) | type (1) | prevLSN (8) |
//	timestamp (8) | keyLen (4) | valLen (4) | key | value
//
// The checksum covers everything after itself.
const RecordHeaderSize = 45

// Encode serializes the record, checksum included.
func (r *Record) Encode() ([]byte, error) {
	buf := make([]byte, r.Size())

	off := 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.LSN))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], r.TxnID)
	off += 8
	buf[off] = byte(r.Type)
	off++
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.PrevLSN))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.Timestamp))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Key)))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Value)))
	off += 4
	off += copy(buf[off:], r.Key)
	copy(buf[off:], r.Value)

	binary.LittleEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:]))
	return buf, nil
}

// Decode parses an encoded record, rejecting checksum or length
// mismatches.
func Decode(data []byte) (*Record, error) {
	if len(data) < RecordHeaderSize {
		return nil, fmt.Errorf("record too short: %d bytes, header needs %d", len(data), RecordHeaderSize)
	}

	wantCRC := binary.LittleEndian.Uint32(data[0:4])
	if gotCRC := crc32.ChecksumIEEE(data[4:]); gotCRC != wantCRC {
		return nil, fmt.Errorf("record checksum mismatch: stored %d, computed %d", wantCRC, gotCRC)
	}

	r := &Record{}
	off := 4
	r.LSN = LSN(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	r.TxnID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	r.Type = RecordType(data[off])
	off++
	r.PrevLSN = LSN(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	r.Timestamp = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	keyLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	valLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	if off+keyLen+valLen != len(data) {
		return nil, fmt.Errorf("record length mismatch: header says %d payload bytes, have %d",
			keyLen+valLen, len(data)-off)
	}

	r.Key = make([]byte, keyLen)
	copy(r.Key, data[off:off+keyLen])
	off += keyLen
	r.Value = make([]byte, valLen)
	copy(r.Value, data[off:])
	return r, nil
}

// Size reports the encoded length in bytes.
func (r *Record) Size() int {
	return RecordHeaderSize + len(r.Key) + len(r.Value)
}

func (r *Record) String() string {
	return fmt.Sprintf("Record{LSN:%d, TxnID:%d, Type:%d, KeyLen:%d, ValueLen:%d}",
		r.LSN, r.TxnID, r.Type, len(r.Key), len(r.Value))
}
