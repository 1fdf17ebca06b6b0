package wal

import (
	"bytes"
	"testing"
	"time"
)

func TestRecordEncodeDecode(t *testing.T) {
	in := &Record{
		LSN:       42,
		TxnID:     7,
		Type:      RecordTypeUpdate,
		Key:       []byte("users/abc"),
		Value:     []byte(`{"name":"Alice"}`),
		PrevLSN:   41,
		Timestamp: time.Now().UnixNano(),
	}

	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != in.Size() {
		t.Errorf("encoded length = %d, Size() = %d", len(data), in.Size())
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.LSN != in.LSN || out.TxnID != in.TxnID || out.Type != in.Type {
		t.Errorf("header fields mangled: got %v, want %v", out, in)
	}
	if out.PrevLSN != in.PrevLSN || out.Timestamp != in.Timestamp {
		t.Errorf("chain fields mangled: got PrevLSN=%d Timestamp=%d", out.PrevLSN, out.Timestamp)
	}
	if !bytes.Equal(out.Key, in.Key) || !bytes.Equal(out.Value, in.Value) {
		t.Errorf("payload mangled: key=%q value=%q", out.Key, out.Value)
	}
}

func TestRecordCRCValidation(t *testing.T) {
	r := &Record{LSN: 1, TxnID: 1, Type: RecordTypeInsert, Key: []byte("k"), Value: []byte("v")}
	data, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// flip a payload bit
	data[len(data)-1] ^= 0xFF
	if _, err := Decode(data); err == nil {
		t.Error("Decode accepted a corrupted record")
	}
}

func TestRecordTooShort(t *testing.T) {
	if _, err := Decode(make([]byte, RecordHeaderSize-1)); err == nil {
		t.Error("Decode accepted a truncated header")
	}
}

func TestRecordEmptyKeyValue(t *testing.T) {
	r := &Record{LSN: 9, TxnID: 3, Type: RecordTypeCommit}
	data, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.Key) != 0 || len(out.Value) != 0 {
		t.Errorf("empty payload came back as key=%q value=%q", out.Key, out.Value)
	}
}

func TestRecordLargePayload(t *testing.T) {
	value := make([]byte, 1<<20)
	for i := range value {
		value[i] = byte(i)
	}
	r := &Record{LSN: 5, TxnID: 2, Type: RecordTypeInsert, Key: []byte("big"), Value: value}

	data, err := r.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out.Value, value) {
		t.Error("large payload mangled in round trip")
	}
}
