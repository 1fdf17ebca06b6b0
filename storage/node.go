package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kartikbazzad/docfacade/internal/util"
)

// Entry is one key/value cell in a node. Leaf values are document
// payloads; interior values are 8-byte child page ids.
type Entry struct {
	Key   []byte
	Value []byte
}

// Interior nodes carry the left-most child pointer (P0) directly after
// the page header, then the entry cells. Leaf cells start at the header.
const interiorPayloadStart = PageHeaderSize + 8

// Cells share one encoding in both node kinds:
//
//	keyLen (2) | key | valLen (2) | val

// readEntries decodes every cell of the node, leaf or interior.
func readEntries(p *Page, start int) []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := int(binary.LittleEndian.Uint16(p.Data[offKeyCount : offKeyCount+2]))
	if count == 0 {
		return nil
	}

	var entries []Entry
	off := start
	for i := 0; i < count && off < PageSize-8; i++ {
		if off+2 > PageSize {
			break
		}
		keyLen := int(binary.LittleEndian.Uint16(p.Data[off : off+2]))
		off += 2
		if off+keyLen > PageSize {
			break
		}
		key := make([]byte, keyLen)
		copy(key, p.Data[off:off+keyLen])
		off += keyLen

		if off+2 > PageSize {
			break
		}
		valLen := int(binary.LittleEndian.Uint16(p.Data[off : off+2]))
		off += 2
		if off+valLen > PageSize {
			break
		}
		val := make([]byte, valLen)
		copy(val, p.Data[off:off+valLen])
		off += valLen

		entries = append(entries, Entry{Key: key, Value: val})
	}
	return entries
}

// writeNode rewrites the node payload in full. A non-nil leftPtr writes
// the interior P0 slot; start must match the node kind.
func writeNode(p *Page, start int, leftPtr *PageID, entries []Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if leftPtr != nil {
		binary.LittleEndian.PutUint64(p.Data[PageHeaderSize:PageHeaderSize+8], uint64(*leftPtr))
	}
	for i := start; i < PageSize; i++ {
		p.Data[i] = 0
	}

	off := start
	for i, e := range entries {
		need := 2 + len(e.Key) + 2 + len(e.Value)
		if off+need > PageSize {
			return fmt.Errorf("%w: entry %d does not fit", util.ErrPageFull, i)
		}
		binary.LittleEndian.PutUint16(p.Data[off:off+2], uint16(len(e.Key)))
		off += 2
		copy(p.Data[off:off+len(e.Key)], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint16(p.Data[off:off+2], uint16(len(e.Value)))
		off += 2
		copy(p.Data[off:off+len(e.Value)], e.Value)
		off += len(e.Value)
	}

	binary.LittleEndian.PutUint16(p.Data[offKeyCount:offKeyCount+2], uint16(len(entries)))
	binary.LittleEndian.PutUint16(p.Data[offFreeSpace:offFreeSpace+2], uint16(off))
	p.IsDirty = true
	return nil
}

// leftPtr reads the interior node's P0 child pointer.
func leftPtr(p *Page) PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PageID(binary.LittleEndian.Uint64(p.Data[PageHeaderSize : PageHeaderSize+8]))
}

// encodeChildID packs a child page id into an interior cell value.
func encodeChildID(id PageID) []byte {
	v := make([]byte, 8)
	binary.LittleEndian.PutUint64(v, uint64(id))
	return v
}

// childFor picks the child an interior node routes key to: P0 for keys
// below the first separator, otherwise the pointer of the last
// separator not above key.
func childFor(p *Page, key []byte) (PageID, error) {
	child := leftPtr(p)
	for _, e := range readEntries(p, interiorPayloadStart) {
		if bytes.Compare(key, e.Key) < 0 {
			return child, nil
		}
		if len(e.Value) != 8 {
			return 0, fmt.Errorf("interior cell value is %d bytes, want 8", len(e.Value))
		}
		child = PageID(binary.LittleEndian.Uint64(e.Value))
	}
	return child, nil
}

// sortedPos returns the insertion index keeping entries key-ordered.
func sortedPos(entries []Entry, key []byte) int {
	pos := 0
	for i, e := range entries {
		if bytes.Compare(key, e.Key) < 0 {
			break
		}
		pos = i + 1
	}
	return pos
}

// insertAt returns a copy of entries with e inserted at pos.
func insertAt(entries []Entry, pos int, e Entry) []Entry {
	out := make([]Entry, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, e)
	out = append(out, entries[pos:]...)
	return out
}
