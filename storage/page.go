package storage

import (
	"encoding/binary"
	"sync"
)

// PageID identifies a page by its position in the datafile.
type PageID uint64

// PageSize is fixed at 8KB; the pager addresses the datafile in
// PageSize strides.
const PageSize = 8192

// Page type tags, stored in the first header byte.
const (
	PageTypeInvalid = iota
	PageTypeMeta
	PageTypeFree
	PageTypeIndex // interior B+Tree node
	PageTypeLeaf  // leaf node carrying document entries
)

// Header field offsets. The header occupies the first PageHeaderSize
// bytes of every page:
//
//	[0]     type
//	[1]     flags
//	[2:4]   key count
//	[4:6]   free-space offset
//	[6:14]  LSN
//	[14:22] next leaf
//	[22:30] previous leaf
const (
	offType      = 0
	offKeyCount  = 2
	offFreeSpace = 4
	offLSN       = 6
	offNext      = 14
	offPrev      = 22

	PageHeaderSize = 30
)

// Page is one in-memory page image plus its buffer-pool bookkeeping.
// PinCount > 0 keeps it resident; IsDirty schedules a write-back.
type Page struct {
	ID       PageID
	Data     [PageSize]byte
	IsDirty  bool
	PinCount int32
	mu       sync.RWMutex
}

// NewPage returns a zeroed page of the given type with an empty header.
func NewPage(id PageID, pageType byte) *Page {
	p := &Page{ID: id}
	p.SetPageType(pageType)
	p.SetKeyCount(0)
	p.SetFreeSpace(PageHeaderSize)
	return p
}

func (p *Page) Pin() {
	p.mu.Lock()
	p.PinCount++
	p.mu.Unlock()
}

func (p *Page) Unpin() {
	p.mu.Lock()
	if p.PinCount > 0 {
		p.PinCount--
	}
	p.mu.Unlock()
}

func (p *Page) IsPinned() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.PinCount > 0
}

// MarkDirty flags the page for write-back on eviction or flush.
func (p *Page) MarkDirty() {
	p.mu.Lock()
	p.IsDirty = true
	p.mu.Unlock()
}

func (p *Page) header16(off int) uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return binary.LittleEndian.Uint16(p.Data[off : off+2])
}

func (p *Page) setHeader16(off int, v uint16) {
	p.mu.Lock()
	binary.LittleEndian.PutUint16(p.Data[off:off+2], v)
	p.IsDirty = true
	p.mu.Unlock()
}

func (p *Page) header64(off int) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return binary.LittleEndian.Uint64(p.Data[off : off+8])
}

func (p *Page) setHeader64(off int, v uint64) {
	p.mu.Lock()
	binary.LittleEndian.PutUint64(p.Data[off:off+8], v)
	p.IsDirty = true
	p.mu.Unlock()
}

func (p *Page) GetPageType() byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Data[offType]
}

func (p *Page) SetPageType(pageType byte) {
	p.mu.Lock()
	p.Data[offType] = pageType
	p.IsDirty = true
	p.mu.Unlock()
}

func (p *Page) GetKeyCount() uint16     { return p.header16(offKeyCount) }
func (p *Page) SetKeyCount(n uint16)    { p.setHeader16(offKeyCount, n) }
func (p *Page) GetFreeSpace() uint16    { return p.header16(offFreeSpace) }
func (p *Page) SetFreeSpace(off uint16) { p.setHeader16(offFreeSpace, off) }
func (p *Page) GetLSN() uint64          { return p.header64(offLSN) }
func (p *Page) SetLSN(lsn uint64)       { p.setHeader64(offLSN, lsn) }
func (p *Page) GetNextPage() PageID     { return PageID(p.header64(offNext)) }
func (p *Page) SetNextPage(id PageID)   { p.setHeader64(offNext, uint64(id)) }
func (p *Page) GetPrevPage() PageID     { return PageID(p.header64(offPrev)) }
func (p *Page) SetPrevPage(id PageID)   { p.setHeader64(offPrev, uint64(id)) }

// RemainingSpace reports how many payload bytes the page still holds.
func (p *Page) RemainingSpace() int {
	return PageSize - int(p.header16(offFreeSpace))
}

// Copy snapshots the full page image, bookkeeping included.
func (p *Page) Copy() *Page {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := &Page{
		ID:       p.ID,
		IsDirty:  p.IsDirty,
		PinCount: p.PinCount,
	}
	copy(out.Data[:], p.Data[:])
	return out
}
