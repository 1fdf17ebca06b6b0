package storage

import (
	"container/list"
	"sync"

	"github.com/kartikbazzad/docfacade/internal/util"
)

// BufferPool caches pages with a segmented LRU. A page enters the
// probation segment on first fetch and is promoted to the protected
// segment on a second hit, so a one-pass scan cannot flush the hot set.
// Eviction drains probation before it touches protected.
type BufferPool struct {
	capacity     int
	protectedCap int
	frames       map[PageID]*frame
	protected    *list.List
	probation    *list.List
	pager        *Pager
	mu           sync.RWMutex
}

// frame tracks which segment a cached page currently sits in.
type frame struct {
	page      *Page
	elem      *list.Element
	protected bool
}

// NewBufferPool sizes the cache at capacity pages, 80% of them reserved
// for the protected segment.
func NewBufferPool(capacity int, pager *Pager) *BufferPool {
	protectedCap := capacity * 4 / 5
	if protectedCap < 1 {
		protectedCap = 1
	}
	return &BufferPool{
		capacity:     capacity,
		protectedCap: protectedCap,
		frames:       make(map[PageID]*frame),
		protected:    list.New(),
		probation:    list.New(),
		pager:        pager,
	}
}

// FetchPage returns the page pinned. Cache hits are promoted per the
// segmented-LRU rules; misses read through the pager, evicting if the
// pool is full.
func (bp *BufferPool) FetchPage(id PageID) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if fr, ok := bp.frames[id]; ok {
		fr.page.Pin()
		bp.touch(id, fr)
		return fr.page, nil
	}

	page, err := bp.pager.ReadPage(id)
	if err != nil {
		return nil, err
	}
	if err := bp.admit(page); err != nil {
		return nil, err
	}
	return page, nil
}

// NewPage allocates a fresh page on disk and admits it pinned and dirty.
func (bp *BufferPool) NewPage(pageType byte) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	id, err := bp.pager.AllocatePage()
	if err != nil {
		return nil, err
	}

	page := NewPage(id, pageType)
	if err := bp.admit(page); err != nil {
		return nil, err
	}
	page.MarkDirty()
	return page, nil
}

// touch applies the hit path: protected pages move to MRU, probation
// pages are promoted, demoting the protected LRU if that segment
// overflows. Caller holds bp.mu.
func (bp *BufferPool) touch(id PageID, fr *frame) {
	if fr.protected {
		bp.protected.MoveToFront(fr.elem)
		return
	}

	bp.probation.Remove(fr.elem)
	fr.elem = bp.protected.PushFront(id)
	fr.protected = true

	if bp.protected.Len() > bp.protectedCap {
		tail := bp.protected.Back()
		if tail != nil {
			demoteID := tail.Value.(PageID)
			demoted := bp.frames[demoteID]
			bp.protected.Remove(tail)
			demoted.elem = bp.probation.PushFront(demoteID)
			demoted.protected = false
		}
	}
}

// admit places a page into probation, pinned, evicting first if the
// pool is at capacity. Caller holds bp.mu.
func (bp *BufferPool) admit(page *Page) error {
	if len(bp.frames) >= bp.capacity {
		if err := bp.evict(); err != nil {
			return err
		}
	}
	bp.frames[page.ID] = &frame{
		page: page,
		elem: bp.probation.PushFront(page.ID),
	}
	page.Pin()
	return nil
}

// UnpinPage releases one pin, optionally marking the page dirty.
func (bp *BufferPool) UnpinPage(id PageID, isDirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	fr, ok := bp.frames[id]
	if !ok {
		return util.ErrPageNotFound
	}
	if isDirty {
		fr.page.MarkDirty()
	}
	fr.page.Unpin()
	return nil
}

// FlushPage writes the page through the pager if it is dirty.
func (bp *BufferPool) FlushPage(id PageID) error {
	bp.mu.RLock()
	fr, ok := bp.frames[id]
	bp.mu.RUnlock()

	if !ok {
		return util.ErrPageNotFound
	}

	fr.page.mu.RLock()
	dirty := fr.page.IsDirty
	fr.page.mu.RUnlock()

	if dirty {
		return bp.pager.WritePage(fr.page)
	}
	return nil
}

// FlushAllPages writes every dirty page and syncs the datafile.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.RLock()
	ids := make([]PageID, 0, len(bp.frames))
	for id := range bp.frames {
		ids = append(ids, id)
	}
	bp.mu.RUnlock()

	for _, id := range ids {
		if err := bp.FlushPage(id); err != nil {
			return err
		}
	}
	return bp.pager.Sync()
}

// evict drops one unpinned page, probation first, flushing it when
// dirty. Caller holds bp.mu.
func (bp *BufferPool) evict() error {
	for _, seg := range []*list.List{bp.probation, bp.protected} {
		for elem := seg.Back(); elem != nil; elem = elem.Prev() {
			id := elem.Value.(PageID)
			fr := bp.frames[id]

			if fr.page.IsPinned() {
				continue
			}

			fr.page.mu.RLock()
			dirty := fr.page.IsDirty
			fr.page.mu.RUnlock()

			if dirty {
				if err := bp.pager.WritePage(fr.page); err != nil {
					return err
				}
			}

			seg.Remove(elem)
			delete(bp.frames, id)
			return nil
		}
	}
	// every cached page is pinned
	return util.ErrPageFull
}

// Size reports the number of cached pages.
func (bp *BufferPool) Size() int {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return len(bp.frames)
}

// Close flushes everything and closes the pager.
func (bp *BufferPool) Close() error {
	if err := bp.FlushAllPages(); err != nil {
		return err
	}
	return bp.pager.Close()
}
