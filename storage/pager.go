// Package storage is the disk layer under the façade: a Pager doing raw
// page I/O against a single datafile, a BufferPool caching pages with a
// scan-resistant segmented LRU, and a durable B+Tree built from those
// pages. Everything above consumes it through Collection and the index
// capability interface.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kartikbazzad/docfacade/internal/util"
)

// Pager owns the datafile and reads/writes whole pages at PageSize
// offsets. Page allocation only ever extends the file; freed pages are
// never reused.
type Pager struct {
	f    *os.File
	mu   sync.RWMutex
	next PageID
}

// NewPager opens (or creates) the datafile at path, creating parent
// directories as needed.
func NewPager(path string) (*Pager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create datafile directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}

	return &Pager{
		f:    f,
		next: PageID(info.Size() / PageSize),
	}, nil
}

// AllocatePage extends the datafile by one page and returns its id.
func (p *Pager) AllocatePage() (PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.next
	p.next++

	if err := p.f.Truncate(int64(p.next) * PageSize); err != nil {
		return 0, fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return id, nil
}

// ReadPage loads one page image from disk.
func (p *Pager) ReadPage(id PageID) (*Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if id >= p.next {
		return nil, util.ErrInvalidPageID
	}

	page := &Page{ID: id}
	n, err := p.f.ReadAt(page.Data[:], int64(id)*PageSize)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("%w: %v", util.ErrDiskReadFailed, err)
	}
	return page, nil
}

// WritePage stores the page image and clears its dirty flag.
func (p *Pager) WritePage(page *Page) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if page.ID >= p.next {
		return util.ErrInvalidPageID
	}

	if _, err := p.f.WriteAt(page.Data[:], int64(page.ID)*PageSize); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}

	page.mu.Lock()
	page.IsDirty = false
	page.mu.Unlock()
	return nil
}

// Sync fsyncs the datafile.
func (p *Pager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return nil
}

// Close syncs and closes the datafile.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.f == nil {
		return nil
	}
	if err := p.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", util.ErrDiskWriteFailed, err)
	}
	return p.f.Close()
}

// GetNextPageID reports the id the next allocation will return.
func (p *Pager) GetNextPageID() PageID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.next
}
