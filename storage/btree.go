package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/kartikbazzad/docfacade/internal/util"
)

// btreeOrder caps the number of keys per node.
const btreeOrder = 64

// BPlusTree is the durable ordered index over buffer-pool pages. Leaves
// are doubly linked for range scans; deletes are lazy (no merging), the
// usual trade under MVCC where old cells die with their versions.
type BPlusTree struct {
	bp           *BufferPool
	rootID       PageID
	mu           sync.RWMutex
	onRootChange func(PageID)
}

// NewBPlusTree creates an empty tree whose root starts as a leaf.
func NewBPlusTree(bp *BufferPool) (*BPlusTree, error) {
	root, err := bp.NewPage(PageTypeLeaf)
	if err != nil {
		return nil, err
	}
	t := &BPlusTree{bp: bp, rootID: root.ID}
	bp.UnpinPage(root.ID, true)
	return t, nil
}

// LoadBPlusTree reattaches a tree to a root recorded in the system
// catalog, verifying the page is a plausible root.
func LoadBPlusTree(bp *BufferPool, rootID PageID) (*BPlusTree, error) {
	page, err := bp.FetchPage(rootID)
	if err != nil {
		return nil, err
	}
	defer bp.UnpinPage(rootID, false)

	if pt := page.GetPageType(); pt != PageTypeLeaf && pt != PageTypeIndex {
		return nil, fmt.Errorf("page %d is not a tree root (type %d)", rootID, pt)
	}
	return &BPlusTree{bp: bp, rootID: rootID}, nil
}

// SetOnRootChange registers the catalog callback fired when a root
// split moves the root page. Without it the tree is lost on restart.
func (t *BPlusTree) SetOnRootChange(fn func(PageID)) {
	t.mu.Lock()
	t.onRootChange = fn
	t.mu.Unlock()
}

// GetRootID returns the current root page id.
func (t *BPlusTree) GetRootID() PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// Insert adds or overwrites a key. Splits bubble up from the leaf; if
// they reach the root, a new interior root is created over the two
// halves and the root-change callback fires.
func (t *BPlusTree) Insert(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sepKey, sibling, err := t.insertInto(t.rootID, key, value)
	if err != nil {
		return err
	}
	if sibling == 0 {
		return nil
	}

	newRoot, err := t.bp.NewPage(PageTypeIndex)
	if err != nil {
		return err
	}
	old := t.rootID
	sep := Entry{Key: sepKey, Value: encodeChildID(sibling)}
	if err := writeNode(newRoot, interiorPayloadStart, &old, []Entry{sep}); err != nil {
		return err
	}

	t.rootID = newRoot.ID
	if t.onRootChange != nil {
		t.onRootChange(t.rootID)
	}
	t.bp.UnpinPage(newRoot.ID, true)
	return nil
}

// insertInto descends to the leaf for key and inserts, propagating any
// split upward. A zero sibling id means no split happened at this
// level.
func (t *BPlusTree) insertInto(pageID PageID, key, value []byte) ([]byte, PageID, error) {
	page, err := t.bp.FetchPage(pageID)
	if err != nil {
		return nil, 0, err
	}
	defer t.bp.UnpinPage(pageID, true)

	switch page.GetPageType() {
	case PageTypeLeaf:
		return t.insertLeaf(page, key, value)

	case PageTypeIndex:
		childID, err := childFor(page, key)
		if err != nil {
			return nil, 0, err
		}
		sepKey, sibling, err := t.insertInto(childID, key, value)
		if err != nil {
			return nil, 0, err
		}
		if sibling == 0 {
			return nil, 0, nil
		}
		return t.insertInterior(page, sepKey, sibling)

	default:
		return nil, 0, fmt.Errorf("page %d has invalid type %d", pageID, page.GetPageType())
	}
}

// insertLeaf places the entry into a leaf, splitting when the leaf
// overflows by count or bytes.
func (t *BPlusTree) insertLeaf(page *Page, key, value []byte) ([]byte, PageID, error) {
	entries := readEntries(page, PageHeaderSize)

	// existing key: overwrite in place
	for i, e := range entries {
		if bytes.Equal(key, e.Key) {
			entries[i].Value = value
			return nil, 0, writeNode(page, PageHeaderSize, nil, entries)
		}
	}

	entries = insertAt(entries, sortedPos(entries, key), Entry{Key: key, Value: value})

	payload := PageHeaderSize
	for _, e := range entries {
		payload += 4 + len(e.Key) + len(e.Value)
	}
	if len(entries) <= btreeOrder && payload <= PageSize-16 {
		return nil, 0, writeNode(page, PageHeaderSize, nil, entries)
	}

	// split: lower half stays, upper half moves to a new right sibling
	mid := len(entries) / 2
	left, right := entries[:mid], entries[mid:]

	sibling, err := t.bp.NewPage(PageTypeLeaf)
	if err != nil {
		return nil, 0, err
	}
	defer t.bp.UnpinPage(sibling.ID, true)

	// splice the sibling into the leaf chain
	oldNext := page.GetNextPage()
	page.SetNextPage(sibling.ID)
	sibling.SetNextPage(oldNext)
	sibling.SetPrevPage(page.ID)
	if oldNext != 0 {
		if nextPage, err := t.bp.FetchPage(oldNext); err == nil {
			nextPage.SetPrevPage(sibling.ID)
			t.bp.UnpinPage(oldNext, true)
		}
	}

	if err := writeNode(page, PageHeaderSize, nil, left); err != nil {
		return nil, 0, err
	}
	if err := writeNode(sibling, PageHeaderSize, nil, right); err != nil {
		return nil, 0, err
	}

	// leaf splits copy the separator up
	return right[0].Key, sibling.ID, nil
}

// insertInterior adds a separator to an interior node, splitting when
// it overflows.
func (t *BPlusTree) insertInterior(page *Page, key []byte, childID PageID) ([]byte, PageID, error) {
	entries := readEntries(page, interiorPayloadStart)
	p0 := leftPtr(page)

	sep := Entry{Key: key, Value: encodeChildID(childID)}
	entries = insertAt(entries, sortedPos(entries, key), sep)

	if len(entries) <= btreeOrder {
		return nil, 0, writeNode(page, interiorPayloadStart, &p0, entries)
	}
	return t.splitInterior(page, p0, entries)
}

// splitInterior moves the upper half of an overflowing interior node to
// a new sibling. The median key moves up (not copied): its child
// pointer becomes the sibling's P0.
func (t *BPlusTree) splitInterior(page *Page, p0 PageID, entries []Entry) ([]byte, PageID, error) {
	sibling, err := t.bp.NewPage(PageTypeIndex)
	if err != nil {
		return nil, 0, err
	}
	defer t.bp.UnpinPage(sibling.ID, true)

	mid := len(entries) / 2
	median := entries[mid]
	siblingP0 := PageID(binary.LittleEndian.Uint64(median.Value))

	if err := writeNode(page, interiorPayloadStart, &p0, entries[:mid]); err != nil {
		return nil, 0, err
	}
	if err := writeNode(sibling, interiorPayloadStart, &siblingP0, entries[mid+1:]); err != nil {
		return nil, 0, err
	}
	return median.Key, sibling.ID, nil
}

// Search returns the value stored under key.
func (t *BPlusTree) Search(key []byte) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	root, err := t.bp.FetchPage(t.rootID)
	if err != nil {
		return nil, err
	}
	defer t.bp.UnpinPage(root.ID, false)

	leaf, err := t.descendToLeaf(root, key)
	if err != nil {
		return nil, err
	}
	if leaf.ID != root.ID {
		defer t.bp.UnpinPage(leaf.ID, false)
	}
	return lookupInLeaf(leaf, key)
}

// Delete removes a key. Underflowing leaves are left sparse; there is
// no merge pass.
func (t *BPlusTree) Delete(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.bp.FetchPage(t.rootID)
	if err != nil {
		return err
	}
	defer t.bp.UnpinPage(root.ID, false)

	leaf, err := t.descendToLeaf(root, key)
	if err != nil {
		return err
	}
	if leaf.ID != root.ID {
		defer t.bp.UnpinPage(leaf.ID, false)
	}

	entries := readEntries(leaf, PageHeaderSize)
	kept := make([]Entry, 0, len(entries))
	found := false
	for _, e := range entries {
		if bytes.Equal(e.Key, key) {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return util.ErrDocumentNotFound
	}
	return writeNode(leaf, PageHeaderSize, nil, kept)
}

// RangeScan collects every entry with startKey <= key <= endKey,
// walking the leaf chain from the leaf containing startKey.
func (t *BPlusTree) RangeScan(startKey, endKey []byte) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	root, err := t.bp.FetchPage(t.rootID)
	if err != nil {
		return nil, err
	}
	defer t.bp.UnpinPage(root.ID, false)

	leaf, err := t.descendToLeaf(root, startKey)
	if err != nil {
		return nil, err
	}

	// the root pin is covered by the defer above; every other leaf in
	// the chain is unpinned as the scan leaves it
	var results []Entry
	currentID := leaf.ID
	isRoot := currentID == root.ID

	for {
		for _, e := range readEntries(leaf, PageHeaderSize) {
			if bytes.Compare(e.Key, endKey) > 0 {
				if !isRoot {
					t.bp.UnpinPage(currentID, false)
				}
				return results, nil
			}
			if bytes.Compare(e.Key, startKey) >= 0 {
				results = append(results, e)
			}
		}

		nextID := leaf.GetNextPage()
		if nextID == 0 {
			break
		}
		if !isRoot {
			t.bp.UnpinPage(currentID, false)
		}

		leaf, err = t.bp.FetchPage(nextID)
		if err != nil {
			return results, nil
		}
		currentID = leaf.ID
		isRoot = false
	}

	if !isRoot {
		t.bp.UnpinPage(currentID, false)
	}
	return results, nil
}

// descendToLeaf walks interior nodes down to the leaf responsible for
// key. The returned leaf is pinned unless it is the start page itself.
func (t *BPlusTree) descendToLeaf(start *Page, key []byte) (*Page, error) {
	page := start
	for page.GetPageType() == PageTypeIndex {
		childID, err := childFor(page, key)
		if err != nil {
			return nil, err
		}
		child, err := t.bp.FetchPage(childID)
		if err != nil {
			return nil, err
		}
		if page.ID != start.ID {
			t.bp.UnpinPage(page.ID, false)
		}
		page = child
	}
	return page, nil
}

// lookupInLeaf binary-searches a leaf's sorted entries.
func lookupInLeaf(leaf *Page, key []byte) ([]byte, error) {
	entries := readEntries(leaf, PageHeaderSize)
	lo, hi := 0, len(entries)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch cmp := bytes.Compare(key, entries[mid].Key); {
		case cmp == 0:
			return entries[mid].Value, nil
		case cmp < 0:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return nil, util.ErrDocumentNotFound
}
