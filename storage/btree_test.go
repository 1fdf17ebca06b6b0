package storage

import (
	"fmt"
	"testing"
)

func newTestTree(t *testing.T) (*BPlusTree, *BufferPool) {
	t.Helper()
	bp := NewBufferPool(100, openTestPager(t))
	tree, err := NewBPlusTree(bp)
	if err != nil {
		t.Fatalf("NewBPlusTree: %v", err)
	}
	return tree, bp
}

func TestBPlusTreeInsertSearch(t *testing.T) {
	tree, _ := newTestTree(t)

	data := map[string]string{
		"apple":  "red fruit",
		"banana": "yellow fruit",
		"cherry": "red fruit",
		"date":   "brown fruit",
	}
	for k, v := range data {
		if err := tree.Insert([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Insert %s: %v", k, err)
		}
	}
	for k, want := range data {
		got, err := tree.Search([]byte(k))
		if err != nil {
			t.Errorf("Search %s: %v", k, err)
			continue
		}
		if string(got) != want {
			t.Errorf("Search %s = %q, want %q", k, got, want)
		}
	}

	if _, err := tree.Search([]byte("elderberry")); err == nil {
		t.Error("Search for a missing key should fail")
	}
}

func TestBPlusTreeOverwrite(t *testing.T) {
	tree, _ := newTestTree(t)

	key := []byte("test_key")
	if err := tree.Insert(key, []byte("initial")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tree.Insert(key, []byte("updated")); err != nil {
		t.Fatalf("Insert (overwrite): %v", err)
	}

	got, err := tree.Search(key)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if string(got) != "updated" {
		t.Errorf("Search = %q, want %q", got, "updated")
	}
}

func TestBPlusTreeDelete(t *testing.T) {
	tree, _ := newTestTree(t)

	for i := 0; i < 5; i++ {
		k := fmt.Sprintf("key%d", i)
		if err := tree.Insert([]byte(k), []byte("v")); err != nil {
			t.Fatalf("Insert %s: %v", k, err)
		}
	}

	if err := tree.Delete([]byte("key2")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tree.Search([]byte("key2")); err == nil {
		t.Error("deleted key still found")
	}
	if _, err := tree.Search([]byte("key3")); err != nil {
		t.Errorf("neighbor key lost after delete: %v", err)
	}
	if err := tree.Delete([]byte("key2")); err == nil {
		t.Error("deleting a missing key should fail")
	}
}

func TestBPlusTreeRangeScan(t *testing.T) {
	tree, _ := newTestTree(t)

	for i := 1; i <= 10; i++ {
		k := fmt.Sprintf("key%02d", i)
		v := fmt.Sprintf("value%02d", i)
		if err := tree.Insert([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Insert %s: %v", k, err)
		}
	}

	results, err := tree.RangeScan([]byte("key03"), []byte("key07"))
	if err != nil {
		t.Fatalf("RangeScan: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("RangeScan returned %d entries, want 5", len(results))
	}
	if string(results[0].Key) != "key03" {
		t.Errorf("first key = %q, want key03", results[0].Key)
	}
	if string(results[4].Key) != "key07" {
		t.Errorf("last key = %q, want key07", results[4].Key)
	}
}

func TestBPlusTreeSplitsStayOrdered(t *testing.T) {
	tree, _ := newTestTree(t)

	// several hundred keys force leaf splits, a root split, and at
	// least one interior split
	const n = 500
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		v := fmt.Sprintf("v%05d", i)
		if err := tree.Insert([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Insert %s: %v", k, err)
		}
	}

	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		got, err := tree.Search([]byte(k))
		if err != nil {
			t.Fatalf("Search %s after splits: %v", k, err)
		}
		if want := fmt.Sprintf("v%05d", i); string(got) != want {
			t.Fatalf("Search %s = %q, want %q", k, got, want)
		}
	}

	// the whole key space must come back in order through the leaf chain
	all, err := tree.RangeScan([]byte("k00000"), []byte("k99999"))
	if err != nil {
		t.Fatalf("RangeScan: %v", err)
	}
	if len(all) != n {
		t.Fatalf("RangeScan returned %d entries, want %d", len(all), n)
	}
	for i := 1; i < len(all); i++ {
		if string(all[i-1].Key) >= string(all[i].Key) {
			t.Fatalf("leaf chain out of order at %d: %q >= %q", i, all[i-1].Key, all[i].Key)
		}
	}
}

func TestLoadBPlusTree(t *testing.T) {
	tree, bp := newTestTree(t)

	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("k%04d", i)
		if err := tree.Insert([]byte(k), []byte("v")); err != nil {
			t.Fatalf("Insert %s: %v", k, err)
		}
	}
	if err := bp.FlushAllPages(); err != nil {
		t.Fatalf("FlushAllPages: %v", err)
	}

	reloaded, err := LoadBPlusTree(bp, tree.GetRootID())
	if err != nil {
		t.Fatalf("LoadBPlusTree: %v", err)
	}
	if _, err := reloaded.Search([]byte("k0150")); err != nil {
		t.Errorf("Search on reloaded tree: %v", err)
	}
}
