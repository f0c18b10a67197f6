package storage

import (
	"path/filepath"
	"testing"

	"pagedb/internal/value"
)

func openTestTableTree(t *testing.T) *TableTree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tbl")
	tree, err := OpenTableTree(path)
	if err != nil {
		t.Fatalf("OpenTableTree: %v", err)
	}
	t.Cleanup(func() { tree.Close() })
	return tree
}

func intRow(n int32) []value.Value {
	return []value.Value{value.Int32(n)}
}

func TestTableAppendGetRoundTrip(t *testing.T) {
	tree := openTestTableTree(t)
	const count = 500
	for i := 0; i < count; i++ {
		rowID, err := tree.Append(intRow(int32(i)))
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		if rowID != uint32(i+1) {
			t.Fatalf("Append(%d) row id = %d, want %d", i, rowID, i+1)
		}
	}
	for i := 0; i < count; i++ {
		rec, err := tree.Get(uint32(i + 1))
		if err != nil {
			t.Fatalf("Get(%d): %v", i+1, err)
		}
		if rec.Values[0].Int() != int64(i) {
			t.Fatalf("Get(%d) = %d, want %d", i+1, rec.Values[0].Int(), i)
		}
	}
}

func TestTableGetMissing(t *testing.T) {
	tree := openTestTableTree(t)
	if _, err := tree.Get(42); err != ErrRowNotFound {
		t.Fatalf("Get on empty table: err = %v, want ErrRowNotFound", err)
	}
}

func TestTableSearchFiltersAscending(t *testing.T) {
	tree := openTestTableTree(t)
	for i := 0; i < 1000; i++ {
		if _, err := tree.Append(intRow(int32(i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := tree.Search(0, value.Int32(800), value.OpGE)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 200 {
		t.Fatalf("Search >= 800 returned %d records, want 200", len(got))
	}
	prev := int64(-1)
	for _, rec := range got {
		v := rec.Values[0].Int()
		if v < 800 || v > 999 {
			t.Fatalf("Search >= 800 returned out-of-range value %d", v)
		}
		if int64(rec.RowID) <= prev {
			t.Fatalf("Search results not in ascending row-id order")
		}
		prev = int64(rec.RowID)
	}
}

func TestTableUpdateTextResize(t *testing.T) {
	tree := openTestTableTree(t)
	for i := 0; i < 10; i++ {
		short, _ := value.Text("x")
		if _, err := tree.Append([]value.Value{value.Int32(int32(i)), short}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	long, _ := value.Text("XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX")
	if err := tree.Update(5, 1, long); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, err := tree.Get(5)
	if err != nil {
		t.Fatalf("Get(5): %v", err)
	}
	if rec.Values[1].Text() != long.Text() {
		t.Fatalf("Get(5) after Update = %q, want %q", rec.Values[1].Text(), long.Text())
	}
	all, err := tree.Search(-1, value.Null(), value.OpEQ)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("total rows after update = %d, want 10", len(all))
	}
}

func TestTableDeleteLeftmostUpdatesSeparator(t *testing.T) {
	tree := openTestTableTree(t)
	for i := 0; i < 2000; i++ {
		if _, err := tree.Append(intRow(int32(i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	leaf := tree.leftmostLeaf()
	firstID := tree.leafRowID(leaf, 0)
	if err := tree.Delete(firstID); err != nil {
		t.Fatalf("Delete(%d): %v", firstID, err)
	}
	if _, err := tree.Get(firstID); err != ErrRowNotFound {
		t.Fatalf("Get(%d) after delete: err = %v, want ErrRowNotFound", firstID, err)
	}
	newFirstID := firstID + 1
	if _, err := tree.Get(newFirstID); err != nil {
		t.Fatalf("Get(%d) after deleting leftmost: %v", newFirstID, err)
	}
	page, idx := tree.locateLeafCell(newFirstID)
	if idx != 0 {
		t.Fatalf("new minimum row id %d did not land at leaf index 0 on page %d (idx=%d)", newFirstID, page, idx)
	}
}

func TestTableRootSplitCreatesInteriorRoot(t *testing.T) {
	tree := openTestTableTree(t)
	rootBefore := tree.Root()
	if tree.pf.ReadHeader(rootBefore).Type != PageTableLeaf {
		t.Fatalf("fresh table root is not a leaf")
	}
	for i := 0; i < 5000; i++ {
		if _, err := tree.Append(intRow(int32(i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	rootAfter := tree.Root()
	if tree.pf.ReadHeader(rootAfter).Type != PageTableInterior {
		t.Fatalf("root after many appends is not an interior page")
	}
	if tree.pf.ReadHeader(rootBefore).Parent == NoPage {
		t.Fatalf("original root page's parent was never rewritten after splitting")
	}
}
