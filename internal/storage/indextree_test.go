package storage

import (
	"path/filepath"
	"testing"

	"pagedb/internal/value"
)

func openTestIndexTree(t *testing.T) *IndexTree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.idx")
	tree, err := OpenIndexTree(path)
	if err != nil {
		t.Fatalf("OpenIndexTree: %v", err)
	}
	t.Cleanup(func() { tree.Close() })
	return tree
}

func containsRowID(ids []uint32, want uint32) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

func TestIndexInsertSearchEQ(t *testing.T) {
	idx := openTestIndexTree(t)
	for i := uint32(1); i <= 300; i++ {
		if err := idx.Insert(i, value.Int32(int32(i%50))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	got, err := idx.Search(value.Int32(7), value.OpEQ)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// row ids 7,57,107,157,207,257 all have value 7%50==7
	want := []uint32{7, 57, 107, 157, 207, 257}
	if len(got) != len(want) {
		t.Fatalf("Search(=7) returned %d ids, want %d: %v", len(got), len(want), got)
	}
	for _, id := range want {
		if !containsRowID(got, id) {
			t.Fatalf("Search(=7) missing row id %d, got %v", id, got)
		}
	}
}

func TestIndexSearchMissingValue(t *testing.T) {
	idx := openTestIndexTree(t)
	for i := uint32(1); i <= 20; i++ {
		if err := idx.Insert(i, value.Int32(int32(i))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	got, err := idx.Search(value.Int32(9999), value.OpEQ)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Search on absent value returned %v, want empty", got)
	}
}

func TestIndexRangeSearch(t *testing.T) {
	idx := openTestIndexTree(t)
	const n = 800
	for i := uint32(1); i <= n; i++ {
		if err := idx.Insert(i, value.Int32(int32(i))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	got, err := idx.Search(value.Int32(700), value.OpGT)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != n-700 {
		t.Fatalf("Search(>700) returned %d ids, want %d", len(got), n-700)
	}
	for _, id := range got {
		if id <= 700 {
			t.Fatalf("Search(>700) returned out-of-range row id %d", id)
		}
	}
}

func TestIndexUpdateMovesMembership(t *testing.T) {
	idx := openTestIndexTree(t)
	for i := uint32(1); i <= 50; i++ {
		if err := idx.Insert(i, value.Int32(int32(i))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := idx.Update(25, value.Int32(25), value.Int32(9000)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	gotOld, err := idx.Search(value.Int32(25), value.OpEQ)
	if err != nil {
		t.Fatalf("Search old: %v", err)
	}
	if len(gotOld) != 0 {
		t.Fatalf("old value still indexed after Update: %v", gotOld)
	}
	gotNew, err := idx.Search(value.Int32(9000), value.OpEQ)
	if err != nil {
		t.Fatalf("Search new: %v", err)
	}
	if len(gotNew) != 1 || gotNew[0] != 25 {
		t.Fatalf("Search(9000) = %v, want [25]", gotNew)
	}
}

func TestIndexRemoveCollapsesPostingAndPage(t *testing.T) {
	idx := openTestIndexTree(t)
	// 1500 distinct values, each with its own posting, force page
	// splits and then full removal collapses leaves/pages back down
	// (mirrors spec §8 scenario 5).
	for i := uint32(1); i <= 1500; i++ {
		if err := idx.Insert(i, value.Int32(int32(i))); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := uint32(1); i <= 1500; i++ {
		if err := idx.Remove(i, value.Int32(int32(i))); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}
	for i := uint32(1); i <= 1500; i += 97 {
		got, err := idx.Search(value.Int32(int32(i)), value.OpEQ)
		if err != nil {
			t.Fatalf("Search after full removal: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("value %d still indexed after removing every row", i)
		}
	}
}

func TestIndexRemoveFromSharedPosting(t *testing.T) {
	idx := openTestIndexTree(t)
	v := value.Int32(42)
	for i := uint32(1); i <= 5; i++ {
		if err := idx.Insert(i, v); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := idx.Remove(3, v); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err := idx.Search(v, value.OpEQ)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 4 || containsRowID(got, 3) {
		t.Fatalf("Search(42) after removing row 3 = %v, want 4 ids without 3", got)
	}
}

func TestIndexBulkLoad(t *testing.T) {
	idx := openTestIndexTree(t)
	groups := make([]PostingGroup, 0, 200)
	for i := 0; i < 200; i++ {
		groups = append(groups, PostingGroup{
			Value:  value.Int32(int32(i)),
			RowIDs: []uint32{uint32(i), uint32(i + 1000)},
		})
	}
	if err := idx.BulkLoad(groups); err != nil {
		t.Fatalf("BulkLoad: %v", err)
	}
	got, err := idx.Search(value.Int32(150), value.OpEQ)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || !containsRowID(got, 150) || !containsRowID(got, 1150) {
		t.Fatalf("Search(150) after bulk load = %v, want [150 1150]", got)
	}
}
