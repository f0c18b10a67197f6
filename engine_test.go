package pagedb

import (
	"errors"
	"os"
	"testing"

	"pagedb/internal/value"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func mustText(t *testing.T, s string) value.Value {
	t.Helper()
	v, err := value.Text(s)
	if err != nil {
		t.Fatalf("Text(%q): %v", s, err)
	}
	return v
}

// Scenario 1: table creation, two inserts, a full scan in row-id
// order, and the index file existing on disk once built.
func TestScenarioCreateInsertSelectWithIndex(t *testing.T) {
	eng := openTestEngine(t)
	test, err := eng.NewTable("test", []Column{
		{Name: "id", Type: TypeInt32, PrimaryKey: true},
		{Name: "name", Type: TypeText},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if _, err := test.Insert([]value.Value{value.Int32(1), mustText(t, "a")}); err != nil {
		t.Fatalf("Insert(1): %v", err)
	}
	if _, err := test.Insert([]value.Value{value.Int32(2), mustText(t, "b")}); err != nil {
		t.Fatalf("Insert(2): %v", err)
	}
	if err := test.CreateIndex("id"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	rows, err := test.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("All returned %d rows, want 2", len(rows))
	}
	if rows[0].Values[0].Int() != 1 || rows[0].Values[1].Text() != "a" {
		t.Fatalf("row 0 = %v, want (1,a)", rows[0].Values)
	}
	if rows[1].Values[0].Int() != 2 || rows[1].Values[1].Text() != "b" {
		t.Fatalf("row 1 = %v, want (2,b)", rows[1].Values)
	}

	if _, err := os.Stat(test.fileFor("id")); err != nil {
		t.Fatalf("index file for id missing: %v", err)
	}
}

// Scenario 2: 1000 rows with a distinct col3 in [0,999]; col3 >= 800
// returns exactly 200 rows, all in range.
func TestScenarioRangeSearchAtScale(t *testing.T) {
	eng := openTestEngine(t)
	tbl, err := eng.NewTable("wide", []Column{
		{Name: "col1", Type: TypeInt32},
		{Name: "col2", Type: TypeInt32},
		{Name: "col3", Type: TypeInt32},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	for i := int32(0); i < 1000; i++ {
		if _, err := tbl.Insert([]value.Value{value.Int32(i), value.Int32(i * 2), value.Int32(i)}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	rows, err := tbl.Search("col3", value.Int32(800), value.OpGE)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 200 {
		t.Fatalf("Search(col3>=800) returned %d rows, want 200", len(rows))
	}
	for _, r := range rows {
		v := r.Values[2].Int()
		if v < 800 || v > 999 {
			t.Fatalf("row with col3=%d out of [800,999]", v)
		}
	}
}

// Scenario 3: a UNIQUE column rejects a duplicate insert with a
// schema error wrapping ErrDuplicateValue.
func TestScenarioUniqueViolation(t *testing.T) {
	eng := openTestEngine(t)
	tbl, err := eng.NewTable("t", []Column{
		{Name: "id", Type: TypeInt32, Unique: true},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if _, err := tbl.Insert([]value.Value{value.Int32(1)}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err = tbl.Insert([]value.Value{value.Int32(1)})
	if err == nil {
		t.Fatal("second insert with duplicate unique value: want error, got nil")
	}
	if !errors.Is(err, ErrSchema) || !errors.Is(err, ErrDuplicateValue) {
		t.Fatalf("second insert error = %v, want ErrSchema + ErrDuplicateValue", err)
	}
}

// Scenario 4: updating a text column to a value long enough to force
// a cell resize across the page-split threshold still round-trips
// and leaves the row count unchanged.
func TestScenarioUpdateTextResize(t *testing.T) {
	eng := openTestEngine(t)
	tbl, err := eng.NewTable("test", []Column{
		{Name: "id", Type: TypeInt32},
		{Name: "name", Type: TypeText},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	var fifthRowID uint32
	for i := int32(1); i <= 10; i++ {
		rowID, err := tbl.Insert([]value.Value{value.Int32(i), mustText(t, "x")})
		if err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
		if i == 5 {
			fifthRowID = rowID
		}
	}
	long := mustText(t, "XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX")
	if err := tbl.Update(fifthRowID, "name", long); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, err := tbl.Get(fifthRowID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Values[1].Text() != long.Text() {
		t.Fatalf("Get after Update = %q, want %q", rec.Values[1].Text(), long.Text())
	}
	rows, err := tbl.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("row count after update = %d, want 10", len(rows))
	}
}

// Scenario 5: three row ids sharing one indexed value; removing the
// middle one leaves the other two, and removing the rest empties the
// posting entirely.
func TestScenarioSharedValueRemoval(t *testing.T) {
	eng := openTestEngine(t)
	tbl, err := eng.NewTable("t", []Column{
		{Name: "v", Type: TypeInt32},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	ids := make([]uint32, 0, 3)
	for i := 0; i < 3; i++ {
		rowID, err := tbl.Insert([]value.Value{value.Int32(42)})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		ids = append(ids, rowID)
	}
	if err := tbl.CreateIndex("v"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	if err := tbl.Delete(ids[1]); err != nil {
		t.Fatalf("Delete middle row: %v", err)
	}
	rows, err := tbl.Search("v", value.Int32(42), value.OpEQ)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Search after one removal returned %d rows, want 2", len(rows))
	}

	if err := tbl.Delete(ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := tbl.Delete(ids[2]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rows, err = tbl.Search("v", value.Int32(42), value.OpEQ)
	if err != nil {
		t.Fatalf("Search after full removal: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("Search after full removal returned %v, want empty", rows)
	}
}

// Scenario 6: a Date column round-trips through the engine.
func TestScenarioDateRoundTrip(t *testing.T) {
	eng := openTestEngine(t)
	tbl, err := eng.NewTable("t", []Column{
		{Name: "d", Type: TypeDate},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	const unixMidnight2021_01_01 = 1609459200
	rowID, err := tbl.Insert([]value.Value{value.Date(unixMidnight2021_01_01)})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	rec, err := tbl.Get(rowID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Values[0].Int() != unixMidnight2021_01_01 {
		t.Fatalf("date round-trip = %d, want %d", rec.Values[0].Int(), unixMidnight2021_01_01)
	}
}

func TestEngineShowTablesAndDropTable(t *testing.T) {
	eng := openTestEngine(t)
	if _, err := eng.NewTable("a", []Column{{Name: "id", Type: TypeInt32}}); err != nil {
		t.Fatalf("NewTable(a): %v", err)
	}
	if _, err := eng.NewTable("b", []Column{{Name: "id", Type: TypeInt32}}); err != nil {
		t.Fatalf("NewTable(b): %v", err)
	}
	names, err := eng.ShowTables()
	if err != nil {
		t.Fatalf("ShowTables: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("ShowTables = %v, want 2 entries", names)
	}

	if err := eng.DropTable("a"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	names, err = eng.ShowTables()
	if err != nil {
		t.Fatalf("ShowTables: %v", err)
	}
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("ShowTables after drop = %v, want [b]", names)
	}
	if _, err := eng.LoadTable("a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadTable(a) after drop: err = %v, want ErrNotFound", err)
	}
}

func TestEngineLoadTableAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	eng, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tbl, err := eng.NewTable("people", []Column{
		{Name: "id", Type: TypeInt32, PrimaryKey: true},
		{Name: "name", Type: TypeText},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if _, err := tbl.Insert([]value.Value{value.Int32(1), mustText(t, "Alice")}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	eng2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open: %v", err)
	}
	defer eng2.Close()
	reloaded, err := eng2.LoadTable("people")
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if got := reloaded.Schema(); len(got.Columns) != 2 || got.Columns[1].Name != "name" {
		t.Fatalf("reloaded schema = %+v, want 2 columns with name second", got)
	}
	rows, err := reloaded.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(rows) != 1 || rows[0].Values[1].Text() != "Alice" {
		t.Fatalf("reloaded rows = %v, want [(1,Alice)]", rows)
	}
}
