// Command demo walks through the six end-to-end scenarios from the
// engine's test suite against a throwaway directory, narrating each
// step with plain fmt.Println output.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"pagedb"
	"pagedb/internal/value"
)

func main() {
	dir := flag.String("dir", "", "database directory (default: a fresh temp dir)")
	flag.Parse()

	root := *dir
	if root == "" {
		tmp, err := os.MkdirTemp("", "pagedb-demo-*")
		if err != nil {
			log.Fatalf("demo: %v", err)
		}
		defer os.RemoveAll(tmp)
		root = tmp
	}

	eng, err := pagedb.Open(root)
	if err != nil {
		log.Fatalf("demo: open engine: %v", err)
	}
	defer eng.Close()

	fmt.Println("=== scenario 1: create, insert, select, index-on-disk ===")
	scenarioCreateInsertSelect(eng)

	fmt.Println("\n=== scenario 2: range search over 1000 rows ===")
	scenarioRangeSearch(eng)

	fmt.Println("\n=== scenario 3: unique constraint violation ===")
	scenarioUniqueViolation(eng)

	fmt.Println("\n=== scenario 4: text update forcing a resize ===")
	scenarioTextResize(eng)

	fmt.Println("\n=== scenario 5: shared posting collapses on delete ===")
	scenarioSharedPosting(eng)

	fmt.Println("\n=== scenario 6: date round-trip ===")
	scenarioDateRoundTrip(eng)

	fmt.Println("\ndemo complete, database left at", root)
}

func scenarioCreateInsertSelect(eng *pagedb.Engine) {
	test, err := eng.NewTable("test", []pagedb.Column{
		{Name: "id", Type: pagedb.TypeInt32, PrimaryKey: true},
		{Name: "name", Type: pagedb.TypeText},
	})
	if err != nil {
		log.Fatalf("create table test: %v", err)
	}
	a, _ := value.Text("a")
	b, _ := value.Text("b")
	mustInsert(test, value.Int32(1), a)
	mustInsert(test, value.Int32(2), b)
	if err := test.CreateIndex("id"); err != nil {
		log.Fatalf("create_index(id): %v", err)
	}
	rows, err := test.All()
	if err != nil {
		log.Fatalf("select * from test: %v", err)
	}
	for _, r := range rows {
		fmt.Printf("  row %d: id=%d name=%q\n", r.RowID, r.Values[0].Int(), r.Values[1].Text())
	}
}

func scenarioRangeSearch(eng *pagedb.Engine) {
	wide, err := eng.NewTable("wide", []pagedb.Column{
		{Name: "col1", Type: pagedb.TypeInt32},
		{Name: "col2", Type: pagedb.TypeInt32},
		{Name: "col3", Type: pagedb.TypeInt32},
	})
	if err != nil {
		log.Fatalf("create table wide: %v", err)
	}
	for i := int32(0); i < 1000; i++ {
		if _, err := wide.Insert([]value.Value{value.Int32(i), value.Int32(i * 2), value.Int32(i)}); err != nil {
			log.Fatalf("insert row %d: %v", i, err)
		}
	}
	rows, err := wide.Search("col3", value.Int32(800), value.OpGE)
	if err != nil {
		log.Fatalf("search col3>=800: %v", err)
	}
	fmt.Printf("  col3 >= 800 returned %d rows (want 200)\n", len(rows))
}

func scenarioUniqueViolation(eng *pagedb.Engine) {
	t, err := eng.NewTable("uniq", []pagedb.Column{
		{Name: "id", Type: pagedb.TypeInt32, Unique: true},
	})
	if err != nil {
		log.Fatalf("create table uniq: %v", err)
	}
	mustInsert(t, value.Int32(1))
	_, err = t.Insert([]value.Value{value.Int32(1)})
	fmt.Printf("  second insert of id=1: %v\n", err)
}

func scenarioTextResize(eng *pagedb.Engine) {
	t, err := eng.NewTable("resize", []pagedb.Column{
		{Name: "id", Type: pagedb.TypeInt32},
		{Name: "name", Type: pagedb.TypeText},
	})
	if err != nil {
		log.Fatalf("create table resize: %v", err)
	}
	var fifth uint32
	for i := int32(1); i <= 10; i++ {
		short, _ := value.Text("x")
		id, err := t.Insert([]value.Value{value.Int32(i), short})
		if err != nil {
			log.Fatalf("insert: %v", err)
		}
		if i == 5 {
			fifth = id
		}
	}
	long, _ := value.Text("XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX")
	if err := t.Update(fifth, "name", long); err != nil {
		log.Fatalf("update name: %v", err)
	}
	rec, err := t.Get(fifth)
	if err != nil {
		log.Fatalf("get after update: %v", err)
	}
	rows, _ := t.All()
	fmt.Printf("  row %d name is now %q, total rows still %d\n", rec.RowID, rec.Values[1].Text(), len(rows))
}

func scenarioSharedPosting(eng *pagedb.Engine) {
	t, err := eng.NewTable("posting", []pagedb.Column{
		{Name: "v", Type: pagedb.TypeInt32},
	})
	if err != nil {
		log.Fatalf("create table posting: %v", err)
	}
	ids := make([]uint32, 3)
	for i := range ids {
		ids[i] = mustInsert(t, value.Int32(42))
	}
	if err := t.CreateIndex("v"); err != nil {
		log.Fatalf("create_index(v): %v", err)
	}
	if err := t.Delete(ids[1]); err != nil {
		log.Fatalf("delete: %v", err)
	}
	rows, _ := t.Search("v", value.Int32(42), value.OpEQ)
	fmt.Printf("  after removing row %d: %d rows remain with v=42\n", ids[1], len(rows))
	if err := t.Delete(ids[0]); err != nil {
		log.Fatalf("delete: %v", err)
	}
	if err := t.Delete(ids[2]); err != nil {
		log.Fatalf("delete: %v", err)
	}
	rows, _ = t.Search("v", value.Int32(42), value.OpEQ)
	fmt.Printf("  after removing all three: %d rows remain\n", len(rows))
}

func scenarioDateRoundTrip(eng *pagedb.Engine) {
	t, err := eng.NewTable("dates", []pagedb.Column{
		{Name: "d", Type: pagedb.TypeDate},
	})
	if err != nil {
		log.Fatalf("create table dates: %v", err)
	}
	const unixMidnight2021_01_01 = 1609459200
	id := mustInsert(t, value.Date(unixMidnight2021_01_01))
	rec, err := t.Get(id)
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	fmt.Printf("  stored unix second %d, read back %d\n", unixMidnight2021_01_01, rec.Values[0].Int())
}

func mustInsert(t *pagedb.Table, values ...value.Value) uint32 {
	id, err := t.Insert(values)
	if err != nil {
		log.Fatalf("insert: %v", err)
	}
	return id
}
