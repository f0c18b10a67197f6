// Package pagedb is a small, embeddable relational storage engine:
// tables are row-id-ordered B+-trees, secondary indexes are
// value-ordered B+-trees with inline posting lists, and every page is
// a fixed 512-byte slot in a flat file. There is no SQL layer —
// pagedb is the storage engine a query layer would sit on top of.
//
// # Basic usage
//
//	eng, _ := pagedb.Open("data")
//	defer eng.Close()
//
//	users, _ := eng.NewTable("users", []pagedb.Column{
//		{Name: "id", Type: pagedb.TypeInt32, PrimaryKey: true},
//		{Name: "name", Type: pagedb.TypeText},
//		{Name: "age", Type: pagedb.TypeInt32, Nullable: true},
//	})
//
//	name, _ := value.Text("Alice")
//	rowID, _ := users.Insert([]value.Value{value.Int32(1), name, value.Int32(30)})
//
//	_ = users.CreateIndex("age")
//	rows, _ := users.Search("age", value.Int32(30), value.OpGE)
//
// A process restart reopens the same tables by name:
//
//	eng, _ := pagedb.Open("data")
//	users, _ := eng.LoadTable("users")
//
// See the teacher's own tinysql.go for the doc-comment conventions
// this package follows.
package pagedb

import (
	"fmt"
	"os"
	"path/filepath"

	"pagedb/internal/storage"
)

// Engine owns one directory of table and index files, plus the
// catalog tables (meta_tables, meta_columns) that let ShowTables and
// LoadTable recover schema across a process restart (spec §4.H/§6).
type Engine struct {
	dir         string
	metaTables  *Table
	metaColumns *Table
	tables      map[string]*Table
}

// Open opens or creates an engine rooted at dir, bootstrapping the
// catalog tables on first use.
func Open(dir string) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pagedb: open engine at %q: %w", dir, err)
	}
	e := &Engine{dir: dir, tables: make(map[string]*Table)}

	mt, err := e.openTableFiles(metaTablesSchema())
	if err != nil {
		return nil, err
	}
	e.metaTables = mt

	mc, err := e.openTableFiles(metaColumnsSchema())
	if err != nil {
		mt.Close()
		return nil, err
	}
	e.metaColumns = mc
	return e, nil
}

// Close releases every open file handle, including the catalog's.
func (e *Engine) Close() error {
	var firstErr error
	for _, t := range e.tables {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.metaColumns.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.metaTables.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (e *Engine) tablePath(name string) string {
	return filepath.Join(e.dir, name+".tbl")
}

// openTableFiles opens (or creates) schema's table tree plus any
// index files already present on disk, without touching the catalog.
// It backs both the catalog bootstrap in Open and NewTable/LoadTable
// once a schema is already known.
func (e *Engine) openTableFiles(schema Schema) (*Table, error) {
	tt, err := storage.OpenTableTree(e.tablePath(schema.Name))
	if err != nil {
		return nil, err
	}
	t := &Table{schema: schema, dir: e.dir, tt: tt, indexes: make(map[string]*storage.IndexTree)}
	for _, col := range schema.Columns {
		path := t.fileFor(col.Name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		idx, err := storage.OpenIndexTree(path)
		if err != nil {
			tt.Close()
			return nil, err
		}
		t.indexes[col.Name] = idx
	}
	return t, nil
}

// ShowTables lists every table name recorded in the catalog.
func (e *Engine) ShowTables() ([]string, error) {
	return e.listTableNames()
}

// NewTable creates name with the given columns, persists its schema
// to the catalog, and opens its backing files.
func (e *Engine) NewTable(name string, columns []Column) (*Table, error) {
	if _, ok := e.tables[name]; ok {
		return nil, schemaErr(fmt.Errorf("%q: %w", name, ErrDuplicateTable))
	}
	names, err := e.listTableNames()
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if n == name {
			return nil, schemaErr(fmt.Errorf("%q: %w", name, ErrDuplicateTable))
		}
	}
	primaryKeys := 0
	for _, c := range columns {
		if c.PrimaryKey {
			primaryKeys++
		}
	}
	if primaryKeys > 1 {
		return nil, schemaErr(fmt.Errorf("table %q: %w", name, ErrMultiplePrimaryKeys))
	}

	schema := Schema{Name: name, Columns: columns}
	t, err := e.openTableFiles(schema)
	if err != nil {
		return nil, err
	}
	if err := e.recordSchema(schema); err != nil {
		t.Close()
		os.Remove(e.tablePath(name))
		return nil, err
	}
	e.tables[name] = t
	return t, nil
}

// LoadTable reopens an existing table by name, reconstructing its
// schema from the catalog. Calling LoadTable for an already-open
// table returns the same handle.
func (e *Engine) LoadTable(name string) (*Table, error) {
	if t, ok := e.tables[name]; ok {
		return t, nil
	}
	schema, err := e.loadSchema(name)
	if err != nil {
		return nil, err
	}
	t, err := e.openTableFiles(schema)
	if err != nil {
		return nil, err
	}
	e.tables[name] = t
	return t, nil
}

// DropTable closes and removes name's table file, every one of its
// index files, and its catalog rows (spec §4.G supplement, grounded
// on original_source/src/database.rs).
func (e *Engine) DropTable(name string) error {
	t, ok := e.tables[name]
	if !ok {
		var err error
		t, err = e.LoadTable(name)
		if err != nil {
			return err
		}
	}
	for col := range t.indexes {
		if err := t.DropIndex(col); err != nil {
			return err
		}
	}
	if err := t.tt.Close(); err != nil {
		return err
	}
	if err := os.Remove(e.tablePath(name)); err != nil {
		return err
	}
	if err := e.forgetSchema(name); err != nil {
		return err
	}
	delete(e.tables, name)
	return nil
}
