package pagedb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"pagedb/internal/storage"
	"pagedb/internal/value"
)

// Table is the façade in front of one table's storage: a TableTree
// plus zero or more secondary IndexTrees, one per indexed column
// (spec §4.G). Every mutating method type-checks its input against
// the declared Schema before touching storage, and keeps every open
// index in sync with the table tree.
type Table struct {
	schema  Schema
	dir     string
	tt      *storage.TableTree
	indexes map[string]*storage.IndexTree
}

// Schema returns the table's column declarations.
func (t *Table) Schema() Schema { return t.schema }

func (t *Table) columnIndex(name string) (int, bool) {
	for i, c := range t.schema.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

func (t *Table) fileFor(colName string) string {
	return filepath.Join(t.dir, fmt.Sprintf("%s.%s.ndx", t.schema.Name, colName))
}

// checkRow type-checks a full row against the schema: right column
// count, every non-null value matching its column's declared kind,
// and no null in a non-nullable column.
func (t *Table) checkRow(values []value.Value) error {
	if len(values) != len(t.schema.Columns) {
		return schemaErr(fmt.Errorf("table %q: got %d values, want %d: %w",
			t.schema.Name, len(values), len(t.schema.Columns), ErrWrongValueCount))
	}
	for i, v := range values {
		if err := t.checkValue(i, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) checkValue(colIdx int, v value.Value) error {
	col := t.schema.Columns[colIdx]
	if v.Kind() == value.KindNull {
		if !col.Nullable {
			return schemaErr(fmt.Errorf("column %q: %w", col.Name, ErrNullNotAllowed))
		}
		return nil
	}
	if !col.matchesKind(v.Kind()) {
		return schemaErr(fmt.Errorf("column %q: %w", col.Name, ErrTypeMismatch))
	}
	return nil
}

// checkUnique enforces a unique column's constraint by probing the
// column's index if one exists, or falling back to a full scan
// (spec §4.G). excludeRowID lets Update re-check a row against itself
// without tripping over its own old value. Nulls never violate
// uniqueness.
func (t *Table) checkUnique(colIdx int, v value.Value, excludeRowID uint32) error {
	col := t.schema.Columns[colIdx]
	if !col.Unique && !col.PrimaryKey {
		return nil
	}
	if v.Kind() == value.KindNull {
		return nil
	}
	rowIDs, err := t.matchingRowIDs(colIdx, v, value.OpEQ)
	if err != nil {
		return err
	}
	for _, id := range rowIDs {
		if id != excludeRowID {
			return schemaErr(fmt.Errorf("column %q: %w", col.Name, ErrDuplicateValue))
		}
	}
	return nil
}

// matchingRowIDs returns every row id matching v under op on colIdx,
// using the column's index if it has one.
func (t *Table) matchingRowIDs(colIdx int, v value.Value, op value.Op) ([]uint32, error) {
	col := t.schema.Columns[colIdx]
	if idx, ok := t.indexes[col.Name]; ok {
		return idx.Search(v, op)
	}
	recs, err := t.tt.Search(colIdx, v, op)
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, len(recs))
	for i, r := range recs {
		ids[i] = r.RowID
	}
	return ids, nil
}

// Insert type-checks values, enforces every unique column, appends
// the row, and updates every open index. It returns the engine-
// assigned row id.
func (t *Table) Insert(values []value.Value) (uint32, error) {
	if err := t.checkRow(values); err != nil {
		return 0, err
	}
	for i, col := range t.schema.Columns {
		if col.Unique || col.PrimaryKey {
			if err := t.checkUnique(i, values[i], 0); err != nil {
				return 0, err
			}
		}
	}
	rowID, err := t.tt.Append(values)
	if err != nil {
		return 0, err
	}
	for name, idx := range t.indexes {
		ci, _ := t.columnIndex(name)
		if values[ci].Kind() == value.KindNull {
			continue
		}
		if err := idx.Insert(rowID, values[ci]); err != nil {
			return rowID, err
		}
	}
	return rowID, nil
}

// Get returns a single row by row id, or a NotFound error.
func (t *Table) Get(rowID uint32) (storage.Record, error) {
	rec, err := t.tt.Get(rowID)
	if err != nil {
		if errors.Is(err, storage.ErrRowNotFound) {
			return storage.Record{}, notFoundErr(fmt.Errorf("row %d: %w", rowID, ErrNoSuchRow))
		}
		return storage.Record{}, err
	}
	return rec, nil
}

// Update type-checks newVal, enforces uniqueness if colName is a
// unique column, rewrites the row in place, and keeps that column's
// index (if any) in sync.
func (t *Table) Update(rowID uint32, colName string, newVal value.Value) error {
	ci, ok := t.columnIndex(colName)
	if !ok {
		return schemaErr(fmt.Errorf("%q: %w", colName, ErrColumnNotFound))
	}
	if err := t.checkValue(ci, newVal); err != nil {
		return err
	}
	if err := t.checkUnique(ci, newVal, rowID); err != nil {
		return err
	}
	rec, err := t.Get(rowID)
	if err != nil {
		return err
	}
	oldVal := rec.Values[ci]
	if err := t.tt.Update(rowID, ci, newVal); err != nil {
		return err
	}
	if idx, ok := t.indexes[colName]; ok {
		if oldVal.Kind() != value.KindNull {
			if err := idx.Remove(rowID, oldVal); err != nil {
				return err
			}
		}
		if newVal.Kind() != value.KindNull {
			if err := idx.Insert(rowID, newVal); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes a row and every one of its posting-list entries.
func (t *Table) Delete(rowID uint32) error {
	rec, err := t.Get(rowID)
	if err != nil {
		return err
	}
	if err := t.tt.Delete(rowID); err != nil {
		return err
	}
	for name, idx := range t.indexes {
		ci, _ := t.columnIndex(name)
		if rec.Values[ci].Kind() == value.KindNull {
			continue
		}
		if err := idx.Remove(rowID, rec.Values[ci]); err != nil {
			return err
		}
	}
	return nil
}

// All returns every row in row-id order.
func (t *Table) All() ([]storage.Record, error) {
	return t.tt.Search(-1, value.Null(), value.OpEQ)
}

// Search routes through colName's index when one exists, falling
// back to a full table-tree scan otherwise (spec §4.G). An empty
// colName always performs a full scan.
func (t *Table) Search(colName string, v value.Value, op value.Op) ([]storage.Record, error) {
	if colName == "" {
		return t.All()
	}
	ci, ok := t.columnIndex(colName)
	if !ok {
		return nil, schemaErr(fmt.Errorf("%q: %w", colName, ErrColumnNotFound))
	}
	if idx, ok := t.indexes[colName]; ok {
		rowIDs, err := idx.Search(v, op)
		if err != nil {
			return nil, err
		}
		out := make([]storage.Record, 0, len(rowIDs))
		for _, id := range rowIDs {
			rec, err := t.tt.Get(id)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}
	return t.tt.Search(ci, v, op)
}

// groupKey is a byte-exact encoding of a value, used only as a map
// key while grouping rows by value during CreateIndex's bulk load.
func groupKey(v value.Value) string {
	buf := make([]byte, 0, 1+v.Size())
	buf = append(buf, byte(v.TypeCode()))
	buf = v.Encode(buf)
	return string(buf)
}

// CreateIndex builds a secondary index for colName by scanning every
// row currently in the table and bulk-loading the resulting posting
// groups in sorted order (spec §4.F/§4.G's bulk_load contract).
func (t *Table) CreateIndex(colName string) error {
	ci, ok := t.columnIndex(colName)
	if !ok {
		return schemaErr(fmt.Errorf("%q: %w", colName, ErrColumnNotFound))
	}
	if _, exists := t.indexes[colName]; exists {
		return schemaErr(fmt.Errorf("index on %q: %w", colName, ErrDuplicateIndex))
	}
	recs, err := t.All()
	if err != nil {
		return err
	}
	groups := make(map[string]*storage.PostingGroup)
	order := make([]string, 0)
	for _, rec := range recs {
		v := rec.Values[ci]
		if v.Kind() == value.KindNull {
			continue
		}
		key := groupKey(v)
		g, ok := groups[key]
		if !ok {
			g = &storage.PostingGroup{Value: v}
			groups[key] = g
			order = append(order, key)
		}
		g.RowIDs = append(g.RowIDs, rec.RowID)
	}
	sort.Slice(order, func(i, j int) bool {
		c, _ := value.Compare(groups[order[i]].Value, groups[order[j]].Value)
		return c < 0
	})
	sorted := make([]storage.PostingGroup, len(order))
	for i, k := range order {
		sorted[i] = *groups[k]
	}

	idx, err := storage.OpenIndexTree(t.fileFor(colName))
	if err != nil {
		return err
	}
	if err := idx.BulkLoad(sorted); err != nil {
		idx.Close()
		return err
	}
	t.indexes[colName] = idx
	return nil
}

// DropIndex closes and deletes colName's on-disk index file.
func (t *Table) DropIndex(colName string) error {
	idx, ok := t.indexes[colName]
	if !ok {
		return notFoundErr(fmt.Errorf("index on %q: %w", colName, ErrNoSuchIndex))
	}
	if err := idx.Close(); err != nil {
		return err
	}
	delete(t.indexes, colName)
	if err := os.Remove(t.fileFor(colName)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close releases the table tree and every open index file handle.
func (t *Table) Close() error {
	var firstErr error
	if err := t.tt.Close(); err != nil {
		firstErr = err
	}
	for _, idx := range t.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
