package pagedb

import (
	"fmt"

	"github.com/google/uuid"

	"pagedb/internal/value"
)

// The catalog is two façade-backed tables — meta_tables and
// meta_columns — that let ShowTables/LoadTable recover a table's
// schema across process restarts without a separate metadata format
// (spec §4.H, supplemented from original_source's schema persistence
// and grounded on the teacher's own introspection catalog in
// internal/storage/catalog.go).
const (
	metaTablesName  = "meta_tables"
	metaColumnsName = "meta_columns"
)

func metaTablesSchema() Schema {
	return Schema{
		Name: metaTablesName,
		Columns: []Column{
			{Name: "table_id", Type: TypeText},
			{Name: "name", Type: TypeText, Unique: true},
			{Name: "n_columns", Type: TypeInt32},
		},
	}
}

func metaColumnsSchema() Schema {
	return Schema{
		Name: metaColumnsName,
		Columns: []Column{
			{Name: "table_name", Type: TypeText},
			{Name: "ordinal", Type: TypeInt32},
			{Name: "name", Type: TypeText},
			{Name: "type_code", Type: TypeInt32},
			{Name: "nullable", Type: TypeInt32},
			{Name: "unique", Type: TypeInt32},
			{Name: "primary_key", Type: TypeInt32},
		},
	}
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// recordSchema generates a fresh table id (spec §6's google/uuid-
// backed TableID) and inserts one meta_tables row plus one
// meta_columns row per column.
func (e *Engine) recordSchema(schema Schema) error {
	idVal, err := value.Text(uuid.New().String())
	if err != nil {
		return err
	}
	nameVal, err := value.Text(schema.Name)
	if err != nil {
		return err
	}
	if _, err := e.metaTables.Insert([]value.Value{idVal, nameVal, value.Int32(int32(len(schema.Columns)))}); err != nil {
		return err
	}
	for i, col := range schema.Columns {
		tableNameVal, err := value.Text(schema.Name)
		if err != nil {
			return err
		}
		colNameVal, err := value.Text(col.Name)
		if err != nil {
			return err
		}
		row := []value.Value{
			tableNameVal,
			value.Int32(int32(i)),
			colNameVal,
			value.Int32(int32(col.Type)),
			value.Int32(boolToInt32(col.Nullable)),
			value.Int32(boolToInt32(col.Unique)),
			value.Int32(boolToInt32(col.PrimaryKey)),
		}
		if _, err := e.metaColumns.Insert(row); err != nil {
			return err
		}
	}
	return nil
}

// loadSchema reconstructs a table's schema by scanning meta_columns
// for table_name = name, placing each column at its recorded ordinal.
func (e *Engine) loadSchema(name string) (Schema, error) {
	nameVal, err := value.Text(name)
	if err != nil {
		return Schema{}, err
	}
	recs, err := e.metaColumns.Search("table_name", nameVal, value.OpEQ)
	if err != nil {
		return Schema{}, err
	}
	if len(recs) == 0 {
		return Schema{}, notFoundErr(fmt.Errorf("table %q: %w", name, ErrNoSuchTable))
	}
	cols := make([]Column, len(recs))
	for _, rec := range recs {
		ordinal := int(rec.Values[1].Int())
		if ordinal < 0 || ordinal >= len(cols) {
			return Schema{}, fmt.Errorf("pagedb: catalog: table %q has an ordinal %d out of range for %d columns",
				name, ordinal, len(cols))
		}
		cols[ordinal] = Column{
			Name:       rec.Values[2].Text(),
			Type:       ColumnType(rec.Values[3].Int()),
			Nullable:   rec.Values[4].Int() != 0,
			Unique:     rec.Values[5].Int() != 0,
			PrimaryKey: rec.Values[6].Int() != 0,
		}
	}
	return Schema{Name: name, Columns: cols}, nil
}

// forgetSchema removes every meta_columns and meta_tables row
// belonging to name.
func (e *Engine) forgetSchema(name string) error {
	nameVal, err := value.Text(name)
	if err != nil {
		return err
	}
	colRecs, err := e.metaColumns.Search("table_name", nameVal, value.OpEQ)
	if err != nil {
		return err
	}
	for _, rec := range colRecs {
		if err := e.metaColumns.Delete(rec.RowID); err != nil {
			return err
		}
	}
	tableRecs, err := e.metaTables.Search("name", nameVal, value.OpEQ)
	if err != nil {
		return err
	}
	for _, rec := range tableRecs {
		if err := e.metaTables.Delete(rec.RowID); err != nil {
			return err
		}
	}
	return nil
}

// listTableNames returns every table name recorded in meta_tables.
func (e *Engine) listTableNames() ([]string, error) {
	recs, err := e.metaTables.All()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.Values[1].Text())
	}
	return names, nil
}
