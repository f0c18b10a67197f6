package pagedb

import "pagedb/internal/value"

// ColumnType names a column's declared type independent of any single
// value.Value instance (spec §4.G: the façade type-checks every row
// against the declared schema before it reaches storage).
type ColumnType uint8

const (
	TypeInt8 ColumnType = iota
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeYear
	TypeTime
	TypeDateTime
	TypeDate
	TypeText
)

// Column declares one field of a table: its name, type, and the two
// constraints the façade enforces (nullable, unique). PrimaryKey is a
// bookkeeping flag only — row ids, not column values, are the engine's
// primary key (spec §4.G/§9) — but it still drives uniqueness the same
// way an explicit Unique column would.
type Column struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	Unique     bool
	PrimaryKey bool
}

// Schema is a table's name and ordered column list, as persisted in
// the catalog (meta_tables/meta_columns) and reconstructed by
// Engine.LoadTable.
type Schema struct {
	Name    string
	Columns []Column
}

// matchesKind reports whether a non-null value's runtime kind agrees
// with the column's declared type.
func (c Column) matchesKind(k value.Kind) bool {
	switch c.Type {
	case TypeInt8:
		return k == value.KindInt8
	case TypeInt16:
		return k == value.KindInt16
	case TypeInt32:
		return k == value.KindInt32
	case TypeInt64:
		return k == value.KindInt64
	case TypeFloat32:
		return k == value.KindFloat32
	case TypeFloat64:
		return k == value.KindFloat64
	case TypeYear:
		return k == value.KindYear
	case TypeTime:
		return k == value.KindTime
	case TypeDateTime:
		return k == value.KindDateTime
	case TypeDate:
		return k == value.KindDate
	case TypeText:
		return k == value.KindText
	default:
		return false
	}
}
