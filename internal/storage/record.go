package storage

import (
	"encoding/binary"
	"fmt"

	"pagedb/internal/value"
)

// This file implements the leaf table record codec (spec §3, §4.D):
//
//	size:u16 | row_id:u32 | n_cols:u8 | type_codes:u8[n_cols] | values
//
// size counts every byte from row_id through the last value, inclusive —
// it does not count itself. This is also, byte for byte, the body of a
// TableLeaf cell (spec §3's table cell layouts): the record codec and
// the TableLeaf cell format are the same thing.

// RecordBodySize is the byte length of the n_cols|type_codes|values
// portion of a record: 1 + n_cols + Σ value sizes.
func RecordBodySize(values []value.Value) int {
	n := 1 + len(values)
	for _, v := range values {
		n += v.Size()
	}
	return n
}

// CellSize is the full byte length EncodeRecord will produce for a
// TableLeaf cell holding values: RecordBodySize plus the 2-byte size
// field and the 4-byte row id.
func CellSize(values []value.Value) int {
	return RecordBodySize(values) + 6
}

// EncodeRecord produces the on-disk bytes of a table record: the full
// TableLeaf cell body for rowID and values.
func EncodeRecord(rowID uint32, values []value.Value) []byte {
	body := RecordBodySize(values)
	sizeField := uint32(4 + body)
	buf := make([]byte, 0, 2+sizeField)

	var sizeBuf [2]byte
	binary.LittleEndian.PutUint16(sizeBuf[:], uint16(sizeField))
	buf = append(buf, sizeBuf[:]...)

	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], rowID)
	buf = append(buf, idBuf[:]...)

	buf = append(buf, byte(len(values)))
	for _, v := range values {
		buf = append(buf, byte(v.TypeCode()))
	}
	for _, v := range values {
		buf = v.Encode(buf)
	}
	return buf
}

// DecodeRecord parses the bytes produced by EncodeRecord, returning the
// row id and column values. It returns a *value.DecodeError if buf is
// truncated, if a column's byte span doesn't match what its type code
// implies, or if a type code decodes to an error (reserved code,
// invalid UTF-8).
func DecodeRecord(buf []byte) (rowID uint32, values []value.Value, err error) {
	if len(buf) < 7 {
		return 0, nil, &value.DecodeError{Reason: fmt.Sprintf("record: truncated header, got %d bytes", len(buf))}
	}
	sizeField := binary.LittleEndian.Uint16(buf[0:2])
	if int(sizeField)+2 > len(buf) {
		return 0, nil, &value.DecodeError{Reason: fmt.Sprintf("record: declared size %d exceeds buffer of %d bytes", sizeField, len(buf))}
	}
	rowID = binary.LittleEndian.Uint32(buf[2:6])
	nCols := int(buf[6])
	if 7+nCols > len(buf) {
		return 0, nil, &value.DecodeError{Reason: "record: truncated type-code array"}
	}
	codes := buf[7 : 7+nCols]
	pos := 7 + nCols
	values = make([]value.Value, nCols)
	for i, c := range codes {
		code := value.Code(c)
		width, err := valueWidth(code, buf[pos:])
		if err != nil {
			return 0, nil, err
		}
		if pos+width > len(buf) {
			return 0, nil, &value.DecodeError{Code: code, Reason: "record: value truncated"}
		}
		v, err := value.Decode(code, buf[pos:pos+width])
		if err != nil {
			return 0, nil, err
		}
		values[i] = v
		pos += width
	}
	return rowID, values, nil
}

// valueWidth returns the byte length implied by code; a reserved or
// unknown code produces a DecodeError. rest is not consulted.
func valueWidth(code value.Code, rest []byte) (int, error) {
	switch {
	case code == value.CodeNull:
		return 0, nil
	case code == value.CodeInt8, code == value.CodeYear:
		return 1, nil
	case code == value.CodeInt16:
		return 2, nil
	case code == value.CodeInt32, code == value.CodeFloat32, code == value.CodeTime:
		return 4, nil
	case code == value.CodeInt64, code == value.CodeFloat64, code == value.CodeDateTime, code == value.CodeDate:
		return 8, nil
	case code >= 0x0C:
		return int(code - 0x0C), nil
	default:
		return 0, &value.DecodeError{Code: code, Reason: "reserved or unknown type code"}
	}
}
