// Package value implements the tagged scalar type that every column and
// every index key is built from.
//
// A Value is a small tagged union: Null, one of six fixed-width numeric
// variants, one of four date/time variants layered on the same numeric
// widths, or a length-prefixed UTF-8 Text. The one-byte type code that
// identifies a variant on disk also implies its encoded width (a Text
// code additionally carries the text's length), so decoding never needs
// a second read to know how many bytes follow.
package value

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Code is the one-byte on-disk type tag described in spec §3 and §6.
type Code byte

// Fixed type codes. Text codes are codeTextBase+0..codeTextBase+MaxTextLen.
const (
	CodeNull     Code = 0x00
	CodeInt8     Code = 0x01
	CodeInt16    Code = 0x02
	CodeInt32    Code = 0x03
	CodeInt64    Code = 0x04
	CodeFloat32  Code = 0x05
	CodeFloat64  Code = 0x06
	codeReserved Code = 0x07 // never persisted; decoding it is a DecodeError
	CodeYear     Code = 0x08
	CodeTime     Code = 0x09
	CodeDateTime Code = 0x0A
	CodeDate     Code = 0x0B
	codeTextBase Code = 0x0C
)

// MaxTextLen is the longest Text value the wire format can represent:
// the type code is codeTextBase+L, and a byte only has room up to 0xFF.
const MaxTextLen = 0xFF - int(codeTextBase)

// Kind names the variant independent of any Text length.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindYear
	KindTime
	KindDateTime
	KindDate
	KindText
)

// Value is an immutable tagged scalar. The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// DecodeError reports that a persisted byte sequence could not be
// interpreted as a Value: wrong length for its type code, a reserved
// type code, or invalid UTF-8 in a Text payload.
type DecodeError struct {
	Code   Code
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("value: decode type code 0x%02x: %s", byte(e.Code), e.Reason)
}

// Constructors.

func Null() Value                { return Value{kind: KindNull} }
func Int8(v int8) Value          { return Value{kind: KindInt8, i: int64(v)} }
func Int16(v int16) Value        { return Value{kind: KindInt16, i: int64(v)} }
func Int32(v int32) Value        { return Value{kind: KindInt32, i: int64(v)} }
func Int64(v int64) Value        { return Value{kind: KindInt64, i: v} }
func Float32(v float32) Value    { return Value{kind: KindFloat32, f: float64(v)} }
func Float64(v float64) Value    { return Value{kind: KindFloat64, f: v} }
func Time(secOfDay int32) Value  { return Value{kind: KindTime, i: int64(secOfDay)} }
func DateTime(unixSec int64) Value { return Value{kind: KindDateTime, i: unixSec} }
func Date(unixSecMidnight int64) Value { return Value{kind: KindDate, i: unixSecMidnight} }

// Year stores a displayed calendar year as the spec's Year(1) variant:
// a single signed byte holding (year - 2000).
func Year(displayedYear int) (Value, error) {
	off := displayedYear - 2000
	if off < math.MinInt8 || off > math.MaxInt8 {
		return Value{}, fmt.Errorf("value: year %d out of range [%d, %d]", displayedYear, 2000+math.MinInt8, 2000+math.MaxInt8)
	}
	return Value{kind: KindYear, i: int64(off)}, nil
}

// Text constructs a Text value, rejecting strings longer than 243 bytes
// (spec §3 invariant 8) or containing invalid UTF-8.
func Text(s string) (Value, error) {
	if len(s) > MaxTextLen {
		return Value{}, fmt.Errorf("value: text length %d exceeds max %d", len(s), MaxTextLen)
	}
	if !utf8.ValidString(s) {
		return Value{}, fmt.Errorf("value: text is not valid UTF-8")
	}
	return Value{kind: KindText, s: s}, nil
}

// Accessors. Each panics if called on the wrong Kind — the caller is
// expected to have checked Kind() first, the same contract the record
// codec and index tree rely on throughout.

func (v Value) Kind() Kind { return v.kind }

// String names a Kind for diagnostics and test output.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindInt8:
		return "Int8"
	case KindInt16:
		return "Int16"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindFloat32:
		return "Float32"
	case KindFloat64:
		return "Float64"
	case KindYear:
		return "Year"
	case KindTime:
		return "Time"
	case KindDateTime:
		return "DateTime"
	case KindDate:
		return "Date"
	case KindText:
		return "Text"
	default:
		return "Unknown"
	}
}

func (v Value) Int() int64 {
	switch v.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindYear, KindTime, KindDateTime, KindDate:
		return v.i
	default:
		panic(fmt.Sprintf("value: Int() on non-integer Kind %d", v.kind))
	}
}

func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat32, KindFloat64:
		return v.f
	default:
		panic(fmt.Sprintf("value: Float() on non-float Kind %d", v.kind))
	}
}

func (v Value) Text() string {
	if v.kind != KindText {
		panic("value: Text() on non-text Kind")
	}
	return v.s
}

// DisplayYear returns the stored Year offset added back to 2000.
func (v Value) DisplayYear() int {
	if v.kind != KindYear {
		panic("value: DisplayYear() on non-Year Kind")
	}
	return int(v.i) + 2000
}

// TypeCode returns the one-byte on-disk tag for v, per spec §3/§6.
func (v Value) TypeCode() Code {
	switch v.kind {
	case KindNull:
		return CodeNull
	case KindInt8:
		return CodeInt8
	case KindInt16:
		return CodeInt16
	case KindInt32:
		return CodeInt32
	case KindInt64:
		return CodeInt64
	case KindFloat32:
		return CodeFloat32
	case KindFloat64:
		return CodeFloat64
	case KindYear:
		return CodeYear
	case KindTime:
		return CodeTime
	case KindDateTime:
		return CodeDateTime
	case KindDate:
		return CodeDate
	case KindText:
		return codeTextBase + Code(len(v.s))
	default:
		panic(fmt.Sprintf("value: TypeCode() on unknown Kind %d", v.kind))
	}
}

// Size returns the number of bytes Encode will produce.
func (v Value) Size() int {
	switch v.kind {
	case KindNull:
		return 0
	case KindInt8, KindYear:
		return 1
	case KindInt16:
		return 2
	case KindInt32, KindFloat32, KindTime:
		return 4
	case KindInt64, KindFloat64, KindDateTime, KindDate:
		return 8
	case KindText:
		return len(v.s)
	default:
		panic(fmt.Sprintf("value: Size() on unknown Kind %d", v.kind))
	}
}

// Encode appends v's little-endian / UTF-8 wire representation to dst and
// returns the extended slice.
func (v Value) Encode(dst []byte) []byte {
	switch v.kind {
	case KindNull:
		return dst
	case KindInt8:
		return append(dst, byte(int8(v.i)))
	case KindYear:
		return append(dst, byte(int8(v.i)))
	case KindInt16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(int16(v.i)))
		return append(dst, b[:]...)
	case KindInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v.i)))
		return append(dst, b[:]...)
	case KindTime:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v.i)))
		return append(dst, b[:]...)
	case KindFloat32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v.f)))
		return append(dst, b[:]...)
	case KindInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.i))
		return append(dst, b[:]...)
	case KindDateTime, KindDate:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.i))
		return append(dst, b[:]...)
	case KindFloat64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.f))
		return append(dst, b[:]...)
	case KindText:
		return append(dst, v.s...)
	default:
		panic(fmt.Sprintf("value: Encode() on unknown Kind %d", v.kind))
	}
}

// Decode parses a Value of the variant named by code from exactly
// len(data) bytes. It returns a *DecodeError if data's length disagrees
// with what code implies, if code is the reserved 0x07, or if a Text
// payload is not valid UTF-8.
func Decode(code Code, data []byte) (Value, error) {
	want := expectedLen(code)
	if want < 0 {
		return Value{}, &DecodeError{Code: code, Reason: "reserved type code"}
	}
	if len(data) != want {
		return Value{}, &DecodeError{Code: code, Reason: fmt.Sprintf("expected %d bytes, got %d", want, len(data))}
	}
	switch {
	case code == CodeNull:
		return Null(), nil
	case code == CodeInt8:
		return Int8(int8(data[0])), nil
	case code == CodeInt16:
		return Int16(int16(binary.LittleEndian.Uint16(data))), nil
	case code == CodeInt32:
		return Int32(int32(binary.LittleEndian.Uint32(data))), nil
	case code == CodeInt64:
		return Int64(int64(binary.LittleEndian.Uint64(data))), nil
	case code == CodeFloat32:
		return Float32(math.Float32frombits(binary.LittleEndian.Uint32(data))), nil
	case code == CodeFloat64:
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(data))), nil
	case code == CodeYear:
		return Value{kind: KindYear, i: int64(int8(data[0]))}, nil
	case code == CodeTime:
		return Time(int32(binary.LittleEndian.Uint32(data))), nil
	case code == CodeDateTime:
		return DateTime(int64(binary.LittleEndian.Uint64(data))), nil
	case code == CodeDate:
		return Date(int64(binary.LittleEndian.Uint64(data))), nil
	case code >= codeTextBase:
		if !utf8.Valid(data) {
			return Value{}, &DecodeError{Code: code, Reason: "invalid UTF-8"}
		}
		return Value{kind: KindText, s: string(data)}, nil
	default:
		return Value{}, &DecodeError{Code: code, Reason: "unknown type code"}
	}
}

// expectedLen returns the byte length implied by code, or -1 if code is
// the reserved 0x07.
func expectedLen(code Code) int {
	switch {
	case code == CodeNull:
		return 0
	case code == CodeInt8, code == CodeYear:
		return 1
	case code == CodeInt16:
		return 2
	case code == CodeInt32, code == CodeFloat32, code == CodeTime:
		return 4
	case code == CodeInt64, code == CodeFloat64, code == CodeDateTime, code == CodeDate:
		return 8
	case code == codeReserved:
		return -1
	case code >= codeTextBase:
		return int(code - codeTextBase)
	default:
		return -1
	}
}

// Op is a comparison operator shared by the table facade's predicate
// evaluation and the index tree's range search.
type Op uint8

const (
	OpEQ Op = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

// ParseOp maps the conventional SQL-ish spellings to an Op, returning
// false for anything else (the caller surfaces a SchemaError).
func ParseOp(s string) (Op, bool) {
	switch s {
	case "=", "==":
		return OpEQ, true
	case "<>", "!=":
		return OpNE, true
	case "<":
		return OpLT, true
	case "<=":
		return OpLE, true
	case ">":
		return OpGT, true
	case ">=":
		return OpGE, true
	default:
		return 0, false
	}
}

// ErrCrossVariantCompare is returned by Compare when a and b are not the
// same Kind. spec §9's open question on cross-variant comparison is
// resolved here: it is a recoverable error, not a panic, because it can
// be triggered by caller-supplied search values. Callers return it as
// is; the pagedb façade does not wrap it in its ErrSchema category.
var ErrCrossVariantCompare = fmt.Errorf("value: cannot compare values of different kinds")

// Compare returns -1, 0, or 1 per the natural ordering within a's Kind.
// a and b must share a Kind (Null compares equal only to Null); Compare
// returns ErrCrossVariantCompare otherwise.
func Compare(a, b Value) (int, error) {
	if a.kind != b.kind {
		return 0, ErrCrossVariantCompare
	}
	switch a.kind {
	case KindNull:
		return 0, nil
	case KindInt8, KindInt16, KindInt32, KindInt64, KindYear, KindTime, KindDateTime, KindDate:
		switch {
		case a.i < b.i:
			return -1, nil
		case a.i > b.i:
			return 1, nil
		default:
			return 0, nil
		}
	case KindFloat32, KindFloat64:
		switch {
		case a.f < b.f:
			return -1, nil
		case a.f > b.f:
			return 1, nil
		default:
			return 0, nil
		}
	case KindText:
		switch {
		case a.s < b.s:
			return -1, nil
		case a.s > b.s:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		panic(fmt.Sprintf("value: Compare() on unknown Kind %d", a.kind))
	}
}

// Matches evaluates op against Compare(a, b); it assumes a and b share a
// Kind (callers that might not, like a mismatched search predicate,
// should call Compare directly and interpret its error themselves).
func Matches(a, b Value, op Op) (bool, error) {
	c, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case OpEQ:
		return c == 0, nil
	case OpNE:
		return c != 0, nil
	case OpLT:
		return c < 0, nil
	case OpLE:
		return c <= 0, nil
	case OpGT:
		return c > 0, nil
	case OpGE:
		return c >= 0, nil
	default:
		return false, fmt.Errorf("value: unknown operator %d", op)
	}
}
