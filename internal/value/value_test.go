package value

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	y, err := Year(2023)
	if err != nil {
		t.Fatalf("Year: %v", err)
	}
	txt, err := Text("hello")
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	cases := []Value{
		Null(),
		Int8(-5),
		Int16(-1000),
		Int32(123456),
		Int64(-123456789012),
		Float32(3.5),
		Float64(-2.25),
		y,
		Time(3600),
		DateTime(1609459200),
		Date(1609459200),
		txt,
	}
	for _, v := range cases {
		t.Run(v.Kind().String(), func(t *testing.T) {
			code := v.TypeCode()
			buf := v.Encode(nil)
			if len(buf) != v.Size() {
				t.Fatalf("Size() = %d, encoded %d bytes", v.Size(), len(buf))
			}
			got, err := Decode(code, buf)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			c, err := Compare(v, got)
			if err != nil {
				t.Fatalf("Compare: %v", err)
			}
			if c != 0 {
				t.Fatalf("round trip mismatch: %+v vs %+v", v, got)
			}
		})
	}
}

func TestTextBoundaries(t *testing.T) {
	if _, err := Text(""); err != nil {
		t.Fatalf("empty text should be valid: %v", err)
	}
	s243 := make([]byte, MaxTextLen)
	for i := range s243 {
		s243[i] = 'a'
	}
	v, err := Text(string(s243))
	if err != nil {
		t.Fatalf("243-byte text should be valid: %v", err)
	}
	if v.TypeCode() != codeTextBase+Code(MaxTextLen) {
		t.Fatalf("unexpected type code %x", v.TypeCode())
	}
	s244 := append(s243, 'b')
	if _, err := Text(string(s244)); err == nil {
		t.Fatal("244-byte text should fail to encode")
	}
}

func TestDecodeReservedCode(t *testing.T) {
	if _, err := Decode(codeReserved, nil); err == nil {
		t.Fatal("expected DecodeError for reserved type code")
	}
}

func TestDecodeWrongLength(t *testing.T) {
	if _, err := Decode(CodeInt32, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected DecodeError for truncated int32")
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	bad := []byte{0xff, 0xfe}
	code := codeTextBase + Code(len(bad))
	if _, err := Decode(code, bad); err == nil {
		t.Fatal("expected DecodeError for invalid UTF-8")
	}
}

func TestCompareCrossVariant(t *testing.T) {
	if _, err := Compare(Int32(1), Float64(1)); err != ErrCrossVariantCompare {
		t.Fatalf("expected ErrCrossVariantCompare, got %v", err)
	}
}

func TestOrdering(t *testing.T) {
	lo, hi := Int32(1), Int32(2)
	if ok, _ := Matches(lo, hi, OpLT); !ok {
		t.Fatal("1 < 2 should hold")
	}
	if ok, _ := Matches(hi, lo, OpGE); !ok {
		t.Fatal("2 >= 1 should hold")
	}
}

func TestYearOutOfRange(t *testing.T) {
	if _, err := Year(1000); err == nil {
		t.Fatal("expected error for year far outside int8 offset range")
	}
}
