package storage

import (
	"testing"

	"pagedb/internal/value"
)

func TestRecordRoundTrip(t *testing.T) {
	txt, _ := value.Text("hello world")
	vals := []value.Value{value.Int32(42), txt, value.Null()}
	buf := EncodeRecord(7, vals)
	if len(buf) != CellSize(vals) {
		t.Fatalf("CellSize() = %d, encoded %d bytes", CellSize(vals), len(buf))
	}
	rowID, got, err := DecodeRecord(buf)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if rowID != 7 {
		t.Fatalf("row id = %d, want 7", rowID)
	}
	if len(got) != 3 {
		t.Fatalf("got %d columns, want 3", len(got))
	}
	if got[0].Int() != 42 {
		t.Fatalf("col0 = %d, want 42", got[0].Int())
	}
	if got[1].Text() != "hello world" {
		t.Fatalf("col1 = %q, want %q", got[1].Text(), "hello world")
	}
	if got[2].Kind() != value.KindNull {
		t.Fatalf("col2 kind = %v, want Null", got[2].Kind())
	}
}

func TestRecordTruncated(t *testing.T) {
	vals := []value.Value{value.Int64(1)}
	buf := EncodeRecord(1, vals)
	if _, _, err := DecodeRecord(buf[:len(buf)-1]); err == nil {
		t.Fatal("expected DecodeError for truncated record")
	}
}

func TestRecordBodySizeMatchesEncoding(t *testing.T) {
	vals := []value.Value{value.Int8(1), value.Float64(2.5)}
	if got, want := RecordBodySize(vals), 1+2+1+8; got != want {
		t.Fatalf("RecordBodySize() = %d, want %d", got, want)
	}
}
