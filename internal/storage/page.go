// Package storage implements the paged B+-tree storage engine: the
// on-disk page format (this file), the per-page cell arena (cellarena.go),
// the leaf record codec (record.go), the row-id-ordered table tree
// (tabletree.go), and the value-ordered index tree (indextree.go).
//
// Every tree in this package is built on top of PageFile, a single file
// handle with no cache and no write-ahead log: operations run to
// completion synchronously, and the caller is responsible for not
// invoking two operations on the same tree concurrently (see spec §5).
package storage

import (
	"encoding/binary"
	"fmt"
	"os"
)

// PageSize is the fixed size of every page, table or index alike.
const PageSize = 512

// HeaderSize is the size of the common page header.
const HeaderSize = 16

// NoPage is the sentinel page id used for an absent parent (the root)
// and for an unused right_link (an IndexLeaf's trailing pointer).
const NoPage PageID = 0xFFFFFFFF

// PageID identifies a page by its 0-based slot in the file.
type PageID uint32

// PageType is the one-byte tag at offset 0 of every page.
type PageType uint8

const (
	PageEmpty         PageType = 0x00
	PageIndexInterior PageType = 0x02
	PageTableInterior PageType = 0x05
	PageTableLeaf     PageType = 0x0A
	PageIndexLeaf     PageType = 0x0D
)

func (pt PageType) String() string {
	switch pt {
	case PageEmpty:
		return "Empty"
	case PageIndexInterior:
		return "IndexInterior"
	case PageTableInterior:
		return "TableInterior"
	case PageTableLeaf:
		return "TableLeaf"
	case PageIndexLeaf:
		return "IndexLeaf"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// Header is the 16-byte common header present at the start of every page:
//
//	type:u8 | 0 | n_cells:u16 | content_start:u16 | right_link:u32 | parent:u32 | 0:u16
//
// right_link doubles as "rightmost child" on a TableInterior page, as
// "leftmost child" on an IndexInterior page (see indextree.go), and as
// "next leaf" on a TableLeaf; it is unused (NoPage) on an IndexLeaf.
type Header struct {
	Type         PageType
	NCells       uint16
	ContentStart uint16
	RightLink    PageID
	Parent       PageID
}

func marshalHeader(h Header, buf []byte) {
	buf[0] = byte(h.Type)
	buf[1] = 0
	binary.LittleEndian.PutUint16(buf[2:4], h.NCells)
	binary.LittleEndian.PutUint16(buf[4:6], h.ContentStart)
	binary.LittleEndian.PutUint32(buf[6:10], uint32(h.RightLink))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(h.Parent))
	binary.LittleEndian.PutUint16(buf[14:16], 0)
}

func unmarshalHeader(buf []byte) Header {
	return Header{
		Type:         PageType(buf[0]),
		NCells:       binary.LittleEndian.Uint16(buf[2:4]),
		ContentStart: binary.LittleEndian.Uint16(buf[4:6]),
		RightLink:    PageID(binary.LittleEndian.Uint32(buf[6:10])),
		Parent:       PageID(binary.LittleEndian.Uint32(buf[10:14])),
	}
}

// PageFile is an append-only file of fixed-size pages with raw byte I/O
// and page allocation. It keeps no cache and performs no write-ahead
// logging — every read or write seeks explicitly, per spec §5.
type PageFile struct {
	f *os.File
}

// OpenPageFile opens path, creating it if absent. isNew reports whether
// the file did not exist before this call (so the caller can bootstrap
// page 0 as an empty root).
func OpenPageFile(path string) (pf *PageFile, isNew bool, err error) {
	_, statErr := os.Stat(path)
	isNew = os.IsNotExist(statErr)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("storage: open page file %q: %w", path, err)
	}
	return &PageFile{f: f}, isNew, nil
}

// Close releases the underlying file handle.
func (pf *PageFile) Close() error {
	return pf.f.Close()
}

// PageCount returns the number of pages currently in the file.
func (pf *PageFile) PageCount() int {
	info, err := pf.f.Stat()
	if err != nil {
		panic(fmt.Sprintf("storage: stat page file: %v", err))
	}
	return int(info.Size() / PageSize)
}

// SeekPageOffset computes the absolute file offset of byte off within
// page. A page id past the end of the file or an offset outside a page
// is a programmer error and panics, per spec §4.B.
func (pf *PageFile) SeekPageOffset(page PageID, off int) int64 {
	if off < 0 || off >= PageSize {
		panic(fmt.Sprintf("storage: page offset %d out of range [0, %d)", off, PageSize))
	}
	if int(page) >= pf.PageCount() {
		panic(fmt.Sprintf("storage: page %d out of range (file has %d pages)", page, pf.PageCount()))
	}
	return int64(page)*PageSize + int64(off)
}

// ReadPage reads the full 512-byte contents of page.
func (pf *PageFile) ReadPage(page PageID) []byte {
	buf := make([]byte, PageSize)
	off := pf.SeekPageOffset(page, 0)
	if _, err := pf.f.ReadAt(buf, off); err != nil {
		panic(fmt.Sprintf("storage: read page %d: %v", page, err))
	}
	return buf
}

// WritePage writes buf (which must be exactly PageSize bytes) as the
// full contents of page.
func (pf *PageFile) WritePage(page PageID, buf []byte) {
	if len(buf) != PageSize {
		panic(fmt.Sprintf("storage: WritePage: buffer is %d bytes, want %d", len(buf), PageSize))
	}
	off := pf.SeekPageOffset(page, 0)
	if _, err := pf.f.WriteAt(buf, off); err != nil {
		panic(fmt.Sprintf("storage: write page %d: %v", page, err))
	}
}

// ReadHeader reads page's 16-byte common header.
func (pf *PageFile) ReadHeader(page PageID) Header {
	buf := make([]byte, HeaderSize)
	off := pf.SeekPageOffset(page, 0)
	if _, err := pf.f.ReadAt(buf, off); err != nil {
		panic(fmt.Sprintf("storage: read header of page %d: %v", page, err))
	}
	return unmarshalHeader(buf)
}

// WriteHeader writes page's 16-byte common header, leaving the rest of
// the page untouched.
func (pf *PageFile) WriteHeader(page PageID, h Header) {
	buf := make([]byte, HeaderSize)
	marshalHeader(h, buf)
	off := pf.SeekPageOffset(page, 0)
	if _, err := pf.f.WriteAt(buf, off); err != nil {
		panic(fmt.Sprintf("storage: write header of page %d: %v", page, err))
	}
}

// SetType overwrites just the page-type byte.
func (pf *PageFile) SetType(page PageID, t PageType) {
	h := pf.ReadHeader(page)
	h.Type = t
	pf.WriteHeader(page, h)
}

// SetNCells overwrites just the cell-count field.
func (pf *PageFile) SetNCells(page PageID, n uint16) {
	h := pf.ReadHeader(page)
	h.NCells = n
	pf.WriteHeader(page, h)
}

// SetRightLink overwrites just the right_link field.
func (pf *PageFile) SetRightLink(page PageID, rl PageID) {
	h := pf.ReadHeader(page)
	h.RightLink = rl
	pf.WriteHeader(page, h)
}

// SetParent overwrites just the parent field.
func (pf *PageFile) SetParent(page PageID, parent PageID) {
	h := pf.ReadHeader(page)
	h.Parent = parent
	pf.WriteHeader(page, h)
}

// SetContentStart decreases content_start by delta (a negative delta
// grows it) and returns the new value, per spec §4.B.
func (pf *PageFile) SetContentStart(page PageID, delta int) uint16 {
	h := pf.ReadHeader(page)
	next := int(h.ContentStart) - delta
	if next < 0 || next > PageSize {
		panic(fmt.Sprintf("storage: content_start delta %d would move page %d out of bounds (was %d)", delta, page, h.ContentStart))
	}
	h.ContentStart = uint16(next)
	pf.WriteHeader(page, h)
	return h.ContentStart
}

// AllocatePage reserves a page for use as pt with the given parent. If
// any page in the file is Empty, the highest-numbered such page is
// reused (matching the original engine's allocator, which scans every
// page and keeps the last Empty match rather than stopping at the
// first); otherwise the file is extended by one page. The new page's
// header has NCells=0, ContentStart=PageSize, RightLink=NoPage.
func (pf *PageFile) AllocatePage(parent PageID, pt PageType) PageID {
	n := pf.PageCount()
	reuse := -1
	for id := 0; id < n; id++ {
		if pf.ReadHeader(PageID(id)).Type == PageEmpty {
			reuse = id
		}
	}
	if reuse >= 0 {
		pf.initPage(PageID(reuse), parent, pt)
		return PageID(reuse)
	}
	id := PageID(n)
	buf := make([]byte, PageSize)
	off := int64(id) * PageSize
	if _, err := pf.f.WriteAt(buf, off); err != nil {
		panic(fmt.Sprintf("storage: extend page file for page %d: %v", id, err))
	}
	pf.initPage(id, parent, pt)
	return id
}

func (pf *PageFile) initPage(id PageID, parent PageID, pt PageType) {
	h := Header{
		Type:         pt,
		NCells:       0,
		ContentStart: PageSize,
		RightLink:    NoPage,
		Parent:       parent,
	}
	pf.WriteHeader(id, h)
}

// Free zero-fills page, turning it into an Empty page available for
// reuse by a future AllocatePage. It does not truncate the file and
// does not touch any other page's pointers. Nothing in this package
// calls it: the index tree's deletePage (indextree.go) removes a whole
// page by relocating the last page into its slot and truncating.
func (pf *PageFile) Free(page PageID) {
	buf := make([]byte, PageSize)
	pf.WritePage(page, buf)
}

// Truncate removes every page at or past newPageCount, shrinking the
// file to exactly newPageCount pages.
func (pf *PageFile) Truncate(newPageCount int) {
	if err := pf.f.Truncate(int64(newPageCount) * PageSize); err != nil {
		panic(fmt.Sprintf("storage: truncate to %d pages: %v", newPageCount, err))
	}
}

// ── Raw byte accessors ──────────────────────────────────────────────────
//
// These back the cell arena and the table/index cell codecs, which read
// and write variable-length regions of a page directly.

func (pf *PageFile) checkRange(page PageID, off, n int) {
	if n < 0 || off < 0 || off+n > PageSize {
		panic(fmt.Sprintf("storage: byte range [%d, %d) out of page bounds on page %d", off, off+n, page))
	}
	// SeekPageOffset(page, off) performs the page-existence bound check;
	// the call's return value is unused here, only its panic matters.
	pf.SeekPageOffset(page, off)
}

// ReadBytes returns a copy of the n bytes at offset off within page.
func (pf *PageFile) ReadBytes(page PageID, off, n int) []byte {
	pf.checkRange(page, off, n)
	buf := make([]byte, n)
	if _, err := pf.f.ReadAt(buf, int64(page)*PageSize+int64(off)); err != nil {
		panic(fmt.Sprintf("storage: read %d bytes at page %d offset %d: %v", n, page, off, err))
	}
	return buf
}

// WriteBytes writes data at offset off within page.
func (pf *PageFile) WriteBytes(page PageID, off int, data []byte) {
	pf.checkRange(page, off, len(data))
	if _, err := pf.f.WriteAt(data, int64(page)*PageSize+int64(off)); err != nil {
		panic(fmt.Sprintf("storage: write %d bytes at page %d offset %d: %v", len(data), page, off, err))
	}
}

// ReadU16 reads a little-endian uint16 at offset off within page.
func (pf *PageFile) ReadU16(page PageID, off int) uint16 {
	return binary.LittleEndian.Uint16(pf.ReadBytes(page, off, 2))
}

// WriteU16 writes a little-endian uint16 at offset off within page.
func (pf *PageFile) WriteU16(page PageID, off int, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	pf.WriteBytes(page, off, b[:])
}

// ReadU32 reads a little-endian uint32 at offset off within page.
func (pf *PageFile) ReadU32(page PageID, off int) uint32 {
	return binary.LittleEndian.Uint32(pf.ReadBytes(page, off, 4))
}

// WriteU32 writes a little-endian uint32 at offset off within page.
func (pf *PageFile) WriteU32(page PageID, off int, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	pf.WriteBytes(page, off, b[:])
}
