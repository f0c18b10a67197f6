package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"pagedb/internal/value"
)

// This file implements the row-id-ordered table B+-tree (spec §4.E):
// append, point lookup, full-chain scan, in-place update (with text
// resize), and delete with parent-separator fixup. TableInterior cells
// are the fixed 8-byte pointer form described in §3:
//
//	child_page:u32 | min_row_id_in_subtree:u32
//
// TableLeaf cells are exactly a record's on-disk form (record.go);
// interior cells are ordered by min_row_id, and the rightmost child of
// any interior page is always its right_link, never an ordered cell —
// splits maintain that invariant by promoting whichever child currently
// sits at the split boundary into the new right_link (see splitPage).

// ErrRowNotFound is returned by Get/Update/Delete for an absent row id.
var ErrRowNotFound = errors.New("storage: row not found")

const interiorCellSize = 8

// Record is a row read back from a TableTree: its engine-assigned row
// id and its column values in declaration order.
type Record struct {
	RowID  uint32
	Values []value.Value
}

// TableTree is the paged B+-tree backing one table's row storage.
type TableTree struct {
	pf *PageFile
}

// OpenTableTree opens or creates the table file at path. A new file's
// page 0 is bootstrapped as an empty root TableLeaf, per spec §6.
func OpenTableTree(path string) (*TableTree, error) {
	pf, isNew, err := OpenPageFile(path)
	if err != nil {
		return nil, err
	}
	t := &TableTree{pf: pf}
	if isNew {
		t.pf.Truncate(0)
		root := t.pf.AllocatePage(NoPage, PageTableLeaf)
		if root != 0 {
			panic("storage: first allocated page was not page 0")
		}
	}
	return t, nil
}

// Close releases the underlying file handle.
func (t *TableTree) Close() error { return t.pf.Close() }

// Root returns the current root page, found by following parent links
// up from page 0 until one reports no parent (spec §3 invariant 6).
func (t *TableTree) Root() PageID {
	page := PageID(0)
	for {
		h := t.pf.ReadHeader(page)
		if h.Parent == NoPage {
			return page
		}
		page = h.Parent
	}
}

// ── cell accessors ──────────────────────────────────────────────────────

func (t *TableTree) readInteriorCell(page PageID, i int) (child PageID, minRowID uint32) {
	off := int(t.pf.cellOffset(page, i))
	buf := t.pf.ReadBytes(page, off, interiorCellSize)
	return PageID(binary.LittleEndian.Uint32(buf[0:4])), binary.LittleEndian.Uint32(buf[4:8])
}

func (t *TableTree) writeInteriorCell(page PageID, off int, child PageID, minRowID uint32) {
	var buf [interiorCellSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(child))
	binary.LittleEndian.PutUint32(buf[4:8], minRowID)
	t.pf.WriteBytes(page, off, buf[:])
}

func (t *TableTree) interiorCellBytes(page PageID, i int) []byte {
	off := int(t.pf.cellOffset(page, i))
	return t.pf.ReadBytes(page, off, interiorCellSize)
}

func (t *TableTree) leafRowID(page PageID, i int) uint32 {
	off := int(t.pf.cellOffset(page, i)) + 2
	return t.pf.ReadU32(page, off)
}

func (t *TableTree) leafCellBytes(page PageID, i int) []byte {
	off := int(t.pf.cellOffset(page, i))
	sizeField := t.pf.ReadU16(page, off)
	return t.pf.ReadBytes(page, off, int(sizeField)+2)
}

func (t *TableTree) readLeafRecord(page PageID, i int) (Record, error) {
	rowID, vals, err := DecodeRecord(t.leafCellBytes(page, i))
	if err != nil {
		return Record{}, err
	}
	return Record{RowID: rowID, Values: vals}, nil
}

// minRowIDOf returns the smallest row id in page's subtree: a leaf's
// first cell, or (by induction) an interior's first ordered cell, which
// already carries its own subtree's minimum. An interior page can have
// zero ordered cells (everything routed through right_link alone), in
// which case the minimum comes from that subtree instead.
func (t *TableTree) minRowIDOf(page PageID) uint32 {
	h := t.pf.ReadHeader(page)
	switch h.Type {
	case PageTableLeaf:
		return t.leafRowID(page, 0)
	case PageTableInterior:
		if h.NCells == 0 {
			return t.minRowIDOf(h.RightLink)
		}
		_, minID := t.readInteriorCell(page, 0)
		return minID
	default:
		panic(fmt.Sprintf("storage: minRowIDOf on page of type %v", h.Type))
	}
}

// appendRawCell tail-allocates cell into page via the cell arena
// primitive, the same path every fresh insert and every split-rebuild
// uses.
func (t *TableTree) appendRawCell(page PageID, cell []byte) {
	h := t.pf.ReadHeader(page)
	n := int(h.NCells)
	off := t.pf.ShiftCells(page, n-1, len(cell), 1)
	t.pf.WriteBytes(page, int(off), cell)
	t.pf.setCellOffset(page, n, off)
	t.pf.SetNCells(page, uint16(n+1))
}

// ── descent ──────────────────────────────────────────────────────────────

// interiorChildFor binary-searches page's ordered cells by min_row_id
// and returns the child whose subtree can contain rowID, falling back
// to right_link (the true rightmost child) once rowID reaches or
// exceeds it, per spec §4.E.
func (t *TableTree) interiorChildFor(page PageID, rowID uint32) PageID {
	h := t.pf.ReadHeader(page)
	n := int(h.NCells)
	if n == 0 {
		return h.RightLink
	}
	lo, hi := 0, n-1
	res := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		_, minID := t.readInteriorCell(page, mid)
		if minID <= rowID {
			res = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if res == -1 {
		// rowID below every ordered cell's minimum; shouldn't happen for
		// a rowID routed down from a correctly-bounding parent, but cell
		// 0 is the page's own subtree minimum so it's the safe fallback.
		child, _ := t.readInteriorCell(page, 0)
		return child
	}
	if res == n-1 && rowID >= t.minRowIDOf(h.RightLink) {
		return h.RightLink
	}
	child, _ := t.readInteriorCell(page, res)
	return child
}

func (t *TableTree) rightmostLeaf() PageID {
	page := t.Root()
	for {
		h := t.pf.ReadHeader(page)
		if h.Type == PageTableLeaf {
			return page
		}
		page = h.RightLink
	}
}

func (t *TableTree) leftmostLeaf() PageID {
	page := t.Root()
	for {
		h := t.pf.ReadHeader(page)
		if h.Type == PageTableLeaf {
			return page
		}
		if h.NCells == 0 {
			page = h.RightLink
			continue
		}
		child, _ := t.readInteriorCell(page, 0)
		page = child
	}
}

// findLeafCell binary-searches a leaf's cells by row id, returning the
// matching index and true, or the insertion point and false.
func (t *TableTree) findLeafCell(page PageID, rowID uint32) (int, bool) {
	n := int(t.pf.ReadHeader(page).NCells)
	lo, hi := 0, n-1
	for lo <= hi {
		mid := (lo + hi) / 2
		id := t.leafRowID(page, mid)
		switch {
		case id == rowID:
			return mid, true
		case id < rowID:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return lo, false
}

// locateLeafCell descends from the root to the leaf that would hold
// rowID, returning its index there, or -1 if absent.
func (t *TableTree) locateLeafCell(rowID uint32) (PageID, int) {
	page := t.Root()
	for {
		h := t.pf.ReadHeader(page)
		if h.Type == PageTableLeaf {
			idx, ok := t.findLeafCell(page, rowID)
			if !ok {
				return page, -1
			}
			return page, idx
		}
		page = t.interiorChildFor(page, rowID)
	}
}

// ── public operations ───────────────────────────────────────────────────

// Append inserts values as a new row with the next row id (previous max
// + 1, starting at 1 on an empty table per spec §6), splitting the
// rightmost leaf if it lacks room.
func (t *TableTree) Append(values []value.Value) (uint32, error) {
	leaf := t.rightmostLeaf()
	n := int(t.pf.ReadHeader(leaf).NCells)
	var rowID uint32 = 1
	if n > 0 {
		rowID = t.leafRowID(leaf, n-1) + 1
	} else {
		for page := t.leftmostLeaf(); page != NoPage; page = t.pf.ReadHeader(page).RightLink {
			if pn := int(t.pf.ReadHeader(page).NCells); pn > 0 {
				rowID = t.leafRowID(page, pn-1) + 1
			}
		}
	}
	cell := EncodeRecord(rowID, values)
	if !t.pf.CanFit(leaf, len(cell)) {
		leaf, _ = t.splitPage(leaf)
	}
	t.appendRawCell(leaf, cell)
	return rowID, nil
}

// Get performs a point lookup by row id.
func (t *TableTree) Get(rowID uint32) (Record, error) {
	page, idx := t.locateLeafCell(rowID)
	if idx < 0 {
		return Record{}, ErrRowNotFound
	}
	return t.readLeafRecord(page, idx)
}

// Search walks the full leaf chain in ascending row-id order, returning
// every record matching value op against column colIdx; colIdx < 0
// returns every record unfiltered.
func (t *TableTree) Search(colIdx int, v value.Value, op value.Op) ([]Record, error) {
	var out []Record
	for page := t.leftmostLeaf(); page != NoPage; {
		h := t.pf.ReadHeader(page)
		n := int(h.NCells)
		for i := 0; i < n; i++ {
			rec, err := t.readLeafRecord(page, i)
			if err != nil {
				return nil, err
			}
			if colIdx < 0 {
				out = append(out, rec)
				continue
			}
			if colIdx >= len(rec.Values) {
				return nil, fmt.Errorf("storage: search column index %d out of range (%d columns)", colIdx, len(rec.Values))
			}
			match, err := value.Matches(rec.Values[colIdx], v, op)
			if err != nil {
				return nil, err
			}
			if match {
				out = append(out, rec)
			}
		}
		page = h.RightLink
	}
	return out, nil
}

// Update overwrites column colIdx of rowID with newVal in place,
// re-packing (and splitting, if necessary) when a Text column's
// encoded size changes.
func (t *TableTree) Update(rowID uint32, colIdx int, newVal value.Value) error {
	page, idx := t.locateLeafCell(rowID)
	if idx < 0 {
		return ErrRowNotFound
	}
	rec, err := t.readLeafRecord(page, idx)
	if err != nil {
		return err
	}
	if colIdx < 0 || colIdx >= len(rec.Values) {
		return fmt.Errorf("storage: update column index %d out of range (%d columns)", colIdx, len(rec.Values))
	}
	oldSize := len(t.leafCellBytes(page, idx))
	rec.Values[colIdx] = newVal
	newCell := EncodeRecord(rowID, rec.Values)
	delta := len(newCell) - oldSize

	if delta == 0 {
		off := int(t.pf.cellOffset(page, idx))
		t.pf.WriteBytes(page, off, newCell)
		return nil
	}

	if delta > 0 && !t.pf.CanFit(page, delta) {
		t.splitPage(page)
		page, idx = t.locateLeafCell(rowID)
		if idx < 0 {
			panic("storage: update: row vanished across its own split")
		}
	}
	t.pf.ShiftCells(page, idx-1, delta, 0)
	off := t.pf.cellOffset(page, idx)
	t.pf.WriteBytes(page, int(off), newCell)
	return nil
}

// Delete removes rowID, fixing up the parent separator if the removed
// cell was the leftmost of a non-root page.
func (t *TableTree) Delete(rowID uint32) error {
	page, idx := t.locateLeafCell(rowID)
	if idx < 0 {
		return ErrRowNotFound
	}
	h := t.pf.ReadHeader(page)
	n := int(h.NCells)
	cellSize := len(t.leafCellBytes(page, idx))
	t.pf.ShiftCells(page, idx-1, -cellSize, -1)
	t.pf.SetNCells(page, uint16(n-1))
	t.pf.WriteU16(page, HeaderSize+2*(n-1), 0)

	if idx == 0 && h.Parent != NoPage {
		t.updateParentSeparator(page)
	}
	return nil
}

// updateParentSeparator rewrites the ordered cell in page's parent that
// points to page so its min_row_id reflects page's new minimum,
// recursing upward if that cell was itself the parent's leftmost. A
// page reached only via its parent's right_link carries no separator
// to fix (right_link has no associated key).
func (t *TableTree) updateParentSeparator(page PageID) {
	parent := t.pf.ReadHeader(page).Parent
	if parent == NoPage {
		return
	}
	newMin := t.minRowIDOf(page)
	n := int(t.pf.ReadHeader(parent).NCells)
	for i := 0; i < n; i++ {
		child, _ := t.readInteriorCell(parent, i)
		if child != page {
			continue
		}
		off := int(t.pf.cellOffset(parent, i))
		t.pf.WriteU32(parent, off+4, newMin)
		if i == 0 {
			t.updateParentSeparator(parent)
		}
		return
	}
}

// ── splitting ────────────────────────────────────────────────────────────

// splitPage splits a full leaf or interior page roughly in half,
// fixing up page's parent (creating a new interior root first if page
// was the root), and returns the new sibling (which always holds the
// larger half) along with its row id minimum. Per spec §4.E, table
// splits grow the tree "to the right": callers driving append overflow
// always want the new sibling (which holds the larger row ids); callers
// driving an update-resize overflow must re-locate their target row
// afterward, since it may have landed on either side.
//
// A page's own subtree minimum never changes across a split (it always
// keeps the lower-indexed, smaller half), so whichever ordered cell in
// parent already referenced page stays valid untouched. The only thing
// that must be added to parent is a reference to the new sibling, one
// position to the right of page's. If page was parent's right_link
// (the rightmost child, per spec) before the split, that role now
// belongs to the new sibling: right_link moves to it, and page itself
// is demoted to a brand-new ordered cell keyed by its own minimum.
// Otherwise page keeps its existing place and the new sibling is simply
// inserted as a new ordered cell.
func (t *TableTree) splitPage(page PageID) (PageID, uint32) {
	h := t.pf.ReadHeader(page)
	parent := h.Parent
	if parent == NoPage {
		newParent := t.pf.AllocatePage(NoPage, PageTableInterior)
		t.pf.SetRightLink(newParent, page)
		t.pf.SetParent(page, newParent)
		parent = newParent
		h.Parent = parent
	}
	pageWasRightmost := t.pf.ReadHeader(parent).RightLink == page

	n := int(h.NCells)
	median := n / 2
	newPage := t.pf.AllocatePage(parent, h.Type)

	switch h.Type {
	case PageTableLeaf:
		return t.splitLeaf(page, newPage, parent, median, n, pageWasRightmost)
	case PageTableInterior:
		return t.splitInterior(page, newPage, parent, median, n, pageWasRightmost)
	default:
		panic(fmt.Sprintf("storage: splitPage on page of type %v", h.Type))
	}
}

func (t *TableTree) splitLeaf(page, newPage, parent PageID, median, n int, pageWasRightmost bool) (PageID, uint32) {
	moving := make([][]byte, 0, n-median)
	for i := median; i < n; i++ {
		moving = append(moving, t.leafCellBytes(page, i))
	}

	oldNext := t.pf.ReadHeader(page).RightLink
	t.shrinkToLeft(page, median)
	t.pf.SetRightLink(page, newPage)
	t.pf.SetRightLink(newPage, oldNext)

	for _, cell := range moving {
		t.appendRawCell(newPage, cell)
	}

	newPageMin := t.leafRowID(newPage, 0)
	if pageWasRightmost {
		t.pf.SetRightLink(parent, newPage)
		t.insertSeparator(parent, page, t.leafRowID(page, 0))
		return newPage, newPageMin
	}
	t.insertSeparator(parent, newPage, newPageMin)
	return newPage, newPageMin
}

func (t *TableTree) splitInterior(page, newPage, parent PageID, median, n int, pageWasRightmost bool) (PageID, uint32) {
	medianChild, _ := t.readInteriorCell(page, median)
	moving := make([][]byte, 0, n-median-1)
	for i := median + 1; i < n; i++ {
		moving = append(moving, t.interiorCellBytes(page, i))
	}
	oldRightLink := t.pf.ReadHeader(page).RightLink

	t.shrinkToLeft(page, median)
	t.pf.SetRightLink(page, medianChild)
	t.pf.SetParent(medianChild, page)
	t.pf.SetRightLink(newPage, oldRightLink)
	t.pf.SetParent(oldRightLink, newPage)

	for _, cell := range moving {
		t.appendRawCell(newPage, cell)
		child := PageID(binary.LittleEndian.Uint32(cell[0:4]))
		t.pf.SetParent(child, newPage)
	}

	newPageMin := t.minRowIDOf(newPage)
	if pageWasRightmost {
		t.pf.SetRightLink(parent, newPage)
		t.insertSeparator(parent, page, t.minRowIDOf(page))
		return newPage, newPageMin
	}
	t.insertSeparator(parent, newPage, newPageMin)
	return newPage, newPageMin
}

// shrinkToLeft truncates page to its first keep cells without moving
// any bytes: the retained cells' pointer-array entries and bodies are
// already exactly where they need to be, so only the header's bounds
// need to change.
func (t *TableTree) shrinkToLeft(page PageID, keep int) {
	h := t.pf.ReadHeader(page)
	h.NCells = uint16(keep)
	if keep == 0 {
		h.ContentStart = PageSize
	} else {
		h.ContentStart = t.pf.cellOffset(page, keep-1)
	}
	t.pf.WriteHeader(page, h)
}

// insertSeparator inserts an ordered (child, minRowID) cell into parent
// at its sorted position, splitting parent first (and recursing into
// its own parent) if it lacks room.
func (t *TableTree) insertSeparator(parent, child PageID, minRowID uint32) {
	if !t.pf.CanFit(parent, interiorCellSize) {
		newSibling, sepMinID := t.splitPage(parent)
		if minRowID >= sepMinID {
			parent = newSibling
		}
	}
	n := int(t.pf.ReadHeader(parent).NCells)
	pos := n
	for i := 0; i < n; i++ {
		_, id := t.readInteriorCell(parent, i)
		if minRowID < id {
			pos = i
			break
		}
	}
	off := t.pf.ShiftCells(parent, pos-1, interiorCellSize, 1)
	t.pf.setCellOffset(parent, pos, off)
	t.writeInteriorCell(parent, int(off), child, minRowID)
	t.pf.SetNCells(parent, uint16(n+1))
	t.pf.SetParent(child, parent)
}
