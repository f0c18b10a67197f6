package storage

import "fmt"

// This file implements the cell arena: the single primitive every
// insert/update/delete on both trees is expressed in terms of. See
// spec §4.C and §9 ("Cell arena as primitive").
//
// A page's variable-length cells are packed at its tail, growing toward
// lower offsets as more are added; content_start marks the lowest
// occupied byte. The cell-pointer array at the head of the page (right
// after the 16-byte header) holds one u16 offset per cell, in the same
// order as the cells themselves are ordered by key (row id or value).

// cellOffset reads the i-th entry of page's cell-pointer array.
func (pf *PageFile) cellOffset(page PageID, i int) uint16 {
	return pf.ReadU16(page, HeaderSize+2*i)
}

// setCellOffset writes the i-th entry of page's cell-pointer array.
func (pf *PageFile) setCellOffset(page PageID, i int, off uint16) {
	pf.WriteU16(page, HeaderSize+2*i, off)
}

// CanFit reports whether a cell of cellSize bytes can be added to page
// without overlapping the cell-pointer array, per spec invariant 1/2:
// content_start − cellSize ≥ 16 + 2·(n_cells+1).
func (pf *PageFile) CanFit(page PageID, cellSize int) bool {
	h := pf.ReadHeader(page)
	return int(h.ContentStart)-cellSize >= HeaderSize+2*(int(h.NCells)+1)
}

// shouldSplit is CanFit's negation, phrased the way the underlying
// shift_cells guard phrases it (a shift larger than the page can hold).
func (pf *PageFile) shouldSplit(page PageID, shiftBytes int) bool {
	h := pf.ReadHeader(page)
	headerSize := HeaderSize + 2*(int(h.NCells)+1)
	return int(h.ContentStart)-shiftBytes < headerSize
}

// ShiftCells is the cell arena's one primitive operation: it relocates
// the contiguous run of cell bytes preceding cell index `preceding` by
// shiftBytes, and renumbers the cell-pointer entries for every cell
// after `preceding` to match, shifting them to the pointer-array slot
// preceding+1+deltaRecords. preceding = -1 means "the whole cell region
// precedes the insertion point". deltaRecords is +1 for an insert, -1
// for a delete, 0 for an in-place resize.
//
// It returns the offset at which a newly-written cell of shiftBytes
// bytes should begin. The caller must have already verified CanFit (or
// be a pure delete/resize, which never grows the page); ShiftCells
// itself panics if the requested shift would violate page capacity —
// that is a programmer error, not a recoverable condition (spec §7).
func (pf *PageFile) ShiftCells(page PageID, preceding int, shiftBytes int, deltaRecords int) uint16 {
	if pf.shouldSplit(page, shiftBytes) {
		panic(fmt.Sprintf("storage: shift of %d bytes exceeds capacity of page %d", shiftBytes, page))
	}

	h := pf.ReadHeader(page)
	numCells := int(h.NCells)

	if preceding == numCells-1 {
		return pf.SetContentStart(page, shiftBytes)
	}

	oldContentStart := h.ContentStart
	contentOffset := pf.SetContentStart(page, shiftBytes)

	if contentOffset == PageSize {
		return uint16(int(PageSize) - shiftBytes)
	}

	var startOffset uint16
	if preceding >= 0 {
		startOffset = pf.cellOffset(page, preceding)
	} else {
		startOffset = PageSize
	}

	bytesToShift := int(startOffset) - int(oldContentStart)
	if shiftBytes < 0 {
		bytesToShift += shiftBytes
	}
	moved := pf.ReadBytes(page, int(oldContentStart), bytesToShift)
	pf.WriteBytes(page, int(contentOffset), moved)

	numShiftedCells := numCells - preceding - 1
	srcOff := HeaderSize + 2*(preceding+1)
	offsets := pf.ReadBytes(page, srcOff, 2*numShiftedCells)

	dstOff := HeaderSize + 2*(preceding+deltaRecords+1)
	for i := 0; i < numShiftedCells; i++ {
		old := uint16(offsets[2*i]) | uint16(offsets[2*i+1])<<8
		pf.WriteU16(page, dstOff+2*i, uint16(int(old)-shiftBytes))
	}

	return uint16(int(startOffset) - shiftBytes)
}
