package storage

import (
	"encoding/binary"
	"fmt"
	"sort"

	"pagedb/internal/value"
)

// This file implements the value-ordered index B+-tree (spec §4.F): the
// most intricate component, since every cell — leaf or interior — is a
// first-class (value, posting list) pair, and deletion must rebalance
// by stealing from or merging with a sibling rather than ever leaving a
// page below its natural occupancy.
//
// Cell layout (§3): IndexInterior is `child_page:u32 | payload_size:u16
// | n_ids:u8 | type_code:u8 | value | row_ids:u32[n_ids]`; IndexLeaf is
// the same without the leading child_page. Cells within a page are
// ordered ascending by value and unique by value.
//
// Design choice (documented further in DESIGN.md): this implementation
// does not use the spec's optional "degenerate leftmost cell" — per
// §9's explicit allowance, the leftmost child is instead represented
// purely via right_link, mirroring how every interior page already
// uses right_link for an implicit child. Concretely: cell[i].child_page
// holds every value strictly greater than cell[i].value up to (and
// including) cell[i+1].value, right_link holds every value at or below
// cell[0].value (or the entire subtree, if n_cells is 0). This is the
// mirror image of the table tree's convention, where right_link holds
// the *rightmost* range instead — the split algorithm below is the
// reason: a newly split-off sibling is installed as the parent's new
// ordered cell, and the original page keeps the right_link slot.

const indexInteriorFixedSize = 4 // child_page
const indexCellHeaderSize = 2    // n_ids | type_code

// indexCell is a decoded index cell: a value, its posting list, and
// (interior pages only) the child page it routes to.
type indexCell struct {
	child  PageID
	value  value.Value
	rowIDs []uint32
}

// IndexTree is the paged B+-tree backing one column's secondary index.
type IndexTree struct {
	pf *PageFile
}

// OpenIndexTree opens or creates the index file at path. A new file's
// page 0 is bootstrapped as an empty root IndexLeaf, per spec §6.
func OpenIndexTree(path string) (*IndexTree, error) {
	pf, isNew, err := OpenPageFile(path)
	if err != nil {
		return nil, err
	}
	x := &IndexTree{pf: pf}
	if isNew {
		x.pf.Truncate(0)
		root := x.pf.AllocatePage(NoPage, PageIndexLeaf)
		if root != 0 {
			panic("storage: first allocated index page was not page 0")
		}
	}
	return x, nil
}

// Close releases the underlying file handle.
func (x *IndexTree) Close() error { return x.pf.Close() }

// Root returns the current root page, found the same way TableTree
// does: follow parent links up from page 0.
func (x *IndexTree) Root() PageID {
	page := PageID(0)
	for {
		h := x.pf.ReadHeader(page)
		if h.Parent == NoPage {
			return page
		}
		page = h.Parent
	}
}

// ── cell codec ───────────────────────────────────────────────────────────

func cellSize(interior bool, v value.Value, nIDs int) int {
	payload := indexCellHeaderSize + v.Size() + 4*nIDs
	size := payload + 2
	if interior {
		size += indexInteriorFixedSize
	}
	return size
}

func encodeIndexCell(interior bool, c indexCell) []byte {
	payload := indexCellHeaderSize + c.value.Size() + 4*len(c.rowIDs)
	buf := make([]byte, 0, payload+2+indexInteriorFixedSize)
	if interior {
		var cb [4]byte
		binary.LittleEndian.PutUint32(cb[:], uint32(c.child))
		buf = append(buf, cb[:]...)
	}
	var pb [2]byte
	binary.LittleEndian.PutUint16(pb[:], uint16(payload))
	buf = append(buf, pb[:]...)
	buf = append(buf, byte(len(c.rowIDs)), byte(c.value.TypeCode()))
	buf = c.value.Encode(buf)
	for _, id := range c.rowIDs {
		var ib [4]byte
		binary.LittleEndian.PutUint32(ib[:], id)
		buf = append(buf, ib[:]...)
	}
	return buf
}

func (x *IndexTree) readCell(page PageID, i int) (indexCell, error) {
	h := x.pf.ReadHeader(page)
	interior := h.Type == PageIndexInterior
	off := int(x.pf.cellOffset(page, i))
	return x.decodeCellAt(page, off, interior)
}

func (x *IndexTree) decodeCellAt(page PageID, off int, interior bool) (indexCell, error) {
	var c indexCell
	p := off
	if interior {
		c.child = PageID(x.pf.ReadU32(page, p))
		p += 4
	} else {
		c.child = NoPage
	}
	payload := int(x.pf.ReadU16(page, p))
	p += 2
	if payload == 0 {
		return c, fmt.Errorf("storage: index: degenerate cell at page %d offset %d is not supported by this implementation", page, off)
	}
	hdr := x.pf.ReadBytes(page, p, 2)
	nIDs := int(hdr[0])
	typeCode := value.Code(hdr[1])
	p += 2
	valLen, err := valueWidth(typeCode, nil)
	if err != nil {
		return c, err
	}
	v, err := value.Decode(typeCode, x.pf.ReadBytes(page, p, valLen))
	if err != nil {
		return c, err
	}
	p += valLen
	c.value = v
	idBytes := x.pf.ReadBytes(page, p, 4*nIDs)
	c.rowIDs = make([]uint32, nIDs)
	for i := 0; i < nIDs; i++ {
		c.rowIDs[i] = binary.LittleEndian.Uint32(idBytes[4*i : 4*i+4])
	}
	return c, nil
}

// rawCellBytes returns cell i's on-disk bytes without decoding them,
// for relocation during a split or a steal/merge rotation.
func (x *IndexTree) rawCellBytes(page PageID, i int) []byte {
	h := x.pf.ReadHeader(page)
	interior := h.Type == PageIndexInterior
	off := int(x.pf.cellOffset(page, i))
	p := off
	if interior {
		p += 4
	}
	payload := int(x.pf.ReadU16(page, p))
	total := (p - off) + 2 + payload
	return x.pf.ReadBytes(page, off, total)
}

func (x *IndexTree) appendRawCell(page PageID, cell []byte) {
	n := int(x.pf.ReadHeader(page).NCells)
	off := x.pf.ShiftCells(page, n-1, len(cell), 1)
	x.pf.WriteBytes(page, int(off), cell)
	x.pf.setCellOffset(page, n, off)
	x.pf.SetNCells(page, uint16(n+1))
}

// ── search ───────────────────────────────────────────────────────────────

// localFind binary-searches page's own cells for an exact value match,
// returning the insertion index and false if absent.
func (x *IndexTree) localFind(page PageID, v value.Value) (int, bool, error) {
	n := int(x.pf.ReadHeader(page).NCells)
	lo, hi := 0, n-1
	for lo <= hi {
		mid := (lo + hi) / 2
		cell, err := x.readCell(page, mid)
		if err != nil {
			return 0, false, err
		}
		c, err := value.Compare(v, cell.value)
		if err != nil {
			return 0, false, err
		}
		switch {
		case c == 0:
			return mid, true, nil
		case c > 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return lo, false, nil
}

// descendFor returns the child of an interior page that target's
// subtree lives in, per the right_link-holds-the-lowest-range
// convention documented at the top of this file.
func (x *IndexTree) descendFor(page PageID, target value.Value) (PageID, error) {
	n := int(x.pf.ReadHeader(page).NCells)
	lo, hi, best := 0, n-1, -1
	for lo <= hi {
		mid := (lo + hi) / 2
		cell, err := x.readCell(page, mid)
		if err != nil {
			return NoPage, err
		}
		c, err := value.Compare(target, cell.value)
		if err != nil {
			return NoPage, err
		}
		if c >= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == -1 {
		return x.pf.ReadHeader(page).RightLink, nil
	}
	cell, err := x.readCell(page, best)
	return cell.child, err
}

// findValue descends from the root looking for an exact match,
// checking every page along the way since interior cells carry real
// postings, not just routing keys. It returns the landing page and
// either the matching index (exists=true) or the insertion point.
func (x *IndexTree) findValue(v value.Value) (page PageID, idx int, exists bool, err error) {
	page = x.Root()
	for {
		idx, exists, err = x.localFind(page, v)
		if err != nil || exists {
			return
		}
		if x.pf.ReadHeader(page).Type == PageIndexLeaf {
			return
		}
		page, err = x.descendFor(page, v)
		if err != nil {
			return
		}
	}
}

// Search returns every row id whose indexed value matches op against v.
func (x *IndexTree) Search(v value.Value, op value.Op) ([]uint32, error) {
	if op == value.OpEQ {
		page, idx, exists, err := x.findValue(v)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, nil
		}
		cell, err := x.readCell(page, idx)
		if err != nil {
			return nil, err
		}
		return append([]uint32(nil), cell.rowIDs...), nil
	}
	var out []uint32
	err := x.rangeScan(x.Root(), func(c value.Value) (bool, error) {
		return value.Matches(c, v, op)
	}, &out)
	return out, err
}

// rangeScan performs a single root-rooted in-order walk of the tree,
// collecting row ids from every cell whose value satisfies pred. Spec
// §4.F's traverse algorithm instead starts from an arbitrary landing
// page and walks outward through ancestors; a plain root-rooted scan
// covers the same "every matching cell exactly once" contract with far
// less bookkeeping, which the spec explicitly permits since traversal
// order is unspecified.
func (x *IndexTree) rangeScan(page PageID, pred func(value.Value) (bool, error), out *[]uint32) error {
	h := x.pf.ReadHeader(page)
	interior := h.Type == PageIndexInterior
	n := int(h.NCells)
	for i := 0; i < n; i++ {
		cell, err := x.readCell(page, i)
		if err != nil {
			return err
		}
		if interior {
			if err := x.rangeScan(cell.child, pred, out); err != nil {
				return err
			}
		}
		ok, err := pred(cell.value)
		if err != nil {
			return err
		}
		if ok {
			*out = append(*out, cell.rowIDs...)
		}
	}
	if interior {
		if err := x.rangeScan(h.RightLink, pred, out); err != nil {
			return err
		}
	}
	return nil
}

// ── insert ───────────────────────────────────────────────────────────────

// Insert adds rowID to value's posting list, creating a new cell if
// value is not yet indexed.
func (x *IndexTree) Insert(rowID uint32, v value.Value) error {
	page, idx, exists, err := x.findValue(v)
	if err != nil {
		return err
	}
	if exists {
		return x.insertItemIntoCell(page, idx, rowID)
	}
	return x.writeCell(page, idx, v, []uint32{rowID})
}

// writeCell inserts a brand-new (value, rowIDs) cell at pos on page,
// splitting page first if it lacks room.
func (x *IndexTree) writeCell(page PageID, pos int, v value.Value, rowIDs []uint32) error {
	h := x.pf.ReadHeader(page)
	interior := h.Type == PageIndexInterior
	size := cellSize(interior, v, len(rowIDs))
	if !x.pf.CanFit(page, size) {
		newPage, err := x.splitPage(page, v)
		if err != nil {
			return err
		}
		page = newPage
		var exists bool
		pos, exists, err = x.localFind(page, v)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("storage: index: value %v appeared during split of its own insertion", v)
		}
		h = x.pf.ReadHeader(page)
		interior = h.Type == PageIndexInterior
	}
	n := int(h.NCells)
	off := x.pf.ShiftCells(page, pos-1, size, 1)
	x.pf.setCellOffset(page, pos, off)
	x.pf.WriteBytes(page, int(off), encodeIndexCell(interior, indexCell{child: NoPage, value: v, rowIDs: rowIDs}))
	x.pf.SetNCells(page, uint16(n+1))
	return nil
}

// insertItemIntoCell appends rowID to the posting already at page[index].
func (x *IndexTree) insertItemIntoCell(page PageID, index int, rowID uint32) error {
	cell, err := x.readCell(page, index)
	if err != nil {
		return err
	}
	for !x.pf.CanFit(page, 4) {
		if _, err := x.splitPage(page, cell.value); err != nil {
			return err
		}
		var exists bool
		page, index, exists, err = x.findValue(cell.value)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("storage: index: value %v vanished across its own split", cell.value)
		}
		cell, err = x.readCell(page, index)
		if err != nil {
			return err
		}
	}
	interior := x.pf.ReadHeader(page).Type == PageIndexInterior
	newIDs := insertSorted(cell.rowIDs, rowID)
	x.pf.ShiftCells(page, index-1, 4, 0)
	off := x.pf.cellOffset(page, index)
	x.pf.WriteBytes(page, int(off), encodeIndexCell(interior, indexCell{child: cell.child, value: cell.value, rowIDs: newIDs}))
	return nil
}

func insertSorted(ids []uint32, id uint32) []uint32 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// insertLocal inserts cell into page at its sorted position without
// ever splitting; used by steal/merge rotations where room is known to
// already exist because a sibling just gave up a cell.
func (x *IndexTree) insertLocal(page PageID, cell indexCell) error {
	interior := x.pf.ReadHeader(page).Type == PageIndexInterior
	size := cellSize(interior, cell.value, len(cell.rowIDs))
	if !x.pf.CanFit(page, size) {
		return fmt.Errorf("storage: index: rotation could not fit relocated cell on page %d", page)
	}
	pos, exists, err := x.localFind(page, cell.value)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("storage: index: rotation produced duplicate value %v", cell.value)
	}
	n := int(x.pf.ReadHeader(page).NCells)
	off := x.pf.ShiftCells(page, pos-1, size, 1)
	x.pf.setCellOffset(page, pos, off)
	x.pf.WriteBytes(page, int(off), encodeIndexCell(interior, cell))
	x.pf.SetNCells(page, uint16(n+1))
	if interior && cell.child != NoPage {
		x.pf.SetParent(cell.child, page)
	}
	return nil
}

// BulkLoad writes one cell per group, in the caller-supplied order
// (which must already be sorted ascending by value, with no
// duplicates), trusting that each lands wherever find_value's binary
// search would place it — the same "normal insert path" the glossary's
// Bulk-load entry describes.
type PostingGroup struct {
	Value  value.Value
	RowIDs []uint32
}

func (x *IndexTree) BulkLoad(groups []PostingGroup) error {
	for _, g := range groups {
		ids := append([]uint32(nil), g.RowIDs...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		page, idx, exists, err := x.findValue(g.Value)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("storage: index: bulk load saw duplicate value %v", g.Value)
		}
		if err := x.writeCell(page, idx, g.Value, ids); err != nil {
			return err
		}
	}
	return nil
}

// ── remove ───────────────────────────────────────────────────────────────

// Remove deletes rowID from value's posting list, collapsing the cell
// (and rebalancing) if that empties it. Removing a row id from a value
// the index does not carry, or one whose posting does not actually
// contain it, is the "must exist" invariant violation spec §7 names as
// a programmer error.
func (x *IndexTree) Remove(rowID uint32, v value.Value) error {
	page, idx, exists, err := x.findValue(v)
	if err != nil {
		return err
	}
	if !exists {
		panic(fmt.Sprintf("storage: index: remove(%d, %v): value not present", rowID, v))
	}
	return x.removeItemFromCell(page, idx, rowID)
}

// Update moves rowID's membership from oldVal's posting to newVal's.
func (x *IndexTree) Update(rowID uint32, oldVal, newVal value.Value) error {
	if err := x.Remove(rowID, oldVal); err != nil {
		return err
	}
	return x.Insert(rowID, newVal)
}

func (x *IndexTree) removeItemFromCell(page PageID, index int, rowID uint32) error {
	cell, err := x.readCell(page, index)
	if err != nil {
		return err
	}
	pos := -1
	for i, id := range cell.rowIDs {
		if id == rowID {
			pos = i
			break
		}
	}
	if pos < 0 {
		panic(fmt.Sprintf("storage: index: row id %d absent from posting list of %v it was claimed to belong to", rowID, cell.value))
	}
	newIDs := make([]uint32, 0, len(cell.rowIDs)-1)
	newIDs = append(newIDs, cell.rowIDs[:pos]...)
	newIDs = append(newIDs, cell.rowIDs[pos+1:]...)
	if len(newIDs) == 0 {
		return x.removeCell(page, index, true)
	}
	interior := x.pf.ReadHeader(page).Type == PageIndexInterior
	x.pf.ShiftCells(page, index-1, -4, 0)
	off := x.pf.cellOffset(page, index)
	x.pf.WriteBytes(page, int(off), encodeIndexCell(interior, indexCell{child: cell.child, value: cell.value, rowIDs: newIDs}))
	return nil
}

// removeCell deletes the whole cell at page[index]. On an IndexInterior
// page with steal=true, the removed cell's child subtree is re-attached
// beneath a key lifted from the adjacent left subtree (stealFromLeftSubtree);
// on an IndexLeaf left empty, the page itself is rebalanced away.
func (x *IndexTree) removeCell(page PageID, index int, steal bool) error {
	h := x.pf.ReadHeader(page)
	interior := h.Type == PageIndexInterior
	cell, err := x.readCell(page, index)
	if err != nil {
		return err
	}
	orphan := cell.child
	cellSz := len(x.rawCellBytes(page, index))
	n := int(h.NCells)
	x.pf.ShiftCells(page, index-1, -cellSz, -1)
	x.pf.SetNCells(page, uint16(n-1))
	x.pf.WriteU16(page, HeaderSize+2*(n-1), 0)

	if interior && steal {
		return x.stealFromLeftSubtree(page, index, orphan)
	}
	if !interior && int(x.pf.ReadHeader(page).NCells) == 0 {
		return x.removePage(page)
	}
	return nil
}

// stealFromLeftSubtree re-attaches orphan (the child subtree of a cell
// just removed from page at position index) beneath a key lifted from
// the rightmost leaf of the subtree immediately to index's left.
func (x *IndexTree) stealFromLeftSubtree(page PageID, index int, orphan PageID) error {
	var leftChild PageID
	if index == 0 {
		leftChild = x.pf.ReadHeader(page).RightLink
	} else {
		cell, err := x.readCell(page, index-1)
		if err != nil {
			return err
		}
		leftChild = cell.child
	}

	cur := leftChild
	for x.pf.ReadHeader(cur).Type == PageIndexInterior {
		h := x.pf.ReadHeader(cur)
		n := int(h.NCells)
		if n == 0 {
			cur = h.RightLink
			continue
		}
		last, err := x.readCell(cur, n-1)
		if err != nil {
			return err
		}
		cur = last.child
	}

	n := int(x.pf.ReadHeader(cur).NCells)
	if n == 0 {
		return fmt.Errorf("storage: index: steal source subtree rooted near page %d is empty", leftChild)
	}
	lifted, err := x.readCell(cur, n-1)
	if err != nil {
		return err
	}
	if err := x.removeCell(cur, n-1, false); err != nil {
		return err
	}
	lifted.child = orphan
	if err := x.insertLocal(page, lifted); err != nil {
		return err
	}
	if orphan != NoPage {
		x.pf.SetParent(orphan, page)
	}
	return nil
}

// ── page-level rebalancing ────────────────────────────────────────────────

// positionInParent reports where page sits among parent's children:
// -1 if page is parent's right_link, else the cell index i such that
// parent's cell i's child is page.
func (x *IndexTree) positionInParent(parent, page PageID) (int, error) {
	if x.pf.ReadHeader(parent).RightLink == page {
		return -1, nil
	}
	n := int(x.pf.ReadHeader(parent).NCells)
	for i := 0; i < n; i++ {
		cell, err := x.readCell(parent, i)
		if err != nil {
			return 0, err
		}
		if cell.child == page {
			return i, nil
		}
	}
	return 0, fmt.Errorf("storage: index: page %d not referenced by its recorded parent %d", page, parent)
}

// removePage rebalances an underflowing page (a leaf left with zero
// cells, or an interior page left with exactly one, per §4.F's
// recursive condition) by stealing from a sibling with room to spare,
// or merging with one that has none.
func (x *IndexTree) removePage(page PageID) error {
	h := x.pf.ReadHeader(page)
	parent := h.Parent
	if parent == NoPage {
		if h.NCells == 0 && h.RightLink != NoPage {
			root := h.RightLink
			x.pf.SetParent(root, NoPage)
			return x.deletePage(page)
		}
		return nil
	}

	pos, err := x.positionInParent(parent, page)
	if err != nil {
		return err
	}
	pn := int(x.pf.ReadHeader(parent).NCells)

	var rightChild, leftChild PageID = NoPage, NoPage
	rightSepIdx, leftSepIdx := -1, -1
	if pos == -1 {
		if pn > 0 {
			c, err := x.readCell(parent, 0)
			if err != nil {
				return err
			}
			rightChild, rightSepIdx = c.child, 0
		}
	} else {
		if pos == 0 {
			leftChild, leftSepIdx = x.pf.ReadHeader(parent).RightLink, pos
		} else {
			c, err := x.readCell(parent, pos-1)
			if err != nil {
				return err
			}
			leftChild, leftSepIdx = c.child, pos
		}
		if pos+1 < pn {
			c, err := x.readCell(parent, pos+1)
			if err != nil {
				return err
			}
			rightChild, rightSepIdx = c.child, pos+1
		}
	}

	if rightChild != NoPage && int(x.pf.ReadHeader(rightChild).NCells) >= 2 {
		return x.stealFromSibling(page, parent, rightSepIdx, rightChild, true)
	}
	if leftChild != NoPage && int(x.pf.ReadHeader(leftChild).NCells) >= 2 {
		return x.stealFromSibling(page, parent, leftSepIdx, leftChild, false)
	}
	if rightChild != NoPage {
		return x.mergeSiblings(page, parent, rightSepIdx, rightChild, true)
	}
	if leftChild != NoPage {
		return x.mergeSiblings(page, parent, leftSepIdx, leftChild, false)
	}
	return nil
}

// stealFromSibling rotates one entry across the parent separator at
// sepIdx: the separator itself moves down into page, and the sibling's
// nearest entry is promoted to replace it in parent.
func (x *IndexTree) stealFromSibling(page, parent PageID, sepIdx int, sibling PageID, siblingIsRight bool) error {
	sep, err := x.readCell(parent, sepIdx)
	if err != nil {
		return err
	}
	pageInterior := x.pf.ReadHeader(page).Type == PageIndexInterior

	var movedChild PageID = NoPage
	var lifted indexCell
	if siblingIsRight {
		if pageInterior {
			movedChild = x.pf.ReadHeader(sibling).RightLink
		}
		first, err := x.readCell(sibling, 0)
		if err != nil {
			return err
		}
		lifted = first
		if err := x.removeCell(sibling, 0, false); err != nil {
			return err
		}
		if pageInterior {
			x.pf.SetRightLink(sibling, first.child)
			x.pf.SetParent(first.child, sibling)
		}
	} else {
		n := int(x.pf.ReadHeader(sibling).NCells)
		last, err := x.readCell(sibling, n-1)
		if err != nil {
			return err
		}
		lifted = last
		if pageInterior {
			movedChild = x.pf.ReadHeader(page).RightLink
		}
		if err := x.removeCell(sibling, n-1, false); err != nil {
			return err
		}
		if pageInterior {
			x.pf.SetRightLink(page, last.child)
			x.pf.SetParent(last.child, page)
		}
	}

	sepCell := indexCell{child: movedChild, value: sep.value, rowIDs: sep.rowIDs}
	if err := x.insertLocal(page, sepCell); err != nil {
		return err
	}

	return x.overwriteSeparator(parent, sepIdx, lifted.value, lifted.rowIDs)
}

// overwriteSeparator rewrites parent's cell at idx to carry newVal and
// rowIDs in place, re-packing (like TableTree.Update) if the new
// value's encoded size differs from the old.
func (x *IndexTree) overwriteSeparator(parent PageID, idx int, newVal value.Value, rowIDs []uint32) error {
	cell, err := x.readCell(parent, idx)
	if err != nil {
		return err
	}
	oldSize := len(x.rawCellBytes(parent, idx))
	newBytes := encodeIndexCell(true, indexCell{child: cell.child, value: newVal, rowIDs: rowIDs})
	delta := len(newBytes) - oldSize
	if delta > 0 && !x.pf.CanFit(parent, delta) {
		return fmt.Errorf("storage: index: rotation separator resize overflowed page %d", parent)
	}
	x.pf.ShiftCells(parent, idx-1, delta, 0)
	off := x.pf.cellOffset(parent, idx)
	x.pf.WriteBytes(parent, int(off), newBytes)
	return nil
}

// mergeSiblings absorbs page into sibling (moving the parent separator
// at sepIdx down into sibling), deletes page, and recurses upward if
// that leaves parent itself underflowing.
func (x *IndexTree) mergeSiblings(page, parent PageID, sepIdx int, sibling PageID, siblingIsRight bool) error {
	sep, err := x.readCell(parent, sepIdx)
	if err != nil {
		return err
	}
	pageInterior := x.pf.ReadHeader(page).Type == PageIndexInterior
	var movedChild PageID = NoPage
	if pageInterior {
		movedChild = x.pf.ReadHeader(page).RightLink
		if siblingIsRight {
			movedChild = x.pf.ReadHeader(sibling).RightLink
			x.pf.SetRightLink(sibling, x.pf.ReadHeader(page).RightLink)
			x.pf.SetParent(x.pf.ReadHeader(page).RightLink, sibling)
		}
	}
	if err := x.insertLocal(sibling, indexCell{child: movedChild, value: sep.value, rowIDs: sep.rowIDs}); err != nil {
		return err
	}
	for i := 0; pageInterior && i < int(x.pf.ReadHeader(page).NCells); i++ {
		c, err := x.readCell(page, i)
		if err != nil {
			return err
		}
		if err := x.insertLocal(sibling, c); err != nil {
			return err
		}
	}

	if siblingIsRight {
		if sepIdx == 0 && x.pf.ReadHeader(parent).RightLink == page {
			x.pf.SetRightLink(parent, sibling)
		} else {
			off := int(x.pf.cellOffset(parent, sepIdx-1))
			x.pf.WriteU32(parent, off, uint32(sibling))
		}
	}

	if err := x.removeCell(parent, sepIdx, false); err != nil {
		return err
	}
	lastID := PageID(x.pf.PageCount() - 1)
	if err := x.deletePage(page); err != nil {
		return err
	}
	if parent == lastID {
		parent = page // deletePage relocated the last page into page's slot
	}
	if int(x.pf.ReadHeader(parent).NCells) == 1 && x.pf.ReadHeader(parent).Parent != NoPage {
		return x.removePage(parent)
	}
	return nil
}

// ── splitting ────────────────────────────────────────────────────────────

// shrinkToLeft truncates page to its first keep cells without moving
// any bytes, mirroring TableTree.shrinkToLeft.
func (x *IndexTree) shrinkToLeft(page PageID, keep int) {
	h := x.pf.ReadHeader(page)
	h.NCells = uint16(keep)
	if keep == 0 {
		h.ContentStart = PageSize
	} else {
		h.ContentStart = x.pf.cellOffset(page, keep-1)
	}
	x.pf.WriteHeader(page, h)
}

// splitPage splits a full page roughly in half around its median cell,
// promoting that cell into page's parent (creating a new interior root
// first if page was the root), and returns whichever half splitValue
// belongs on.
func (x *IndexTree) splitPage(page PageID, splitValue value.Value) (PageID, error) {
	h := x.pf.ReadHeader(page)
	interior := h.Type == PageIndexInterior
	parent := h.Parent
	if parent == NoPage {
		newParent := x.pf.AllocatePage(NoPage, PageIndexInterior)
		x.pf.SetRightLink(newParent, page)
		x.pf.SetParent(page, newParent)
		parent = newParent
	}

	n := int(h.NCells)
	medianIdx := n / 2
	median, err := x.readCell(page, medianIdx)
	if err != nil {
		return NoPage, err
	}

	newSibling := x.pf.AllocatePage(parent, h.Type)
	oldRightLink := h.RightLink
	if interior {
		x.pf.SetRightLink(newSibling, median.child)
		x.pf.SetParent(median.child, newSibling)
	}

	moving := make([][]byte, 0, n-medianIdx-1)
	for i := medianIdx + 1; i < n; i++ {
		moving = append(moving, x.rawCellBytes(page, i))
	}
	x.shrinkToLeft(page, medianIdx)
	_ = oldRightLink // page keeps its own right_link unchanged across the split

	for _, raw := range moving {
		x.appendRawCell(newSibling, raw)
	}
	if interior {
		nn := int(x.pf.ReadHeader(newSibling).NCells)
		for i := 0; i < nn; i++ {
			cell, err := x.readCell(newSibling, i)
			if err != nil {
				return NoPage, err
			}
			x.pf.SetParent(cell.child, newSibling)
		}
	}

	if err := x.insertSeparator(parent, newSibling, median); err != nil {
		return NoPage, err
	}

	c, err := value.Compare(splitValue, median.value)
	if err != nil {
		return NoPage, err
	}
	if c > 0 {
		return newSibling, nil
	}
	return page, nil
}

// insertSeparator inserts a cell for child, carrying median's value and
// postings, into parent at its sorted position, splitting parent first
// (and recursing into its own parent) if it lacks room.
func (x *IndexTree) insertSeparator(parent, child PageID, median indexCell) error {
	size := cellSize(true, median.value, len(median.rowIDs))
	if !x.pf.CanFit(parent, size) {
		newParent, err := x.splitPage(parent, median.value)
		if err != nil {
			return err
		}
		parent = newParent
	}
	pos, exists, err := x.localFind(parent, median.value)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("storage: index: duplicate separator value %v produced by split", median.value)
	}
	n := int(x.pf.ReadHeader(parent).NCells)
	off := x.pf.ShiftCells(parent, pos-1, size, 1)
	x.pf.setCellOffset(parent, pos, off)
	x.pf.WriteBytes(parent, int(off), encodeIndexCell(true, indexCell{child: child, value: median.value, rowIDs: median.rowIDs}))
	x.pf.SetNCells(parent, uint16(n+1))
	x.pf.SetParent(child, parent)
	return nil
}

// ── physical page deletion ─────────────────────────────────────────────

// deletePage removes page from the file per spec §4.F: if it is the
// physical last page, truncate; otherwise relocate the last page's
// contents into page's slot (rewriting every pointer to the relocated
// page's old id) and truncate.
func (x *IndexTree) deletePage(page PageID) error {
	lastID := PageID(x.pf.PageCount() - 1)
	if page == lastID {
		x.pf.Truncate(int(lastID))
		return nil
	}
	buf := x.pf.ReadPage(lastID)
	x.pf.WritePage(page, buf)

	relocatedParent := x.pf.ReadHeader(page).Parent
	if relocatedParent != NoPage {
		if err := x.rewriteChildPointer(relocatedParent, lastID, page); err != nil {
			return err
		}
	}
	if err := x.rewriteChildrenParents(page); err != nil {
		return err
	}
	x.pf.Truncate(int(lastID))
	return nil
}

func (x *IndexTree) rewriteChildPointer(parent, oldID, newID PageID) error {
	h := x.pf.ReadHeader(parent)
	if h.RightLink == oldID {
		x.pf.SetRightLink(parent, newID)
		return nil
	}
	if h.Type != PageIndexInterior {
		return fmt.Errorf("storage: index: relocated page %d not referenced by recorded parent %d", oldID, parent)
	}
	n := int(h.NCells)
	for i := 0; i < n; i++ {
		cell, err := x.readCell(parent, i)
		if err != nil {
			return err
		}
		if cell.child == oldID {
			off := int(x.pf.cellOffset(parent, i))
			x.pf.WriteU32(parent, off, uint32(newID))
			return nil
		}
	}
	return fmt.Errorf("storage: index: relocated page %d not referenced by recorded parent %d", oldID, parent)
}

func (x *IndexTree) rewriteChildrenParents(page PageID) error {
	h := x.pf.ReadHeader(page)
	if h.Type != PageIndexInterior {
		return nil
	}
	if h.RightLink != NoPage {
		x.pf.SetParent(h.RightLink, page)
	}
	n := int(h.NCells)
	for i := 0; i < n; i++ {
		cell, err := x.readCell(page, i)
		if err != nil {
			return err
		}
		if cell.child != NoPage {
			x.pf.SetParent(cell.child, page)
		}
	}
	return nil
}
