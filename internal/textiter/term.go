package textiter

import (
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/postings"
)

// TermIterator iterates one word's postings, or several postings merged by
// ordered fan-in when the word expands to stem variants (or to prefix /
// suffix / fuzzy expansions). Entries whose field mask misses the query's
// field restriction are skipped at the key level.
type TermIterator struct {
	iters []postings.Iterator
	mask  postings.FieldMask

	curKey   intern.String
	doneKeys bool
	// atKey holds the indices of iters positioned at curKey with a
	// matching field mask.
	atKey []int

	// Position merge state: posIdx[i] indexes into iters[atKey[i]]'s
	// position list.
	posIdx    []int
	curPos    PositionRange
	curFields postings.FieldMask
	donePos   bool
}

// NewTermIterator builds a term iterator over the given posting lists,
// restricted to mask. Lists must be non-nil.
func NewTermIterator(lists []*postings.List, mask postings.FieldMask) *TermIterator {
	it := &TermIterator{mask: mask}
	for _, l := range lists {
		it.iters = append(it.iters, l.Iterator())
	}
	it.findMinKey()
	return it
}

func (it *TermIterator) QueryFieldMask() postings.FieldMask { return it.mask }

func (it *TermIterator) DoneKeys() bool { return it.doneKeys }

func (it *TermIterator) CurrentKey() intern.String { return it.curKey }

// findMinKey locates the smallest key among the child cursors that has at
// least one position in the query's fields, skipping over entries that
// only occur in other fields.
func (it *TermIterator) findMinKey() {
	for {
		var minKey intern.String
		found := false
		for i := range it.iters {
			if it.iters[i].Done() {
				continue
			}
			k := it.iters[i].Key()
			if !found || intern.Less(k, minKey) {
				minKey, found = k, true
			}
		}
		if !found {
			it.doneKeys = true
			it.curKey = intern.String{}
			return
		}
		it.atKey = it.atKey[:0]
		masked := false
		for i := range it.iters {
			if !it.iters[i].Done() && it.iters[i].Key() == minKey {
				if it.iters[i].Entry().Fields&it.mask != 0 {
					it.atKey = append(it.atKey, i)
					masked = true
				}
			}
		}
		if !masked {
			// Key exists only in excluded fields; step past it.
			for i := range it.iters {
				if !it.iters[i].Done() && it.iters[i].Key() == minKey {
					it.iters[i].Next()
				}
			}
			continue
		}
		it.curKey = minKey
		it.seedPositions()
		return
	}
}

func (it *TermIterator) NextKey() bool {
	if it.doneKeys {
		return false
	}
	for _, i := range it.atKey {
		it.iters[i].Next()
	}
	// Members skipped for field mask still sit at curKey; move them too.
	for i := range it.iters {
		if !it.iters[i].Done() && it.iters[i].Key() == it.curKey {
			it.iters[i].Next()
		}
	}
	it.findMinKey()
	return !it.doneKeys
}

func (it *TermIterator) SeekForwardKey(target intern.String) bool {
	if it.doneKeys {
		return false
	}
	if intern.Compare(it.curKey, target) >= 0 {
		return it.curKey == target
	}
	for i := range it.iters {
		if !it.iters[i].Done() && intern.Less(it.iters[i].Key(), target) {
			it.iters[i].SeekKey(target)
		}
	}
	it.findMinKey()
	return !it.doneKeys && it.curKey == target
}

// seedPositions resets the position merge for the new current key.
func (it *TermIterator) seedPositions() {
	it.posIdx = it.posIdx[:0]
	for range it.atKey {
		it.posIdx = append(it.posIdx, 0)
	}
	it.donePos = false
	it.advancePositions(false)
}

// advancePositions computes the next merged position. When consume is
// true, members sitting at the current minimum are first stepped past it.
func (it *TermIterator) advancePositions(consume bool) bool {
	for {
		var minPos uint32
		found := false
		for slot, i := range it.atKey {
			e := it.iters[i].Entry()
			for it.posIdx[slot] < len(e.Positions) && e.Positions[it.posIdx[slot]].Fields&it.mask == 0 {
				it.posIdx[slot]++
			}
			if it.posIdx[slot] >= len(e.Positions) {
				continue
			}
			p := e.Positions[it.posIdx[slot]].Pos
			if consume && p == it.curPos.Start {
				it.posIdx[slot]++
				for it.posIdx[slot] < len(e.Positions) && e.Positions[it.posIdx[slot]].Fields&it.mask == 0 {
					it.posIdx[slot]++
				}
				if it.posIdx[slot] >= len(e.Positions) {
					continue
				}
				p = e.Positions[it.posIdx[slot]].Pos
			}
			if !found || p < minPos {
				minPos, found = p, true
			}
		}
		if !found {
			it.donePos = true
			return false
		}
		it.curPos = PositionRange{Start: minPos, End: minPos}
		it.curFields = 0
		for slot, i := range it.atKey {
			e := it.iters[i].Entry()
			if it.posIdx[slot] < len(e.Positions) && e.Positions[it.posIdx[slot]].Pos == minPos {
				it.curFields |= e.Positions[it.posIdx[slot]].Fields & it.mask
			}
		}
		return true
	}
}

func (it *TermIterator) DonePositions() bool { return it.donePos }

func (it *TermIterator) CurrentPosition() PositionRange { return it.curPos }

func (it *TermIterator) NextPosition() bool {
	if it.donePos {
		return false
	}
	return it.advancePositions(true)
}

func (it *TermIterator) SeekForwardPosition(target uint32) bool {
	for !it.donePos && it.curPos.Start < target {
		it.NextPosition()
	}
	return !it.donePos && it.curPos.Start == target
}

func (it *TermIterator) CurrentFieldMask() postings.FieldMask { return it.curFields }
