package textiter

import (
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/postings"
)

// ProximityIterator intersects its children at the key level and, when
// slop or in-order matching is requested (or the parent needs positions),
// validates positional windows: all children must occur within
// slop + (n-1) positions of each other, in left-to-right order when
// inorder is set.
type ProximityIterator struct {
	children []Iterator
	// slop < 0 means unset (no window bound).
	slop    int
	inorder bool
	// needPositions is propagated down at plan time; when false and no
	// slop/inorder constraint applies, key intersection suffices and
	// position lists are never touched.
	needPositions bool

	curKey   intern.String
	doneKeys bool

	curPos    PositionRange
	curFields postings.FieldMask
	donePos   bool
}

// NewProximityIterator builds an AND iterator. slop < 0 leaves the window
// unbounded; needPositions forces position iteration even without
// constraints (a parent proximity wants spans).
func NewProximityIterator(children []Iterator, slop int, inorder, needPositions bool) *ProximityIterator {
	it := &ProximityIterator{
		children:      children,
		slop:          slop,
		inorder:       inorder,
		needPositions: needPositions,
	}
	it.findCommonKey(false)
	return it
}

func (it *ProximityIterator) positional() bool {
	return it.slop >= 0 || it.inorder || it.needPositions
}

func (it *ProximityIterator) QueryFieldMask() postings.FieldMask {
	var m postings.FieldMask
	for _, c := range it.children {
		m |= c.QueryFieldMask()
	}
	return m
}

func (it *ProximityIterator) DoneKeys() bool { return it.doneKeys }

func (it *ProximityIterator) CurrentKey() intern.String { return it.curKey }

// findCommonKey leapfrogs the children to their next common key. When
// advance is true the current key is stepped past first. Keys whose
// positional validation fails are skipped entirely.
func (it *ProximityIterator) findCommonKey(advance bool) {
	if len(it.children) == 0 {
		it.doneKeys = true
		return
	}
	if advance {
		for _, c := range it.children {
			if !c.DoneKeys() && c.CurrentKey() == it.curKey {
				c.NextKey()
			}
		}
	}
	for {
		// Find the max of the children's current keys, then pull everyone
		// up to it; repeat until all agree.
		var maxKey intern.String
		for _, c := range it.children {
			if c.DoneKeys() {
				it.doneKeys = true
				it.curKey = intern.String{}
				return
			}
			if intern.Less(maxKey, c.CurrentKey()) || maxKey.IsZero() {
				maxKey = c.CurrentKey()
			}
		}
		aligned := true
		for _, c := range it.children {
			if c.CurrentKey() != maxKey {
				if !c.SeekForwardKey(maxKey) {
					aligned = false
				}
			}
		}
		if !aligned {
			continue
		}
		it.curKey = maxKey
		if !it.positional() {
			it.donePos = true
			return
		}
		if it.seedPositions() {
			return
		}
		// Common key without a valid window; not a match.
		for _, c := range it.children {
			if !c.DoneKeys() && c.CurrentKey() == it.curKey {
				c.NextKey()
			}
		}
	}
}

func (it *ProximityIterator) NextKey() bool {
	if it.doneKeys {
		return false
	}
	it.findCommonKey(true)
	return !it.doneKeys
}

func (it *ProximityIterator) SeekForwardKey(target intern.String) bool {
	if it.doneKeys {
		return false
	}
	if intern.Compare(it.curKey, target) >= 0 {
		return it.curKey == target
	}
	for _, c := range it.children {
		if !c.DoneKeys() && intern.Less(c.CurrentKey(), target) {
			c.SeekForwardKey(target)
		}
	}
	it.findCommonKey(false)
	return !it.doneKeys && it.curKey == target
}

// windowValid checks the current child positions against the slop and
// order constraints.
func (it *ProximityIterator) windowValid() bool {
	lo := it.children[0].CurrentPosition().Start
	hi := it.children[0].CurrentPosition().End
	prevEnd := hi
	for i, c := range it.children {
		p := c.CurrentPosition()
		if p.Start < lo {
			lo = p.Start
		}
		if p.End > hi {
			hi = p.End
		}
		if i > 0 {
			if it.inorder && p.Start <= prevEnd {
				return false
			}
			prevEnd = p.End
		} else {
			prevEnd = p.End
		}
	}
	if it.slop >= 0 && int(hi-lo) > it.slop+len(it.children)-1 {
		return false
	}
	return true
}

// seedPositions starts position iteration for the current key and finds
// the first valid window. Returns false when the key has none.
func (it *ProximityIterator) seedPositions() bool {
	for _, c := range it.children {
		if c.DonePositions() {
			return false
		}
	}
	it.donePos = false
	return it.nextValidWindow(false)
}

// nextValidWindow slides the candidate window forward: every stop advances
// the child holding the minimal position, and each configuration is tested
// against the constraints.
func (it *ProximityIterator) nextValidWindow(advance bool) bool {
	for {
		if advance {
			// Advance the child with the minimal start.
			minIdx := 0
			for i := 1; i < len(it.children); i++ {
				if it.children[i].CurrentPosition().Start < it.children[minIdx].CurrentPosition().Start {
					minIdx = i
				}
			}
			if !it.children[minIdx].NextPosition() {
				it.donePos = true
				return false
			}
		}
		advance = true
		if it.windowValid() {
			lo := it.children[0].CurrentPosition().Start
			hi := it.children[0].CurrentPosition().End
			var fields postings.FieldMask = ^postings.FieldMask(0)
			for _, c := range it.children {
				p := c.CurrentPosition()
				if p.Start < lo {
					lo = p.Start
				}
				if p.End > hi {
					hi = p.End
				}
				fields &= c.CurrentFieldMask()
			}
			if fields == 0 {
				// Children matched in disjoint fields; keep sliding.
				continue
			}
			it.curPos = PositionRange{Start: lo, End: hi}
			it.curFields = fields
			return true
		}
	}
}

func (it *ProximityIterator) DonePositions() bool { return it.donePos }

func (it *ProximityIterator) CurrentPosition() PositionRange { return it.curPos }

func (it *ProximityIterator) NextPosition() bool {
	if it.donePos {
		return false
	}
	return it.nextValidWindow(true)
}

func (it *ProximityIterator) SeekForwardPosition(target uint32) bool {
	for !it.donePos && it.curPos.Start < target {
		it.NextPosition()
	}
	return !it.donePos && it.curPos.Start == target
}

func (it *ProximityIterator) CurrentFieldMask() postings.FieldMask { return it.curFields }
