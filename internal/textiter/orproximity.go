package textiter

import (
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/postings"
)

// OrProximityIterator merges its children with OR semantics: keys are the
// sorted union, and within a key positions merge across every child
// present at that key. Equal keys group; equal positions merge their field
// masks. No proximity validation happens here.
type OrProximityIterator struct {
	children []Iterator

	curKey   intern.String
	doneKeys bool
	atKey    []int

	curPos    PositionRange
	curFields postings.FieldMask
	donePos   bool
}

// NewOrProximityIterator builds an OR iterator over at least one child.
func NewOrProximityIterator(children []Iterator) *OrProximityIterator {
	it := &OrProximityIterator{children: children}
	it.findMinKey()
	return it
}

func (it *OrProximityIterator) QueryFieldMask() postings.FieldMask {
	var m postings.FieldMask
	for _, c := range it.children {
		m |= c.QueryFieldMask()
	}
	return m
}

func (it *OrProximityIterator) DoneKeys() bool { return it.doneKeys }

func (it *OrProximityIterator) CurrentKey() intern.String { return it.curKey }

func (it *OrProximityIterator) findMinKey() {
	var minKey intern.String
	found := false
	for _, c := range it.children {
		if c.DoneKeys() {
			continue
		}
		if !found || intern.Less(c.CurrentKey(), minKey) {
			minKey, found = c.CurrentKey(), true
		}
	}
	if !found {
		it.doneKeys = true
		it.curKey = intern.String{}
		it.donePos = true
		return
	}
	it.curKey = minKey
	it.atKey = it.atKey[:0]
	for i, c := range it.children {
		if !c.DoneKeys() && c.CurrentKey() == minKey {
			it.atKey = append(it.atKey, i)
		}
	}
	it.seedPositions()
}

func (it *OrProximityIterator) NextKey() bool {
	if it.doneKeys {
		return false
	}
	for _, i := range it.atKey {
		it.children[i].NextKey()
	}
	it.findMinKey()
	return !it.doneKeys
}

func (it *OrProximityIterator) SeekForwardKey(target intern.String) bool {
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
	it.findMinKey()
	return !it.doneKeys && it.curKey == target
}

// seedPositions starts the position merge across the children grouped at
// the current key. Children that skipped position loading contribute
// nothing.
func (it *OrProximityIterator) seedPositions() {
	it.donePos = false
	it.advancePositions(false)
}

func (it *OrProximityIterator) advancePositions(consume bool) bool {
	if consume {
		cur := it.curPos.Start
		for _, i := range it.atKey {
			c := it.children[i]
			if !c.DonePositions() && c.CurrentPosition().Start == cur {
				c.NextPosition()
			}
		}
	}
	var minPos uint32
	found := false
	for _, i := range it.atKey {
		c := it.children[i]
		if c.DonePositions() {
			continue
		}
		p := c.CurrentPosition().Start
		if !found || p < minPos {
			minPos, found = p, true
		}
	}
	if !found {
		it.donePos = true
		return false
	}
	it.curFields = 0
	it.curPos = PositionRange{Start: minPos, End: minPos}
	for _, i := range it.atKey {
		c := it.children[i]
		if !c.DonePositions() && c.CurrentPosition().Start == minPos {
			p := c.CurrentPosition()
			if p.End > it.curPos.End {
				it.curPos.End = p.End
			}
			it.curFields |= c.CurrentFieldMask()
		}
	}
	return true
}

func (it *OrProximityIterator) DonePositions() bool { return it.donePos }

func (it *OrProximityIterator) CurrentPosition() PositionRange { return it.curPos }

func (it *OrProximityIterator) NextPosition() bool {
	if it.donePos {
		return false
	}
	return it.advancePositions(true)
}

func (it *OrProximityIterator) SeekForwardPosition(target uint32) bool {
	for !it.donePos && it.curPos.Start < target {
		it.NextPosition()
	}
	return !it.donePos && it.curPos.Start == target
}

func (it *OrProximityIterator) CurrentFieldMask() postings.FieldMask { return it.curFields }
