// Package textiter implements the two-level (key, position) cursors over
// positional postings: per-term iteration with stem fan-in, proximity
// (AND) with slop and order validation, and OR-proximity merging. Keys are
// yielded in sorted order; positions ascend within a key.
package textiter

import (
	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/postings"
)

// PositionRange is the positional span of a match inside a key. A single
// term occupies [P, P]; a proximity match spans its children.
type PositionRange struct {
	Start, End uint32
}

// Iterator is the common cursor over text matches.
type Iterator interface {
	// QueryFieldMask is the field restriction this iterator was built with.
	QueryFieldMask() postings.FieldMask

	// Key-level cursor; keys ascend in byte order.
	DoneKeys() bool
	CurrentKey() intern.String
	NextKey() bool
	// SeekForwardKey positions at the first key >= target, returning true
	// iff the landing key equals target.
	SeekForwardKey(target intern.String) bool

	// Position-level cursor within the current key; positions ascend.
	DonePositions() bool
	CurrentPosition() PositionRange
	NextPosition() bool
	// SeekForwardPosition positions at the first position with start >=
	// target, returning true iff it lands exactly on target.
	SeekForwardPosition(target uint32) bool

	// CurrentFieldMask is the union of fields contributing the current
	// position.
	CurrentFieldMask() postings.FieldMask
}
