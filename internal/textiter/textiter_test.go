package textiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kvsearch/internal/intern"
	"github.com/Aman-CERP/kvsearch/internal/postings"
)

const fieldA postings.FieldMask = 1 << 0
const fieldB postings.FieldMask = 1 << 1

// buildList creates a posting list from key -> positions in fieldA.
func buildList(t *testing.T, docs map[string][]uint32) *postings.List {
	t.Helper()
	l := postings.NewList()
	for key, poss := range docs {
		for _, p := range poss {
			l.Add(intern.Make(key), fieldA, p)
		}
	}
	return l
}

func keysOf(it Iterator) []string {
	var keys []string
	for !it.DoneKeys() {
		keys = append(keys, it.CurrentKey().Str())
		it.NextKey()
	}
	return keys
}

func TestTermIteratorKeyOrder(t *testing.T) {
	l := buildList(t, map[string][]uint32{
		"doc:3": {1}, "doc:1": {2}, "doc:2": {3},
	})
	it := NewTermIterator([]*postings.List{l}, postings.AllFields)
	assert.Equal(t, []string{"doc:1", "doc:2", "doc:3"}, keysOf(it))
}

func TestTermIteratorStemFanIn(t *testing.T) {
	// Two variant lists (word + stem sibling) merge into one ordered
	// stream; shared keys group and merge their positions.
	run := buildList(t, map[string][]uint32{"a": {5}, "c": {1}})
	running := buildList(t, map[string][]uint32{"b": {2}, "c": {4}})

	it := NewTermIterator([]*postings.List{run, running}, postings.AllFields)
	require.False(t, it.DoneKeys())
	assert.Equal(t, "a", it.CurrentKey().Str())
	it.NextKey()
	assert.Equal(t, "b", it.CurrentKey().Str())
	it.NextKey()
	assert.Equal(t, "c", it.CurrentKey().Str())

	// Positions for "c" merge from both lists in order.
	var poss []uint32
	for !it.DonePositions() {
		poss = append(poss, it.CurrentPosition().Start)
		it.NextPosition()
	}
	assert.Equal(t, []uint32{1, 4}, poss)
}

func TestTermIteratorFieldMaskSkipsKeys(t *testing.T) {
	l := postings.NewList()
	l.Add(intern.Make("k1"), fieldA, 1)
	l.Add(intern.Make("k2"), fieldB, 1)
	l.Add(intern.Make("k3"), fieldA|fieldB, 2)

	it := NewTermIterator([]*postings.List{l}, fieldB)
	assert.Equal(t, []string{"k2", "k3"}, keysOf(it))
}

func TestTermIteratorSeek(t *testing.T) {
	l := buildList(t, map[string][]uint32{"a": {1}, "c": {1}, "e": {1}})
	it := NewTermIterator([]*postings.List{l}, postings.AllFields)

	assert.True(t, it.SeekForwardKey(intern.Make("c")))
	assert.Equal(t, "c", it.CurrentKey().Str())
	assert.False(t, it.SeekForwardKey(intern.Make("d")), "lands on e")
	assert.Equal(t, "e", it.CurrentKey().Str())
	assert.False(t, it.SeekForwardKey(intern.Make("z")))
	assert.True(t, it.DoneKeys())
}

func proximityOf(t *testing.T, docs map[string][][]uint32, slop int, inorder bool) *ProximityIterator {
	t.Helper()
	// docs: key -> per-child position list
	nChildren := 0
	for _, lists := range docs {
		nChildren = len(lists)
		break
	}
	children := make([]Iterator, 0, nChildren)
	for i := 0; i < nChildren; i++ {
		l := postings.NewList()
		for key, lists := range docs {
			require.Len(t, lists, nChildren)
			for _, p := range lists[i] {
				l.Add(intern.Make(key), fieldA, p)
			}
		}
		children = append(children, NewTermIterator([]*postings.List{l}, postings.AllFields))
	}
	return NewProximityIterator(children, slop, inorder, false)
}

func TestProximityKeyIntersection(t *testing.T) {
	// No slop, no order: plain AND of keys; positions skipped.
	a := buildList(t, map[string][]uint32{"k1": {1}, "k2": {5}, "k4": {9}})
	b := buildList(t, map[string][]uint32{"k2": {7}, "k3": {2}, "k4": {1}})
	it := NewProximityIterator([]Iterator{
		NewTermIterator([]*postings.List{a}, postings.AllFields),
		NewTermIterator([]*postings.List{b}, postings.AllFields),
	}, -1, false, false)
	assert.Equal(t, []string{"k2", "k4"}, keysOf(it))
}

func TestPhraseAdjacentInOrder(t *testing.T) {
	// "hello world": slop 0, inorder. Positions hello=2, world=3 match;
	// reversed or gapped do not.
	it := proximityOf(t, map[string][][]uint32{
		"match":    {{2}, {3}},
		"reversed": {{3}, {2}},
		"gapped":   {{2}, {5}},
	}, 0, true)
	assert.Equal(t, []string{"match"}, keysOf(it))
}

func TestSlopWindow(t *testing.T) {
	// SLOP 2 on two terms allows pos delta up to 3.
	it := proximityOf(t, map[string][][]uint32{
		"near": {{10}, {13}},
		"far":  {{10}, {14}},
	}, 2, true)
	assert.Equal(t, []string{"near"}, keysOf(it))
}

func TestSlopWithoutOrder(t *testing.T) {
	it := proximityOf(t, map[string][][]uint32{
		"rev": {{13}, {10}},
	}, 2, false)
	assert.Equal(t, []string{"rev"}, keysOf(it))

	it = proximityOf(t, map[string][][]uint32{
		"rev": {{13}, {10}},
	}, 2, true)
	assert.Empty(t, keysOf(it), "order violation rejected")
}

func TestThreeTermPhrase(t *testing.T) {
	it := proximityOf(t, map[string][][]uint32{
		"exact":   {{1}, {2}, {3}},
		"shuffle": {{1}, {3}, {2}},
	}, 0, true)
	assert.Equal(t, []string{"exact"}, keysOf(it))
}

func TestOrProximityUnion(t *testing.T) {
	a := buildList(t, map[string][]uint32{"k1": {1}, "k3": {2}})
	b := buildList(t, map[string][]uint32{"k2": {4}, "k3": {7}})
	it := NewOrProximityIterator([]Iterator{
		NewTermIterator([]*postings.List{a}, postings.AllFields),
		NewTermIterator([]*postings.List{b}, postings.AllFields),
	})
	require.False(t, it.DoneKeys())
	assert.Equal(t, "k1", it.CurrentKey().Str())
	it.NextKey()
	assert.Equal(t, "k2", it.CurrentKey().Str())
	it.NextKey()
	assert.Equal(t, "k3", it.CurrentKey().Str())

	// Positions at k3 merge across both children.
	var poss []uint32
	for !it.DonePositions() {
		poss = append(poss, it.CurrentPosition().Start)
		it.NextPosition()
	}
	assert.Equal(t, []uint32{2, 7}, poss)

	it.NextKey()
	assert.True(t, it.DoneKeys())
}

func TestOrProximitySeek(t *testing.T) {
	a := buildList(t, map[string][]uint32{"a": {1}, "d": {1}})
	b := buildList(t, map[string][]uint32{"b": {1}, "e": {1}})
	it := NewOrProximityIterator([]Iterator{
		NewTermIterator([]*postings.List{a}, postings.AllFields),
		NewTermIterator([]*postings.List{b}, postings.AllFields),
	})
	assert.False(t, it.SeekForwardKey(intern.Make("c")))
	assert.Equal(t, "d", it.CurrentKey().Str())
}

func TestNestedProximity(t *testing.T) {
	// ("big cat") OR "dog", then intersected with "barn" by key only.
	big := buildList(t, map[string][]uint32{"k1": {1}, "k2": {1}})
	cat := buildList(t, map[string][]uint32{"k1": {2}, "k2": {5}})
	dog := buildList(t, map[string][]uint32{"k3": {9}})
	barn := buildList(t, map[string][]uint32{"k1": {7}, "k3": {4}, "k9": {1}})

	phrase := NewProximityIterator([]Iterator{
		NewTermIterator([]*postings.List{big}, postings.AllFields),
		NewTermIterator([]*postings.List{cat}, postings.AllFields),
	}, 0, true, false)
	or := NewOrProximityIterator([]Iterator{phrase, NewTermIterator([]*postings.List{dog}, postings.AllFields)})
	and := NewProximityIterator([]Iterator{or, NewTermIterator([]*postings.List{barn}, postings.AllFields)}, -1, false, false)

	assert.Equal(t, []string{"k1", "k3"}, keysOf(and))
}
