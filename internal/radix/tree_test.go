package radix

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setWord(t *Tree[int], word string, v int) {
	t.Mutate(word, func(old *int) *int { return &v }, CountAdd)
}

func delWord(t *Tree[int], word string) {
	t.Mutate(word, func(old *int) *int { return nil }, CountSub)
}

func collect(t *Tree[int], prefix string) []string {
	var words []string
	for it := t.WordIterator(prefix); !it.Done(); it.Next() {
		words = append(words, string(it.Word()))
	}
	return words
}

func TestInsertLookup(t *testing.T) {
	tr := NewTree[int]()
	setWord(tr, "test", 1)
	setWord(tr, "testing", 2)
	setWord(tr, "team", 3)

	require.NotNil(t, tr.Lookup("test"))
	assert.Equal(t, 2, *tr.Lookup("testing"))
	assert.Equal(t, 3, *tr.Lookup("team"))
	assert.Nil(t, tr.Lookup("te"))
	assert.Nil(t, tr.Lookup("tes"))
	assert.Nil(t, tr.Lookup("testingly"))
	assert.Equal(t, int64(3), tr.TotalWordCount())
}

func TestLexicalOrder(t *testing.T) {
	tr := NewTree[int]()
	words := []string{"romane", "romanus", "romulus", "rubens", "ruber", "rubicon", "rubicundus"}
	for i, w := range words {
		setWord(tr, w, i)
	}
	assert.Equal(t, words, collect(tr, ""))
	assert.Equal(t, []string{"rubens", "ruber", "rubicon", "rubicundus"}, collect(tr, "rub"))
	assert.Equal(t, []string{"rubicon", "rubicundus"}, collect(tr, "rubi"))
	assert.Nil(t, collect(tr, "x"))
}

func TestPrefixInsideEdge(t *testing.T) {
	tr := NewTree[int]()
	setWord(tr, "hello", 1)
	setWord(tr, "help", 2)

	// "he" ends inside the shared compressed edge.
	assert.Equal(t, []string{"hello", "help"}, collect(tr, "he"))
	assert.Equal(t, []string{"hello"}, collect(tr, "hell"))
}

func TestDeleteMaintainsStructure(t *testing.T) {
	tr := NewTree[int]()
	setWord(tr, "test", 1)
	setWord(tr, "testing", 2)
	setWord(tr, "team", 3)

	delWord(tr, "test")
	assert.Nil(t, tr.Lookup("test"))
	assert.Equal(t, []string{"team", "testing"}, collect(tr, ""))

	delWord(tr, "testing")
	assert.Equal(t, []string{"team"}, collect(tr, ""))
	assert.Equal(t, int64(1), tr.TotalWordCount())

	delWord(tr, "team")
	assert.Empty(t, collect(tr, ""))
	assert.Equal(t, int64(0), tr.TotalWordCount())
}

func TestSubtreeKeyCount(t *testing.T) {
	tr := NewTree[int]()
	setWord(tr, "alpha", 1)
	setWord(tr, "alps", 2)
	setWord(tr, "beta", 3)

	assert.Equal(t, int64(3), tr.SubtreeKeyCount(""))
	assert.Equal(t, int64(2), tr.SubtreeKeyCount("al"))
	assert.Equal(t, int64(1), tr.SubtreeKeyCount("alp" /* inside edge */ +"h"))
	assert.Equal(t, int64(1), tr.SubtreeKeyCount("beta"))
	assert.Equal(t, int64(0), tr.SubtreeKeyCount("gamma"))

	delWord(tr, "alps")
	assert.Equal(t, int64(1), tr.SubtreeKeyCount("al"))
	assert.Equal(t, int64(2), tr.SubtreeKeyCount(""))
}

func TestSeekForward(t *testing.T) {
	tr := NewTree[int]()
	for _, w := range []string{"apple", "banana", "cherry", "date"} {
		setWord(tr, w, 0)
	}
	it := tr.WordIterator("")
	assert.True(t, it.SeekForward([]byte("banana")))
	assert.Equal(t, "banana", string(it.Word()))

	assert.False(t, it.SeekForward([]byte("canary")), "lands on cherry")
	assert.Equal(t, "cherry", string(it.Word()))

	assert.False(t, it.SeekForward([]byte("zebra")))
	assert.True(t, it.Done())
}

func TestRandomMutations(t *testing.T) {
	// Property: after any mutation sequence, iteration yields the alive
	// words in lexical order and the root subtree count matches
	// inserted-minus-removed.
	rng := rand.New(rand.NewSource(7))
	tr := NewTree[int]()
	alive := map[string]bool{}
	var count int64

	vocab := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		vocab = append(vocab, fmt.Sprintf("w%03d", rng.Intn(500)))
	}

	for i := 0; i < 2000; i++ {
		w := vocab[rng.Intn(len(vocab))]
		if alive[w] {
			delWord(tr, w)
			delete(alive, w)
			count--
		} else {
			setWord(tr, w, i)
			alive[w] = true
			count++
		}
	}

	var want []string
	for w := range alive {
		want = append(want, w)
	}
	sort.Strings(want)

	got := collect(tr, "")
	if want == nil {
		assert.Empty(t, got)
	} else {
		assert.Equal(t, want, got)
	}
	assert.Equal(t, count, tr.SubtreeKeyCount(""))
	assert.Equal(t, count, tr.TotalWordCount())
}

func TestPathIterator(t *testing.T) {
	tr := NewTree[int]()
	setWord(tr, "te", 0)
	setWord(tr, "team", 1)
	setWord(tr, "test", 2)
	setWord(tr, "toast", 3)

	it := tr.PathIterator("")
	require.False(t, it.Done())
	assert.Equal(t, "t", string(it.ChildEdge()))
	assert.True(t, it.CanDescend())

	down := it.DescendNew()
	// At node "t": children are "e" (word "te") and "oast".
	var edges []string
	for ; !down.Done(); down.NextChild() {
		edges = append(edges, string(down.ChildEdge()))
	}
	assert.Equal(t, []string{"e", "oast"}, edges)

	down = it.DescendNew()
	require.True(t, down.SeekForward('e'))
	assert.True(t, down.ChildIsWord(), `"te" is a word`)
	te := down.DescendNew()
	assert.Equal(t, "te", string(te.Path()))
	assert.True(t, te.IsWord())

	var sub []string
	for ; !te.Done(); te.NextChild() {
		sub = append(sub, string(te.ChildEdge()))
	}
	assert.Equal(t, []string{"am", "st"}, sub)
}
