package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/intern"
)

func TestAttributeUniqueness(t *testing.T) {
	s, err := New("idx", 0, DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNumericAttribute("price", "$.price"))

	assert.Error(t, s.AddNumericAttribute("price", "$.other"), "duplicate alias")
	assert.Error(t, s.AddTagAttribute("alias2", "$.price", ',', false), "duplicate identifier")
}

func TestSequenceNumbers(t *testing.T) {
	s, err := New("idx", 0, DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNumericAttribute("num", "num"))

	require.NoError(t, s.IndexDocument("a", map[string]string{"num": "1"}))
	seq1 := s.KeySeq(intern.Make("a"))
	require.NotZero(t, seq1)

	require.NoError(t, s.IndexDocument("a", map[string]string{"num": "2"}))
	seq2 := s.KeySeq(intern.Make("a"))
	assert.Greater(t, seq2, seq1, "re-ingestion bumps the mutation counter")

	s.RemoveDocument("a")
	assert.Zero(t, s.KeySeq(intern.Make("a")))
	assert.Equal(t, 0, s.NumDocs())
}

func TestReingestReplacesOldValues(t *testing.T) {
	s, err := New("idx", 0, DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNumericAttribute("num", "num"))
	require.NoError(t, s.IndexDocument("a", map[string]string{"num": "1"}))
	require.NoError(t, s.IndexDocument("a", map[string]string{"num": "100"}))

	a, _ := s.Attribute("num")
	v, ok := a.Numeric.KeyValue(intern.Make("a"))
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
	assert.Equal(t, 1, a.Numeric.Size())
}

func TestPrefixRouting(t *testing.T) {
	s, err := New("idx", 0, DataHash, []string{"doc:", "post:"})
	require.NoError(t, err)
	assert.True(t, s.MatchesKey("doc:1"))
	assert.True(t, s.MatchesKey("post:9"))
	assert.False(t, s.MatchesKey("user:1"))

	open, err := New("idx2", 0, DataHash, nil)
	require.NoError(t, err)
	assert.True(t, open.MatchesKey("anything"))
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	s, err := New("alpha", 0, DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, m.Create(s))
	assert.Error(t, m.Create(s), "duplicate name")

	got, err := m.Get("alpha")
	require.NoError(t, err)
	assert.Same(t, s, got)

	assert.Equal(t, []string{"alpha"}, m.List())
	require.NoError(t, m.Drop("alpha"))
	_, err = m.Get("alpha")
	assert.Error(t, err)
}

func TestDecodeVector(t *testing.T) {
	raw := string([]byte{0, 0, 128, 63, 0, 0, 0, 64}) // 1.0, 2.0 little-endian
	vec, err := DecodeVector(raw, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)

	_, err = DecodeVector(raw, 3)
	assert.Error(t, err)
}

func TestFingerprintChangesWithDefinition(t *testing.T) {
	s1, _ := New("idx", 0, DataHash, nil)
	require.NoError(t, s1.AddNumericAttribute("a", "a"))
	s2, _ := New("idx", 0, DataHash, nil)
	require.NoError(t, s2.AddNumericAttribute("a", "a"))
	assert.Equal(t, s1.Fingerprint(), s2.Fingerprint())

	s3, _ := New("idx", 0, DataHash, nil)
	require.NoError(t, s3.AddTagAttribute("a", "a", ',', false))
	assert.NotEqual(t, s1.Fingerprint(), s3.Fingerprint())
}

func TestVectorIngestion(t *testing.T) {
	s, err := New("idx", 0, DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddVectorAttribute("v", "v", index.NewFlat(index.VectorConfig{Dimensions: 2, Metric: index.MetricL2})))

	raw := string([]byte{0, 0, 128, 63, 0, 0, 0, 64})
	require.NoError(t, s.IndexDocument("a", map[string]string{"v": raw}))
	a, _ := s.Attribute("v")
	vec, ok := a.Vector.KeyVector(intern.Make("a"))
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, vec)

	assert.Error(t, s.IndexDocument("b", map[string]string{"v": "short"}))
}
