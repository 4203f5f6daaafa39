package search

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kvsearch/internal/cancel"
	"github.com/Aman-CERP/kvsearch/internal/config"
	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/query"
	"github.com/Aman-CERP/kvsearch/internal/schema"
)

func encodeVec(vals ...float32) string {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return string(buf)
}

func numericSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.New("idx", 0, schema.DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNumericAttribute("num", "num"))
	require.NoError(t, s.IndexDocument("a", map[string]string{"num": "5"}))
	require.NoError(t, s.IndexDocument("b", map[string]string{"num": "10"}))
	require.NoError(t, s.IndexDocument("c", map[string]string{"num": "15"}))
	return s
}

func paramsFor(t *testing.T, s *schema.Schema, filter string) *Parameters {
	t.Helper()
	parsed, err := query.ParseFilter(s, filter, query.DefaultParseOptions())
	require.NoError(t, err)
	return &Parameters{
		Schema:               s,
		IndexName:            s.Name,
		QueryString:          filter,
		Parse:                parsed,
		TimeoutMs:            5000,
		EnablePartialResults: true,
		LimitOffset:          0,
		LimitCount:           10,
		Token:                cancel.WithTimeout(5000),
	}
}

func resultKeys(r *Result) []string {
	out := make([]string, len(r.Neighbors))
	for i, n := range r.Neighbors {
		out[i] = n.Key.Str()
	}
	return out
}

func TestNumericRangeQuery(t *testing.T) {
	s := numericSchema(t)
	res, err := Local(paramsFor(t, s, "@num:[6 12]"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, []string{"b"}, resultKeys(res))
}

func TestMatchAllReturnsEveryKeyOnce(t *testing.T) {
	s := numericSchema(t)
	res, err := Local(paramsFor(t, s, "*"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, resultKeys(res))
}

func TestFullRangeCountOnly(t *testing.T) {
	s := numericSchema(t)
	p := paramsFor(t, s, "@num:[-inf +inf]")
	p.LimitCount = 0
	res, err := Local(p)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	rng := ComputeRange(res, p)
	assert.Equal(t, rng.Start, rng.End, "LIMIT 0 0 yields count only")
}

func TestNegationInvolution(t *testing.T) {
	s := numericSchema(t)
	plain, err := Local(paramsFor(t, s, "@num:[6 12]"))
	require.NoError(t, err)
	doubled, err := Local(paramsFor(t, s, "--@num:[6 12]"))
	require.NoError(t, err)
	assert.ElementsMatch(t, resultKeys(plain), resultKeys(doubled))
}

func TestDeMorgan(t *testing.T) {
	s, err := schema.New("idx", 0, schema.DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNumericAttribute("x", "x"))
	require.NoError(t, s.AddNumericAttribute("y", "y"))
	for i := 0; i < 20; i++ {
		require.NoError(t, s.IndexDocument(fmt.Sprintf("k%02d", i), map[string]string{
			"x": fmt.Sprintf("%d", i%5),
			"y": fmt.Sprintf("%d", i%3),
		}))
	}

	pairs := [][2]string{
		{"-(@x:[1 2] | @y:[0 0])", "-@x:[1 2] -@y:[0 0]"},
		{"-(@x:[1 2] @y:[0 0])", "-@x:[1 2] | -@y:[0 0]"},
	}
	for _, pair := range pairs {
		a, err := Local(paramsFor(t, s, pair[0]))
		require.NoError(t, err, pair[0])
		b, err := Local(paramsFor(t, s, pair[1]))
		require.NoError(t, err, pair[1])
		assert.ElementsMatch(t, resultKeys(a), resultKeys(b), "%s vs %s", pair[0], pair[1])
	}
}

func TestDedupWithOrAndTag(t *testing.T) {
	s, err := schema.New("idx", 0, schema.DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddTagAttribute("tag", "tag", ',', false))
	require.NoError(t, s.IndexDocument("k1", map[string]string{"tag": "red,green"}))
	require.NoError(t, s.IndexDocument("k2", map[string]string{"tag": "green"}))

	res, err := Local(paramsFor(t, s, "@tag:{red|green}"))
	require.NoError(t, err)
	keys := resultKeys(res)
	seen := map[string]int{}
	for _, k := range keys {
		seen[k]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %s appears once", k)
	}
}

func TestVectorFlatTopK(t *testing.T) {
	s, err := schema.New("idx", 0, schema.DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddVectorAttribute("v", "v", index.NewFlat(index.VectorConfig{Dimensions: 2, Metric: index.MetricL2})))
	for i := 0; i < 100; i++ {
		require.NoError(t, s.IndexDocument(fmt.Sprintf("k%03d", i), map[string]string{
			"v": encodeVec(float32(i), 0),
		}))
	}

	p := paramsFor(t, s, "*")
	p.VectorAlias = "v"
	p.VectorQuery = []float32{0, 0}
	p.K = 10
	p.LimitCount = 10

	res, err := Local(p)
	require.NoError(t, err)
	require.Len(t, res.Neighbors, 10)
	for i := 1; i < len(res.Neighbors); i++ {
		assert.LessOrEqual(t, res.Neighbors[i-1].Distance, res.Neighbors[i].Distance)
	}
	assert.Equal(t, "k000", res.Neighbors[0].Key.Str())
}

func TestVectorPrefilterPath(t *testing.T) {
	s, err := schema.New("idx", 0, schema.DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNumericAttribute("num", "num"))
	require.NoError(t, s.AddVectorAttribute("v", "v", index.NewFlat(index.VectorConfig{Dimensions: 1, Metric: index.MetricL2})))
	for i := 0; i < 50; i++ {
		require.NoError(t, s.IndexDocument(fmt.Sprintf("k%02d", i), map[string]string{
			"num": fmt.Sprintf("%d", i),
			"v":   encodeVec(float32(i)),
		}))
	}

	// Filter to num in [40, 49]; nearest to 0 within the filtered set is
	// k40.
	p := paramsFor(t, s, "@num:[40 49]")
	p.VectorAlias = "v"
	p.VectorQuery = []float32{0}
	p.K = 3

	res, err := Local(p)
	require.NoError(t, err)
	require.Len(t, res.Neighbors, 3)
	assert.Equal(t, "k40", res.Neighbors[0].Key.Str())
	assert.Equal(t, "k41", res.Neighbors[1].Key.Str())
	assert.Equal(t, "k42", res.Neighbors[2].Key.Str())
}

func TestVectorInlinePathViaHNSW(t *testing.T) {
	s, err := schema.New("idx", 0, schema.DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNumericAttribute("num", "num"))
	require.NoError(t, s.AddVectorAttribute("v", "v", index.NewHNSW(index.VectorConfig{Dimensions: 1, Metric: index.MetricL2})))
	for i := 0; i < 40; i++ {
		require.NoError(t, s.IndexDocument(fmt.Sprintf("k%02d", i), map[string]string{
			"num": fmt.Sprintf("%d", i),
			"v":   encodeVec(float32(i)),
		}))
	}

	// A very wide filter forces the inline path (candidates > ratio * N).
	p := paramsFor(t, s, "@num:[0 +inf]")
	p.VectorAlias = "v"
	p.VectorQuery = []float32{0}
	p.K = 5
	p.Ef = 40

	res, err := Local(p)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Neighbors)
	for i := 1; i < len(res.Neighbors); i++ {
		assert.LessOrEqual(t, res.Neighbors[i-1].Distance, res.Neighbors[i].Distance)
	}
}

func TestCancellationPartialVsError(t *testing.T) {
	s := numericSchema(t)

	p := paramsFor(t, s, "@num:[-inf +inf]")
	p.Token = cancel.Manual()
	p.Token.Cancel()
	p.EnablePartialResults = true
	res, err := Local(p)
	require.NoError(t, err)
	assert.True(t, res.Partial)

	p = paramsFor(t, s, "@num:[-inf +inf]")
	p.Token = cancel.Manual()
	p.Token.Cancel()
	p.EnablePartialResults = false
	_, err = Local(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEOUT")
}

func TestTrimResultsStandaloneOffset(t *testing.T) {
	require.NoError(t, config.ResultBufferMultiplier.Set(1.5))
	s, err := schema.New("idx", 0, schema.DataHash, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNumericAttribute("num", "num"))
	for i := 0; i < 100; i++ {
		require.NoError(t, s.IndexDocument(fmt.Sprintf("k%03d", i), map[string]string{"num": fmt.Sprintf("%d", i)}))
	}

	p := paramsFor(t, s, "@num:[-inf +inf]")
	p.LimitOffset = 10
	p.LimitCount = 10
	res, err := Local(p)
	require.NoError(t, err)

	assert.Equal(t, 100, res.TotalCount)
	assert.True(t, res.IsOffsetted, "standalone mode trims the front")
	assert.True(t, res.IsLimitedWithBuffer)
	// The offset is dropped first, then the tail is cut to
	// end_index(20) * multiplier(1.5) = 30.
	assert.LessOrEqual(t, len(res.Neighbors), 30)

	rng := ComputeRange(res, p)
	assert.Equal(t, 0, rng.Start, "offset already applied")
	assert.Equal(t, 10, rng.End-rng.Start)
}

func TestLimitTrimmingSemantics(t *testing.T) {
	// Property 9: min(c, total-o) entries starting at rank o.
	s := numericSchema(t)
	p := paramsFor(t, s, "@num:[-inf +inf]")
	p.RequireComplete = true
	res, err := Local(p)
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalCount)

	p.LimitOffset, p.LimitCount = 1, 10
	rng := ComputeRange(res, p)
	assert.Equal(t, 2, rng.End-rng.Start)

	p.LimitOffset, p.LimitCount = 5, 10
	rng = ComputeRange(res, p)
	assert.Equal(t, 0, rng.End-rng.Start, "offset beyond total is empty")

	p.LimitOffset, p.LimitCount = 0, 0
	rng = ComputeRange(res, p)
	assert.Equal(t, 0, rng.End-rng.Start)
}
