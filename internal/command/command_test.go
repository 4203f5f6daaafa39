package command

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kvsearch/internal/keyspace"
	"github.com/Aman-CERP/kvsearch/internal/schema"
)

func testDispatcher(t *testing.T) (*Dispatcher, *keyspace.Memory) {
	t.Helper()
	schemas := schema.NewManager()
	store := keyspace.NewMemory(schemas)
	return NewDispatcher(schemas, store), store
}

func run(t *testing.T, d *Dispatcher, args ...string) Reply {
	t.Helper()
	reply, err := d.Dispatch(context.Background(), args)
	require.NoError(t, err, "command %v", args)
	return reply
}

func encodeVec(vals ...float32) string {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return string(buf)
}

func TestCreateListDrop(t *testing.T) {
	d, _ := testDispatcher(t)
	assert.Equal(t, "OK", run(t, d, "FT.CREATE", "idx", "ON", "HASH", "PREFIX", "1", "doc:",
		"SCHEMA", "num", "NUMERIC"))

	list := run(t, d, "FT._LIST").([]Reply)
	assert.Equal(t, []Reply{"idx"}, list)

	assert.Equal(t, "OK", run(t, d, "FT.DROPINDEX", "idx"))
	assert.Empty(t, run(t, d, "FT._LIST"))

	_, err := d.Dispatch(context.Background(), []string{"FT.DROPINDEX", "idx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT-FOUND")
}

func TestScenarioNumericRange(t *testing.T) {
	// S1: @num:[6 12] NOCONTENT over {a:5, b:10, c:15} -> [1, "b"].
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC")
	require.NoError(t, store.HSet(0, "a", map[string]string{"num": "5"}))
	require.NoError(t, store.HSet(0, "b", map[string]string{"num": "10"}))
	require.NoError(t, store.HSet(0, "c", map[string]string{"num": "15"}))

	reply := run(t, d, "FT.SEARCH", "idx", "@num:[6 12]", "NOCONTENT").([]Reply)
	assert.Equal(t, []Reply{int64(1), "b"}, reply)
}

func TestScenarioTagPipeEscape(t *testing.T) {
	// S2: key with tag value "a|b" matches the escaped query but not the
	// OR form.
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "tag", "TAG", "SEPARATOR", ",")
	require.NoError(t, store.HSet(0, "k1", map[string]string{"tag": "a|b"}))

	reply := run(t, d, "FT.SEARCH", "idx", `@tag:{a\|b}`, "NOCONTENT").([]Reply)
	assert.Equal(t, []Reply{int64(1), "k1"}, reply)

	reply = run(t, d, "FT.SEARCH", "idx", "@tag:{a|b}", "NOCONTENT").([]Reply)
	assert.Equal(t, []Reply{int64(0)}, reply, "OR of a,b matches neither")
}

func TestScenarioCountOnly(t *testing.T) {
	// S3: LIMIT 0 0 returns the count alone.
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC")
	for i := 0; i < 7; i++ {
		require.NoError(t, store.HSet(0, fmt.Sprintf("k%d", i), map[string]string{"num": fmt.Sprintf("%d", i)}))
	}
	reply := run(t, d, "FT.SEARCH", "idx", "@num:[-inf +inf]", "LIMIT", "0", "0").([]Reply)
	assert.Equal(t, []Reply{int64(7)}, reply)
}

func TestScenarioKnn(t *testing.T) {
	// S4 shape: FLAT vector search returns exactly k neighbors with
	// non-decreasing score.
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "v", "VECTOR", "FLAT", "6",
		"DIM", "2", "DISTANCE_METRIC", "L2", "TYPE", "FLOAT32")
	for i := 0; i < 50; i++ {
		require.NoError(t, store.HSet(0, fmt.Sprintf("k%02d", i), map[string]string{
			"v": encodeVec(float32(i), 0),
		}))
	}

	reply := run(t, d, "FT.SEARCH", "idx", "*=>[KNN 10 @v $q AS score]",
		"PARAMS", "2", "q", encodeVec(0, 0), "DIALECT", "2").([]Reply)
	require.Equal(t, int64(10), reply[0])
	// Layout: total, key, fields, key, fields...
	var prev float64 = -1
	count := 0
	for i := 1; i < len(reply); i += 2 {
		fields := reply[i+1].([]Reply)
		require.Equal(t, "score", fields[0])
		score, err := parseFloat(fields[1].(string))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, prev)
		prev = score
		count++
	}
	assert.Equal(t, 10, count)
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	return f, err
}

func TestScenarioPhraseAndSlop(t *testing.T) {
	// S7: phrase requires adjacency in order; SLOP 2 relaxes the window.
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "body", "TEXT")
	require.NoError(t, store.HSet(0, "d1", map[string]string{"body": "hello world"}))
	require.NoError(t, store.HSet(0, "d2", map[string]string{"body": "world hello"}))
	require.NoError(t, store.HSet(0, "d3", map[string]string{"body": "hello big wide world"}))

	reply := run(t, d, "FT.SEARCH", "idx", `"hello world"`, "NOCONTENT").([]Reply)
	assert.Equal(t, []Reply{int64(1), "d1"}, reply)

	reply = run(t, d, "FT.SEARCH", "idx", `"hello world"`, "SLOP", "2", "NOCONTENT").([]Reply)
	require.Equal(t, int64(2), reply[0])
	assert.ElementsMatch(t, []Reply{"d1", "d3"}, reply[1:])
}

func TestReturnProjection(t *testing.T) {
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC", "name", "TAG")
	require.NoError(t, store.HSet(0, "k1", map[string]string{"num": "5", "name": "widget", "other": "x"}))

	reply := run(t, d, "FT.SEARCH", "idx", "@num:[0 10]", "RETURN", "1", "num").([]Reply)
	require.Equal(t, int64(1), reply[0])
	assert.Equal(t, "k1", reply[1])
	fields := reply[2].([]Reply)
	assert.Equal(t, []Reply{"num", "5"}, fields)

	// RETURN 0 behaves like NOCONTENT.
	reply = run(t, d, "FT.SEARCH", "idx", "@num:[0 10]", "RETURN", "0").([]Reply)
	assert.Equal(t, []Reply{int64(1), "k1"}, reply)
}

func TestSortByWithSortKeys(t *testing.T) {
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC")
	require.NoError(t, store.HSet(0, "a", map[string]string{"num": "3"}))
	require.NoError(t, store.HSet(0, "b", map[string]string{"num": "1"}))
	require.NoError(t, store.HSet(0, "c", map[string]string{"num": "2"}))

	reply := run(t, d, "FT.SEARCH", "idx", "@num:[-inf +inf]",
		"SORTBY", "num", "ASC", "WITHSORTKEYS", "NOCONTENT").([]Reply)
	assert.Equal(t, []Reply{int64(3), "b", "#1", "c", "#2", "a", "#3"}, reply)
}

func TestAggregateGroupBySortByMax(t *testing.T) {
	// S6: top-3 groups by count, descending.
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "x", "TAG", "num", "NUMERIC")
	key := 0
	for g := 0; g < 10; g++ {
		for i := 0; i <= g; i++ {
			require.NoError(t, store.HSet(0, fmt.Sprintf("k%03d", key), map[string]string{
				"x":   fmt.Sprintf("g%d", g),
				"num": fmt.Sprintf("%d", key),
			}))
			key++
		}
	}

	reply := run(t, d, "FT.AGGREGATE", "idx", "*",
		"LOAD", "1", "@x",
		"GROUPBY", "1", "@x", "REDUCE", "COUNT", "0", "AS", "n",
		"SORTBY", "2", "@n", "DESC", "MAX", "3").([]Reply)
	require.Equal(t, int64(3), reply[0])

	counts := make([]string, 0, 3)
	for _, row := range reply[1:] {
		fields := row.([]Reply)
		m := map[string]string{}
		for i := 0; i+1 < len(fields); i += 2 {
			m[fields[i].(string)] = fields[i+1].(string)
		}
		counts = append(counts, m["n"])
	}
	assert.Equal(t, []string{"10", "9", "8"}, counts)
}

func TestAggregateApplyFilter(t *testing.T) {
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC")
	for i := 0; i < 10; i++ {
		require.NoError(t, store.HSet(0, fmt.Sprintf("k%d", i), map[string]string{"num": fmt.Sprintf("%d", i)}))
	}
	reply := run(t, d, "FT.AGGREGATE", "idx", "*",
		"LOAD", "1", "@num",
		"APPLY", "@num * 2", "AS", "doubled",
		"FILTER", "@doubled >= 10").([]Reply)
	assert.Equal(t, int64(5), reply[0])
}

func TestFtInfo(t *testing.T) {
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "PREFIX", "1", "doc:", "SCHEMA", "num", "NUMERIC", "body", "TEXT")
	require.NoError(t, store.HSet(0, "doc:1", map[string]string{"num": "1", "body": "hello"}))

	reply := run(t, d, "FT.INFO", "idx").([]Reply)
	kv := map[string]Reply{}
	for i := 0; i+1 < len(reply); i += 2 {
		if k, ok := reply[i].(string); ok {
			kv[k] = reply[i+1]
		}
	}
	assert.Equal(t, "idx", kv["index_name"])
	assert.Equal(t, int64(1), kv["num_docs"])
	assert.Equal(t, int64(1), kv["num_terms"])

	_, err := d.Dispatch(context.Background(), []string{"FT.INFO", "idx", "CLUSTER"})
	require.Error(t, err, "cluster scope rejected without cluster mode")
}

func TestDialectValidation(t *testing.T) {
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC")
	_ = store

	_, err := d.Dispatch(context.Background(), []string{"FT.SEARCH", "idx", "*", "DIALECT", "1"})
	require.Error(t, err)
	_, err = d.Dispatch(context.Background(), []string{"FT.SEARCH", "idx", "*", "DIALECT", "5"})
	require.Error(t, err)
	_, err = d.Dispatch(context.Background(), []string{"FT.SEARCH", "idx", "*", "DIALECT", "3"})
	require.NoError(t, err)
}

func TestUnusedParamRejected(t *testing.T) {
	d, _ := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC")
	_, err := d.Dispatch(context.Background(), []string{
		"FT.SEARCH", "idx", "*", "PARAMS", "2", "unused", "1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unused")
}

func TestParamSubstitutionInFilter(t *testing.T) {
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC")
	require.NoError(t, store.HSet(0, "a", map[string]string{"num": "5"}))
	require.NoError(t, store.HSet(0, "b", map[string]string{"num": "50"}))

	reply := run(t, d, "FT.SEARCH", "idx", "@num:[$lo $hi]",
		"PARAMS", "4", "lo", "0", "hi", "10", "NOCONTENT").([]Reply)
	assert.Equal(t, []Reply{int64(1), "a"}, reply)
}

func TestRevalidationDropsMutatedNonMatches(t *testing.T) {
	d, store := testDispatcher(t)
	run(t, d, "FT.CREATE", "idx", "SCHEMA", "num", "NUMERIC")
	require.NoError(t, store.HSet(0, "a", map[string]string{"num": "5"}))

	// Run the local search by hand, then mutate the key before the reply
	// is built: the changed sequence number forces inline re-validation
	// against the fetched record, which no longer matches.
	p, err := d.buildSearchParameters([]string{"idx", "@num:[0 10]"})
	require.NoError(t, err)
	res, err := d.runQuery(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, res.Neighbors, 1)

	require.NoError(t, store.HSet(0, "a", map[string]string{"num": "500"}))

	reply, err := d.buildSearchReply(p, res)
	require.NoError(t, err)
	assert.Equal(t, []Reply{int64(1)}, reply, "stale neighbor dropped")
}

func TestDebugAndErrors(t *testing.T) {
	d, _ := testDispatcher(t)
	reply := run(t, d, "FT._DEBUG", "INFO_METADATA").([]Reply)
	assert.NotEmpty(t, reply)

	_, err := d.Dispatch(context.Background(), []string{"FT.BOGUS"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR")

	_, err = d.Dispatch(context.Background(), []string{"FT.SEARCH", "nosuchindex", "*"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT-FOUND")
}

func TestACLHook(t *testing.T) {
	d, _ := testDispatcher(t)
	d.ACL = func(prefixes []string) error {
		for _, p := range prefixes {
			if p == "secret:" {
				return fmt.Errorf("prefix %s denied", p)
			}
		}
		return nil
	}
	_, err := d.Dispatch(context.Background(), []string{
		"FT.CREATE", "idx", "PREFIX", "1", "secret:", "SCHEMA", "num", "NUMERIC",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PERMISSION-DENIED")
}
