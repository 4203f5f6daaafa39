package cluster

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shard(id string, start, end uint16, local bool) *ShardInfo {
	return &ShardInfo{
		ID: id,
		Primary: &NodeInfo{
			NodeID:    id + "-p",
			IsPrimary: true,
			IsLocal:   local,
			Address:   Address{Host: "host-" + id, Port: 7700},
		},
		Replicas: []*NodeInfo{{
			NodeID:  id + "-r1",
			Address: Address{Host: "host-" + id, Port: 7701},
		}},
		Ranges: []SlotRange{{Start: start, End: end}},
	}
}

func threeShardMap(t *testing.T) *Map {
	t.Helper()
	m := BuildMap([]*ShardInfo{
		shard("s1", 0, 5000, true),
		shard("s2", 5001, 11000, false),
		shard("s3", 11001, 16383, false),
	}, time.Minute)
	require.True(t, m.IsConsistent)
	return m
}

func TestSlotLookup(t *testing.T) {
	m := threeShardMap(t)
	s, ok := m.ShardForSlot(0)
	require.True(t, ok)
	assert.Equal(t, "s1", s.ID)
	s, _ = m.ShardForSlot(5000)
	assert.Equal(t, "s1", s.ID)
	s, _ = m.ShardForSlot(5001)
	assert.Equal(t, "s2", s.ID)
	s, _ = m.ShardForSlot(16383)
	assert.Equal(t, "s3", s.ID)
}

func TestOwnedSlots(t *testing.T) {
	m := threeShardMap(t)
	assert.True(t, m.OwnedSlots.Contains(100))
	assert.True(t, m.OwnedSlots.Contains(5000))
	assert.False(t, m.OwnedSlots.Contains(5001))
	assert.Equal(t, uint64(5001), m.OwnedSlots.GetCardinality())
}

func TestBackReferencesFrozen(t *testing.T) {
	m := threeShardMap(t)
	for _, s := range m.Shards {
		for _, n := range s.Nodes() {
			assert.Same(t, s, n.Shard)
		}
	}
}

func TestFingerprintsStableAndDistinct(t *testing.T) {
	m1 := threeShardMap(t)
	m2 := threeShardMap(t)
	assert.Equal(t, m1.ClusterFingerprint, m2.ClusterFingerprint)
	assert.Equal(t, m1.Shards["s1"].SlotsFingerprint, m2.Shards["s1"].SlotsFingerprint)
	assert.NotEqual(t, m1.Shards["s1"].SlotsFingerprint, m1.Shards["s2"].SlotsFingerprint)

	// Moving a slot boundary changes the fingerprints.
	m3 := BuildMap([]*ShardInfo{
		shard("s1", 0, 4999, true),
		shard("s2", 5000, 11000, false),
		shard("s3", 11001, 16383, false),
	}, time.Minute)
	assert.NotEqual(t, m1.ClusterFingerprint, m3.ClusterFingerprint)
	assert.NotEqual(t, m1.Shards["s1"].SlotsFingerprint, m3.Shards["s1"].SlotsFingerprint)
}

func TestInconsistencyDiagnosticsDoNotFailBuild(t *testing.T) {
	// Slot gap: 5001..11000 missing.
	m := BuildMap([]*ShardInfo{
		shard("s1", 0, 5000, true),
		shard("s3", 11001, 16383, false),
	}, time.Minute)
	assert.False(t, m.IsConsistent)
	assert.Len(t, m.Shards, 2)

	// Overlapping ranges.
	m = BuildMap([]*ShardInfo{
		shard("s1", 0, 9000, true),
		shard("s2", 5001, 16383, false),
	}, time.Minute)
	assert.False(t, m.IsConsistent)

	// Missing primary endpoint.
	broken := shard("s1", 0, 16383, true)
	broken.Primary.Address.Host = ""
	m = BuildMap([]*ShardInfo{broken}, time.Minute)
	assert.False(t, m.IsConsistent)

	// Duplicate socket address across node IDs.
	s1 := shard("s1", 0, 8000, true)
	s2 := shard("s2", 8001, 16383, false)
	s2.Primary.Address = s1.Primary.Address
	m = BuildMap([]*ShardInfo{s1, s2}, time.Minute)
	assert.False(t, m.IsConsistent)
}

func TestTargetModes(t *testing.T) {
	m := threeShardMap(t)
	rng := rand.New(rand.NewSource(1))

	primaries := m.Targets(TargetPrimary, rng)
	require.Len(t, primaries, 3)
	for _, n := range primaries {
		assert.True(t, n.IsPrimary)
	}

	all := m.Targets(TargetAll, rng)
	assert.Len(t, all, 6)

	replicas := m.Targets(TargetReplicas, rng)
	assert.Len(t, replicas, 3)
	for _, n := range replicas {
		assert.False(t, n.IsPrimary)
	}

	onePer := m.Targets(TargetOneReplicaPerShard, rng)
	assert.Len(t, onePer, 3)
}

func TestExpiration(t *testing.T) {
	m := BuildMap([]*ShardInfo{shard("s1", 0, 16383, true)}, -time.Second)
	assert.True(t, m.Expired())

	builds := 0
	p := NewProvider(func() *Map {
		builds++
		return BuildMap([]*ShardInfo{shard("s1", 0, 16383, true)}, time.Minute)
	})
	_ = p.Get()
	_ = p.Get()
	assert.Equal(t, 1, builds, "fresh snapshot is cached")
	p.Invalidate()
	_ = p.Get()
	assert.Equal(t, 2, builds)
}

func TestKeySlot(t *testing.T) {
	assert.Equal(t, KeySlot("foo"), KeySlot("foo"))
	assert.Equal(t, KeySlot("{user1}.a"), KeySlot("{user1}.b"), "hashtag routes together")
	assert.Less(t, int(KeySlot("anything")), NumSlots)
}
