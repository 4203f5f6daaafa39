// Package cluster models the immutable cluster-map snapshot the fanout
// path routes with: shards, the slot interval map, the local owned-slot
// bitmap, per-mode target lists and the slot-range fingerprints used to
// detect topology drift.
package cluster

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"
	"github.com/minio/highwayhash"
)

// NumSlots is the fixed keyspace partition count.
const NumSlots = 16384

// Address is a shard endpoint.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// NodeInfo is one member of a shard. The Shard back-reference is weak: it
// exists so slot lookups can reach the shard once the snapshot is frozen
// and is never mutated through.
type NodeInfo struct {
	NodeID    string
	IsPrimary bool
	IsLocal   bool
	Address   Address
	Metadata  map[string]string

	Shard *ShardInfo `json:"-"`
}

// SlotRange is an inclusive slot interval.
type SlotRange struct {
	Start, End uint16
}

// ShardInfo groups a primary and its replicas with their owned ranges.
type ShardInfo struct {
	ID       string
	Primary  *NodeInfo
	Replicas []*NodeInfo
	Ranges   []SlotRange

	// SlotsFingerprint hashes the sorted owned slot ranges.
	SlotsFingerprint uint64
}

// Nodes returns the primary followed by the replicas.
func (s *ShardInfo) Nodes() []*NodeInfo {
	out := make([]*NodeInfo, 0, 1+len(s.Replicas))
	if s.Primary != nil {
		out = append(out, s.Primary)
	}
	return append(out, s.Replicas...)
}

// FanoutTargetMode selects which nodes a fanout addresses per shard.
type FanoutTargetMode int

const (
	TargetAll FanoutTargetMode = iota
	TargetPrimary
	TargetReplicas
	TargetOneReplicaPerShard
	TargetRandom
)

// slotEntry indexes the interval tree by range start.
type slotEntry struct {
	start uint16
	end   uint16
	shard *ShardInfo
}

func slotLess(a, b slotEntry) bool { return a.start < b.start }

// Map is an immutable snapshot. A new snapshot is installed atomically by
// shared-ownership swap; in-flight queries keep theirs alive.
type Map struct {
	Shards map[string]*ShardInfo

	slots      *btree.BTreeG[slotEntry]
	OwnedSlots *roaring.Bitmap

	IsConsistent       bool
	ClusterFingerprint uint64
	Expiration         time.Time
}

var hashKey = make([]byte, 32)

func hashRanges(ranges []SlotRange) uint64 {
	sorted := append([]SlotRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	h, _ := highwayhash.New64(hashKey)
	var buf [4]byte
	for _, r := range sorted {
		binary.LittleEndian.PutUint16(buf[0:2], r.Start)
		binary.LittleEndian.PutUint16(buf[2:4], r.End)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// BuildMap freezes a snapshot from the shard set. Inconsistencies (missing
// primary endpoint, duplicate addresses across node IDs, slot gaps or
// overlaps) clear IsConsistent but never fail the build; the caller may
// refresh.
func BuildMap(shards []*ShardInfo, ttl time.Duration) *Map {
	m := &Map{
		Shards:       map[string]*ShardInfo{},
		slots:        btree.NewG(8, slotLess),
		OwnedSlots:   roaring.New(),
		IsConsistent: true,
		Expiration:   time.Now().Add(ttl),
	}

	covered := roaring.New()
	seenAddr := map[string]string{}
	var allRanges []SlotRange

	for _, shard := range shards {
		m.Shards[shard.ID] = shard
		if shard.Primary == nil || shard.Primary.Address.Host == "" {
			m.IsConsistent = false
		}
		// Rebuild the back-references after insertion completes so no
		// pointer exists while the containers are still growing.
		for _, node := range shard.Nodes() {
			addr := node.Address.String()
			if owner, dup := seenAddr[addr]; dup && owner != node.NodeID {
				m.IsConsistent = false
			}
			seenAddr[addr] = node.NodeID
		}
		shard.SlotsFingerprint = hashRanges(shard.Ranges)
		for _, r := range shard.Ranges {
			if r.Start > r.End || int(r.End) >= NumSlots {
				m.IsConsistent = false
				continue
			}
			span := roaring.New()
			span.AddRange(uint64(r.Start), uint64(r.End)+1)
			if covered.Intersects(span) {
				m.IsConsistent = false
			}
			covered.Or(span)
			m.slots.ReplaceOrInsert(slotEntry{start: r.Start, end: r.End, shard: shard})
			allRanges = append(allRanges, r)
			if shard.isLocal() {
				m.OwnedSlots.Or(span)
			}
		}
	}
	for _, shard := range m.Shards {
		for _, node := range shard.Nodes() {
			node.Shard = shard
		}
	}
	if covered.GetCardinality() != NumSlots {
		m.IsConsistent = false
	}
	m.ClusterFingerprint = hashRanges(allRanges)
	return m
}

func (s *ShardInfo) isLocal() bool {
	for _, n := range s.Nodes() {
		if n.IsLocal {
			return true
		}
	}
	return false
}

// Expired reports whether the snapshot passed its TTL.
func (m *Map) Expired() bool { return time.Now().After(m.Expiration) }

// ShardForSlot resolves the owning shard via the interval tree.
func (m *Map) ShardForSlot(slot uint16) (*ShardInfo, bool) {
	var found *ShardInfo
	m.slots.DescendLessOrEqual(slotEntry{start: slot}, func(e slotEntry) bool {
		if slot >= e.start && slot <= e.end {
			found = e.shard
		}
		return false
	})
	return found, found != nil
}

// Targets selects the fanout targets for a mode, typically one node per
// shard.
func (m *Map) Targets(mode FanoutTargetMode, rng *rand.Rand) []*NodeInfo {
	var out []*NodeInfo
	for _, id := range m.sortedShardIDs() {
		shard := m.Shards[id]
		switch mode {
		case TargetAll:
			out = append(out, shard.Nodes()...)
		case TargetPrimary:
			if shard.Primary != nil {
				out = append(out, shard.Primary)
			}
		case TargetReplicas:
			out = append(out, shard.Replicas...)
		case TargetOneReplicaPerShard:
			if len(shard.Replicas) > 0 {
				out = append(out, shard.Replicas[rng.Intn(len(shard.Replicas))])
			} else if shard.Primary != nil {
				out = append(out, shard.Primary)
			}
		case TargetRandom:
			nodes := shard.Nodes()
			if len(nodes) > 0 {
				out = append(out, nodes[rng.Intn(len(nodes))])
			}
		}
	}
	return out
}

func (m *Map) sortedShardIDs() []string {
	ids := make([]string, 0, len(m.Shards))
	for id := range m.Shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Provider caches a snapshot until it expires or topology changes.
type Provider struct {
	build func() *Map

	mu  sync.Mutex
	cur *Map
}

// NewProvider wraps a snapshot builder with TTL caching.
func NewProvider(build func() *Map) *Provider {
	return &Provider{build: build}
}

// Get returns the cached snapshot, rebuilding it on demand. In-flight
// queries keep whatever snapshot they were handed.
func (p *Provider) Get() *Map {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil || p.cur.Expired() {
		p.cur = p.build()
	}
	return p.cur
}

// Invalidate drops the cached snapshot on topology change.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = nil
}
