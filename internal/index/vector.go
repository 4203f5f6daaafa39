package index

import (
	"github.com/coder/hnsw"

	"github.com/Aman-CERP/kvsearch/internal/cancel"
	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/intern"
)

// DistanceMetric selects the vector distance function.
type DistanceMetric string

const (
	MetricL2     DistanceMetric = "L2"
	MetricIP     DistanceMetric = "IP"
	MetricCosine DistanceMetric = "COSINE"
)

// Vector is the capability set of the vector kernels consumed by the
// query path: a bulk search with an optional inline filter, and the
// per-candidate exact-distance push used on the prefilter path.
type Vector interface {
	Index
	Dimensions() int
	AddKey(key intern.String, vec []float32) error
	RemoveKey(key intern.String)
	KeyVector(key intern.String) ([]float32, bool)
	// Search returns up to k neighbors by ascending distance. filter, when
	// non-nil, accepts or rejects candidates during the walk; it borrows
	// the predicate tree for the duration of the call only. ef <= 0 uses
	// the index default.
	Search(query []float32, k int, tok cancel.Token, filter func(intern.String) bool, ef int) []Neighbor
	// AddPrefilteredKey scores one pre-qualified key into a bounded heap.
	// seen deduplicates candidates that fetchers emitted more than once.
	AddPrefilteredKey(query []float32, k int, key intern.String, h *NeighborHeap, seen map[intern.String]struct{}) bool
}

func distanceFunc(metric DistanceMetric) func(a, b []float32) float32 {
	switch metric {
	case MetricCosine:
		return hnsw.CosineDistance
	case MetricIP:
		return func(a, b []float32) float32 {
			var dot float32
			for i := range a {
				dot += a[i] * b[i]
			}
			return 1 - dot
		}
	default:
		return hnsw.EuclideanDistance
	}
}

// VectorConfig is shared by both kernel variants.
type VectorConfig struct {
	Dimensions int
	Metric     DistanceMetric
	// HNSW only.
	M              int
	EfConstruction int
	EfRuntime      int
}

// Flat is the brute-force kernel: exact scan over all tracked vectors.
type Flat struct {
	cfg     VectorConfig
	dist    func(a, b []float32) float32
	vectors map[intern.String][]float32
}

// NewFlat creates an empty flat vector index.
func NewFlat(cfg VectorConfig) *Flat {
	return &Flat{cfg: cfg, dist: distanceFunc(cfg.Metric), vectors: map[intern.String][]float32{}}
}

func (f *Flat) Kind() Kind      { return KindVectorFlat }
func (f *Flat) Size() int       { return len(f.vectors) }
func (f *Flat) Dimensions() int { return f.cfg.Dimensions }

func (f *Flat) AddKey(key intern.String, vec []float32) error {
	if len(vec) != f.cfg.Dimensions {
		return kverrors.InvalidArgument("vector dimension mismatch: got %d, want %d", len(vec), f.cfg.Dimensions)
	}
	f.vectors[key] = vec
	return nil
}

func (f *Flat) RemoveKey(key intern.String) { delete(f.vectors, key) }

func (f *Flat) KeyVector(key intern.String) ([]float32, bool) {
	v, ok := f.vectors[key]
	return v, ok
}

func (f *Flat) Search(query []float32, k int, tok cancel.Token, filter func(intern.String) bool, ef int) []Neighbor {
	h := NewNeighborHeap(k)
	for key, vec := range f.vectors {
		if tok != nil && tok.IsCancelled() {
			break
		}
		if filter != nil && !filter(key) {
			continue
		}
		h.Push(Neighbor{Key: key, Distance: f.dist(query, vec)})
	}
	return h.Drain()
}

func (f *Flat) AddPrefilteredKey(query []float32, k int, key intern.String, h *NeighborHeap, seen map[intern.String]struct{}) bool {
	if _, dup := seen[key]; dup {
		return false
	}
	seen[key] = struct{}{}
	vec, ok := f.vectors[key]
	if !ok {
		return false
	}
	return h.Push(Neighbor{Key: key, Distance: f.dist(query, vec)})
}

// HNSW wraps the graph kernel. External interned keys map to the graph's
// internal uint64 keys; removal is lazy (mappings drop, orphaned graph
// nodes are skipped at read time) matching the kernel's deletion
// constraints.
type HNSW struct {
	cfg   VectorConfig
	dist  func(a, b []float32) float32
	graph *hnsw.Graph[uint64]

	keyOf   map[intern.String]uint64
	extOf   map[uint64]intern.String
	vecs    map[intern.String][]float32
	nextKey uint64
}

// NewHNSW creates an empty HNSW vector index.
func NewHNSW(cfg VectorConfig) *HNSW {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfRuntime == 0 {
		cfg.EfRuntime = 20
	}
	g := hnsw.NewGraph[uint64]()
	g.Distance = distanceFunc(cfg.Metric)
	g.M = cfg.M
	g.EfSearch = cfg.EfRuntime
	hint := int(config.HnswBlockSize.Get())
	return &HNSW{
		cfg:   cfg,
		dist:  distanceFunc(cfg.Metric),
		graph: g,
		keyOf: make(map[intern.String]uint64, hint),
		extOf: make(map[uint64]intern.String, hint),
		vecs:  make(map[intern.String][]float32, hint),
	}
}

func (h *HNSW) Kind() Kind      { return KindVectorHNSW }
func (h *HNSW) Size() int       { return len(h.keyOf) }
func (h *HNSW) Dimensions() int { return h.cfg.Dimensions }

func (h *HNSW) AddKey(key intern.String, vec []float32) error {
	if len(vec) != h.cfg.Dimensions {
		return kverrors.InvalidArgument("vector dimension mismatch: got %d, want %d", len(vec), h.cfg.Dimensions)
	}
	if old, ok := h.keyOf[key]; ok {
		delete(h.extOf, old)
		delete(h.keyOf, key)
	}
	id := h.nextKey
	h.nextKey++
	h.graph.Add(hnsw.MakeNode(id, vec))
	h.keyOf[key] = id
	h.extOf[id] = key
	h.vecs[key] = vec
	return nil
}

func (h *HNSW) RemoveKey(key intern.String) {
	if id, ok := h.keyOf[key]; ok {
		delete(h.extOf, id)
		delete(h.keyOf, key)
		delete(h.vecs, key)
	}
}

func (h *HNSW) KeyVector(key intern.String) ([]float32, bool) {
	v, ok := h.vecs[key]
	return v, ok
}

func (h *HNSW) Search(query []float32, k int, tok cancel.Token, filter func(intern.String) bool, ef int) []Neighbor {
	if ef > 0 {
		h.graph.EfSearch = ef
	}
	// The graph walk has no filter hook, so an inline-filtered search
	// over-fetches and widens until k accepted candidates are found or
	// the whole index was considered.
	fetch := k
	total := h.graph.Len()
	if total == 0 {
		return nil
	}
	for {
		nodes := h.graph.Search(query, fetch)
		out := NewNeighborHeap(k)
		accepted := 0
		for _, node := range nodes {
			if tok != nil && tok.IsCancelled() {
				break
			}
			ext, live := h.extOf[node.Key]
			if !live {
				continue
			}
			if filter != nil && !filter(ext) {
				continue
			}
			accepted++
			out.Push(Neighbor{Key: ext, Distance: h.dist(query, node.Value)})
		}
		if accepted >= k || fetch >= total || (tok != nil && tok.IsCancelled()) {
			return out.Drain()
		}
		fetch *= 2
		if fetch > total {
			fetch = total
		}
	}
}

func (h *HNSW) AddPrefilteredKey(query []float32, k int, key intern.String, hp *NeighborHeap, seen map[intern.String]struct{}) bool {
	if _, dup := seen[key]; dup {
		return false
	}
	seen[key] = struct{}{}
	vec, ok := h.KeyVector(key)
	if !ok {
		return false
	}
	return hp.Push(Neighbor{Key: key, Distance: h.dist(query, vec)})
}
