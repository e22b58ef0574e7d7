package vector

import (
	"cmp"
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWConfig tunes the hierarchical navigable small world graph.
type HNSWConfig struct {
	Dim            int
	M              int // max links per node and layer
	EfConstruction int
	EfSearch       int
	Seed           uint64
}

func DefaultHNSWConfig(dim int) HNSWConfig {
	return HNSWConfig{Dim: dim, M: 16, EfConstruction: 200, EfSearch: 64, Seed: 1}
}

// HNSW is an in-process approximate nearest-neighbor index on top of
// coder/hnsw. It is safe for concurrent use; Add takes the write lock,
// Search the read lock.
//
// Memories with identical normalized vectors share one graph node. The node
// is keyed by the first id stored with that vector and the rest are kept in
// its group, so repeated texts never crowd each other's neighbor lists.
type HNSW struct {
	mu    sync.RWMutex
	cfg   HNSWConfig
	graph *hnsw.Graph[string]

	owner  map[string]string   // memory id -> graph key
	groups map[string][]string // graph key -> memory ids, insertion order
	byVec  map[string]string   // vector bytes -> graph key
}

func NewHNSW(cfg HNSWConfig) *HNSW {
	if cfg.M < 2 {
		cfg.M = 16
	}
	if cfg.EfConstruction < cfg.M {
		cfg.EfConstruction = 4 * cfg.M
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}

	g := hnsw.NewGraph[string]()
	g.M = cfg.M
	g.Ml = 1 / math.Log(float64(cfg.M))
	g.EfSearch = cfg.EfSearch
	g.Distance = func(a, b []float32) float32 { return float32(unitDistance(a, b)) }
	g.Rng = rand.New(rand.NewSource(int64(cfg.Seed)))

	return &HNSW{
		cfg:    cfg,
		graph:  g,
		owner:  make(map[string]string),
		groups: make(map[string][]string),
		byVec:  make(map[string]string),
	}
}

func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owner)
}

func (h *HNSW) Contains(_ context.Context, id string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.owner[id]
	return ok, nil
}

// Add inserts vec under id. Re-adding a known id is a no-op, which keeps
// reconcile replays safe.
func (h *HNSW) Add(_ context.Context, id string, vec []float32) error {
	if err := checkDim(vec, h.cfg.Dim); err != nil {
		return err
	}
	unit := Normalize(vec)
	key := vectorKey(unit)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.owner[id]; ok {
		return nil
	}
	if first, ok := h.byVec[key]; ok {
		h.groups[first] = append(h.groups[first], id)
		h.owner[id] = first
		return nil
	}

	// the graph walks EfSearch candidates while linking a new node
	h.graph.EfSearch = h.cfg.EfConstruction
	h.graph.Add(hnsw.MakeNode(id, unit))
	h.graph.EfSearch = h.cfg.EfSearch

	h.byVec[key] = id
	h.groups[id] = []string{id}
	h.owner[id] = id
	return nil
}

// Search returns up to k neighbors of query by ascending cosine distance.
func (h *HNSW) Search(_ context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := checkDim(query, h.cfg.Dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	q := Normalize(query)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.owner) == 0 {
		return nil, nil
	}

	nodes := h.graph.Search(q, k)
	out := make([]Neighbor, 0, k)
	for _, n := range nodes {
		d := unitDistance(q, n.Value)
		for _, id := range h.groups[n.Key] {
			out = append(out, Neighbor{ID: id, Distance: d})
		}
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int { return cmp.Compare(a.Distance, b.Distance) })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func vectorKey(unit []float32) string {
	buf := make([]byte, 4*len(unit))
	for i, v := range unit {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return string(buf)
}

var _ Index = (*HNSW)(nil)
