package vector

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/johncui/mnemo/pkg/model"
)

// Exact is a brute-force index backed by an in-memory chromem-go collection.
// Every query scans the whole collection, so results are exact. Useful for
// small stores and as a reference when checking HNSW recall.
type Exact struct {
	dim int
	col *chromem.Collection

	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewExact(dim int) (*Exact, error) {
	db := chromem.NewDB()
	// Embeddings are always supplied, so no embedding func is configured.
	col, err := db.CreateCollection("memories", nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chromem collection", goerr.T(model.TagStore))
	}
	return &Exact{dim: dim, col: col, ids: make(map[string]struct{})}, nil
}

func (e *Exact) Add(ctx context.Context, id string, vec []float32) error {
	if err := checkDim(vec, e.dim); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.ids[id]; ok {
		return nil
	}

	doc := chromem.Document{ID: id, Content: id, Embedding: Normalize(vec)}
	if err := e.col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add document", goerr.V("id", id), goerr.T(model.TagStore))
	}
	e.ids[id] = struct{}{}
	return nil
}

func (e *Exact) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := checkDim(query, e.dim); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	// chromem rejects nResults larger than the collection.
	n := min(k, e.col.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := e.col.QueryEmbedding(ctx, Normalize(query), n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "chromem query failed", goerr.T(model.TagStore))
	}

	out := make([]Neighbor, 0, len(results))
	for _, r := range results {
		d := 1 - float64(r.Similarity)
		if d < 0 {
			d = 0
		}
		out = append(out, Neighbor{ID: r.ID, Distance: d})
	}
	return out, nil
}

func (e *Exact) Contains(_ context.Context, id string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.ids[id]
	return ok, nil
}

func (e *Exact) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ids)
}

var _ Index = (*Exact)(nil)
