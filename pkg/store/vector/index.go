// Package vector holds the approximate nearest-neighbor indexes behind the
// memory store. All indexes work on cosine distance over unit-normalized
// copies of the inserted vectors, so 1 - distance is a cosine similarity.
package vector

import (
	"context"
	"math"

	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
)

// Neighbor is one search result, ordered by ascending Distance.
type Neighbor struct {
	ID       string
	Distance float64
}

// Index is a vector index keyed by memory record id.
//
// Search results are approximate for graph-based implementations: the true
// nearest neighbor may be missed with low probability in exchange for
// sub-linear query time.
type Index interface {
	Add(ctx context.Context, id string, vec []float32) error
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	Contains(ctx context.Context, id string) (bool, error)
	Len() int
}

func checkDim(vec []float32, dim int) error {
	if dim > 0 && len(vec) != dim {
		return goerr.Wrap(model.ErrDimensionMismatch, "vector has wrong dimension",
			goerr.V("got", len(vec)), goerr.V("want", dim), goerr.T(model.TagConfig))
	}
	if len(vec) == 0 {
		return goerr.New("vector is empty", goerr.T(model.TagStore))
	}
	return nil
}

// Normalize returns a unit-length copy of vec. A zero vector is returned
// unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	out := make([]float32, len(vec))
	if sum == 0 {
		copy(out, vec)
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// CosineDistance is 1 - cos(a, b). It is 1 when either vector is zero.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// unitDistance is the cosine distance of two already normalized vectors.
func unitDistance(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	d := 1 - dot
	if d < 0 {
		return 0
	}
	return d
}
