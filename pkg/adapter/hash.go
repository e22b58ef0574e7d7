package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/johncui/mnemo/pkg/model"
)

// HashEmbedder is a deterministic, offline embedder for local runs and
// tests. Equal texts get equal vectors; nothing about the vectors is
// semantic.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 1536
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimensions() int { return h.dim }

// Embed stretches sha256 digests of the text across the vector and
// normalizes it.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		text = "empty"
	}

	vec := make([]float32, h.dim)
	var block [sha256.Size]byte
	for i := 0; i < h.dim; i++ {
		if i%(sha256.Size/2) == 0 {
			// each block covers 16 dimensions
			var salt [4]byte
			binary.LittleEndian.PutUint32(salt[:], uint32(i))
			block = sha256.Sum256(append(salt[:], text...))
		}
		j := (i % (sha256.Size / 2)) * 2
		chunk := binary.LittleEndian.Uint16(block[j:])
		vec[i] = float32(chunk)/math.MaxUint16 - 0.5
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

var _ model.EmbeddingClient = (*HashEmbedder)(nil)
