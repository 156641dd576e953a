// Package embeddings turns text into vectors for similarity search.
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensions reports vectors whose size differs from the configured one.
var ErrDimensions = errors.New("embeddings: vector size mismatch")

// Embedder generates text embeddings.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// checkDimensions verifies every vector has want entries. A non-positive
// want accepts any size.
func checkDimensions(vecs [][]float32, want int) error {
	if want <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensions, i, len(v), want)
		}
	}
	return nil
}
