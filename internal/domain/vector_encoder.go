package domain

import (
	"context"
)

// VectorEncoder produces fixed-dimension embeddings for texts. A single-text
// embed is Encode with a one-element slice.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Version() string
}
