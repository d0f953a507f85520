// Package embeddings defines the Provider interface for text-embedding
// backends. The archive uses it to index uploaded transcripts and to embed
// search queries for the past-conversations page.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense vectors. Every vector from one Provider has
// length Dimensions().
type Provider interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order. On error no
	// partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length.
	Dimensions() int

	// ModelID names the embedding model, e.g. "text-embedding-3-small".
	ModelID() string
}
