package hybridsearch

import "context"

// Embedder converts text to a vector. It embeds vector and hybrid queries and
// chunks stored without an embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) { return f(ctx, text) }

// ScoreFunc scores (query, document) pairs for reranking. It returns one
// score per document, in order.
type ScoreFunc func(ctx context.Context, query string, docs []string) ([]float64, error)
