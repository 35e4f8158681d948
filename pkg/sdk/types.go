package hybridsearch

import "time"

// Document is a full document. Its content is indexed by the text backend and
// its chunks by the vector backend. A document without chunks is stored as a
// single chunk carrying the document's own content.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
	Chunks   []Chunk
}

// Chunk is one embedded piece of a document. A nil Embedding is computed with
// the configured Embedder.
type Chunk struct {
	ID        string
	Content   string
	Embedding []float64
	Metadata  map[string]any
}

// Result is a single search hit.
type Result struct {
	ID       string
	Score    float64
	Source   string // vector, text or hybrid
	Content  string
	Metadata map[string]any

	// Set when the hit came from that backend.
	VectorScore *float64
	TextScore   *float64

	// Set when a rerank was applied.
	RerankScore   *float64
	OriginalScore *float64
	Rank          int

	Highlights map[string][]string
}

// Failure reports a backend that failed during a degraded hybrid search.
type Failure struct {
	Side string
	Err  error
}

// Response is the outcome of a search.
type Response struct {
	Results  []Result
	Total    int
	Failures []Failure

	Reranked        bool
	RerankFromCache bool
	Elapsed         time.Duration
}

// Degraded reports whether one backend failed and results came from the other.
func (r Response) Degraded() bool { return len(r.Failures) > 0 }

// Health is the aggregated backend health.
type Health struct {
	Status string // healthy, degraded, unhealthy
	Checks map[string]string
}
