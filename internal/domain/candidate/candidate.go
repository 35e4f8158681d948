package candidate

import "fmt"

// Source identifies which retrieval path produced a candidate.
type Source string

const (
	// Vector marks a similarity-search hit.
	Vector Source = "vector"
	// Text marks a full-text hit.
	Text Source = "text"
	// Hybrid marks a hit fused from both backends.
	Hybrid Source = "hybrid"
)

// Parse validates a source tag.
func Parse(s string) (Source, error) {
	switch Source(s) {
	case Vector, Text, Hybrid:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown candidate source %q", s)
	}
}

// Candidate is a normalized search hit (immutable value object).
// Every transformation returns a new Candidate.
type Candidate struct {
	id         string
	score      float64
	source     Source
	content    string
	metadata   map[string]any
	highlights map[string][]string

	vectorScore float64
	textScore   float64
	inVector    bool
	inText      bool

	originalScore float64
	rerankScore   float64
	rank          int
}

// New creates a candidate. Empty content is resolved from metadata "content" or "text".
func New(id string, score float64, source Source, content string, metadata map[string]any) Candidate {
	if content == "" {
		content = contentFromMetadata(metadata)
	}
	c := Candidate{id: id, score: score, source: source, content: content, metadata: metadata}
	switch source {
	case Vector:
		c.vectorScore, c.inVector = score, true
	case Text:
		c.textScore, c.inText = score, true
	}
	return c
}

func contentFromMetadata(metadata map[string]any) string {
	for _, key := range []string{"content", "text"} {
		if s, ok := metadata[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ID returns the candidate identifier.
func (c Candidate) ID() string { return c.id }

// Score returns the current relevance score (hybrid or rerank score once applied).
func (c Candidate) Score() float64 { return c.score }

// Source returns the retrieval path tag.
func (c Candidate) Source() Source { return c.source }

// Content returns the resolved text content.
func (c Candidate) Content() string { return c.content }

// Metadata returns the metadata carried through from the backend.
func (c Candidate) Metadata() map[string]any { return c.metadata }

// Highlights returns highlighted fragments per field (text hits only).
func (c Candidate) Highlights() map[string][]string { return c.highlights }

// VectorScore returns the vector-side score and whether the vector backend returned this id.
func (c Candidate) VectorScore() (float64, bool) { return c.vectorScore, c.inVector }

// TextScore returns the text-side score and whether the text backend returned this id.
func (c Candidate) TextScore() (float64, bool) { return c.textScore, c.inText }

// Reranked reports whether a rerank score has been assigned.
func (c Candidate) Reranked() bool { return c.rank > 0 }

// RerankScore returns the cross-encoder score.
func (c Candidate) RerankScore() float64 { return c.rerankScore }

// OriginalScore returns the score held before reranking.
func (c Candidate) OriginalScore() float64 { return c.originalScore }

// Rank returns the 1-based rank assigned by the reranker, 0 if not reranked.
func (c Candidate) Rank() int { return c.rank }

// WithHighlights returns a copy carrying highlighted fragments.
func (c Candidate) WithHighlights(h map[string][]string) Candidate {
	c.highlights = h
	return c
}

// Fuse combines the vector-side hit c with the text-side hit t for the same id.
// hybridScore is assigned as the new score; highlights come from the text side.
func (c Candidate) Fuse(t Candidate, hybridScore float64) Candidate {
	c.score = hybridScore
	c.source = Hybrid
	c.textScore, c.inText = t.textScore, true
	if c.content == "" {
		c.content = t.content
	}
	if c.highlights == nil {
		c.highlights = t.highlights
	}
	return c
}

// Rerank returns a copy scored by the cross-encoder at the given 1-based rank.
func (c Candidate) Rerank(score float64, rank int) Candidate {
	c.originalScore = c.score
	c.rerankScore = score
	c.score = score
	c.rank = rank
	return c
}

// IDs returns the identifiers of cs in order.
func IDs(cs []Candidate) []string {
	ids := make([]string, len(cs))
	for i := range cs {
		ids[i] = cs[i].id
	}
	return ids
}

// Truncate returns at most n leading candidates. n <= 0 yields an empty slice.
func Truncate(cs []Candidate, n int) []Candidate {
	if n <= 0 {
		return []Candidate{}
	}
	if len(cs) > n {
		return cs[:n]
	}
	return cs
}
