// Package backend defines the contracts every vector and text engine implements.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
)

// ErrNotInitialized is returned by a backend used before Initialize succeeded.
var ErrNotInitialized = errors.New("backend not initialized")

// Highlight tags wrapped around matched terms in text hits.
const (
	HighlightOpen  = "<mark>"
	HighlightClose = "</mark>"
)

// VectorKind enumerates vector engines.
type VectorKind string

const (
	VectorRedis  VectorKind = "redis"
	VectorValkey VectorKind = "valkey"
	VectorHNSW   VectorKind = "hnsw"
)

// VectorKinds lists every vector kind in a stable order.
var VectorKinds = []VectorKind{VectorRedis, VectorValkey, VectorHNSW}

// ParseVectorKind maps a config value onto a VectorKind.
func ParseVectorKind(s string) (VectorKind, error) {
	k := VectorKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range VectorKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: vector kind %q", domain.ErrUnknownBackend, s)
}

// TextKind enumerates full-text engines.
type TextKind string

const (
	TextRedis  TextKind = "redis"
	TextBleve  TextKind = "bleve"
	TextSQLite TextKind = "sqlite"
)

// TextKinds lists every text kind in a stable order.
var TextKinds = []TextKind{TextRedis, TextBleve, TextSQLite}

// ParseTextKind maps a config value onto a TextKind.
func ParseTextKind(s string) (TextKind, error) {
	k := TextKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range TextKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: text kind %q", domain.ErrUnknownBackend, s)
}

// Stats is a free-form statistics map. Every backend sets at least
// "backend" and "documents".
type Stats map[string]any

// VectorBackend stores embeddings and answers similarity queries.
type VectorBackend interface {
	Kind() VectorKind
	// Initialize prepares the engine. Calling it again is a no-op.
	Initialize(ctx context.Context) error
	// StoreEmbeddings validates the whole batch before writing any of it.
	StoreEmbeddings(ctx context.Context, docs []document.Document) error
	// SearchSimilar returns up to limit hits ordered by descending similarity.
	// A scoreThreshold <= 0 disables thresholding.
	SearchSimilar(ctx context.Context, vector []float64, limit int, scoreThreshold float64,
		filters filter.Expression) ([]candidate.Candidate, error)
	// DeleteDocument removes the entry with the id and every chunk whose document_id is id.
	DeleteDocument(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// TextQuery is the input of a full-text search.
type TextQuery struct {
	Query     string
	Limit     int
	Offset    int
	Filters   filter.Expression
	Highlight bool
}

// Validate rejects queries no engine can answer.
func (q TextQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return domain.InvalidInputf("query must not be empty")
	}
	if q.Limit <= 0 {
		return domain.InvalidInputf("limit must be positive, got %d", q.Limit)
	}
	if q.Offset < 0 {
		return domain.InvalidInputf("offset must not be negative, got %d", q.Offset)
	}
	return nil
}

// TextResult holds one page of text hits and the engine's total match count.
type TextResult struct {
	Hits  []candidate.Candidate
	Total int
}

// TextBackend indexes document content and answers keyword queries.
type TextBackend interface {
	Kind() TextKind
	Initialize(ctx context.Context) error
	// IndexDocuments requires non-empty content on every document.
	IndexDocuments(ctx context.Context, docs []document.Document) error
	SearchText(ctx context.Context, q TextQuery) (TextResult, error)
	DeleteDocument(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// ValidateTextBatch applies ValidateForText to every document.
func ValidateTextBatch(docs []document.Document) error {
	for i := range docs {
		if err := docs[i].ValidateForText(); err != nil {
			return err //nolint:wrapcheck // already names the document
		}
	}
	return nil
}
