package health

import (
	"context"

	"github.com/kailas-cloud/hybridsearch/internal/rerank"
	"github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

// SearchChecker probes the backend pair.
type SearchChecker interface {
	HealthCheck(ctx context.Context) search.Health
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// RerankStater reports the rerank stage lifecycle.
type RerankStater interface {
	State() rerank.State
}
