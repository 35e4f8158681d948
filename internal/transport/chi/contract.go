package chi

import (
	"context"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/rerank"
	healthuc "github.com/kailas-cloud/hybridsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

// Searcher is the orchestrator surface served over HTTP.
type Searcher interface {
	StoreDocuments(ctx context.Context, chunks []document.Document, full document.Document) error
	DeleteDocument(ctx context.Context, id string) error
	VectorSearch(ctx context.Context, req searchuc.VectorRequest) (searchuc.Response, error)
	TextSearch(ctx context.Context, req searchuc.TextRequest) (searchuc.Response, error)
	HybridSearch(ctx context.Context, req searchuc.HybridRequest) (searchuc.Response, error)
	Stats(ctx context.Context) map[string]any
	VectorKind() backend.VectorKind
	TextKind() backend.TextKind
}

// HealthReporter aggregates component health.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// RerankCache exposes the rerank result cache.
type RerankCache interface {
	CacheStats() rerank.CacheStats
	ClearCache()
}

// BackendLister lists the supported backend kinds.
type BackendLister interface {
	AvailableVectorKinds() []backend.VectorKind
	AvailableTextKinds() []backend.TextKind
}
