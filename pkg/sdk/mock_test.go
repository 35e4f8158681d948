package hybridsearch

import (
	"context"

	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

type mockSearchUC struct {
	storeFn  func(ctx context.Context, chunks []document.Document, full document.Document) error
	deleteFn func(ctx context.Context, id string) error
	vectorFn func(ctx context.Context, req searchuc.VectorRequest) (searchuc.Response, error)
	textFn   func(ctx context.Context, req searchuc.TextRequest) (searchuc.Response, error)
	hybridFn func(ctx context.Context, req searchuc.HybridRequest) (searchuc.Response, error)
}

func (m *mockSearchUC) StoreDocuments(ctx context.Context, chunks []document.Document, full document.Document) error {
	return m.storeFn(ctx, chunks, full)
}

func (m *mockSearchUC) DeleteDocument(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockSearchUC) VectorSearch(ctx context.Context, req searchuc.VectorRequest) (searchuc.Response, error) {
	return m.vectorFn(ctx, req)
}

func (m *mockSearchUC) TextSearch(ctx context.Context, req searchuc.TextRequest) (searchuc.Response, error) {
	return m.textFn(ctx, req)
}

func (m *mockSearchUC) HybridSearch(ctx context.Context, req searchuc.HybridRequest) (searchuc.Response, error) {
	return m.hybridFn(ctx, req)
}

func (m *mockSearchUC) Close() error { return nil }

// newMockClient wires a Client around m with a constant embedder.
func newMockClient(m *mockSearchUC, vec []float64) *Client {
	return &Client{
		search: m,
		embed: embedFunc(EmbedderFunc(func(context.Context, string) ([]float64, error) {
			return vec, nil
		})),
	}
}
