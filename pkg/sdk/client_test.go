package hybridsearch

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

func TestNew_RequiresDimensions(t *testing.T) {
	if _, err := New(context.Background()); err == nil {
		t.Fatal("expected error without dimensions")
	}
}

func TestClientOptions(t *testing.T) {
	cc := defaultClientConfig()
	for _, o := range []Option{
		WithValkey("localhost:6379", "secret"),
		WithSQLite(":memory:"),
		WithDimensions(8),
		WithWeights(0.5, 0.5),
		WithRerankCache(0),
	} {
		o.apply(cc)
	}

	if cc.cfg.Search.VectorBackend != "valkey" || cc.cfg.Search.TextBackend != "sqlite" {
		t.Errorf("unexpected pair %s/%s", cc.cfg.Search.VectorBackend, cc.cfg.Search.TextBackend)
	}
	if cc.cfg.Redis.Driver != "valkey" || cc.cfg.Redis.Password != "secret" {
		t.Errorf("unexpected redis config %+v", cc.cfg.Redis)
	}
	if cc.cfg.Search.Dimensions != 8 || cc.cfg.Search.VectorWeight != 0.5 {
		t.Errorf("unexpected search config %+v", cc.cfg.Search)
	}
	if cc.cfg.Rerank.CacheCapacity != 0 {
		t.Errorf("expected rerank cache disabled, got %d", cc.cfg.Rerank.CacheCapacity)
	}
}

func TestWithValkey_KeepsTextOffRedis(t *testing.T) {
	cc := defaultClientConfig()
	WithRedis("r:6379", "").apply(cc)
	WithValkey("v:6379", "").apply(cc)

	if cc.cfg.Search.TextBackend != "bleve" {
		t.Errorf("valkey has no text engine, got text backend %q", cc.cfg.Search.TextBackend)
	}
}

func TestStore_SingleChunkDefault(t *testing.T) {
	var gotChunks []document.Document
	var gotFull document.Document
	m := &mockSearchUC{
		storeFn: func(_ context.Context, chunks []document.Document, full document.Document) error {
			gotChunks, gotFull = chunks, full
			return nil
		},
	}
	c := newMockClient(m, []float64{1, 0})

	err := c.Store(context.Background(), Document{
		ID: "doc-1", Content: "hello", Metadata: map[string]any{"lang": "en"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotChunks) != 1 || gotChunks[0].ID() != "doc-1" {
		t.Fatalf("expected one chunk for doc-1, got %d", len(gotChunks))
	}
	meta := gotChunks[0].Metadata()
	if meta["lang"] != "en" || meta[document.MetaDocumentID] != "doc-1" || meta[document.MetaChunkIndex] != 0 {
		t.Errorf("unexpected chunk metadata %v", meta)
	}
	if len(gotChunks[0].Embedding()) != 2 {
		t.Errorf("expected embedded chunk, got %v", gotChunks[0].Embedding())
	}
	if gotFull.Content() != "hello" {
		t.Errorf("unexpected full document %q", gotFull.Content())
	}
}

func TestStore_KeepsProvidedEmbedding(t *testing.T) {
	var got []float64
	m := &mockSearchUC{
		storeFn: func(_ context.Context, chunks []document.Document, _ document.Document) error {
			got = chunks[0].Embedding()
			return nil
		},
	}
	c := newMockClient(m, []float64{9, 9})

	err := c.Store(context.Background(), Document{
		ID: "doc", Content: "x",
		Chunks: []Chunk{{ID: "doc_0", Content: "x", Embedding: []float64{1, 2}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("provided embedding replaced: %v", got)
	}
}

func TestStore_InvalidID(t *testing.T) {
	c := newMockClient(&mockSearchUC{}, []float64{1})

	err := c.Store(context.Background(), Document{ID: "", Content: "x"})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestStore_NoEmbedder(t *testing.T) {
	c := &Client{search: &mockSearchUC{}, embed: embedFunc(nil)}

	if err := c.Store(context.Background(), Document{ID: "d", Content: "x"}); err == nil {
		t.Fatal("expected error without embedder")
	}
}

func TestStore_PartialWrite(t *testing.T) {
	m := &mockSearchUC{
		storeFn: func(context.Context, []document.Document, document.Document) error {
			return &searchuc.StoreError{Op: "store documents", TextErr: errors.New("down")}
		},
	}
	c := newMockClient(m, []float64{1})

	err := c.Store(context.Background(), Document{ID: "d", Content: "x"})
	if !errors.Is(err, ErrPartialWrite) {
		t.Fatalf("expected partial write, got %v", err)
	}
}

func TestEmbedFunc_WrapsProviderError(t *testing.T) {
	fn := embedFunc(EmbedderFunc(func(context.Context, string) ([]float64, error) {
		return nil, errors.New("rate limited")
	}))

	_, err := fn(context.Background(), "q")
	if !errors.Is(err, ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestHybrid_PassesOptions(t *testing.T) {
	var got searchuc.HybridRequest
	m := &mockSearchUC{
		hybridFn: func(_ context.Context, req searchuc.HybridRequest) (searchuc.Response, error) {
			got = req
			c := candidate.New("a", 0.8, candidate.Vector, "x", nil).
				Fuse(candidate.New("a", 0.4, candidate.Text, "x", nil), 0.6)
			return searchuc.Response{
				Candidates: []candidate.Candidate{c},
				Failures:   nil,
			}, nil
		},
	}
	c := newMockClient(m, []float64{1})

	resp, err := c.Hybrid(context.Background(), "query",
		Limit(3), Weights(0.2, 0.8), Filter("lang", "en"), Rerank(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != 3 || got.Weights == nil || got.Weights.Text != 0.8 {
		t.Errorf("unexpected request %+v", got)
	}
	if !got.Rerank || got.RerankTopK != 20 || got.Filters.IsEmpty() {
		t.Errorf("rerank or filter not forwarded: %+v", got)
	}
	if len(resp.Results) != 1 || resp.Total != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	r := resp.Results[0]
	if r.Source != "hybrid" || r.VectorScore == nil || r.TextScore == nil || r.Score != 0.6 {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestHybrid_Degraded(t *testing.T) {
	m := &mockSearchUC{
		hybridFn: func(context.Context, searchuc.HybridRequest) (searchuc.Response, error) {
			return searchuc.Response{
				Candidates: []candidate.Candidate{candidate.New("a", 0.5, candidate.Text, "x", nil)},
				Failures:   []searchuc.Failure{{Side: searchuc.SideVector, Err: errors.New("timeout")}},
			}, nil
		},
	}
	c := newMockClient(m, []float64{1})

	resp, err := c.Hybrid(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Degraded() || resp.Failures[0].Side != "vector" {
		t.Errorf("expected degraded vector failure, got %+v", resp.Failures)
	}
}

func TestText_BadFilter(t *testing.T) {
	c := newMockClient(&mockSearchUC{}, nil)

	_, err := c.Text(context.Background(), "q", Filter("n", map[string]any{"between": 1}))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestVector_DefaultLimit(t *testing.T) {
	var got searchuc.VectorRequest
	m := &mockSearchUC{
		vectorFn: func(_ context.Context, req searchuc.VectorRequest) (searchuc.Response, error) {
			got = req
			return searchuc.Response{}, nil
		},
	}
	c := newMockClient(m, []float64{1})

	if _, err := c.Vector(context.Background(), "q", Threshold(0.3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Limit != defaultLimit || got.ScoreThreshold != 0.3 || got.Embed == nil {
		t.Errorf("unexpected request %+v", got)
	}
}
