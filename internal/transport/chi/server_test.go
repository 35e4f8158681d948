package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/rerank"
	healthuc "github.com/kailas-cloud/hybridsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

// --- mocks ---

type mockSearcher struct {
	storeFn  func(ctx context.Context, chunks []document.Document, full document.Document) error
	deleteFn func(ctx context.Context, id string) error
	vectorFn func(ctx context.Context, req searchuc.VectorRequest) (searchuc.Response, error)
	textFn   func(ctx context.Context, req searchuc.TextRequest) (searchuc.Response, error)
	hybridFn func(ctx context.Context, req searchuc.HybridRequest) (searchuc.Response, error)
}

func (m *mockSearcher) StoreDocuments(ctx context.Context, chunks []document.Document, full document.Document) error {
	if m.storeFn != nil {
		return m.storeFn(ctx, chunks, full)
	}
	return nil
}

func (m *mockSearcher) DeleteDocument(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockSearcher) VectorSearch(ctx context.Context, req searchuc.VectorRequest) (searchuc.Response, error) {
	if m.vectorFn != nil {
		return m.vectorFn(ctx, req)
	}
	return searchuc.Response{}, nil
}

func (m *mockSearcher) TextSearch(ctx context.Context, req searchuc.TextRequest) (searchuc.Response, error) {
	if m.textFn != nil {
		return m.textFn(ctx, req)
	}
	return searchuc.Response{}, nil
}

func (m *mockSearcher) HybridSearch(ctx context.Context, req searchuc.HybridRequest) (searchuc.Response, error) {
	if m.hybridFn != nil {
		return m.hybridFn(ctx, req)
	}
	return searchuc.Response{}, nil
}

func (m *mockSearcher) Stats(context.Context) map[string]any {
	return map[string]any{"ready": true}
}

func (m *mockSearcher) VectorKind() backend.VectorKind { return backend.VectorHNSW }
func (m *mockSearcher) TextKind() backend.TextKind     { return backend.TextBleve }

type mockHealth struct{ report healthuc.Report }

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type mockRerankCache struct {
	stats   rerank.CacheStats
	cleared int
}

func (m *mockRerankCache) CacheStats() rerank.CacheStats { return m.stats }
func (m *mockRerankCache) ClearCache()                   { m.cleared++ }

type mockBackends struct{}

func (mockBackends) AvailableVectorKinds() []backend.VectorKind { return backend.VectorKinds }
func (mockBackends) AvailableTextKinds() []backend.TextKind     { return backend.TextKinds }

func constEmbed(vec []float64) searchuc.EmbedFunc {
	return func(context.Context, string) ([]float64, error) { return vec, nil }
}

func newTestServer(s *mockSearcher, opts Options) (*Server, *mockHealth, *mockRerankCache) {
	h := &mockHealth{report: healthuc.Report{Status: searchuc.Healthy, Checks: map[string]healthuc.CheckResult{}}}
	rc := &mockRerankCache{}
	srv := NewServer(s, h, rc, mockBackends{}, constEmbed([]float64{1, 0}), opts, zap.NewNop())
	return srv, h, rc
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var e errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&e); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return e
}

// --- documents ---

func TestStoreDocument(t *testing.T) {
	var gotChunks []document.Document
	var gotFull document.Document
	ms := &mockSearcher{storeFn: func(_ context.Context, chunks []document.Document, full document.Document) error {
		gotChunks, gotFull = chunks, full
		return nil
	}}
	srv, _, _ := newTestServer(ms, Options{})

	rr := do(t, srv.Router(), http.MethodPost, "/documents", map[string]any{
		"document_id": "doc1",
		"content":     "full text",
		"metadata":    map[string]any{"file_type": "pdf"},
		"chunks": []map[string]any{
			{"id": "doc1_0", "content": "first", "embedding": []float64{0, 1}},
			{"id": "doc1_1", "content": "second"},
		},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if gotFull.ID() != "doc1" || gotFull.Content() != "full text" {
		t.Errorf("unexpected full document %q %q", gotFull.ID(), gotFull.Content())
	}
	if len(gotChunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(gotChunks))
	}
	if got := gotChunks[1].Embedding(); len(got) != 2 || got[0] != 1 {
		t.Errorf("expected embedded chunk, got %v", got)
	}
	meta := gotChunks[0].Metadata()
	if meta[document.MetaDocumentID] != "doc1" || meta["file_type"] != "pdf" {
		t.Errorf("chunk metadata not inherited: %v", meta)
	}
}

func TestStoreDocument_UsesDocumentEmbedder(t *testing.T) {
	var got []float64
	ms := &mockSearcher{storeFn: func(_ context.Context, chunks []document.Document, _ document.Document) error {
		got = chunks[0].Embedding()
		return nil
	}}
	srv, _, _ := newTestServer(ms, Options{DocumentEmbed: constEmbed([]float64{0, 7})})

	rr := do(t, srv.Router(), http.MethodPost, "/documents", map[string]any{
		"document_id": "doc1",
		"content":     "full text",
		"chunks":      []map[string]any{{"id": "doc1_0", "content": "first"}},
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if len(got) != 2 || got[1] != 7 {
		t.Errorf("expected document embedder output, got %v", got)
	}
}

func TestStoreDocument_InvalidID(t *testing.T) {
	srv, _, _ := newTestServer(&mockSearcher{}, Options{})

	rr := do(t, srv.Router(), http.MethodPost, "/documents", map[string]any{
		"document_id": "bad id!",
		"content":     "x",
		"chunks":      []map[string]any{{"id": "c", "content": "x", "embedding": []float64{1, 0}}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != codeValidationFailed {
		t.Errorf("unexpected code %s", e.Code)
	}
}

func TestStoreDocument_MalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(&mockSearcher{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestStoreDocument_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"partial", &searchuc.StoreError{Op: "store", VectorErr: errors.New("down")}, http.StatusBadGateway, codePartialWrite},
		{"both", &searchuc.StoreError{Op: "store", VectorErr: errors.New("a"), TextErr: errors.New("b")},
			http.StatusServiceUnavailable, codeBackendUnavailable},
		{"dimension", &domain.DimensionError{ID: "c", Expected: 2, Got: 3}, http.StatusBadRequest, codeVectorDimMismatch},
		{"not ready", domain.ErrNotReady, http.StatusServiceUnavailable, codeNotReady},
		{"timeout", errors.Join(domain.ErrTimeout, context.DeadlineExceeded), http.StatusGatewayTimeout, codeTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := &mockSearcher{storeFn: func(context.Context, []document.Document, document.Document) error {
				return tt.err
			}}
			srv, _, _ := newTestServer(ms, Options{})

			rr := do(t, srv.Router(), http.MethodPost, "/documents", map[string]any{
				"document_id": "d",
				"content":     "x",
				"chunks":      []map[string]any{{"id": "c", "content": "x"}},
			})
			if rr.Code != tt.status {
				t.Fatalf("got %d, want %d", rr.Code, tt.status)
			}
			if e := decodeError(t, rr); e.Code != tt.code {
				t.Errorf("got code %s, want %s", e.Code, tt.code)
			}
		})
	}
}

func TestDeleteDocument(t *testing.T) {
	var gotID string
	ms := &mockSearcher{deleteFn: func(_ context.Context, id string) error {
		gotID = id
		return nil
	}}
	srv, _, _ := newTestServer(ms, Options{})

	rr := do(t, srv.Router(), http.MethodDelete, "/documents/doc1", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", rr.Code)
	}
	if gotID != "doc1" {
		t.Errorf("got id %q", gotID)
	}
}

// --- search ---

func TestHybridSearch(t *testing.T) {
	var got searchuc.HybridRequest
	fused := candidate.New("a", 0.9, candidate.Vector, "alpha", nil).
		Fuse(candidate.New("a", 0.5, candidate.Text, "alpha", nil), 0.74)
	ms := &mockSearcher{hybridFn: func(_ context.Context, req searchuc.HybridRequest) (searchuc.Response, error) {
		got = req
		return searchuc.Response{
			Candidates: []candidate.Candidate{fused},
			Failures:   []searchuc.Failure{{Side: searchuc.SideText, Err: errors.New("text down")}},
			Info:       searchuc.Info{Mode: searchuc.ModeHybrid, Weights: req.Weights},
		}, nil
	}}
	srv, _, _ := newTestServer(ms, Options{DefaultLimit: 7})

	rr := do(t, srv.Router(), http.MethodPost, "/search/hybrid", map[string]any{
		"query":         "alpha",
		"vector_weight": 0.6,
		"text_weight":   0.4,
		"filters":       map[string]any{"file_type": "pdf"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Limit != 7 {
		t.Errorf("expected default limit 7, got %d", got.Limit)
	}
	if got.Weights == nil || got.Weights.Vector != 0.6 || got.Weights.Text != 0.4 {
		t.Errorf("weights not forwarded: %+v", got.Weights)
	}
	if got.Embed == nil || got.Filters.IsEmpty() {
		t.Error("expected embed func and filters forwarded")
	}

	var resp searchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected one result, got %d", len(resp.Results))
	}
	item := resp.Results[0]
	if item.Source != candidate.Hybrid || item.VectorScore == nil || *item.VectorScore != 0.9 ||
		item.TextScore == nil || *item.TextScore != 0.5 {
		t.Errorf("unexpected item %+v", item)
	}
	if !resp.Degraded || len(resp.Failures) != 1 || resp.Failures[0].Side != searchuc.SideText {
		t.Errorf("expected degraded response, got %+v", resp)
	}
}

func TestHybridSearch_SingleWeightRejected(t *testing.T) {
	srv, _, _ := newTestServer(&mockSearcher{}, Options{})

	rr := do(t, srv.Router(), http.MethodPost, "/search/hybrid", map[string]any{
		"query":         "q",
		"vector_weight": 0.5,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestHybridSearch_BothLegsFailed(t *testing.T) {
	ms := &mockSearcher{hybridFn: func(context.Context, searchuc.HybridRequest) (searchuc.Response, error) {
		return searchuc.Response{}, &searchuc.HybridError{VectorErr: errors.New("a"), TextErr: errors.New("b")}
	}}
	srv, _, _ := newTestServer(ms, Options{})

	rr := do(t, srv.Router(), http.MethodPost, "/search/hybrid", map[string]any{"query": "q"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rr.Code)
	}
}

func TestVectorSearch_Reranked(t *testing.T) {
	reranked := candidate.New("a", 0.3, candidate.Vector, "alpha", nil).Rerank(2.5, 1)
	ms := &mockSearcher{vectorFn: func(_ context.Context, req searchuc.VectorRequest) (searchuc.Response, error) {
		if !req.Rerank || req.RerankTopK != 5 || req.Limit != 3 {
			t.Errorf("unexpected request %+v", req)
		}
		return searchuc.Response{
			Candidates: []candidate.Candidate{reranked},
			Info: searchuc.Info{
				Mode: searchuc.ModeVector, RerankRequested: true, RerankApplied: true,
				Rerank: &rerank.Info{Model: "bge", RerankedCount: 1},
			},
		}, nil
	}}
	srv, _, _ := newTestServer(ms, Options{})

	rr := do(t, srv.Router(), http.MethodPost, "/search/vector", map[string]any{
		"query": "alpha", "limit": 3, "rerank": true, "rerank_top_k": 5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body.String())
	}

	var resp searchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	item := resp.Results[0]
	if item.RankPosition != 1 || item.RerankScore == nil || *item.RerankScore != 2.5 ||
		item.OriginalScore == nil || *item.OriginalScore != 0.3 {
		t.Errorf("unexpected rerank fields %+v", item)
	}
	if resp.Info.Rerank == nil || resp.Info.Rerank.Model != "bge" || !resp.Info.RerankApplied {
		t.Errorf("unexpected info %+v", resp.Info)
	}
}

func TestTextSearch_Timeout(t *testing.T) {
	ms := &mockSearcher{textFn: func(context.Context, searchuc.TextRequest) (searchuc.Response, error) {
		return searchuc.Response{}, errors.Join(domain.ErrTimeout, context.Canceled)
	}}
	srv, _, _ := newTestServer(ms, Options{})

	rr := do(t, srv.Router(), http.MethodPost, "/search/text", map[string]any{"query": "q"})
	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("got %d, want 504", rr.Code)
	}
}

func TestTextSearch_BadFilter(t *testing.T) {
	srv, _, _ := newTestServer(&mockSearcher{}, Options{})

	rr := do(t, srv.Router(), http.MethodPost, "/search/text", map[string]any{
		"query":   "q",
		"filters": map[string]any{"chunk_index": map[string]any{"gt": "x"}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

// --- operational endpoints ---

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		status searchuc.Status
		code   int
	}{
		{searchuc.Healthy, http.StatusOK},
		{searchuc.Degraded, http.StatusOK},
		{searchuc.Unhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			srv, h, _ := newTestServer(&mockSearcher{}, Options{})
			h.report = healthuc.Report{Status: tt.status, Checks: map[string]healthuc.CheckResult{
				"vector:hnsw": healthuc.CheckOK,
			}}

			rr := do(t, srv.Router(), http.MethodGet, "/health", nil)
			if rr.Code != tt.code {
				t.Fatalf("got %d, want %d", rr.Code, tt.code)
			}
			var resp healthResponse
			_ = json.NewDecoder(rr.Body).Decode(&resp)
			if resp.Status != string(tt.status) || resp.Checks["vector:hnsw"] != "ok" {
				t.Errorf("unexpected body %+v", resp)
			}
		})
	}
}

func TestBackends(t *testing.T) {
	srv, _, _ := newTestServer(&mockSearcher{}, Options{})

	rr := do(t, srv.Router(), http.MethodGet, "/backends", nil)
	var resp backendsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Vector) != len(backend.VectorKinds) || len(resp.Text) != len(backend.TextKinds) {
		t.Errorf("unexpected kinds %+v", resp)
	}
	if resp.Active["vector"] != "hnsw" || resp.Active["text"] != "bleve" {
		t.Errorf("unexpected active pair %v", resp.Active)
	}
}

func TestRerankCache(t *testing.T) {
	srv, _, rc := newTestServer(&mockSearcher{}, Options{})
	rc.stats = rerank.CacheStats{Enabled: true, Size: 3, MaxSize: 10}

	rr := do(t, srv.Router(), http.MethodGet, "/rerank/cache", nil)
	var stats rerank.CacheStats
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Size != 3 || stats.MaxSize != 10 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rr = do(t, srv.Router(), http.MethodDelete, "/rerank/cache", nil)
	if rr.Code != http.StatusNoContent || rc.cleared != 1 {
		t.Errorf("expected cache cleared, got %d cleared=%d", rr.Code, rc.cleared)
	}
}

func TestStats(t *testing.T) {
	srv, _, _ := newTestServer(&mockSearcher{}, Options{})

	rr := do(t, srv.Router(), http.MethodGet, "/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d", rr.Code)
	}
}

func TestRouter_AuthAndRequestID(t *testing.T) {
	srv, _, _ := newTestServer(&mockSearcher{}, Options{APIKeys: []string{"secret"}})
	h := srv.Router()

	rr := do(t, h, http.MethodGet, "/stats", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	rr = do(t, h, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("health must bypass auth, got %d", rr.Code)
	}
}

func TestRouter_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(&mockSearcher{}, Options{})

	rr := do(t, srv.Router(), http.MethodGet, "/collections", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := jsonRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rr.Code)
	}
	if e := decodeError(t, rr); e.Code != codeInternal {
		t.Errorf("unexpected code %s", e.Code)
	}
}
