package hybridsearch

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// keywordEmbedder places "apple" and "banana" on separate axes.
func keywordEmbedder() Embedder {
	return EmbedderFunc(func(_ context.Context, text string) ([]float64, error) {
		vec := []float64{0.1, 0.1, 0.1, 0.1}
		if strings.Contains(text, "apple") {
			vec[0] = 1
		}
		if strings.Contains(text, "banana") {
			vec[1] = 1
		}
		return vec, nil
	})
}

// lengthScorer prefers longer documents.
func lengthScorer(_ context.Context, _ string, docs []string) ([]float64, error) {
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = float64(len(d))
	}
	return out, nil
}

func TestClient_EmbeddedEngines(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	c, err := New(ctx,
		WithHNSW(""),
		WithBleve(""),
		WithDimensions(4),
		WithEmbedder(keywordEmbedder()),
		WithReranker("length", lengthScorer),
		WithPrometheus(reg),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	for _, d := range []Document{
		{ID: "a", Content: "apple pie recipe"},
		{ID: "b", Content: "banana bread recipe"},
	} {
		if err := c.Store(ctx, d); err != nil {
			t.Fatalf("Store %s: %v", d.ID, err)
		}
	}

	resp, err := c.Hybrid(ctx, "apple recipe", Limit(2))
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	if resp.Degraded() || len(resp.Results) != 2 || resp.Results[0].ID != "a" {
		t.Fatalf("expected apple first from both engines, got %+v", resp)
	}

	reranked, err := c.Hybrid(ctx, "apple recipe", Limit(2), Rerank(10))
	if err != nil {
		t.Fatalf("Hybrid rerank: %v", err)
	}
	if !reranked.Reranked || reranked.Results[0].ID != "b" || reranked.Results[0].Rank != 1 {
		t.Fatalf("expected longer document first after rerank, got %+v", reranked.Results)
	}

	again, err := c.Hybrid(ctx, "apple recipe", Limit(2), Rerank(10))
	if err != nil {
		t.Fatalf("Hybrid rerank again: %v", err)
	}
	if !again.RerankFromCache {
		t.Error("expected the repeated rerank to hit the cache")
	}

	text, err := c.Text(ctx, "banana")
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if len(text.Results) != 1 || text.Results[0].ID != "b" {
		t.Errorf("unexpected text results %+v", text.Results)
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	vec, err := c.Vector(ctx, "apple", Limit(5))
	if err != nil {
		t.Fatalf("Vector: %v", err)
	}
	for _, r := range vec.Results {
		if r.ID == "a" {
			t.Error("deleted document still returned")
		}
	}

	if h := c.Health(ctx); h.Status != "healthy" {
		t.Errorf("expected healthy, got %+v", h)
	}

	if n := testutil.CollectAndCount(reg, "hybridsearch_sdk_operations_total"); n == 0 {
		t.Error("expected sdk operation metrics")
	}
}
