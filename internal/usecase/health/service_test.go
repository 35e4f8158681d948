package health

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/hybridsearch/internal/rerank"
	"github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

// --- Mocks ---

type mockSearch struct {
	health search.Health
}

func (m *mockSearch) HealthCheck(_ context.Context) search.Health { return m.health }

type mockEmbeddingChecker struct {
	err error
}

func (m *mockEmbeddingChecker) HealthCheck(_ context.Context) error { return m.err }

type mockRerank struct {
	state rerank.State
}

func (m *mockRerank) State() rerank.State { return m.state }

func pair(status search.Status, vErr, tErr error) *mockSearch {
	return &mockSearch{health: search.Health{
		Status: status,
		Ready:  true,
		Vector: search.ComponentHealth{Kind: "redis", Error: vErr},
		Text:   search.ComponentHealth{Kind: "bleve", Error: tErr},
	}}
}

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(pair(search.Healthy, nil, nil), &mockEmbeddingChecker{}, &mockRerank{state: rerank.StateReady})
	r := svc.Check(context.Background())

	if r.Status != search.Healthy {
		t.Errorf("expected %q, got %q", search.Healthy, r.Status)
	}
	for _, name := range []string{"vector:redis", "text:bleve", "embedding", "rerank"} {
		if r.Checks[name] != CheckOK {
			t.Errorf("expected %s %q, got %q", name, CheckOK, r.Checks[name])
		}
	}
}

func TestCheck_BackendDown(t *testing.T) {
	svc := New(pair(search.Degraded, nil, errors.New("conn refused")), &mockEmbeddingChecker{}, nil)
	r := svc.Check(context.Background())

	if r.Status != search.Degraded {
		t.Errorf("expected %q, got %q", search.Degraded, r.Status)
	}
	if r.Checks["text:bleve"] != CheckError {
		t.Errorf("expected text error, got %q", r.Checks["text:bleve"])
	}
	if _, ok := r.Checks["rerank"]; ok {
		t.Error("rerank check should be absent when rerank is nil")
	}
}

func TestCheck_EmbeddingErrorDegrades(t *testing.T) {
	svc := New(pair(search.Healthy, nil, nil), &mockEmbeddingChecker{err: errors.New("timeout")}, nil)
	r := svc.Check(context.Background())

	if r.Status != search.Degraded {
		t.Errorf("expected %q, got %q", search.Degraded, r.Status)
	}
	if r.Checks["embedding"] != CheckError {
		t.Errorf("expected embedding %q, got %q", CheckError, r.Checks["embedding"])
	}
}

func TestCheck_UnhealthyStaysUnhealthy(t *testing.T) {
	down := errors.New("down")
	svc := New(pair(search.Unhealthy, down, down), &mockEmbeddingChecker{err: down}, nil)
	r := svc.Check(context.Background())

	if r.Status != search.Unhealthy {
		t.Errorf("expected %q, got %q", search.Unhealthy, r.Status)
	}
}

func TestCheck_RerankDisabled(t *testing.T) {
	svc := New(pair(search.Healthy, nil, nil), nil, &mockRerank{state: rerank.StateDisabled})
	r := svc.Check(context.Background())

	if r.Status != search.Healthy {
		t.Errorf("disabled rerank must not degrade, got %q", r.Status)
	}
	if r.Checks["rerank"] != CheckDisabled {
		t.Errorf("expected rerank %q, got %q", CheckDisabled, r.Checks["rerank"])
	}
	if _, ok := r.Checks["embedding"]; ok {
		t.Error("embedding check should be absent when embedding is nil")
	}
}
