package health

import (
	"context"

	"github.com/kailas-cloud/hybridsearch/internal/rerank"
	"github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
	// CheckDisabled marks an optional component that is switched off.
	CheckDisabled CheckResult = "disabled"
)

// Report aggregates health check results.
type Report struct {
	Status search.Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	search    SearchChecker
	embedding EmbeddingChecker
	rerank    RerankStater
}

// New creates a Service. embedding and rerank can be nil.
func New(s SearchChecker, embedding EmbeddingChecker, rr RerankStater) *Service {
	return &Service{search: s, embedding: embedding, rerank: rr}
}

// Check runs health checks against all components. The backend pair decides
// the base status; a failing embedding provider degrades a healthy pair.
func (s *Service) Check(ctx context.Context) Report {
	h := s.search.HealthCheck(ctx)
	checks := map[string]CheckResult{
		"vector:" + h.Vector.Kind: result(h.Vector.Error),
		"text:" + h.Text.Kind:     result(h.Text.Error),
	}
	status := h.Status

	if s.embedding != nil {
		checks["embedding"] = result(s.embedding.HealthCheck(ctx))
		if checks["embedding"] == CheckError && status == search.Healthy {
			status = search.Degraded
		}
	}

	if s.rerank != nil {
		checks["rerank"] = CheckDisabled
		if s.rerank.State() == rerank.StateReady {
			checks["rerank"] = CheckOK
		}
	}

	return Report{Status: status, Checks: checks}
}

func result(err error) CheckResult {
	if err != nil {
		return CheckError
	}
	return CheckOK
}
