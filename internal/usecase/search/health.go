package search

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
)

// Status is the aggregated health of the backend pair.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// ComponentHealth is the probe outcome of one backend.
type ComponentHealth struct {
	Kind  string
	Error error
}

// OK reports whether the probe succeeded.
func (c ComponentHealth) OK() bool { return c.Error == nil }

// Health is the result of HealthCheck.
type Health struct {
	Status Status
	Ready  bool
	Vector ComponentHealth
	Text   ComponentHealth
}

// HealthCheck probes both backends concurrently. The status is unhealthy
// until Initialize has succeeded or when both probes fail.
func (s *Service) HealthCheck(ctx context.Context) Health {
	h := Health{
		Ready:  s.ready.Load(),
		Vector: ComponentHealth{Kind: string(s.vector.Kind())},
		Text:   ComponentHealth{Kind: string(s.text.Kind())},
	}

	var g errgroup.Group
	g.Go(func() error {
		h.Vector.Error = s.vector.HealthCheck(ctx)
		return nil
	})
	g.Go(func() error {
		h.Text.Error = s.text.HealthCheck(ctx)
		return nil
	})
	_ = g.Wait()

	switch {
	case !h.Ready:
		h.Status = Unhealthy
	case h.Vector.OK() && h.Text.OK():
		h.Status = Healthy
	case h.Vector.OK() || h.Text.OK():
		h.Status = Degraded
	default:
		h.Status = Unhealthy
	}
	return h
}

// Stats gathers statistics from both backends and the rerank cache.
// A backend whose stats fail reports {"error": ...} in its place.
func (s *Service) Stats(ctx context.Context) map[string]any {
	var vStats, tStats backend.Stats
	var g errgroup.Group
	g.Go(func() error {
		st, err := s.vector.Stats(ctx)
		vStats = statsOrError(st, err)
		return nil
	})
	g.Go(func() error {
		st, err := s.text.Stats(ctx)
		tStats = statsOrError(st, err)
		return nil
	})
	_ = g.Wait()

	out := map[string]any{
		"ready":  s.ready.Load(),
		"vector": vStats,
		"text":   tStats,
		"fusion": map[string]any{
			"vector_weight":    s.opts.Weights.Vector,
			"text_weight":      s.opts.Weights.Text,
			"expansion_factor": s.opts.ExpansionFactor,
		},
	}
	if s.reranker != nil {
		out["rerank"] = map[string]any{
			"state": s.reranker.State().String(),
			"cache": s.reranker.CacheStats(),
		}
	}
	return out
}

func statsOrError(st backend.Stats, err error) backend.Stats {
	if err != nil {
		return backend.Stats{"error": err.Error()}
	}
	return st
}
