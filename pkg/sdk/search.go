package hybridsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

const defaultLimit = 10

// SearchOption tunes a single search call.
type SearchOption func(*searchParams)

type searchParams struct {
	limit     int
	offset    int
	threshold float64
	weights   *searchuc.Weights
	filters   map[string]any
	rerank    bool
	rerankK   int
	highlight bool
}

// Limit caps the number of results. Default: 10.
func Limit(n int) SearchOption {
	return func(p *searchParams) { p.limit = n }
}

// Offset skips the first n text results. Text search only.
func Offset(n int) SearchOption {
	return func(p *searchParams) { p.offset = n }
}

// Threshold drops vector hits scoring below score.
func Threshold(score float64) SearchOption {
	return func(p *searchParams) { p.threshold = score }
}

// Weights overrides the client's fusion weights. Hybrid search only.
func Weights(vector, text float64) SearchOption {
	return func(p *searchParams) { p.weights = &searchuc.Weights{Vector: vector, Text: text} }
}

// Filter adds a metadata condition. value is a string or number for
// equality, a []string for any-of, or a map with gt/gte/lt/lte bounds.
func Filter(key string, value any) SearchOption {
	return func(p *searchParams) {
		if p.filters == nil {
			p.filters = make(map[string]any)
		}
		p.filters[key] = value
	}
}

// Rerank reorders the top candidates with the configured reranker. topK <= 0
// uses the client's default. Ignored by text search.
func Rerank(topK int) SearchOption {
	return func(p *searchParams) {
		p.rerank = true
		p.rerankK = topK
	}
}

// Highlight requests matched fragments from the text backend.
func Highlight() SearchOption {
	return func(p *searchParams) { p.highlight = true }
}

func buildParams(opts []SearchOption) (searchParams, filter.Expression, error) {
	p := searchParams{limit: defaultLimit}
	for _, o := range opts {
		o(&p)
	}
	f, err := filter.FromMap(p.filters)
	if err != nil {
		return p, filter.Expression{}, domain.InvalidInputf("%v", err)
	}
	return p, f, nil
}

// Vector runs a similarity search over chunk embeddings.
func (c *Client) Vector(ctx context.Context, query string, opts ...SearchOption) (resp Response, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search_vector", start, err) }()

	p, f, err := buildParams(opts)
	if err != nil {
		return Response{}, err
	}
	r, err := c.search.VectorSearch(ctx, searchuc.VectorRequest{
		Query:          query,
		Limit:          p.limit,
		ScoreThreshold: p.threshold,
		Filters:        f,
		Embed:          c.embed,
		Rerank:         p.rerank,
		RerankTopK:     p.rerankK,
	})
	if err != nil {
		return Response{}, fmt.Errorf("vector search: %w", err)
	}
	return fromResponse(r), nil
}

// Text runs a full-text search over whole documents.
func (c *Client) Text(ctx context.Context, query string, opts ...SearchOption) (resp Response, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search_text", start, err) }()

	p, f, err := buildParams(opts)
	if err != nil {
		return Response{}, err
	}
	r, err := c.search.TextSearch(ctx, searchuc.TextRequest{
		Query:     query,
		Limit:     p.limit,
		Offset:    p.offset,
		Filters:   f,
		Highlight: p.highlight,
	})
	if err != nil {
		return Response{}, fmt.Errorf("text search: %w", err)
	}
	return fromResponse(r), nil
}

// Hybrid queries both backends concurrently and fuses the results. When one
// backend fails the other's results are returned and Response.Degraded is true.
func (c *Client) Hybrid(ctx context.Context, query string, opts ...SearchOption) (resp Response, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search_hybrid", start, err) }()

	p, f, err := buildParams(opts)
	if err != nil {
		return Response{}, err
	}
	r, err := c.search.HybridSearch(ctx, searchuc.HybridRequest{
		Query:          query,
		Limit:          p.limit,
		Weights:        p.weights,
		ScoreThreshold: p.threshold,
		Filters:        f,
		Embed:          c.embed,
		Rerank:         p.rerank,
		RerankTopK:     p.rerankK,
		Highlight:      p.highlight,
	})
	if err != nil {
		return Response{}, fmt.Errorf("hybrid search: %w", err)
	}

	resp = fromResponse(r)
	if resp.Degraded() {
		c.obs.degradedSearch(resp.Failures)
	}
	return resp, nil
}

func fromResponse(r searchuc.Response) Response {
	out := Response{
		Results:         make([]Result, 0, len(r.Candidates)),
		Total:           r.Total,
		Reranked:        r.Info.RerankApplied,
		RerankFromCache: r.Info.RerankFromCache,
		Elapsed:         r.Info.Elapsed,
	}
	if out.Total == 0 {
		out.Total = len(r.Candidates)
	}
	for _, c := range r.Candidates {
		out.Results = append(out.Results, fromCandidate(c))
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, Failure{Side: string(f.Side), Err: f.Err})
	}
	return out
}

func fromCandidate(c candidate.Candidate) Result {
	res := Result{
		ID:         c.ID(),
		Score:      c.Score(),
		Source:     string(c.Source()),
		Content:    c.Content(),
		Metadata:   c.Metadata(),
		Highlights: c.Highlights(),
	}
	if v, ok := c.VectorScore(); ok {
		res.VectorScore = &v
	}
	if t, ok := c.TextScore(); ok {
		res.TextScore = &t
	}
	if c.Reranked() {
		rs, orig := c.RerankScore(), c.OriginalScore()
		res.RerankScore = &rs
		res.OriginalScore = &orig
		res.Rank = c.Rank()
	}
	return res
}
