package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/hybridsearch/internal/metrics"
	"github.com/kailas-cloud/hybridsearch/internal/rerank"
)

// Mode tags a search call.
type Mode string

const (
	ModeVector Mode = "vector"
	ModeText   Mode = "text"
	ModeHybrid Mode = "hybrid"
)

// Options are the orchestrator defaults.
type Options struct {
	Weights         Weights
	ExpansionFactor int
	RerankTopK      int
	Dimensions      int
	// Timeout bounds calls whose context carries no deadline. Zero means none.
	Timeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Weights.Vector == 0 && o.Weights.Text == 0 {
		o.Weights = Weights{Vector: 0.7, Text: 0.3}
	}
	if o.ExpansionFactor <= 0 {
		o.ExpansionFactor = 3
	}
	if o.RerankTopK <= 0 {
		o.RerankTopK = 100
	}
}

// VectorRequest is a similarity search.
type VectorRequest struct {
	Query          string
	Limit          int
	ScoreThreshold float64 // <= 0 disables thresholding
	Filters        filter.Expression
	Embed          EmbedFunc
	Rerank         bool
	RerankTopK     int // <= 0 uses the default
}

// TextRequest is a full-text search.
type TextRequest struct {
	Query     string
	Limit     int
	Offset    int
	Filters   filter.Expression
	Highlight bool
}

// HybridRequest runs vector and text search together and fuses the results.
type HybridRequest struct {
	Query          string
	Limit          int
	Weights        *Weights // nil uses the defaults
	ScoreThreshold float64  // vector leg only
	Filters        filter.Expression
	Embed          EmbedFunc
	Rerank         bool
	RerankTopK     int
	Highlight      bool
}

// Info describes how a response was produced.
type Info struct {
	Mode            Mode
	VectorBackend   backend.VectorKind
	TextBackend     backend.TextKind
	VectorCount     int
	TextCount       int
	Weights         *Weights
	Elapsed         time.Duration
	RerankRequested bool
	RerankApplied   bool
	RerankFromCache bool
	Rerank          *rerank.Info
}

// Response is a search result. Failures is non-empty when one hybrid leg
// failed and the other's results were returned.
type Response struct {
	Candidates []candidate.Candidate
	Total      int // text engine match count, text mode only
	Failures   []Failure
	Info       Info
}

// Degraded reports whether a backend failed during the call.
func (r Response) Degraded() bool { return len(r.Failures) > 0 }

// Service coordinates one vector backend and one text backend.
type Service struct {
	vector   backend.VectorBackend
	text     backend.TextBackend
	reranker Reranker
	opts     Options
	logger   *zap.Logger
	ready    atomic.Bool
}

// New creates an orchestrator over already constructed backends.
// reranker may be nil, in which case rerank requests are ignored.
func New(
	vector backend.VectorBackend, text backend.TextBackend,
	reranker Reranker, opts Options, logger *zap.Logger,
) *Service {
	opts.applyDefaults()
	return &Service{
		vector:   vector,
		text:     text,
		reranker: reranker,
		opts:     opts,
		logger:   logger.With(zap.String("component", "search")),
	}
}

// Initialize initializes both backends concurrently. The service becomes
// ready only if both succeed.
func (s *Service) Initialize(ctx context.Context) error {
	var vErr, tErr error
	var g errgroup.Group
	g.Go(func() error {
		vErr = s.vector.Initialize(ctx)
		return nil
	})
	g.Go(func() error {
		tErr = s.text.Initialize(ctx)
		return nil
	})
	_ = g.Wait()

	if vErr != nil || tErr != nil {
		s.logger.Error("backend initialization failed",
			zap.String("vector_backend", string(s.vector.Kind())),
			zap.String("text_backend", string(s.text.Kind())),
			zap.NamedError("vector_error", vErr),
			zap.NamedError("text_error", tErr),
		)
		return &InitError{VectorErr: vErr, TextErr: tErr}
	}

	s.ready.Store(true)
	s.logger.Info("search service ready",
		zap.String("vector_backend", string(s.vector.Kind())),
		zap.String("text_backend", string(s.text.Kind())),
	)
	return nil
}

// Ready reports whether Initialize succeeded.
func (s *Service) Ready() bool { return s.ready.Load() }

// VectorKind returns the configured vector backend kind.
func (s *Service) VectorKind() backend.VectorKind { return s.vector.Kind() }

// TextKind returns the configured text backend kind.
func (s *Service) TextKind() backend.TextKind { return s.text.Kind() }

// Close closes both backends.
func (s *Service) Close() error {
	return errors.Join(s.vector.Close(), s.text.Close())
}

func (s *Service) checkReady() error {
	if !s.ready.Load() {
		return domain.ErrNotReady
	}
	return nil
}

// withTimeout applies the default timeout when ctx has no deadline.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// StoreDocuments writes chunks to the vector backend and full to the text
// backend concurrently. The whole call is validated before either write.
func (s *Service) StoreDocuments(ctx context.Context, chunks []document.Document, full document.Document) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return invalidf("at least one chunk is required")
	}
	if err := document.ValidateBatch(chunks, s.opts.Dimensions); err != nil {
		return fmt.Errorf("store documents: %w", err)
	}
	if err := full.ValidateForText(); err != nil {
		return fmt.Errorf("store documents: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var vErr, tErr error
	var g errgroup.Group
	g.Go(func() error {
		vErr = s.vector.StoreEmbeddings(ctx, chunks)
		return nil
	})
	g.Go(func() error {
		tErr = s.text.IndexDocuments(ctx, []document.Document{full})
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return timeoutErr("store documents", err)
	}
	if vErr != nil || tErr != nil {
		s.countFailures("store", vErr, tErr)
		s.logger.Warn("store failed",
			zap.String("document_id", full.DocumentID()),
			zap.NamedError("vector_error", vErr),
			zap.NamedError("text_error", tErr),
		)
		return &StoreError{Op: "store documents", VectorErr: vErr, TextErr: tErr}
	}
	return nil
}

// DeleteDocument deletes id, and every chunk whose document_id is id, from
// both backends concurrently.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return invalidf("document id is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var vErr, tErr error
	var g errgroup.Group
	g.Go(func() error {
		vErr = s.vector.DeleteDocument(ctx, id)
		return nil
	})
	g.Go(func() error {
		tErr = s.text.DeleteDocument(ctx, id)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return timeoutErr("delete document", err)
	}
	if vErr != nil || tErr != nil {
		s.countFailures("delete", vErr, tErr)
		return &StoreError{Op: "delete document", VectorErr: vErr, TextErr: tErr}
	}
	return nil
}

// VectorSearch embeds the query and runs a similarity search, over-fetching
// when a rerank is requested.
func (s *Service) VectorSearch(ctx context.Context, req VectorRequest) (Response, error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return Response{}, err
	}
	if err := validateQuery(req.Query, req.Limit); err != nil {
		return Response{}, err
	}
	if req.Embed == nil {
		return Response{}, invalidf("embed function is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	topK := s.rerankTopK(req.RerankTopK)
	fetch := req.Limit
	if req.Rerank {
		fetch = s.fetchSize(req.Limit, topK)
	}

	hits, err := s.vectorLeg(ctx, req.Query, req.Embed, fetch, req.ScoreThreshold, req.Filters)
	if ctxErr := ctx.Err(); ctxErr != nil {
		observe(ModeVector, "timeout", start)
		return Response{}, timeoutErr("vector search", ctxErr)
	}
	if err != nil {
		observe(ModeVector, "error", start)
		return Response{}, fmt.Errorf("vector search: %w", err)
	}

	resp := Response{Info: Info{
		Mode:            ModeVector,
		VectorBackend:   s.vector.Kind(),
		VectorCount:     len(hits),
		RerankRequested: req.Rerank,
	}}
	cands := s.rerank(ctx, req.Query, hits, req.Rerank, topK, &resp.Info)
	if ctxErr := ctx.Err(); ctxErr != nil {
		observe(ModeVector, "timeout", start)
		return Response{}, timeoutErr("vector search", ctxErr)
	}

	resp.Candidates = candidate.Truncate(cands, req.Limit)
	resp.Info.Elapsed = time.Since(start)
	observe(ModeVector, "ok", start)
	return resp, nil
}

// TextSearch passes the query to the text backend.
func (s *Service) TextSearch(ctx context.Context, req TextRequest) (Response, error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return Response{}, err
	}
	q := backend.TextQuery{
		Query:     req.Query,
		Limit:     req.Limit,
		Offset:    req.Offset,
		Filters:   req.Filters,
		Highlight: req.Highlight,
	}
	if err := q.Validate(); err != nil {
		return Response{}, err //nolint:wrapcheck // already an invalid-input error
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.text.SearchText(ctx, q)
	if ctxErr := ctx.Err(); ctxErr != nil {
		observe(ModeText, "timeout", start)
		return Response{}, timeoutErr("text search", ctxErr)
	}
	if err != nil {
		metrics.BackendErrorsTotal.WithLabelValues(string(SideText), "search").Inc()
		observe(ModeText, "error", start)
		return Response{}, fmt.Errorf("text search: %s: %w", s.text.Kind(), err)
	}

	observe(ModeText, "ok", start)
	return Response{
		Candidates: res.Hits,
		Total:      res.Total,
		Info: Info{
			Mode:        ModeText,
			TextBackend: s.text.Kind(),
			TextCount:   len(res.Hits),
			Elapsed:     time.Since(start),
		},
	}, nil
}

// HybridSearch runs both legs concurrently and fuses their results by id.
// One failing leg degrades the response; both failing is a *HybridError.
// Caller cancellation always yields a timeout error.
func (s *Service) HybridSearch(ctx context.Context, req HybridRequest) (Response, error) {
	start := time.Now()
	if err := s.checkReady(); err != nil {
		return Response{}, err
	}
	if err := validateQuery(req.Query, req.Limit); err != nil {
		return Response{}, err
	}
	if req.Embed == nil {
		return Response{}, invalidf("embed function is required")
	}
	weights := s.opts.Weights
	if req.Weights != nil {
		weights = *req.Weights
	}
	if err := weights.validate(); err != nil {
		return Response{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	topK := s.rerankTopK(req.RerankTopK)
	fetch := req.Limit
	if req.Rerank {
		fetch = s.fetchSize(req.Limit, topK)
	}

	var (
		vecHits    []candidate.Candidate
		txtRes     backend.TextResult
		vErr, tErr error
		g          errgroup.Group
	)
	g.Go(func() error {
		vecHits, vErr = s.vectorLeg(ctx, req.Query, req.Embed, fetch, req.ScoreThreshold, req.Filters)
		return nil
	})
	g.Go(func() error {
		txtRes, tErr = s.text.SearchText(ctx, backend.TextQuery{
			Query:     req.Query,
			Limit:     fetch,
			Filters:   req.Filters,
			Highlight: req.Highlight,
		})
		if tErr != nil {
			metrics.BackendErrorsTotal.WithLabelValues(string(SideText), "search").Inc()
			tErr = fmt.Errorf("%s: %w", s.text.Kind(), tErr)
		}
		return nil
	})
	_ = g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		observe(ModeHybrid, "timeout", start)
		return Response{}, timeoutErr("hybrid search", ctxErr)
	}
	if vErr != nil && tErr != nil {
		observe(ModeHybrid, "error", start)
		return Response{}, &HybridError{VectorErr: vErr, TextErr: tErr}
	}

	resp := Response{Info: Info{
		Mode:            ModeHybrid,
		VectorBackend:   s.vector.Kind(),
		TextBackend:     s.text.Kind(),
		VectorCount:     len(vecHits),
		TextCount:       len(txtRes.Hits),
		Weights:         &weights,
		RerankRequested: req.Rerank,
	}}
	if vErr != nil {
		resp.Failures = append(resp.Failures, Failure{Side: SideVector, Err: vErr})
		s.logger.Warn("vector leg failed, returning text results", zap.Error(vErr))
	}
	if tErr != nil {
		resp.Failures = append(resp.Failures, Failure{Side: SideText, Err: tErr})
		s.logger.Warn("text leg failed, returning vector results", zap.Error(tErr))
	}

	fused := fuse(vecHits, txtRes.Hits, weights)
	cands := s.rerank(ctx, req.Query, fused, req.Rerank, topK, &resp.Info)
	if ctxErr := ctx.Err(); ctxErr != nil {
		observe(ModeHybrid, "timeout", start)
		return Response{}, timeoutErr("hybrid search", ctxErr)
	}

	resp.Candidates = candidate.Truncate(cands, req.Limit)
	resp.Info.Elapsed = time.Since(start)

	status := "ok"
	if resp.Degraded() {
		status = "partial"
	}
	observe(ModeHybrid, status, start)
	s.logger.Debug("hybrid search",
		zap.Int("vector_hits", resp.Info.VectorCount),
		zap.Int("text_hits", resp.Info.TextCount),
		zap.Int("returned", len(resp.Candidates)),
		zap.Duration("elapsed", resp.Info.Elapsed),
	)
	return resp, nil
}

// vectorLeg embeds the query and asks the vector backend for limit hits.
func (s *Service) vectorLeg(
	ctx context.Context, query string, embed EmbedFunc,
	limit int, threshold float64, filters filter.Expression,
) ([]candidate.Candidate, error) {
	vec, err := embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if s.opts.Dimensions > 0 && len(vec) != s.opts.Dimensions {
		return nil, &domain.DimensionError{ID: "query", Expected: s.opts.Dimensions, Got: len(vec)}
	}

	hits, err := s.vector.SearchSimilar(ctx, vec, limit, threshold, filters)
	if err != nil {
		metrics.BackendErrorsTotal.WithLabelValues(string(SideVector), "search").Inc()
		return nil, fmt.Errorf("%s: %w", s.vector.Kind(), err)
	}
	return hits, nil
}

func (s *Service) rerank(
	ctx context.Context, query string, cands []candidate.Candidate,
	requested bool, topK int, info *Info,
) []candidate.Candidate {
	if !requested || s.reranker == nil {
		return cands
	}
	res := s.reranker.Rerank(ctx, query, cands, topK)
	info.RerankApplied = res.Applied
	info.RerankFromCache = res.FromCache
	ri := res.Info
	info.Rerank = &ri
	return res.Candidates
}

func (s *Service) rerankTopK(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.opts.RerankTopK
}

// fetchSize is the over-fetch depth used before a rerank.
func (s *Service) fetchSize(limit, topK int) int {
	return max(limit, topK, limit*s.opts.ExpansionFactor)
}

func (s *Service) countFailures(op string, vErr, tErr error) {
	if vErr != nil {
		metrics.BackendErrorsTotal.WithLabelValues(string(SideVector), op).Inc()
	}
	if tErr != nil {
		metrics.BackendErrorsTotal.WithLabelValues(string(SideText), op).Inc()
	}
}

func validateQuery(query string, limit int) error {
	if strings.TrimSpace(query) == "" {
		return invalidf("query must not be empty")
	}
	if limit <= 0 {
		return invalidf("limit must be positive, got %d", limit)
	}
	return nil
}

func observe(mode Mode, status string, start time.Time) {
	metrics.SearchRequestsTotal.WithLabelValues(string(mode), status).Inc()
	metrics.SearchDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
}
