// Package chi serves the hybrid search API over HTTP.
package chi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	logpkg "github.com/kailas-cloud/hybridsearch/internal/logger"
	"github.com/kailas-cloud/hybridsearch/internal/metrics"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

const maxBodyBytes = 8 << 20

// Options configure a Server.
type Options struct {
	DefaultLimit int
	APIKeys      []string

	// DocumentEmbed embeds stored chunks that arrive without a vector.
	// Defaults to the query embedder.
	DocumentEmbed searchuc.EmbedFunc
}

// Server implements the HTTP handlers.
type Server struct {
	search   Searcher
	health   HealthReporter
	rerank   RerankCache
	backends BackendLister
	embed    searchuc.EmbedFunc
	opts     Options
	logger   *zap.Logger
}

// NewServer creates an HTTP API server. rerank and embed may be nil.
func NewServer(
	search Searcher,
	health HealthReporter,
	rerank RerankCache,
	backends BackendLister,
	embed searchuc.EmbedFunc,
	opts Options,
	logger *zap.Logger,
) *Server {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.DocumentEmbed == nil {
		opts.DocumentEmbed = embed
	}
	return &Server{
		search:   search,
		health:   health,
		rerank:   rerank,
		backends: backends,
		embed:    embed,
		opts:     opts,
		logger:   logger,
	}
}

// Router mounts every route behind the standard middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.opts.APIKeys))
	r.Use(metrics.Middleware())

	r.Post("/documents", s.StoreDocument)
	r.Delete("/documents/{id}", s.DeleteDocument)
	r.Route("/search", func(r chi.Router) {
		r.Post("/vector", s.VectorSearch)
		r.Post("/text", s.TextSearch)
		r.Post("/hybrid", s.HybridSearch)
	})
	r.Get("/health", s.HealthCheck)
	r.Get("/stats", s.Stats)
	r.Get("/backends", s.Backends)
	r.Get("/rerank/cache", s.RerankCacheStats)
	r.Delete("/rerank/cache", s.ClearRerankCache)
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeBadRequest, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
	})
	return r
}

// StoreDocument handles POST /documents. Chunks without an embedding are
// embedded from their content.
func (s *Server) StoreDocument(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if !s.decode(w, r, &req) {
		return
	}

	for i := range req.Chunks {
		c := &req.Chunks[i]
		if len(c.Embedding) > 0 || s.opts.DocumentEmbed == nil {
			continue
		}
		vec, err := s.opts.DocumentEmbed(r.Context(), c.Content)
		if err != nil {
			s.handleDomainError(w, r, fmt.Errorf("embed chunk %q: %w", c.ID, err))
			return
		}
		c.Embedding = vec
	}

	chunks, full, err := documentsFromRequest(req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.search.StoreDocuments(r.Context(), chunks, full); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, storeResponse{DocumentID: full.ID(), Chunks: len(chunks)})
}

// DeleteDocument handles DELETE /documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.search.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VectorSearch handles POST /search/vector.
func (s *Server) VectorSearch(w http.ResponseWriter, r *http.Request) {
	var req vectorSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	filters, err := parseFilters(req.Filters)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp, err := s.search.VectorSearch(r.Context(), searchuc.VectorRequest{
		Query:          req.Query,
		Limit:          s.limit(req.Limit),
		ScoreThreshold: req.ScoreThreshold,
		Filters:        filters,
		Embed:          s.embed,
		Rerank:         req.Rerank,
		RerankTopK:     req.RerankTopK,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(resp))
}

// TextSearch handles POST /search/text.
func (s *Server) TextSearch(w http.ResponseWriter, r *http.Request) {
	var req textSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	filters, err := parseFilters(req.Filters)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp, err := s.search.TextSearch(r.Context(), searchuc.TextRequest{
		Query:     req.Query,
		Limit:     s.limit(req.Limit),
		Offset:    req.Offset,
		Filters:   filters,
		Highlight: req.Highlight,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(resp))
}

// HybridSearch handles POST /search/hybrid. Weights override the defaults
// only when both are given.
func (s *Server) HybridSearch(w http.ResponseWriter, r *http.Request) {
	var req hybridSearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	filters, err := parseFilters(req.Filters)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	var weights *searchuc.Weights
	if req.VectorWeight != nil && req.TextWeight != nil {
		weights = &searchuc.Weights{Vector: *req.VectorWeight, Text: *req.TextWeight}
	} else if req.VectorWeight != nil || req.TextWeight != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"vector_weight and text_weight must be given together")
		return
	}

	resp, err := s.search.HybridSearch(r.Context(), searchuc.HybridRequest{
		Query:          req.Query,
		Limit:          s.limit(req.Limit),
		Weights:        weights,
		ScoreThreshold: req.ScoreThreshold,
		Filters:        filters,
		Embed:          s.embed,
		Rerank:         req.Rerank,
		RerankTopK:     req.RerankTopK,
		Highlight:      req.Highlight,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(resp))
}

// HealthCheck handles GET /health. Only an unhealthy report answers 503.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == searchuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Stats handles GET /stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.search.Stats(r.Context()))
}

// Backends handles GET /backends.
func (s *Server) Backends(w http.ResponseWriter, _ *http.Request) {
	resp := backendsResponse{
		Active: map[string]string{
			"vector": string(s.search.VectorKind()),
			"text":   string(s.search.TextKind()),
		},
	}
	for _, k := range s.backends.AvailableVectorKinds() {
		resp.Vector = append(resp.Vector, string(k))
	}
	for _, k := range s.backends.AvailableTextKinds() {
		resp.Text = append(resp.Text, string(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RerankCacheStats handles GET /rerank/cache.
func (s *Server) RerankCacheStats(w http.ResponseWriter, _ *http.Request) {
	if s.rerank == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.rerank.CacheStats())
}

// ClearRerankCache handles DELETE /rerank/cache.
func (s *Server) ClearRerankCache(w http.ResponseWriter, _ *http.Request) {
	if s.rerank != nil {
		s.rerank.ClearCache()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) limit(requested int) int {
	if requested == 0 {
		return s.opts.DefaultLimit
	}
	return requested
}

func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	if l, ok := logpkg.Lookup(r.Context()); ok {
		return l
	}
	return s.logger
}
