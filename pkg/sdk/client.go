package hybridsearch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend/factory"
	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/rerank"
	"github.com/kailas-cloud/hybridsearch/internal/transport/crossencoder"
	healthuc "github.com/kailas-cloud/hybridsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

// searchUseCase is the orchestrator surface the Client drives. Internal
// interface for substitution in tests.
type searchUseCase interface {
	StoreDocuments(ctx context.Context, chunks []document.Document, full document.Document) error
	DeleteDocument(ctx context.Context, id string) error
	VectorSearch(ctx context.Context, req searchuc.VectorRequest) (searchuc.Response, error)
	TextSearch(ctx context.Context, req searchuc.TextRequest) (searchuc.Response, error)
	HybridSearch(ctx context.Context, req searchuc.HybridRequest) (searchuc.Response, error)
	Close() error
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

// Client is the hybridsearch SDK entry point.
type Client struct {
	search  searchUseCase
	health  healthUseCase
	stage   *rerank.Stage
	factory *factory.Factory
	embed   searchuc.EmbedFunc
	obs     *observer
}

// New builds both backends, loads the reranker when one is configured and
// initializes the pair. The provided context bounds initialization.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cc := defaultClientConfig()
	for _, o := range opts {
		o.apply(cc)
	}
	cfg := cc.cfg
	cfg.ApplyDefaults()
	if cfg.Search.Dimensions <= 0 {
		return nil, errors.New("hybridsearch: dimensions required (use WithDimensions)")
	}

	obs, err := newObserver(cc.logger, cc.metricsReg)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	f := factory.New(cfg, logger)
	if err := f.ValidatePair(cfg.Search.VectorBackend, cfg.Search.TextBackend); err != nil {
		return nil, fmt.Errorf("hybridsearch: %w", err)
	}

	loader, err := cc.rerankLoader()
	if err != nil {
		return nil, err
	}
	stage := rerank.NewStage(rerank.Config{
		Enabled:       cfg.Rerank.Enabled,
		CacheCapacity: cfg.Rerank.CacheCapacity,
		DefaultTopK:   cfg.Rerank.TopK,
	}, loader, logger)
	if err := stage.Initialize(ctx); err != nil && cc.logger != nil {
		cc.logger.Warn("reranker unavailable", "error", err)
	}

	vector, err := f.CreateVectorBackend(ctx, cfg.Search.VectorBackend)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hybridsearch: %w", err)
	}
	text, err := f.CreateTextBackend(ctx, cfg.Search.TextBackend)
	if err != nil {
		_ = vector.Close()
		f.Close()
		return nil, fmt.Errorf("hybridsearch: %w", err)
	}

	svc := searchuc.New(vector, text, stage, searchuc.Options{
		Weights:         searchuc.Weights{Vector: cfg.Search.VectorWeight, Text: cfg.Search.TextWeight},
		ExpansionFactor: cfg.Search.ExpansionFactor,
		RerankTopK:      cfg.Rerank.TopK,
		Dimensions:      cfg.Search.Dimensions,
		Timeout:         time.Duration(cfg.Search.TimeoutMs) * time.Millisecond,
	}, logger)
	if err := svc.Initialize(ctx); err != nil {
		_ = svc.Close()
		f.Close()
		return nil, fmt.Errorf("hybridsearch: %w", err)
	}

	var embChecker healthuc.EmbeddingChecker
	if hc, ok := cc.embedder.(domain.HealthChecker); ok {
		embChecker = hc
	}

	return &Client{
		search:  svc,
		health:  healthuc.New(svc, embChecker, stage),
		stage:   stage,
		factory: f,
		embed:   embedFunc(cc.embedder),
		obs:     obs,
	}, nil
}

func (c *clientConfig) rerankLoader() (rerank.Loader, error) {
	switch {
	case c.scorer != nil:
		score, model := c.scorer, c.rerankName
		return rerank.LoaderFunc(func(context.Context) (rerank.ScoreFunc, string, error) {
			return rerank.ScoreFunc(score), model, nil
		}), nil
	case c.crossURL != "":
		client, err := crossencoder.New(crossencoder.Config{
			BaseURL: c.crossURL,
			APIKey:  c.crossKey,
			Model:   c.rerankName,
		})
		if err != nil {
			return nil, fmt.Errorf("hybridsearch: %w", err)
		}
		return client, nil
	default:
		return nil, nil
	}
}

func embedFunc(e Embedder) searchuc.EmbedFunc {
	if e == nil {
		return func(context.Context, string) ([]float64, error) {
			return nil, errors.New("hybridsearch: embedder not configured (use WithEmbedder)")
		}
	}
	return func(ctx context.Context, text string) ([]float64, error) {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed: %w: %w", domain.ErrEmbeddingProviderError, err)
		}
		return vec, nil
	}
}

// Close releases both backends and any shared connection.
func (c *Client) Close() error {
	err := c.search.Close()
	if c.factory != nil {
		c.factory.Close()
	}
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Store writes doc to both backends. Chunks without an embedding are embedded
// first. A failure on one side is reported as ErrPartialWrite.
func (c *Client) Store(ctx context.Context, doc Document) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("store", start, err) }()

	chunks, full, err := c.toDocuments(ctx, doc)
	if err != nil {
		return err
	}
	if err = c.search.StoreDocuments(ctx, chunks, full); err != nil {
		return fmt.Errorf("store %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes a document and all of its chunks from both backends.
func (c *Client) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("delete", start, err) }()

	if err = c.search.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (c *Client) toDocuments(ctx context.Context, doc Document) ([]document.Document, document.Document, error) {
	full, err := document.New(doc.ID, doc.Content, nil, doc.Metadata)
	if err != nil {
		return nil, document.Document{}, domain.InvalidInputf("%v", err)
	}

	chunks := doc.Chunks
	if len(chunks) == 0 {
		chunks = []Chunk{{ID: doc.ID, Content: doc.Content}}
	}

	out := make([]document.Document, 0, len(chunks))
	for i, ch := range chunks {
		meta := maps.Clone(doc.Metadata)
		if meta == nil {
			meta = make(map[string]any, len(ch.Metadata)+2)
		}
		maps.Copy(meta, ch.Metadata)
		meta[document.MetaDocumentID] = doc.ID
		if _, ok := meta[document.MetaChunkIndex]; !ok {
			meta[document.MetaChunkIndex] = i
		}

		vec := ch.Embedding
		if vec == nil {
			if vec, err = c.embed(ctx, ch.Content); err != nil {
				return nil, document.Document{}, fmt.Errorf("chunk %d: %w", i, err)
			}
		}
		d, err := document.New(ch.ID, ch.Content, vec, meta)
		if err != nil {
			return nil, document.Document{}, domain.InvalidInputf("chunk %d: %v", i, err)
		}
		out = append(out, d)
	}
	return out, full, nil
}

// Health probes both backends and the embedding provider.
func (c *Client) Health(ctx context.Context) Health {
	start := time.Now()
	r := c.health.Check(ctx)
	c.obs.observe("health", start, nil)

	h := Health{Status: string(r.Status), Checks: make(map[string]string, len(r.Checks))}
	for name, res := range r.Checks {
		h.Checks[name] = string(res)
	}
	return h
}

// ClearRerankCache drops every cached rerank result.
func (c *Client) ClearRerankCache() {
	if c.stage != nil {
		c.stage.ClearCache()
	}
}
