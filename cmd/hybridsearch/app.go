package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend/factory"
	"github.com/kailas-cloud/hybridsearch/internal/config"
	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/metrics"
	"github.com/kailas-cloud/hybridsearch/internal/repository/embcache"
	"github.com/kailas-cloud/hybridsearch/internal/rerank"
	"github.com/kailas-cloud/hybridsearch/internal/transport/crossencoder"
	openaiEmb "github.com/kailas-cloud/hybridsearch/internal/transport/openai"
	healthuc "github.com/kailas-cloud/hybridsearch/internal/usecase/health"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

// app is the composition root shared by serve and check.
type app struct {
	logger   *zap.Logger
	factory  *factory.Factory
	embedder domain.Embedder // queries
	docs     domain.Embedder // stored chunks, no instruction
	stage    *rerank.Stage
	search   *searchuc.Service
	health   *healthuc.Service
}

// buildApp validates the backend pair, constructs both backends and
// initializes the orchestrator. A rerank model that fails to load leaves the
// stage disabled instead of failing startup.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	f := factory.New(cfg, logger)
	if err := f.ValidatePair(cfg.Search.VectorBackend, cfg.Search.TextBackend); err != nil {
		return nil, fmt.Errorf("validate backends: %w", err)
	}

	vector, err := f.CreateVectorBackend(ctx, cfg.Search.VectorBackend)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create vector backend: %w", err)
	}
	text, err := f.CreateTextBackend(ctx, cfg.Search.TextBackend)
	if err != nil {
		_ = vector.Close()
		f.Close()
		return nil, fmt.Errorf("create text backend: %w", err)
	}

	stage, err := buildRerankStage(cfg.Rerank, logger)
	if err != nil {
		_ = vector.Close()
		_ = text.Close()
		f.Close()
		return nil, err
	}
	if err := stage.Initialize(ctx); err != nil {
		logger.Warn("rerank unavailable, continuing without it", zap.Error(err))
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
		return nil, fmt.Errorf("initialize search: %w", err)
	}

	docs := buildEmbedder(cfg, f, logger)
	embedder := docs
	if cfg.Embedding.Instruction != "" {
		embedder = domain.NewInstructionEmbedder(docs, cfg.Embedding.Instruction)
	}
	var embChecker healthuc.EmbeddingChecker
	if hc, ok := embedder.(domain.HealthChecker); ok {
		embChecker = hc
	}

	return &app{
		logger:   logger,
		factory:  f,
		embedder: embedder,
		docs:     docs,
		stage:    stage,
		search:   svc,
		health:   healthuc.New(svc, embChecker, stage),
	}, nil
}

func (a *app) Close() {
	if err := a.search.Close(); err != nil {
		a.logger.Warn("close backends", zap.Error(err))
	}
	a.factory.Close()
}

func buildRerankStage(cfg config.RerankConfig, logger *zap.Logger) (*rerank.Stage, error) {
	var loader rerank.Loader
	if cfg.Enabled {
		client, err := crossencoder.New(crossencoder.Config{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
			Timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("rerank client: %w", err)
		}
		loader = client
	}
	return rerank.NewStage(rerank.Config{
		Enabled:       cfg.Enabled,
		CacheCapacity: cfg.CacheCapacity,
		DefaultTopK:   cfg.TopK,
	}, loader, logger), nil
}

// buildEmbedder assembles OpenAI -> Cached. The cache reuses the redis store
// only when a backend already opened it.
func buildEmbedder(cfg config.Config, f *factory.Factory, logger *zap.Logger) domain.Embedder {
	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "openai",
		Logger:     logger,
	})

	if store, ok := f.OpenedStore(); ok && cfg.Embedding.Cache.Enabled {
		return embcache.New(base, store, embcache.Options{
			KeyPrefix: cfg.Redis.KeyPrefix,
			Model:     cfg.Embedding.Model,
			TTL:       time.Duration(cfg.Embedding.Cache.TTLSec) * time.Second,
		}, metrics.EmbeddingCacheTotal, logger)
	}
	return base
}
