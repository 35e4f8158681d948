// Package rerank re-scores candidate lists with a cross-encoder, caching
// results and degrading to the original order whenever scoring is unavailable.
package rerank

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/metrics"
)

// ScoreFunc scores every document against query. The output has the same
// length and order as docs.
type ScoreFunc func(ctx context.Context, query string, docs []string) ([]float64, error)

// Loader loads the scoring model and reports its identifier.
type Loader interface {
	Load(ctx context.Context) (ScoreFunc, string, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (ScoreFunc, string, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context) (ScoreFunc, string, error) { return f(ctx) }

// State is the lifecycle state of a Stage.
type State int

const (
	// StateDisabled returns candidates unchanged.
	StateDisabled State = iota
	// StateReady scores candidates with the loaded model.
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "disabled"
}

// Config configures a Stage.
type Config struct {
	Enabled       bool
	CacheCapacity int // <= 0 disables caching
	DefaultTopK   int // used when Rerank is called with topK <= 0
}

// Info describes one Rerank call.
type Info struct {
	ProcessingTime time.Duration
	OriginalCount  int
	RerankedCount  int
	SkippedCount   int // candidates without text
	Model          string
	Reason         string // why the call degraded; empty when applied
}

// Result is the outcome of a Rerank call. Candidates is never longer than topK.
type Result struct {
	Candidates []candidate.Candidate
	Applied    bool
	FromCache  bool
	Info       Info
}

// Stage wraps a ScoreFunc with a bounded result cache and an enable/disable policy.
type Stage struct {
	cfg    Config
	loader Loader
	logger *zap.Logger
	cache  *cache

	mu    sync.RWMutex // guards state, score and model
	state State
	score ScoreFunc
	model string

	loadMu      sync.Mutex // serializes loads; guards initialized and initErr
	initialized bool
	initErr     error
}

// NewStage creates a Disabled stage. Initialize loads the model.
// A nil loader keeps the stage disabled.
func NewStage(cfg Config, loader Loader, logger *zap.Logger) *Stage {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 100
	}
	return &Stage{
		cfg:    cfg,
		loader: loader,
		logger: logger.With(zap.String("component", "rerank")),
		cache:  newCache(cfg.CacheCapacity),
	}
}

// Initialize loads the model once. Later calls return the first outcome;
// use Reinitialize to retry after a failed load.
func (s *Stage) Initialize(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.initialized {
		return s.initErr
	}
	s.initialized = true
	score, model, err := s.load(ctx)
	s.swap(score, model, false)
	s.initErr = err
	return err
}

// Reinitialize reloads the model regardless of earlier outcomes and clears the cache.
// Rerank keeps serving the previous model until the load completes.
func (s *Stage) Reinitialize(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.initialized = true
	score, model, err := s.load(ctx)
	s.swap(score, model, true)
	s.initErr = err
	return err
}

// swap installs score, or disables the stage when score is nil.
func (s *Stage) swap(score ScoreFunc, model string, clearCache bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if score == nil {
		s.state, s.score, s.model = StateDisabled, nil, ""
	} else {
		s.state, s.score, s.model = StateReady, score, model
	}
	if clearCache {
		s.cache.clear()
	}
}

// load calls the loader without holding mu. A nil ScoreFunc means disabled.
func (s *Stage) load(ctx context.Context) (ScoreFunc, string, error) {
	if !s.cfg.Enabled {
		s.logger.Info("rerank disabled in configuration")
		return nil, "", nil
	}
	if s.loader == nil {
		return nil, "", errors.New("rerank enabled without a model loader")
	}

	start := time.Now()
	score, model, err := s.loader.Load(ctx)
	if err != nil {
		s.logger.Error("rerank model load failed, stage stays disabled", zap.Error(err))
		return nil, "", fmt.Errorf("load rerank model: %w", err)
	}
	if score == nil {
		return nil, "", errors.New("load rerank model: loader returned no score function")
	}

	s.logger.Info("rerank model loaded",
		zap.String("model", model),
		zap.Duration("elapsed", time.Since(start)),
	)
	return score, model, nil
}

// State reports the current lifecycle state.
func (s *Stage) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Model returns the loaded model id, empty while disabled.
func (s *Stage) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// CacheStats returns the cache counters.
func (s *Stage) CacheStats() CacheStats {
	return s.cache.stats()
}

// ClearCache drops every cached result.
func (s *Stage) ClearCache() {
	s.cache.clear()
	s.logger.Info("rerank cache cleared")
}

// Rerank re-scores candidates for query and returns at most topK of them.
// It never fails: a disabled stage or a scoring error yields the input order
// truncated to topK with Applied=false.
func (s *Stage) Rerank(ctx context.Context, query string, cands []candidate.Candidate, topK int) Result {
	start := time.Now()
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}

	s.mu.RLock()
	state, score, model := s.state, s.score, s.model
	s.mu.RUnlock()

	info := Info{OriginalCount: len(cands), Model: model}
	degrade := func(outcome, reason string) Result {
		metrics.RerankTotal.WithLabelValues(outcome).Inc()
		info.Reason = reason
		info.ProcessingTime = time.Since(start)
		return Result{Candidates: candidate.Truncate(slices.Clone(cands), topK), Info: info}
	}

	if state != StateReady {
		return degrade("disabled", "rerank disabled")
	}
	if len(cands) == 0 {
		return degrade("empty", "no candidates")
	}

	key := cacheKey(query, candidate.IDs(cands), topK, model)
	if cached, ok := s.cache.get(key); ok {
		metrics.RerankTotal.WithLabelValues("cached").Inc()
		cached.FromCache = true
		return cached
	}

	scorable := make([]candidate.Candidate, 0, len(cands))
	texts := make([]string, 0, len(cands))
	for _, c := range cands {
		if strings.TrimSpace(c.Content()) == "" {
			continue
		}
		scorable = append(scorable, c)
		texts = append(texts, c.Content())
	}
	info.SkippedCount = len(cands) - len(scorable)
	if info.SkippedCount > 0 {
		s.logger.Warn("candidates without text excluded from rerank",
			zap.Int("skipped", info.SkippedCount),
			zap.Int("total", len(cands)),
		)
	}
	if len(scorable) == 0 {
		return degrade("empty", "no candidate text to score")
	}

	scoreStart := time.Now()
	scores, err := score(ctx, query, texts)
	metrics.RerankDuration.Observe(time.Since(scoreStart).Seconds())
	if err == nil && len(scores) != len(texts) {
		err = fmt.Errorf("score count mismatch: got %d, want %d", len(scores), len(texts))
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.logger.Warn("rerank scoring failed, returning original order", zap.Error(err))
		return degrade("error", err.Error())
	}

	order := make([]int, len(scorable))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return strings.Compare(scorable[a].ID(), scorable[b].ID())
	})
	if len(order) > topK {
		order = order[:topK]
	}

	ranked := make([]candidate.Candidate, len(order))
	for rank, i := range order {
		ranked[rank] = scorable[i].Rerank(scores[i], rank+1)
	}

	info.RerankedCount = len(ranked)
	info.ProcessingTime = time.Since(start)
	res := Result{Candidates: ranked, Applied: true, Info: info}
	s.cache.put(key, res)

	metrics.RerankTotal.WithLabelValues("applied").Inc()
	s.logger.Debug("reranked",
		zap.Int("original", info.OriginalCount),
		zap.Int("reranked", info.RerankedCount),
		zap.Duration("elapsed", info.ProcessingTime),
	)
	return res
}
