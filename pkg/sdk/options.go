package hybridsearch

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/hybridsearch/internal/config"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	cfg config.Config

	embedder   Embedder
	scorer     ScoreFunc
	rerankName string
	crossURL   string
	crossKey   string

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		cfg: config.Config{
			Search: config.SearchConfig{VectorBackend: "hnsw", TextBackend: "bleve"},
			Rerank: config.RerankConfig{CacheCapacity: 1000},
		},
	}
}

func (c *clientConfig) redis(driver, addr, password string) {
	c.cfg.Redis.Driver = driver
	c.cfg.Redis.Addrs = []string{addr}
	c.cfg.Redis.Password = password
}

// WithRedis serves both sides from a Redis instance with the search module.
// Combine with WithHNSW, WithBleve or WithSQLite to move one side elsewhere.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.redis("redis", addr, password)
		c.cfg.Search.VectorBackend = "redis"
		c.cfg.Search.TextBackend = "redis"
	})
}

// WithValkey serves vectors from a Valkey instance with valkey-search.
// Valkey has no full-text engine, so the text side stays on bleve unless
// WithSQLite is given.
func WithValkey(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.redis("valkey", addr, password)
		c.cfg.Search.VectorBackend = "valkey"
		if c.cfg.Search.TextBackend == "redis" {
			c.cfg.Search.TextBackend = "bleve"
		}
	})
}

// WithKeyPrefix sets the Redis key prefix. Default: "hybridsearch:".
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Redis.KeyPrefix = prefix
	})
}

// WithHNSW uses the in-process HNSW graph for vectors. An empty path keeps
// the graph in memory only.
func WithHNSW(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Search.VectorBackend = "hnsw"
		c.cfg.HNSW.Path = path
	})
}

// WithBleve uses an embedded bleve index for text. An empty path keeps the
// index in memory only.
func WithBleve(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Search.TextBackend = "bleve"
		c.cfg.Bleve.Path = path
	})
}

// WithSQLite uses SQLite FTS5 for text. ":memory:" is allowed.
func WithSQLite(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Search.TextBackend = "sqlite"
		c.cfg.SQLite.Path = path
	})
}

// WithDimensions sets the embedding dimension. Required.
func WithDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Search.Dimensions = dim
	})
}

// WithWeights sets the default hybrid fusion weights. Default: 0.7/0.3.
func WithWeights(vector, text float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Search.VectorWeight = vector
		c.cfg.Search.TextWeight = text
	})
}

// WithExpansionFactor sets how many times the limit is over-fetched before a
// rerank. Default: 3.
func WithExpansionFactor(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Search.ExpansionFactor = n
	})
}

// WithTimeout bounds every operation whose context has no deadline.
// Default: 5s.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Search.TimeoutMs = int(d / time.Millisecond)
	})
}

// WithEmbedder sets the query and chunk embedding provider.
// Required for vector and hybrid search; text search works without it.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithReranker enables reranking with an in-process scorer.
func WithReranker(model string, score ScoreFunc) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Rerank.Enabled = true
		c.rerankName = model
		c.scorer = score
	})
}

// WithCrossEncoder enables reranking through a cross-encoder HTTP server.
func WithCrossEncoder(baseURL, apiKey, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Rerank.Enabled = true
		c.crossURL = baseURL
		c.crossKey = apiKey
		c.rerankName = model
	})
}

// WithRerankCache sets the rerank result cache capacity. 0 disables it.
// Default: 1000.
func WithRerankCache(capacity int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cfg.Rerank.CacheCapacity = capacity
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
