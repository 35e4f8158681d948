package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the hybridsearch service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Search    SearchConfig    `yaml:"search"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Redis     RedisConfig     `yaml:"redis"`
	HNSW      HNSWConfig      `yaml:"hnsw"`
	Bleve     BleveConfig     `yaml:"bleve"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// SearchConfig selects the backend pair and the orchestrator defaults.
type SearchConfig struct {
	VectorBackend   string  `yaml:"vector_backend"` // redis, valkey, hnsw
	TextBackend     string  `yaml:"text_backend"`   // redis, bleve, sqlite
	Dimensions      int     `yaml:"dimensions"`
	VectorWeight    float64 `yaml:"vector_weight"`
	TextWeight      float64 `yaml:"text_weight"`
	ExpansionFactor int     `yaml:"expansion_factor"`
	DefaultLimit    int     `yaml:"default_limit"`
	TimeoutMs       int     `yaml:"timeout_ms"`
}

// RerankConfig holds cross-encoder settings.
type RerankConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	BatchSize     int    `yaml:"batch_size"`
	CacheCapacity int    `yaml:"cache_capacity"` // 0 disables the cache
	TopK          int    `yaml:"top_k"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

// EmbeddingConfig holds the OpenAI-compatible query embedding provider.
type EmbeddingConfig struct {
	APIKey      string               `yaml:"api_key"`
	BaseURL     string               `yaml:"base_url"`
	Model       string               `yaml:"model"`
	Dimensions  int                  `yaml:"dimensions"`
	Instruction string               `yaml:"instruction"`
	Cache       EmbeddingCacheConfig `yaml:"cache"`
}

// EmbeddingCacheConfig controls the redis-backed embedding cache.
type EmbeddingCacheConfig struct {
	Enabled bool `yaml:"enabled"`
	TTLSec  int  `yaml:"ttl_sec"` // 0 = no expiry
}

// RedisConfig holds the Redis/Valkey connection and index settings.
type RedisConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey (default: redis)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	Distance         string   `yaml:"distance"` // cosine, l2, ip
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
	TagFields        []string `yaml:"tag_fields"`
	NumericFields    []string `yaml:"numeric_fields"`
}

// HNSWConfig holds the in-process graph settings.
type HNSWConfig struct {
	M        int    `yaml:"m"`
	EfSearch int    `yaml:"ef_search"`
	Metric   string `yaml:"metric"` // cosine, l2
	Path     string `yaml:"path"`   // empty = memory only
}

// BleveConfig holds the embedded bleve index location.
type BleveConfig struct {
	Path string `yaml:"path"` // empty = memory only
}

// SQLiteConfig holds the FTS5 database location.
type SQLiteConfig struct {
	Path string `yaml:"path"` // ":memory:" allowed
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, when present, is loaded first.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit YAML path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Search.VectorBackend == "" {
		c.Search.VectorBackend = "redis"
	}
	if c.Search.TextBackend == "" {
		c.Search.TextBackend = "redis"
	}
	if c.Search.VectorWeight == 0 && c.Search.TextWeight == 0 {
		c.Search.VectorWeight = 0.7
		c.Search.TextWeight = 0.3
	}
	if c.Search.ExpansionFactor <= 0 {
		c.Search.ExpansionFactor = 3
	}
	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 10
	}
	if c.Search.TimeoutMs <= 0 {
		c.Search.TimeoutMs = 5000
	}

	if c.Rerank.BatchSize <= 0 {
		c.Rerank.BatchSize = 32
	}
	if c.Rerank.CacheCapacity < 0 {
		c.Rerank.CacheCapacity = 0
	}
	if c.Rerank.TopK <= 0 {
		c.Rerank.TopK = 100
	}
	if c.Rerank.TimeoutSec <= 0 {
		c.Rerank.TimeoutSec = 10
	}

	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = c.Search.Dimensions
	}
	if c.Search.Dimensions <= 0 {
		c.Search.Dimensions = c.Embedding.Dimensions
	}

	if c.Redis.Driver == "" {
		c.Redis.Driver = "redis"
	}
	if c.Redis.ReadinessTimeout <= 0 {
		c.Redis.ReadinessTimeout = 10
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "hybridsearch:"
	}
	if c.Redis.Distance == "" {
		c.Redis.Distance = "cosine"
	}
	if c.Redis.HNSWM <= 0 {
		c.Redis.HNSWM = 16
	}
	if c.Redis.HNSWEFConstruct <= 0 {
		c.Redis.HNSWEFConstruct = 200
	}

	if c.HNSW.M <= 0 {
		c.HNSW.M = 16
	}
	if c.HNSW.EfSearch <= 0 {
		c.HNSW.EfSearch = 64
	}
	if c.HNSW.Metric == "" {
		c.HNSW.Metric = "cosine"
	}

	if c.SQLite.Path == "" {
		c.SQLite.Path = ":memory:"
	}
}

// Validate checks the configuration for correctness.
// Backend-specific requirements are checked by the backend factory.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Search.Dimensions <= 0 {
		return fmt.Errorf("search.dimensions must be positive, got %d", c.Search.Dimensions)
	}
	if c.Embedding.Dimensions != c.Search.Dimensions {
		return fmt.Errorf("embedding.dimensions (%d) must equal search.dimensions (%d)",
			c.Embedding.Dimensions, c.Search.Dimensions)
	}
	if c.Search.VectorWeight < 0 || c.Search.TextWeight < 0 {
		return fmt.Errorf("search weights must be non-negative, got %g/%g",
			c.Search.VectorWeight, c.Search.TextWeight)
	}
	if c.Search.VectorWeight+c.Search.TextWeight <= 0 {
		return fmt.Errorf("search.vector_weight + search.text_weight must be positive")
	}
	switch c.Redis.Driver {
	case "redis", "valkey":
	default:
		return fmt.Errorf("redis.driver must be \"redis\" or \"valkey\", got %q", c.Redis.Driver)
	}
	switch c.HNSW.Metric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("hnsw.metric must be \"cosine\" or \"l2\", got %q", c.HNSW.Metric)
	}
	if c.Rerank.Enabled && c.Rerank.BaseURL == "" {
		return fmt.Errorf("rerank.base_url is required when rerank is enabled")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// relative to the source file, for tests run from package dirs
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
