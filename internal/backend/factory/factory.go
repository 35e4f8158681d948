// Package factory builds vector and text backends from configuration.
package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	blevebackend "github.com/kailas-cloud/hybridsearch/internal/backend/bleve"
	hnswbackend "github.com/kailas-cloud/hybridsearch/internal/backend/hnsw"
	redisbackend "github.com/kailas-cloud/hybridsearch/internal/backend/redis"
	sqlitebackend "github.com/kailas-cloud/hybridsearch/internal/backend/sqlite"
	"github.com/kailas-cloud/hybridsearch/internal/config"
	"github.com/kailas-cloud/hybridsearch/internal/db"
	dbredis "github.com/kailas-cloud/hybridsearch/internal/db/redis"
	"github.com/kailas-cloud/hybridsearch/internal/domain"
)

// Side names which half of a backend pair an error belongs to.
type Side string

const (
	SideVector Side = "vector"
	SideText   Side = "text"
)

// Error reports a backend that could not be validated or constructed.
type Error struct {
	Side Side
	Kind string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s backend %q: %v", e.Side, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StoreOpener connects the shared Redis/Valkey store.
type StoreOpener func(ctx context.Context, cfg config.RedisConfig) (db.Store, error)

// Option configures a Factory.
type Option func(*Factory)

// WithStoreOpener replaces the rueidis connection, mainly for tests.
func WithStoreOpener(open StoreOpener) Option {
	return func(f *Factory) { f.openStore = open }
}

// Factory creates backends by kind. The redis-based kinds share one lazily
// opened store, closed by Close.
type Factory struct {
	cfg       config.Config
	logger    *zap.Logger
	openStore StoreOpener

	mu    sync.Mutex
	store db.Store
}

// New creates a factory over cfg.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) *Factory {
	f := &Factory{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "backend_factory")),
		openStore: openRedisStore,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func openRedisStore(ctx context.Context, cfg config.RedisConfig) (db.Store, error) {
	store, err := dbredis.NewStore(dbredis.Config{
		Driver:   dbredis.Driver(cfg.Driver),
		Addrs:    cfg.Addrs,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	timeout := time.Duration(cfg.ReadinessTimeout) * time.Second
	if err := store.WaitForReady(ctx, timeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}
	return store, nil
}

// AvailableVectorKinds lists every vector kind the factory can build.
func (f *Factory) AvailableVectorKinds() []backend.VectorKind {
	return append([]backend.VectorKind(nil), backend.VectorKinds...)
}

// AvailableTextKinds lists every text kind the factory can build.
func (f *Factory) AvailableTextKinds() []backend.TextKind {
	return append([]backend.TextKind(nil), backend.TextKinds...)
}

// ValidatePair checks that both kinds are known and configured without
// constructing either backend.
func (f *Factory) ValidatePair(vectorKind, textKind string) error {
	vk, err := backend.ParseVectorKind(vectorKind)
	if err != nil {
		return &Error{Side: SideVector, Kind: vectorKind, Err: err}
	}
	if err := f.checkVector(vk); err != nil {
		return &Error{Side: SideVector, Kind: vectorKind, Err: err}
	}
	tk, err := backend.ParseTextKind(textKind)
	if err != nil {
		return &Error{Side: SideText, Kind: textKind, Err: err}
	}
	if err := f.checkText(tk); err != nil {
		return &Error{Side: SideText, Kind: textKind, Err: err}
	}
	return nil
}

func (f *Factory) checkVector(kind backend.VectorKind) error {
	if f.cfg.Search.Dimensions <= 0 {
		return misconfigured("search.dimensions must be positive")
	}
	switch kind {
	case backend.VectorRedis, backend.VectorValkey:
		if err := f.checkRedis(dbredis.Driver(kind)); err != nil {
			return err
		}
		if _, err := db.ParseDistance(f.cfg.Redis.Distance); err != nil {
			return misconfigured(err.Error())
		}
	case backend.VectorHNSW:
		switch f.cfg.HNSW.Metric {
		case "", hnswbackend.MetricCosine, hnswbackend.MetricL2:
		default:
			return misconfigured(fmt.Sprintf("unknown hnsw metric %q", f.cfg.HNSW.Metric))
		}
	}
	return nil
}

func (f *Factory) checkText(kind backend.TextKind) error {
	switch kind {
	case backend.TextRedis:
		return f.checkRedis(dbredis.DriverRedis)
	case backend.TextSQLite:
		if f.cfg.SQLite.Path == "" {
			return misconfigured("sqlite.path is required")
		}
	case backend.TextBleve:
	}
	return nil
}

// checkRedis requires a connection config whose driver matches want.
// Valkey has no full-text engine, so text over valkey fails here.
func (f *Factory) checkRedis(want dbredis.Driver) error {
	if len(f.cfg.Redis.Addrs) == 0 {
		return misconfigured("redis.addrs is required")
	}
	driver, err := dbredis.ParseDriver(f.cfg.Redis.Driver)
	if err != nil {
		return misconfigured(err.Error())
	}
	if driver != want {
		return misconfigured(fmt.Sprintf("redis.driver is %q, kind needs %q", driver, want))
	}
	return nil
}

func misconfigured(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrBackendConfig, reason)
}

// CreateVectorBackend builds an uninitialized vector backend of kind.
func (f *Factory) CreateVectorBackend(ctx context.Context, kind string) (backend.VectorBackend, error) {
	vk, err := backend.ParseVectorKind(kind)
	if err != nil {
		return nil, &Error{Side: SideVector, Kind: kind, Err: err}
	}
	if err := f.checkVector(vk); err != nil {
		return nil, &Error{Side: SideVector, Kind: kind, Err: err}
	}

	b, err := f.buildVector(ctx, vk)
	if err != nil {
		return nil, &Error{Side: SideVector, Kind: kind, Err: err}
	}
	f.logger.Info("vector backend created", zap.String("kind", string(vk)))
	return b, nil
}

func (f *Factory) buildVector(ctx context.Context, kind backend.VectorKind) (backend.VectorBackend, error) {
	switch kind {
	case backend.VectorRedis, backend.VectorValkey:
		store, err := f.sharedStore(ctx)
		if err != nil {
			return nil, err
		}
		cfg, err := f.redisBackendConfig()
		if err != nil {
			return nil, err
		}
		return redisbackend.NewVectorBackend(kind, store, cfg, f.logger)
	case backend.VectorHNSW:
		return hnswbackend.New(hnswbackend.Config{
			Dimensions: f.cfg.Search.Dimensions,
			M:          f.cfg.HNSW.M,
			EfSearch:   f.cfg.HNSW.EfSearch,
			Metric:     f.cfg.HNSW.Metric,
			Path:       f.cfg.HNSW.Path,
		}, f.logger)
	default:
		return nil, fmt.Errorf("%w: vector kind %q", domain.ErrUnknownBackend, kind)
	}
}

// CreateTextBackend builds an uninitialized text backend of kind.
func (f *Factory) CreateTextBackend(ctx context.Context, kind string) (backend.TextBackend, error) {
	tk, err := backend.ParseTextKind(kind)
	if err != nil {
		return nil, &Error{Side: SideText, Kind: kind, Err: err}
	}
	if err := f.checkText(tk); err != nil {
		return nil, &Error{Side: SideText, Kind: kind, Err: err}
	}

	b, err := f.buildText(ctx, tk)
	if err != nil {
		return nil, &Error{Side: SideText, Kind: kind, Err: err}
	}
	f.logger.Info("text backend created", zap.String("kind", string(tk)))
	return b, nil
}

func (f *Factory) buildText(ctx context.Context, kind backend.TextKind) (backend.TextBackend, error) {
	switch kind {
	case backend.TextRedis:
		store, err := f.sharedStore(ctx)
		if err != nil {
			return nil, err
		}
		cfg, err := f.redisBackendConfig()
		if err != nil {
			return nil, err
		}
		tb, err := redisbackend.NewTextBackend(ctx, store, cfg, f.logger)
		if err != nil {
			if errors.Is(err, db.ErrTextSearch) {
				return nil, fmt.Errorf("%w: %w", domain.ErrBackendConfig, err)
			}
			return nil, err
		}
		return tb, nil
	case backend.TextBleve:
		return blevebackend.New(blevebackend.Config{Path: f.cfg.Bleve.Path}, f.logger), nil
	case backend.TextSQLite:
		return sqlitebackend.New(sqlitebackend.Config{Path: f.cfg.SQLite.Path}, f.logger), nil
	default:
		return nil, fmt.Errorf("%w: text kind %q", domain.ErrUnknownBackend, kind)
	}
}

func (f *Factory) redisBackendConfig() (redisbackend.Config, error) {
	distance, err := db.ParseDistance(f.cfg.Redis.Distance)
	if err != nil {
		return redisbackend.Config{}, misconfigured(err.Error())
	}
	return redisbackend.Config{
		KeyPrefix:     f.cfg.Redis.KeyPrefix,
		Dimensions:    f.cfg.Search.Dimensions,
		Distance:      distance,
		M:             f.cfg.Redis.HNSWM,
		EFConstruct:   f.cfg.Redis.HNSWEFConstruct,
		TagFields:     f.cfg.Redis.TagFields,
		NumericFields: f.cfg.Redis.NumericFields,
	}, nil
}

// Store returns the shared store, opening it on first use.
func (f *Factory) Store(ctx context.Context) (db.Store, error) {
	return f.sharedStore(ctx)
}

// OpenedStore returns the shared store only if a backend already opened it.
func (f *Factory) OpenedStore() (db.Store, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store, f.store != nil
}

func (f *Factory) sharedStore(ctx context.Context) (db.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.store != nil {
		return f.store, nil
	}
	store, err := f.openStore(ctx, f.cfg.Redis)
	if err != nil {
		return nil, err
	}
	f.store = store
	f.logger.Info("redis store connected",
		zap.String("driver", f.cfg.Redis.Driver),
		zap.Strings("addrs", f.cfg.Redis.Addrs),
	)
	return store, nil
}

// Close releases the shared store when one was opened.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.store != nil {
		f.store.Close()
		f.store = nil
	}
}
