// Package redis implements the vector and text backends on top of an FT-capable
// Redis or Valkey server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	"github.com/kailas-cloud/hybridsearch/internal/db"
	dbredis "github.com/kailas-cloud/hybridsearch/internal/db/redis"
	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
)

// Compile-time check.
var _ backend.VectorBackend = (*VectorBackend)(nil)

// VectorBackend stores embeddings as hashes under an HNSW FT index.
type VectorBackend struct {
	kind   backend.VectorKind
	store  Store
	cfg    Config
	keys   layout
	logger *zap.Logger
	ready  atomic.Bool
}

// NewVectorBackend creates a vector backend. kind is redis or valkey.
func NewVectorBackend(kind backend.VectorKind, store Store, cfg Config, logger *zap.Logger) (*VectorBackend, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	return &VectorBackend{
		kind:   kind,
		store:  store,
		cfg:    cfg,
		keys:   newLayout(cfg.KeyPrefix, "vec"),
		logger: logger.With(zap.String("component", "vector_backend"), zap.String("kind", string(kind))),
	}, nil
}

// Kind reports the configured vector kind.
func (b *VectorBackend) Kind() backend.VectorKind { return b.kind }

// Initialize creates the FT index when missing.
func (b *VectorBackend) Initialize(ctx context.Context) error {
	if b.ready.Load() {
		return nil
	}
	idx, err := db.NewIndex(b.keys.index(), b.keys.keyPrefix()).
		Tag(fieldDocumentID).
		Tag(b.cfg.TagFields...).
		Numeric(b.cfg.NumericFields...).
		Vector(fieldVector, b.cfg.Dimensions, b.cfg.Distance, b.cfg.M, b.cfg.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("vector index definition: %w", err)
	}
	if err := ensureIndex(ctx, b.store, idx); err != nil {
		return err
	}
	b.ready.Store(true)
	b.logger.Info("vector index ready", zap.String("index", idx.Name), zap.Int("dimensions", b.cfg.Dimensions))
	return nil
}

// StoreEmbeddings writes the batch in one pipeline after validating every document.
func (b *VectorBackend) StoreEmbeddings(ctx context.Context, docs []document.Document) error {
	if !b.ready.Load() {
		return backend.ErrNotInitialized
	}
	if err := document.ValidateBatch(docs, b.cfg.Dimensions); err != nil {
		return err //nolint:wrapcheck // domain error
	}

	moved, err := movedChunks(ctx, b.store, b.keys, docs)
	if err != nil {
		return err
	}

	items := make([]db.HashSetItem, 0, len(docs))
	sets := make(map[string][]string)
	for i := range docs {
		d := &docs[i]
		fields := map[string]string{
			fieldVector:  dbredis.VectorToBytes(toFloat32(d.Embedding())),
			fieldContent: d.Content(),
		}
		if err := metadataFields(b.cfg, d, fields); err != nil {
			return err
		}
		key := b.keys.key(d.ID())
		items = append(items, db.HashSetItem{Key: key, Fields: fields})
		set := b.keys.docSet(d.DocumentID())
		sets[set] = append(sets[set], key)
	}

	if err := b.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("store embeddings: %w", err)
	}
	if err := b.store.SAddMulti(ctx, sets); err != nil {
		return fmt.Errorf("index document ids: %w", err)
	}
	if err := b.store.SRemMulti(ctx, moved); err != nil {
		return fmt.Errorf("unlink previous document ids: %w", err)
	}
	return nil
}

// SearchSimilar runs a filtered KNN query.
func (b *VectorBackend) SearchSimilar(
	ctx context.Context, vector []float64, limit int, scoreThreshold float64, filters filter.Expression,
) ([]candidate.Candidate, error) {
	if !b.ready.Load() {
		return nil, backend.ErrNotInitialized
	}
	if len(vector) != b.cfg.Dimensions {
		return nil, &domain.DimensionError{ID: "query", Expected: b.cfg.Dimensions, Got: len(vector)}
	}
	if limit <= 0 {
		return nil, domain.InvalidInputf("limit must be positive, got %d", limit)
	}
	if err := checkFilterFields(b.cfg, filters); err != nil {
		return nil, err
	}

	res, err := b.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    b.keys.index(),
		VectorField:  fieldVector,
		Filters:      filters,
		Metric:       b.cfg.Distance,
		Vector:       toFloat32(vector),
		K:            limit,
		ReturnFields: []string{fieldContent, fieldMetadata},
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]candidate.Candidate, 0, len(res.Entries))
	for _, e := range res.Entries {
		if scoreThreshold > 0 && e.Score < scoreThreshold {
			continue
		}
		out = append(out, candidate.New(
			b.keys.idFromKey(e.Key), e.Score, candidate.Vector,
			e.Fields[fieldContent], decodeMetadata(e.Fields[fieldMetadata]),
		))
	}
	return out, nil
}

// DeleteDocument removes id and every chunk stored under document_id id.
func (b *VectorBackend) DeleteDocument(ctx context.Context, id string) error {
	if !b.ready.Load() {
		return backend.ErrNotInitialized
	}
	return deleteCascade(ctx, b.store, b.keys, id)
}

// HealthCheck pings the server and confirms the index exists.
func (b *VectorBackend) HealthCheck(ctx context.Context) error {
	return checkIndex(ctx, b.store, b.keys.index())
}

// Stats reports the indexed document count.
func (b *VectorBackend) Stats(ctx context.Context) (backend.Stats, error) {
	n, err := b.store.IndexDocCount(ctx, b.keys.index())
	if err != nil {
		return nil, fmt.Errorf("vector stats: %w", err)
	}
	return backend.Stats{
		"backend":    string(b.kind),
		"documents":  n,
		"index":      b.keys.index(),
		"dimensions": b.cfg.Dimensions,
		"distance":   string(b.cfg.Distance),
	}, nil
}

// Close is a no-op; the shared connection is owned by the caller.
func (b *VectorBackend) Close() error { return nil }

func ensureIndex(ctx context.Context, store Store, idx *db.IndexDefinition) error {
	exists, err := store.IndexExists(ctx, idx.Name)
	if err != nil {
		return fmt.Errorf("probe index %s: %w", idx.Name, err)
	}
	if exists {
		return nil
	}
	if err := store.CreateIndex(ctx, idx); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", idx.Name, err)
	}
	return nil
}

func checkIndex(ctx context.Context, store Store, name string) error {
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}
	exists, err := store.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("%w: index %s missing", domain.ErrBackendUnavailable, name)
	}
	return nil
}

func deleteCascade(ctx context.Context, store Store, keys layout, id string) error {
	set := keys.docSet(id)
	members, err := store.SMembers(ctx, set)
	if err != nil {
		return fmt.Errorf("delete %q: %w", id, err)
	}
	toDelete := append(members, keys.key(id), set)
	if err := store.Del(ctx, toDelete...); err != nil {
		return fmt.Errorf("delete %q: %w", id, err)
	}
	return nil
}

// movedChunks returns, per document set, the keys about to be re-stored
// under a different document_id.
func movedChunks(ctx context.Context, store Store, keys layout, docs []document.Document) (map[string][]string, error) {
	ks := make([]string, len(docs))
	for i := range docs {
		ks[i] = keys.key(docs[i].ID())
	}
	prev, err := store.HGetMulti(ctx, ks, fieldDocumentID)
	if err != nil {
		return nil, fmt.Errorf("read previous document ids: %w", err)
	}

	moved := make(map[string][]string)
	for i, p := range prev {
		if p == "" || p == docs[i].DocumentID() {
			continue
		}
		set := keys.docSet(p)
		moved[set] = append(moved[set], ks[i])
	}
	return moved, nil
}
