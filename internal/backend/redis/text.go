package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	"github.com/kailas-cloud/hybridsearch/internal/db"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
)

const (
	highlightFragments = 3
	highlightLength    = 20
	highlightSeparator = "... "
)

// Compile-time check.
var _ backend.TextBackend = (*TextBackend)(nil)

// TextBackend indexes document content under a BM25 FT index.
type TextBackend struct {
	store  Store
	cfg    Config
	keys   layout
	logger *zap.Logger
	ready  atomic.Bool
}

// NewTextBackend creates a text backend. The store must support text search.
func NewTextBackend(ctx context.Context, store Store, cfg Config, logger *zap.Logger) (*TextBackend, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if !store.SupportsTextSearch(ctx) {
		return nil, db.ErrTextSearch
	}
	return &TextBackend{
		store:  store,
		cfg:    cfg,
		keys:   newLayout(cfg.KeyPrefix, "txt"),
		logger: logger.With(zap.String("component", "text_backend"), zap.String("kind", string(backend.TextRedis))),
	}, nil
}

// Kind reports the redis text kind.
func (b *TextBackend) Kind() backend.TextKind { return backend.TextRedis }

// Initialize creates the FT index when missing.
func (b *TextBackend) Initialize(ctx context.Context) error {
	if b.ready.Load() {
		return nil
	}
	idx, err := db.NewIndex(b.keys.index(), b.keys.keyPrefix()).
		Text(fieldContent).
		Tag(fieldDocumentID).
		Tag(b.cfg.TagFields...).
		Numeric(b.cfg.NumericFields...).
		Build()
	if err != nil {
		return fmt.Errorf("text index definition: %w", err)
	}
	if err := ensureIndex(ctx, b.store, idx); err != nil {
		return err
	}
	b.ready.Store(true)
	b.logger.Info("text index ready", zap.String("index", idx.Name))
	return nil
}

// IndexDocuments writes the batch in one pipeline.
func (b *TextBackend) IndexDocuments(ctx context.Context, docs []document.Document) error {
	if !b.ready.Load() {
		return backend.ErrNotInitialized
	}
	if err := backend.ValidateTextBatch(docs); err != nil {
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
			fieldContent: d.Content(),
			fieldRaw:     d.Content(),
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
		return fmt.Errorf("index documents: %w", err)
	}
	if err := b.store.SAddMulti(ctx, sets); err != nil {
		return fmt.Errorf("index document ids: %w", err)
	}
	if err := b.store.SRemMulti(ctx, moved); err != nil {
		return fmt.Errorf("unlink previous document ids: %w", err)
	}
	return nil
}

// SearchText runs a BM25 query, optionally with highlighted fragments.
func (b *TextBackend) SearchText(ctx context.Context, q backend.TextQuery) (backend.TextResult, error) {
	if !b.ready.Load() {
		return backend.TextResult{}, backend.ErrNotInitialized
	}
	if err := q.Validate(); err != nil {
		return backend.TextResult{}, err //nolint:wrapcheck // domain error
	}
	if err := checkFilterFields(b.cfg, q.Filters); err != nil {
		return backend.TextResult{}, err
	}

	query := &db.TextQuery{
		IndexName:    b.keys.index(),
		TextField:    fieldContent,
		Query:        q.Query,
		Filters:      q.Filters,
		Offset:       q.Offset,
		Limit:        q.Limit,
		ReturnFields: []string{fieldRaw, fieldMetadata},
	}
	if q.Highlight {
		query.ReturnFields = append(query.ReturnFields, fieldContent)
		query.Highlight = &db.Highlight{
			Fields:    []string{fieldContent},
			OpenTag:   backend.HighlightOpen,
			CloseTag:  backend.HighlightClose,
			Fragments: highlightFragments,
			Length:    highlightLength,
			Separator: highlightSeparator,
		}
	}

	res, err := b.store.SearchBM25(ctx, query)
	if err != nil {
		return backend.TextResult{}, fmt.Errorf("text search: %w", err)
	}

	hits := make([]candidate.Candidate, 0, len(res.Entries))
	for _, e := range res.Entries {
		c := candidate.New(
			b.keys.idFromKey(e.Key), e.Score, candidate.Text,
			e.Fields[fieldRaw], decodeMetadata(e.Fields[fieldMetadata]),
		)
		if q.Highlight {
			if frags := fragments(e.Fields[fieldContent]); len(frags) > 0 {
				c = c.WithHighlights(map[string][]string{"content": frags})
			}
		}
		hits = append(hits, c)
	}
	return backend.TextResult{Hits: hits, Total: res.Total}, nil
}

// fragments splits a summarized field into the pieces that carry a match.
func fragments(summary string) []string {
	var out []string
	for _, f := range strings.Split(summary, highlightSeparator) {
		f = strings.TrimSpace(f)
		if strings.Contains(f, backend.HighlightOpen) {
			out = append(out, f)
		}
	}
	return out
}

// DeleteDocument removes id and every chunk stored under document_id id.
func (b *TextBackend) DeleteDocument(ctx context.Context, id string) error {
	if !b.ready.Load() {
		return backend.ErrNotInitialized
	}
	return deleteCascade(ctx, b.store, b.keys, id)
}

// HealthCheck pings the server and confirms the index exists.
func (b *TextBackend) HealthCheck(ctx context.Context) error {
	return checkIndex(ctx, b.store, b.keys.index())
}

// Stats reports the indexed document count.
func (b *TextBackend) Stats(ctx context.Context) (backend.Stats, error) {
	n, err := b.store.IndexDocCount(ctx, b.keys.index())
	if err != nil {
		return nil, fmt.Errorf("text stats: %w", err)
	}
	return backend.Stats{
		"backend":   string(backend.TextRedis),
		"documents": n,
		"index":     b.keys.index(),
		"scorer":    "BM25",
	}, nil
}

// Close is a no-op; the shared connection is owned by the caller.
func (b *TextBackend) Close() error { return nil }
