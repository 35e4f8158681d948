// Package bleve is an embedded full-text backend over blevesearch/bleve.
package bleve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
)

// Compile-time check.
var _ backend.TextBackend = (*Backend)(nil)

const (
	fieldContent    = "content"
	fieldDocumentID = "document_id"
	fieldSource     = "source"
	fieldMetadata   = "metadata"
)

type indexedDoc struct {
	Content    string         `json:"content"`
	DocumentID string         `json:"document_id"`
	Source     string         `json:"source"`
	Metadata   map[string]any `json:"metadata"`
}

// Config selects on-disk or in-memory storage. An empty Path is in-memory.
type Config struct {
	Path string
}

// Backend implements backend.TextBackend.
type Backend struct {
	mu     sync.RWMutex
	cfg    Config
	logger *zap.Logger
	index  bleve.Index
}

// New creates an unopened backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	return &Backend{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "text_backend"), zap.String("kind", string(backend.TextBleve))),
	}
}

// Kind reports the bleve kind.
func (b *Backend) Kind() backend.TextKind { return backend.TextBleve }

// Initialize opens the index at Path, creating it when missing.
func (b *Backend) Initialize(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index != nil {
		return nil
	}

	m := indexMapping()
	var (
		idx bleve.Index
		err error
	)
	if b.cfg.Path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(b.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("create index directory: %w", err)
		}
		idx, err = bleve.Open(b.cfg.Path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(b.cfg.Path, m)
		}
	}
	if err != nil {
		return fmt.Errorf("open bleve index: %w", err)
	}

	b.index = idx
	b.logger.Info("bleve index ready", zap.String("path", b.cfg.Path))
	return nil
}

// indexMapping indexes content with the standard analyzer and term vectors
// for highlighting, and metadata strings as exact keywords.
func indexMapping() mapping.IndexMapping {
	content := bleve.NewTextFieldMapping()
	content.Analyzer = standard.Name
	content.Store = true
	content.IncludeTermVectors = true

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false

	meta := bleve.NewDocumentMapping()
	meta.DefaultAnalyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldContent, content)
	doc.AddFieldMappingsAt(fieldDocumentID, bleve.NewKeywordFieldMapping())
	doc.AddFieldMappingsAt(fieldSource, source)
	doc.AddSubDocumentMapping(fieldMetadata, meta)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

func (b *Backend) open() (bleve.Index, error) {
	if b.index == nil {
		return nil, backend.ErrNotInitialized
	}
	return b.index, nil
}

// IndexDocuments indexes the batch atomically.
func (b *Backend) IndexDocuments(_ context.Context, docs []document.Document) error {
	if err := backend.ValidateTextBatch(docs); err != nil {
		return err //nolint:wrapcheck // domain error
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, err := b.open()
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for i := range docs {
		d := &docs[i]
		src, err := json.Marshal(d.Metadata())
		if err != nil {
			return fmt.Errorf("document %q: encode metadata: %w", d.ID(), err)
		}
		if err := batch.Index(d.ID(), indexedDoc{
			Content:    d.Content(),
			DocumentID: d.DocumentID(),
			Source:     string(src),
			Metadata:   d.Metadata(),
		}); err != nil {
			return fmt.Errorf("index document %q: %w", d.ID(), err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// SearchText runs a match query on content, combined with metadata filters.
func (b *Backend) SearchText(ctx context.Context, q backend.TextQuery) (backend.TextResult, error) {
	if err := q.Validate(); err != nil {
		return backend.TextResult{}, err //nolint:wrapcheck // domain error
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, err := b.open()
	if err != nil {
		return backend.TextResult{}, err
	}

	match := bleve.NewMatchQuery(q.Query)
	match.SetField(fieldContent)

	req := bleve.NewSearchRequestOptions(withFilters(match, q.Filters), q.Limit, q.Offset, false)
	req.Fields = []string{fieldContent, fieldSource}
	if q.Highlight {
		req.Highlight = bleve.NewHighlightWithStyle(html.Name)
		req.Highlight.AddField(fieldContent)
	}

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return backend.TextResult{}, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]candidate.Candidate, 0, len(res.Hits))
	for _, h := range res.Hits {
		content, _ := h.Fields[fieldContent].(string)
		src, _ := h.Fields[fieldSource].(string)
		c := candidate.New(h.ID, h.Score, candidate.Text, content, decodeMetadata(src))
		if frags := h.Fragments[fieldContent]; q.Highlight && len(frags) > 0 {
			c = c.WithHighlights(map[string][]string{fieldContent: frags})
		}
		hits = append(hits, c)
	}
	return backend.TextResult{Hits: hits, Total: int(res.Total)}, nil
}

// withFilters wraps the text query in a boolean query carrying the filter groups.
func withFilters(text query.Query, expr filter.Expression) query.Query {
	if expr.IsEmpty() {
		return text
	}
	bq := bleve.NewBooleanQuery()
	bq.AddMust(text)
	for _, c := range expr.Must() {
		bq.AddMust(conditionQuery(c))
	}
	for _, c := range expr.Should() {
		bq.AddShould(conditionQuery(c))
	}
	if len(expr.Should()) > 0 {
		bq.SetMinShould(1)
	}
	for _, c := range expr.MustNot() {
		bq.AddMustNot(conditionQuery(c))
	}
	return bq
}

func conditionQuery(c filter.Condition) query.Query {
	field := fieldMetadata + "." + c.Key()
	if c.IsRange() {
		r := c.Range()
		var (
			lo, hi         *float64
			loIncl, hiIncl bool
		)
		switch {
		case r.GT() != nil:
			lo = r.GT()
		case r.GTE() != nil:
			lo, loIncl = r.GTE(), true
		}
		switch {
		case r.LT() != nil:
			hi = r.LT()
		case r.LTE() != nil:
			hi, hiIncl = r.LTE(), true
		}
		nq := bleve.NewNumericRangeInclusiveQuery(lo, hi, &loIncl, &hiIncl)
		nq.SetField(field)
		return nq
	}

	terms := make([]query.Query, 0, len(c.Values()))
	for _, v := range c.Values() {
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		terms = append(terms, tq)
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return bleve.NewDisjunctionQuery(terms...)
}

func decodeMetadata(src string) map[string]any {
	m := map[string]any{}
	if src != "" {
		_ = json.Unmarshal([]byte(src), &m)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// DeleteDocument removes id and every chunk indexed under document_id id.
func (b *Backend) DeleteDocument(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, err := b.open()
	if err != nil {
		return err
	}

	count, err := idx.DocCount()
	if err != nil {
		return fmt.Errorf("doc count: %w", err)
	}
	tq := bleve.NewTermQuery(id)
	tq.SetField(fieldDocumentID)
	req := bleve.NewSearchRequestOptions(tq, int(count)+1, 0, false)

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("find chunks of %q: %w", id, err)
	}

	batch := idx.NewBatch()
	batch.Delete(id)
	for _, h := range res.Hits {
		batch.Delete(h.ID)
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("delete %q: %w", id, err)
	}
	return nil
}

// HealthCheck confirms the index answers DocCount.
func (b *Backend) HealthCheck(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, err := b.open()
	if err != nil {
		return err
	}
	if _, err := idx.DocCount(); err != nil {
		return fmt.Errorf("bleve health: %w", err)
	}
	return nil
}

// Stats reports the document count.
func (b *Backend) Stats(_ context.Context) (backend.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	idx, err := b.open()
	if err != nil {
		return nil, err
	}
	count, err := idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("doc count: %w", err)
	}
	return backend.Stats{
		"backend":    string(backend.TextBleve),
		"documents":  int(count),
		"persistent": b.cfg.Path != "",
		"scorer":     "tf-idf",
	}, nil
}

// Close closes the index. It is safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index == nil {
		return nil
	}
	err := b.index.Close()
	b.index = nil
	if err != nil {
		return fmt.Errorf("close bleve index: %w", err)
	}
	return nil
}
