// Package hnsw is an in-process vector backend over coder/hnsw with optional
// file persistence. Filters are evaluated in memory against stored metadata.
package hnsw

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
)

// Compile-time check.
var _ backend.VectorBackend = (*Backend)(nil)

// Metric names accepted in Config.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
)

// Config tunes the graph. An empty Path keeps the index in memory only.
type Config struct {
	Dimensions int
	M          int
	EfSearch   int
	Metric     string
	Path       string
}

type entry struct {
	Key        uint64         `json:"key"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	DocumentID string         `json:"document_id"`
}

type snapshot struct {
	Entries map[string]entry `json:"entries"`
	NextKey uint64           `json:"next_key"`
	Metric  string           `json:"metric"`
	Dims    int              `json:"dimensions"`
}

// Backend implements backend.VectorBackend.
type Backend struct {
	mu     sync.RWMutex
	cfg    Config
	logger *zap.Logger

	graph   *hnsw.Graph[uint64]
	entries map[string]entry           // id -> entry
	byKey   map[uint64]string          // graph key -> id
	byDoc   map[string]map[string]bool // document_id -> ids
	nextKey uint64
	ready   bool
}

// New creates an uninitialized backend.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", cfg.Dimensions)
	}
	switch cfg.Metric {
	case "":
		cfg.Metric = MetricCosine
	case MetricCosine, MetricL2:
	default:
		return nil, fmt.Errorf("unknown hnsw metric %q", cfg.Metric)
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	return &Backend{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "vector_backend"), zap.String("kind", string(backend.VectorHNSW))),
	}, nil
}

// Kind reports the hnsw kind.
func (b *Backend) Kind() backend.VectorKind { return backend.VectorHNSW }

// Initialize builds the graph, loading a snapshot from Path when one exists.
func (b *Backend) Initialize(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}

	b.reset()
	if b.cfg.Path != "" {
		loaded, err := b.load()
		if err != nil {
			return fmt.Errorf("load hnsw snapshot: %w", err)
		}
		if loaded {
			b.logger.Info("hnsw snapshot loaded", zap.String("path", b.cfg.Path), zap.Int("documents", len(b.entries)))
		}
	}
	b.ready = true
	return nil
}

func (b *Backend) reset() {
	g := hnsw.NewGraph[uint64]()
	g.M = b.cfg.M
	g.EfSearch = b.cfg.EfSearch
	g.Ml = 1 / math.Log(float64(max(b.cfg.M, 2)))
	if b.cfg.Metric == MetricL2 {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	b.graph = g
	b.entries = make(map[string]entry)
	b.byKey = make(map[uint64]string)
	b.byDoc = make(map[string]map[string]bool)
	b.nextKey = 0
}

// StoreEmbeddings validates the batch, then inserts or replaces every document.
// Replaced nodes stay in the graph unreachable through the id maps.
func (b *Backend) StoreEmbeddings(_ context.Context, docs []document.Document) error {
	if err := document.ValidateBatch(docs, b.cfg.Dimensions); err != nil {
		return err //nolint:wrapcheck // domain error
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return backend.ErrNotInitialized
	}

	for i := range docs {
		d := &docs[i]
		b.removeLocked(d.ID())

		key := b.nextKey
		b.nextKey++
		b.graph.Add(hnsw.MakeNode(key, b.prepare(d.Embedding())))

		e := entry{Key: key, Content: d.Content(), Metadata: d.Metadata(), DocumentID: d.DocumentID()}
		b.indexLocked(d.ID(), e)
	}
	return nil
}

func (b *Backend) indexLocked(id string, e entry) {
	b.entries[id] = e
	b.byKey[e.Key] = id
	ids := b.byDoc[e.DocumentID]
	if ids == nil {
		ids = make(map[string]bool)
		b.byDoc[e.DocumentID] = ids
	}
	ids[id] = true
}

func (b *Backend) removeLocked(id string) bool {
	e, ok := b.entries[id]
	if !ok {
		return false
	}
	delete(b.entries, id)
	delete(b.byKey, e.Key)
	if ids := b.byDoc[e.DocumentID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(b.byDoc, e.DocumentID)
		}
	}
	return true
}

func (b *Backend) prepare(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	if b.cfg.Metric == MetricCosine {
		normalize(out)
	}
	return out
}

// SearchSimilar searches the graph, widening k until enough hits pass the
// filters and threshold or the graph is exhausted.
func (b *Backend) SearchSimilar(
	ctx context.Context, vector []float64, limit int, scoreThreshold float64, filters filter.Expression,
) ([]candidate.Candidate, error) {
	if len(vector) != b.cfg.Dimensions {
		return nil, &domain.DimensionError{ID: "query", Expected: b.cfg.Dimensions, Got: len(vector)}
	}
	if limit <= 0 {
		return nil, domain.InvalidInputf("limit must be positive, got %d", limit)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready {
		return nil, backend.ErrNotInitialized
	}
	if len(b.entries) == 0 {
		return []candidate.Candidate{}, nil
	}

	q := b.prepare(vector)
	total := b.graph.Len()
	for k := limit; ; k *= 2 {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck // caller cancellation
		}
		k = min(k, total)
		out := b.collect(q, k, limit, scoreThreshold, filters)
		if len(out) >= limit || k >= total {
			return out, nil
		}
	}
}

func (b *Backend) collect(q []float32, k, limit int, threshold float64, filters filter.Expression) []candidate.Candidate {
	nodes := b.graph.Search(q, k)
	out := make([]candidate.Candidate, 0, min(limit, len(nodes)))
	for _, n := range nodes {
		id, ok := b.byKey[n.Key]
		if !ok {
			continue
		}
		e := b.entries[id]
		if !filters.Matches(e.Metadata) {
			continue
		}
		score := b.similarity(b.graph.Distance(q, n.Value))
		if threshold > 0 && score < threshold {
			continue
		}
		out = append(out, candidate.New(id, score, candidate.Vector, e.Content, e.Metadata))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score() != out[j].Score() {
			return out[i].Score() > out[j].Score()
		}
		return out[i].ID() < out[j].ID()
	})
	return candidate.Truncate(out, limit)
}

func (b *Backend) similarity(d float32) float64 {
	if b.cfg.Metric == MetricL2 {
		return 1 / (1 + float64(d))
	}
	// cosine distance is 1 - similarity, so anti-parallel vectors score -1
	return 1 - float64(d)
}

// DeleteDocument removes id and every chunk stored under document_id id.
func (b *Backend) DeleteDocument(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return backend.ErrNotInitialized
	}
	b.removeLocked(id)
	for chunk := range b.byDoc[id] {
		b.removeLocked(chunk)
	}
	return nil
}

// HealthCheck fails only when the backend is not initialized.
func (b *Backend) HealthCheck(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready {
		return backend.ErrNotInitialized
	}
	return nil
}

// Stats reports live entries and lazily deleted graph nodes.
func (b *Backend) Stats(_ context.Context) (backend.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.ready {
		return nil, backend.ErrNotInitialized
	}
	nodes := b.graph.Len()
	return backend.Stats{
		"backend":     string(backend.VectorHNSW),
		"documents":   len(b.entries),
		"graph_nodes": nodes,
		"orphans":     nodes - len(b.entries),
		"dimensions":  b.cfg.Dimensions,
		"metric":      b.cfg.Metric,
		"persistent":  b.cfg.Path != "",
	}, nil
}

// Close saves a snapshot when Path is set.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return nil
	}
	b.ready = false
	if b.cfg.Path == "" {
		return nil
	}
	if err := b.save(); err != nil {
		return fmt.Errorf("save hnsw snapshot: %w", err)
	}
	return nil
}

// save writes the graph, then the id maps, each via temp file and rename.
func (b *Backend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := writeAtomic(b.cfg.Path, b.graph.Export); err != nil {
		return err
	}
	snap := snapshot{Entries: b.entries, NextKey: b.nextKey, Metric: b.cfg.Metric, Dims: b.cfg.Dimensions}
	return writeAtomic(b.cfg.Path+".meta", func(w io.Writer) error {
		return json.NewEncoder(w).Encode(snap)
	})
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// load restores a snapshot; a missing snapshot is a fresh start.
func (b *Backend) load() (bool, error) {
	metaFile, err := os.Open(b.cfg.Path + ".meta")
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer metaFile.Close()

	var snap snapshot
	if err := json.NewDecoder(metaFile).Decode(&snap); err != nil {
		return false, fmt.Errorf("decode metadata: %w", err)
	}
	if snap.Dims != b.cfg.Dimensions || snap.Metric != b.cfg.Metric {
		return false, fmt.Errorf("snapshot is %d-dim %s, configured %d-dim %s",
			snap.Dims, snap.Metric, b.cfg.Dimensions, b.cfg.Metric)
	}

	graphFile, err := os.Open(b.cfg.Path)
	if err != nil {
		return false, err
	}
	defer graphFile.Close()
	if err := b.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return false, fmt.Errorf("import graph: %w", err)
	}

	for id, e := range snap.Entries {
		b.indexLocked(id, e)
	}
	b.nextKey = snap.NextKey
	return true, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
