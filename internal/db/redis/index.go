package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/hybridsearch/internal/db"
)

// CreateIndex creates an FT index from the given definition.
// TEXT fields are rejected up front on drivers without text search.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	for _, f := range def.Fields {
		if f.Type == db.IndexFieldText && !s.SupportsTextSearch(ctx) {
			return &db.Error{Op: db.OpCreateIndex, Err: db.ErrTextSearch}
		}
	}

	cmd := s.b().Arbitrary("FT.CREATE").Args(buildCreateArgs(def)...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "already exists") {
			return db.ErrIndexExists
		}
		return &db.Error{Op: db.OpCreateIndex, Err: err}
	}
	return nil
}

// IndexExists probes index existence via FT.INFO.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		if isUnknownIndex(err) {
			return false, nil
		}
		return false, &db.Error{Op: db.OpIndexInfo, Err: err}
	}
	return true, nil
}

// IndexDocCount reads num_docs from FT.INFO.
func (s *Store) IndexDocCount(ctx context.Context, name string) (int, error) {
	cmd := s.b().Arbitrary("FT.INFO").Args(name).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isUnknownIndex(err) {
			return 0, db.ErrIndexNotFound
		}
		return 0, &db.Error{Op: db.OpIndexInfo, Err: err}
	}
	for i := 0; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil || key != "num_docs" {
			continue
		}
		n, err := raw[i+1].AsInt64()
		if err != nil {
			return 0, &db.Error{Op: db.OpIndexInfo, Err: fmt.Errorf("parse num_docs: %w", err)}
		}
		return int(n), nil
	}
	return 0, &db.Error{Op: db.OpIndexInfo, Err: errors.New("num_docs missing from reply")}
}

// SupportsTextSearch reports whether the driver can index TEXT fields and score BM25.
func (s *Store) SupportsTextSearch(_ context.Context) bool {
	return s.driver == DriverRedis
}

func isUnknownIndex(err error) bool {
	// Redis says "Unknown index name", Valkey says "Index with name ... not found".
	return isRedisErr(err, "unknown index name") || isRedisErr(err, "not found")
}

func buildCreateArgs(idx *db.IndexDefinition) []string {
	args := []string{idx.Name, "ON", "HASH", "PREFIX", "1", idx.Prefix, "SCHEMA"}
	for _, f := range idx.Fields {
		args = append(args, f.Name)
		if f.Type == db.IndexFieldVector {
			args = append(args, buildVectorFieldArgs(f)...)
			continue
		}
		args = append(args, f.Type.String())
	}
	return args
}

func buildVectorFieldArgs(f db.IndexField) []string {
	distance := f.VectorDistance
	if distance == "" {
		distance = db.DistanceCosine
	}

	attrs := []string{
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(f.VectorDim),
		"DISTANCE_METRIC", string(distance),
	}
	if f.VectorM > 0 {
		attrs = append(attrs, "M", strconv.Itoa(f.VectorM))
	}
	if f.VectorEFConstruct > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(f.VectorEFConstruct))
	}

	out := make([]string, 0, 3+len(attrs))
	out = append(out, "VECTOR", "HNSW", strconv.Itoa(len(attrs)))
	return append(out, attrs...)
}
