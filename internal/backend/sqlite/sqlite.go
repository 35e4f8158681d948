// Package sqlite is a full-text backend over SQLite FTS5 (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kailas-cloud/hybridsearch/internal/backend"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
)

// Compile-time check.
var _ backend.TextBackend = (*Backend)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS documents_document_id ON documents(document_id);
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	id UNINDEXED,
	content,
	tokenize='unicode61'
);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA temp_store = MEMORY",
}

// Config selects the database file. An empty Path is in-memory.
type Config struct {
	Path string
}

// Backend implements backend.TextBackend.
type Backend struct {
	mu     sync.RWMutex
	cfg    Config
	logger *zap.Logger
	db     *sql.DB
}

// New creates an unopened backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	return &Backend{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "text_backend"), zap.String("kind", string(backend.TextSQLite))),
	}
}

// Kind reports the sqlite kind.
func (b *Backend) Kind() backend.TextKind { return backend.TextSQLite }

// Initialize opens the database and creates the schema.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}

	dsn := ":memory:"
	if b.cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(b.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
		dsn = b.cfg.Path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: a single writer, and an in-memory database lives on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	b.db = db
	b.logger.Info("sqlite index ready", zap.String("path", b.cfg.Path))
	return nil
}

func (b *Backend) conn() (*sql.DB, error) {
	if b.db == nil {
		return nil, backend.ErrNotInitialized
	}
	return b.db, nil
}

// IndexDocuments replaces every document of the batch in one transaction.
func (b *Backend) IndexDocuments(ctx context.Context, docs []document.Document) error {
	if err := backend.ValidateTextBatch(docs); err != nil {
		return err //nolint:wrapcheck // domain error
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// FTS5 has no REPLACE, so both tables are cleared per id first.
	stmts := []string{
		`DELETE FROM documents_fts WHERE id = ?`,
		`INSERT OR REPLACE INTO documents(id, document_id, content, metadata) VALUES (?, ?, ?, ?)`,
		`INSERT INTO documents_fts(id, content) VALUES (?, ?)`,
	}
	prepared := make([]*sql.Stmt, len(stmts))
	for i, s := range stmts {
		if prepared[i], err = tx.PrepareContext(ctx, s); err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer prepared[i].Close()
	}

	for i := range docs {
		d := &docs[i]
		meta, err := json.Marshal(d.Metadata())
		if err != nil {
			return fmt.Errorf("document %q: encode metadata: %w", d.ID(), err)
		}
		if _, err := prepared[0].ExecContext(ctx, d.ID()); err != nil {
			return fmt.Errorf("clear %q: %w", d.ID(), err)
		}
		if _, err := prepared[1].ExecContext(ctx, d.ID(), d.DocumentID(), d.Content(), string(meta)); err != nil {
			return fmt.Errorf("store %q: %w", d.ID(), err)
		}
		if _, err := prepared[2].ExecContext(ctx, d.ID(), d.Content()); err != nil {
			return fmt.Errorf("index %q: %w", d.ID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SearchText runs an FTS5 MATCH ranked by bm25(), with metadata filters in SQL.
func (b *Backend) SearchText(ctx context.Context, q backend.TextQuery) (backend.TextResult, error) {
	if err := q.Validate(); err != nil {
		return backend.TextResult{}, err //nolint:wrapcheck // domain error
	}
	match := matchExpression(q.Query)
	if match == "" {
		return backend.TextResult{Hits: []candidate.Candidate{}}, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return backend.TextResult{}, err
	}

	where, args := whereClause(q.Filters)
	from := ` FROM documents_fts JOIN documents d ON d.id = documents_fts.id
		WHERE documents_fts MATCH ?` + where

	var total int
	countArgs := append([]any{match}, args...)
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*)`+from, countArgs...).Scan(&total); err != nil {
		return backend.TextResult{}, fmt.Errorf("count matches: %w", err)
	}

	snippet := `''`
	if q.Highlight {
		snippet = fmt.Sprintf(`snippet(documents_fts, 1, '%s', '%s', '...', 16)`,
			backend.HighlightOpen, backend.HighlightClose)
	}
	query := `SELECT d.id, bm25(documents_fts) AS score, d.content, d.metadata, ` + snippet +
		from + ` ORDER BY score, d.id LIMIT ? OFFSET ?`
	pageArgs := append(countArgs, q.Limit, q.Offset)

	rows, err := db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return backend.TextResult{}, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	hits := make([]candidate.Candidate, 0, q.Limit)
	for rows.Next() {
		var (
			id, content, meta, frag string
			score                   float64
		)
		if err := rows.Scan(&id, &score, &content, &meta, &frag); err != nil {
			return backend.TextResult{}, fmt.Errorf("scan row: %w", err)
		}
		// bm25() is negative, lower is better.
		c := candidate.New(id, -score, candidate.Text, content, decodeMetadata(meta))
		if q.Highlight && strings.Contains(frag, backend.HighlightOpen) {
			c = c.WithHighlights(map[string][]string{"content": {frag}})
		}
		hits = append(hits, c)
	}
	if err := rows.Err(); err != nil {
		return backend.TextResult{}, fmt.Errorf("iterate rows: %w", err)
	}
	return backend.TextResult{Hits: hits, Total: total}, nil
}

// matchExpression quotes every term so user input never reaches FTS5 query syntax.
// Terms are OR-ed; bm25 ranks documents matching more of them higher.
func matchExpression(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f != "" {
			terms = append(terms, `"`+f+`"`)
		}
	}
	return strings.Join(terms, " OR ")
}

func decodeMetadata(raw string) map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal([]byte(raw), &m)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// DeleteDocument removes id and every chunk stored under document_id id.
func (b *Backend) DeleteDocument(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE id IN (SELECT id FROM documents WHERE id = ? OR document_id = ?)`,
		id, id); err != nil {
		return fmt.Errorf("delete %q from fts: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ? OR document_id = ?`, id, id); err != nil {
		return fmt.Errorf("delete %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (b *Backend) HealthCheck(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health: %w", err)
	}
	return nil
}

// Stats reports the stored document count.
func (b *Backend) Stats(ctx context.Context) (backend.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	return backend.Stats{
		"backend":    string(backend.TextSQLite),
		"documents":  n,
		"persistent": b.cfg.Path != "",
		"scorer":     "bm25",
	}, nil
}

// Close closes the database. It is safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
