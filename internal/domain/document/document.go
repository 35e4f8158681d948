package document

import (
	"fmt"
	"maps"
	"regexp"

	"github.com/kailas-cloud/hybridsearch/internal/domain"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// MaxIDLength bounds identifiers so they stay usable as storage keys.
const MaxIDLength = 256

// Well-known metadata keys.
const (
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
	MetaFilename   = "filename"
	MetaFileType   = "file_type"
	MetaCreatedAt  = "created_at"
	MetaContent    = "content"
	MetaText       = "text"
)

// Document is the ingest-time unit handed to a backend (immutable value object).
// The same identifier may be stored once with an embedding (vector side)
// and once with content (text side).
type Document struct {
	id        string
	content   string
	embedding []float64
	metadata  map[string]any
}

// New validates the identifier and creates a Document.
// Side-specific requirements are checked by ValidateForVector and ValidateForText.
func New(id, content string, embedding []float64, metadata map[string]any) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document ID is required")
	}
	if len(id) > MaxIDLength {
		return Document{}, fmt.Errorf("document ID too long (max %d)", MaxIDLength)
	}
	if !idRegex.MatchString(id) {
		return Document{}, fmt.Errorf("document ID %q must match %s", id, idRegex.String())
	}

	return Document{
		id:        id,
		content:   content,
		embedding: append([]float64(nil), embedding...),
		metadata:  maps.Clone(metadata),
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id, content string, embedding []float64, metadata map[string]any) Document {
	return Document{id: id, content: content, embedding: embedding, metadata: metadata}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Content returns the text content.
func (d *Document) Content() string { return d.content }

// Embedding returns the embedding vector.
func (d *Document) Embedding() []float64 { return d.embedding }

// Metadata returns the metadata mapping.
func (d *Document) Metadata() map[string]any { return d.metadata }

// DocumentID returns the logical document id used for cascading deletes.
func (d *Document) DocumentID() string {
	if v, ok := d.metadata[MetaDocumentID].(string); ok && v != "" {
		return v
	}
	return d.id
}

// ValidateForVector checks the embedding length against the configured dimension.
func (d *Document) ValidateForVector(dim int) error {
	if len(d.embedding) != dim {
		return &domain.DimensionError{ID: d.id, Expected: dim, Got: len(d.embedding)}
	}
	return nil
}

// ValidateForText checks that the document carries content.
func (d *Document) ValidateForText() error {
	if d.content == "" {
		return fmt.Errorf("document %q: %w", d.id, domain.ErrEmptyContent)
	}
	return nil
}

// ValidateBatch applies ValidateForVector to every document; one bad member fails the batch.
func ValidateBatch(docs []Document, dim int) error {
	for i := range docs {
		if err := docs[i].ValidateForVector(dim); err != nil {
			return err
		}
	}
	return nil
}
