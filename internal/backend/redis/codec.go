package redis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/hybridsearch/internal/db"
	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
)

// Reserved hash fields. Metadata fields listed in Config are stored
// alongside under their own names so FT indexes can filter on them.
const (
	fieldVector     = "vector"
	fieldContent    = "__content"
	fieldRaw        = "__raw"
	fieldMetadata   = "__metadata"
	fieldDocumentID = document.MetaDocumentID
)

// Config describes key layout and indexed metadata for one backend.
type Config struct {
	KeyPrefix     string
	Dimensions    int
	Distance      db.DistanceMetric
	M             int
	EFConstruct   int
	TagFields     []string
	NumericFields []string
}

// layout derives key names for one side ("vec" or "txt").
type layout struct {
	side   string
	prefix string
}

func newLayout(keyPrefix, side string) layout {
	return layout{side: side, prefix: keyPrefix}
}

func (l layout) index() string     { return l.prefix + l.side + ":idx" }
func (l layout) keyPrefix() string { return l.prefix + l.side + ":" }
func (l layout) key(id string) string {
	return l.keyPrefix() + id
}
func (l layout) docSet(documentID string) string {
	return l.prefix + "docs:" + l.side + ":" + documentID
}
func (l layout) idFromKey(key string) string {
	return strings.TrimPrefix(key, l.keyPrefix())
}

// metadataFields renders configured tag/numeric fields and the document_id tag.
func metadataFields(cfg Config, doc *document.Document, fields map[string]string) error {
	meta := doc.Metadata()
	fields[fieldDocumentID] = doc.DocumentID()
	for _, k := range cfg.TagFields {
		if v, ok := meta[k]; ok {
			fields[k] = fmt.Sprint(v)
		}
	}
	for _, k := range cfg.NumericFields {
		v, ok := meta[k]
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return domain.InvalidInputf("document %q: metadata %q must be numeric", doc.ID(), k)
		}
		fields[k] = strconv.FormatFloat(f, 'g', -1, 64)
	}

	blob, err := json.Marshal(meta)
	if err != nil {
		return domain.InvalidInputf("document %q: metadata is not JSON-encodable: %v", doc.ID(), err)
	}
	fields[fieldMetadata] = string(blob)
	return nil
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// checkFilterFields rejects filters on metadata keys the index does not carry.
func checkFilterFields(cfg Config, expr filter.Expression) error {
	indexed := make(map[string]bool, len(cfg.TagFields)+len(cfg.NumericFields)+1)
	indexed[fieldDocumentID] = true
	for _, k := range cfg.TagFields {
		indexed[k] = true
	}
	for _, k := range cfg.NumericFields {
		indexed[k] = true
	}
	for _, k := range expr.Keys() {
		if !indexed[k] {
			return domain.InvalidInputf("filter on unindexed metadata field %q", k)
		}
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
