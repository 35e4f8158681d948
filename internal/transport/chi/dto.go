package chi

import (
	"maps"

	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/domain/document"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/hybridsearch/internal/rerank"
	searchuc "github.com/kailas-cloud/hybridsearch/internal/usecase/search"
)

type chunkRequest struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float64      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type storeRequest struct {
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Chunks     []chunkRequest `json:"chunks"`
}

type storeResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

type vectorSearchRequest struct {
	Query          string         `json:"query"`
	Limit          int            `json:"limit"`
	ScoreThreshold float64        `json:"score_threshold"`
	Filters        map[string]any `json:"filters,omitempty"`
	Rerank         bool           `json:"rerank"`
	RerankTopK     int            `json:"rerank_top_k"`
}

type textSearchRequest struct {
	Query     string         `json:"query"`
	Limit     int            `json:"limit"`
	Offset    int            `json:"offset"`
	Filters   map[string]any `json:"filters,omitempty"`
	Highlight bool           `json:"highlight"`
}

type hybridSearchRequest struct {
	Query          string         `json:"query"`
	Limit          int            `json:"limit"`
	VectorWeight   *float64       `json:"vector_weight,omitempty"`
	TextWeight     *float64       `json:"text_weight,omitempty"`
	ScoreThreshold float64        `json:"score_threshold"`
	Filters        map[string]any `json:"filters,omitempty"`
	Rerank         bool           `json:"rerank"`
	RerankTopK     int            `json:"rerank_top_k"`
	Highlight      bool           `json:"highlight"`
}

type resultItem struct {
	ID            string              `json:"id"`
	Score         float64             `json:"score"`
	Source        candidate.Source    `json:"search_source"`
	Content       string              `json:"content,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	Highlights    map[string][]string `json:"highlights,omitempty"`
	VectorScore   *float64            `json:"vector_score,omitempty"`
	TextScore     *float64            `json:"text_score,omitempty"`
	RerankScore   *float64            `json:"rerank_score,omitempty"`
	OriginalScore *float64            `json:"original_score,omitempty"`
	RankPosition  int                 `json:"rank_position,omitempty"`
}

type failureItem struct {
	Side  searchuc.Side `json:"side"`
	Error string        `json:"error"`
}

type rerankInfo struct {
	ProcessingTimeMs float64 `json:"processing_time_ms"`
	OriginalCount    int     `json:"original_count"`
	RerankedCount    int     `json:"reranked_count"`
	SkippedCount     int     `json:"skipped_count"`
	Model            string  `json:"model,omitempty"`
	Reason           string  `json:"reason,omitempty"`
}

type searchInfo struct {
	Mode            searchuc.Mode `json:"mode"`
	VectorBackend   string        `json:"vector_backend,omitempty"`
	TextBackend     string        `json:"text_backend,omitempty"`
	VectorCount     int           `json:"vector_count"`
	TextCount       int           `json:"text_count"`
	VectorWeight    *float64      `json:"vector_weight,omitempty"`
	TextWeight      *float64      `json:"text_weight,omitempty"`
	ElapsedMs       float64       `json:"elapsed_ms"`
	RerankRequested bool          `json:"rerank_requested"`
	RerankApplied   bool          `json:"rerank_applied"`
	FromCache       bool          `json:"from_cache"`
	Rerank          *rerankInfo   `json:"rerank,omitempty"`
}

type searchResponse struct {
	Results  []resultItem  `json:"results"`
	Total    int           `json:"total"`
	Degraded bool          `json:"degraded"`
	Failures []failureItem `json:"failures,omitempty"`
	Info     searchInfo    `json:"info"`
}

type backendsResponse struct {
	Vector []string          `json:"vector"`
	Text   []string          `json:"text"`
	Active map[string]string `json:"active"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func parseFilters(m map[string]any) (filter.Expression, error) {
	expr, err := filter.FromMap(m)
	if err != nil {
		return filter.Expression{}, domain.InvalidInputf("filters: %v", err)
	}
	return expr, nil
}

// documentsFromRequest builds the text-side document and its vector-side chunks.
// Every chunk inherits the parent metadata and carries document_id.
func documentsFromRequest(req storeRequest) ([]document.Document, document.Document, error) {
	full, err := document.New(req.DocumentID, req.Content, nil, req.Metadata)
	if err != nil {
		return nil, document.Document{}, domain.InvalidInputf("%v", err)
	}

	chunks := make([]document.Document, 0, len(req.Chunks))
	for i, c := range req.Chunks {
		meta := maps.Clone(req.Metadata)
		if meta == nil {
			meta = make(map[string]any, len(c.Metadata)+2)
		}
		maps.Copy(meta, c.Metadata)
		meta[document.MetaDocumentID] = req.DocumentID
		if _, ok := meta[document.MetaChunkIndex]; !ok {
			meta[document.MetaChunkIndex] = i
		}

		doc, err := document.New(c.ID, c.Content, c.Embedding, meta)
		if err != nil {
			return nil, document.Document{}, domain.InvalidInputf("chunk %d: %v", i, err)
		}
		chunks = append(chunks, doc)
	}
	return chunks, full, nil
}

func toResponse(resp searchuc.Response) searchResponse {
	out := searchResponse{
		Results:  make([]resultItem, 0, len(resp.Candidates)),
		Total:    resp.Total,
		Degraded: resp.Degraded(),
		Info:     toInfo(resp.Info),
	}
	if out.Total == 0 {
		out.Total = len(resp.Candidates)
	}
	for _, c := range resp.Candidates {
		out.Results = append(out.Results, toItem(c))
	}
	for _, f := range resp.Failures {
		out.Failures = append(out.Failures, failureItem{Side: f.Side, Error: f.Err.Error()})
	}
	return out
}

func toItem(c candidate.Candidate) resultItem {
	item := resultItem{
		ID:         c.ID(),
		Score:      c.Score(),
		Source:     c.Source(),
		Content:    c.Content(),
		Metadata:   c.Metadata(),
		Highlights: c.Highlights(),
	}
	if c.Source() == candidate.Hybrid {
		if v, ok := c.VectorScore(); ok {
			item.VectorScore = &v
		}
		if t, ok := c.TextScore(); ok {
			item.TextScore = &t
		}
	}
	if c.Reranked() {
		rs, orig := c.RerankScore(), c.OriginalScore()
		item.RerankScore = &rs
		item.OriginalScore = &orig
		item.RankPosition = c.Rank()
	}
	return item
}

func toInfo(info searchuc.Info) searchInfo {
	out := searchInfo{
		Mode:            info.Mode,
		VectorBackend:   string(info.VectorBackend),
		TextBackend:     string(info.TextBackend),
		VectorCount:     info.VectorCount,
		TextCount:       info.TextCount,
		ElapsedMs:       float64(info.Elapsed.Microseconds()) / 1000,
		RerankRequested: info.RerankRequested,
		RerankApplied:   info.RerankApplied,
		FromCache:       info.RerankFromCache,
	}
	if info.Weights != nil {
		vw, tw := info.Weights.Vector, info.Weights.Text
		out.VectorWeight, out.TextWeight = &vw, &tw
	}
	if info.Rerank != nil {
		out.Rerank = toRerankInfo(*info.Rerank)
	}
	return out
}

func toRerankInfo(ri rerank.Info) *rerankInfo {
	return &rerankInfo{
		ProcessingTimeMs: float64(ri.ProcessingTime.Microseconds()) / 1000,
		OriginalCount:    ri.OriginalCount,
		RerankedCount:    ri.RerankedCount,
		SkippedCount:     ri.SkippedCount,
		Model:            ri.Model,
		Reason:           ri.Reason,
	}
}
