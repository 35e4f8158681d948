package db

import "github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filters      filter.Expression
	Metric       DistanceMetric
	Vector       []float32
	K            int
	ReturnFields []string
}

// TextQuery is the input for BM25 text search.
type TextQuery struct {
	IndexName    string
	TextField    string
	Query        string
	Filters      filter.Expression
	Offset       int
	Limit        int
	ReturnFields []string
	Highlight    *Highlight
}

// Highlight asks FT.SEARCH to summarize and tag matches in the given fields.
type Highlight struct {
	Fields    []string
	OpenTag   string
	CloseTag  string
	Fragments int
	Length    int
	Separator string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
