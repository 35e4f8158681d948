// Package hybridsearch embeds the hybrid retrieval engine in a Go program
// without running the HTTP service.
//
// A Client owns one vector backend and one text backend. Documents are
// written to both; searches run against either or both, and hybrid results
// are fused with weighted scores and optionally reranked.
//
//	client, _ := hybridsearch.New(ctx,
//	    hybridsearch.WithHNSW(""),
//	    hybridsearch.WithBleve(""),
//	    hybridsearch.WithDimensions(1024),
//	    hybridsearch.WithEmbedder(myEmbedder),
//	)
//	defer client.Close()
//
//	_ = client.Store(ctx, hybridsearch.Document{ID: "doc-1", Content: text})
//	res, _ := client.Hybrid(ctx, "query", hybridsearch.Limit(5), hybridsearch.Rerank(50))
//
// Redis or Valkey can serve either side (WithRedis, WithValkey); SQLite FTS5
// is available as a text engine (WithSQLite).
package hybridsearch
