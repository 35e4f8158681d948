package redis

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/hybridsearch/internal/db"
	"github.com/kailas-cloud/hybridsearch/internal/domain/search/filter"
)

func isFTSearch(cmd []string) bool { return cmd[0] == "FT.SEARCH" }

// --- client.go tests ---

func TestPing_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.Result(mock.RedisString("PONG")))

	s := NewStoreForTest(c, DriverRedis)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("PING")).
		Return(mock.ErrorResult(context.DeadlineExceeded))

	s := NewStoreForTest(c, DriverRedis)
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverRedis, false},
		{"Redis", DriverRedis, false},
		{"valkey", DriverValkey, false},
		{"memcached", "", true},
	}
	for _, tc := range tests {
		got, err := ParseDriver(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseDriver(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestNewStore_RequiresAddrs(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error for empty addrs")
	}
}

// --- hash.go tests ---

func TestHSetMulti_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(2)),
			mock.Result(mock.RedisInt64(2)),
		})

	s := NewStoreForTest(c, DriverRedis)
	err := s.HSetMulti(context.Background(), []db.HashSetItem{
		{Key: "k1", Fields: map[string]string{"f1": "v1"}},
		{Key: "k2", Fields: map[string]string{"f2": "v2"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHSetMulti_ReportsFailingKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisInt64(1)),
			mock.ErrorResult(errors.New("OOM")),
		})

	s := NewStoreForTest(c, DriverRedis)
	err := s.HSetMulti(context.Background(), []db.HashSetItem{
		{Key: "k1", Fields: map[string]string{"f": "v"}},
		{Key: "k2", Fields: map[string]string{"f": "v"}},
	})
	if !isDBError(err) {
		t.Fatalf("expected db.Error, got %v", err)
	}
	if !strings.Contains(err.Error(), "k2") {
		t.Errorf("error should name the failing key: %v", err)
	}
}

func TestHSetMulti_Empty(t *testing.T) {
	s := NewStoreForTest(nil, DriverRedis)
	if err := s.HSetMulti(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDel_MultipleKeys(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "a", "b")).
		Return(mock.Result(mock.RedisInt64(2)))

	s := NewStoreForTest(c, DriverRedis)
	if err := s.Del(context.Background(), "a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDel_NoKeys(t *testing.T) {
	s := NewStoreForTest(nil, DriverRedis)
	if err := s.Del(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSAddMulti_SkipsEmptySets(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{mock.Result(mock.RedisInt64(2))})

	s := NewStoreForTest(c, DriverRedis)
	err := s.SAddMulti(context.Background(), map[string][]string{
		"set:a": {"k1", "k2"},
		"set:b": nil,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHGetMulti_MissingFieldIsEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), mock.Match("HGET", "k1", "document_id"), mock.Match("HGET", "k2", "document_id")).
		Return([]rueidis.RedisResult{
			mock.Result(mock.RedisString("doc1")),
			mock.Result(mock.RedisNil()),
		})

	s := NewStoreForTest(c, DriverRedis)
	got, err := s.HGetMulti(context.Background(), []string{"k1", "k2"}, "document_id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(got, []string{"doc1", ""}) {
		t.Errorf("unexpected values %v", got)
	}
}

func TestHGetMulti_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), gomock.Any()).
		Return([]rueidis.RedisResult{mock.ErrorResult(errors.New("LOADING"))})

	s := NewStoreForTest(c, DriverRedis)
	if _, err := s.HGetMulti(context.Background(), []string{"k1"}, "f"); !isDBError(err) {
		t.Fatalf("expected db.Error, got %v", err)
	}
}

func TestSRemMulti(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		DoMulti(gomock.Any(), mock.Match("SREM", "set:a", "k1")).
		Return([]rueidis.RedisResult{mock.Result(mock.RedisInt64(1))})

	s := NewStoreForTest(c, DriverRedis)
	err := s.SRemMulti(context.Background(), map[string][]string{"set:a": {"k1"}, "set:b": nil})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SRemMulti(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error for empty input: %v", err)
	}
}

func TestSMembers(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SMEMBERS", "set:a")).
		Return(mock.Result(mock.RedisArray(mock.RedisString("k1"), mock.RedisString("k2"))))

	s := NewStoreForTest(c, DriverRedis)
	got, err := s.SMembers(context.Background(), "set:a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	slices.Sort(got)
	if !slices.Equal(got, []string{"k1", "k2"}) {
		t.Errorf("unexpected members %v", got)
	}
}

// --- kv.go tests ---

func TestGet_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "k")).
		Return(mock.Result(mock.RedisString("value")))

	s := NewStoreForTest(c, DriverRedis)
	v, err := s.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(v) != "value" {
		t.Errorf("got %q", v)
	}
}

func TestGet_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("GET", "k")).
		Return(mock.Result(mock.RedisNil()))

	s := NewStoreForTest(c, DriverRedis)
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSetWithTTL_Expiring(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v", "EX", "60")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c, DriverRedis)
	if err := s.SetWithTTL(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetWithTTL_ZeroMeansNoExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("SET", "k", "v")).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c, DriverRedis)
	if err := s.SetWithTTL(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- index.go tests ---

func testIndex(t *testing.T, text bool) *db.IndexDefinition {
	t.Helper()
	b := db.NewIndex("hs:idx", "hs:doc:").Tag("document_id").Numeric("chunk_index")
	if text {
		b.Text("__content")
	} else {
		b.Vector("vector", 4, db.DistanceCosine, 16, 200)
	}
	idx, err := b.Build()
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return idx
}

func TestCreateIndex_Args(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match(
			"FT.CREATE", "hs:idx", "ON", "HASH", "PREFIX", "1", "hs:doc:", "SCHEMA",
			"document_id", "TAG",
			"chunk_index", "NUMERIC",
			"vector", "VECTOR", "HNSW", "10",
			"TYPE", "FLOAT32", "DIM", "4", "DISTANCE_METRIC", "COSINE", "M", "16", "EF_CONSTRUCTION", "200",
		)).
		Return(mock.Result(mock.RedisString("OK")))

	s := NewStoreForTest(c, DriverValkey)
	if err := s.CreateIndex(context.Background(), testIndex(t, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateIndex_AlreadyExists(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool { return cmd[0] == "FT.CREATE" })).
		Return(mock.Result(mock.RedisError("Index already exists")))

	s := NewStoreForTest(c, DriverRedis)
	err := s.CreateIndex(context.Background(), testIndex(t, true))
	if !errors.Is(err, db.ErrIndexExists) {
		t.Errorf("expected ErrIndexExists, got %v", err)
	}
}

func TestCreateIndex_TextOnValkey(t *testing.T) {
	s := NewStoreForTest(nil, DriverValkey)
	err := s.CreateIndex(context.Background(), testIndex(t, true))
	if !errors.Is(err, db.ErrTextSearch) {
		t.Fatalf("expected ErrTextSearch, got %v", err)
	}
}

func TestCreateIndex_InvalidDefinition(t *testing.T) {
	s := NewStoreForTest(nil, DriverRedis)
	if err := s.CreateIndex(context.Background(), &db.IndexDefinition{Name: "idx"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestIndexExists(t *testing.T) {
	tests := []struct {
		name  string
		reply rueidis.RedisResult
		want  bool
	}{
		{"present", mock.Result(mock.RedisArray(mock.RedisString("index_name"), mock.RedisString("idx"))), true},
		{"redis absent", mock.Result(mock.RedisError("Unknown index name")), false},
		{"valkey absent", mock.Result(mock.RedisError("Index with name 'idx' not found")), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			c := mock.NewClient(ctrl)
			c.EXPECT().Do(gomock.Any(), mock.Match("FT.INFO", "idx")).Return(tc.reply)

			got, err := NewStoreForTest(c, DriverRedis).IndexExists(context.Background(), "idx")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIndexDocCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.Match("FT.INFO", "idx")).
		Return(mock.Result(mock.RedisArray(
			mock.RedisString("index_name"), mock.RedisString("idx"),
			mock.RedisString("num_docs"), mock.RedisString("42"),
		)))

	n, err := NewStoreForTest(c, DriverRedis).IndexDocCount(context.Background(), "idx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("got %d, want 42", n)
	}
}

func TestSupportsTextSearch(t *testing.T) {
	ctx := context.Background()
	if !NewStoreForTest(nil, DriverRedis).SupportsTextSearch(ctx) {
		t.Error("redis should support text search")
	}
	if NewStoreForTest(nil, DriverValkey).SupportsTextSearch(ctx) {
		t.Error("valkey should not support text search")
	}
}

// --- search.go tests ---

func TestSearchKNN_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var got []string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			got = cmd
			return isFTSearch(cmd)
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(1),
			mock.RedisString("doc:1"),
			mock.RedisArray(
				mock.RedisString("__vector_score"),
				mock.RedisString("0.1"),
				mock.RedisString("__content"),
				mock.RedisString("hello"),
			),
		)))

	s := NewStoreForTest(c, DriverValkey)
	result, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName:    "idx",
		Vector:       []float32{0.1, 0.2},
		K:            10,
		ReturnFields: []string{"__content"},
		Filters:      mustExpr(t, []filter.Condition{mustMatch(t, "lang", "go")}, nil, nil),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[2] != "(@lang:{go})=>[KNN 10 @vector $BLOB AS __vector_score]" {
		t.Errorf("unexpected query %q", got[2])
	}
	if len(result.Entries) != 1 || result.Entries[0].Key != "doc:1" {
		t.Fatalf("unexpected entries %+v", result.Entries)
	}
	if result.Entries[0].Score < 0.89 || result.Entries[0].Score > 0.91 {
		t.Errorf("expected score ~0.9, got %f", result.Entries[0].Score)
	}
	if _, ok := result.Entries[0].Fields["__vector_score"]; ok {
		t.Error("score field should be stripped from entry fields")
	}
}

func TestSearchKNN_Empty(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(isFTSearch)).
		Return(mock.Result(mock.RedisArray(mock.RedisInt64(0))))

	s := NewStoreForTest(c, DriverRedis)
	result, err := s.SearchKNN(context.Background(), &db.KNNQuery{IndexName: "idx", Vector: []float32{0.1}, K: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Entries) != 0 {
		t.Errorf("expected 0 entries, got %d", len(result.Entries))
	}
}

func TestSearchKNN_Validation(t *testing.T) {
	s := NewStoreForTest(nil, DriverRedis)
	ctx := context.Background()
	for name, q := range map[string]*db.KNNQuery{
		"no index":  {Vector: []float32{1}, K: 1},
		"no vector": {IndexName: "idx", K: 1},
		"zero k":    {IndexName: "idx", Vector: []float32{1}},
	} {
		if _, err := s.SearchKNN(ctx, q); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSearchBM25_OffsetAndHighlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	c := mock.NewClient(ctrl)

	var got []string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			got = cmd
			return isFTSearch(cmd)
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(7),
			mock.RedisString("doc:1"),
			mock.RedisString("0.85"),
			mock.RedisArray(
				mock.RedisString("__content"),
				mock.RedisString("a <mark>match</mark> here"),
			),
		)))

	s := NewStoreForTest(c, DriverRedis)
	result, err := s.SearchBM25(context.Background(), &db.TextQuery{
		IndexName: "idx",
		Query:     "match",
		Offset:    5,
		Limit:     10,
		Highlight: &db.Highlight{Fields: []string{"__content"}, OpenTag: "<mark>", CloseTag: "</mark>"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(got, " ")
	for _, want := range []string{
		"@__content:(match)",
		"HIGHLIGHT FIELDS 1 __content TAGS <mark> </mark>",
		"LIMIT 5 10",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("command %q missing %q", joined, want)
		}
	}
	if result.Total != 7 || len(result.Entries) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Entries[0].Score < 0.84 || result.Entries[0].Score > 0.86 {
		t.Errorf("expected score ~0.85, got %f", result.Entries[0].Score)
	}
}

func TestSearchBM25_Valkey(t *testing.T) {
	s := NewStoreForTest(nil, DriverValkey)
	_, err := s.SearchBM25(context.Background(), &db.TextQuery{IndexName: "idx", Query: "x", Limit: 1})
	if !errors.Is(err, db.ErrTextSearch) {
		t.Fatalf("expected ErrTextSearch, got %v", err)
	}
}

func TestSearchBM25_Validation(t *testing.T) {
	s := NewStoreForTest(nil, DriverRedis)
	ctx := context.Background()
	for name, q := range map[string]*db.TextQuery{
		"no index":    {Query: "x", Limit: 1},
		"blank query": {IndexName: "idx", Query: "  ", Limit: 1},
		"zero limit":  {IndexName: "idx", Query: "x"},
		"neg offset":  {IndexName: "idx", Query: "x", Limit: 1, Offset: -1},
	} {
		if _, err := s.SearchBM25(ctx, q); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// --- filter translation ---

func TestBuildFilter(t *testing.T) {
	gte := 1.0
	lt := 5.0
	rng, err := filter.NewRangeFilter(nil, &gte, &lt, nil)
	if err != nil {
		t.Fatal(err)
	}
	anyOf, err := filter.NewAnyOf("file_type", []string{"pdf", "md"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		expr filter.Expression
		want string
	}{
		{"empty", filter.Expression{}, ""},
		{"must tag", mustExpr(t, []filter.Condition{mustMatch(t, "lang", "go")}, nil, nil), "@lang:{go}"},
		{"any of", mustExpr(t, []filter.Condition{anyOf}, nil, nil), "@file_type:{pdf | md}"},
		{"range", mustExpr(t, []filter.Condition{mustRange(t, "chunk_index", rng)}, nil, nil), "@chunk_index:[1 (5]"},
		{
			"should and must_not",
			mustExpr(t, nil,
				[]filter.Condition{mustMatch(t, "a", "x"), mustMatch(t, "a", "y")},
				[]filter.Condition{mustMatch(t, "b", "z")}),
			"(@a:{x} | @a:{y}) -@b:{z}",
		},
		{"escaped", mustExpr(t, []filter.Condition{mustMatch(t, "path", "a b.c")}, nil, nil), `@path:{a\ b\.c}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildFilter(tc.expr); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery("foo-bar (baz)"); got != `foo\-bar \(baz\)` {
		t.Errorf("got %q", got)
	}
}

func TestVectorBytesRoundTrip(t *testing.T) {
	v := []float32{0.5, -1, 3.25}
	blob := VectorToBytes(v)
	if len(blob) != 12 {
		t.Fatalf("blob length %d, want 12", len(blob))
	}
	back, err := BytesToVector(blob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(back, v) {
		t.Errorf("got %v, want %v", back, v)
	}
	if _, err := BytesToVector("abc"); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestDistanceToSimilarity(t *testing.T) {
	if got := DistanceToSimilarity(db.DistanceCosine, 2); got != -1 {
		t.Errorf("anti-parallel cosine distance should map to -1, got %f", got)
	}
	if got := DistanceToSimilarity(db.DistanceCosine, 1.5); got != -0.5 {
		t.Errorf("negative similarity must be kept, got %f", got)
	}
	if got := DistanceToSimilarity(db.DistanceCosine, 0); got != 1 {
		t.Errorf("identical vectors should map to 1, got %f", got)
	}
	if got := DistanceToSimilarity(db.DistanceL2, 1); got != 0.5 {
		t.Errorf("l2 distance 1 should map to 0.5, got %f", got)
	}
}

func mustExpr(t *testing.T, must, should, mustNot []filter.Condition) filter.Expression {
	t.Helper()
	e, err := filter.NewExpression(must, should, mustNot)
	if err != nil {
		t.Fatalf("expression: %v", err)
	}
	return e
}

func mustMatch(t *testing.T, key, value string) filter.Condition {
	t.Helper()
	c, err := filter.NewMatch(key, value)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	return c
}

func mustRange(t *testing.T, key string, r filter.Range) filter.Condition {
	t.Helper()
	c, err := filter.NewRange(key, r)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	return c
}

// isDBError is a test helper for checking wrapped db.Error.
func isDBError(err error) bool {
	var dbErr *db.Error
	return errors.As(err, &dbErr)
}
