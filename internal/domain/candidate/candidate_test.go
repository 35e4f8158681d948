package candidate

import "testing"

func TestNew_ResolvesContentFromMetadata(t *testing.T) {
	c := New("a", 0.5, Vector, "", map[string]any{"text": "from meta"})
	if c.Content() != "from meta" {
		t.Errorf("Content() = %q, want from meta", c.Content())
	}

	direct := New("a", 0.5, Vector, "direct", map[string]any{"text": "from meta"})
	if direct.Content() != "direct" {
		t.Errorf("Content() = %q, want direct", direct.Content())
	}
}

func TestNew_SideScores(t *testing.T) {
	v := New("a", 0.8, Vector, "x", nil)
	if s, ok := v.VectorScore(); !ok || s != 0.8 {
		t.Errorf("VectorScore() = %v, %v", s, ok)
	}
	if _, ok := v.TextScore(); ok {
		t.Error("vector hit should not report a text score")
	}
}

func TestFuse(t *testing.T) {
	v := New("a", 0.8, Vector, "", nil)
	tx := New("a", 0.6, Text, "apple pie", nil).
		WithHighlights(map[string][]string{"content": {"<mark>apple</mark> pie"}})

	f := v.Fuse(tx, 0.74)

	if f.Source() != Hybrid {
		t.Errorf("Source() = %q, want hybrid", f.Source())
	}
	if f.Score() != 0.74 {
		t.Errorf("Score() = %v, want 0.74", f.Score())
	}
	if s, _ := f.TextScore(); s != 0.6 {
		t.Errorf("TextScore() = %v, want 0.6", s)
	}
	if f.Content() != "apple pie" {
		t.Errorf("Content() = %q", f.Content())
	}
	if len(f.Highlights()["content"]) != 1 {
		t.Errorf("Highlights() = %v", f.Highlights())
	}
	if v.Source() != Vector || v.Score() != 0.8 {
		t.Error("Fuse mutated the receiver")
	}
}

func TestRerank(t *testing.T) {
	c := New("a", 0.3, Hybrid, "x", nil)
	r := c.Rerank(0.95, 1)

	if r.Score() != 0.95 || r.RerankScore() != 0.95 {
		t.Errorf("score = %v / %v", r.Score(), r.RerankScore())
	}
	if r.OriginalScore() != 0.3 {
		t.Errorf("OriginalScore() = %v", r.OriginalScore())
	}
	if !r.Reranked() || r.Rank() != 1 {
		t.Errorf("rank = %d", r.Rank())
	}
	if c.Reranked() {
		t.Error("Rerank mutated the receiver")
	}
}

func TestTruncate(t *testing.T) {
	cs := []Candidate{New("a", 1, Text, "", nil), New("b", 1, Text, "", nil)}

	if got := Truncate(cs, 1); len(got) != 1 || got[0].ID() != "a" {
		t.Errorf("Truncate(1) = %v", IDs(got))
	}
	if got := Truncate(cs, 5); len(got) != 2 {
		t.Errorf("Truncate(5) len = %d", len(got))
	}
	if got := Truncate(cs, 0); len(got) != 0 {
		t.Errorf("Truncate(0) len = %d", len(got))
	}
}

func TestParse(t *testing.T) {
	for _, s := range []string{"vector", "text", "hybrid"} {
		if _, err := Parse(s); err != nil {
			t.Errorf("Parse(%q): %v", s, err)
		}
	}
	if _, err := Parse("both"); err == nil {
		t.Error("expected error for unknown source")
	}
}
