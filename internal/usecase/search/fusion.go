package search

import (
	"cmp"
	"slices"
	"strings"

	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
)

// Weights are the per-side fusion coefficients. They are applied as given,
// never renormalized.
type Weights struct {
	Vector float64 `json:"vector"`
	Text   float64 `json:"text"`
}

func (w Weights) validate() error {
	if w.Vector < 0 || w.Text < 0 {
		return invalidf("weights must be non-negative, got vector=%g text=%g", w.Vector, w.Text)
	}
	if w.Vector+w.Text <= 0 {
		return invalidf("weights must not sum to zero")
	}
	return nil
}

// fuse merges vector and text hits by id. An id present on both sides scores
// w.Vector*v + w.Text*t; an id present on one side keeps that side's score.
// The result is sorted by score descending with ties broken by id.
func fuse(vec, txt []candidate.Candidate, w Weights) []candidate.Candidate {
	merged := make(map[string]candidate.Candidate, len(vec)+len(txt))

	for _, c := range vec {
		if _, dup := merged[c.ID()]; !dup {
			merged[c.ID()] = c
		}
	}
	for _, t := range txt {
		v, ok := merged[t.ID()]
		if !ok {
			merged[t.ID()] = t
			continue
		}
		if _, inText := v.TextScore(); inText {
			continue // duplicate text hit
		}
		vs, _ := v.VectorScore()
		ts, _ := t.TextScore()
		merged[t.ID()] = v.Fuse(t, w.Vector*vs+w.Text*ts)
	}

	out := make([]candidate.Candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sortByScore(out)
	return out
}

// sortByScore orders candidates by score descending, then id ascending.
func sortByScore(cs []candidate.Candidate) {
	slices.SortFunc(cs, func(a, b candidate.Candidate) int {
		if c := cmp.Compare(b.Score(), a.Score()); c != 0 {
			return c
		}
		return strings.Compare(a.ID(), b.ID())
	})
}
