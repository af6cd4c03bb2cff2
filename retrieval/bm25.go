package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Okapi BM25 parameters.
const (
	k1 = 1.5
	b  = 0.75
)

// Index is an in-memory BM25 index over a corpus. It is immutable after
// construction and safe for concurrent use.
type Index struct {
	entries []Entry
	terms   []map[string]int
	lengths []int
	avgLen  float64
	df      map[string]int
}

// NewIndex tokenizes and indexes entries.
func NewIndex(entries []Entry) *Index {
	idx := &Index{
		entries: append([]Entry(nil), entries...),
		terms:   make([]map[string]int, len(entries)),
		lengths: make([]int, len(entries)),
		df:      map[string]int{},
	}

	total := 0
	for i, e := range idx.entries {
		tokens := tokenize(e.Text())
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		for tok := range tf {
			idx.df[tok]++
		}
		idx.terms[i] = tf
		idx.lengths[i] = len(tokens)
		total += len(tokens)
	}
	if len(entries) > 0 {
		idx.avgLen = float64(total) / float64(len(entries))
	}
	return idx
}

// Len returns the number of indexed entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

type scored struct {
	pos   int
	score float64
}

// Search returns up to k entries ranked by BM25 score against query,
// skipping the entry whose ID equals exclude. Ties keep corpus order.
func (idx *Index) Search(ctx context.Context, query string, k int, exclude string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 || len(idx.entries) == 0 {
		return nil, nil
	}

	queryTerms := tokenize(query)
	n := float64(len(idx.entries))
	results := make([]scored, 0, len(idx.entries))
	for i, e := range idx.entries {
		if e.ID == exclude {
			continue
		}
		var score float64
		norm := k1 * (1 - b + b*float64(idx.lengths[i])/idx.avgLen)
		for _, term := range queryTerms {
			tf := float64(idx.terms[i][term])
			if tf == 0 {
				continue
			}
			df := float64(idx.df[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			score += idf * tf * (k1 + 1) / (tf + norm)
		}
		results = append(results, scored{pos: i, score: score})
	}

	sort.SliceStable(results, func(a, c int) bool {
		return results[a].score > results[c].score
	})
	if len(results) > k {
		results = results[:k]
	}

	out := make([]Entry, len(results))
	for i, r := range results {
		out[i] = idx.entries[r.pos]
	}
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
