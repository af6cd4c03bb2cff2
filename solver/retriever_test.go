package solver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/retrieval"
	"github.com/dshills/solvegraph/state"
)

type recordingSearcher struct {
	query   string
	k       int
	exclude string
}

func (r *recordingSearcher) Search(ctx context.Context, query string, k int, exclude string) ([]retrieval.Entry, error) {
	r.query, r.k, r.exclude = query, k, exclude
	return []retrieval.Entry{{ID: "other", Description: "desc", Solution: "sol"}}, nil
}

func TestRetriever(t *testing.T) {
	s := &recordingSearcher{}
	rec := newRecord()
	msg := submitted("for x in range(3): pass")
	rec.Candidate = &msg

	upd, err := NewRetriever(s).Run(context.Background(), rec, graph.Config{ThreadID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if s.query != "for x in range(3): pass" || s.k != DefaultK || s.exclude != "p1" {
		t.Errorf("search(%q, %d, %q)", s.query, s.k, s.exclude)
	}

	next := state.Merge(rec, upd)
	if !strings.Contains(next.Examples, "<problem>\ndesc\n</problem>") {
		t.Errorf("examples = %q", next.Examples)
	}

	if _, err := NewRetriever(s).Run(context.Background(), rec, graph.Config{ThreadID: "p1", K: 5}); err != nil {
		t.Fatal(err)
	}
	if s.k != 5 {
		t.Errorf("k = %d, want 5", s.k)
	}
}

func TestRetriever_NoPayload(t *testing.T) {
	r := NewRetriever(&recordingSearcher{})

	_, err := r.Run(context.Background(), newRecord(), cfg)
	if !errors.Is(err, retrieval.ErrNoCodePayload) {
		t.Errorf("no candidate: err = %v", err)
	}

	rec := newRecord()
	msg := state.Assistant("just words", nil)
	rec.Candidate = &msg
	_, err = r.Run(context.Background(), rec, cfg)
	if !errors.Is(err, retrieval.ErrNoCodePayload) {
		t.Errorf("no call: err = %v", err)
	}
}

func TestRetriever_WithIndex(t *testing.T) {
	idx := retrieval.NewIndex([]retrieval.Entry{
		{ID: "p1", Description: "self", Solution: "print(input())"},
		{ID: "p2", Description: "other", Solution: "print(input())"},
	})
	rec := newRecord()
	msg := submitted("print(input())")
	rec.Candidate = &msg

	upd, err := NewRetriever(idx).Run(context.Background(), rec, graph.Config{ThreadID: "p1", K: 1})
	if err != nil {
		t.Fatal(err)
	}
	examples := state.Merge(rec, upd).Examples
	if strings.Contains(examples, "self") || !strings.Contains(examples, "other") {
		t.Errorf("examples = %q", examples)
	}
}
