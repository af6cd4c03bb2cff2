package solver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/retrieval"
	"github.com/dshills/solvegraph/state"
)

// DefaultK is the retrieval fan-out when the thread config leaves K unset.
const DefaultK = 2

// Searcher finds corpus entries similar to a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int, exclude string) ([]retrieval.Entry, error)
}

// Retriever is the retrieval node. It searches with the draft candidate's
// code and stores the formatted examples.
type Retriever struct {
	searcher Searcher
}

// NewRetriever creates a retrieval node over s.
func NewRetriever(s Searcher) *Retriever {
	return &Retriever{searcher: s}
}

// Run implements graph.Node. A candidate without a code payload is a hard
// error wrapping retrieval.ErrNoCodePayload.
func (r *Retriever) Run(ctx context.Context, rec state.Record, cfg graph.Config) (state.Update, error) {
	if rec.Candidate == nil {
		return nil, retrieval.ErrNoCodePayload
	}
	payload, ok := rec.Candidate.Code()
	if !ok {
		return nil, retrieval.ErrNoCodePayload
	}
	query := firstNonBlank(payload.Code, payload.Pseudocode, payload.Reasoning)
	if query == "" {
		return nil, retrieval.ErrNoCodePayload
	}

	k := cfg.K
	if k <= 0 {
		k = DefaultK
	}
	entries, err := r.searcher.Search(ctx, query, k, cfg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("search examples: %w", err)
	}
	return state.Update{state.SetExamples{Text: retrieval.FormatExamples(entries)}}, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
