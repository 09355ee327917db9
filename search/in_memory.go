package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/voclabs/supportflow/core"
)

// InMemoryIndex is a process-local CaseSearcher over a fixed case list.
//
// Concurrency: protected by RWMutex.
// Ranking: token overlap between the query and the case's searchable text,
// with keyword hits weighted above free-text hits. Suitable for tests and
// demos; swap for the sqlite backend or an external search service in
// production.
type InMemoryIndex struct {
	mu    sync.RWMutex
	cases []core.Case
	hits  map[string]int
}

var _ core.CaseSearcher = (*InMemoryIndex)(nil)

// NewInMemoryIndex builds an index over the given cases.
func NewInMemoryIndex(cases []core.Case) *InMemoryIndex {
	cp := make([]core.Case, len(cases))
	copy(cp, cases)
	return &InMemoryIndex{cases: cp, hits: make(map[string]int)}
}

// Search implements core.CaseSearcher.
func (idx *InMemoryIndex) Search(ctx context.Context, query string, topK int, issueType string) ([]core.ScoredCase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}
	terms := strings.Fields(strings.ToLower(query))

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scored := make([]core.ScoredCase, 0, topK)
	for _, c := range idx.cases {
		if issueType != "" && c.IssueType != issueType {
			continue
		}
		score := scoreCase(c, terms)
		if score <= 0 {
			continue
		}
		scored = append(scored, core.ScoredCase{Case: c, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// RecordHit implements core.CaseSearcher.
func (idx *InMemoryIndex) RecordHit(_ context.Context, caseID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.hits[caseID]++
	return nil
}

// Hits returns the retrieval counter for a case id.
func (idx *InMemoryIndex) Hits(caseID string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.hits[caseID]
}

// scoreCase counts query term hits over the case fields. Keyword matches
// weigh double so curated keywords dominate incidental text overlap.
func scoreCase(c core.Case, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	keywords := strings.ToLower(strings.Join(c.Keywords, " "))
	text := strings.ToLower(searchableText(c))
	var score float64
	for _, t := range terms {
		if strings.Contains(keywords, t) {
			score += 2
			continue
		}
		if strings.Contains(text, t) {
			score++
		}
	}
	return score / float64(len(terms))
}

// searchableText flattens the descriptive fields of a case for matching.
func searchableText(c core.Case) string {
	if c.SearchText != "" {
		return c.SearchText
	}
	parts := []string{c.CaseName, c.Description}
	parts = append(parts, c.Symptoms...)
	parts = append(parts, c.Keywords...)
	return strings.Join(parts, " ")
}
