package pack

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/apex/internal/patterns"
)

func pattern(id string, typ patterns.Type) *patterns.Pattern {
	return &patterns.Pattern{ID: id, Type: typ, Title: id, Summary: "summary for " + id}
}

func TestBuildBucketsByType(t *testing.T) {
	items := []Item{
		{Pattern: pattern("ACME:POLICY:1", patterns.TypePolicy), Score: 10},
		{Pattern: pattern("ACME:ANTI:1", patterns.TypeAnti), Score: 10},
		{Pattern: pattern("ACME:TEST:1", patterns.TypeTest), Score: 10},
		{Pattern: pattern("ACME:LANG:1", patterns.TypeLang), Score: 90},
		{Pattern: pattern("ACME:LANG:2", patterns.TypeLang), Score: 40},
	}
	p, err := Build("do the thing", items, Options{})
	require.NoError(t, err)
	assert.Len(t, p.Policies, 1)
	assert.Len(t, p.AntiPatterns, 1)
	assert.Len(t, p.Tests, 1)
	assert.Len(t, p.Candidates, 2)
	assert.Equal(t, 5, p.Meta.TotalRanked)
}

func TestBuildDeterministic(t *testing.T) {
	items := []Item{
		{Pattern: pattern("B", patterns.TypeLang), Score: 10},
		{Pattern: pattern("A", patterns.TypeLang), Score: 10},
	}
	p1, err := Build("task", items, Options{})
	require.NoError(t, err)
	p2, err := Build("task", items, Options{})
	require.NoError(t, err)
	assert.Equal(t, p1.Candidates, p2.Candidates)
	// tie broken ascending by ID
	assert.Equal(t, "A", p1.Candidates[0].ID)
}

func TestBuildRespectsTopCandidatesLimit(t *testing.T) {
	items := []Item{
		{Pattern: pattern("A", patterns.TypeLang), Score: 90},
		{Pattern: pattern("B", patterns.TypeLang), Score: 85},
		{Pattern: pattern("C", patterns.TypeLang), Score: 81},
	}
	p, err := Build("task", items, Options{TopCandidates: 2})
	require.NoError(t, err)
	assert.Len(t, p.Candidates, 2)
}

func TestTrimToBudgetShrinksSnippetsBeforeDropping(t *testing.T) {
	bigSnippet := strings.Repeat("x := 1\n", 50)
	items := []Item{
		{Pattern: &patterns.Pattern{
			ID: "A", Type: patterns.TypeLang, Title: "A", Summary: "s",
			Snippets: []patterns.Snippet{{Content: bigSnippet}},
		}, Score: 90},
	}
	p, err := Build("task", items, Options{BudgetBytes: 400, SnippetLinesMin: 5})
	require.NoError(t, err)
	raw := mustMarshal(t, p)
	assert.LessOrEqual(t, len(raw), 600) // trimmed substantially, allow slack for json overhead
	assert.Len(t, p.Candidates, 1, "snippet trimming should avoid dropping the only candidate")
}

func TestTrimToBudgetDropsOnlyLowestScoredCandidate(t *testing.T) {
	items := []Item{
		{Pattern: pattern("HIGH", patterns.TypeLang), Score: 90},
		{Pattern: pattern("LOW", patterns.TypeLang), Score: 10},
	}
	full, err := Build("task", items, Options{BudgetBytes: 1 << 20})
	require.NoError(t, err)
	require.Len(t, full.Candidates, 2)

	// A budget just under the unconstrained size forces exactly one
	// drop; it must be the lowest-scored item, and the higher-scored
	// one must survive.
	p, err := Build("task", items, Options{BudgetBytes: full.Meta.Bytes - 5})
	require.NoError(t, err)

	var ids []string
	for _, c := range p.Candidates {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "HIGH")
	assert.NotContains(t, ids, "LOW")
}

func TestTrimToBudgetDropsEverythingWhenBudgetUnreachable(t *testing.T) {
	items := []Item{
		{Pattern: pattern("HIGH", patterns.TypeLang), Score: 90},
		{Pattern: pattern("LOW", patterns.TypeLang), Score: 10},
	}
	p, err := Build("task", items, Options{BudgetBytes: 1})
	require.NoError(t, err)
	assert.Empty(t, p.Candidates)
}

func TestTrimToBudgetTrimsSnippetsInNonCandidateBuckets(t *testing.T) {
	bigSnippet := strings.Repeat("x := 1\n", 50)
	items := []Item{
		{Pattern: &patterns.Pattern{
			ID: "ACME:ANTI:1", Type: patterns.TypeAnti, Title: "anti", Summary: "s",
			Snippets: []patterns.Snippet{{Content: bigSnippet}},
		}, Score: 10},
	}
	p, err := Build("task", items, Options{BudgetBytes: 400, SnippetLinesMin: 5})
	require.NoError(t, err)
	raw := mustMarshal(t, p)
	assert.LessOrEqual(t, len(raw), 600) // trimmed substantially, allow slack for json overhead
	require.Len(t, p.AntiPatterns, 1, "snippet trimming must shrink anti-pattern snippets before any bucket is dropped")
}

func TestTrimToBudgetDropsFromNonCandidateBucketsWhenBudgetStillExceeded(t *testing.T) {
	items := []Item{
		{Pattern: pattern("ACME:POLICY:1", patterns.TypePolicy), Score: 5},
		{Pattern: pattern("ACME:ANTI:1", patterns.TypeAnti), Score: 1},
	}
	full, err := Build("task", items, Options{BudgetBytes: 1 << 20})
	require.NoError(t, err)
	require.Equal(t, 2, len(full.Policies)+len(full.AntiPatterns))

	p, err := Build("task", items, Options{BudgetBytes: full.Meta.Bytes - 5})
	require.NoError(t, err)
	// policies are admitted regardless of quota, but neither policies
	// nor anti-patterns are exempt from the byte budget itself.
	assert.Less(t, len(p.Policies)+len(p.AntiPatterns), 2)
	raw := mustMarshal(t, p)
	assert.LessOrEqual(t, len(raw), full.Meta.Bytes)
}

func TestAnnotateCrossRefs(t *testing.T) {
	items := []Item{
		{Pattern: pattern("ACME:ANTI:1", patterns.TypeAnti), Score: 10},
		{Pattern: pattern("ACME:LANG:1", patterns.TypeLang), Score: 90, Notes: "avoid ACME:ANTI:1 here"},
	}
	p, err := Build("task", items, Options{})
	require.NoError(t, err)
	require.Len(t, p.Candidates, 1)
	assert.Contains(t, p.Candidates[0].CrossRefs, "ACME:ANTI:1")
}

func TestGzipSizeComputedWhenRequested(t *testing.T) {
	items := []Item{{Pattern: pattern("A", patterns.TypeLang), Score: 10}}
	p, err := Build("task", items, Options{WithGzipSize: true})
	require.NoError(t, err)
	assert.Greater(t, p.Meta.GzipBytes, 0)
}

func mustMarshal(t *testing.T, p *Pack) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}
