// Package pack implements the pack builder (C7): byte-budgeted
// assembly of a ranked pattern set into the shape a calling agent
// consumes directly, with deterministic quota-bound admission and
// progressive trimming when the serialised pack exceeds budget
// (spec.md §4.7).
package pack

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"sort"

	"github.com/untoldecay/apex/internal/patterns"
)

// Defaults from spec.md §4.7.
const (
	DefaultBudgetBytes     = 8192
	DefaultTopCandidates   = 5
	DefaultAntis           = 2
	DefaultTests           = 2
	DefaultSnippetLinesMin = 8
	highScoreThreshold     = 80
)

// Item is one ranked pattern plus the score/notes the ranker produced
// for it (spec.md §4.6 output feeding §4.7 input).
type Item struct {
	Pattern *patterns.Pattern
	Score   int
	Notes   string // free text that may mention other pattern IDs by name
}

// Options configures Build; zero values take the spec.md §4.7 defaults.
type Options struct {
	BudgetBytes     int
	TopCandidates   int
	Antis           int
	Tests           int
	SnippetLinesMin int
	Explain         bool
	WithGzipSize    bool
}

func (o Options) withDefaults() Options {
	if o.BudgetBytes <= 0 {
		o.BudgetBytes = DefaultBudgetBytes
	}
	if o.TopCandidates <= 0 {
		o.TopCandidates = DefaultTopCandidates
	}
	if o.Antis <= 0 {
		o.Antis = DefaultAntis
	}
	if o.Tests <= 0 {
		o.Tests = DefaultTests
	}
	if o.SnippetLinesMin <= 0 {
		o.SnippetLinesMin = DefaultSnippetLinesMin
	}
	return o
}

// PackedPattern is the serialisable projection of a pattern admitted
// into a pack.
type PackedPattern struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Title      string             `json:"title"`
	Summary    string             `json:"summary"`
	KeyInsight string             `json:"key_insight,omitempty"`
	WhenToUse  string             `json:"when_to_use,omitempty"`
	Score      int                `json:"score"`
	Snippets   []patterns.Snippet `json:"snippets,omitempty"`
	Notes      string             `json:"notes,omitempty"`
	CrossRefs  []string           `json:"cross_refs,omitempty"`
}

// Meta is the pack's bookkeeping summary (spec.md §4.7 step 6).
type Meta struct {
	TotalRanked int      `json:"total_ranked"`
	Considered  int      `json:"considered"`
	Included    int      `json:"included"`
	BudgetBytes int      `json:"budget_bytes"`
	Bytes       int      `json:"bytes"`
	GzipBytes   int      `json:"gzip_bytes,omitempty"`
	Explain     bool     `json:"explain,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Pack is the assembled output (spec.md §4.7).
type Pack struct {
	Task         string          `json:"task"`
	Candidates   []PackedPattern `json:"candidates"`
	AntiPatterns []PackedPattern `json:"anti_patterns"`
	Policies     []PackedPattern `json:"policies"`
	Tests        []PackedPattern `json:"tests"`
	Meta         Meta            `json:"meta"`
}

// Build assembles a Pack from a ranked item set. Deterministic: same
// task/items/opts always produce byte-identical output (spec.md §4.7
// "Result MUST be deterministic").
func Build(task string, items []Item, opts Options) (*Pack, error) {
	opts = opts.withDefaults()

	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Pattern.ID < sorted[j].Pattern.ID
	})

	var policies, antis, tests, highCandidates, restCandidates []Item
	for _, it := range sorted {
		switch it.Pattern.Type {
		case patterns.TypePolicy:
			policies = append(policies, it)
		case patterns.TypeAnti:
			antis = append(antis, it)
		case patterns.TypeTest:
			tests = append(tests, it)
		default:
			if it.Score >= highScoreThreshold {
				highCandidates = append(highCandidates, it)
			} else {
				restCandidates = append(restCandidates, it)
			}
		}
	}

	seen := make(map[string]bool)
	admit := func(bucket []Item, limit int) []PackedPattern {
		out := make([]PackedPattern, 0, len(bucket))
		for _, it := range bucket {
			if limit > 0 && len(out) >= limit {
				break
			}
			if seen[it.Pattern.ID] {
				continue
			}
			seen[it.Pattern.ID] = true
			out = append(out, toPacked(it))
		}
		return out
	}

	packedPolicies := admit(policies, 0)
	packedHigh := admit(highCandidates, opts.TopCandidates)
	packedAntis := admit(antis, opts.Antis)
	packedTests := admit(tests, opts.Tests)
	packedRest := admit(restCandidates, 0)

	candidates := append(packedHigh, packedRest...)
	annotateCrossRefs(candidates, packedAntis, packedTests)

	p := &Pack{
		Task:         task,
		Candidates:   candidates,
		AntiPatterns: packedAntis,
		Policies:     packedPolicies,
		Tests:        packedTests,
	}

	considered := len(policies) + len(antis) + len(tests) + len(highCandidates) + len(restCandidates)
	p.Meta = Meta{
		TotalRanked: len(items),
		Considered:  considered,
		BudgetBytes: opts.BudgetBytes,
		Explain:     opts.Explain,
	}

	if err := trimToBudget(p, opts); err != nil {
		return nil, err
	}

	p.Meta.Included = len(p.Candidates) + len(p.AntiPatterns) + len(p.Policies) + len(p.Tests)

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	p.Meta.Bytes = len(raw)
	if opts.WithGzipSize {
		p.Meta.GzipBytes = gzipSize(raw)
	}
	return p, nil
}

func toPacked(it Item) PackedPattern {
	return PackedPattern{
		ID: it.Pattern.ID, Type: string(it.Pattern.Type), Title: it.Pattern.Title,
		Summary: it.Pattern.Summary, KeyInsight: it.Pattern.KeyInsight, WhenToUse: it.Pattern.WhenToUse,
		Score: it.Score, Snippets: append([]patterns.Snippet{}, it.Pattern.Snippets...), Notes: it.Notes,
	}
}

// annotateCrossRefs records, for each candidate whose Notes mentions an
// anti-pattern or test by ID, a cross-reference without duplicating the
// referenced body (spec.md §4.7 step 4).
func annotateCrossRefs(candidates []PackedPattern, antis, tests []PackedPattern) {
	known := make(map[string]bool, len(antis)+len(tests))
	for _, a := range antis {
		known[a.ID] = true
	}
	for _, t := range tests {
		known[t.ID] = true
	}
	for i := range candidates {
		for id := range known {
			if containsID(candidates[i].Notes, id) {
				candidates[i].CrossRefs = append(candidates[i].CrossRefs, id)
			}
		}
		sort.Strings(candidates[i].CrossRefs)
	}
}

func containsID(notes, id string) bool {
	return id != "" && bytes.Contains([]byte(notes), []byte(id))
}

// trimToBudget implements spec.md §4.7 step 5: shrink the largest
// snippet line-by-line from the middle down to SnippetLinesMin, then
// drop the globally lowest-scored item entirely, repeating until the
// serialised pack fits the budget or there is nothing left to trim.
// Policies are admitted regardless of quotas, and anti-patterns and
// tests up to their own quotas (spec.md §4.7 step 2), but no bucket is
// exempt from the budget itself: every bucket is eligible for both snippet trimming
// and, as a last resort, outright dropping.
func trimToBudget(p *Pack, opts Options) error {
	buckets := []*[]PackedPattern{&p.Candidates, &p.AntiPatterns, &p.Policies, &p.Tests}
	for {
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if len(raw) <= opts.BudgetBytes {
			return nil
		}

		if trimLargestSnippet(buckets, opts.SnippetLinesMin) {
			continue
		}
		if !dropLowestScored(buckets) {
			// Nothing left to trim or drop; return the oversized pack
			// as-is rather than looping forever.
			return nil
		}
	}
}

// trimLargestSnippet removes one line from the middle of the largest
// snippet across every bucket, provided it is still above linesMin.
// Reports whether a trim happened.
func trimLargestSnippet(buckets []*[]PackedPattern, linesMin int) bool {
	bestBucket, bestItem, bestSnippet, bestLines := -1, -1, -1, 0
	for bi, bucket := range buckets {
		items := *bucket
		for ii := range items {
			for si := range items[ii].Snippets {
				lines := splitLines(items[ii].Snippets[si].Content)
				if len(lines) > linesMin && len(lines) > bestLines {
					bestBucket, bestItem, bestSnippet, bestLines = bi, ii, si, len(lines)
				}
			}
		}
	}
	if bestBucket < 0 {
		return false
	}
	items := *buckets[bestBucket]
	lines := splitLines(items[bestItem].Snippets[bestSnippet].Content)
	mid := len(lines) / 2
	lines = append(lines[:mid], lines[mid+1:]...)
	items[bestItem].Snippets[bestSnippet].Content = joinLines(lines)
	return true
}

// dropLowestScored removes the single lowest-scored item across every
// bucket. Reports whether anything was dropped.
func dropLowestScored(buckets []*[]PackedPattern) bool {
	worstBucket, worstItem := -1, -1
	worstScore := 0
	for bi, bucket := range buckets {
		items := *bucket
		for ii, it := range items {
			if worstBucket < 0 || it.Score < worstScore {
				worstBucket, worstItem, worstScore = bi, ii, it.Score
			}
		}
	}
	if worstBucket < 0 {
		return false
	}
	items := *buckets[worstBucket]
	*buckets[worstBucket] = append(items[:worstItem], items[worstItem+1:]...)
	return true
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func joinLines(lines []string) string {
	out := make([]byte, 0)
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return string(out)
}

func gzipSize(raw []byte) int {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(raw)
	_ = w.Close()
	return buf.Len()
}
