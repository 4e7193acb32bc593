package search

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases s and splits it into a set of alphanumeric
// tokens, the same case-insensitive normalization
// BeadsLog's utils.FuzzyMatch applies before comparing strings,
// generalized here from ordered-subsequence matching to an unordered
// token set for Jaccard similarity.
func tokenize(s string) map[string]struct{} {
	tokens := tokenPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// jaccard computes the Jaccard similarity coefficient between the
// token sets of a and b: |intersection| / |union|, 0 when both are
// empty.
func jaccard(a, b string) float64 {
	setA, setB := tokenize(a), tokenize(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TaskSimilarity implements spec.md §4.8/§4.9's weighted sum: task
// type match contributes 30%, title-token Jaccard similarity 70%.
func TaskSimilarity(typeA, titleA, typeB, titleB string) float64 {
	typeScore := 0.0
	if typeA != "" && typeA == typeB {
		typeScore = 1.0
	}
	titleScore := jaccard(titleA, titleB)
	return 0.3*typeScore + 0.7*titleScore
}
