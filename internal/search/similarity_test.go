package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJaccardIdenticalTitles(t *testing.T) {
	assert.Equal(t, 1.0, jaccard("fix login bug", "fix login bug"))
}

func TestJaccardDisjointTitles(t *testing.T) {
	assert.Equal(t, 0.0, jaccard("fix login bug", "add payment gateway"))
}

func TestJaccardPartialOverlap(t *testing.T) {
	// {fix, login, bug} vs {fix, logout, bug} -> intersection {fix,bug}=2, union=4
	assert.InDelta(t, 0.5, jaccard("fix login bug", "fix logout bug"), 1e-9)
}

func TestJaccardBothEmpty(t *testing.T) {
	assert.Equal(t, 0.0, jaccard("", ""))
}

func TestTaskSimilarityWeighting(t *testing.T) {
	sameTypeSameTitle := TaskSimilarity("bugfix", "fix login bug", "bugfix", "fix login bug")
	assert.InDelta(t, 1.0, sameTypeSameTitle, 1e-9)

	sameTypeDiffTitle := TaskSimilarity("bugfix", "fix login bug", "bugfix", "add payment gateway")
	assert.InDelta(t, 0.3, sameTypeDiffTitle, 1e-9)

	diffTypeSameTitle := TaskSimilarity("bugfix", "fix login bug", "feature", "fix login bug")
	assert.InDelta(t, 0.7, diffTypeSameTitle, 1e-9)
}
