package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWilsonLowerBoundDefaultsToPointThreeWithNoObservations(t *testing.T) {
	assert.InDelta(t, 0.3, WilsonLowerBound(1, 1), 1e-9)
}

func TestWilsonLowerBoundIncreasesWithMoreSuccesses(t *testing.T) {
	low := WilsonLowerBound(2, 10)
	high := WilsonLowerBound(10, 2)
	assert.Greater(t, high, low)
	assert.GreaterOrEqual(t, high, 0.0)
	assert.LessOrEqual(t, high, 1.0)
}

func TestWilsonLowerBoundSpecScenarioTwo(t *testing.T) {
	// spec.md §8 scenario 2: alpha=18, beta=3 => Wilson lower bound ~0.654.
	assert.InDelta(t, 0.654, WilsonLowerBound(18, 3), 0.001)
}

func TestTrustScorePoints(t *testing.T) {
	s := trustScore(Candidate{Alpha: 1, Beta: 1})
	assert.Equal(t, "trust", s.Name)
	assert.Equal(t, 9, s.Points) // round(30 * 0.3)
}

func TestTrustScorePointsSpecScenarioTwo(t *testing.T) {
	s := trustScore(Candidate{Alpha: 18, Beta: 3})
	assert.Equal(t, 20, s.Points) // spec.md §8 scenario 2: round(30 * 0.654) = 20
}

func TestFreshnessScoreHalfLifeDecay(t *testing.T) {
	fresh := freshnessScore(Candidate{AgeDays: 0, HalfLifeDays: 90})
	assert.Equal(t, 20, fresh.Points)

	halfLifeOld := freshnessScore(Candidate{AgeDays: 90, HalfLifeDays: 90})
	assert.Equal(t, 10, halfLifeOld.Points)

	defaultHalfLife := freshnessScore(Candidate{AgeDays: 90})
	assert.Equal(t, 10, defaultHalfLife.Points)
}

func TestScopeScoreExactPathMatchCapsAtForty(t *testing.T) {
	c := Candidate{
		Paths:     []string{"src/main.go", "src/other.go", "src/third.go"},
		Languages: []string{"go"},
	}
	signals := Signals{Paths: []string{"src/main.go", "src/other.go", "src/third.go"}, Languages: []string{"go"}}
	s := scopeScore(c, signals)
	assert.Equal(t, 40, s.Points)
}

func TestScopeScoreFrameworkSemverHit(t *testing.T) {
	c := Candidate{Frameworks: []CandidateFramework{{Name: "react", Range: "^18.0.0"}}}
	signals := Signals{Frameworks: []FrameworkVersion{{Name: "react", Version: "18.2.0"}}}
	s := scopeScore(c, signals)
	assert.Equal(t, 15, s.Points)
	assert.Contains(t, s.Reason, "framework-name+semver hit")
}

func TestScopeScoreFrameworkSemverMiss(t *testing.T) {
	c := Candidate{Frameworks: []CandidateFramework{{Name: "react", Range: "^18.0.0"}}}
	signals := Signals{Frameworks: []FrameworkVersion{{Name: "react", Version: "17.0.0"}}}
	s := scopeScore(c, signals)
	assert.Equal(t, 0, s.Points)
}

func TestPolicyScoreRequiresScopeMatch(t *testing.T) {
	c := Candidate{Type: "POLICY"}
	assert.Equal(t, 20, policyScore(c, Signals{}, 10).Points)
	assert.Equal(t, 0, policyScore(c, Signals{}, 0).Points)
}

func TestLocalityScoreSameRepoBeatsOrg(t *testing.T) {
	c := Candidate{Repo: "acme/web", Org: "acme"}
	signals := Signals{Repo: "acme/web", Org: "acme"}
	assert.Equal(t, 10, localityScore(c, signals).Points)

	signals2 := Signals{Repo: "acme/other", Org: "acme"}
	assert.Equal(t, 5, localityScore(c, signals2).Points)
}

func TestCandidateGenerateIncludesGlobalScopeWhenSignalsPresent(t *testing.T) {
	all := []Candidate{
		{ID: "global"},
		{ID: "go-only", Languages: []string{"go"}},
		{ID: "py-only", Languages: []string{"python"}},
	}
	out := CandidateGenerate(all, Signals{Languages: []string{"go"}}, 0)
	var ids []string
	for _, c := range out {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, "global")
	assert.Contains(t, ids, "go-only")
	assert.NotContains(t, ids, "py-only")
}

func TestRankSortsDescendingTieBrokenByID(t *testing.T) {
	candidates := []Candidate{
		{ID: "B", Alpha: 1, Beta: 1},
		{ID: "A", Alpha: 1, Beta: 1},
		{ID: "Z", Alpha: 100, Beta: 1},
	}
	ranked := Rank(candidates, Signals{}, 0)
	require.Len(t, ranked, 3)
	assert.Equal(t, "Z", ranked[0].ID)
	assert.Equal(t, "A", ranked[1].ID)
	assert.Equal(t, "B", ranked[2].ID)
}

func TestRankTruncatesToK(t *testing.T) {
	candidates := []Candidate{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	ranked := Rank(candidates, Signals{}, 2)
	assert.Len(t, ranked, 2)
}
