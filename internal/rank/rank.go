// Package rank implements the ranker (C6): a signal→score pipeline
// over candidate patterns with an auditable linear combination of
// sub-scores and explanations (spec.md §4.6).
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/semver"
)

// Signals describes the request's context (spec.md §4.6 input).
type Signals struct {
	Paths      []string
	Languages  []string
	Frameworks []FrameworkVersion
	Repo       string
	Org        string
}

// FrameworkVersion is a concrete framework+version pair observed in
// the calling project, matched against a pattern's Framework facet.
type FrameworkVersion struct {
	Name    string
	Version string
}

// Candidate is the ranker's view of a pattern: just the fields scoring
// needs, decoupled from patterns.Pattern so this package has no
// dependency on the repository.
type Candidate struct {
	ID           string
	Type         string // matches patterns.Type string values
	Paths        []string
	Languages    []string
	Frameworks   []CandidateFramework
	Repo         string
	Org          string
	Alpha        float64
	Beta         float64
	AgeDays      float64
	HalfLifeDays int // 0 means "use DefaultHalfLifeDays"
}

// CandidateFramework is a pattern's framework facet (name + optional
// semver range).
type CandidateFramework struct {
	Name  string
	Range string
}

// DefaultHalfLifeDays is the freshness decay half-life used when a
// candidate does not specify one (spec.md §4.6).
const DefaultHalfLifeDays = 90

// DefaultCandidateLimit bounds candidate generation (spec.md §4.6).
const DefaultCandidateLimit = 50

// SubScore records one scoring dimension's contribution and the raw
// inputs/rationale needed for audit (spec.md §4.6 explain contract).
type SubScore struct {
	Name      string         `json:"name"`
	Points    int            `json:"points"`
	RawInputs map[string]any `json:"raw_inputs,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Explain is the full per-candidate scoring breakdown.
type Explain struct {
	ID        string     `json:"id"`
	Total     int        `json:"total"`
	SubScores []SubScore `json:"sub_scores"`
}

// Ranked pairs a candidate ID with its total score and explanation.
type Ranked struct {
	ID      string
	Total   int
	Explain Explain
}

// CandidateGenerate filters all to the subset plausibly relevant to
// signals, capped at limit (spec.md §4.6 candidate generation rules).
func CandidateGenerate(all []Candidate, signals Signals, limit int) []Candidate {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	hasLangOrPath := len(signals.Languages) > 0 || len(signals.Paths) > 0

	var out []Candidate
	for _, c := range all {
		globalScope := len(c.Paths) == 0 && len(c.Languages) == 0 && len(c.Frameworks) == 0 &&
			c.Repo == "" && c.Org == ""
		if globalScope && hasLangOrPath {
			out = append(out, c)
			if len(out) >= limit {
				break
			}
			continue
		}
		if len(c.Languages) > 0 && !intersects(c.Languages, signals.Languages) {
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[strings.ToLower(v)]; ok {
			return true
		}
	}
	return false
}

// Score computes c's total and per-sub-score breakdown against
// signals, using the exact point table in spec.md §4.6.
func Score(c Candidate, signals Signals) Explain {
	scope := scopeScore(c, signals)
	trust := trustScore(c)
	freshness := freshnessScore(c)
	locality := localityScore(c, signals)
	policy := policyScore(c, signals, scope.Points)

	subs := []SubScore{scope, trust, freshness, locality, policy}
	total := 0
	for _, s := range subs {
		total += s.Points
	}

	return Explain{ID: c.ID, Total: total, SubScores: subs}
}

func scopeScore(c Candidate, signals Signals) SubScore {
	raw := 0
	reasons := []string{}

	for _, p := range c.Paths {
		for _, sp := range signals.Paths {
			if p == sp {
				raw += 40
				reasons = append(reasons, "exact-file-path match: "+p)
			} else if ok, _ := doublestar.Match(p, sp); ok && strings.Contains(p, "/") {
				raw += 30
				reasons = append(reasons, "directory-glob match: "+p)
			} else if ok, _ := doublestar.Match(p, sp); ok {
				raw += 5
				reasons = append(reasons, "wildcard match: "+p)
			}
		}
	}

	if len(c.Languages) > 0 && intersects(c.Languages, signals.Languages) {
		raw += 20
		reasons = append(reasons, "language hit")
	}

	for _, cf := range c.Frameworks {
		for _, sf := range signals.Frameworks {
			if !strings.EqualFold(cf.Name, sf.Name) {
				continue
			}
			if cf.Range == "" {
				raw += 10
				reasons = append(reasons, "framework-name hit: "+cf.Name)
				continue
			}
			if semverSatisfies(cf.Range, sf.Version) {
				raw += 15
				reasons = append(reasons, "framework-name+semver hit: "+cf.Name+cf.Range)
			}
		}
	}

	points := raw
	if points > 40 {
		points = 40
	}
	return SubScore{
		Name: "scope", Points: points,
		RawInputs: map[string]any{"raw": raw},
		Reason:    strings.Join(reasons, "; "),
	}
}

// semverSatisfies normalizes a caret range like "^4.0.0" into an
// explicit major-version comparison using golang.org/x/mod/semver,
// avoiding a third-party range parser (spec.md §4.6 wiring note).
func semverSatisfies(rangeExpr, version string) bool {
	rangeExpr = strings.TrimSpace(rangeExpr)
	version = strings.TrimSpace(version)
	if rangeExpr == "" || version == "" {
		return false
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return false
	}

	if strings.HasPrefix(rangeExpr, "^") {
		base := "v" + strings.TrimPrefix(rangeExpr, "^")
		if !semver.IsValid(base) {
			return false
		}
		return semver.Major(base) == semver.Major(version) &&
			semver.Compare(version, base) >= 0
	}
	if strings.HasPrefix(rangeExpr, "=") {
		base := "v" + strings.TrimPrefix(rangeExpr, "=")
		return semver.Compare(version, base) == 0
	}
	exact := "v" + rangeExpr
	if semver.IsValid(exact) {
		return semver.Compare(version, exact) == 0
	}
	return false
}

// trustScore uses the Wilson score lower bound on (alpha, beta),
// defaulting to 0.3 for a fresh, un-reinforced pattern (spec.md §4.6,
// scenario 2).
func trustScore(c Candidate) SubScore {
	w := WilsonLowerBound(c.Alpha, c.Beta)
	points := int(math.Round(30 * w))
	return SubScore{
		Name: "trust", Points: points,
		RawInputs: map[string]any{"alpha": c.Alpha, "beta": c.Beta, "wilson": w},
	}
}

// WilsonLowerBound computes the Wilson score interval's lower bound
// for a success proportion derived from Beta(alpha, beta) observations:
// phat = alpha / (alpha + beta), n = alpha + beta, taken directly with
// no pseudo-count adjustment (spec.md §8 scenario 2: alpha=18, beta=3
// must yield ~0.654).
// Returns the default 0.3 when there have been no observations yet:
// patterns are stored with alpha >= 1, beta >= 1 (spec.md §3), so the
// fresh, un-reinforced prior is alpha=1, beta=1, not alpha=beta=0.
func WilsonLowerBound(alpha, beta float64) float64 {
	if alpha <= 1 && beta <= 1 {
		return 0.3
	}

	const z = 1.959963985 // z-score for 95% confidence
	n := alpha + beta
	p := alpha / n
	denom := 1 + z*z/n
	center := p + z*z/(2*n)
	margin := z * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))
	lower := (center - margin) / denom
	if lower < 0 {
		return 0
	}
	if lower > 1 {
		return 1
	}
	return lower
}

// freshnessScore applies exponential decay from AgeDays against the
// candidate's half-life (spec.md §4.6, scenario 3).
func freshnessScore(c Candidate) SubScore {
	halfLife := float64(c.HalfLifeDays)
	if halfLife <= 0 {
		halfLife = DefaultHalfLifeDays
	}
	raw := 20 * math.Pow(2, -c.AgeDays/halfLife)
	points := int(math.Round(raw))
	if points > 20 {
		points = 20
	}
	return SubScore{
		Name: "freshness", Points: points,
		RawInputs: map[string]any{"age_days": c.AgeDays, "half_life_days": halfLife},
	}
}

func localityScore(c Candidate, signals Signals) SubScore {
	if signals.Repo != "" && c.Repo == signals.Repo {
		return SubScore{Name: "locality", Points: 10, Reason: "same-repo"}
	}

	sameOrg := signals.Org != "" && c.Org == signals.Org
	if !sameOrg {
		sameOrg = orgPrefix(c.ID) != "" && orgPrefix(c.ID) == orgPrefix(signals.Org)
	}
	if sameOrg {
		return SubScore{Name: "locality", Points: 5, Reason: "same-org"}
	}
	return SubScore{Name: "locality", Points: 0}
}

func orgPrefix(idOrOrg string) string {
	if i := strings.Index(idOrOrg, "."); i > 0 {
		return idOrOrg[:i]
	}
	return idOrOrg
}

func policyScore(c Candidate, signals Signals, scopePoints int) SubScore {
	if c.Type == "POLICY" && scopePoints > 0 {
		return SubScore{Name: "policy", Points: 20, Reason: "policy pattern with matching scope"}
	}
	return SubScore{Name: "policy", Points: 0}
}

// Rank scores every candidate against signals and returns them sorted
// descending by total score, tie-broken ascending by ID (spec.md
// §4.6), truncated to k.
func Rank(candidates []Candidate, signals Signals, k int) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ex := Score(c, signals)
		out = append(out, Ranked{ID: c.ID, Total: ex.Total, Explain: ex})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
