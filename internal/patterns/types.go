// Package patterns implements the pattern repository (C3): CRUD, facet
// projection, FTS maintenance, and alias/provenance, grounded on
// BeadsLog's internal/storage/sqlite issue CRUD shape and
// table-per-facet schema style.
package patterns

import "time"

// Type is the pattern's content classification (spec.md §3).
type Type string

const (
	TypeCodebase  Type = "CODEBASE"
	TypeLang      Type = "LANG"
	TypeAnti      Type = "ANTI"
	TypeFailure   Type = "FAILURE"
	TypePolicy    Type = "POLICY"
	TypeTest      Type = "TEST"
	TypeMigration Type = "MIGRATION"
)

// Provenance records whether a pattern was authored by a human or
// created automatically by the reflection engine.
type Provenance string

const (
	ProvenanceManual      Provenance = "manual"
	ProvenanceAutoCreated Provenance = "auto-created"
)

// Framework is a facet row pairing a framework name with an optional
// semver range (spec.md §3, used by the ranker's framework+semver hit).
type Framework struct {
	Name  string `json:"name"`
	Range string `json:"range,omitempty"`
}

// Trigger is a structured hint that a pattern applies: an error
// string, keyword, scenario description, or file glob, optionally
// flagged as an RE2-safe regex (spec.md §3).
type Trigger struct {
	Kind  string `json:"kind"` // error | keyword | scenario | file_glob
	Value string `json:"value"`
	Regex bool   `json:"regex,omitempty"`
}

// VocabTerm is one entry in a pattern's derived vocabulary, used by
// search ranking to weight term matches.
type VocabTerm struct {
	Term   string  `json:"term"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

// Snippet is a labeled code excerpt attached to a pattern.
type Snippet struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Language  string `json:"language,omitempty"`
	File      string `json:"file,omitempty"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
	Content   string `json:"content"`
	SizeBytes int    `json:"size_bytes"`
}

// Pattern is the full record described in spec.md §3. JSON tags drive
// canonicalization (internal/canonical) and therefore also drive
// pattern_digest; renaming a field changes every future digest.
type Pattern struct {
	ID             string     `json:"id"`
	SchemaVersion  int        `json:"schema_version"`
	PatternVersion int        `json:"pattern_version"`
	Type           Type       `json:"type"`
	Title          string     `json:"title"`
	Summary        string     `json:"summary"`
	TrustScore     float64    `json:"trust_score"`
	Alpha          float64    `json:"alpha"`
	Beta           float64    `json:"beta"`
	UsageCount     int        `json:"usage_count"`
	SuccessCount   int        `json:"success_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Alias          string     `json:"alias,omitempty"`
	Provenance     Provenance `json:"provenance"`
	Invalid        bool       `json:"invalid"`
	InvalidReason  string     `json:"invalid_reason,omitempty"`

	// Facets
	Languages  []string    `json:"languages,omitempty"`
	Frameworks []Framework `json:"frameworks,omitempty"`
	Paths      []string    `json:"paths,omitempty"`
	Repos      []string    `json:"repos,omitempty"`
	TaskTypes  []string    `json:"task_types,omitempty"`
	Envs       []string    `json:"envs,omitempty"`
	Tags       []string    `json:"tags,omitempty"`

	// Semantic / derived
	KeyInsight     string      `json:"key_insight,omitempty"`
	WhenToUse      string      `json:"when_to_use,omitempty"`
	CommonPitfalls []string    `json:"common_pitfalls,omitempty"`
	Keywords       []string    `json:"keywords,omitempty"`
	SearchIndex    string      `json:"search_index,omitempty"`
	Triggers       []Trigger   `json:"triggers,omitempty"`
	Vocabulary     []VocabTerm `json:"vocabulary,omitempty"`

	Snippets []Snippet `json:"snippets,omitempty"`

	// Derived, not hashed as part of the canonical payload the caller
	// supplies, but stored back on the row after canonicalization.
	PatternDigest string `json:"-"`
	JSONCanonical []byte `json:"-"`

	// HalfLifeDays overrides the ranker's default freshness half-life
	// (spec.md §4.6); zero means "use the ranker default".
	HalfLifeDays int `json:"half_life_days,omitempty"`
}

// CanonicalPayload is the subset of Pattern that participates in
// pattern_digest, excluding fields the repository itself assigns
// (id when auto-allocated, alias, timestamps, trust/usage counters).
type CanonicalPayload struct {
	ID             string      `json:"id"`
	SchemaVersion  int         `json:"schema_version"`
	PatternVersion int         `json:"pattern_version"`
	Type           Type        `json:"type"`
	Title          string      `json:"title"`
	Summary        string      `json:"summary"`
	Languages      []string    `json:"languages,omitempty"`
	Frameworks     []Framework `json:"frameworks,omitempty"`
	Paths          []string    `json:"paths,omitempty"`
	Repos          []string    `json:"repos,omitempty"`
	TaskTypes      []string    `json:"task_types,omitempty"`
	Envs           []string    `json:"envs,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	KeyInsight     string      `json:"key_insight,omitempty"`
	WhenToUse      string      `json:"when_to_use,omitempty"`
	CommonPitfalls []string    `json:"common_pitfalls,omitempty"`
	Keywords       []string    `json:"keywords,omitempty"`
	SearchIndex    string      `json:"search_index,omitempty"`
	Triggers       []Trigger   `json:"triggers,omitempty"`
	Vocabulary     []VocabTerm `json:"vocabulary,omitempty"`
	Snippets       []Snippet   `json:"snippets,omitempty"`
}

func (p *Pattern) canonicalPayload() CanonicalPayload {
	return CanonicalPayload{
		ID: p.ID, SchemaVersion: p.SchemaVersion, PatternVersion: p.PatternVersion,
		Type: p.Type, Title: p.Title, Summary: p.Summary,
		Languages: p.Languages, Frameworks: p.Frameworks, Paths: p.Paths,
		Repos: p.Repos, TaskTypes: p.TaskTypes, Envs: p.Envs, Tags: p.Tags,
		KeyInsight: p.KeyInsight, WhenToUse: p.WhenToUse, CommonPitfalls: p.CommonPitfalls,
		Keywords: p.Keywords, SearchIndex: p.SearchIndex, Triggers: p.Triggers,
		Vocabulary: p.Vocabulary, Snippets: p.Snippets,
	}
}
