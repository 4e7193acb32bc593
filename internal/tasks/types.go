// Package tasks implements the task store (C8): task lifecycle, brief
// persistence, append-only file/evidence logs, and the similarity
// cache, grounded on BeadsLog's internal/storage/sqlite issue CRUD
// shape and on internal/search for similarity scoring.
package tasks

import "time"

// Phase is a task's position in the lifecycle DAG (spec.md §3, §4.8).
type Phase string

const (
	PhaseArchitect        Phase = "ARCHITECT"
	PhaseBuilder          Phase = "BUILDER"
	PhaseResearch         Phase = "RESEARCH"
	PhaseBuilderValidator Phase = "BUILDER_VALIDATOR"
	PhaseValidator        Phase = "VALIDATOR"
	PhaseReviewer         Phase = "REVIEWER"
	PhaseDocumenter       Phase = "DOCUMENTER"
)

// Status is a task's overall lifecycle state (spec.md §3).
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

// phaseDAG lists, for each phase, the phases legally reachable next
// (spec.md §4.8: ARCHITECT → {BUILDER, RESEARCH} → BUILDER_VALIDATOR →
// VALIDATOR → REVIEWER → DOCUMENTER → completed; REVIEWER/DOCUMENTER
// optional, so VALIDATOR may also jump straight to completion).
var phaseDAG = map[Phase][]Phase{
	PhaseArchitect:        {PhaseBuilder, PhaseResearch},
	PhaseResearch:         {PhaseBuilder, PhaseBuilderValidator},
	PhaseBuilder:          {PhaseBuilderValidator},
	PhaseBuilderValidator: {PhaseValidator},
	PhaseValidator:        {PhaseReviewer, PhaseDocumenter},
	PhaseReviewer:         {PhaseDocumenter},
	PhaseDocumenter:       {},
}

// ValidTransition reports whether moving from `from` to `to` is allowed
// by the phase DAG, or is a same-phase no-op.
func ValidTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, next := range phaseDAG[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanComplete reports whether a task in phase p may be marked
// completed. VALIDATOR, REVIEWER, and DOCUMENTER are all valid
// completion points since REVIEWER/DOCUMENTER are optional.
func CanComplete(p Phase) bool {
	switch p {
	case PhaseValidator, PhaseReviewer, PhaseDocumenter:
		return true
	default:
		return false
	}
}

// Brief is the task's opaque structured planning payload (spec.md §3),
// stored as a single JSON column.
type Brief struct {
	TLDR               string   `json:"tl_dr,omitempty"`
	Objectives         []string `json:"objectives,omitempty"`
	Constraints        []string `json:"constraints,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Plan               []string `json:"plan,omitempty"`
	Facts              []string `json:"facts,omitempty"`
	Snippets           []string `json:"snippets,omitempty"`
	Risks              []string `json:"risks,omitempty"`
	OpenQuestions      []string `json:"open_questions,omitempty"`
	InFlight           []string `json:"in_flight,omitempty"`
	TestScaffold       string   `json:"test_scaffold,omitempty"`
}

// Task is the full record described in spec.md §3.
type Task struct {
	ID         string
	Title      string
	Intent     string
	TaskType   string
	Status     Status
	Phase      Phase
	Confidence float64
	Tags       []string
	Brief      Brief

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	DurationMS  int64

	Outcome     string
	KeyLearning string
}

// FileTouch is one append-only task_files entry.
type FileTouch struct {
	TaskID    string
	Path      string
	Action    string // read | write | create | delete
	CreatedAt time.Time
}

// EvidenceLogEntry is one append-only task_evidence entry, recording
// the kind of evidence a task accumulated during its lifecycle
// (distinct from, but often mirroring, a reflection request's claims).
type EvidenceLogEntry struct {
	TaskID    string
	Kind      string
	Ref       string
	CreatedAt time.Time
}

// SimilarityPair is one task_similarity cache row. TaskA < TaskB always
// holds (spec.md §4.8 "canonical ordering").
type SimilarityPair struct {
	TaskA     string
	TaskB     string
	Score     float64
	UpdatedAt time.Time
}
