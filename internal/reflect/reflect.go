// Package reflect implements the reflection engine (C5): the sole
// mutator of pattern trust state. One reflection request validates
// evidence, maps outcomes onto Beta-distribution deltas, and commits
// every effect of a task's outcome inside a single transaction
// (spec.md §4.5), grounded on the same transactional-processing-order
// idiom BeadsLog's storage layer uses for multi-table writes.
package reflect

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/untoldecay/apex/internal/apexerr"
	"github.com/untoldecay/apex/internal/audit"
	"github.com/untoldecay/apex/internal/config"
	"github.com/untoldecay/apex/internal/dbadapter"
	"github.com/untoldecay/apex/internal/evidence"
	"github.com/untoldecay/apex/internal/patterns"
	"github.com/untoldecay/apex/internal/validation"
)

// outcomeDeltas is the fixed outcome → (Δα, Δβ) table (spec.md §4.5
// step 4). Keys are the fine-grained per-pattern outcome strings a
// trust_update carries, distinct from the request's coarse top-level
// outcome (success/partial/failure), which is recorded only for audit.
var outcomeDeltas = map[string][2]float64{
	"worked-perfectly":    {1.0, 0.0},
	"worked-with-tweaks":  {0.7, 0.3},
	"partial-success":     {0.5, 0.5},
	"failed-minor-issues": {0.3, 0.7},
	"failed-completely":   {0.0, 1.0},
}

// PatternUsage is one `patterns_used` claim: a pattern applied during
// the task, with the evidence backing that claim.
type PatternUsage struct {
	PatternID string
	Evidence  []evidence.Evidence
}

// TrustUpdate is one requested (α, β) mutation. Outcome is expanded
// via outcomeDeltas unless DeltaAlpha/DeltaBeta are explicitly set, in
// which case the explicit delta takes precedence (spec.md §4.5 step 4).
type TrustUpdate struct {
	PatternID  string
	Outcome    string
	DeltaAlpha *float64
	DeltaBeta  *float64
}

// NewPatternClaim is a pattern the task discovered, to be created with
// provenance auto-created, plus the evidence backing it.
type NewPatternClaim struct {
	Pattern  *patterns.Pattern
	Evidence []evidence.Evidence
}

// Claims is the request's full claim set (spec.md §4.5).
type Claims struct {
	PatternsUsed []PatternUsage
	TrustUpdates []TrustUpdate
	NewPatterns  []NewPatternClaim
	AntiPatterns []NewPatternClaim
	Learnings    []string
}

// Request is one reflection call (spec.md §4.5).
type Request struct {
	TaskID  string
	Outcome string // success | partial | failure, coarse audit label
	Claims  Claims
}

// AppliedUpdate reports one pattern's new (α, β, trust_score) triple
// after a trust mutation (spec.md §4.5 step 7 success response).
type AppliedUpdate struct {
	PatternID  string
	Alpha      float64
	Beta       float64
	TrustScore float64
}

// Result is the reflection call's response (spec.md §6 `reflect`).
type Result struct {
	AppliedUpdates  []AppliedUpdate
	CreatedPatterns []*patterns.Pattern
	Errors          []string
}

// Engine processes reflection requests against one pattern repository
// and one evidence validator (spec.md §4.5).
type Engine struct {
	repo      *patterns.Repository
	validator *evidence.Validator
	mode      config.ReflectionMode
	audit     *audit.Log
	log       zerolog.Logger
}

// New builds an Engine. audit may be nil to skip audit-log writes
// (e.g. in tests exercising only the trust math).
func New(repo *patterns.Repository, validator *evidence.Validator, mode config.ReflectionMode, auditLog *audit.Log, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, validator: validator, mode: mode, audit: auditLog, log: log}
}

// Process runs the full transactional pipeline from spec.md §4.5: any
// step failure rolls back the whole request and returns a structured
// error; nothing is partially applied.
func (e *Engine) Process(ctx context.Context, req Request) (*Result, error) {
	result := &Result{}

	err := e.repo.Transaction(ctx, func(tx dbadapter.Tx) error {
		warnings, err := e.validateSchema(ctx, tx, req)
		if err != nil {
			return err
		}
		result.Errors = append(result.Errors, warnings...)

		if err := dedupTrustUpdates(req.Claims.TrustUpdates); err != nil {
			return err
		}

		if err := e.validateEvidence(ctx, req); err != nil {
			return err
		}

		for _, tu := range req.Claims.TrustUpdates {
			da, db, err := resolveDelta(tu)
			if err != nil {
				return err
			}
			updated, err := e.repo.ApplyTrustUpdate(ctx, tx, tu.PatternID, da, db)
			if err != nil {
				return err
			}
			result.AppliedUpdates = append(result.AppliedUpdates, AppliedUpdate{
				PatternID: updated.ID, Alpha: updated.Alpha, Beta: updated.Beta, TrustScore: updated.TrustScore,
			})
			e.appendAudit(&audit.Entry{
				Kind: "trust_update", TaskID: req.TaskID, PatternID: updated.ID,
				Outcome: tu.Outcome, DeltaAlpha: da, DeltaBeta: db,
			})
		}

		for _, claim := range append(append([]NewPatternClaim{}, req.Claims.NewPatterns...), req.Claims.AntiPatterns...) {
			if claim.Pattern.ID != "" {
				if err := validation.ValidateIDFormat(claim.Pattern.ID); err != nil {
					return apexerr.Wrap(apexerr.SchemaInvalid, "new pattern claim", err)
				}
			}
			claim.Pattern.Provenance = patterns.ProvenanceAutoCreated
			created, err := e.repo.UpsertInTx(ctx, tx, claim.Pattern)
			if err != nil {
				return err
			}
			result.CreatedPatterns = append(result.CreatedPatterns, created)
			for _, w := range validation.CompletenessWarnings(created) {
				result.Errors = append(result.Errors, fmt.Sprintf("pattern %s missing advisory field %s", created.ID, w))
			}
			e.appendAudit(&audit.Entry{
				Kind: "pattern_created", TaskID: req.TaskID, PatternID: created.ID,
			})
		}

		e.appendAudit(&audit.Entry{
			Kind: "reflection", TaskID: req.TaskID, Outcome: req.Outcome,
			Extra: map[string]any{"learnings": req.Claims.Learnings},
		})
		return nil
	})
	if err != nil {
		e.appendAudit(&audit.Entry{Kind: "reflection", TaskID: req.TaskID, Outcome: req.Outcome, Error: err.Error()})
		return nil, err
	}
	return result, nil
}

// validateSchema checks every referenced pattern ID exists. In strict
// mode an unknown ID aborts the request with SCHEMA_INVALID; in
// permissive mode it is downgraded to a warning string (spec.md §4.5
// step 1).
func (e *Engine) validateSchema(ctx context.Context, tx dbadapter.Tx, req Request) ([]string, error) {
	var warnings []string
	seen := map[string]bool{}

	check := func(id string) error {
		if id == "" || seen[id] {
			return nil
		}
		seen[id] = true
		p, err := e.repo.GetTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if p == nil {
			if e.mode == config.ReflectionPermissive {
				warnings = append(warnings, fmt.Sprintf("unknown pattern id %q (permissive mode: ignored)", id))
				return nil
			}
			return apexerr.New(apexerr.SchemaInvalid, "unknown pattern id").WithContext("pattern_id", id)
		}
		return nil
	}

	for _, pu := range req.Claims.PatternsUsed {
		if err := check(pu.PatternID); err != nil {
			return nil, err
		}
	}
	for _, tu := range req.Claims.TrustUpdates {
		if err := check(tu.PatternID); err != nil {
			return nil, err
		}
	}
	return warnings, nil
}

// dedupTrustUpdates rejects duplicate pattern IDs across trust_updates
// (spec.md §4.5 step 2).
func dedupTrustUpdates(updates []TrustUpdate) error {
	seen := make(map[string]bool, len(updates))
	for _, tu := range updates {
		if seen[tu.PatternID] {
			return apexerr.New(apexerr.DuplicateTrustUpdate, "duplicate trust update for pattern").
				WithContext("pattern_id", tu.PatternID)
		}
		seen[tu.PatternID] = true
	}
	return nil
}

// validateEvidence validates every evidence item attached to
// patterns_used and new_patterns claims (spec.md §4.5 step 3).
func (e *Engine) validateEvidence(ctx context.Context, req Request) error {
	for _, pu := range req.Claims.PatternsUsed {
		for _, ev := range pu.Evidence {
			if _, err := e.validator.Validate(ctx, ev); err != nil {
				return err
			}
		}
	}
	for _, claim := range append(append([]NewPatternClaim{}, req.Claims.NewPatterns...), req.Claims.AntiPatterns...) {
		for _, ev := range claim.Evidence {
			if _, err := e.validator.Validate(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveDelta expands tu.Outcome via outcomeDeltas unless an explicit
// delta is supplied, which takes precedence (spec.md §4.5 step 4).
func resolveDelta(tu TrustUpdate) (float64, float64, error) {
	if tu.DeltaAlpha != nil && tu.DeltaBeta != nil {
		return *tu.DeltaAlpha, *tu.DeltaBeta, nil
	}
	d, ok := outcomeDeltas[tu.Outcome]
	if !ok {
		return 0, 0, apexerr.New(apexerr.SchemaInvalid, "unknown trust_update outcome").
			WithContext("pattern_id", tu.PatternID).WithContext("outcome", tu.Outcome)
	}
	return d[0], d[1], nil
}

func (e *Engine) appendAudit(entry *audit.Entry) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.Append(entry); err != nil {
		e.log.Warn().Err(err).Str("kind", entry.Kind).Msg("audit append failed")
	}
}
