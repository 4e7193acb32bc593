// Package validation implements composable, named-stage checks used
// by the reflection engine and the apex service facade (apex.go),
// grounded on BeadsLog's internal/validation issue-validator chain
// (Chain() + named guard functions) retargeted from Issue state
// machine checks onto Pattern/Task schema checks.
package validation

import (
	"fmt"
	"strings"

	"github.com/untoldecay/apex/internal/patterns"
)

// isValidSegment reports whether seg is one colon-delimited ID segment: an
// uppercase-or-digit leading character followed by uppercase letters,
// digits, dots, underscores, or hyphens (spec.md §3 identity rule).
func isValidSegment(seg string) bool {
	if seg == "" {
		return false
	}
	first := seg[0]
	if !(first >= 'A' && first <= 'Z') && !(first >= '0' && first <= '9') {
		return false
	}
	for i := 1; i < len(seg); i++ {
		c := seg[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// ValidateIDFormat checks that id is 2-4 colon-segmented components,
// each matching spec.md §3's segment grammar. Adapted from BeadsLog's
// ValidateAgentID right-to-left segment scan, simplified here since
// pattern IDs carry no role/rig disambiguation.
func ValidateIDFormat(id string) error {
	if id == "" {
		return fmt.Errorf("pattern id is required")
	}
	segments := strings.Split(id, ":")
	if len(segments) < 2 || len(segments) > 4 {
		return fmt.Errorf("pattern id %q must have 2-4 colon-segments, got %d", id, len(segments))
	}
	for _, seg := range segments {
		if !isValidSegment(seg) {
			return fmt.Errorf("pattern id %q has invalid segment %q (expected [A-Z0-9][A-Z0-9._-]*)", id, seg)
		}
	}
	return nil
}

// PatternValidator validates a candidate pattern and returns an error
// if validation fails. Validators compose via Chain, same shape as
// BeadsLog's IssueValidator.
type PatternValidator func(p *patterns.Pattern) error

// Chain composes validators in order; the first error stops the chain.
func Chain(validators ...PatternValidator) PatternValidator {
	return func(p *patterns.Pattern) error {
		for _, v := range validators {
			if err := v(p); err != nil {
				return err
			}
		}
		return nil
	}
}

// Exists validates that a lookup actually found a pattern.
func Exists() PatternValidator {
	return func(p *patterns.Pattern) error {
		if p == nil {
			return fmt.Errorf("pattern not found")
		}
		return nil
	}
}

// NotInvalid rejects patterns marked invalid, unless includeInvalid
// was explicitly requested upstream (callers needing invalid rows use
// Repository.Get(..., true) and skip this validator).
func NotInvalid() PatternValidator {
	return func(p *patterns.Pattern) error {
		if p != nil && p.Invalid {
			return fmt.Errorf("pattern %s is invalid: %s", p.ID, p.InvalidReason)
		}
		return nil
	}
}

// HasType validates that a pattern's type is one of allowed.
func HasType(allowed ...patterns.Type) PatternValidator {
	return func(p *patterns.Pattern) error {
		if p == nil {
			return nil
		}
		for _, t := range allowed {
			if p.Type == t {
				return nil
			}
		}
		return fmt.Errorf("pattern %s has type %s, expected one of: %v", p.ID, p.Type, allowed)
	}
}

// ForTrustUpdate returns the validator chain for a pattern about to
// receive a trust update: it must exist and not already be invalid.
// The reflection engine does not run this chain before
// ApplyTrustUpdate.
func ForTrustUpdate() PatternValidator {
	return Chain(Exists(), NotInvalid())
}

// ForExplain returns the validator chain applied before scoring a
// pattern for patterns.explain.
func ForExplain() PatternValidator {
	return Chain(Exists())
}

// requiredFieldsByType lists, per pattern type, the semantic fields a
// complete (non-stub) pattern should carry. Unlike ValidateIDFormat or
// ForTrustUpdate this is advisory: reflection surfaces violations as
// warnings in its result, in strict and permissive mode alike, rather
// than rejecting the write
// (spec.md §4.5 step 1; adapted from BeadsLog's template.go required-
// section lint, applied to structured fields instead of markdown
// headings since patterns have no free-text body).
var requiredFieldsByType = map[patterns.Type][]string{
	patterns.TypeAnti:     {"KeyInsight"},
	patterns.TypePolicy:   {"WhenToUse"},
	patterns.TypeFailure:  {"KeyInsight"},
	patterns.TypeCodebase: {"KeyInsight"},
}

// CompletenessWarnings reports which advisory fields are missing for
// p's type. An empty result means the pattern is complete for its
// type; non-empty does not block a write, only informs the caller.
func CompletenessWarnings(p *patterns.Pattern) []string {
	if p == nil {
		return nil
	}
	required, ok := requiredFieldsByType[p.Type]
	if !ok {
		return nil
	}
	var missing []string
	for _, field := range required {
		switch field {
		case "KeyInsight":
			if strings.TrimSpace(p.KeyInsight) == "" {
				missing = append(missing, field)
			}
		case "WhenToUse":
			if strings.TrimSpace(p.WhenToUse) == "" {
				missing = append(missing, field)
			}
		}
	}
	return missing
}
