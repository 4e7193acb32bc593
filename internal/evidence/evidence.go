// Package evidence implements the evidence validator (C4): git-backed
// commit/PR/line-range checks, grounded on BeadsLog's internal/git
// subprocess idiom (exec.Command("git", ...), cmd.Dir = repoPath,
// CombinedOutput(), fmt.Errorf("...: %w\nOutput: %s", err, output)) —
// kept as a subprocess call rather than swapped for a Go-native git
// library, since spec.md §4.4 names the literal git rev-parse/cat-
// file/show pipeline this package drives.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/untoldecay/apex/internal/apexerr"
)

// Kind is the evidence shape being validated (spec.md §4.4).
type Kind string

const (
	KindCommit   Kind = "commit"
	KindPR       Kind = "pr"
	KindGitLines Kind = "git_lines"
)

// Evidence is the tagged union of the three supported evidence shapes.
// Exactly the fields relevant to Kind are populated.
type Evidence struct {
	Kind Kind

	// commit
	Ref string

	// pr
	PRNumber int
	PRRepo   string

	// git_lines
	File        string
	SHA         string
	Start       int
	End         int
	SnippetHash string
}

// Result is the outcome of validating one piece of evidence.
type Result struct {
	Valid       bool
	Confidence  float64 // 1.0 exact, 0.5 ambiguous multi-match (git_lines stage 2)
	ResolvedSHA string
	FoundStart  int
	FoundEnd    int
	Reason      string
}

var refRejectPattern = regexp.MustCompile(`\.\.|\s|\||^/`)
var fullSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Validator resolves evidence against a configured git repository and
// PR allowlist, caching results per fingerprint with a TTL (spec.md
// §4.4). One Validator instance owns one in-memory cache; there is no
// package-level shared state (spec.md §9 "Global state").
type Validator struct {
	repoPath    string
	prAllowlist []string
	timeout     time.Duration
	retries     int
	backoffBase time.Duration
	cacheTTL    time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry

	group singleflight.Group
}

type cacheEntry struct {
	result Result
	err    error
	at     time.Time
}

// New builds a Validator. retries/backoffBase/timeout follow spec.md
// §5 defaults (3 retries, 100/200/400ms, 1000ms per-call timeout) when
// zero-valued.
func New(repoPath string, prAllowlist []string, timeout time.Duration, retries int, backoffBase, cacheTTL time.Duration) *Validator {
	if timeout <= 0 {
		timeout = 1000 * time.Millisecond
	}
	if retries <= 0 {
		retries = 3
	}
	if backoffBase <= 0 {
		backoffBase = 100 * time.Millisecond
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Validator{
		repoPath:    repoPath,
		prAllowlist: prAllowlist,
		timeout:     timeout,
		retries:     retries,
		backoffBase: backoffBase,
		cacheTTL:    cacheTTL,
		cache:       make(map[string]cacheEntry),
	}
}

// InvalidateCache clears every cached result; used when the underlying
// git repository changes state out from under the validator.
func (v *Validator) InvalidateCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache = make(map[string]cacheEntry)
}

// Validate dispatches on ev.Kind and returns a Result, or an
// apexerr.Error whose Kind is one of the evidence-level codes in
// spec.md §7 (MALFORMED_EVIDENCE, PR_NOT_FOUND, COMMIT_NOT_FOUND,
// LINE_RANGE_NOT_FOUND, AMBIGUOUS_REF).
func (v *Validator) Validate(ctx context.Context, ev Evidence) (Result, error) {
	fp := fingerprint(ev)

	v.mu.Lock()
	if entry, ok := v.cache[fp]; ok && time.Since(entry.at) < v.cacheTTL {
		v.mu.Unlock()
		return entry.result, entry.err
	}
	v.mu.Unlock()

	out, err, _ := v.group.Do(fp, func() (any, error) {
		res, err := v.validateUncached(ctx, ev)
		v.mu.Lock()
		v.cache[fp] = cacheEntry{result: res, err: err, at: time.Now()}
		v.mu.Unlock()
		return res, err
	})
	if out == nil {
		return Result{}, err
	}
	return out.(Result), err
}

func (v *Validator) validateUncached(ctx context.Context, ev Evidence) (Result, error) {
	switch ev.Kind {
	case KindCommit:
		return v.validateCommit(ctx, ev.Ref)
	case KindPR:
		return v.validatePR(ev.PRNumber, ev.PRRepo)
	case KindGitLines:
		return v.validateGitLines(ctx, ev)
	default:
		return Result{}, apexerr.New(apexerr.MalformedEvidence, fmt.Sprintf("unknown evidence kind %q", ev.Kind))
	}
}

func fingerprint(ev Evidence) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s|%s|%d|%d|%s",
		ev.Kind, ev.Ref, ev.PRNumber, ev.PRRepo, ev.File, ev.SHA, ev.Start, ev.End, ev.SnippetHash)
}

// validateCommit resolves a commit reference per the deterministic
// pipeline in spec.md §4.4: reject malformed refs, accept full 40-hex
// SHAs as-is, else spawn `git rev-parse --verify`.
func (v *Validator) validateCommit(ctx context.Context, ref string) (Result, error) {
	if ref == "" || len(ref) > 255 || refRejectPattern.MatchString(ref) {
		return Result{}, apexerr.New(apexerr.MalformedEvidence, "commit ref fails structural validation").
			WithContext("ref", ref)
	}
	if fullSHAPattern.MatchString(ref) {
		return Result{Valid: true, Confidence: 1.0, ResolvedSHA: ref, Reason: "full SHA accepted as-is"}, nil
	}

	out, err := v.runGit(ctx, "rev-parse", "--verify", ref)
	if err != nil {
		if strings.Contains(out, "ambiguous") || strings.Contains(err.Error(), "ambiguous") {
			return Result{}, apexerr.New(apexerr.AmbiguousRef, "short SHA is ambiguous").WithContext("ref", ref)
		}
		return Result{}, apexerr.Wrap(apexerr.CommitNotFound, "commit ref does not resolve", err).WithContext("ref", ref)
	}
	return Result{Valid: true, Confidence: 1.0, ResolvedSHA: strings.TrimSpace(out), Reason: "resolved via git rev-parse"}, nil
}

// validatePR checks repo against the configured allowlist with no
// network call (spec.md §4.4).
func (v *Validator) validatePR(number int, repo string) (Result, error) {
	if number <= 0 || repo == "" {
		return Result{}, apexerr.New(apexerr.MalformedEvidence, "pr evidence requires number and repo")
	}
	for _, prefix := range v.prAllowlist {
		if strings.HasPrefix(repo, prefix) {
			return Result{Valid: true, Confidence: 1.0, Reason: "repo matched allowlist prefix " + prefix}, nil
		}
	}
	return Result{}, apexerr.New(apexerr.PRNotFound, "repo not in PR allowlist").
		WithContext("repo", repo).WithContext("number", number)
}

// validateGitLines implements the two-stage pipeline from spec.md
// §4.4: stage 1 extracts the named line range directly; stage 2 falls
// back to a whole-file scan for the snippet hash when stage 1 fails or
// the hash mismatches.
func (v *Validator) validateGitLines(ctx context.Context, ev Evidence) (Result, error) {
	if ev.File == "" || ev.SHA == "" || ev.Start <= 0 || ev.End < ev.Start {
		return Result{}, apexerr.New(apexerr.MalformedEvidence, "git_lines evidence requires file, sha, start <= end")
	}

	if _, err := v.runGit(ctx, "cat-file", "-e", ev.SHA); err != nil {
		return Result{}, apexerr.Wrap(apexerr.CommitNotFound, "sha does not exist", err).WithContext("sha", ev.SHA)
	}

	content, err := v.runGit(ctx, "show", fmt.Sprintf("%s:%s", ev.SHA, ev.File))
	if err != nil {
		return Result{}, apexerr.Wrap(apexerr.LineRangeNotFound, "file not found at sha", err).
			WithContext("file", ev.File).WithContext("sha", ev.SHA)
	}

	lines := strings.Split(content, "\n")
	if ev.End > len(lines) {
		return v.scanForSnippet(lines, ev)
	}
	extracted := strings.Join(lines[ev.Start-1:ev.End], "\n")
	normalized := normalizeSnippet(extracted)

	if ev.SnippetHash == "" {
		return Result{Valid: true, Confidence: 1.0, ResolvedSHA: ev.SHA, FoundStart: ev.Start, FoundEnd: ev.End,
			Reason: "line range extracted, no hash to verify"}, nil
	}
	if hashSnippet(normalized) == ev.SnippetHash {
		return Result{Valid: true, Confidence: 1.0, ResolvedSHA: ev.SHA, FoundStart: ev.Start, FoundEnd: ev.End,
			Reason: "snippet hash matched requested range"}, nil
	}

	return v.scanForSnippet(lines, ev)
}

// scanForSnippet is stage 2: search the whole file for a run of lines
// whose normalized hash matches ev.SnippetHash, reporting confidence
// 1.0 for a unique match and 0.5 for multiple (spec.md §4.4).
func (v *Validator) scanForSnippet(lines []string, ev Evidence) (Result, error) {
	if ev.SnippetHash == "" {
		return Result{}, apexerr.New(apexerr.LineRangeNotFound, "requested line range out of bounds and no snippet hash to fall back on").
			WithContext("file", ev.File)
	}

	windowLen := ev.End - ev.Start + 1
	if windowLen <= 0 || windowLen > len(lines) {
		return Result{}, apexerr.New(apexerr.LineRangeNotFound, "invalid snippet window").WithContext("file", ev.File)
	}

	var matches []int // 1-based start lines
	for start := 0; start+windowLen <= len(lines); start++ {
		window := strings.Join(lines[start:start+windowLen], "\n")
		if hashSnippet(normalizeSnippet(window)) == ev.SnippetHash {
			matches = append(matches, start+1)
		}
	}

	switch len(matches) {
	case 0:
		return Result{}, apexerr.New(apexerr.LineRangeNotFound, "snippet hash not found anywhere in file").
			WithContext("file", ev.File)
	case 1:
		return Result{Valid: true, Confidence: 1.0, ResolvedSHA: ev.SHA,
			FoundStart: matches[0], FoundEnd: matches[0] + windowLen - 1,
			Reason: "unique snippet match via full-file scan"}, nil
	default:
		return Result{Valid: true, Confidence: 0.5, ResolvedSHA: ev.SHA,
			FoundStart: matches[0], FoundEnd: matches[0] + windowLen - 1,
			Reason: fmt.Sprintf("%d ambiguous snippet matches via full-file scan", len(matches))}, nil
	}
}

// normalizeSnippet trims trailing whitespace per line, collapses runs
// of blank lines, and preserves indentation structure (spec.md §4.4).
func normalizeSnippet(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blankRun := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if trimmed == "" {
			if blankRun {
				continue
			}
			blankRun = true
		} else {
			blankRun = false
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

func hashSnippet(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// runGit spawns git in the configured repo path with retry/backoff for
// transient failures, grounded on the teacher's CombinedOutput/%w
// wrapping idiom.
func (v *Validator) runGit(ctx context.Context, args ...string) (string, error) {
	var out string
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()

		cmd := exec.CommandContext(callCtx, "git", args...)
		cmd.Dir = v.repoPath
		output, err := cmd.CombinedOutput()
		out = string(output)
		if err != nil {
			if callCtx.Err() != nil {
				return apexerr.Wrap(apexerr.Timeout, "git "+strings.Join(args, " "), err)
			}
			return fmt.Errorf("git %s: %w\nOutput: %s", strings.Join(args, " "), err, out)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = v.backoffBase
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	boWithRetries := backoff.WithMaxRetries(bo, uint64(v.retries))

	err := backoff.Retry(op, boWithRetries)

	if err != nil {
		if apexerr.KindOf(err) == apexerr.Timeout {
			return out, err
		}
		return out, apexerr.Wrap(apexerr.TransientIO, "git subprocess exhausted retries", err)
	}
	return strings.TrimSpace(out), nil
}
