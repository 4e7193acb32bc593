package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/apex/internal/apexerr"
)

func TestNormalizeSnippetCollapsesBlankRunsAndTrailingWhitespace(t *testing.T) {
	in := "line1  \n\n\n\nline2\t\n   \nline3"
	out := normalizeSnippet(in)
	assert.Equal(t, "line1\n\nline2\n\nline3", out)
}

func TestHashSnippetDeterministic(t *testing.T) {
	a := hashSnippet("foo\nbar")
	b := hashSnippet("foo\nbar")
	c := hashSnippet("foo\nbaz")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFingerprintDistinguishesEvidence(t *testing.T) {
	a := fingerprint(Evidence{Kind: KindCommit, Ref: "abc123"})
	b := fingerprint(Evidence{Kind: KindCommit, Ref: "def456"})
	assert.NotEqual(t, a, b)
}

func TestValidateCommitRejectsMalformedRef(t *testing.T) {
	v := New("/tmp/does-not-matter", nil, 0, 0, 0, 0)
	_, err := v.validateCommit(context.Background(), "abc..def")
	require.Error(t, err)
	assert.Equal(t, apexerr.MalformedEvidence, apexerr.KindOf(err))
}

func TestValidateCommitAcceptsFullSHAWithoutSubprocess(t *testing.T) {
	v := New("/tmp/does-not-matter", nil, 0, 0, 0, 0)
	sha := "0123456789abcdef0123456789abcdef01234567"
	res, err := v.validateCommit(context.Background(), sha)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, sha, res.ResolvedSHA)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestValidatePRMatchesAllowlistPrefix(t *testing.T) {
	v := New("", []string{"acme/"}, 0, 0, 0, 0)
	res, err := v.validatePR(42, "acme/web")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidatePRRejectsOutsideAllowlist(t *testing.T) {
	v := New("", []string{"acme/"}, 0, 0, 0, 0)
	_, err := v.validatePR(42, "other/repo")
	require.Error(t, err)
	assert.Equal(t, apexerr.PRNotFound, apexerr.KindOf(err))
}

func TestValidatePRRejectsMalformed(t *testing.T) {
	v := New("", []string{"acme/"}, 0, 0, 0, 0)
	_, err := v.validatePR(0, "")
	require.Error(t, err)
	assert.Equal(t, apexerr.MalformedEvidence, apexerr.KindOf(err))
}

func TestValidateGitLinesRejectsMalformedEvidence(t *testing.T) {
	v := New("/tmp/does-not-matter", nil, 0, 0, 0, 0)
	_, err := v.validateGitLines(context.Background(), Evidence{Kind: KindGitLines, Start: 5, End: 1})
	require.Error(t, err)
	assert.Equal(t, apexerr.MalformedEvidence, apexerr.KindOf(err))
}

func TestScanForSnippetReportsAmbiguousMatches(t *testing.T) {
	v := New("/tmp/does-not-matter", nil, 0, 0, 0, 0)
	lines := []string{"foo", "bar", "foo", "bar"}
	hash := hashSnippet(normalizeSnippet("foo\nbar"))
	res, err := v.scanForSnippet(lines, Evidence{File: "f.go", SHA: "abc", Start: 1, End: 2, SnippetHash: hash})
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestScanForSnippetUniqueMatch(t *testing.T) {
	v := New("/tmp/does-not-matter", nil, 0, 0, 0, 0)
	lines := []string{"foo", "bar", "baz", "qux"}
	hash := hashSnippet(normalizeSnippet("baz\nqux"))
	res, err := v.scanForSnippet(lines, Evidence{File: "f.go", SHA: "abc", Start: 3, End: 4, SnippetHash: hash})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, 3, res.FoundStart)
}
