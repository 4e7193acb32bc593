package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/apex/internal/patterns"
)

func TestValidateIDFormat(t *testing.T) {
	cases := []struct {
		id      string
		wantErr bool
	}{
		{"APEX.SYSTEM:PAT:AUTO:1A2B3C4D", false},
		{"ACME:POLICY", false},
		{"ACME.WEB:LANG:GO:V1", false},
		{"", true},
		{"onesegment", true},
		{"too:many:segments:here:ok", true},
		{"acme:lower", true},
		{"ACME: BAD", true},
	}
	for _, c := range cases {
		err := ValidateIDFormat(c.id)
		if c.wantErr {
			assert.Error(t, err, c.id)
		} else {
			assert.NoError(t, err, c.id)
		}
	}
}

func TestChainStopsAtFirstError(t *testing.T) {
	var calls []string
	ok := func(p *patterns.Pattern) error { calls = append(calls, "ok"); return nil }
	fail := func(p *patterns.Pattern) error { calls = append(calls, "fail"); return assert.AnError }
	neverCalled := func(p *patterns.Pattern) error { calls = append(calls, "never"); return nil }

	err := Chain(ok, fail, neverCalled)(&patterns.Pattern{})
	require.Error(t, err)
	assert.Equal(t, []string{"ok", "fail"}, calls)
}

func TestExistsAndNotInvalid(t *testing.T) {
	require.Error(t, Exists()(nil))
	require.NoError(t, Exists()(&patterns.Pattern{}))

	require.NoError(t, NotInvalid()(&patterns.Pattern{Invalid: false}))
	require.Error(t, NotInvalid()(&patterns.Pattern{Invalid: true, InvalidReason: "superseded"}))
}

func TestHasType(t *testing.T) {
	p := &patterns.Pattern{Type: patterns.TypeAnti}
	assert.NoError(t, HasType(patterns.TypeAnti, patterns.TypeFailure)(p))
	assert.Error(t, HasType(patterns.TypePolicy)(p))
}

func TestCompletenessWarnings(t *testing.T) {
	anti := &patterns.Pattern{Type: patterns.TypeAnti}
	assert.Equal(t, []string{"KeyInsight"}, CompletenessWarnings(anti))

	anti.KeyInsight = "don't do this"
	assert.Empty(t, CompletenessWarnings(anti))

	test := &patterns.Pattern{Type: patterns.TypeTest}
	assert.Empty(t, CompletenessWarnings(test))
}
