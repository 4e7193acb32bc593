package migrate

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestChecksumDeterministicAndSensitiveToContent(t *testing.T) {
	a := Checksum("CREATE TABLE foo (id INTEGER);")
	b := Checksum("CREATE TABLE foo (id INTEGER);")
	c := Checksum("CREATE TABLE bar (id INTEGER);")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewRunnerSortsMigrationsByVersion(t *testing.T) {
	r := NewRunner(zerolog.Nop(),
		Migration{ID: "c", Version: 3, Name: "third"},
		Migration{ID: "a", Version: 1, Name: "first"},
		Migration{ID: "b", Version: 2, Name: "second"},
	)
	var versions []int
	for _, m := range r.migrations {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestNewRunnerPreservesRegistrationOrderIndependence(t *testing.T) {
	r1 := NewRunner(zerolog.Nop(), Migration{Version: 1}, Migration{Version: 2})
	r2 := NewRunner(zerolog.Nop(), Migration{Version: 2}, Migration{Version: 1})
	assert.Equal(t, r1.migrations[0].Version, r2.migrations[0].Version)
	assert.Equal(t, r1.migrations[1].Version, r2.migrations[1].Version)
}
