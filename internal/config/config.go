// Package config builds the explicit Options struct every APEX
// component is constructed with. Per the teacher's own guidance
// ("config objects" over process-globals), there is no package-level
// singleton here: Load reads the environment once and returns a value
// the caller owns and threads through explicitly.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ReflectionMode selects strict or permissive schema validation for
// the reflection engine (spec.md §4.5 step 1).
type ReflectionMode string

const (
	ReflectionStrict     ReflectionMode = "strict"
	ReflectionPermissive ReflectionMode = "permissive"
)

// Backend selects which dbadapter implementation a Service opens
// against (spec.md §9 "selection is a start-up decision, never
// runtime polymorphism over a live connection").
type Backend string

const (
	BackendSQLiteWASM Backend = "sqlite-wasm"
	BackendSQLitePure Backend = "sqlite-pure"
	BackendPostgres   Backend = "postgres"
)

// Options is the single explicit configuration object threaded through
// every APEX constructor. It replaces the process-global flag pattern
// the spec calls out in §9 ("Permissive mode coupling").
type Options struct {
	// PatternsDBPath overrides the default .apex/patterns.db location.
	PatternsDBPath string

	// Backend selects the embedded SQL adapter. Defaults to the
	// WASM-based SQLite backend, the teacher's own no-cgo choice.
	Backend Backend

	// PostgresDSN is required when Backend == BackendPostgres.
	PostgresDSN string

	// ReflectionMode toggles unknown-pattern rejection vs. warning
	// during reflection schema validation.
	ReflectionMode ReflectionMode

	// PRRepoAllowlist lists the URL prefixes a `pr` evidence repo must
	// match (spec.md §4.4).
	PRRepoAllowlist []string

	// GitRepoPath is the working tree used for evidence resolution.
	GitRepoPath string

	// RequestTimeout bounds any single external call (git subprocess,
	// local RPC). Defaults to 1000ms per spec.md §5.
	RequestTimeout time.Duration

	// RetryCount and RetryBackoff configure the exponential backoff
	// schedule for transient failures (spec.md §5: 3 retries,
	// 100/200/400ms).
	RetryCount   int
	RetryBackoff time.Duration

	// ValidatorCacheTTL bounds how long the evidence validator caches
	// a validation result per fingerprint (spec.md §4.4).
	ValidatorCacheTTL time.Duration
}

// Default returns the documented defaults from spec.md §5/§6 before any
// environment override is applied.
func Default() Options {
	return Options{
		PatternsDBPath:    ".apex/patterns.db",
		Backend:           BackendSQLiteWASM,
		ReflectionMode:    ReflectionStrict,
		GitRepoPath:       ".",
		RequestTimeout:    1000 * time.Millisecond,
		RetryCount:        3,
		RetryBackoff:      100 * time.Millisecond,
		ValidatorCacheTTL: 5 * time.Minute,
	}
}

// Load reads the recognised APEX_* environment variables (spec.md §6)
// on top of Default(), using viper purely for env-var binding — no
// config file is read or written here; file-based configuration is an
// external, out-of-scope concern per spec.md §1.
func Load() Options {
	opts := Default()

	v := viper.New()
	v.SetEnvPrefix("APEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if db := v.GetString("patterns_db"); db != "" {
		opts.PatternsDBPath = db
	}
	if backend := v.GetString("db_backend"); backend != "" {
		switch Backend(strings.ToLower(backend)) {
		case BackendSQLiteWASM, BackendSQLitePure, BackendPostgres:
			opts.Backend = Backend(strings.ToLower(backend))
		}
	}
	if dsn := v.GetString("postgres_dsn"); dsn != "" {
		opts.PostgresDSN = dsn
	}
	if mode := v.GetString("reflection_mode"); mode != "" {
		switch ReflectionMode(strings.ToLower(mode)) {
		case ReflectionPermissive:
			opts.ReflectionMode = ReflectionPermissive
		case ReflectionStrict:
			opts.ReflectionMode = ReflectionStrict
		}
	}
	if repo := v.GetString("git_repo"); repo != "" {
		opts.GitRepoPath = repo
	}
	if allow := v.GetString("pr_allowlist"); allow != "" {
		parts := strings.Split(allow, ",")
		opts.PRRepoAllowlist = opts.PRRepoAllowlist[:0]
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				opts.PRRepoAllowlist = append(opts.PRRepoAllowlist, p)
			}
		}
	}

	return opts
}
