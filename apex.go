// Package apex is the public entry point for the pattern-intelligence
// service: opening a Service wires up the database adapter, runs
// migrations, and constructs the pattern repository, evidence
// validator, reflection engine, ranker, pack builder, and task store
// around one shared connection (spec.md §6 external interfaces).
//
// Most callers only need Open and the five request/response methods
// below; the internal/* packages remain importable directly for
// extensions that want to drive a component on its own, mirroring the
// teacher's internal/beads escape hatch.
package apex

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/untoldecay/apex/internal/apexerr"
	"github.com/untoldecay/apex/internal/audit"
	"github.com/untoldecay/apex/internal/config"
	"github.com/untoldecay/apex/internal/dbadapter"
	"github.com/untoldecay/apex/internal/dbadapter/postgres"
	"github.com/untoldecay/apex/internal/dbadapter/sqlitepure"
	"github.com/untoldecay/apex/internal/dbadapter/sqlitewasm"
	"github.com/untoldecay/apex/internal/evidence"
	"github.com/untoldecay/apex/internal/migrate"
	"github.com/untoldecay/apex/internal/pack"
	"github.com/untoldecay/apex/internal/patterns"
	"github.com/untoldecay/apex/internal/rank"
	"github.com/untoldecay/apex/internal/reflect"
	"github.com/untoldecay/apex/internal/search"
	"github.com/untoldecay/apex/internal/tasks"
	"github.com/untoldecay/apex/internal/validation"
)

// Core type aliases, re-exported so callers constructing requests
// don't need to import every internal package by hand.
type (
	Pattern     = patterns.Pattern
	PatternType = patterns.Type
	Provenance  = patterns.Provenance
	Framework   = patterns.Framework
	Trigger     = patterns.Trigger
	Snippet     = patterns.Snippet
	Task        = tasks.Task
	TaskPhase   = tasks.Phase
	TaskStatus  = tasks.Status
	Brief       = tasks.Brief
	FileTouch   = tasks.FileTouch
	EvidenceLog = tasks.EvidenceLogEntry
	Evidence    = evidence.Evidence
	Signals     = rank.Signals
	Options     = config.Options
)

// Pattern type constants.
const (
	TypeCodebase  = patterns.TypeCodebase
	TypeLang      = patterns.TypeLang
	TypeAnti      = patterns.TypeAnti
	TypeFailure   = patterns.TypeFailure
	TypePolicy    = patterns.TypePolicy
	TypeTest      = patterns.TypeTest
	TypeMigration = patterns.TypeMigration
)

// Service is the full set of components opened against one database
// handle, wired in the order spec.md §4 names them (C1 through C9).
type Service struct {
	db  dbadapter.DB
	log zerolog.Logger

	repo      *patterns.Repository
	validator *evidence.Validator
	reflector *reflect.Engine
	tasks     *tasks.Store
	audit     *audit.Log

	dialect patterns.Dialect
}

// Open selects a backend per opts.Backend, runs schema migrations, and
// constructs every component. The caller owns the returned Service and
// must call Close when done (spec.md §5: one DB handle per instance,
// never a package global).
func Open(ctx context.Context, opts config.Options, log zerolog.Logger) (*Service, error) {
	db, dialect, err := openBackend(ctx, opts, log)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(ctx, db, dialect, log); err != nil {
		db.Close()
		return nil, err
	}

	repo := patterns.NewRepository(db, dialect, log)
	validator := evidence.New(opts.GitRepoPath, opts.PRRepoAllowlist, opts.RequestTimeout, opts.RetryCount, opts.RetryBackoff, opts.ValidatorCacheTTL)

	auditLog, err := audit.Open(auditDir(opts.PatternsDBPath))
	if err != nil {
		db.Close()
		return nil, apexerr.Wrap(apexerr.Internal, "open audit log", err)
	}

	reflector := reflect.New(repo, validator, opts.ReflectionMode, auditLog, log)
	taskStore := tasks.NewStore(db, tasks.Dialect(dialect), log)

	return &Service{
		db:        db,
		log:       log,
		repo:      repo,
		validator: validator,
		reflector: reflector,
		tasks:     taskStore,
		audit:     auditLog,
		dialect:   dialect,
	}, nil
}

// openBackend opens the concrete dbadapter.DB for opts.Backend. Backend
// selection is a start-up decision, never runtime polymorphism over a
// live connection (spec.md §9).
func openBackend(ctx context.Context, opts config.Options, log zerolog.Logger) (dbadapter.DB, patterns.Dialect, error) {
	switch opts.Backend {
	case config.BackendSQLitePure:
		db, err := sqlitepure.Open(ctx, opts.PatternsDBPath)
		if err != nil {
			return nil, "", apexerr.Wrap(apexerr.Internal, "open sqlite-pure backend", err)
		}
		return db, patterns.DialectSQLite, nil
	case config.BackendPostgres:
		if opts.PostgresDSN == "" {
			return nil, "", apexerr.New(apexerr.SchemaInvalid, "postgres backend selected without APEX_POSTGRES_DSN")
		}
		db, err := postgres.Open(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, "", apexerr.Wrap(apexerr.Internal, "open postgres backend", err)
		}
		return db, patterns.DialectPostgres, nil
	default:
		db, err := sqlitewasm.Open(ctx, opts.PatternsDBPath, log)
		if err != nil {
			return nil, "", apexerr.Wrap(apexerr.Internal, "open sqlite-wasm backend", err)
		}
		return db, patterns.DialectSQLite, nil
	}
}

// runMigrations registers the pattern and task schema DDL as versioned
// migration steps and applies them, so schema_meta/migrations stay the
// source of truth C2 is meant to own rather than each package's
// EnsureSchema silently re-issuing CREATE TABLE IF NOT EXISTS on every
// Open (spec.md §4.2).
func runMigrations(ctx context.Context, db dbadapter.DB, dialect patterns.Dialect, log zerolog.Logger) error {
	patternsDDL := patterns.SchemaDDL(dialect)
	ftsDDL := patterns.FTSSchemaDDL(db.SupportsFTSTriggers())
	tasksDDL := tasks.SchemaDDL(tasks.Dialect(dialect))

	migrations := []migrate.Migration{
		{
			ID:      "0001",
			Version: 1,
			Name:    "patterns base schema",
			Up: func(ctx context.Context, tx dbadapter.Tx) error {
				_, err := tx.Exec(ctx, patternsDDL)
				return err
			},
			Checksum: migrate.Checksum(patternsDDL),
		},
		{
			ID:      "0002",
			Version: 2,
			Name:    "patterns fts schema",
			Up: func(ctx context.Context, tx dbadapter.Tx) error {
				if dialect != patterns.DialectSQLite {
					return nil
				}
				_, err := tx.Exec(ctx, ftsDDL)
				return err
			},
			Checksum: migrate.Checksum(ftsDDL),
		},
		{
			ID:      "0003",
			Version: 3,
			Name:    "task store schema",
			Up: func(ctx context.Context, tx dbadapter.Tx) error {
				_, err := tx.Exec(ctx, tasksDDL)
				return err
			},
			Checksum: migrate.Checksum(tasksDDL),
		},
	}

	runner := migrate.NewRunner(log, migrations...)
	return runner.Up(ctx, db)
}

func auditDir(patternsDBPath string) string {
	dir := patternsDBPath
	for i := len(dir) - 1; i >= 0; i-- {
		if dir[i] == '/' {
			return dir[:i]
		}
	}
	return "."
}

// Close releases the underlying database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

// LookupRequest is the input to Lookup (spec.md §6 patterns.lookup).
type LookupRequest struct {
	Task    string
	Signals rank.Signals
	Options pack.Options
}

// Lookup ranks the repository's patterns against signals and builds a
// byte-budgeted pack from the top results (spec.md §6
// `patterns.lookup { task?, signals } → { pack }`).
func (s *Service) Lookup(ctx context.Context, req LookupRequest) (*pack.Pack, error) {
	ranked, all, err := s.rankAll(ctx, req.Signals, rank.DefaultCandidateLimit)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*patterns.Pattern, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}

	items := make([]pack.Item, 0, len(ranked))
	for _, r := range ranked {
		p, ok := byID[r.ID]
		if !ok {
			continue
		}
		items = append(items, pack.Item{Pattern: p, Score: r.Total})
	}

	return pack.Build(req.Task, items, req.Options)
}

// Discover ranks the repository's patterns against signals without
// building a pack (spec.md §6 `patterns.discover { signals, k } →
// ranked[]`).
func (s *Service) Discover(ctx context.Context, signals rank.Signals, k int) ([]rank.Ranked, error) {
	ranked, _, err := s.rankAll(ctx, signals, k)
	return ranked, err
}

func (s *Service) rankAll(ctx context.Context, signals rank.Signals, k int) ([]rank.Ranked, []*patterns.Pattern, error) {
	all, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, nil, err
	}

	candidates := make([]rank.Candidate, 0, len(all))
	for _, p := range all {
		candidates = append(candidates, toCandidate(p))
	}

	generated := rank.CandidateGenerate(candidates, signals, rank.DefaultCandidateLimit)
	return rank.Rank(generated, signals, k), all, nil
}

func toCandidate(p *patterns.Pattern) rank.Candidate {
	frameworks := make([]rank.CandidateFramework, 0, len(p.Frameworks))
	for _, f := range p.Frameworks {
		frameworks = append(frameworks, rank.CandidateFramework{Name: f.Name, Range: f.Range})
	}
	var repo string
	if len(p.Repos) > 0 {
		repo = p.Repos[0]
	}
	return rank.Candidate{
		ID:           p.ID,
		Type:         string(p.Type),
		Paths:        p.Paths,
		Languages:    p.Languages,
		Frameworks:   frameworks,
		Repo:         repo,
		Alpha:        p.Alpha,
		Beta:         p.Beta,
		AgeDays:      time.Since(p.UpdatedAt).Hours() / 24,
		HalfLifeDays: p.HalfLifeDays,
	}
}

// Explain returns a pattern plus its current scoring breakdown against
// signals (spec.md §6 `patterns.explain { id_or_alias } →
// pattern_with_scores`).
func (s *Service) Explain(ctx context.Context, idOrAlias string, signals rank.Signals) (*patterns.Pattern, *rank.Explain, error) {
	p, err := s.repo.Get(ctx, idOrAlias, false)
	if err != nil {
		return nil, nil, err
	}
	if err := validation.ForExplain()(p); err != nil {
		return nil, nil, apexerr.Wrap(apexerr.PatternNotFound, idOrAlias, err)
	}
	ex := rank.Score(toCandidate(p), signals)
	return p, &ex, nil
}

// Reflect applies one task outcome's claims against the pattern store
// (spec.md §6 `reflect { request }`).
func (s *Service) Reflect(ctx context.Context, req reflect.Request) (*reflect.Result, error) {
	return s.reflector.Process(ctx, req)
}

// CreateTask starts a new task in the ARCHITECT phase (spec.md §6
// `tasks.create`).
func (s *Service) CreateTask(ctx context.Context, t *tasks.Task) (*tasks.Task, error) {
	return s.tasks.Create(ctx, t)
}

// UpdateTask transitions a task to newPhase, validating against the
// lifecycle DAG (spec.md §6 `tasks.update`). Pre-checked here with the
// validation package (same fetch-then-chain shape the teacher's CLI
// layer uses ahead of storage calls) in addition to Store.Update's own
// authoritative check, so callers get the same rejection whether or
// not they pre-flight the transition themselves.
func (s *Service) UpdateTask(ctx context.Context, id string, newPhase tasks.Phase, confidence *float64) (*tasks.Task, error) {
	existing, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apexerr.New(apexerr.TaskNotFound, id)
	}
	check := validation.ChainTask(validation.ForUpdate(), validation.PhaseTransition(newPhase))
	if err := check(existing); err != nil {
		return nil, apexerr.Wrap(apexerr.SchemaInvalid, "update task", err)
	}
	return s.tasks.Update(ctx, id, newPhase, confidence)
}

// CompleteTask closes out a task, clearing its similarity cache
// (spec.md §6 `tasks.complete`).
func (s *Service) CompleteTask(ctx context.Context, id, outcome, keyLearning string) (*tasks.Task, error) {
	existing, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apexerr.New(apexerr.TaskNotFound, id)
	}
	if err := validation.ForComplete()(existing); err != nil {
		return nil, apexerr.Wrap(apexerr.SchemaInvalid, "complete task", err)
	}
	return s.tasks.Complete(ctx, id, outcome, keyLearning)
}

// CheckpointTask records file touches and evidence references against
// an in-progress task (spec.md §6 `tasks.checkpoint`).
func (s *Service) CheckpointTask(ctx context.Context, id string, files []tasks.FileTouch, ev []tasks.EvidenceLogEntry) error {
	return s.tasks.Checkpoint(ctx, id, files, ev)
}

// SimilarTasks returns the cached similarity pairs for a task (spec.md
// §6 `tasks.similar`).
func (s *Service) SimilarTasks(ctx context.Context, id string, limit int) ([]tasks.SimilarityPair, error) {
	return s.tasks.Similar(ctx, id, limit)
}

// SearchPatterns runs a full-text search over the pattern store
// (spec.md §4.9), exposed for callers that want raw search hits rather
// than a ranked/packed result.
func (s *Service) SearchPatterns(ctx context.Context, query string, limit int) ([]search.Hit, error) {
	return search.Patterns(ctx, s.db, search.Dialect(s.dialect), query, limit)
}

// Repository exposes the underlying pattern repository for callers
// that need direct CRUD access (alias assignment, deletion) beyond the
// five request/response operations above.
func (s *Service) Repository() *patterns.Repository { return s.repo }

// Validator exposes the underlying evidence validator.
func (s *Service) Validator() *evidence.Validator { return s.validator }
