package tasks

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/untoldecay/apex/internal/apexerr"
	"github.com/untoldecay/apex/internal/dbadapter"
	"github.com/untoldecay/apex/internal/search"
)

// Dialect selects DDL dialect. It is a separate type with the same
// string values as patterns.Dialect and search.Dialect; apex.go
// converts between them.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// similarityThreshold is the minimum score cached as a task_similarity
// row (spec.md §4.8 "cache only pairs with score > 0.3").
const similarityThreshold = 0.3

// similarityWorkers bounds concurrent similarity computations per
// triggerSimilarity call.
const similarityWorkers = 8

// Store is the task store's public contract (C8).
type Store struct {
	db      dbadapter.DB
	dialect Dialect
	log     zerolog.Logger

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewStore wraps an opened dbadapter.DB.
func NewStore(db dbadapter.DB, dialect Dialect, log zerolog.Logger) *Store {
	return &Store{
		db: db, dialect: dialect, log: log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// EnsureSchema creates every table if not already present.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, SchemaDDL(s.dialect)); err != nil {
		return apexerr.Wrap(apexerr.Internal, "task schema DDL", err)
	}
	return nil
}

// SchemaDDL returns the table DDL for dialect, exported so
// internal/migrate can register it as a versioned migration step.
func SchemaDDL(dialect Dialect) string {
	if dialect == DialectPostgres {
		return schemaPostgres
	}
	return schema
}

func (s *Store) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Create assigns an ID, persists the brief, sets phase = ARCHITECT,
// confidence = 0.3, and fires non-blocking similarity computation
// (spec.md §4.8).
func (s *Store) Create(ctx context.Context, t *Task) (*Task, error) {
	now := time.Now().UTC()
	t.ID = s.newID()
	t.Status = StatusActive
	t.Phase = PhaseArchitect
	t.Confidence = 0.3
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := s.insert(ctx, t); err != nil {
		return nil, err
	}

	go s.triggerSimilarity(t)
	return t, nil
}

func (s *Store) insert(ctx context.Context, t *Task) error {
	tagsJSON, err := json.Marshal(t.Tags)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "marshal task tags", err)
	}
	briefJSON, err := json.Marshal(t.Brief)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "marshal task brief", err)
	}

	stmt, err := s.db.Prepare(ctx, `
		INSERT INTO tasks (id, title, intent, task_type, status, phase, confidence,
			tags, brief, created_at, updated_at, outcome, key_learning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "prepare task insert", err)
	}
	defer stmt.Close()
	_, err = stmt.Run(ctx, t.ID, t.Title, t.Intent, t.TaskType, string(t.Status), string(t.Phase),
		t.Confidence, string(tagsJSON), string(briefJSON), t.CreatedAt, t.UpdatedAt, t.Outcome, t.KeyLearning)
	if err != nil {
		return apexerr.Wrap(apexerr.Internal, "insert task row", err)
	}
	return nil
}

// Get fetches a task by ID.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	stmt, err := s.db.Prepare(ctx, `
		SELECT id, title, intent, task_type, status, phase, confidence, tags, brief,
			created_at, updated_at, completed_at, duration_ms, outcome, key_learning
		FROM tasks WHERE id = ?`)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare task get", err)
	}
	defer stmt.Close()

	var t Task
	var tagsJSON, briefJSON string
	var completedAt sql.NullTime
	dest := []any{
		&t.ID, &t.Title, &t.Intent, &t.TaskType, &t.Status, &t.Phase, &t.Confidence,
		&tagsJSON, &briefJSON, &t.CreatedAt, &t.UpdatedAt, &completedAt, &t.DurationMS,
		&t.Outcome, &t.KeyLearning,
	}
	if err := stmt.Get(ctx, dest, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apexerr.Wrap(apexerr.Internal, "scan task", err)
	}
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	_ = json.Unmarshal([]byte(briefJSON), &t.Brief)
	return &t, nil
}

// Update applies a phase transition and/or confidence change. Phase
// transitions must follow the DAG (spec.md §4.8); completed tasks
// forbid further phase updates (spec.md §3).
func (s *Store) Update(ctx context.Context, id string, newPhase Phase, confidence *float64) (*Task, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apexerr.New(apexerr.TaskNotFound, id)
	}
	if existing.Status == StatusCompleted {
		return nil, apexerr.New(apexerr.SchemaInvalid, "task already completed, phase updates forbidden").
			WithContext("task_id", id)
	}
	if newPhase != "" && !ValidTransition(existing.Phase, newPhase) {
		return nil, apexerr.New(apexerr.SchemaInvalid, "illegal phase transition").
			WithContext("task_id", id).WithContext("from", string(existing.Phase)).WithContext("to", string(newPhase))
	}

	if newPhase != "" {
		existing.Phase = newPhase
	}
	if confidence != nil {
		existing.Confidence = *confidence
	}
	existing.UpdatedAt = time.Now().UTC()

	stmt, err := s.db.Prepare(ctx, "UPDATE tasks SET phase = ?, confidence = ?, updated_at = ? WHERE id = ?")
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare task update", err)
	}
	defer stmt.Close()
	if _, err := stmt.Run(ctx, string(existing.Phase), existing.Confidence, existing.UpdatedAt, id); err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "update task", err)
	}
	return existing, nil
}

// Complete marks a task completed, stamping completed_at/duration_ms/
// outcome, and clears its similarity cache rows (spec.md §4.8).
func (s *Store) Complete(ctx context.Context, id, outcome, keyLearning string) (*Task, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apexerr.New(apexerr.TaskNotFound, id)
	}
	if !CanComplete(existing.Phase) {
		return nil, apexerr.New(apexerr.SchemaInvalid, "task cannot be completed from its current phase").
			WithContext("task_id", id).WithContext("phase", string(existing.Phase))
	}

	now := time.Now().UTC()
	existing.Status = StatusCompleted
	existing.CompletedAt = &now
	existing.DurationMS = now.Sub(existing.CreatedAt).Milliseconds()
	existing.Outcome = outcome
	existing.KeyLearning = keyLearning
	existing.UpdatedAt = now

	err = s.db.Transaction(ctx, func(tx dbadapter.Tx) error {
		stmt, err := tx.Prepare(ctx, `
			UPDATE tasks SET status = ?, completed_at = ?, duration_ms = ?, outcome = ?,
				key_learning = ?, updated_at = ? WHERE id = ?`)
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "prepare task completion", err)
		}
		defer stmt.Close()
		if _, err := stmt.Run(ctx, string(existing.Status), existing.CompletedAt, existing.DurationMS,
			existing.Outcome, existing.KeyLearning, existing.UpdatedAt, id); err != nil {
			return apexerr.Wrap(apexerr.Internal, "complete task", err)
		}

		clearStmt, err := tx.Prepare(ctx, "DELETE FROM task_similarity WHERE task_a = ? OR task_b = ?")
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "prepare similarity clear", err)
		}
		defer clearStmt.Close()
		if _, err := clearStmt.Run(ctx, id, id); err != nil {
			return apexerr.Wrap(apexerr.Internal, "clear task similarity cache", err)
		}
		return nil
	})
	if err != nil {
		if ae, ok := err.(*apexerr.Error); ok {
			return nil, ae
		}
		return nil, apexerr.Wrap(apexerr.Internal, "complete task", err)
	}
	return existing, nil
}

// Checkpoint appends file touches and evidence log entries in one
// transaction (spec.md §3 task_files/task_evidence append-only logs).
func (s *Store) Checkpoint(ctx context.Context, id string, files []FileTouch, evidence []EvidenceLogEntry) error {
	now := time.Now().UTC()
	return s.db.Transaction(ctx, func(tx dbadapter.Tx) error {
		if len(files) > 0 {
			stmt, err := tx.Prepare(ctx, "INSERT INTO task_files (task_id, path, action, created_at) VALUES (?, ?, ?, ?)")
			if err != nil {
				return apexerr.Wrap(apexerr.Internal, "prepare file touch insert", err)
			}
			defer stmt.Close()
			for _, f := range files {
				if _, err := stmt.Run(ctx, id, f.Path, f.Action, now); err != nil {
					return apexerr.Wrap(apexerr.Internal, "insert file touch", err)
				}
			}
		}
		if len(evidence) > 0 {
			stmt, err := tx.Prepare(ctx, "INSERT INTO task_evidence (task_id, kind, ref, created_at) VALUES (?, ?, ?, ?)")
			if err != nil {
				return apexerr.Wrap(apexerr.Internal, "prepare evidence log insert", err)
			}
			defer stmt.Close()
			for _, e := range evidence {
				if _, err := stmt.Run(ctx, id, e.Kind, e.Ref, now); err != nil {
					return apexerr.Wrap(apexerr.Internal, "insert evidence log entry", err)
				}
			}
		}
		return nil
	})
}

// Similar returns the cached similarity pairs involving id, ordered
// descending by score.
func (s *Store) Similar(ctx context.Context, id string, limit int) ([]SimilarityPair, error) {
	if limit <= 0 {
		limit = 10
	}
	stmt, err := s.db.Prepare(ctx, `
		SELECT task_a, task_b, score, updated_at FROM task_similarity
		WHERE task_a = ? OR task_b = ?
		ORDER BY score DESC LIMIT ?`)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare similarity lookup", err)
	}
	defer stmt.Close()

	var pairs []SimilarityPair
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var p SimilarityPair
		if err := row.Scan(&p.TaskA, &p.TaskB, &p.Score, &p.UpdatedAt); err != nil {
			return err
		}
		pairs = append(pairs, p)
		return nil
	}, id, id, limit)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "scan similarity lookup", err)
	}
	return pairs, nil
}

// triggerSimilarity is the "fires (non-blocking) similarity
// computation" step of task creation (spec.md §4.8): it runs in its
// own goroutine, bounding concurrent comparisons with an errgroup
// worker pool, and never blocks Create's caller.
func (s *Store) triggerSimilarity(t *Task) {
	ctx := context.Background()
	others, err := s.listActiveExcept(ctx, t.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("task_id", t.ID).Msg("similarity: list active tasks failed")
		return
	}

	var mu sync.Mutex
	var pairs []SimilarityPair
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(similarityWorkers)

	for _, other := range others {
		other := other
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			score := search.TaskSimilarity(t.TaskType, t.Title, other.TaskType, other.Title)
			if score <= similarityThreshold {
				return nil
			}
			a, b := canonicalOrder(t.ID, other.ID)
			mu.Lock()
			pairs = append(pairs, SimilarityPair{TaskA: a, TaskB: b, Score: score, UpdatedAt: time.Now().UTC()})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Warn().Err(err).Str("task_id", t.ID).Msg("similarity: worker pool failed")
		return
	}

	if err := s.writeSimilarityPairs(ctx, pairs); err != nil {
		s.log.Warn().Err(err).Str("task_id", t.ID).Msg("similarity: cache write failed")
	}
}

func (s *Store) listActiveExcept(ctx context.Context, excludeID string) ([]*Task, error) {
	stmt, err := s.db.Prepare(ctx, "SELECT id, task_type, title FROM tasks WHERE status = ? AND id != ?")
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "prepare active task list", err)
	}
	defer stmt.Close()

	var out []*Task
	err = stmt.All(ctx, func(row dbadapter.RowScanner) error {
		var t Task
		if err := row.Scan(&t.ID, &t.TaskType, &t.Title); err != nil {
			return err
		}
		out = append(out, &t)
		return nil
	}, string(StatusActive), excludeID)
	if err != nil {
		return nil, apexerr.Wrap(apexerr.Internal, "scan active task list", err)
	}
	return out, nil
}

func (s *Store) writeSimilarityPairs(ctx context.Context, pairs []SimilarityPair) error {
	if len(pairs) == 0 {
		return nil
	}
	return s.db.Transaction(ctx, func(tx dbadapter.Tx) error {
		stmt, err := tx.Prepare(ctx, `
			INSERT INTO task_similarity (task_a, task_b, score, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (task_a, task_b) DO UPDATE SET score = excluded.score, updated_at = excluded.updated_at`)
		if err != nil {
			return apexerr.Wrap(apexerr.Internal, "prepare similarity cache write", err)
		}
		defer stmt.Close()
		for _, p := range pairs {
			if _, err := stmt.Run(ctx, p.TaskA, p.TaskB, p.Score, p.UpdatedAt); err != nil {
				return apexerr.Wrap(apexerr.Internal, "write similarity cache row", err)
			}
		}
		return nil
	})
}

func canonicalOrder(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}
