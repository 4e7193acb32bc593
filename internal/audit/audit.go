// Package audit implements the reflection audit record (spec.md §4.5
// step 7): an append-only JSONL trail of every reflection request's
// outcome, kept alongside the pattern database rather than inside it
// so it can be tailed/grepped independently of the embedded DB file.
// Adapted from BeadsLog's internal/audit interactions log: same
// append-only JSONL file, generic Entry/Extra shape, and atomic
// append-with-flush write path, retargeted from LLM/tool-call events
// to reflection/evidence events under .apex/ instead of .beads/.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the audit log file name stored under the APEX data dir.
const FileName = "audit.jsonl"

const idPrefix = "aud-"

// Entry is one append-only reflection/evidence audit event.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // reflection | trust_update | pattern_created | evidence_rejected
	CreatedAt time.Time `json:"created_at"`

	TaskID    string `json:"task_id,omitempty"`
	PatternID string `json:"pattern_id,omitempty"`
	Outcome   string `json:"outcome,omitempty"`

	DeltaAlpha float64 `json:"delta_alpha,omitempty"`
	DeltaBeta  float64 `json:"delta_beta,omitempty"`

	Error string `json:"error,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Log appends entries to a single audit file. One Log instance owns
// one file path; there is no package-level shared state (spec.md §9
// "Global state").
type Log struct {
	path string
}

// Open returns a Log writing to <dataDir>/audit.jsonl, creating dataDir
// if necessary.
func Open(dataDir string) (*Log, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("create apex data dir: %w", err)
	}
	p := filepath.Join(dataDir, FileName)
	if _, err := os.Stat(p); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat audit log: %w", err)
		}
		// nolint:gosec // JSONL audit trail intended to be readable alongside the DB file.
		if err := os.WriteFile(p, []byte{}, 0644); err != nil {
			return nil, fmt.Errorf("create audit log: %w", err)
		}
	}
	return &Log{path: p}, nil
}

// Append appends e as a single JSON line, assigning ID/CreatedAt when
// unset. Callers must not mutate previously appended entries.
func (l *Log) Append(e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}
	if e.Kind == "" {
		return "", fmt.Errorf("kind is required")
	}

	var err error
	if e.ID == "" {
		e.ID, err = newID()
		if err != nil {
			return "", err
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	} else {
		e.CreatedAt = e.CreatedAt.UTC()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) // nolint:gosec // intended permissions
	if err != nil {
		return "", fmt.Errorf("open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "", fmt.Errorf("write audit log entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("flush audit log: %w", err)
	}

	return e.ID, nil
}

func newID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate audit entry id: %w", err)
	}
	return idPrefix + hex.EncodeToString(b[:]), nil
}
