// Package artifacts indexes files produced by recording: screencast videos,
// trace dumps, downloads. Writes are asynchronous and batched so recording
// callbacks never block on disk; reads query the table directly.
package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Artifact types.
const (
	TypeVideo    = "video"
	TypeTrace    = "trace"
	TypeDownload = "download"
)

// Schema for the artifacts table. Call Store.Init() or apply manually.
const Schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	target_id TEXT,
	path TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_target ON artifacts(target_id) WHERE target_id != '';
CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
`

// Artifact is one recorded file.
type Artifact struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	TargetID  string    `json:"target_id,omitempty"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists artifact records to a SQLite table asynchronously.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ch     chan *Artifact
	done   chan struct{}
	once   sync.Once
}

// NewStore creates a store backed by the given database connection and
// starts its flush goroutine.
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		logger: logger,
		ch:     make(chan *Artifact, 256),
		done:   make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Init creates the artifacts table if it doesn't exist.
func (s *Store) Init() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("artifacts: init schema: %w", err)
	}
	return nil
}

// RecordAsync queues an artifact for async persistence. Missing id or
// timestamp are filled in. Non-blocking; drops if the buffer is full.
func (s *Store) RecordAsync(a *Artifact) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	select {
	case s.ch <- a:
	default:
		s.logger.Warn("artifacts: buffer full, record dropped", "path", a.Path)
	}
}

// List returns the most recent artifacts, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, target_id, path, created_at FROM artifacts
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("artifacts: list: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ByTarget returns the artifacts recorded for one target, newest first.
func (s *Store) ByTarget(ctx context.Context, targetID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, target_id, path, created_at FROM artifacts
		 WHERE target_id = ? ORDER BY created_at DESC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("artifacts: by target: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// Close drains the buffer and stops the flush goroutine. The database
// connection is owned by the caller and stays open.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)

	batch := make([]*Artifact, 0, 32)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case a, ok := <-s.ch:
			if !ok {
				s.flushBatch(batch)
				return
			}
			batch = append(batch, a)
			if len(batch) >= 32 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) flushBatch(batch []*Artifact) {
	if len(batch) == 0 {
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Error("artifacts: begin tx", "error", err)
		return
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO artifacts (id, type, target_id, path, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		s.logger.Error("artifacts: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, a := range batch {
		if _, err := stmt.Exec(a.ID, a.Type, a.TargetID, a.Path, a.CreatedAt.UnixMilli()); err != nil {
			s.logger.Error("artifacts: insert", "error", err, "path", a.Path)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("artifacts: commit", "error", err)
	}
}

func scanArtifacts(rows *sql.Rows) ([]Artifact, error) {
	var out []Artifact
	for rows.Next() {
		var a Artifact
		var ms int64
		if err := rows.Scan(&a.ID, &a.Type, &a.TargetID, &a.Path, &ms); err != nil {
			return nil, fmt.Errorf("artifacts: scan: %w", err)
		}
		a.CreatedAt = time.UnixMilli(ms)
		out = append(out, a)
	}
	return out, rows.Err()
}
