// Package sqlite stores job records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// JobStore persists jobs as JSON records in SQLite.
type JobStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open initializes or connects to the job database and applies migrations.
func Open(ctx context.Context, path string, logger *zap.Logger) (*JobStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes writers inside the process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &JobStore{db: db, path: path, logger: logger}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("job database ready", zap.String("path", path))
	return store, nil
}

// Close closes the underlying database connection.
func (s *JobStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new job record.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	job.Revision = 1
	record, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, created_at, updated_at, status, revision, record)
         VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
		string(job.Status),
		job.Revision,
		string(record),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("job already exists: %s", job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get loads a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	var record string
	err := s.db.QueryRowContext(ctx, "SELECT record FROM jobs WHERE id = ?", id).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(record)
}

// Update applies fn to the job within a transaction. The write is guarded
// by the stored revision.
func (s *JobStore) Update(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var record string
	if err := tx.QueryRowContext(ctx, "SELECT record FROM jobs WHERE id = ?", id).Scan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	job, err := decodeJob(record)
	if err != nil {
		return nil, err
	}
	prev := job.Revision
	if err := fn(job); err != nil {
		return nil, err
	}
	job.Revision = prev + 1

	out, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET updated_at = ?, status = ?, revision = ?, record = ?
         WHERE id = ? AND revision = ?`,
		formatTime(job.UpdatedAt),
		string(job.Status),
		job.Revision,
		string(out),
		id,
		prev,
	)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: job %s changed concurrently", domain.ErrStateConflict, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job update: %w", err)
	}
	return job, nil
}

// List returns every job, newest first.
func (s *JobStore) List(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, record FROM jobs ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []string
	var ids []string
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		ids = append(ids, id)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(records))
	for i, record := range records {
		job, err := decodeJob(record)
		if err != nil {
			s.logger.Warn("skipping unreadable job record",
				zap.String("job_id", ids[i]),
				zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ping verifies the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *JobStore) Path() string {
	return s.path
}

func decodeJob(record string) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal([]byte(record), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// formatTime renders timestamps so lexical order matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
