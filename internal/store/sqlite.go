package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// SQLiteStore keeps one row per pipeline. The snapshot column holds the
// same envelope FileStore writes; status, label and updated_at are copied
// out of it so they can be filtered without decoding.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		project TEXT NOT NULL DEFAULT '',
		label TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		snapshot TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status);`

// OpenSQLite opens or creates a SQLite database at path and ensures the
// schema exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps WAL mode in effect
	// for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts the snapshot of p.
func (s *SQLiteStore) Save(ctx context.Context, p *pipeline.Pipeline) error {
	if err := checkID(p.ID); err != nil {
		return err
	}
	data, err := Encode(p)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipelines (id, status, project, label, updated_at, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			project = excluded.project,
			label = excluded.label,
			updated_at = excluded.updated_at,
			snapshot = excluded.snapshot`,
		p.ID,
		string(p.Status),
		p.Project,
		p.Label,
		p.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert pipeline: %w", err)
	}
	return nil
}

// Load reads the snapshot of one pipeline.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM pipelines WHERE id = ?", id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("query pipeline: %w", err)
	}
	p, err := Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return p, nil
}

// List reads every snapshot, ordered by pipeline ID.
func (s *SQLiteStore) List(ctx context.Context) ([]*pipeline.Pipeline, error) {
	return s.ListByStatus(ctx)
}

// ListByStatus reads the snapshots of pipelines in any of the given
// statuses, ordered by pipeline ID. With no statuses it reads them all.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...pipeline.Status) ([]*pipeline.Pipeline, error) {
	query := "SELECT id, snapshot FROM pipelines"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE status IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipelines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*pipeline.Pipeline
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan pipeline row: %w", err)
		}
		p, err := Decode([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes one pipeline.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pipelines WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}
