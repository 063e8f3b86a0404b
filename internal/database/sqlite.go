package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"detectedits-go/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Run is one recorded pipeline execution.
type Run struct {
	ID              int64
	RunID           string
	LayerURL        string
	State           string
	StartedAt       time.Time
	FinishedAt      time.Time
	Records         int
	Sent            int
	Failed          int
	WatermarkBefore string
	WatermarkAfter  string
	Error           string
}

// Duration is the wall time the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Database stores the run history.
type Database interface {
	// RecordRun inserts a finished run and returns its row id.
	RecordRun(ctx context.Context, run Run) (int64, error)

	// ListRuns returns up to limit runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// LastRun returns the newest run for layerURL, or nil if there is none.
	LastRun(ctx context.Context, layerURL string) (*Run, error)

	// CheckMigrations verifies the schema is at the version this binary expects.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the history to destPath.
	BackupTo(destPath string) error

	Close() error
}

// SQLiteDatabase implements Database using SQLite.
type SQLiteDatabase struct {
	db *sql.DB
}

var _ Database = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path (or ":memory:") and brings
// its schema up to date.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLiteDatabase{db: db}, nil
}

// OpenConnection opens a SQLite connection without touching the schema.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: gets its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return db, nil
}

func (s *SQLiteDatabase) RecordRun(ctx context.Context, run Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, layer_url, state, started_at, finished_at,
			records, sent, failed, watermark_before, watermark_after, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.LayerURL, run.State, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Records, run.Sent, run.Failed, run.WatermarkBefore, run.WatermarkAfter, run.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("recording run %s: %w", run.RunID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

const runColumns = `id, run_id, layer_url, state, started_at, finished_at,
	records, sent, failed, watermark_before, watermark_after, error`

func (s *SQLiteDatabase) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

func (s *SQLiteDatabase) LastRun(ctx context.Context, layerURL string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE layer_url = ? ORDER BY started_at DESC, id DESC LIMIT 1`, layerURL)
	if err != nil {
		return nil, fmt.Errorf("finding last run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRun(rows)
	if err != nil {
		return nil, fmt.Errorf("finding last run: %w", err)
	}
	return &r, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var r Run
	err := rows.Scan(&r.ID, &r.RunID, &r.LayerURL, &r.State, &r.StartedAt, &r.FinishedAt,
		&r.Records, &r.Sent, &r.Failed, &r.WatermarkBefore, &r.WatermarkAfter, &r.Error)
	return r, err
}

func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckStatus(s.db)
}

func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
