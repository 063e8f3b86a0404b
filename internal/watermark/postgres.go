package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"detectedits-go/internal/detect"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS edit_watermarks (
		layer_id         INTEGER PRIMARY KEY,
		last_edit_date   DOUBLE PRECISION NOT NULL,
		last_edit_string TEXT NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

// PostgresStore keeps one row per layer in edit_watermarks. Each write is a
// single upsert statement.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the table if it is missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres not reachable: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating edit_watermarks table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Read(ctx context.Context, layerID int) (detect.Watermark, error) {
	var ts float64
	err := s.pool.QueryRow(ctx,
		`SELECT last_edit_date FROM edit_watermarks WHERE layer_id = $1`, layerID).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return detect.Watermark{}, detect.ErrWatermarkNotFound
	}
	if err != nil {
		return detect.Watermark{}, fmt.Errorf("reading watermark for layer %d: %w", layerID, err)
	}
	return detect.NewWatermark(ts), nil
}

func (s *PostgresStore) Write(ctx context.Context, layerID int, w detect.Watermark) error {
	query := `
		INSERT INTO edit_watermarks (layer_id, last_edit_date, last_edit_string, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (layer_id) DO UPDATE
		SET last_edit_date = EXCLUDED.last_edit_date,
		    last_edit_string = EXCLUDED.last_edit_string,
		    updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.pool.Exec(ctx, query, layerID, w.Timestamp, w.Display); err != nil {
		return fmt.Errorf("writing watermark for layer %d: %w", layerID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, layerID int) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM edit_watermarks WHERE layer_id = $1`, layerID); err != nil {
		return fmt.Errorf("deleting watermark for layer %d: %w", layerID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
