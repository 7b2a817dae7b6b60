package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dunamismax/artify/internal/domain"
	_ "github.com/lib/pq"
)

const usageSchemaSQL = `
CREATE TABLE IF NOT EXISTS stylize_usage (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	client_id TEXT NOT NULL,
	engine TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	content_width INTEGER NOT NULL DEFAULT 0,
	content_height INTEGER NOT NULL DEFAULT 0,
	style_width INTEGER NOT NULL DEFAULT 0,
	style_height INTEGER NOT NULL DEFAULT 0,
	output_bytes INTEGER NOT NULL DEFAULT 0,
	pixels_processed BIGINT NOT NULL DEFAULT 0,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS stylize_usage_client_created_idx ON stylize_usage (client_id, created_at);
CREATE INDEX IF NOT EXISTS stylize_usage_request_id_idx ON stylize_usage (request_id);
`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresUsageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchemaSQL); err != nil {
		return fmt.Errorf("ensure stylize_usage schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresUsageStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	if usage.ID == "" {
		return errors.New("usage log id is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stylize_usage (
			id, request_id, client_id, engine, outcome, error_kind,
			content_width, content_height, style_width, style_height,
			output_bytes, pixels_processed, compute_time_ms, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		usage.ID,
		usage.RequestID,
		usage.ClientID,
		usage.Engine,
		usage.Outcome,
		usage.ErrorKind,
		usage.ContentWidth,
		usage.ContentHeight,
		usage.StyleWidth,
		usage.StyleHeight,
		usage.OutputBytes,
		usage.PixelsProcessed(),
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
