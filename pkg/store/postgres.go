package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in research_reports and research_logs.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, researchID string) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO research_reports (research_id, status) VALUES ($1, 'pending')", researchID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, query string, args ...interface{}) error {
	tag, err := s.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Start(ctx context.Context, researchID string) error {
	return s.exec(ctx,
		"UPDATE research_reports SET status = 'running', updated_at = NOW() WHERE research_id = $1", researchID)
}

func (s *PostgresStore) Complete(ctx context.Context, researchID string, bundle Bundle) error {
	bundleJSON, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}
	return s.exec(ctx,
		"UPDATE research_reports SET status = 'completed', bundle = $2, error = NULL, updated_at = NOW() WHERE research_id = $1",
		researchID, bundleJSON)
}

func (s *PostgresStore) Fail(ctx context.Context, researchID string, reason string) error {
	return s.exec(ctx,
		"UPDATE research_reports SET status = 'failed', error = $2, updated_at = NOW() WHERE research_id = $1",
		researchID, reason)
}

func (s *PostgresStore) Get(ctx context.Context, researchID string) (*Record, error) {
	query := `
		SELECT research_id, status, COALESCE(error, ''), bundle, created_at, updated_at
		FROM research_reports
		WHERE research_id = $1
	`
	var (
		r          Record
		status     string
		bundleJSON []byte
	)
	err := s.Pool.QueryRow(ctx, query, researchID).Scan(
		&r.ResearchID, &status, &r.Error, &bundleJSON, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	r.Status = Status(status)

	if len(bundleJSON) > 0 {
		var b Bundle
		if err := json.Unmarshal(bundleJSON, &b); err != nil {
			return nil, fmt.Errorf("failed to decode bundle: %w", err)
		}
		r.Bundle = &b
	}
	return &r, nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, researchID string, entry LogEntry) error {
	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO research_logs (research_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, researchID, entry.Timestamp, entry.Level, entry.Message, []byte(metadata))
	return err
}

func (s *PostgresStore) Logs(ctx context.Context, researchID string) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE research_id = $1
		ORDER BY id ASC
	`
	rows, err := s.Pool.Query(ctx, query, researchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

func scanLogs(rows pgx.Rows) ([]LogEntry, error) {
	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		var metadata []byte
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.Metadata = metadata
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return logs, nil
}
