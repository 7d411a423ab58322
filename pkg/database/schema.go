package database

import (
	"context"
	"fmt"
)

// InitSchema creates the report and log tables used by the result store.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Research Reports Table
	reportsQuery := `
		CREATE TABLE IF NOT EXISTS research_reports (
			research_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT,
			bundle JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, reportsQuery); err != nil {
		return fmt.Errorf("failed to create research_reports table: %w", err)
	}

	// 2. Research Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			research_id TEXT NOT NULL REFERENCES research_reports(research_id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_logs_research_id ON research_logs(research_id)"); err != nil {
		return fmt.Errorf("failed to create index on research_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_reports_created_at ON research_reports(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_reports: %w", err)
	}

	return nil
}

// InitVectorSchema prepares the chunk table used as the research index.
func (db *PostgresDB) InitVectorSchema(ctx context.Context, tableName string, dimension int) error {
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}
	return db.CreateChunkTable(ctx, tableName, dimension)
}
