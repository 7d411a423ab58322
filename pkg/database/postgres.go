package database

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxIndexedDimension is the largest vector pgvector can build an HNSW index
// over. Wider chunk tables are searched exactly.
const maxIndexedDimension = 2000

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolOptions size the pool shared by the result store and the research index.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

// DefaultPoolOptions covers a handful of concurrent runs, each holding at most
// one connection at a time.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{MaxConns: 10, MinConns: 2}
}

type PostgresDB struct {
	Pool *pgxpool.Pool
}

func poolConfig(databaseURL string, opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("min connections %d exceed max connections %d", cfg.MinConns, cfg.MaxConns)
	}
	// Detached report runs can sit idle between model calls for minutes.
	cfg.MaxConnIdleTime = 5 * time.Minute
	return cfg, nil
}

// NewPostgresDB opens the pool and checks that the server answers.
func NewPostgresDB(ctx context.Context, databaseURL string, opts PoolOptions) (*PostgresDB, error) {
	cfg, err := poolConfig(databaseURL, opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}

func (db *PostgresDB) EnsureVectorExtension(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	return err
}

// chunkTableDDL returns the statements that create a chunk table and its
// indexes: cosine HNSW over the embedding when the dimension allows it, and
// an expression index on the research id every retrieval filters by.
func chunkTableDDL(tableName string, dimension int) ([]string, error) {
	if !validIdentifier.MatchString(tableName) {
		return nil, fmt.Errorf("invalid table name %q", tableName)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	table := pgx.Identifier{tableName}.Sanitize()

	stmts := []string{fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, table, dimension)}

	if dimension <= maxIndexedDimension {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pgx.Identifier{tableName + "_embedding_idx"}.Sanitize(), table))
	}
	stmts = append(stmts, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s ((metadata->>'research_id'))",
		pgx.Identifier{tableName + "_research_id_idx"}.Sanitize(), table))

	return stmts, nil
}

// CreateChunkTable creates the table that holds the indexed source chunks of
// every research run.
func (db *PostgresDB) CreateChunkTable(ctx context.Context, tableName string, dimension int) error {
	stmts, err := chunkTableDDL(tableName, dimension)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare chunk table %s: %w", tableName, err)
		}
	}
	return nil
}
