package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikeboe/research-reporter/pkg/agents"
	"github.com/mikeboe/research-reporter/pkg/clients"
	"github.com/mikeboe/research-reporter/pkg/config"
	"github.com/mikeboe/research-reporter/pkg/database"
	"github.com/mikeboe/research-reporter/pkg/embeddings"
	"github.com/mikeboe/research-reporter/pkg/export"
	"github.com/mikeboe/research-reporter/pkg/pipeline"
	"github.com/mikeboe/research-reporter/pkg/research"
	"github.com/mikeboe/research-reporter/pkg/server"
	"github.com/mikeboe/research-reporter/pkg/store"
	"github.com/mikeboe/research-reporter/pkg/vectorstore"
)

// App is the wired report generator shared by the server and the CLI.
type App struct {
	Config       *config.Config
	Service      *server.Service
	Exporter     *export.FileExporter
	Orchestrator *pipeline.Orchestrator

	db *database.PostgresDB
}

// ResearchConfig maps the environment onto the research loop settings.
func ResearchConfig(cfg *config.Config) research.Config {
	rc := research.DefaultConfig()
	rc.Model = cfg.FastModel
	rc.MaxIterations = cfg.MaxIterations
	rc.ChunkSize = cfg.ChunkSize
	rc.ChunkOverlap = cfg.ChunkOverlap
	rc.ContextTopK = cfg.ContextTopK
	rc.MaxContextChars = cfg.MaxContextChars
	rc.PricePerMillionTokens = cfg.PricePerMillionTokens
	return rc
}

// New builds the pipeline and its coordinator. Without a database URL results
// are kept in memory and research runs without a retrieval index.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	caller, err := clients.NewCaller(ctx, cfg.ModelProvider, cfg.GoogleApiKey, clients.ModelType(cfg.FastModel))
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	engine := research.NewEngine(ResearchConfig(cfg), caller)
	engine.Fetcher = research.NewSourceFetcher(cfg.MistralApiKey)

	a := &App{Config: cfg}

	var st store.Store = store.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool := database.DefaultPoolOptions()
		if cfg.DBMaxConns > 0 {
			pool.MaxConns = int32(cfg.DBMaxConns)
		}
		if cfg.DBMinConns > 0 {
			pool.MinConns = int32(cfg.DBMinConns)
		}
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL, pool)
		if err != nil {
			return nil, err
		}
		a.db = db

		if err := db.InitSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		st = store.NewPostgresStore(db.Pool)

		if err := db.InitVectorSchema(ctx, cfg.CollectionName, embeddings.DefaultDimension); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
		}
		index, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
		if err != nil {
			a.Close()
			return nil, err
		}
		embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
		if err != nil {
			a.Close()
			return nil, err
		}
		engine.WithIndex(embedder, index)
		slog.Info("Using Postgres result store and research index", "collection", cfg.CollectionName)
	}

	a.Orchestrator = pipeline.NewOrchestrator(
		agents.NewBrowserStage(engine),
		agents.NewWriterStage(caller),
		agents.NewPublisherStage(),
	)
	a.Exporter = export.NewFileExporter(cfg.OutputDir)

	a.Service = server.NewService(a.Orchestrator, st, a.Exporter, cfg.BaseURL)
	a.Service.Defaults = server.TaskDefaults{
		Model:            cfg.FastModel,
		Guidelines:       cfg.Guidelines,
		FollowGuidelines: cfg.FollowGuidelines,
		Verbose:          cfg.Verbose,
	}

	return a, nil
}

func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
