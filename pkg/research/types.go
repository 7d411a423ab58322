package research

import (
	"context"
	"sync"

	"github.com/mikeboe/research-reporter/pkg/research/tools"
	"github.com/mikeboe/research-reporter/pkg/vectorstore"
)

// Config holds runtime configuration
type Config struct {
	Model           string
	MaxIterations   int
	QueriesPerRound int
	ResultsPerQuery int
	MinRelevance    int
	ChunkSize       int
	ChunkOverlap    int
	ContextTopK     int
	MaxContextChars int
	Concurrency     int

	// PricePerMillionTokens converts token usage into Result.Costs.
	PricePerMillionTokens float64
}

// DefaultConfig mirrors the settings the engine was tuned with.
func DefaultConfig() Config {
	return Config{
		MaxIterations:   5,
		QueriesPerRound: 3,
		ResultsPerQuery: 2,
		MinRelevance:    7,
		ChunkSize:       1000,
		ChunkOverlap:    200,
		ContextTopK:     12,
		MaxContextChars: 24000,
		Concurrency:     3,

		PricePerMillionTokens: 0.30,
	}
}

// Request describes what to research.
type Request struct {
	ResearchID string
	Query      string
	Model      string
	Language   string
	Tone       string
}

// Result is what a research run hands to the writing stages.
type Result struct {
	Report      string   `json:"report"`
	Context     []string `json:"context"`
	SourceURLs  []string `json:"source_urls"`
	VisitedURLs []string `json:"visited_urls"`
	Tokens      int      `json:"tokens"`
	Costs       float64  `json:"costs"`
	Images      []string `json:"images"`
}

// Searcher finds candidate sources for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]tools.Hit, error)
}

// Fetcher returns the full text behind a source URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Embedder turns text into vectors for the retrieval index.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Index stores and retrieves source chunks.
type Index interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, filter map[string]interface{}) ([]vectorstore.SimilaritySearchResult, error)
}

// costOf prices a token count in USD.
func (c Config) costOf(tokens int) float64 {
	return float64(tokens) * c.PricePerMillionTokens / 1e6
}

// runState tracks the progress of one research run.
type runState struct {
	Topic            string
	ProcessedURLs    map[string]bool
	AccumulatedFacts []string
	SourceURLs       []string
	VisitedURLs      []string
	Iteration        int
	MaxIterations    int
	Tokens           int
	Mu               sync.Mutex // For thread-safe updates during scraping
}

func (s *runState) addTokens(n int) {
	s.Mu.Lock()
	s.Tokens += n
	s.Mu.Unlock()
}
