package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	GoogleApiKey   string
	MistralApiKey  string
	DatabaseURL    string
	DBMaxConns     int
	DBMinConns     int
	ModelProvider  string
	ReasoningModel string
	FastModel      string
	EmbeddingModel string
	Port           string
	BaseURL        string
	OutputDir      string
	AllowedOrigins []string

	ChunkSize       int
	ChunkOverlap    int
	CollectionName  string
	MaxIterations   int
	ContextTopK     int
	MaxContextChars int

	PricePerMillionTokens float64

	FollowGuidelines bool
	Guidelines       string
	Verbose          bool
}

// Load reads .env (when present) and the environment.
func Load() *Config {
	_ = godotenv.Load()

	port := getEnv("PORT", "8000")

	return &Config{
		GoogleApiKey:   getEnv("GOOGLE_API_KEY", ""),
		MistralApiKey:  getEnv("MISTRAL_API_KEY", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxConns:     getEnvAsInt("DB_MAX_CONNS", 0),
		DBMinConns:     getEnvAsInt("DB_MIN_CONNS", 0),
		ModelProvider:  getEnv("MODEL_PROVIDER", "langchain"),
		ReasoningModel: getEnv("REASONING_MODEL", "gemini-3-pro-preview"),
		FastModel:      getEnv("FAST_MODEL", "gemini-3-flash-preview"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "gemini-embedding-001"),
		Port:           port,
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:"+port), "/"),
		OutputDir:      getEnv("OUTPUT_DIR", "outputs"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),

		ChunkSize:       getEnvAsInt("CHUNK_SIZE", 1000),
		ChunkOverlap:    getEnvAsInt("CHUNK_OVERLAP", 200),
		CollectionName:  getEnv("COLLECTION_NAME", "research_chunks"),
		MaxIterations:   getEnvAsInt("MAX_ITERATIONS", 5),
		ContextTopK:     getEnvAsInt("CONTEXT_TOP_K", 12),
		MaxContextChars: getEnvAsInt("MAX_CONTEXT_CHARS", 24000),

		PricePerMillionTokens: getEnvAsFloat("PRICE_PER_MILLION_TOKENS", 0.30),

		FollowGuidelines: getEnvAsBool("FOLLOW_GUIDELINES", false),
		Guidelines:       getEnv("GUIDELINES", ""),
		Verbose:          getEnvAsBool("VERBOSE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
