package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Redis / queue
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Gemini
	GeminiAPIKey        string
	GeminiModel         string
	GeminiTier          string
	EmbeddingsModel     string
	VectorDimensions    int
	LLMTimeout          time.Duration
	LLMFormatRetries    int

	// Research pipeline
	MaxPapers        int // hard ceiling on papers per job
	DefaultPapers    int
	MaxChunkSize     int
	ChunkOverlap     int
	MinChunkSize     int
	ArxivBaseURL     string
	ArxivTimeout     time.Duration
	ArxivDelay       time.Duration
	StageTimeout     time.Duration
	MaxPairChecks    int // cap on pairwise contradiction LLM calls per job
	JobTTL           time.Duration

	// Storage
	FileStorageDir string

	// API rate limiting
	RateLimitReqs   int
	RateLimitWindow int
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/research_insight"),
		DBName:      getEnv("DB_NAME", "research_insight"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:       getEnv("GEMINI_TIER", "free"),
		EmbeddingsModel:  getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions: getEnvInt("VECTOR_DIM", 768),
		LLMTimeout:       getEnvDuration("LLM_TIMEOUT", 2*time.Minute),
		LLMFormatRetries: getEnvInt("LLM_FORMAT_RETRIES", 1),

		MaxPapers:     getEnvInt("MAX_PAPERS", 10),
		DefaultPapers: getEnvInt("DEFAULT_PAPERS", 5),
		MaxChunkSize:  getEnvInt("MAX_CHUNK_SIZE", 700),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 100),
		MinChunkSize:  getEnvInt("MIN_CHUNK_SIZE", 50),
		ArxivBaseURL:  getEnv("ARXIV_BASE_URL", "http://export.arxiv.org/api/query"),
		ArxivTimeout:  getEnvDuration("ARXIV_TIMEOUT", 30*time.Second),
		ArxivDelay:    getEnvDuration("ARXIV_RATE_LIMIT_DELAY", 3*time.Second),
		StageTimeout:  getEnvDuration("STAGE_TIMEOUT", 10*time.Minute),
		MaxPairChecks: getEnvInt("MAX_PAIR_CHECKS", 6),
		JobTTL:        getEnvDuration("JOB_TTL", 24*time.Hour),

		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.ChunkOverlap >= cfg.MaxChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than MAX_CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.MaxChunkSize)
	}

	return cfg, nil
}

// JobDir is the root of all persisted artifacts for one job.
func (c *Config) JobDir(jobID string) string {
	return filepath.Join(c.FileStorageDir, "jobs", jobID)
}

// JobPDFDir holds the write-once cached raw PDFs for a job.
func (c *Config) JobPDFDir(jobID string) string {
	return filepath.Join(c.JobDir(jobID), "pdfs")
}

// JobIndexDir holds the vector index snapshot for a job.
func (c *Config) JobIndexDir(jobID string) string {
	return filepath.Join(c.JobDir(jobID), "index")
}

// JobOutputDir holds the rendered report artifacts for a job.
func (c *Config) JobOutputDir(jobID string) string {
	return filepath.Join(c.JobDir(jobID), "outputs")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
