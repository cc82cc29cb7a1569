package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                int
	LogLevel            string
	CaptureDir          string
	MergedDir           string
	NatsURL             string
	NatsToken           string
	DatabaseURL         string
	VectorCollection    string
	EmbeddingDim        int
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingURL        string
	EmbeddingMaxRetries int
	RedisAddr           string
	IndexOnMerge        bool
	MergeDebounce       time.Duration
	APIToken            string
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when one exists.
func Load() Config {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() Config {
	return Config{
		Port:                envInt("RECALL_PORT", 8760),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		CaptureDir:          envStr("CAPTURE_DIR", "./parsed_matches"),
		MergedDir:           envStr("MERGED_DIR", "./merged_conversations"),
		NatsURL:             envStr("NATS_URL", ""),
		NatsToken:           envStr("NATS_TOKEN", ""),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		VectorCollection:    envStr("VECTOR_COLLECTION", "chat_messages"),
		EmbeddingDim:        envInt("EMBEDDING_DIM", 1536),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingURL:        envStr("EMBEDDING_URL", "https://api.openai.com/v1/embeddings"),
		EmbeddingMaxRetries: envInt("EMBEDDING_MAX_RETRIES", 3),
		RedisAddr:           envStr("REDIS_ADDR", ""),
		IndexOnMerge:        envBool("INDEX_ON_MERGE", false),
		MergeDebounce:       envDuration("MERGE_DEBOUNCE", 2*time.Second),
		APIToken:            envStr("RECALL_API_TOKEN", ""),
	}
}

// SearchEnabled reports whether the settings needed to embed and query
// vectors are present.
func (c Config) SearchEnabled() bool {
	return c.DatabaseURL != "" && c.OpenAIAPIKey != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}
