// Package config loads and validates SiteSmith environment configuration.
//
// The model API token is the only mandatory setting. It is validated at
// construction time so a misconfigured deployment fails before any
// generation pipeline can start.
package config

import (
	"fmt"
	"os"
)

// Environment variable names. The model token is accepted under two names;
// the first one present wins.
const (
	EnvModelToken    = "HF_TOKEN"
	EnvModelTokenAlt = "HUGGINGFACE_API_KEY"

	EnvImageModel     = "IMAGE_MODEL"
	EnvEmbeddingModel = "EMBEDDING_MODEL_NAME"
	EnvAssetDir       = "ASSET_DIR"
	EnvVectorDBPath   = "VECTOR_DB_PATH"
	EnvRedisURL       = "REDIS_URL"
	EnvPort           = "PORT"
)

// Defaults for optional settings.
const (
	DefaultImageModel     = "black-forest-labs/FLUX.1-schnell"
	DefaultEmbeddingModel = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultAssetDir       = "./assets"
	DefaultVectorDBPath   = "./sitesmith.db"
	DefaultPort           = "8080"
)

// Config holds validated runtime configuration.
type Config struct {
	// ModelToken authenticates every model, image and embedding call.
	ModelToken string

	ImageModel     string
	EmbeddingModel string
	AssetDir       string
	VectorDBPath   string

	// RedisURL enables the Redis checkpoint store when set.
	RedisURL string

	Port string
}

// Load reads configuration from the environment. A missing model token is a
// fatal configuration error, surfaced here and never retried.
func Load() (*Config, error) {
	token := os.Getenv(EnvModelToken)
	if token == "" {
		token = os.Getenv(EnvModelTokenAlt)
	}
	if token == "" {
		return nil, fmt.Errorf("model API token not found: set %s or %s", EnvModelToken, EnvModelTokenAlt)
	}

	return &Config{
		ModelToken:     token,
		ImageModel:     getEnvOrDefault(EnvImageModel, DefaultImageModel),
		EmbeddingModel: getEnvOrDefault(EnvEmbeddingModel, DefaultEmbeddingModel),
		AssetDir:       getEnvOrDefault(EnvAssetDir, DefaultAssetDir),
		VectorDBPath:   getEnvOrDefault(EnvVectorDBPath, DefaultVectorDBPath),
		RedisURL:       os.Getenv(EnvRedisURL),
		Port:           getEnvOrDefault(EnvPort, DefaultPort),
	}, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
