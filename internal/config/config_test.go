package config

import (
	"strings"
	"testing"
)

func TestLoadFailsWithoutToken(t *testing.T) {
	t.Setenv(EnvModelToken, "")
	t.Setenv(EnvModelTokenAlt, "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error when no token is configured")
	}
	if !strings.Contains(err.Error(), EnvModelToken) {
		t.Fatalf("error should name the expected variables, got: %v", err)
	}
}

func TestLoadPrimaryTokenWins(t *testing.T) {
	t.Setenv(EnvModelToken, "primary")
	t.Setenv(EnvModelTokenAlt, "secondary")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ModelToken != "primary" {
		t.Fatalf("ModelToken = %q, want %q", cfg.ModelToken, "primary")
	}
}

func TestLoadAlternateTokenAccepted(t *testing.T) {
	t.Setenv(EnvModelToken, "")
	t.Setenv(EnvModelTokenAlt, "secondary")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ModelToken != "secondary" {
		t.Fatalf("ModelToken = %q, want %q", cfg.ModelToken, "secondary")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvModelToken, "tok")
	t.Setenv(EnvImageModel, "")
	t.Setenv(EnvEmbeddingModel, "")
	t.Setenv(EnvAssetDir, "")
	t.Setenv(EnvPort, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ImageModel != DefaultImageModel {
		t.Fatalf("ImageModel = %q, want default", cfg.ImageModel)
	}
	if cfg.EmbeddingModel != DefaultEmbeddingModel {
		t.Fatalf("EmbeddingModel = %q, want default", cfg.EmbeddingModel)
	}
	if cfg.AssetDir != DefaultAssetDir {
		t.Fatalf("AssetDir = %q, want default", cfg.AssetDir)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("Port = %q, want default", cfg.Port)
	}
}
