// Package assets persists generated image payloads to local disk.
// Writes are strictly best-effort: any failure yields an empty path and the
// caller falls back to inlining the payload as a data URI.
package assets

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sitesmith/internal/logging"
)

// Store writes assets under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates the asset directory if needed. A directory that cannot
// be created still returns a usable store; saves will simply fail soft.
func NewStore(baseDir string) *Store {
	if baseDir == "" {
		baseDir = "./assets"
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		logging.L().Warn("asset directory unavailable", zap.String("dir", baseDir), zap.Error(err))
	}
	return &Store{baseDir: baseDir}
}

// SaveBase64 decodes and writes a base64 payload, returning the file path
// or "" on any failure. Filenames are flattened to their base to keep
// writes inside the asset directory.
func (s *Store) SaveBase64(b64, filename string) string {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		logging.L().Warn("asset payload not valid base64", zap.String("file", filename), zap.Error(err))
		return ""
	}

	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return ""
	}

	path := filepath.Join(s.baseDir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		logging.L().Warn("asset write failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}
