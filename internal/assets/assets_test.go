package assets

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveBase64WritesFile(t *testing.T) {
	store := NewStore(t.TempDir())

	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	path := store.SaveBase64(payload, "hero.png")
	if path == "" {
		t.Fatalf("expected a path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("content = %q", data)
	}
}

func TestSaveBase64InvalidPayload(t *testing.T) {
	store := NewStore(t.TempDir())
	if path := store.SaveBase64("not base64!!!", "x.png"); path != "" {
		t.Fatalf("expected empty path, got %q", path)
	}
}

func TestSaveBase64FlattensTraversal(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	payload := base64.StdEncoding.EncodeToString([]byte("x"))
	path := store.SaveBase64(payload, "../../evil.png")
	if path == "" {
		t.Fatalf("expected a path")
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("asset escaped base dir: %s", path)
	}
}
