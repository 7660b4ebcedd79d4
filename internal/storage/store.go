package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

// ArtifactStore persists generated model files under slash-separated keys
// such as "models/user_42/dream_1700000000.glb".
type ArtifactStore interface {
	// Save streams r to key and returns the canonical key. size may be -1
	// when unknown.
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// ArtifactReader is implemented by stores that can serve artifacts back.
type ArtifactReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

var (
	// ErrArtifactNotFound is returned by Open for an unknown key.
	ErrArtifactNotFound = errors.New("storage: artifact not found")
	// ErrInvalidKey rejects empty keys and keys escaping the root.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
