package images

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes images under a base directory, mirroring the object key
// as a relative path. A small sidecar file remembers the content type.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

func (l *LocalStore) Save(ctx context.Context, objectKey string, data []byte, contentType string) error {
	path, err := l.objectPath(objectKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image %s: %w", objectKey, err)
	}
	if err := os.WriteFile(path+".type", []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("write image metadata %s: %w", objectKey, err)
	}
	return nil
}

func (l *LocalStore) Load(ctx context.Context, objectKey string) ([]byte, string, error) {
	path, err := l.objectPath(objectKey)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image %s: %w", objectKey, err)
	}
	contentType := ""
	if meta, err := os.ReadFile(path + ".type"); err == nil {
		contentType = strings.TrimSpace(string(meta))
	}
	return data, contentType, nil
}

// objectPath rejects keys that would escape the base directory.
func (l *LocalStore) objectPath(objectKey string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(objectKey))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object key %q", objectKey)
	}
	return filepath.Join(l.baseDir, cleaned), nil
}
