package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists processed images and returns a caller-visible reference
// (a URL path or object URL) for the task's result_ref.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// LocalStore writes artifacts under a directory served by the HTTP layer.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates a disk-backed artifact store, creating the
// directory if needed
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Save writes the artifact under a unique filename and returns its URL path
func (s *LocalStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	filename := uniqueName(name)
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return s.baseURL + "/" + filename, nil
}

// Dir returns the backing directory, used by the file-serving route.
func (s *LocalStore) Dir() string {
	return s.dir
}

// uniqueName prefixes the original name with a timestamp and a short random
// id so concurrent saves never collide and names stay sortable by time.
func uniqueName(name string) string {
	base := filepath.Base(name)
	if base == "" || base == "." {
		base = "artifact.png"
	}
	stamp := time.Now().Format("20060102_150405")
	short := uuid.New().String()[:8]
	return fmt.Sprintf("%s_%s_%s", stamp, short, base)
}
