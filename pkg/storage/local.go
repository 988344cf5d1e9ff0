package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore implements Store on the local filesystem. Files are grouped per
// user and prefixed with a fresh UUID so uploads never collide.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Save writes the upload to disk and returns its path relative to the base.
func (s *LocalStore) Save(_ context.Context, userID uuid.UUID, filename string, r io.Reader) (string, int64, error) {
	userDir := filepath.Join(s.basePath, userID.String())
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create user directory: %w", err)
	}

	stored := uuid.NewString()[:8] + "_" + sanitizeFilename(filename)
	rel := filepath.Join(userID.String(), stored)
	full := filepath.Join(s.basePath, rel)

	f, err := os.Create(full)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(full)
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}

	return rel, size, nil
}

// Open returns a reader for the stored file.
func (s *LocalStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	full := filepath.Join(s.basePath, filepath.Clean(path))
	if !strings.HasPrefix(full, filepath.Clean(s.basePath)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("invalid storage path %q", path)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("failed to open stored file: %w", err)
	}
	return f, nil
}

// Delete removes the stored file.
func (s *LocalStore) Delete(_ context.Context, path string) error {
	full := filepath.Join(s.basePath, filepath.Clean(path))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete stored file: %w", err)
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" || name == "." {
		name = "upload"
	}
	return name
}
