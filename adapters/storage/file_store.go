package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
)

// FileStore implements ObjectStorage on a local directory
type FileStore struct {
	root    string
	baseURL string
	logger  *zap.Logger
}

// Ensure FileStore implements the ObjectStorage interface
var _ repositories.ObjectStorage = (*FileStore)(nil)

// NewFileStore creates the root directory if needed
func NewFileStore(root, baseURL string, logger *zap.Logger) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	logger.Info("Using local file storage", zap.String("root", abs))
	return &FileStore{root: abs, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}, nil
}

// resolve maps a slash-separated object path into the root, rejecting
// anything that would escape it
func (s *FileStore) resolve(objectPath string) (string, error) {
	if objectPath == "" || strings.Contains(objectPath, "\\") || strings.ContainsRune(objectPath, 0) {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}
	clean := path.Clean("/" + objectPath)
	if clean == "/" || clean != "/"+strings.TrimPrefix(objectPath, "/") {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Upload implements repositories.ObjectStorage. The file is written
// under a temporary name and renamed into place.
func (s *FileStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(objectPath)
	if err != nil {
		return &entities.StorageError{Op: "upload", Path: objectPath, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &entities.StorageError{Op: "upload", Path: objectPath, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return &entities.StorageError{Op: "upload", Path: objectPath, Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &entities.StorageError{Op: "upload", Path: objectPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &entities.StorageError{Op: "upload", Path: objectPath, Err: err}
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return &entities.StorageError{Op: "upload", Path: objectPath, Err: err}
	}

	s.logger.Debug("Stored object",
		zap.String("path", objectPath),
		zap.String("contentType", contentType),
		zap.Int("size", len(data)))
	return nil
}

// Download implements repositories.ObjectStorage
func (s *FileStore) Download(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(objectPath)
	if err != nil {
		return nil, &entities.StorageError{Op: "download", Path: objectPath, Err: err}
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = entities.ErrNotFound
		}
		return nil, &entities.StorageError{Op: "download", Path: objectPath, Err: err}
	}
	return data, nil
}

// PublicURL implements repositories.ObjectStorage
func (s *FileStore) PublicURL(objectPath string) string {
	return s.baseURL + "/" + strings.TrimLeft(objectPath, "/")
}
