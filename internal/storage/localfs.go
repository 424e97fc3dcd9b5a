package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docuvault/docsync/internal/common/errors"
)

// LocalFS implements Backend using the local file system.
type LocalFS struct {
	basePath string
	tempPath string
}

// NewLocalFS creates a LocalFS rooted at basePath.
func NewLocalFS(basePath string) (*LocalFS, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	tempPath := filepath.Join(basePath, ".temp")
	if err := os.MkdirAll(tempPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &LocalFS{
		basePath: basePath,
		tempPath: tempPath,
	}, nil
}

// Save stores a file. Bytes land in a temp file first and are renamed
// into place, so a failed write never leaves a partial file at the
// final path.
func (b *LocalFS) Save(ctx context.Context, key string, reader io.Reader, size int64) (string, error) {
	filePath := b.keyToPath(key)

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(b.tempPath, "upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // Clean up temp file on failure

	written, err := io.Copy(tempFile, reader)
	if err != nil {
		tempFile.Close()
		return "", fmt.Errorf("failed to write data: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if size > 0 && written != size {
		return "", fmt.Errorf("size mismatch: expected %d, got %d", size, written)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		return "", fmt.Errorf("failed to move file: %w", err)
	}

	return filePath, nil
}

// Open retrieves a file.
func (b *LocalFS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(b.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a file.
func (b *LocalFS) Delete(ctx context.Context, key string) error {
	if err := os.Remove(b.keyToPath(key)); err != nil {
		if os.IsNotExist(err) {
			return errors.ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks if a file exists.
func (b *LocalFS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(b.keyToPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns file information.
func (b *LocalFS) Stat(ctx context.Context, key string) (*FileInfo, error) {
	path := b.keyToPath(key)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}

	return &FileInfo{
		Key:     key,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Close closes the backend.
func (b *LocalFS) Close() error {
	return nil // Nothing to close for local filesystem
}

// keyToPath converts a storage key to a file path.
// Uses a two-level directory structure based on key hash.
func (b *LocalFS) keyToPath(key string) string {
	hash := sha256.Sum256([]byte(key))
	hashStr := hex.EncodeToString(hash[:])

	return filepath.Join(b.basePath, hashStr[:2], hashStr[2:4], key)
}

// ComputeChecksum computes the SHA-256 checksum of a stream.
func ComputeChecksum(reader io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
