// Package storage provides local file storage for uploaded documents.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileInfo represents information about a stored file.
type FileInfo struct {
	Key     string
	Path    string
	Size    int64
	ModTime time.Time
}

// Backend defines the interface for local upload storage.
type Backend interface {
	// Save stores a file under the given key and returns its absolute
	// path on disk.
	Save(ctx context.Context, key string, reader io.Reader, size int64) (string, error)

	// Open retrieves a file.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a file.
	Delete(ctx context.Context, key string) error

	// Exists checks if a file exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Stat returns file information.
	Stat(ctx context.Context, key string) (*FileInfo, error)

	// Close closes the backend.
	Close() error
}

// GenerateKey produces a collision-resistant storage key for an
// upload: timestamp plus random suffix, optionally prefixed with a
// truncated context id, keeping the original extension.
func GenerateKey(contextID, originalName string) string {
	var b strings.Builder
	if contextID != "" {
		prefix := contextID
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		b.WriteString(prefix)
		b.WriteString("-")
	}
	b.WriteString(fmt.Sprintf("%d", time.Now().UnixNano()))
	b.WriteString("-")
	b.WriteString(uuid.NewString()[:8])
	b.WriteString(filepath.Ext(originalName))
	return b.String()
}
