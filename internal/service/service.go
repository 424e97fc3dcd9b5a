// Package service provides the document file service: the write path
// that stores bytes and enqueues replication, and the read path that
// serves them back through the download cache.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuvault/docsync/internal/cache"
	"github.com/docuvault/docsync/internal/common/errors"
	"github.com/docuvault/docsync/internal/common/logger"
	"github.com/docuvault/docsync/internal/record"
	"github.com/docuvault/docsync/internal/storage"
	"github.com/docuvault/docsync/internal/transfer"
)

// Deleter requests deletion of a remote key. *transfer.Client
// satisfies this.
type Deleter interface {
	Delete(ctx context.Context, remoteKey string) (*transfer.TransferResult, error)
}

// Resyncer re-enters a record into the replication queue.
// *replicator.Worker satisfies this.
type Resyncer interface {
	Resync(ctx context.Context, fileID string, resetRetries bool, priority int) error
}

// FileService handles file operations.
type FileService struct {
	storage     storage.Backend
	records     record.Store
	cache       *cache.Cache
	deleter     Deleter
	resyncer    Resyncer
	replication bool
	logger      *zap.Logger
}

// NewFileService creates a FileService. deleter and resyncer may be
// nil when replication is disabled.
func NewFileService(backend storage.Backend, records record.Store, dlCache *cache.Cache, deleter Deleter, resyncer Resyncer, replication bool) *FileService {
	return &FileService{
		storage:     backend,
		records:     records,
		cache:       dlCache,
		deleter:     deleter,
		resyncer:    resyncer,
		replication: replication,
		logger:      logger.WithComponent("FileService"),
	}
}

// UploadRequest represents a file upload request.
type UploadRequest struct {
	Name      string
	Size      int64
	Content   io.Reader
	MimeType  string
	OwnerID   string
	KeepLocal bool
	Priority  int
}

// UploadResponse represents a file upload response.
type UploadResponse struct {
	FileID     string    `json:"file_id"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	Version    int64     `json:"version"`
	SyncStatus string    `json:"sync_status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Upload stores the bytes locally and enqueues replication.
func (s *FileService) Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error) {
	const op = "FileService.Upload"

	if req.Name == "" || req.Content == nil {
		return nil, errors.E(op, errors.ErrInvalidInput, nil, "name and content are required")
	}

	fileID := uuid.New().String()
	key := storage.GenerateKey(req.OwnerID, req.Name)

	s.logger.Info("uploading file",
		zap.String("file_id", fileID),
		zap.String("name", req.Name),
		zap.Int64("size", req.Size),
	)

	// Calculate checksum while storing
	hashReader := newHashingReader(req.Content)

	localPath, err := s.storage.Save(ctx, key, hashReader, req.Size)
	if err != nil {
		s.logger.Error("failed to store file", zap.Error(err))
		return nil, errors.Wrap(op, err)
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(req.Name))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
	}

	rec := record.NewFileRecord(fileID, req.Name, localPath)
	rec.Size = req.Size
	rec.Checksum = hashReader.Checksum()
	rec.MimeType = mimeType
	rec.OwnerID = req.OwnerID
	rec.KeepLocal = req.KeepLocal
	rec.Priority = record.ClampPriority(req.Priority)
	if !s.replication {
		// Without replication the local copy is the only copy.
		rec.KeepLocal = true
	}
	rec.RemotePath = remoteKeyFor(rec.CreatedAt, key)

	if err := s.records.Save(ctx, rec); err != nil {
		// Try to clean up the stored file
		_ = s.storage.Delete(ctx, key)
		s.logger.Error("failed to save record", zap.Error(err))
		return nil, errors.Wrap(op, err)
	}

	s.logger.Info("file uploaded",
		zap.String("file_id", fileID),
		zap.String("checksum", rec.Checksum),
		zap.String("sync_status", string(rec.SyncStatus)),
	)

	return &UploadResponse{
		FileID:     fileID,
		Size:       req.Size,
		Checksum:   rec.Checksum,
		Version:    rec.Version,
		SyncStatus: string(rec.SyncStatus),
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// Replace swaps a file's content for new bytes. The version is bumped
// and the record re-enters the replication queue; the previous version
// stays cached until its entry expires.
func (s *FileService) Replace(ctx context.Context, fileID string, req *UploadRequest) (*UploadResponse, error) {
	const op = "FileService.Replace"

	if req.Name == "" || req.Content == nil {
		return nil, errors.E(op, errors.ErrInvalidInput, nil, "name and content are required")
	}

	rec, err := s.records.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !rec.Active {
		return nil, errors.E(op, errors.ErrNotFound, nil, fileID)
	}
	if rec.SyncStatus == record.StatusSyncing {
		return nil, errors.E(op, errors.ErrSyncInProgress, nil, fileID)
	}

	key := storage.GenerateKey(rec.OwnerID, req.Name)
	hashReader := newHashingReader(req.Content)

	localPath, err := s.storage.Save(ctx, key, hashReader, req.Size)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}

	oldPath := rec.LocalPath
	rec.Name = req.Name
	rec.Size = req.Size
	rec.Checksum = hashReader.Checksum()
	rec.LocalPath = localPath
	rec.StorageProvider = record.ProviderLocal
	rec.RemotePath = remoteKeyFor(rec.CreatedAt, key)
	if req.MimeType != "" {
		rec.MimeType = req.MimeType
	}
	rec.BumpVersion()

	if err := s.records.Save(ctx, rec); err != nil {
		_ = s.storage.Delete(ctx, key)
		return nil, errors.Wrap(op, err)
	}

	if oldPath != "" && oldPath != localPath {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove replaced bytes",
				zap.String("file_id", fileID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("file content replaced",
		zap.String("file_id", fileID),
		zap.Int64("version", rec.Version),
		zap.String("checksum", rec.Checksum),
	)

	return &UploadResponse{
		FileID:     fileID,
		Size:       req.Size,
		Checksum:   rec.Checksum,
		Version:    rec.Version,
		SyncStatus: string(rec.SyncStatus),
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// ReadResponse represents a file read response.
type ReadResponse struct {
	Content io.ReadCloser
	Record  *record.FileRecord
}

// Read serves a file's bytes: local storage while the local copy is
// kept, the download cache otherwise. A file whose replication FAILED
// is still served locally when possible; without a local copy it is
// unavailable rather than partial.
func (s *FileService) Read(ctx context.Context, fileID string) (*ReadResponse, error) {
	const op = "FileService.Read"

	rec, err := s.records.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !rec.Active {
		return nil, errors.E(op, errors.ErrNotFound, nil, fileID)
	}

	path, err := s.cache.Read(ctx, rec)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.E(op, errors.ErrNotFound, err, fileID)
	}

	return &ReadResponse{Content: f, Record: rec}, nil
}

// GetMetadata retrieves a file record.
func (s *FileService) GetMetadata(ctx context.Context, fileID string) (*record.FileRecord, error) {
	return s.records.Get(ctx, fileID)
}

// Delete logically removes a file. Local bytes are deleted; remote
// deletion is best-effort and logged on failure.
func (s *FileService) Delete(ctx context.Context, fileID string) error {
	const op = "FileService.Delete"

	rec, err := s.records.Get(ctx, fileID)
	if err != nil {
		return err
	}

	if err := s.records.Deactivate(ctx, fileID); err != nil {
		return err
	}

	if rec.LocalPath != "" {
		if err := os.Remove(rec.LocalPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete local bytes",
				zap.String("file_id", fileID),
				zap.Error(err),
			)
		}
	}

	if rec.SyncStatus == record.StatusSynced && s.deleter != nil {
		if _, err := s.deleter.Delete(ctx, rec.RemotePath); err != nil {
			s.logger.Warn("remote delete failed",
				zap.String("file_id", fileID),
				zap.String("remote_path", rec.RemotePath),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("file deleted", zap.String("file_id", fileID))
	return nil
}

// Resync queues a record for replication again.
func (s *FileService) Resync(ctx context.Context, fileID string, resetRetries bool, priority int) error {
	if s.resyncer == nil {
		return errors.E("FileService.Resync", errors.ErrRemoteNotSet, nil, "replication disabled")
	}
	return s.resyncer.Resync(ctx, fileID, resetRetries, priority)
}

// Status returns the aggregate replication queue status.
func (s *FileService) Status(ctx context.Context) (*record.QueueSummary, error) {
	return s.records.Summary(ctx)
}

// remoteKeyFor derives the remote destination key for an upload:
// year/month prefix plus the storage key.
func remoteKeyFor(createdAt time.Time, key string) string {
	return createdAt.UTC().Format("2006/01") + "/" + key
}

// hashingReader wraps a reader to compute a checksum while reading.
type hashingReader struct {
	reader io.Reader
	hasher hash.Hash
}

func newHashingReader(r io.Reader) *hashingReader {
	h := sha256.New()
	return &hashingReader{
		reader: io.TeeReader(r, h),
		hasher: h,
	}
}

func (h *hashingReader) Read(p []byte) (n int, err error) {
	return h.reader.Read(p)
}

func (h *hashingReader) Checksum() string {
	return hex.EncodeToString(h.hasher.Sum(nil))
}

var _ io.Reader = (*hashingReader)(nil)
