// Package cache provides a time-bounded local cache of fetched file
// bytes, with per-key locking so at most one remote fetch is in flight
// for any (fileId, version) at a time.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docuvault/docsync/internal/common/errors"
	"github.com/docuvault/docsync/internal/common/logger"
	"github.com/docuvault/docsync/internal/record"
	"github.com/docuvault/docsync/internal/transfer"
)

// Downloader fetches a remote key into a local destination file.
// *transfer.Client satisfies this.
type Downloader interface {
	Download(ctx context.Context, remoteKey, localPath string) (*transfer.TransferResult, error)
}

// Config holds download cache configuration.
type Config struct {
	Dir           string
	TTL           time.Duration
	SweepInterval time.Duration
	LockWait      time.Duration
}

// Entry is ephemeral, derived cache metadata; never authoritative.
type Entry struct {
	Key          string
	Path         string
	Size         int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessed time.Time
	HitCount     int
}

// fetchLock is the mutual-exclusion token for one cache key. Waiters
// block on done and then observe the first caller's outcome.
type fetchLock struct {
	done chan struct{}
	path string
	err  error
}

// Cache serves repeated reads of the same file version from local disk.
type Cache struct {
	cfg        Config
	downloader Downloader
	log        *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	locks   map[string]*fetchLock

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Key computes the deterministic cache key for a file version.
func Key(fileID string, version int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", fileID, version)))
	return hex.EncodeToString(sum[:])
}

// New creates a Cache rooted at cfg.Dir and reconciles any files left
// by a previous process, so cache state survives restarts (hit
// counters are lost).
func New(cfg Config, downloader Downloader) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 2 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &Cache{
		cfg:        cfg,
		downloader: downloader,
		log:        logger.WithComponent("DownloadCache"),
		entries:    make(map[string]*Entry),
		locks:      make(map[string]*fetchLock),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	if err := c.reconcile(); err != nil {
		return nil, err
	}
	return c, nil
}

// Start starts the periodic expiry sweep.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.runSweep()
}

// Stop stops the sweep loop.
func (c *Cache) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Read returns a local path holding the record's bytes.
//
// Reads of locally kept files are served straight from local storage.
// Remote-only files go through the cache: a live entry is a hit with a
// refreshed sliding TTL; on a miss exactly one caller fetches while
// concurrent callers wait on the fetch lock and share its outcome.
func (c *Cache) Read(ctx context.Context, rec *record.FileRecord) (string, error) {
	const op = "DownloadCache.Read"

	if rec.LocalPath != "" && (rec.StorageProvider == record.ProviderLocal || rec.KeepLocal) {
		if _, err := os.Stat(rec.LocalPath); err == nil {
			return rec.LocalPath, nil
		}
		// Local bytes promised but missing; fall through to remote.
	}

	if rec.RemotePath == "" || rec.SyncStatus != record.StatusSynced {
		return "", errors.E(op, errors.ErrUnavailable, nil, rec.ID)
	}

	key := Key(rec.ID, rec.Version)

	if path, ok := c.hit(key); ok {
		return path, nil
	}

	lock, acquired := c.acquire(key)
	if acquired {
		return c.fetch(ctx, key, rec, lock)
	}

	// Another fetch is in flight for this key; wait for its outcome.
	select {
	case <-lock.done:
		if lock.err != nil {
			return "", lock.err
		}
		return lock.path, nil
	case <-time.After(c.cfg.LockWait):
		c.log.Warn("lock wait timed out, falling back to own fetch",
			zap.String("cache_key", key),
			zap.String("file_id", rec.ID),
		)
	case <-ctx.Done():
		return "", errors.Wrap(op, ctx.Err())
	}

	// Lock-wait timeout is recoverable: treat it as a fresh miss and
	// fetch without joining the stuck lock.
	return c.fetchUnlocked(ctx, key, rec)
}

// Hit metadata for a key, refreshing the sliding TTL. An entry whose
// backing file is missing is treated as absent regardless of its
// timestamps.
func (c *Cache) hit(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}

	now := c.now()
	if now.After(entry.ExpiresAt) {
		return "", false
	}
	if _, err := os.Stat(entry.Path); err != nil {
		delete(c.entries, key)
		return "", false
	}

	entry.ExpiresAt = now.Add(c.cfg.TTL)
	entry.LastAccessed = now
	entry.HitCount++
	return entry.Path, true
}

// acquire returns the fetch lock for a key. The boolean reports
// whether the caller created it and is therefore the sole fetcher.
func (c *Cache) acquire(key string) (*fetchLock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if lock, ok := c.locks[key]; ok {
		return lock, false
	}
	lock := &fetchLock{done: make(chan struct{})}
	c.locks[key] = lock
	return lock, true
}

// fetch performs the remote fetch as the lock holder, then releases
// the lock with the result so all waiters observe the same outcome.
func (c *Cache) fetch(ctx context.Context, key string, rec *record.FileRecord, lock *fetchLock) (string, error) {
	path, err := c.download(ctx, key, rec)

	c.mu.Lock()
	lock.path = path
	lock.err = err
	delete(c.locks, key)
	c.mu.Unlock()
	close(lock.done)

	return path, err
}

// fetchUnlocked performs a private fetch after a lock-wait timeout.
func (c *Cache) fetchUnlocked(ctx context.Context, key string, rec *record.FileRecord) (string, error) {
	return c.download(ctx, key, rec)
}

// download pulls remote bytes into a fresh cache file and registers
// the entry. Zero-byte artifacts are an integrity failure: discarded,
// never cached, never returned.
func (c *Cache) download(ctx context.Context, key string, rec *record.FileRecord) (string, error) {
	const op = "DownloadCache.download"

	if c.downloader == nil {
		return "", errors.E(op, errors.ErrRemoteNotSet, nil, "no remote configured")
	}

	now := c.now()
	dst := filepath.Join(c.cfg.Dir, fmt.Sprintf("%s-%d", key, now.UnixNano()))

	result, err := c.downloader.Download(ctx, rec.RemotePath, dst)
	if err != nil {
		os.Remove(dst)
		return "", err
	}
	if result.Bytes == 0 {
		os.Remove(dst)
		c.log.Error("fetched artifact is empty, discarding",
			zap.String("file_id", rec.ID),
			zap.Int64("version", rec.Version),
		)
		return "", errors.E(op, errors.ErrIntegrity, nil, "zero-byte artifact")
	}

	entry := &Entry{
		Key:          key,
		Path:         dst,
		Size:         result.Bytes,
		CreatedAt:    now,
		ExpiresAt:    now.Add(c.cfg.TTL),
		LastAccessed: now,
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()

	c.log.Debug("cached remote fetch",
		zap.String("cache_key", key),
		zap.Int64("bytes", result.Bytes),
	)
	return dst, nil
}

// runSweep periodically evicts expired entries.
func (c *Cache) runSweep() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes entries past their expiry, deleting backing files.
// A failure to delete one backing file does not block eviction of
// others.
func (c *Cache) sweep() {
	now := c.now()

	c.mu.Lock()
	var expired []*Entry
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expired = append(expired, entry)
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for _, entry := range expired {
		if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
			c.log.Warn("failed to delete evicted cache file",
				zap.String("path", entry.Path),
				zap.Error(err),
			)
		}
	}

	if len(expired) > 0 {
		c.log.Debug("cache sweep", zap.Int("evicted", len(expired)))
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// reconcile rebuilds entry metadata from files already in the cache
// directory, using file timestamps. Only complete cache artifacts are
// registered: names must carry the <key>-<timestamp> shape, so staging
// leftovers from an interrupted fetch are never served as hits, and
// zero-byte files are discarded under the same integrity rule the
// fetch path enforces.
func (c *Cache) reconcile() error {
	files, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return err
	}

	restored := 0
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		i := strings.LastIndexByte(name, '-')
		if i <= 0 || !allDigits(name[i+1:]) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.Size() == 0 {
			os.Remove(filepath.Join(c.cfg.Dir, name))
			c.log.Warn("discarded empty cache artifact", zap.String("name", name))
			continue
		}

		key := name[:i]
		c.entries[key] = &Entry{
			Key:          key,
			Path:         filepath.Join(c.cfg.Dir, name),
			Size:         info.Size(),
			CreatedAt:    info.ModTime(),
			ExpiresAt:    info.ModTime().Add(c.cfg.TTL),
			LastAccessed: info.ModTime(),
		}
		restored++
	}

	if restored > 0 {
		c.log.Info("reconciled cache directory", zap.Int("entries", restored))
	}
	return nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
