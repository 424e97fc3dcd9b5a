// Package record provides persistent file metadata storage using BadgerDB.
package record

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/docuvault/docsync/internal/common/errors"
	"github.com/docuvault/docsync/internal/common/logger"
)

// Store provides file record storage operations.
type Store interface {
	// Get retrieves a record by ID.
	Get(ctx context.Context, fileID string) (*FileRecord, error)

	// Save saves or updates a record.
	Save(ctx context.Context, rec *FileRecord) error

	// Deactivate logically removes a record. It refuses while a
	// transfer is in flight for the record.
	Deactivate(ctx context.Context, fileID string) error

	// ListPending lists records eligible for replication at the given
	// time, ordered by (priority desc, createdAt asc) when
	// priorityFirst is set, else by createdAt asc.
	ListPending(ctx context.Context, limit, maxRetries int, priorityFirst bool, now time.Time) ([]*FileRecord, error)

	// ListByStatus lists records in the given sync status.
	ListByStatus(ctx context.Context, status SyncStatus, limit int) ([]*FileRecord, error)

	// Claim atomically transitions a PENDING record to SYNCING and
	// stamps the attempt time. This is the exclusivity point: a record
	// already SYNCING is never claimed twice.
	Claim(ctx context.Context, fileID string, now time.Time) (*FileRecord, error)

	// RequeueStale demotes SYNCING records whose claim is older than
	// the threshold back to PENDING. Used at worker startup to recover
	// claims orphaned by a crash.
	RequeueStale(ctx context.Context, olderThan time.Duration, now time.Time) (int, error)

	// Summary returns aggregate counts per sync status.
	Summary(ctx context.Context) (*QueueSummary, error)

	// Close closes the store.
	Close() error
}

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// Key prefixes for different indexes.
const (
	prefixFile   = "files:"  // files:<file_id> -> record
	prefixStatus = "status:" // status:<sync_status>:<prio>:<created>:<file_id> -> ""
)

// NewBadgerStore creates a new BadgerStore.
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable badger's default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	logger.L().Info("BadgerDB opened")

	return &BadgerStore{db: db}, nil
}

// Get retrieves a record by ID.
func (s *BadgerStore) Get(ctx context.Context, fileID string) (*FileRecord, error) {
	var rec *FileRecord

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Save saves or updates a record, keeping the status index in step.
func (s *BadgerStore) Save(ctx context.Context, rec *FileRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putRecord(txn, rec)
	})
}

// Deactivate logically removes a record. The record is never
// physically deleted, and removal is refused while SYNCING so that an
// in-flight transfer cannot race a delete.
func (s *BadgerStore) Deactivate(ctx context.Context, fileID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, fileID)
		if err != nil {
			return err
		}
		if rec.SyncStatus == StatusSyncing {
			return errors.E("BadgerStore.Deactivate", errors.ErrSyncInProgress, nil, fileID)
		}
		rec.Active = false
		rec.UpdatedAt = time.Now()
		return putRecord(txn, rec)
	})
}

// ListPending lists records eligible for replication at the given time.
func (s *BadgerStore) ListPending(ctx context.Context, limit, maxRetries int, priorityFirst bool, now time.Time) ([]*FileRecord, error) {
	matches, err := s.collectByStatus(StatusPending, 0)
	if err != nil {
		return nil, err
	}

	eligible := matches[:0]
	for _, rec := range matches {
		if rec.Eligible(now, maxRetries) {
			eligible = append(eligible, rec)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if priorityFirst && a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// ListByStatus lists records in the given sync status.
func (s *BadgerStore) ListByStatus(ctx context.Context, status SyncStatus, limit int) ([]*FileRecord, error) {
	return s.collectByStatus(status, limit)
}

// Claim atomically transitions a PENDING record to SYNCING.
func (s *BadgerStore) Claim(ctx context.Context, fileID string, now time.Time) (*FileRecord, error) {
	var claimed *FileRecord

	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, fileID)
		if err != nil {
			return err
		}
		if rec.SyncStatus != StatusPending || !rec.Active {
			return errors.E("BadgerStore.Claim", errors.ErrRecordClaimed, nil, fileID)
		}
		rec.SyncStatus = StatusSyncing
		rec.LastSyncAttempt = now
		rec.UpdatedAt = now
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		claimed = rec
		return nil
	})
	if err == badger.ErrConflict {
		// A concurrent claim won the transaction.
		return nil, errors.E("BadgerStore.Claim", errors.ErrRecordClaimed, err, fileID)
	}
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// RequeueStale demotes SYNCING records with stale claims back to PENDING.
func (s *BadgerStore) RequeueStale(ctx context.Context, olderThan time.Duration, now time.Time) (int, error) {
	stale, err := s.collectByStatus(StatusSyncing, 0)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, rec := range stale {
		if now.Sub(rec.LastSyncAttempt) < olderThan {
			continue
		}
		rec.SyncStatus = StatusPending
		rec.UpdatedAt = now
		if err := s.Save(ctx, rec); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

// Summary returns aggregate counts per sync status, total bytes and
// average retry count across active records.
func (s *BadgerStore) Summary(ctx context.Context) (*QueueSummary, error) {
	summary := &QueueSummary{}
	retries := 0

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixFile)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec FileRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				continue
			}
			if !rec.Active {
				continue
			}

			summary.Total++
			summary.TotalBytes += rec.Size
			retries += rec.SyncRetries

			switch rec.SyncStatus {
			case StatusPending:
				summary.Pending++
			case StatusSyncing:
				summary.Syncing++
			case StatusSynced:
				summary.Synced++
			case StatusFailed:
				summary.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if summary.Total > 0 {
		summary.AvgRetries = float64(retries) / float64(summary.Total)
	}
	return summary, nil
}

// Close closes the store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// collectByStatus gathers records via the status index.
func (s *BadgerStore) collectByStatus(status SyncStatus, limit int) ([]*FileRecord, error) {
	var result []*FileRecord
	prefix := []byte(prefixStatus + string(status) + ":")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix) && (limit <= 0 || len(result) < limit); it.Next() {
			parts := strings.Split(string(it.Item().Key()), ":")
			fileID := parts[len(parts)-1]

			rec, err := getRecord(txn, fileID)
			if err != nil {
				continue
			}
			if rec.SyncStatus != status {
				continue
			}
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// getRecord reads a record within a transaction.
func getRecord(txn *badger.Txn, fileID string) (*FileRecord, error) {
	item, err := txn.Get([]byte(prefixFile + fileID))
	if err == badger.ErrKeyNotFound {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.E("record.get", errors.ErrNotFound, err)
	}

	var rec FileRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, errors.E("record.get", errors.ErrInvalidInput, err)
	}
	return &rec, nil
}

// putRecord writes a record and swaps its status index entry within a
// transaction. The previous index entry, if any, is removed so the
// index never holds two keys for the same record.
func putRecord(txn *badger.Txn, rec *FileRecord) error {
	prev, err := getRecord(txn, rec.ID)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	if prev != nil {
		if err := txn.Delete(statusKey(prev)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := txn.Set([]byte(prefixFile+rec.ID), data); err != nil {
		return err
	}
	return txn.Set(statusKey(rec), nil)
}

// statusKey builds the status index key. Priority is clamped and
// inverted so the lexicographic ordering of keys is priority-desc,
// createdAt-asc.
func statusKey(rec *FileRecord) []byte {
	return []byte(fmt.Sprintf("%s%s:%05d:%s:%s",
		prefixStatus,
		rec.SyncStatus,
		MaxPriority-ClampPriority(rec.Priority),
		rec.CreatedAt.UTC().Format("20060102150405.000000000"),
		rec.ID,
	))
}
