// Package replicator drains the replication backlog: it claims pending
// file records in batches, pushes their bytes to the remote node, and
// applies the retry/backoff policy.
package replicator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docuvault/docsync/internal/common/errors"
	"github.com/docuvault/docsync/internal/common/logger"
	"github.com/docuvault/docsync/internal/record"
	"github.com/docuvault/docsync/internal/transfer"
)

// Uploader pushes a local file to a remote key. *transfer.Client
// satisfies this.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteKey string) (*transfer.TransferResult, error)
}

// Config holds replication worker configuration.
type Config struct {
	BatchSize     int
	Interval      time.Duration
	RetryDelay    time.Duration
	MaxRetries    int
	PriorityFirst bool
	StaleClaim    time.Duration
}

// BatchSummary describes one processed batch and the resulting
// aggregate queue state.
type BatchSummary struct {
	Processed int                  `json:"processed"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Skipped   int                  `json:"skipped"`
	Queue     *record.QueueSummary `json:"queue"`
}

// Worker moves records from PENDING to SYNCED with bounded retries.
type Worker struct {
	cfg      Config
	store    record.Store
	uploader Uploader
	log      *zap.Logger

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a replication worker.
func NewWorker(cfg Config, store record.Store, uploader Uploader) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StaleClaim <= 0 {
		cfg.StaleClaim = 30 * time.Minute
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		uploader: uploader,
		log:      logger.WithComponent("ReplicationWorker"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start requeues claims orphaned by a previous process, then drains
// the backlog on a fixed interval until Stop.
func (w *Worker) Start(ctx context.Context) error {
	requeued, err := w.store.RequeueStale(ctx, w.cfg.StaleClaim, w.now())
	if err != nil {
		return errors.Wrap("ReplicationWorker.Start", err)
	}
	if requeued > 0 {
		w.log.Warn("requeued stale claims from previous run", zap.Int("count", requeued))
	}

	w.log.Info("starting replication worker",
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Duration("interval", w.cfg.Interval),
		zap.Bool("priority_first", w.cfg.PriorityFirst),
	)

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop stops the worker loop.
func (w *Worker) Stop() {
	w.log.Info("stopping replication worker")
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.log.Error("batch processing failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch claims and replicates one batch of eligible records.
func (w *Worker) ProcessBatch(ctx context.Context) (*BatchSummary, error) {
	now := w.now()

	batch, err := w.store.ListPending(ctx, w.cfg.BatchSize, w.cfg.MaxRetries, w.cfg.PriorityFirst, now)
	if err != nil {
		return nil, errors.Wrap("ReplicationWorker.ProcessBatch", err)
	}

	summary := &BatchSummary{}
	for _, rec := range batch {
		claimed, err := w.store.Claim(ctx, rec.ID, w.now())
		if err != nil {
			// A concurrent batch got there first.
			if errors.Is(err, errors.ErrRecordClaimed) {
				summary.Skipped++
				continue
			}
			return nil, errors.Wrap("ReplicationWorker.ProcessBatch", err)
		}

		summary.Processed++
		if w.replicate(ctx, claimed) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}

	queue, err := w.store.Summary(ctx)
	if err != nil {
		return nil, errors.Wrap("ReplicationWorker.ProcessBatch", err)
	}
	summary.Queue = queue

	if summary.Processed > 0 {
		w.log.Info("batch processed",
			zap.Int("processed", summary.Processed),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("queue_pending", queue.Pending),
			zap.Int("queue_failed", queue.Failed),
		)
	}
	return summary, nil
}

// replicate pushes one claimed record and persists the outcome.
// Returns true on success.
func (w *Worker) replicate(ctx context.Context, rec *record.FileRecord) bool {
	if rec.RemotePath == "" {
		rec.RemotePath = rec.ID + "/" + rec.Name
	}

	result, err := w.uploader.Upload(ctx, rec.LocalPath, rec.RemotePath)
	if err != nil {
		w.handleFailure(ctx, rec, err)
		return false
	}

	rec.SyncStatus = record.StatusSynced
	rec.StorageProvider = record.ProviderRemoteSynced
	rec.SyncError = ""
	rec.NextAttemptAt = time.Time{}
	rec.RemoteSize = result.Bytes
	rec.RemoteURL = result.RemoteURL
	rec.UpdatedAt = w.now()

	if err := w.saveWithRetry(ctx, rec); err != nil {
		w.log.Error("failed to persist synced record",
			zap.String("file_id", rec.ID),
			zap.Error(err),
		)
		w.releaseClaim(ctx, rec)
		return false
	}

	w.log.Info("record replicated",
		zap.String("file_id", rec.ID),
		zap.String("remote_url", rec.RemoteURL),
		zap.Int64("bytes", rec.RemoteSize),
		zap.Int("attempts", rec.SyncRetries+1),
	)
	return true
}

// saveAttempts bounds the in-process retries of a record save before
// the claim is released.
const saveAttempts = 3

// saveWithRetry persists a record, retrying transient store failures.
func (w *Worker) saveWithRetry(ctx context.Context, rec *record.FileRecord) error {
	var err error
	for attempt := 1; attempt <= saveAttempts; attempt++ {
		if err = w.store.Save(ctx, rec); err == nil {
			return nil
		}
		w.log.Warn("record save failed, retrying",
			zap.String("file_id", rec.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return err
}

// releaseClaim demotes a record back to PENDING so a persistence
// failure does not leave it claimed until the next process restart.
// If even the demotion cannot be persisted, stale-claim recovery at
// startup remains the backstop.
func (w *Worker) releaseClaim(ctx context.Context, rec *record.FileRecord) {
	rec.SyncStatus = record.StatusPending
	rec.UpdatedAt = w.now()
	if err := w.store.Save(ctx, rec); err != nil {
		w.log.Error("failed to release claim, record stays SYNCING until restart",
			zap.String("file_id", rec.ID),
			zap.Error(err),
		)
	}
}

// handleFailure applies the retry/backoff policy to a failed transfer.
// Records below the retry budget re-enter the queue after an
// exponential delay; the rest are marked FAILED.
func (w *Worker) handleFailure(ctx context.Context, rec *record.FileRecord, cause error) {
	rec.SyncRetries++
	rec.SyncError = cause.Error()
	rec.UpdatedAt = w.now()

	if rec.SyncRetries < w.cfg.MaxRetries {
		rec.SyncStatus = record.StatusPending
		rec.NextAttemptAt = w.now().Add(w.cfg.RetryDelay * time.Duration(rec.SyncRetries))
		w.log.Warn("transfer failed, requeued",
			zap.String("file_id", rec.ID),
			zap.Int("retries", rec.SyncRetries),
			zap.Time("next_attempt", rec.NextAttemptAt),
			zap.Error(cause),
		)
	} else {
		rec.SyncStatus = record.StatusFailed
		w.log.Error("transfer failed permanently, retries exhausted",
			zap.String("file_id", rec.ID),
			zap.Int("retries", rec.SyncRetries),
			zap.Error(cause),
		)
	}

	if err := w.saveWithRetry(ctx, rec); err != nil {
		w.log.Error("failed to persist failure state",
			zap.String("file_id", rec.ID),
			zap.Error(err),
		)
	}
}

// Resync re-enters a record into the normal queue, optionally
// resetting its retry budget and raising its priority. It never
// bypasses the claim protocol.
func (w *Worker) Resync(ctx context.Context, fileID string, resetRetries bool, priority int) error {
	const op = "ReplicationWorker.Resync"

	rec, err := w.store.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if rec.SyncStatus == record.StatusSyncing {
		return errors.E(op, errors.ErrSyncInProgress, nil, fileID)
	}

	rec.SyncStatus = record.StatusPending
	rec.NextAttemptAt = time.Time{}
	if resetRetries {
		rec.SyncRetries = 0
		rec.SyncError = ""
	}
	if priority = record.ClampPriority(priority); priority > rec.Priority {
		rec.Priority = priority
	}
	rec.UpdatedAt = w.now()

	if err := w.store.Save(ctx, rec); err != nil {
		return errors.Wrap(op, err)
	}

	w.log.Info("record queued for re-sync",
		zap.String("file_id", fileID),
		zap.Bool("reset_retries", resetRetries),
		zap.Int("priority", rec.Priority),
	)
	return nil
}
