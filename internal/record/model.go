// Package record defines the file metadata model and its persistent store.
package record

import (
	"time"
)

// SyncStatus represents the replication state of a file.
type SyncStatus string

const (
	StatusPending SyncStatus = "PENDING" // Waiting to be replicated
	StatusSyncing SyncStatus = "SYNCING" // Claimed by a worker, transfer in flight
	StatusSynced  SyncStatus = "SYNCED"  // Remote copy established
	StatusFailed  SyncStatus = "FAILED"  // Retries exhausted
)

// Priority bounds encodable by the status index key scheme.
const (
	MinPriority = 0
	MaxPriority = 99999
)

// ClampPriority bounds a requested priority to the encodable range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// StorageProvider identifies where the authoritative bytes live.
type StorageProvider string

const (
	ProviderLocal        StorageProvider = "LOCAL"
	ProviderRemoteSynced StorageProvider = "REMOTE_SYNCED"
)

// FileRecord is the unit of replication: metadata describing one
// logical file and its replication state.
type FileRecord struct {
	// Identity
	ID      string `json:"id"`      // Opaque, stable (UUID)
	Version int64  `json:"version"` // Bumped on content replacement

	// Content
	Name     string `json:"name"`
	Checksum string `json:"checksum"` // SHA-256 of content
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`

	// Storage
	LocalPath       string          `json:"local_path"`
	RemotePath      string          `json:"remote_path"` // Destination key on the remote node
	StorageProvider StorageProvider `json:"storage_provider"`
	KeepLocal       bool            `json:"keep_local"`

	// Replication state
	SyncStatus      SyncStatus `json:"sync_status"`
	Priority        int        `json:"priority"`
	SyncRetries     int        `json:"sync_retries"`
	LastSyncAttempt time.Time  `json:"last_sync_attempt,omitempty"`
	NextAttemptAt   time.Time  `json:"next_attempt_at,omitempty"` // Backoff gate; zero means eligible now
	SyncError       string     `json:"sync_error,omitempty"`
	RemoteSize      int64      `json:"remote_size,omitempty"`
	RemoteURL       string     `json:"remote_url,omitempty"`

	// Ownership and timestamps
	OwnerID   string    `json:"owner_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFileRecord creates a new FileRecord pending replication.
func NewFileRecord(id, name, localPath string) *FileRecord {
	now := time.Now()
	return &FileRecord{
		ID:              id,
		Version:         1,
		Name:            name,
		LocalPath:       localPath,
		StorageProvider: ProviderLocal,
		KeepLocal:       true,
		SyncStatus:      StatusPending,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// BumpVersion marks a content replacement: the version increases and
// the record re-enters the replication queue.
func (r *FileRecord) BumpVersion() {
	r.Version++
	r.SyncStatus = StatusPending
	r.SyncRetries = 0
	r.SyncError = ""
	r.NextAttemptAt = time.Time{}
	r.UpdatedAt = time.Now()
}

// Eligible reports whether the record may be claimed for replication
// at the given time under the given retry budget.
func (r *FileRecord) Eligible(now time.Time, maxRetries int) bool {
	if !r.Active || r.SyncStatus != StatusPending {
		return false
	}
	if r.SyncRetries >= maxRetries {
		return false
	}
	return r.NextAttemptAt.IsZero() || !now.Before(r.NextAttemptAt)
}

// QueueSummary is an aggregate projection over the record store,
// used for operational visibility.
type QueueSummary struct {
	Pending    int     `json:"pending"`
	Syncing    int     `json:"syncing"`
	Synced     int     `json:"synced"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
	TotalBytes int64   `json:"total_bytes"`
	AvgRetries float64 `json:"avg_retries"`
}
