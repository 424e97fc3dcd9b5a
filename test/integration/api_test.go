// Package integration provides integration tests for the docsync system.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docuvault/docsync/internal/cache"
	"github.com/docuvault/docsync/internal/common/errors"
	"github.com/docuvault/docsync/internal/record"
	"github.com/docuvault/docsync/internal/replicator"
	"github.com/docuvault/docsync/internal/service"
	"github.com/docuvault/docsync/internal/storage"
	"github.com/docuvault/docsync/internal/transfer"
	httpapi "github.com/docuvault/docsync/pkg/api/http"
)

// memoryRemote stands in for the rsync endpoint.
type memoryRemote struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{objects: make(map[string][]byte)}
}

func (r *memoryRemote) Upload(ctx context.Context, localPath, remoteKey string) (*transfer.TransferResult, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.objects[remoteKey] = content
	r.mu.Unlock()
	return &transfer.TransferResult{Bytes: int64(len(content))}, nil
}

func (r *memoryRemote) Download(ctx context.Context, remoteKey, localPath string) (*transfer.TransferResult, error) {
	r.mu.Lock()
	content, ok := r.objects[remoteKey]
	r.mu.Unlock()
	if !ok {
		return nil, errors.E("TransferClient.Download", errors.ErrNotFound, nil, remoteKey)
	}
	if err := os.WriteFile(localPath, content, 0o644); err != nil {
		return nil, err
	}
	return &transfer.TransferResult{Bytes: int64(len(content))}, nil
}

func (r *memoryRemote) Delete(ctx context.Context, remoteKey string) (*transfer.TransferResult, error) {
	r.mu.Lock()
	delete(r.objects, remoteKey)
	r.mu.Unlock()
	return &transfer.TransferResult{}, nil
}

// TestEnv provides a test environment for integration tests.
type TestEnv struct {
	Router  *gin.Engine
	Records record.Store
	Service *service.FileService
	Worker  *replicator.Worker
	Remote  *memoryRemote
}

// SetupTestEnv creates a new test environment.
func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	gin.SetMode(gin.TestMode)
	tmpDir := t.TempDir()

	storageBackend, err := storage.NewLocalFS(tmpDir + "/storage")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	store, err := record.NewBadgerStore(tmpDir + "/metadata")
	if err != nil {
		t.Fatalf("failed to create record store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	remote := newMemoryRemote()

	dlCache, err := cache.New(cache.Config{Dir: tmpDir + "/cache"}, remote)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}

	worker := replicator.NewWorker(replicator.Config{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, store, remote)

	fileService := service.NewFileService(storageBackend, store, dlCache, remote, worker, true)
	handler := httpapi.NewHandler(fileService)

	router := gin.New()
	handler.RegisterRoutes(router)

	return &TestEnv{
		Router:  router,
		Records: store,
		Service: fileService,
		Worker:  worker,
		Remote:  remote,
	}
}

// uploadFile posts a multipart upload and returns the decoded response.
func (e *TestEnv) uploadFile(t *testing.T, name string, content []byte) *service.UploadResponse {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %v, body = %s", w.Code, w.Body.String())
	}

	var resp service.UploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	return &resp
}

func TestAPI_HealthCheck(t *testing.T) {
	env := SetupTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %v, want %v", w.Code, http.StatusOK)
	}
}

func TestAPI_UploadDownloadLifecycle(t *testing.T) {
	env := SetupTestEnv(t)
	testContent := []byte("integration test content")

	uploadResp := env.uploadFile(t, "test.txt", testContent)
	if uploadResp.FileID == "" {
		t.Fatal("FileID should not be empty")
	}
	if uploadResp.SyncStatus != string(record.StatusPending) {
		t.Errorf("SyncStatus = %v, want PENDING", uploadResp.SyncStatus)
	}

	// Download immediately, before any replication happened.
	req := httptest.NewRequest("GET", "/api/v1/files/"+uploadResp.FileID, nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("download status = %v", w.Code)
	}
	content, _ := io.ReadAll(w.Body)
	if !bytes.Equal(content, testContent) {
		t.Error("downloaded content mismatch")
	}
	if got := w.Header().Get("X-Checksum"); got != uploadResp.Checksum {
		t.Errorf("X-Checksum = %v, want %v", got, uploadResp.Checksum)
	}

	// Replicate and verify the record reaches SYNCED.
	if _, err := env.Worker.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}
	rec, err := env.Records.Get(context.Background(), uploadResp.FileID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.SyncStatus != record.StatusSynced {
		t.Errorf("SyncStatus = %v, want SYNCED", rec.SyncStatus)
	}
}

func TestAPI_MetadataEndpoint(t *testing.T) {
	env := SetupTestEnv(t)

	uploadResp := env.uploadFile(t, "meta.txt", []byte("test"))

	req := httptest.NewRequest("GET", "/api/v1/files/"+uploadResp.FileID+"/metadata", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v", w.Code, http.StatusOK)
	}

	var meta record.FileRecord
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta.Name != "meta.txt" {
		t.Errorf("Name = %v, want meta.txt", meta.Name)
	}
	if meta.Size != 4 {
		t.Errorf("Size = %v, want 4", meta.Size)
	}
}

func TestAPI_Delete(t *testing.T) {
	env := SetupTestEnv(t)

	uploadResp := env.uploadFile(t, "todelete.txt", []byte("hello"))

	req := httptest.NewRequest("DELETE", "/api/v1/files/"+uploadResp.FileID, nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %v, want %v", w.Code, http.StatusNoContent)
	}

	rec, err := env.Records.Get(context.Background(), uploadResp.FileID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Active {
		t.Error("record should be inactive after delete")
	}
}

func TestAPI_ResyncAndStatus(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	uploadResp := env.uploadFile(t, "resync.txt", []byte("resync me"))
	if _, err := env.Worker.ProcessBatch(ctx); err != nil {
		t.Fatalf("ProcessBatch failed: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/v1/files/"+uploadResp.FileID+"/resync?priority=5", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("resync status = %v, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/replication/status", nil)
	w = httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint = %v", w.Code)
	}
	var summary record.QueueSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.Pending != 1 {
		t.Errorf("Pending = %v, want 1 after resync", summary.Pending)
	}
}

func TestAPI_NotFound(t *testing.T) {
	env := SetupTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/files/non-existent-id", nil)
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %v, want %v", w.Code, http.StatusNotFound)
	}
}
