package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docuvault/docsync/internal/common/errors"
)

// fakeRunner records invocations and plays back scripted outcomes.
type fakeRunner struct {
	calls    [][]string
	exitCode int
	stderr   string
	runErr   error

	// onRun, if set, runs before returning the scripted outcome. Used
	// to simulate the tool writing the destination file.
	onRun func(args []string)

	// block, if set, waits for context cancellation before returning.
	block bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) (int, string, error) {
	f.calls = append(f.calls, args)
	if f.block {
		<-ctx.Done()
		return -1, "", ctx.Err()
	}
	if f.onRun != nil {
		f.onRun(args)
	}
	return f.exitCode, f.stderr, f.runErr
}

func newFakeClient(t *testing.T, cfg Config, runner *fakeRunner) *Client {
	t.Helper()

	if cfg.Host == "" {
		cfg.Host = "backup.example.com"
	}
	if cfg.Module == "" {
		cfg.Module = "documents"
	}
	cfg.TempDir = t.TempDir()
	c, err := NewClientWithRunner(cfg, runner)
	if err != nil {
		t.Fatalf("NewClientWithRunner failed: %v", err)
	}
	return c
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "upload.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{})
	if !errors.Is(err, errors.ErrRemoteNotSet) {
		t.Errorf("error = %v, want ErrRemoteNotSet", err)
	}
}

func TestUpload(t *testing.T) {
	runner := &fakeRunner{}
	c := newFakeClient(t, Config{}, runner)
	src := writeTempFile(t, "hello, world!")

	result, err := c.Upload(context.Background(), src, "2024/upload.txt")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if result.Bytes != 13 {
		t.Errorf("Bytes = %d, want 13", result.Bytes)
	}
	if !strings.HasSuffix(result.RemoteURL, "/documents/2024/upload.txt") {
		t.Errorf("RemoteURL = %q", result.RemoteURL)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("runner invoked %d times, want 1", len(runner.calls))
	}

	args := runner.calls[0]
	if args[len(args)-2] != src {
		t.Errorf("source arg = %q, want %q", args[len(args)-2], src)
	}
	if args[len(args)-1] != result.RemoteURL {
		t.Errorf("destination arg = %q, want %q", args[len(args)-1], result.RemoteURL)
	}
}

func TestUpload_Validation(t *testing.T) {
	c := newFakeClient(t, Config{}, &fakeRunner{})

	t.Run("empty paths", func(t *testing.T) {
		_, err := c.Upload(context.Background(), "", "key")
		if !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("missing local file", func(t *testing.T) {
		_, err := c.Upload(context.Background(), "/nonexistent/file.txt", "key")
		if !errors.IsNotFound(err) {
			t.Errorf("error = %v, want not found", err)
		}
	})
}

func TestUpload_Failure(t *testing.T) {
	runner := &fakeRunner{exitCode: 12, stderr: "error in rsync protocol data stream"}
	c := newFakeClient(t, Config{}, runner)
	src := writeTempFile(t, "content")

	_, err := c.Upload(context.Background(), src, "key")
	if err == nil {
		t.Fatal("Upload should fail")
	}
	if !errors.Is(err, errors.ErrTransferFailed) {
		t.Errorf("error = %v, want ErrTransferFailed", err)
	}

	te, ok := err.(*TransferError)
	if !ok {
		t.Fatalf("error type = %T, want *TransferError", err)
	}
	if te.ExitCode != 12 {
		t.Errorf("ExitCode = %d, want 12", te.ExitCode)
	}
	if !strings.Contains(te.Stderr, "protocol data stream") {
		t.Errorf("Stderr = %q, want captured excerpt", te.Stderr)
	}
}

func TestUpload_Timeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	c := newFakeClient(t, Config{Timeout: 20 * time.Millisecond}, runner)
	src := writeTempFile(t, "content")

	_, err := c.Upload(context.Background(), src, "key")
	if err == nil {
		t.Fatal("Upload should fail on timeout")
	}
	if !errors.IsTimeout(err) {
		t.Errorf("error = %v, want transfer timeout", err)
	}

	te, ok := err.(*TransferError)
	if !ok {
		t.Fatalf("error type = %T, want *TransferError", err)
	}
	if !te.Timeout {
		t.Error("Timeout flag should be set")
	}
}

func TestDownload(t *testing.T) {
	dstDir := t.TempDir()
	dst := filepath.Join(dstDir, "fetched.txt")

	runner := &fakeRunner{
		onRun: func(args []string) {
			// The tool writes the staging destination, never the final path.
			staging := args[len(args)-1]
			os.WriteFile(staging, []byte("remote bytes"), 0o644)
		},
	}
	c := newFakeClient(t, Config{}, runner)

	result, err := c.Download(context.Background(), "2024/fetched.txt", dst)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if result.Bytes != 12 {
		t.Errorf("Bytes = %d, want 12", result.Bytes)
	}

	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if string(content) != "remote bytes" {
		t.Errorf("content = %q", content)
	}

	if _, err := os.Stat(dst + ".part"); !os.IsNotExist(err) {
		t.Error("staging file should be removed")
	}
}

func TestDownload_FailureLeavesNoPartial(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "fetched.txt")

	runner := &fakeRunner{
		exitCode: 5,
		stderr:   "connection refused",
		onRun: func(args []string) {
			staging := args[len(args)-1]
			os.WriteFile(staging, []byte("partial"), 0o644)
		},
	}
	c := newFakeClient(t, Config{}, runner)

	_, err := c.Download(context.Background(), "key", dst)
	if err == nil {
		t.Fatal("Download should fail")
	}

	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("no file should exist at the destination after failure")
	}
	if _, statErr := os.Stat(dst + ".part"); !os.IsNotExist(statErr) {
		t.Error("staging file should be cleaned up after failure")
	}
}

func TestDelete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{}
		c := newFakeClient(t, Config{}, runner)

		result, err := c.Delete(context.Background(), "2024/old.txt")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if result.Warning != "" {
			t.Errorf("Warning = %q, want empty", result.Warning)
		}

		args := runner.calls[0]
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "--delete") {
			t.Error("args should contain --delete")
		}
		if !strings.Contains(joined, "--include=old.txt") {
			t.Errorf("args should scope the delete to the file name: %v", args)
		}
		if !strings.Contains(joined, "--exclude=*") {
			t.Error("args should exclude everything else")
		}
	})

	t.Run("vanished source exit code is a warning", func(t *testing.T) {
		runner := &fakeRunner{exitCode: 24, stderr: "some files vanished"}
		c := newFakeClient(t, Config{}, runner)

		result, err := c.Delete(context.Background(), "2024/old.txt")
		if err != nil {
			t.Fatalf("Delete should succeed with warning: %v", err)
		}
		if result.Warning == "" {
			t.Error("Warning should carry the tool output")
		}
	})

	t.Run("missing file message is a warning", func(t *testing.T) {
		runner := &fakeRunner{exitCode: 3, stderr: `rsync: link_stat "old.txt" failed: No such file or directory (2)`}
		c := newFakeClient(t, Config{}, runner)

		if _, err := c.Delete(context.Background(), "2024/old.txt"); err != nil {
			t.Fatalf("Delete should succeed with warning: %v", err)
		}
	})

	t.Run("other failures surface", func(t *testing.T) {
		runner := &fakeRunner{exitCode: 5, stderr: "permission denied"}
		c := newFakeClient(t, Config{}, runner)

		_, err := c.Delete(context.Background(), "2024/old.txt")
		if !errors.Is(err, errors.ErrTransferFailed) {
			t.Errorf("error = %v, want ErrTransferFailed", err)
		}
	})
}

func TestSecretFile_Lifecycle(t *testing.T) {
	var seenSecret string

	runner := &fakeRunner{
		onRun: func(args []string) {
			for _, a := range args {
				if strings.HasPrefix(a, "--password-file=") {
					seenSecret = strings.TrimPrefix(a, "--password-file=")
				}
			}
		},
	}
	c := newFakeClient(t, Config{Secret: "hunter2"}, runner)
	src := writeTempFile(t, "content")

	if _, err := c.Upload(context.Background(), src, "key"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if seenSecret == "" {
		t.Fatal("invocation should carry a credential file argument")
	}
	if _, err := os.Stat(seenSecret); !os.IsNotExist(err) {
		t.Error("ephemeral secret file should be removed after the invocation")
	}
}

func TestSecretFile_Permissions(t *testing.T) {
	runner := &fakeRunner{
		onRun: func(args []string) {
			for _, a := range args {
				if strings.HasPrefix(a, "--password-file=") {
					path := strings.TrimPrefix(a, "--password-file=")
					info, err := os.Stat(path)
					if err != nil {
						panic("secret file missing during invocation: " + err.Error())
					}
					if info.Mode().Perm() != 0o600 {
						panic("secret file permissions too wide")
					}
					content, _ := os.ReadFile(path)
					if string(content) != "hunter2" {
						panic("secret file content mismatch")
					}
				}
			}
		},
	}
	c := newFakeClient(t, Config{Secret: "hunter2"}, runner)
	src := writeTempFile(t, "content")

	if _, err := c.Upload(context.Background(), src, "key"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
}

func TestSecretFile_PreSharedFileUntouched(t *testing.T) {
	shared := filepath.Join(t.TempDir(), "rsync.secret")
	if err := os.WriteFile(shared, []byte("hunter2"), 0o600); err != nil {
		t.Fatalf("failed to write shared secret: %v", err)
	}

	c := newFakeClient(t, Config{SecretFile: shared}, &fakeRunner{})
	src := writeTempFile(t, "content")

	if _, err := c.Upload(context.Background(), src, "key"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if _, err := os.Stat(shared); err != nil {
		t.Error("pre-shared secret file must not be removed")
	}
}
