package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docuvault/docsync/internal/common/errors"
	"github.com/docuvault/docsync/internal/common/logger"
)

const (
	defaultPort          = 873
	defaultTimeout       = 10 * time.Minute
	defaultDeleteTimeout = 5 * time.Minute

	// stderrExcerptLimit bounds the captured stderr carried in errors.
	stderrExcerptLimit = 1024
)

// Exit codes the tool reports for an already-absent remote file.
// A delete that finds nothing to delete has reached the desired end
// state, so these are warnings rather than failures.
var acceptableDeleteExitCodes = map[int]bool{
	23: true, // partial transfer (source vanished)
	24: true, // source files vanished during transfer
}

var acceptableDeleteMessages = []string{
	"no such file",
	"does not exist",
	"file has vanished",
}

// Config holds the remote endpoint and invocation settings.
type Config struct {
	Binary        string // Transfer tool executable; defaults to "rsync"
	Protocol      string
	Host          string
	Port          int
	User          string
	Module        string
	BasePath      string
	Secret        string // Inline pre-shared secret, written to an ephemeral file per call
	SecretFile    string // Pre-existing secret file, used as-is
	Flags         string
	Compress      bool
	DryRun        bool
	BWLimitKBps   int
	IncludeFrom   string
	ExcludeFrom   string
	TempDir       string // Where ephemeral secret files and download staging live
	Timeout       time.Duration
	DeleteTimeout time.Duration
}

// TransferResult describes a completed transfer operation.
type TransferResult struct {
	RemoteURL string
	Bytes     int64
	Duration  time.Duration
	Warning   string // Non-empty for success-with-warning outcomes
}

// TransferError carries the subprocess outcome of a failed transfer.
type TransferError struct {
	Op       string
	ExitCode int // -1 when the subprocess never ran or was killed on timeout
	Stderr   string
	Timeout  bool
}

func (e *TransferError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timed out", e.Op)
	}
	if e.Stderr != "" {
		return fmt.Sprintf("%s: exit code %d: %s", e.Op, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s: exit code %d", e.Op, e.ExitCode)
}

// Is maps TransferError onto the system error taxonomy.
func (e *TransferError) Is(target error) bool {
	if e.Timeout {
		return target == errors.ErrTransferTimeout || target == errors.ErrTransferFailed
	}
	return target == errors.ErrTransferFailed
}

// Client executes transfer operations against a single remote endpoint.
type Client struct {
	cfg    Config
	runner Runner
	log    *zap.Logger
}

// NewClient creates a Client that invokes the real transfer tool.
func NewClient(cfg Config) (*Client, error) {
	return newClient(cfg, execRunner{})
}

// NewClientWithRunner creates a Client with an injected Runner.
func NewClientWithRunner(cfg Config, runner Runner) (*Client, error) {
	return newClient(cfg, runner)
}

func newClient(cfg Config, runner Runner) (*Client, error) {
	if cfg.Host == "" || cfg.Module == "" {
		return nil, errors.E("transfer.NewClient", errors.ErrRemoteNotSet, nil)
	}
	if cfg.Binary == "" {
		cfg.Binary = "rsync"
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "rsync"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = defaultDeleteTimeout
	}
	return &Client{
		cfg:    cfg,
		runner: runner,
		log:    logger.WithComponent("TransferClient"),
	}, nil
}

// Upload pushes local bytes to the remote path.
func (c *Client) Upload(ctx context.Context, localPath, remoteKey string) (*TransferResult, error) {
	const op = "TransferClient.Upload"

	if localPath == "" || remoteKey == "" {
		return nil, errors.E(op, errors.ErrInvalidInput, nil, "empty path")
	}
	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, errors.ErrNotFound, err, localPath)
		}
		return nil, errors.Wrap(op, err)
	}

	dst := c.remoteURL(remoteKey)
	result, terr := c.invoke(ctx, op, nil, toProtocolPath(localPath), dst, c.cfg.Timeout)
	if terr != nil {
		return nil, terr
	}

	result.RemoteURL = dst
	result.Bytes = info.Size()
	return result, nil
}

// Download pulls remote bytes to a local destination. The destination
// is written atomically relative to callers: bytes land in a staging
// name first and are renamed into place only on success, so no partial
// file is ever observable at localPath.
func (c *Client) Download(ctx context.Context, remoteKey, localPath string) (*TransferResult, error) {
	const op = "TransferClient.Download"

	if localPath == "" || remoteKey == "" {
		return nil, errors.E(op, errors.ErrInvalidInput, nil, "empty path")
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, errors.Wrap(op, err)
	}

	staging := localPath + ".part"
	defer os.Remove(staging)

	src := c.remoteURL(remoteKey)
	result, terr := c.invoke(ctx, op, nil, src, toProtocolPath(staging), c.cfg.Timeout)
	if terr != nil {
		return nil, terr
	}

	info, err := os.Stat(staging)
	if err != nil {
		return nil, errors.E(op, errors.ErrNotFound, err, remoteKey)
	}
	if err := os.Rename(staging, localPath); err != nil {
		return nil, errors.Wrap(op, err)
	}

	result.RemoteURL = src
	result.Bytes = info.Size()
	return result, nil
}

// Delete requests remote deletion of a single key. The tool has no
// first-class delete, so an empty directory is synced over the key's
// parent with delete filters scoped to the one name.
func (c *Client) Delete(ctx context.Context, remoteKey string) (*TransferResult, error) {
	const op = "TransferClient.Delete"

	if remoteKey == "" {
		return nil, errors.E(op, errors.ErrInvalidInput, nil, "empty remote key")
	}

	emptyDir, err := os.MkdirTemp(c.cfg.TempDir, "docsync-empty-*")
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	defer os.RemoveAll(emptyDir)

	key := joinRemotePath("", remoteKey)
	name := key
	parent := ""
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		parent, name = key[:i], key[i+1:]
	}

	extra := []string{
		"--delete",
		"--include=" + name,
		"--exclude=*",
	}
	dst := c.remoteURL(parent) + "/"

	result, terr := c.invoke(ctx, op, extra, toProtocolPath(emptyDir)+"/", dst, c.cfg.DeleteTimeout)
	if terr == nil {
		result.RemoteURL = dst
		return result, nil
	}

	// An already-absent remote file is the desired end state.
	if te, ok := terr.(*TransferError); ok && !te.Timeout {
		if acceptableDeleteExitCodes[te.ExitCode] || matchesAcceptableMessage(te.Stderr) {
			c.log.Warn("remote delete reported missing file, treating as success",
				zap.String("remote_key", remoteKey),
				zap.Int("exit_code", te.ExitCode),
			)
			return &TransferResult{RemoteURL: dst, Warning: te.Stderr}, nil
		}
	}
	return nil, terr
}

// invoke runs one bounded subprocess invocation with credential
// handling. The ephemeral secret file is removed on every exit path.
func (c *Client) invoke(ctx context.Context, op string, extra []string, src, dst string, timeout time.Duration) (*TransferResult, error) {
	secretFile, cleanup, err := c.secretFile()
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	defer cleanup()

	args := c.buildArgs(secretFile, extra, src, dst)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.log.Debug("invoking transfer tool",
		zap.String("binary", c.cfg.Binary),
		zap.Strings("args", redactArgs(args)),
	)

	start := time.Now()
	exitCode, stderr, runErr := c.runner.Run(ctx, c.cfg.Binary, args)
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		c.log.Error("transfer timed out",
			zap.String("op", op),
			zap.Duration("timeout", timeout),
		)
		return nil, &TransferError{Op: op, ExitCode: -1, Timeout: true}
	}
	if runErr != nil {
		return nil, errors.E(op, errors.ErrTransferFailed, runErr)
	}
	if exitCode != 0 {
		return nil, &TransferError{Op: op, ExitCode: exitCode, Stderr: excerpt(stderr)}
	}

	return &TransferResult{Duration: elapsed}, nil
}

// secretFile resolves the credential material for one invocation.
// Inline secrets are written to a restrictively-permissioned ephemeral
// file; the returned cleanup removes it regardless of outcome.
func (c *Client) secretFile() (string, func(), error) {
	if c.cfg.SecretFile != "" {
		return c.cfg.SecretFile, func() {}, nil
	}
	if c.cfg.Secret == "" {
		return "", func() {}, nil
	}

	f, err := os.CreateTemp(c.cfg.TempDir, "docsync-secret-*")
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if _, err := f.WriteString(c.cfg.Secret); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func excerpt(s string) string {
	if len(s) > stderrExcerptLimit {
		return s[:stderrExcerptLimit]
	}
	return s
}

func matchesAcceptableMessage(stderr string) bool {
	lowered := strings.ToLower(stderr)
	for _, m := range acceptableDeleteMessages {
		if strings.Contains(lowered, m) {
			return true
		}
	}
	return false
}
