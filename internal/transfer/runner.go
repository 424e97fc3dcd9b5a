// Package transfer executes file transfers against a remote node by
// invoking the rsync protocol tool as a subprocess.
package transfer

import (
	"bytes"
	"context"
	"os/exec"
)

// Runner executes a transfer subprocess and reports its exit code and
// captured standard error. Injecting a fake Runner lets tests exercise
// command construction and failure handling without a real subprocess.
type Runner interface {
	Run(ctx context.Context, name string, args []string) (exitCode int, stderr string, err error)
}

// execRunner runs the real subprocess via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) (int, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return 0, stderr.String(), nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), stderr.String(), nil
	}

	// The command could not be started at all.
	return -1, stderr.String(), err
}
