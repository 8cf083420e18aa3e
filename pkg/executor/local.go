package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// LocalExecutor implements Executor for local operations
type LocalExecutor struct {
	shell string
}

// NewLocalExecutor creates a new LocalExecutor
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{shell: "sh"}
}

// Execute runs a command and returns its output
func (e *LocalExecutor) Execute(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, e.shell, "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("command failed: %w\nstderr: %s", err, stderr.String())
	}

	return stdout.String(), nil
}

// CheckConnectivity checks if the executor can perform operations
func (e *LocalExecutor) CheckConnectivity(ctx context.Context) error {
	_, err := e.Execute(ctx, "echo test")
	return err
}

// Close closes any resources held by the executor
func (e *LocalExecutor) Close() error {
	return nil
}
