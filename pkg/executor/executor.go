package executor

import "context"

// Executor runs shell commands either locally or on a remote host via SSH.
// The restart delivery code works the same way against both.
type Executor interface {
	// Execute runs command and returns its stdout. A cancelled ctx stops
	// waiting for the command.
	Execute(ctx context.Context, command string) (output string, err error)

	// Connection Management
	CheckConnectivity(ctx context.Context) error
	Close() error
}

// IsLocalHost reports whether host names this machine.
func IsLocalHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
