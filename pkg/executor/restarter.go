package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/zph/esroll/pkg/logger"
)

// DefaultRestartCommand restarts the Elasticsearch service through the
// host's service manager.
const DefaultRestartCommand = "sudo service elasticsearch restart"

// Restarter delivers a restart to one host.
type Restarter interface {
	Restart(ctx context.Context, host string) error
}

// Dialer opens an executor for host.
type Dialer func(ctx context.Context, host string) (Executor, error)

// ServiceRestarter runs a fixed restart command on each host, over SSH for
// remote hosts and through the local shell for this machine.
type ServiceRestarter struct {
	Command string
	dial    Dialer
}

// NewServiceRestarter creates a restarter that connects with sshConfig as a
// template; Host is filled in per call.
func NewServiceRestarter(command string, sshConfig SSHConfig) *ServiceRestarter {
	if strings.TrimSpace(command) == "" {
		command = DefaultRestartCommand
	}
	return &ServiceRestarter{
		Command: command,
		dial: func(_ context.Context, host string) (Executor, error) {
			if IsLocalHost(host) {
				return NewLocalExecutor(), nil
			}
			cfg := sshConfig
			cfg.Host = host
			return NewSSHExecutor(cfg)
		},
	}
}

// NewServiceRestarterWithDialer is NewServiceRestarter with a custom way to
// reach hosts.
func NewServiceRestarterWithDialer(command string, dial Dialer) *ServiceRestarter {
	r := NewServiceRestarter(command, SSHConfig{})
	r.dial = dial
	return r
}

// Restart runs the restart command on host and waits for it to return.
func (r *ServiceRestarter) Restart(ctx context.Context, host string) error {
	log := logger.WithHost(host)
	log.Infof("Sending restart request: %s", r.Command)

	exec, err := r.dial(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", host, err)
	}
	defer exec.Close()

	out, err := exec.Execute(ctx, r.Command)
	if err != nil {
		return fmt.Errorf("restart command on %s: %w", host, err)
	}
	if out = strings.TrimSpace(out); out != "" {
		log.Debugf("restart output: %s", out)
	}
	return nil
}
