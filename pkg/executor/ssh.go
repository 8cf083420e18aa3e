package executor

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds SSH connection configuration
type SSHConfig struct {
	Host    string
	Port    int
	User    string
	KeyFile string
	// KnownHostsFile enables host key verification. Empty accepts any key.
	KnownHostsFile string
	Timeout        time.Duration
}

// SSHExecutor implements Executor for remote operations via SSH
type SSHExecutor struct {
	config    SSHConfig
	client    *ssh.Client
	agentConn net.Conn // Keep agent connection alive for the lifetime of the executor
}

// NewSSHExecutor creates a new SSH executor and establishes connection
func NewSSHExecutor(config SSHConfig) (*SSHExecutor, error) {
	// Set defaults
	if config.Port == 0 {
		config.Port = 22
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.User == "" {
		config.User = os.Getenv("USER")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if config.KnownHostsFile != "" {
		cb, err := knownhosts.New(config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	// Authentication methods in order of preference:
	// key file, SSH agent.

	if config.KeyFile != "" {
		key, err := os.ReadFile(config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
		}

		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}

	var agentConn net.Conn
	if conn, err := getSSHAgentConnection(); err == nil {
		agentConn = conn
		sshAgent := agent.NewClient(agentConn)
		signers, err := sshAgent.Signers()
		if err == nil && len(signers) > 0 {
			sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signers...))
		} else {
			agentConn.Close()
			agentConn = nil
		}
	}

	if len(sshConfig.Auth) == 0 {
		return nil, fmt.Errorf("no authentication method provided (need key file or SSH agent)")
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		if agentConn != nil {
			agentConn.Close()
		}
		return nil, fmt.Errorf("failed to connect to SSH server at %s: %w", addr, err)
	}

	return &SSHExecutor{
		config:    config,
		client:    client,
		agentConn: agentConn,
	}, nil
}

// Execute runs a command and returns its output
func (e *SSHExecutor) Execute(ctx context.Context, command string) (string, error) {
	session, err := e.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		session.Close()
		return "", ctx.Err()
	}
	if err != nil {
		return "", fmt.Errorf("command failed: %w\nstderr: %s", err, stderr.String())
	}

	return stdout.String(), nil
}

// CheckConnectivity checks if the executor can perform operations
func (e *SSHExecutor) CheckConnectivity(ctx context.Context) error {
	_, err := e.Execute(ctx, "echo test")
	return err
}

// Close closes the SSH connection and agent connection
func (e *SSHExecutor) Close() error {
	var errs []error
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.agentConn != nil {
		if err := e.agentConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// getSSHAgentConnection connects to the SSH agent socket and returns the connection
// Returns error if SSH agent is not available
func getSSHAgentConnection() (net.Conn, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
	}

	return conn, nil
}
