package executor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/ssh"
)

// SSHContainerConfig holds configuration for launching SSH containers
type SSHContainerConfig struct {
	ImageName      string        // default: "lscr.io/linuxserver/openssh-server:latest"
	Username       string        // default: "testuser"
	StartupTimeout time.Duration // default: 90s
}

// ContainerHost represents a running SSH container
type ContainerHost struct {
	Container testcontainers.Container
	SSHHost   string
	SSHPort   int
	Username  string
	KeyFile   string
	keyDir    string
}

func launchSSHContainer(ctx context.Context, config SSHContainerConfig) (*ContainerHost, error) {
	if config.ImageName == "" {
		config.ImageName = "lscr.io/linuxserver/openssh-server:latest"
	}
	if config.Username == "" {
		config.Username = "testuser"
	}
	if config.StartupTimeout == 0 {
		config.StartupTimeout = 90 * time.Second
	}

	keyDir, err := os.MkdirTemp("", "esroll-ssh-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create key dir: %w", err)
	}
	keyFile, authorizedKey, err := generateKeyPair(keyDir)
	if err != nil {
		os.RemoveAll(keyDir)
		return nil, err
	}

	req := testcontainers.ContainerRequest{
		Image:        config.ImageName,
		ExposedPorts: []string{"2222/tcp"},
		Env: map[string]string{
			"PUID":        "1000",
			"PGID":        "1000",
			"USER_NAME":   config.Username,
			"PUBLIC_KEY":  authorizedKey,
			"SUDO_ACCESS": "true",
		},
		WaitingFor: wait.ForListeningPort("2222/tcp").WithStartupTimeout(config.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		os.RemoveAll(keyDir)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, "2222")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped SSH port: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	return &ContainerHost{
		Container: container,
		SSHHost:   host,
		SSHPort:   mappedPort.Int(),
		Username:  config.Username,
		KeyFile:   keyFile,
		keyDir:    keyDir,
	}, nil
}

// generateKeyPair writes a fresh ed25519 private key to dir and returns its
// path and the authorized_keys line for it.
func generateKeyPair(dir string) (string, string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "esroll-test")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode key: %w", err)
	}
	keyFile := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(block), 0600); err != nil {
		return "", "", fmt.Errorf("failed to write key: %w", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode public key: %w", err)
	}
	return keyFile, strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))), nil
}

// SSHConfig returns the connection settings for this container
func (ch *ContainerHost) SSHConfig() SSHConfig {
	return SSHConfig{
		Host:    ch.SSHHost,
		Port:    ch.SSHPort,
		User:    ch.Username,
		KeyFile: ch.KeyFile,
		Timeout: 10 * time.Second,
	}
}

// connect retries until sshd accepts logins; the port opens before the
// user is provisioned.
func (ch *ContainerHost) connect(ctx context.Context, timeout time.Duration) (*SSHExecutor, error) {
	deadline := time.Now().Add(timeout)
	for {
		exec, err := NewSSHExecutor(ch.SSHConfig())
		if err == nil {
			return exec, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for SSH on %s:%d: %w", ch.SSHHost, ch.SSHPort, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Terminate stops the container
func (ch *ContainerHost) Terminate(ctx context.Context) error {
	defer os.RemoveAll(ch.keyDir)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return ch.Container.Terminate(ctx)
}
