package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zph/esroll/pkg/executor"
	"github.com/zph/esroll/pkg/restart"
)

// Config holds the runtime settings of a restart. Every field comes from a
// flag or the matching ESROLL_* environment variable.
type Config struct {
	Topology     string `mapstructure:"topology"`
	Cluster      string `mapstructure:"cluster"`
	ProgressFile string `mapstructure:"progress-file"`
	Yes          bool   `mapstructure:"yes"`
	DryRun       bool   `mapstructure:"dry-run"`
	ForceUnlock  bool   `mapstructure:"force-unlock"`
	LogLevel     string `mapstructure:"log-level"`
	MetricsAddr  string `mapstructure:"metrics-addr"`

	ESScheme       string        `mapstructure:"es-scheme"`
	ESPort         int           `mapstructure:"es-port"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	ProbeTimeout   time.Duration `mapstructure:"probe-timeout"`

	RestartCommand string        `mapstructure:"restart-command"`
	SSHUser        string        `mapstructure:"ssh-user"`
	SSHPort        int           `mapstructure:"ssh-port"`
	IdentityFile   string        `mapstructure:"identity-file"`
	KnownHosts     string        `mapstructure:"known-hosts"`
	SSHTimeout     time.Duration `mapstructure:"ssh-timeout"`

	Grace          time.Duration `mapstructure:"grace"`
	ReadyInterval  time.Duration `mapstructure:"ready-interval"`
	SettleInterval time.Duration `mapstructure:"settle-interval"`
	ReadyTimeout   time.Duration `mapstructure:"ready-timeout"`
	SettleTimeout  time.Duration `mapstructure:"settle-timeout"`
}

func addRestartFlags(fs *pflag.FlagSet) {
	wait := restart.DefaultWaitConfig()

	fs.String("topology", "", "Path to the cluster topology YAML file")
	fs.String("cluster", "", "Name of the cluster to restart (default: choose interactively)")
	fs.String("progress-file", restart.DefaultLedgerPath, "File recording restarted hosts, used to resume")
	fs.Bool("yes", false, "Skip the plan confirmation prompt")
	fs.Bool("dry-run", false, "Print the restart plan and progress without touching the cluster")
	fs.Bool("force-unlock", false, "Remove a stale run lock before starting")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9108)")

	fs.String("es-scheme", "http", "Scheme of the Elasticsearch HTTP API")
	fs.Int("es-port", 9200, "Port of the Elasticsearch HTTP API")
	fs.Duration("request-timeout", 30*time.Second, "Timeout for admin API requests")
	fs.Duration("probe-timeout", time.Second, "Timeout for a single readiness probe")

	fs.String("restart-command", executor.DefaultRestartCommand, "Command run on each host to restart Elasticsearch")
	fs.String("ssh-user", "", "SSH user (default: $USER)")
	fs.Int("ssh-port", 22, "SSH port")
	fs.String("identity-file", "", "SSH private key path (default: ssh-agent)")
	fs.String("known-hosts", "", "known_hosts file for host key verification")
	fs.Duration("ssh-timeout", 30*time.Second, "SSH connect timeout")

	fs.Duration("grace", wait.Grace, "Wait after the restart command before polling the node")
	fs.Duration("ready-interval", wait.ReadyInterval, "Interval between readiness probes")
	fs.Duration("settle-interval", wait.SettleInterval, "Interval between cluster health checks after a data node restart")
	fs.Duration("ready-timeout", 0, "Give up waiting for a node after this long (0 waits forever)")
	fs.Duration("settle-timeout", 0, "Give up waiting for shards to settle after this long (0 waits forever)")
}

// loadConfig resolves flags and ESROLL_* environment variables. A flag set
// on the command line wins over the environment.
func loadConfig(fs *pflag.FlagSet) (*Config, error) {
	v, err := bindSettings(fs)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if cfg.Topology == "" {
		return nil, fmt.Errorf("a topology file is required (--topology or ESROLL_TOPOLOGY)")
	}
	return &cfg, nil
}

func bindSettings(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("ESROLL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// topologyPath resolves --topology or ESROLL_TOPOLOGY for commands that need
// nothing else.
func topologyPath(fs *pflag.FlagSet) (string, error) {
	v, err := bindSettings(fs)
	if err != nil {
		return "", err
	}
	path := v.GetString("topology")
	if path == "" {
		return "", fmt.Errorf("a topology file is required (--topology or ESROLL_TOPOLOGY)")
	}
	return path, nil
}

func (c *Config) waitConfig() restart.WaitConfig {
	return restart.WaitConfig{
		Grace:          c.Grace,
		ReadyInterval:  c.ReadyInterval,
		SettleInterval: c.SettleInterval,
		ReadyTimeout:   c.ReadyTimeout,
		SettleTimeout:  c.SettleTimeout,
	}
}

func (c *Config) sshConfig() executor.SSHConfig {
	return executor.SSHConfig{
		Port:           c.SSHPort,
		User:           c.SSHUser,
		KeyFile:        c.IdentityFile,
		KnownHostsFile: c.KnownHosts,
		Timeout:        c.SSHTimeout,
	}
}
