package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zph/esroll/pkg/cluster/health"
	"github.com/zph/esroll/pkg/restart"
	"github.com/zph/esroll/pkg/topology"
)

const testTopology = `clusters:
  - name: Production Cluster
    master:
      - es-master-1
    client:
      - es-client-1
    data:
      - es-data-1
      - es-data-2
  - name: Staging
    data:
      - localhost
`

type stubPrompter struct {
	confirm   bool
	selection int
	asked     []string
}

func (p *stubPrompter) Confirm(q string) (bool, error) {
	p.asked = append(p.asked, q)
	return p.confirm, nil
}

func (p *stubPrompter) SelectCluster(names []string) (int, error) {
	p.asked = append(p.asked, fmt.Sprintf("select %v", names))
	return p.selection, nil
}

func writeTopology(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clusters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTopology), 0644))
	return path
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	addRestartFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"declined", restart.ErrDeclined, 0},
		{"preflight", fmt.Errorf("check: %w", health.ErrPreflight), 1},
		{"operator abort", restart.ErrOperatorAbort, 1},
		{"host failure", &restart.HostError{Host: "d1", Step: restart.StepRestart, Err: errors.New("boom")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(testFlags(t, "--topology", "c.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "c.yaml", cfg.Topology)
	assert.Equal(t, restart.DefaultLedgerPath, cfg.ProgressFile)
	assert.Equal(t, 9200, cfg.ESPort)
	assert.Equal(t, 15*time.Second, cfg.Grace)
	assert.Equal(t, restart.DefaultWaitConfig(), cfg.waitConfig())
}

func TestLoadConfig_EnvironmentAndFlags(t *testing.T) {
	t.Setenv("ESROLL_TOPOLOGY", "env.yaml")
	t.Setenv("ESROLL_PROGRESS_FILE", "/var/tmp/progress")
	t.Setenv("ESROLL_READY_TIMEOUT", "10m")
	t.Setenv("ESROLL_SSH_USER", "envuser")

	cfg, err := loadConfig(testFlags(t, "--ssh-user", "flaguser"))
	require.NoError(t, err)

	assert.Equal(t, "env.yaml", cfg.Topology)
	assert.Equal(t, "/var/tmp/progress", cfg.ProgressFile)
	assert.Equal(t, 10*time.Minute, cfg.ReadyTimeout)
	assert.Equal(t, "flaguser", cfg.sshConfig().User, "flag wins over environment")
}

func TestLoadConfig_TopologyRequired(t *testing.T) {
	_, err := loadConfig(testFlags(t))
	assert.Error(t, err)
}

func TestTopologyPath(t *testing.T) {
	newFlags := func(args ...string) *pflag.FlagSet {
		fs := pflag.NewFlagSet("clusters", pflag.ContinueOnError)
		fs.String("topology", "", "")
		require.NoError(t, fs.Parse(args))
		return fs
	}

	t.Setenv("ESROLL_TOPOLOGY", "env.yaml")
	path, err := topologyPath(newFlags())
	require.NoError(t, err)
	assert.Equal(t, "env.yaml", path)

	path, err = topologyPath(newFlags("--topology", "flag.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "flag.yaml", path)

	t.Setenv("ESROLL_TOPOLOGY", "")
	_, err = topologyPath(newFlags())
	assert.Error(t, err)
}

func TestClustersCommand_TopologyFromEnvironment(t *testing.T) {
	t.Setenv("ESROLL_TOPOLOGY", writeTopology(t))

	var out bytes.Buffer
	clustersCmd.SetOut(&out)
	defer clustersCmd.SetOut(nil)

	require.NoError(t, clustersCmd.RunE(clustersCmd, nil))
	assert.Contains(t, out.String(), "Production Cluster")
}

func TestRunRestart_DryRun(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "progress")
	require.NoError(t, restart.NewLedger(ledgerPath).Append("es-master-1"))

	cfg := &Config{
		Topology:     writeTopology(t),
		Cluster:      "Production Cluster",
		ProgressFile: ledgerPath,
		DryRun:       true,
	}
	p := &stubPrompter{}
	var out bytes.Buffer

	require.NoError(t, runRestart(context.Background(), cfg, p, &out))

	s := out.String()
	assert.Contains(t, s, "Cluster: Production Cluster")
	assert.Regexp(t, `es-master-1\s+done`, s)
	assert.Regexp(t, `es-data-2\s+pending`, s)
	assert.Contains(t, s, "3 of 4 hosts to restart")
	assert.Empty(t, p.asked, "dry run asks nothing")

	_, err := os.Stat(restart.LockPath(ledgerPath))
	assert.True(t, os.IsNotExist(err), "dry run takes no lock")
}

func TestRunRestart_Declined(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "progress")
	cfg := &Config{
		Topology:     writeTopology(t),
		ProgressFile: ledgerPath,
	}
	p := &stubPrompter{selection: 1, confirm: false}
	var out bytes.Buffer

	err := runRestart(context.Background(), cfg, p, &out)
	require.ErrorIs(t, err, restart.ErrDeclined)
	assert.Equal(t, 0, exitCode(err))

	require.Len(t, p.asked, 2)
	assert.Equal(t, "select [Production Cluster Staging]", p.asked[0])
	assert.Equal(t, "Proceed with rolling restart of Staging?", p.asked[1])
	assert.Contains(t, out.String(), "Restart cancelled.")

	_, statErr := os.Stat(restart.LockPath(ledgerPath))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunRestart_UnknownCluster(t *testing.T) {
	cfg := &Config{
		Topology:     writeTopology(t),
		Cluster:      "nope",
		ProgressFile: filepath.Join(t.TempDir(), "progress"),
	}
	err := runRestart(context.Background(), cfg, &stubPrompter{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, `cluster "nope" not found`)
}

func TestRunRestart_LockedByAnotherRun(t *testing.T) {
	ledgerPath := filepath.Join(t.TempDir(), "progress")
	lock, err := restart.AcquireLock(ledgerPath, "Production Cluster")
	require.NoError(t, err)
	defer lock.Release()

	cfg := &Config{
		Topology:     writeTopology(t),
		Cluster:      "Production Cluster",
		ProgressFile: ledgerPath,
		Yes:          true,
	}
	err = runRestart(context.Background(), cfg, &stubPrompter{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "--force-unlock")
}

func TestSelectCluster_SingleClusterNeedsNoPrompt(t *testing.T) {
	file := &topology.File{Clusters: []topology.Cluster{{Name: "only", Data: []string{"d1"}}}}
	p := &stubPrompter{}

	c, err := selectCluster(file, "", p)
	require.NoError(t, err)
	assert.Equal(t, "only", c.Name)
	assert.Empty(t, p.asked)
}

func TestListClusters(t *testing.T) {
	file, err := topology.ParseTopologyFile(writeTopology(t))
	require.NoError(t, err)

	var out bytes.Buffer
	listClusters(&out, file)

	assert.Regexp(t, `Production Cluster\s+1\s+1\s+2`, out.String())
	assert.Regexp(t, `Staging\s+0\s+0\s+1`, out.String())
}
