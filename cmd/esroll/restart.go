package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zph/esroll/pkg/allocation"
	"github.com/zph/esroll/pkg/cluster/health"
	"github.com/zph/esroll/pkg/es"
	"github.com/zph/esroll/pkg/executor"
	"github.com/zph/esroll/pkg/logger"
	"github.com/zph/esroll/pkg/metrics"
	"github.com/zph/esroll/pkg/restart"
	"github.com/zph/esroll/pkg/syncaudit"
	"github.com/zph/esroll/pkg/topology"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Perform a rolling restart of an Elasticsearch cluster",
	Long: `Restart every node of one cluster from the topology file, one node at a time.

ORDER:
1. Master-eligible nodes
2. Client (coordinating) nodes
3. Data nodes

Before any restart the cluster must be green with no relocating and no
unassigned shards. Replica shards whose sync marker differs from the primary
are repaired with a synced flush; if some indices are still out of sync you
are asked whether to continue.

For each data node shard allocation is disabled before the restart and
re-enabled once the node answers again, then the run waits until the cluster
is green with nothing relocating.

Every restarted host is appended to the progress file. Running the command
again after a failure or interrupt skips those hosts. The file is removed
after a complete run.

Examples:
  # Choose the cluster interactively
  esroll restart --topology clusters.yaml

  # Restart a named cluster without the plan confirmation
  esroll restart --topology clusters.yaml --cluster "Production Cluster" --yes

  # Show which hosts are done and which are pending
  esroll restart --topology clusters.yaml --cluster "Production Cluster" --dry-run
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		if err := applyLogLevel(cfg.LogLevel); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runRestart(ctx, cfg, restart.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()), cmd.OutOrStdout())
	},
}

// operatorPrompter is what the restart command asks the operator.
type operatorPrompter interface {
	restart.Prompter
	SelectCluster(names []string) (int, error)
}

func runRestart(ctx context.Context, cfg *Config, prompter operatorPrompter, out io.Writer) error {
	file, err := topology.ParseTopologyFile(cfg.Topology)
	if err != nil {
		return err
	}
	c, err := selectCluster(file, cfg.Cluster, prompter)
	if err != nil {
		return err
	}

	ledger := restart.NewLedger(cfg.ProgressFile)
	done, err := ledger.Load()
	if err != nil {
		return err
	}

	printPlan(out, c, ledger.Path(), done)
	if cfg.DryRun {
		return nil
	}

	if !cfg.Yes {
		ok, err := prompter.Confirm(fmt.Sprintf("Proceed with rolling restart of %s?", c.Name))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Restart cancelled.")
			return restart.ErrDeclined
		}
	}

	if cfg.ForceUnlock {
		if err := restart.ForceUnlock(ledger.Path()); err != nil {
			return err
		}
	}
	lock, err := restart.AcquireLock(ledger.Path(), c.Name)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release run lock: %v", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		exporter := metrics.NewExporter(cfg.MetricsAddr)
		if err := exporter.Start(); err != nil {
			return err
		}
		logger.Info("Serving metrics on http://%s/metrics", exporter.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exporter.Stop(shutdownCtx); err != nil {
				logger.Error("Failed to stop metrics exporter: %v", err)
			}
		}()
	}

	client := es.NewClient(es.Config{
		Scheme:         cfg.ESScheme,
		Port:           cfg.ESPort,
		RequestTimeout: cfg.RequestTimeout,
		ProbeTimeout:   cfg.ProbeTimeout,
	})

	seq := restart.NewSequencer(restart.SequencerConfig{
		Cluster: c,
		Health:  health.NewProbe(client, c.Members()),
		Auditor: syncaudit.NewAuditor(client, c.Representative(), clusterVersion(ctx, client, c)),
		Driver: restart.NewDriver(restart.DriverConfig{
			Restarter:  executor.NewServiceRestarter(cfg.RestartCommand, cfg.sshConfig()),
			Prober:     client,
			Health:     health.NewProbe(client, c.Members()),
			Allocation: allocation.NewController(client, c.Members()...),
			Ledger:     ledger,
			Wait:       cfg.waitConfig(),
			Out:        out,
		}),
		Ledger:   ledger,
		Prompter: prompter,
		Out:      out,
	})

	result, err := seq.Run(ctx)
	if result != nil {
		printResult(out, result)
	}
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("Interrupted; rerun the same command to resume from %s", ledger.Path())
		}
		return err
	}
	fmt.Fprintf(out, "\nRolling restart of %s complete.\n", c.Name)
	return nil
}

// clusterVersion reads the Elasticsearch version from the representative
// node. An unknown version keeps the synced flush path.
func clusterVersion(ctx context.Context, client *es.Client, c *topology.Cluster) string {
	info, err := client.Root(ctx, c.Representative())
	if err != nil || info == nil {
		logger.Warn("Could not read cluster version from %s: %v", c.Representative(), err)
		return ""
	}
	logger.Debug("Cluster %s runs Elasticsearch %s", info.ClusterName, info.Version.Number)
	return info.Version.Number
}

func selectCluster(file *topology.File, name string, prompter operatorPrompter) (*topology.Cluster, error) {
	if name != "" {
		return file.Find(name)
	}
	if len(file.Clusters) == 1 {
		return &file.Clusters[0], nil
	}

	names := make([]string, len(file.Clusters))
	for i := range file.Clusters {
		names[i] = file.Clusters[i].Name
	}
	idx, err := prompter.SelectCluster(names)
	if err != nil {
		return nil, err
	}
	return &file.Clusters[idx], nil
}

var roleTitles = map[topology.Role]string{
	topology.RoleMaster: "Master nodes",
	topology.RoleClient: "Client nodes",
	topology.RoleData:   "Data nodes",
}

func printPlan(out io.Writer, c *topology.Cluster, ledgerPath string, done map[string]bool) {
	fmt.Fprintf(out, "Cluster: %s\n", c.Name)
	fmt.Fprintf(out, "Progress file: %s\n", ledgerPath)
	fmt.Fprintln(out, "\nRestart order:")

	pending := 0
	for _, g := range c.Groups() {
		if len(g.Hosts) == 0 {
			continue
		}
		fmt.Fprintf(out, "  %s (%d)\n", roleTitles[g.Role], len(g.Hosts))
		for _, h := range g.Hosts {
			status := "pending"
			if done[h] {
				status = "done"
			} else {
				pending++
			}
			fmt.Fprintf(out, "    %-40s %s\n", h, status)
		}
	}
	fmt.Fprintf(out, "\n%d of %d hosts to restart\n\n", pending, c.TotalHosts())
}

func printResult(out io.Writer, r *restart.Result) {
	for _, rep := range r.Repairs {
		if rep.Status == syncaudit.Failed {
			fmt.Fprintf(out, "  flush of %s failed: %v\n", rep.Index, rep.Err)
		}
	}
	if len(r.Residual) > 0 {
		fmt.Fprintf(out, "Indices left out of sync: %v\n", r.Residual)
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(out, "Skipped %d hosts already restarted\n", len(r.Skipped))
	}
}

func applyLogLevel(s string) error {
	lvl, err := logger.ParseLevel(s)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	return nil
}

func init() {
	rootCmd.AddCommand(restartCmd)
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	addRestartFlags(restartCmd.Flags())
}
