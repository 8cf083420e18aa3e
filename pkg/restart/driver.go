package restart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zph/esroll/pkg/allocation"
	"github.com/zph/esroll/pkg/cluster/health"
	"github.com/zph/esroll/pkg/es"
	"github.com/zph/esroll/pkg/executor"
	"github.com/zph/esroll/pkg/logger"
	"github.com/zph/esroll/pkg/metrics"
	"github.com/zph/esroll/pkg/topology"
)

// NodeProber fetches a node's root document.
type NodeProber interface {
	Root(ctx context.Context, node string) (*es.NodeInfo, error)
}

// HealthReader returns the current cluster health.
type HealthReader interface {
	Health(ctx context.Context) (es.ClusterHealth, error)
}

// DriverConfig holds the collaborators of a Driver
type DriverConfig struct {
	Restarter  executor.Restarter
	Prober     NodeProber
	Health     HealthReader
	Allocation *allocation.Controller
	Ledger     *Ledger
	Wait       WaitConfig
	Clock      Clock     // default: RealClock()
	Out        io.Writer // default: os.Stdout
}

// Driver restarts a single node and waits until it is back.
type Driver struct {
	cfg DriverConfig
}

// NewDriver creates a driver
func NewDriver(cfg DriverConfig) *Driver {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Driver{cfg: cfg}
}

var (
	nodeSteps = []string{
		"Sending restart request",
		"Waiting for node to initiate shutdown",
		"Waiting for node to accept connections",
	}
	dataNodeSteps = []string{
		"Disabling shard allocation",
		"Sending restart request",
		"Waiting for node to initiate shutdown",
		"Waiting for node to accept connections",
		"Enabling shard allocation",
		"Waiting for shards to settle",
	}
)

// RestartAndAwait restarts host and blocks until it answers again. For data
// nodes allocation is disabled around the restart, re-enabled on every exit
// path, and the cluster must settle before the host is recorded.
// The host is appended to the ledger only when every step succeeded.
func (d *Driver) RestartAndAwait(ctx context.Context, host string, role topology.Role) error {
	fmt.Fprintf(d.cfg.Out, "Processing %s (%s)\n", host, role)
	start := d.cfg.Clock.Now()

	var err error
	if role == topology.RoleData {
		err = d.restartDataNode(ctx, host)
	} else {
		tracker := NewProgressTracker(d.cfg.Out, d.cfg.Clock, host, nodeSteps)
		err = d.restartAndWait(ctx, host, tracker, 0)
	}
	if err == nil {
		if appendErr := d.cfg.Ledger.Append(host); appendErr != nil {
			err = &HostError{Host: host, Step: StepLedger, Err: appendErr}
		}
	}

	metrics.RecordRestart(string(role), d.cfg.Clock.Now().Sub(start), err == nil)
	return err
}

func (d *Driver) restartDataNode(ctx context.Context, host string) error {
	tracker := NewProgressTracker(d.cfg.Out, d.cfg.Clock, host, dataNodeSteps)

	tracker.Step(0)
	err := d.cfg.Allocation.WithDisabled(ctx, host, func(ctx context.Context) error {
		if err := d.restartAndWait(ctx, host, tracker, 1); err != nil {
			return err
		}
		tracker.Step(4)
		return nil
	})
	if err != nil {
		var hostErr *HostError
		if !errors.As(err, &hostErr) {
			return &HostError{Host: host, Step: StepAllocation, Err: err}
		}
		return err
	}

	tracker.Step(5)
	err = poll(ctx, d.cfg.Clock, "settle", d.cfg.Wait.SettleInterval, d.cfg.Wait.SettleTimeout,
		func(ctx context.Context) (bool, error) {
			h, err := d.cfg.Health.Health(ctx)
			if err != nil {
				return false, err
			}
			logger.WithHost(host).Debugf("status=%s relocating=%d unassigned=%d",
				h.Status, h.RelocatingShards, h.UnassignedShards)
			return health.Settled(h), nil
		})
	if err != nil {
		return &HostError{Host: host, Step: StepSettle, Err: err}
	}
	tracker.Complete()
	return nil
}

// restartAndWait sends the restart, sleeps the grace period and polls the
// node's root endpoint. first is the tracker index of the restart step.
func (d *Driver) restartAndWait(ctx context.Context, host string, tracker *ProgressTracker, first int) error {
	tracker.Step(first)
	if err := d.cfg.Restarter.Restart(ctx, host); err != nil {
		return &HostError{Host: host, Step: StepRestart, Err: err}
	}

	tracker.Step(first + 1)
	if err := d.cfg.Clock.Sleep(ctx, d.cfg.Wait.Grace); err != nil {
		return &HostError{Host: host, Step: StepGrace, Err: err}
	}

	tracker.Step(first + 2)
	err := poll(ctx, d.cfg.Clock, "ready", d.cfg.Wait.ReadyInterval, d.cfg.Wait.ReadyTimeout,
		func(ctx context.Context) (bool, error) {
			info, err := d.cfg.Prober.Root(ctx, host)
			if err != nil {
				return false, err
			}
			return info.Ready(), nil
		})
	if err != nil {
		return &HostError{Host: host, Step: StepReady, Err: err}
	}

	if first == 0 {
		tracker.Complete()
	}
	return nil
}
