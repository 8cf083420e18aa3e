package restart

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zph/esroll/pkg/cluster/health"
	"github.com/zph/esroll/pkg/logger"
	"github.com/zph/esroll/pkg/metrics"
	"github.com/zph/esroll/pkg/syncaudit"
	"github.com/zph/esroll/pkg/topology"
)

// State is a step of the restart run
type State string

const (
	StatePreflight      State = "preflight"
	StateSyncAudit      State = "sync-audit"
	StateRestartMasters State = "restart-masters"
	StateRestartClients State = "restart-clients"
	StateRestartData    State = "restart-data"
	StateDone           State = "done"
	StateAborted        State = "aborted"
)

var allStates = []string{
	string(StatePreflight), string(StateSyncAudit), string(StateRestartMasters),
	string(StateRestartClients), string(StateRestartData), string(StateDone), string(StateAborted),
}

var groupStates = map[topology.Role]State{
	topology.RoleMaster: StateRestartMasters,
	topology.RoleClient: StateRestartClients,
	topology.RoleData:   StateRestartData,
}

// Auditor checks and repairs shard sync markers
type Auditor interface {
	Audit(ctx context.Context) (*syncaudit.Report, error)
	Repair(ctx context.Context, indices []string) []syncaudit.RepairResult
}

// HostRestarter restarts one host and waits for it
type HostRestarter interface {
	RestartAndAwait(ctx context.Context, host string, role topology.Role) error
}

// SequencerConfig holds the collaborators of a Sequencer
type SequencerConfig struct {
	Cluster  *topology.Cluster
	Health   HealthReader
	Auditor  Auditor
	Driver   HostRestarter
	Ledger   *Ledger
	Prompter Prompter
	Clock    Clock     // default: RealClock()
	Out      io.Writer // default: os.Stdout
}

// Result summarizes a finished run
type Result struct {
	Restarted []string
	Skipped   []string
	Repairs   []syncaudit.RepairResult
	// Residual lists indices still out of sync that the operator accepted.
	Residual []string
	Elapsed  time.Duration
}

// Sequencer drives a rolling restart of one cluster: pre-flight, sync
// audit, then masters, clients and data nodes one at a time.
type Sequencer struct {
	cfg   SequencerConfig
	state State
}

// NewSequencer creates a sequencer
func NewSequencer(cfg SequencerConfig) *Sequencer {
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Sequencer{cfg: cfg, state: StatePreflight}
}

// State returns the current state
func (s *Sequencer) State() State {
	return s.state
}

func (s *Sequencer) transition(to State) {
	if s.state != to {
		logger.WithField("state", string(to)).Debugf("sequencer: %s -> %s", s.state, to)
	}
	s.state = to
	metrics.SetState(string(to), allStates)
}

// Run executes the restart. Hosts in the ledger are skipped; the ledger is
// cleared only after every group finished.
func (s *Sequencer) Run(ctx context.Context) (*Result, error) {
	s.transition(StatePreflight)
	result, err := s.run(ctx)
	if err != nil {
		s.transition(StateAborted)
		return result, err
	}
	s.transition(StateDone)
	return result, nil
}

func (s *Sequencer) run(ctx context.Context) (*Result, error) {
	c := s.cfg.Cluster
	result := &Result{}
	progress := NewMultiNodeProgress(s.cfg.Out, s.cfg.Clock, c.TotalHosts())

	done, err := s.cfg.Ledger.Load()
	if err != nil {
		return result, err
	}
	if len(done) > 0 {
		logger.Info("Resuming: %d hosts already restarted according to %s", len(done), s.cfg.Ledger.Path())
	}

	h, err := s.cfg.Health.Health(ctx)
	if err != nil {
		return result, fmt.Errorf("pre-flight health check: %w", err)
	}
	if err := health.Preflight(h); err != nil {
		return result, err
	}
	logger.Info("Cluster %s is green with no relocating or unassigned shards", h.ClusterName)

	s.transition(StateSyncAudit)
	if err := s.auditAndRepair(ctx, result); err != nil {
		return result, err
	}

	for _, g := range c.Groups() {
		s.transition(groupStates[g.Role])
		for _, host := range g.Hosts {
			if done[host] {
				progress.NodeSkipped(host)
				metrics.RecordSkip(string(g.Role))
				result.Skipped = append(result.Skipped, host)
				continue
			}
			if err := s.cfg.Driver.RestartAndAwait(ctx, host, g.Role); err != nil {
				progress.NodeComplete(host, false)
				return result, err
			}
			progress.NodeComplete(host, true)
			result.Restarted = append(result.Restarted, host)
		}
	}

	result.Elapsed = progress.Summary()
	if err := s.cfg.Ledger.Clear(); err != nil {
		return result, err
	}
	return result, nil
}

// auditAndRepair flushes flagged indices once, re-audits, and asks the
// operator whether to go on if anything is still flagged.
func (s *Sequencer) auditAndRepair(ctx context.Context, result *Result) error {
	report, err := s.cfg.Auditor.Audit(ctx)
	if err != nil {
		return fmt.Errorf("sync audit: %w", err)
	}
	if report.Clean() {
		fmt.Fprintln(s.cfg.Out, "No indices need syncing.")
		return nil
	}

	result.Repairs = s.cfg.Auditor.Repair(ctx, report.Flagged())

	report, err = s.cfg.Auditor.Audit(ctx)
	if err != nil {
		return fmt.Errorf("sync audit after repair: %w", err)
	}
	if report.Clean() {
		return nil
	}

	ok, err := s.cfg.Prompter.Confirm("There are still indices that aren't synced, would you like to continue?")
	if err != nil {
		return err
	}
	if !ok {
		return ErrOperatorAbort
	}
	logger.Warn("Continuing with %d indices out of sync: %v", len(report.Flagged()), report.Flagged())
	result.Residual = report.Flagged()
	return nil
}
