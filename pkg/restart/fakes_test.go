package restart

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zph/esroll/pkg/allocation"
	"github.com/zph/esroll/pkg/es"
	"github.com/zph/esroll/pkg/syncaudit"
	"github.com/zph/esroll/pkg/topology"
)

var errRefused = errors.New("connect: connection refused")

// fakeClock advances instantly on Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum time.Duration
	for _, d := range c.sleeps {
		sum += d
	}
	return sum
}

// events is a shared, ordered record of side effects across fakes.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeRestarter struct {
	ev     *events
	failOn map[string]error
	hosts  []string
}

func (f *fakeRestarter) Restart(_ context.Context, host string) error {
	f.hosts = append(f.hosts, host)
	f.ev.add("restart " + host)
	return f.failOn[host]
}

// fakeProber refuses connections for downFor probes per host, then serves
// the started-node root document.
type fakeProber struct {
	ev      *events
	downFor int
	never   bool
	probes  map[string]int
}

func (f *fakeProber) Root(_ context.Context, host string) (*es.NodeInfo, error) {
	if f.probes == nil {
		f.probes = map[string]int{}
	}
	f.probes[host]++
	if f.never || f.probes[host] <= f.downFor {
		return nil, errRefused
	}
	f.ev.add("ready " + host)
	return &es.NodeInfo{Name: host, Tagline: es.ExpectedTagline}, nil
}

// fakeHealth returns the queued answers in order and then repeats the last.
type fakeHealth struct {
	ev      *events
	answers []es.ClusterHealth
	err     error
	calls   int
}

func (f *fakeHealth) Health(context.Context) (es.ClusterHealth, error) {
	f.calls++
	if f.err != nil {
		return es.ClusterHealth{}, f.err
	}
	i := f.calls - 1
	if i >= len(f.answers) {
		i = len(f.answers) - 1
	}
	if f.ev != nil {
		f.ev.add("health " + string(f.answers[i].Status))
	}
	return f.answers[i], nil
}

func green() es.ClusterHealth {
	return es.ClusterHealth{ClusterName: "test", Status: es.StatusGreen}
}

type fakeSetter struct {
	ev     *events
	failOn map[es.AllocationMode]error
	// unreachable nodes refuse every write
	unreachable map[string]bool
	writes      []string
}

func (f *fakeSetter) SetAllocation(_ context.Context, node string, mode es.AllocationMode) error {
	f.writes = append(f.writes, string(mode)+"@"+node)
	if f.unreachable[node] {
		return errRefused
	}
	f.ev.add("allocation " + string(mode))
	return f.failOn[mode]
}

// fakeIndexAPI is an admin API whose synced flush aligns replica markers
// with the primary unless the index is stuck.
type fakeIndexAPI struct {
	ev     *events
	shards map[string]map[string][]es.ShardCopy
	stuck  map[string]bool
	audits int
}

func (f *fakeIndexAPI) Indices(context.Context, string) ([]string, error) {
	f.audits++
	var out []string
	for idx := range f.shards {
		out = append(out, idx)
	}
	return out, nil
}

func (f *fakeIndexAPI) ShardStats(_ context.Context, _ string, index string) (map[string][]es.ShardCopy, error) {
	return f.shards[index], nil
}

func (f *fakeIndexAPI) SyncedFlush(_ context.Context, _ string, index string) error {
	f.ev.add("flush " + index)
	if f.stuck[index] {
		return errors.New("409 pending operations")
	}
	id := "synced-" + index
	for shard, copies := range f.shards[index] {
		for i := range copies {
			f.shards[index][shard][i].SyncID = &id
		}
	}
	return nil
}

func (f *fakeIndexAPI) Flush(ctx context.Context, node, index string) error {
	return f.SyncedFlush(ctx, node, index)
}

func syncedIndex(marker string) map[string][]es.ShardCopy {
	return map[string][]es.ShardCopy{
		"0": {
			{Node: "d1", Primary: true, SyncID: &marker},
			{Node: "d2", Primary: false, SyncID: &marker},
		},
	}
}

// scriptedPrompter answers Confirm with the queued values.
type scriptedPrompter struct {
	answers   []bool
	questions []string
}

func (p *scriptedPrompter) Confirm(question string) (bool, error) {
	p.questions = append(p.questions, question)
	if len(p.answers) == 0 {
		return false, io.EOF
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

// harness wires a Sequencer and Driver over fakes.
type harness struct {
	ev        *events
	clock     *fakeClock
	restarter *fakeRestarter
	prober    *fakeProber
	health    *fakeHealth
	setter    *fakeSetter
	api       *fakeIndexAPI
	prompter  *scriptedPrompter
	ledger    *Ledger
	cluster   *topology.Cluster
}

func newHarness(t *testing.T, cluster *topology.Cluster) *harness {
	t.Helper()
	ev := &events{}
	return &harness{
		ev:        ev,
		clock:     newFakeClock(),
		restarter: &fakeRestarter{ev: ev},
		prober:    &fakeProber{ev: ev},
		health:    &fakeHealth{answers: []es.ClusterHealth{green()}},
		setter:    &fakeSetter{ev: ev},
		api: &fakeIndexAPI{ev: ev, shards: map[string]map[string][]es.ShardCopy{
			"logs-2024": syncedIndex("abc"),
		}},
		prompter: &scriptedPrompter{},
		ledger:   NewLedger(filepath.Join(t.TempDir(), "progress")),
		cluster:  cluster,
	}
}

func (h *harness) driver() *Driver {
	return NewDriver(DriverConfig{
		Restarter:  h.restarter,
		Prober:     h.prober,
		Health:     h.health,
		Allocation: allocation.NewController(h.setter, h.cluster.Members()...),
		Ledger:     h.ledger,
		Wait:       DefaultWaitConfig(),
		Clock:      h.clock,
		Out:        io.Discard,
	})
}

func (h *harness) sequencer() *Sequencer {
	return NewSequencer(SequencerConfig{
		Cluster:  h.cluster,
		Health:   h.health,
		Auditor:  syncaudit.NewAuditor(h.api, h.cluster.Representative(), "7.10.2"),
		Driver:   h.driver(),
		Ledger:   h.ledger,
		Prompter: h.prompter,
		Clock:    h.clock,
		Out:      io.Discard,
	})
}
