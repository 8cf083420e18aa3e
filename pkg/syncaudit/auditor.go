package syncaudit

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/hashicorp/go-version"

	"github.com/zph/esroll/pkg/es"
	"github.com/zph/esroll/pkg/logger"
	"github.com/zph/esroll/pkg/metrics"
)

// API is the part of the admin API the auditor needs.
type API interface {
	Indices(ctx context.Context, node string) ([]string, error)
	ShardStats(ctx context.Context, node, index string) (map[string][]es.ShardCopy, error)
	SyncedFlush(ctx context.Context, node, index string) error
	Flush(ctx context.Context, node, index string) error
}

// ShardState holds the sync markers of one shard id.
type ShardState struct {
	Primary  *string
	Replicas []*string
}

// State maps index -> shard id -> markers. It is built from one stats
// snapshot per index and discarded after the audit.
type State map[string]map[string]*ShardState

// Mismatch is a replica whose marker differs from its primary's.
type Mismatch struct {
	Index   string
	Shard   string
	Primary *string
	Replica string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("index %s shard %s: primary %s, replica %s", m.Index, m.Shard, marker(m.Primary), m.Replica)
}

// MissingMarker is a shard copy without a sync marker.
type MissingMarker struct {
	Index   string
	Shard   string
	Node    string
	Primary bool
}

func (m MissingMarker) String() string {
	kind := "replica"
	if m.Primary {
		kind = "primary"
	}
	return fmt.Sprintf("index %s shard %s: %s on %s has no sync marker", m.Index, m.Shard, kind, m.Node)
}

// Report is the outcome of one audit.
type Report struct {
	State      State
	Mismatches []Mismatch
	Missing    []MissingMarker
	flagged    map[string]struct{}
}

func newReport() *Report {
	return &Report{State: State{}, flagged: map[string]struct{}{}}
}

// Flagged returns the indices that need a flush, each exactly once, sorted.
func (r *Report) Flagged() []string {
	out := make([]string, 0, len(r.flagged))
	for idx := range r.flagged {
		out = append(out, idx)
	}
	sort.Strings(out)
	return out
}

// Clean reports whether no index was flagged.
func (r *Report) Clean() bool {
	return len(r.flagged) == 0
}

// add classifies the copies of one shard and flags the index if any marker
// is missing or any replica disagrees with the primary.
func (r *Report) add(index, shard string, copies []es.ShardCopy) {
	st := &ShardState{}
	if r.State[index] == nil {
		r.State[index] = map[string]*ShardState{}
	}
	r.State[index][shard] = st

	for _, c := range copies {
		if c.SyncID == nil {
			r.Missing = append(r.Missing, MissingMarker{Index: index, Shard: shard, Node: c.Node, Primary: c.Primary})
			r.flagged[index] = struct{}{}
		}
		if c.Primary {
			st.Primary = c.SyncID
		} else {
			st.Replicas = append(st.Replicas, c.SyncID)
		}
	}

	for _, rep := range st.Replicas {
		if rep == nil {
			continue
		}
		if st.Primary == nil || *rep != *st.Primary {
			r.Mismatches = append(r.Mismatches, Mismatch{Index: index, Shard: shard, Primary: st.Primary, Replica: *rep})
			r.flagged[index] = struct{}{}
		}
	}
}

// Auditor compares primary and replica sync markers through one node.
type Auditor struct {
	api         API
	node        string
	syncedFlush bool
}

// NewAuditor creates an auditor that talks to node. clusterVersion decides
// whether synced flush is available.
func NewAuditor(api API, node, clusterVersion string) *Auditor {
	return &Auditor{
		api:         api,
		node:        node,
		syncedFlush: SupportsSyncedFlush(clusterVersion),
	}
}

// Audit reads shard stats for every index and returns the report.
func (a *Auditor) Audit(ctx context.Context) (*Report, error) {
	logger.Info("Checking sync ids via %s", a.node)

	indices, err := a.api.Indices(ctx, a.node)
	if err != nil {
		return nil, fmt.Errorf("failed to list indices: %w", err)
	}

	report := newReport()
	for _, index := range indices {
		shards, err := a.api.ShardStats(ctx, a.node, index)
		if err != nil {
			return nil, fmt.Errorf("failed to read shard stats: %w", err)
		}
		for _, id := range sortedShardIDs(shards) {
			report.add(index, id, shards[id])
		}
	}

	for _, m := range report.Mismatches {
		logger.Warn("Mismatch on %s", m)
	}
	for _, m := range report.Missing {
		logger.Debug("%s", m)
	}
	if !report.Clean() {
		logger.Warn("Indices that need syncing: %v", report.Flagged())
	}
	metrics.FlaggedIndices.Set(float64(len(report.flagged)))

	return report, nil
}

// RepairStatus is the outcome of one flush.
type RepairStatus string

const (
	Synced RepairStatus = "synced"
	Failed RepairStatus = "failed"
)

// RepairResult is the per-index outcome of Repair.
type RepairResult struct {
	Index  string
	Status RepairStatus
	Err    error
}

// Repair flushes each index in turn. A failed flush (usually in-flight
// writes) is recorded and the remaining indices are still attempted.
func (a *Auditor) Repair(ctx context.Context, indices []string) []RepairResult {
	if !a.syncedFlush && len(indices) > 0 {
		logger.Warn("Synced flush is not available on this cluster version, issuing a plain flush")
	}

	results := make([]RepairResult, 0, len(indices))
	for _, index := range indices {
		if err := ctx.Err(); err != nil {
			results = append(results, RepairResult{Index: index, Status: Failed, Err: err})
			continue
		}

		logger.Info("Executing a sync flush on %s", index)
		var err error
		if a.syncedFlush {
			err = a.api.SyncedFlush(ctx, a.node, index)
		} else {
			err = a.api.Flush(ctx, a.node, index)
		}

		if err != nil {
			logger.Warn("Flush failed for %s (there are probably active writes): %v", index, err)
			results = append(results, RepairResult{Index: index, Status: Failed, Err: err})
			metrics.RecordRepair(false)
			continue
		}
		logger.Info("Synced %s", index)
		results = append(results, RepairResult{Index: index, Status: Synced})
		metrics.RecordRepair(true)
	}
	return results
}

var syncedFlushConstraint = version.MustConstraints(version.NewConstraint("< 8.0"))

// SupportsSyncedFlush reports whether the cluster version still has the
// _flush/synced endpoint. Unknown versions are assumed to have it.
func SupportsSyncedFlush(clusterVersion string) bool {
	if clusterVersion == "" {
		return true
	}
	v, err := version.NewVersion(clusterVersion)
	if err != nil {
		logger.Debug("cannot parse cluster version %q: %v", clusterVersion, err)
		return true
	}
	return syncedFlushConstraint.Check(v.Core())
}

func sortedShardIDs(shards map[string][]es.ShardCopy) []string {
	ids := make([]string, 0, len(shards))
	for id := range shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
	return ids
}

func marker(s *string) string {
	if s == nil {
		return "<none>"
	}
	return *s
}
