package health

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zph/esroll/pkg/es"
	"github.com/zph/esroll/pkg/logger"
)

// ErrPreflight is wrapped by every pre-flight rejection.
var ErrPreflight = errors.New("pre-flight check failed")

// Source answers _cluster/health through one node.
type Source interface {
	Health(ctx context.Context, node string) (es.ClusterHealth, error)
}

// UnreachableError is returned when no cluster member answered.
type UnreachableError struct {
	Members []string
	Err     error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("no cluster member reachable (tried %s): %v", strings.Join(e.Members, ", "), e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Probe reads aggregate cluster health from the first member that answers.
type Probe struct {
	source  Source
	members []string
}

// NewProbe creates a probe that asks members in the given order.
func NewProbe(source Source, members []string) *Probe {
	return &Probe{source: source, members: members}
}

// Health returns the current cluster health snapshot.
func (p *Probe) Health(ctx context.Context) (es.ClusterHealth, error) {
	var lastErr error
	for _, node := range p.members {
		h, err := p.source.Health(ctx, node)
		if err == nil {
			return h, nil
		}
		if ctx.Err() != nil {
			return es.ClusterHealth{}, ctx.Err()
		}
		logger.Debug("health via %s failed: %v", node, err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no members configured")
	}
	return es.ClusterHealth{}, &UnreachableError{Members: p.members, Err: lastErr}
}

// Preflight rejects a cluster that is rebalancing, degraded or has
// unassigned shards.
func Preflight(h es.ClusterHealth) error {
	if h.RelocatingShards > 0 {
		return fmt.Errorf("%w: cluster is rebalancing, %d shards relocating", ErrPreflight, h.RelocatingShards)
	}
	if h.Status != es.StatusGreen {
		return fmt.Errorf("%w: cluster health is %s, not green", ErrPreflight, h.Status)
	}
	if h.UnassignedShards > 0 {
		return fmt.Errorf("%w: %d unassigned shards, resolve them before a rolling restart", ErrPreflight, h.UnassignedShards)
	}
	return nil
}

// Settled reports whether shards have finished moving after a restart.
func Settled(h es.ClusterHealth) bool {
	return h.RelocatingShards == 0 && h.Status == es.StatusGreen && h.UnassignedShards == 0
}
