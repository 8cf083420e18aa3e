package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/zph/esroll/pkg/es"
	"github.com/zph/esroll/pkg/logger"
)

// Setter writes the cluster-wide allocation setting through a node.
type Setter interface {
	SetAllocation(ctx context.Context, node string, mode es.AllocationMode) error
}

// Controller toggles shard allocation around data-node restarts.
type Controller struct {
	setter  Setter
	members []string
}

// NewController creates a controller. Enable falls back to members, in
// order, when the node it is asked to use does not accept the write.
func NewController(setter Setter, members ...string) *Controller {
	return &Controller{setter: setter, members: members}
}

// Disable sets allocation to none. Rewriting an existing none is harmless.
func (c *Controller) Disable(ctx context.Context, node string) error {
	logger.WithHost(node).Info("Disabling shard allocation on the cluster")
	if err := c.setter.SetAllocation(ctx, node, es.AllocationNone); err != nil {
		return fmt.Errorf("failed to disable allocation: %w", err)
	}
	return nil
}

// Enable sets allocation back to all, through node first and then through
// the other members. It fails only when no node accepted the write.
func (c *Controller) Enable(ctx context.Context, node string) error {
	logger.WithHost(node).Info("Enabling shard allocation on the cluster")

	var errs []error
	for _, target := range c.targets(node) {
		err := c.setter.SetAllocation(ctx, target, es.AllocationAll)
		if err == nil {
			if target != node {
				logger.WithHost(node).Warnf("Allocation enabled through %s", target)
			}
			return nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("failed to enable allocation: %w", errors.Join(errs...))
}

func (c *Controller) targets(node string) []string {
	out := []string{node}
	for _, m := range c.members {
		if m != node {
			out = append(out, m)
		}
	}
	return out
}

// WithDisabled disables allocation, runs fn and re-enables allocation on
// every exit path of fn, including a panic. The enable request is not
// cancelled with ctx: an interrupted run must not leave allocation off.
// If disabling fails fn is not run.
func (c *Controller) WithDisabled(ctx context.Context, node string, fn func(ctx context.Context) error) (err error) {
	if err := c.Disable(ctx, node); err != nil {
		return err
	}

	defer func() {
		r := recover()
		if enableErr := c.Enable(context.WithoutCancel(ctx), node); enableErr != nil {
			logger.WithHost(node).Errorf("Allocation is still disabled: %v", enableErr)
			err = errors.Join(err, enableErr)
		}
		if r != nil {
			panic(r)
		}
	}()

	return fn(ctx)
}
