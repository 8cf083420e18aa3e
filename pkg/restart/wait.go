package restart

import (
	"context"
	"fmt"
	"time"

	"github.com/zph/esroll/pkg/logger"
	"github.com/zph/esroll/pkg/metrics"
)

// Clock is the time source for grace sleeps and poll intervals.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitConfig defines the pacing of a node restart
type WaitConfig struct {
	Grace          time.Duration // Default: 15s, after the restart command
	ReadyInterval  time.Duration // Default: 1s, between readiness probes
	SettleInterval time.Duration // Default: 2s, between cluster health checks

	// Zero means wait forever.
	ReadyTimeout  time.Duration
	SettleTimeout time.Duration
}

// DefaultWaitConfig returns default wait times
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Grace:          15 * time.Second,
		ReadyInterval:  time.Second,
		SettleInterval: 2 * time.Second,
	}
}

// poll calls check every interval until it reports done. Errors from check
// count as "not yet" and are only logged. A zero timeout never expires.
func poll(ctx context.Context, clock Clock, name string, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	start := clock.Now()
	for attempt := 1; ; attempt++ {
		ok, err := check(ctx)
		if ok {
			return nil
		}
		if err != nil {
			logger.Debug("%s poll attempt %d: %v", name, attempt, err)
		}
		metrics.RecordPollRetry(name)

		if timeout > 0 && clock.Now().Sub(start) >= timeout {
			return fmt.Errorf("%w for %s after %s", ErrWaitTimeout, name, timeout)
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}
