package restart

import (
	"errors"
	"fmt"
)

var (
	// ErrOperatorAbort is returned when the operator declines to continue
	// with indices still out of sync.
	ErrOperatorAbort = errors.New("aborted by operator")

	// ErrDeclined is returned when the operator does not confirm the plan.
	// Nothing has been touched at that point.
	ErrDeclined = errors.New("restart plan declined")

	// ErrWaitTimeout is returned by a poll that has an optional deadline
	// configured and did not succeed in time.
	ErrWaitTimeout = errors.New("timed out waiting")
)

// Step names the part of a node restart that failed.
type Step string

const (
	StepRestart    Step = "restart"
	StepGrace      Step = "grace"
	StepReady      Step = "ready"
	StepAllocation Step = "allocation"
	StepSettle     Step = "settle"
	StepLedger     Step = "ledger"
)

// HostError is a fatal failure while restarting one host.
type HostError struct {
	Host string
	Step Step
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Host, e.Step, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }
