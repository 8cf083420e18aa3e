package restart

import (
	"fmt"
	"io"
	"time"
)

// ProgressTracker prints numbered steps of one node restart
type ProgressTracker struct {
	out   io.Writer
	clock Clock
	label string
	steps []string
	start time.Time
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(out io.Writer, clock Clock, label string, steps []string) *ProgressTracker {
	return &ProgressTracker{
		out:   out,
		clock: clock,
		label: label,
		steps: steps,
		start: clock.Now(),
	}
}

// Step prints the step at stepIndex with the elapsed time
func (p *ProgressTracker) Step(stepIndex int) {
	if stepIndex >= len(p.steps) {
		return
	}
	elapsed := p.clock.Now().Sub(p.start)
	fmt.Fprintf(p.out, "   |- [%d/%d] %s (elapsed: %s)\n",
		stepIndex+1, len(p.steps), p.steps[stepIndex], elapsed.Round(time.Second))
}

// Complete marks the node as done
func (p *ProgressTracker) Complete() {
	elapsed := p.clock.Now().Sub(p.start)
	fmt.Fprintf(p.out, "   |- Complete. Logging completion. (total time: %s)\n", elapsed.Round(time.Second))
}

// Elapsed returns the time since the tracker started
func (p *ProgressTracker) Elapsed() time.Duration {
	return p.clock.Now().Sub(p.start)
}

// MultiNodeProgress tracks progress across all hosts of a run
type MultiNodeProgress struct {
	out       io.Writer
	clock     Clock
	total     int
	completed int
	skipped   int
	failed    int
	start     time.Time
}

// NewMultiNodeProgress creates a tracker for multiple nodes
func NewMultiNodeProgress(out io.Writer, clock Clock, total int) *MultiNodeProgress {
	return &MultiNodeProgress{
		out:   out,
		clock: clock,
		total: total,
		start: clock.Now(),
	}
}

// NodeComplete marks a node as completed
func (m *MultiNodeProgress) NodeComplete(node string, success bool) {
	if success {
		m.completed++
		fmt.Fprintf(m.out, "  ✓ Node %s restarted (%d/%d complete, elapsed: %s)\n",
			node, m.done(), m.total, m.clock.Now().Sub(m.start).Round(time.Second))
		return
	}
	m.failed++
	fmt.Fprintf(m.out, "  ✗ Node %s failed (%d/%d complete, %d failed)\n",
		node, m.done(), m.total, m.failed)
}

// NodeSkipped marks a node finished by an earlier run
func (m *MultiNodeProgress) NodeSkipped(node string) {
	m.skipped++
	fmt.Fprintf(m.out, "   |- %s is already finished, skipping...\n", node)
}

func (m *MultiNodeProgress) done() int {
	return m.completed + m.skipped
}

// Summary prints final summary and returns the elapsed time
func (m *MultiNodeProgress) Summary() time.Duration {
	elapsed := m.clock.Now().Sub(m.start)
	fmt.Fprintf(m.out, "\nSummary: %d restarted, %d skipped, %d failed of %d nodes\n",
		m.completed, m.skipped, m.failed, m.total)
	fmt.Fprintf(m.out, "Total restart time: %ds\n", int(elapsed.Seconds()))
	return elapsed
}
