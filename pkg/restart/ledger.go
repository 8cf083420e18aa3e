package restart

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultLedgerPath is where progress is kept unless overridden.
const DefaultLedgerPath = "/tmp/esroll_progress"

// Ledger records hosts that finished restarting, one per line, so an
// interrupted run can resume. It has a single writer.
type Ledger struct {
	path string
}

// NewLedger creates a ledger backed by path
func NewLedger(path string) *Ledger {
	if path == "" {
		path = DefaultLedgerPath
	}
	return &Ledger{path: path}
}

// Path returns the ledger file path
func (l *Ledger) Path() string {
	return l.path
}

// Load returns the completed hosts. A missing file means no progress.
func (l *Ledger) Load() (map[string]bool, error) {
	done := make(map[string]bool)

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return done, nil
		}
		return nil, fmt.Errorf("failed to open progress file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if host := strings.TrimSpace(scanner.Text()); host != "" {
			done[host] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}
	return done, nil
}

// Append records host as complete. The line is on disk when Append returns.
func (l *Ledger) Append(host string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create progress directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open progress file: %w", err)
	}

	if _, err := f.WriteString(host + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("failed to write progress file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync progress file: %w", err)
	}
	return f.Close()
}

// Clear removes the ledger.
func (l *Ledger) Clear() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove progress file: %w", err)
	}
	return nil
}
