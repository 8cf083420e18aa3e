package restart

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// RunLock marks a ledger as in use so two orchestrators cannot restart the
// same cluster at once. It lives next to the ledger as <ledger>.lock.
type RunLock struct {
	ClusterName string    `json:"cluster_name"`
	LockedBy    string    `json:"locked_by"` // "user@host:pid"
	LockedAt    time.Time `json:"locked_at"`

	ledgerPath string
}

// LockPath returns the lock file path for a ledger
func LockPath(ledgerPath string) string {
	return ledgerPath + ".lock"
}

// AcquireLock creates the lock file, failing if another run holds it
func AcquireLock(ledgerPath, clusterName string) (*RunLock, error) {
	lock := &RunLock{
		ClusterName: clusterName,
		LockedBy:    getLockedByIdentifier(),
		LockedAt:    time.Now(),
		ledgerPath:  ledgerPath,
	}
	path := LockPath(ledgerPath)

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize lock: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			if held, readErr := ReadLock(ledgerPath); readErr == nil {
				return nil, fmt.Errorf("cluster %s is locked by %s since %s (remove with --force-unlock if stale)",
					held.ClusterName, held.LockedBy, held.LockedAt.Format(time.RFC3339))
			}
			return nil, fmt.Errorf("lock file %s already exists", path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return lock, nil
}

// ReadLock returns the lock currently held on a ledger
func ReadLock(ledgerPath string) (*RunLock, error) {
	data, err := os.ReadFile(LockPath(ledgerPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	var lock RunLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.ledgerPath = ledgerPath
	return &lock, nil
}

// Release removes the lock if this process still owns it
func (l *RunLock) Release() error {
	current, err := ReadLock(l.ledgerPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if current.LockedBy != l.LockedBy {
		return fmt.Errorf("cannot release lock: owned by %s, not %s", current.LockedBy, l.LockedBy)
	}
	if err := os.Remove(LockPath(l.ledgerPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// ForceUnlock removes a lock regardless of ownership
func ForceUnlock(ledgerPath string) error {
	if err := os.Remove(LockPath(ledgerPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// getLockedByIdentifier returns a string identifying the current process
// Format: "user@hostname:pid"
func getLockedByIdentifier() string {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s@%s:%d", user, hostname, os.Getpid())
}
