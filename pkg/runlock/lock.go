// Package runlock serializes renewal runs. A run mutates the certificate
// store, the bundles and the proxy state; two cron-started runs interleaving
// would race on all three, so each run holds an exclusive lock on a
// well-known file for its whole duration.
package runlock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StaleAfter is the age past which a held lock is treated as abandoned,
// covering a previous run wedged on a hung CA client.
const StaleAfter = time.Hour

// Info identifies the holder of the run lock.
type Info struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Who       string    `json:"who"` // user@hostname
	Created   time.Time `json:"created"`
	PID       int       `json:"pid"`
}

// Lock guards a renewal run through an exclusive lock on a file.
type Lock struct {
	path string
	file *os.File // kept open while the lock is held
}

// New creates a lock at the given path.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) newInfo(operation string) *Info {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}

	return &Info{
		ID:        fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()),
		Operation: operation,
		Who:       fmt.Sprintf("%s@%s", username, hostname),
		Created:   time.Now(),
		PID:       os.Getpid(),
	}
}

// forceAcquire takes over a stale lock by removing the file and acquiring a
// fresh one. The previous holder keeps its lock on the removed inode, which
// no longer conflicts.
func (l *Lock) forceAcquire(operation string) (*Info, error) {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale lock: %w", err)
	}
	return l.Acquire(operation)
}

// Holder returns information about the current lock holder, or nil when the
// lock file does not exist.
func (l *Lock) Holder() (*Info, error) {
	return l.readInfo()
}

func (l *Lock) readInfo() (*Info, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

func (l *Lock) writeInfo(file *os.File, info *Info) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock file: %w", err)
	}

	return nil
}

func (l *Lock) openLockFile() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return file, nil
}

// heldByError formats the error for a lock held by a live run.
func (l *Lock) heldByError(holder *Info) error {
	return fmt.Errorf("another renewal run is active: %s (operation: %s, started: %s ago); "+
		"delete %s if you are sure it is dead",
		holder.Who,
		holder.Operation,
		time.Since(holder.Created).Round(time.Second),
		l.path)
}
