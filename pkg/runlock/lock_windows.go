//go:build windows

package runlock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// Acquire takes the run lock with a non-blocking LockFileEx. A lock held by
// a run older than StaleAfter is taken over; a lock held by a live run is an
// error, the caller is expected to give up and let the next cron slot try
// again.
func (l *Lock) Acquire(operation string) (*Info, error) {
	file, err := l.openLockFile()
	if err != nil {
		return nil, err
	}

	overlapped := &windows.Overlapped{}
	err = windows.LockFileEx(
		windows.Handle(file.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1,
		0,
		overlapped,
	)
	if err != nil {
		file.Close()

		holder, readErr := l.readInfo()
		if readErr == nil && holder != nil {
			if time.Since(holder.Created) > StaleAfter {
				return l.forceAcquire(operation)
			}
			return nil, l.heldByError(holder)
		}
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}

	info := l.newInfo(operation)
	if err := l.writeInfo(file, info); err != nil {
		unlock := &windows.Overlapped{}
		windows.UnlockFileEx(windows.Handle(file.Fd()), 0, 1, 0, unlock)
		file.Close()
		return nil, err
	}

	// The file stays open to keep the lock for the whole run.
	l.file = file

	return info, nil
}

// Release drops the lock and removes the lock file.
func (l *Lock) Release(info *Info) error {
	if info == nil {
		return nil
	}

	if l.file != nil {
		current, err := l.readInfo()
		if err == nil && current != nil && current.ID != info.ID {
			return fmt.Errorf("cannot release run lock: now held by %s", current.Who)
		}

		overlapped := &windows.Overlapped{}
		windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, overlapped)
		l.file.Close()
		l.file = nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		// The lock is already gone, a leftover file only carries stale info.
		return nil
	}

	return nil
}
