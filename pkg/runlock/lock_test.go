//go:build !windows

package runlock_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/runlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "certrenewal.lock")
}

func TestAcquireRecordsHolder(t *testing.T) {
	t.Parallel()

	lock := runlock.New(lockPath(t))
	info, err := lock.Acquire("renew")
	require.NoError(t, err)
	defer lock.Release(info)

	assert.Equal(t, "renew", info.Operation)
	assert.Equal(t, os.Getpid(), info.PID)

	holder, err := lock.Holder()
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, info.ID, holder.ID)
}

func TestSecondAcquireFails(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	first := runlock.New(path)
	info, err := first.Acquire("renew")
	require.NoError(t, err)
	defer first.Release(info)

	second := runlock.New(path)
	_, err = second.Acquire("renew")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another renewal run is active")
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	lock := runlock.New(path)

	info, err := lock.Acquire("renew")
	require.NoError(t, err)
	require.NoError(t, lock.Release(info))

	again, err := runlock.New(path).Acquire("renew")
	require.NoError(t, err)
	assert.NotEqual(t, info.ID, again.ID)
}

func TestStaleLockIsTakenOver(t *testing.T) {
	t.Parallel()

	path := lockPath(t)
	first := runlock.New(path)
	info, err := first.Acquire("renew")
	require.NoError(t, err)
	defer first.Release(info)

	// Age the on-disk record past the stale threshold while the flock is
	// still held, like a run wedged on a hung CA client.
	aged := *info
	aged.Created = time.Now().Add(-2 * time.Hour)
	data, err := json.Marshal(&aged)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	second := runlock.New(path)
	taken, err := second.Acquire("renew")
	require.NoError(t, err)
	defer second.Release(taken)

	assert.NotEqual(t, info.ID, taken.ID)
}

func TestHolderNilWithoutLockFile(t *testing.T) {
	t.Parallel()

	holder, err := runlock.New(lockPath(t)).Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)
}
