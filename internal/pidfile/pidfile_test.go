package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "run", "transports.pid"))

	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// re-acquiring our own file is fine
	require.NoError(t, p.Acquire())

	require.NoError(t, p.Release())
	_, err = os.Stat(p.Path())
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, p.Release())
}

func TestAcquireReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transports.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	p := New(path)
	require.NoError(t, p.Acquire())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireRefusesLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transports.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644))

	err := New(path).Acquire()
	assert.ErrorIs(t, err, ErrRunning)
}

func TestReleaseKeepsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transports.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644))

	require.NoError(t, New(path).Release())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
