package mdmonitor

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAlreadyRunningFalseWhenPidFileMissing(t *testing.T) {
	running, err := CheckAlreadyRunning(filepath.Join(t.TempDir(), "nonexistent.pid"), "mdmonitord")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestCheckAlreadyRunningFalseWhenPidFileCorrupt(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autorebuild.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0o644))

	running, err := CheckAlreadyRunning(pidFile, "mdmonitord")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestCheckAlreadyRunningFalseWhenProcessGone(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autorebuild.pid")
	// PID 1 always exists under Linux; pick an implausibly large PID
	// instead so /proc/<pid>/comm reliably fails to open.
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(1<<30)), 0o644))

	running, err := CheckAlreadyRunning(pidFile, "mdmonitord")
	require.NoError(t, err)
	assert.False(t, running)
}

func TestCheckAlreadyRunningMatchesOwnCommBasename(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "autorebuild.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644))

	comm, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(os.Getpid()), "comm"))
	if err != nil {
		t.Skip("no /proc/<pid>/comm on this platform")
	}

	running, err := CheckAlreadyRunning(pidFile, string(trimNewline(comm)))
	require.NoError(t, err)
	assert.True(t, running)
}

func TestIsChildReflectsReexecMarker(t *testing.T) {
	assert.False(t, isChild())
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
