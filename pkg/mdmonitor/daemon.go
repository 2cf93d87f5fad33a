package mdmonitor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// DefaultPIDFile is the monitor's pid file path (spec §6 "Persisted
// state": "/run/mdadm/autorebuild.pid").
const DefaultPIDFile = "/run/mdadm/autorebuild.pid"

// Daemonize implements spec §4.6 "Daemonisation": fork once; the
// parent prints the child's PID (or writes it to the pid file) and
// exits; the child setsid's and redirects its standard fds. Go cannot
// portably fork without exec, so the "fork" is a self-re-exec of argv
// with a fresh session (syscall.SysProcAttr{Setsid: true}) — the
// nearest idiomatic Go equivalent, not a second fork library the
// corpus never reaches for (see DESIGN.md).
//
// isChild lets a process recognise it is already the re-exec'd child
// via an environment marker, so Daemonize is idempotent across the
// re-exec.
const reexecMarker = "MDMONITOR_DAEMON_CHILD=1"

func isChild() bool {
	for _, e := range os.Environ() {
		if e == reexecMarker {
			return true
		}
	}
	return false
}

// Daemonize forks the current process into the background unless it
// is already running as the re-exec'd child, in which case it returns
// nil immediately and the caller proceeds as the daemon. pidFile, when
// non-empty, receives the child's PID.
func Daemonize(pidFile string) error {
	if isChild() {
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("mdmonitor: resolving own executable path: %w", err)
	}

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), reexecMarker)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("mdmonitor: opening %s: %w", os.DevNull, err)
	}
	defer devnull.Close()
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mdmonitor: starting daemon child: %w", err)
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			return fmt.Errorf("mdmonitor: writing pid file %s: %w", pidFile, err)
		}
	} else {
		fmt.Println(cmd.Process.Pid)
	}

	os.Exit(0)
	return nil
}

// CheckAlreadyRunning implements the "share" flag's liveness check
// (spec §4.6: "aborts if the pid file ... already names a live process
// whose /proc/<pid>/comm matches the monitor's own command basename").
func CheckAlreadyRunning(pidFile, ownCommandBasename string) (running bool, err error) {
	b, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("mdmonitor: reading pid file %s: %w", pidFile, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return false, nil // stale/corrupt pid file: treat as not running
	}

	comm, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		return false, nil // process is gone
	}

	return strings.TrimSpace(string(comm)) == ownCommandBasename, nil
}
