// Package lockfile enforces at-most-one concurrent jabs invocation through a
// PID file. The file body is the decimal PID of the holder; a new invocation
// that finds the file probes whether that PID still belongs to a live process
// and reclaims the lock if it does not. Cron fires every few minutes, so a
// stale file left behind by a killed run must never wedge the schedule.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Acquire when the PID file names a process
// that is still alive.
var ErrAlreadyRunning = errors.New("lockfile: another instance is running")

// ErrOpen is returned when the PID file cannot be created or written.
// Callers map it to its own exit code.
var ErrOpen = errors.New("lockfile: cannot open pid file")

// pidAlive reports whether a process with the given PID exists. Overridable
// in tests.
var pidAlive = func(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

// Lock is a PID-file based single-instance lock.
type Lock struct {
	path   string
	held   bool
	logger *zap.Logger
}

// New returns an unheld lock backed by the file at path.
func New(path string, logger *zap.Logger) *Lock {
	return &Lock{path: path, logger: logger.Named("lockfile")}
}

// Acquire takes the lock for the current process.
//
// If the file exists and holds the PID of a live process, ErrAlreadyRunning
// is returned. A file with a stale or unparseable PID is reclaimed. Calling
// Acquire again on a Lock that already holds the lock is a no-op; a Lock that
// does not hold it treats a file naming this process's own PID like any
// other live holder.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}

	if data, err := os.ReadFile(l.path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pidAlive(pid) {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		if perr == nil {
			l.logger.Warn("reclaiming stale pid file", zap.Int("stale_pid", pid), zap.String("path", l.path))
		} else {
			l.logger.Warn("reclaiming unparseable pid file", zap.String("path", l.path))
		}
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOpen, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		return fmt.Errorf("%w: %s", ErrOpen, err)
	}

	l.held = true
	return nil
}

// Release deletes the PID file. Releasing an unheld lock is a no-op and
// returns false.
func (l *Lock) Release() bool {
	if !l.held {
		return false
	}
	if err := os.Remove(l.path); err != nil {
		l.logger.Warn("cannot remove pid file", zap.String("path", l.path), zap.Error(err))
	}
	l.held = false
	return true
}
