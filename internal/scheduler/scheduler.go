// Package scheduler decides which backup sets are eligible to run at this
// invocation. Filters are applied in a fixed order — disabled, command-line
// selection, runtime window, minimum interval, host ping — each one dropping
// the set outright. Survivors are returned sorted by priority; the sort is
// stable so sets with equal priority keep their configuration order.
package scheduler

import (
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gtozzi/jabs/internal/cache"
	"github.com/gtozzi/jabs/internal/config"
)

// pingHost probes a host: three packets, numeric output, 60 second
// deadline. Overridable in tests.
var pingHost = func(host string) bool {
	return exec.Command("ping", "-c", "3", "-n", "-w", "60", host).Run() == nil
}

// Options modify set selection.
type Options struct {
	// Only restricts execution to the named sets (case-insensitive).
	// Empty means all sets.
	Only []string
	// Force skips the runtime-window and interval filters.
	Force bool
}

// Scheduler selects eligible sets.
type Scheduler struct {
	cache  *cache.Store
	logger *zap.Logger
}

// New returns a Scheduler reading last-run timestamps from store.
func New(store *cache.Store, logger *zap.Logger) *Scheduler {
	return &Scheduler{cache: store, logger: logger.Named("scheduler")}
}

// Select returns the sets eligible at the wall-clock moment now, in
// execution order.
func (sc *Scheduler) Select(sets []*config.Set, now time.Time, opts Options) []*config.Set {
	var eligible []*config.Set

	for _, s := range sets {
		if s.Disabled {
			sc.logger.Debug("skipping disabled set", zap.String("set", s.Name))
			continue
		}
		if !selected(s.Name, opts.Only) {
			sc.logger.Debug("set not selected on command line", zap.String("set", s.Name))
			continue
		}
		if !opts.Force && !s.RunTime.Contains(now) {
			sc.logger.Info("skipping set, out of runtime window",
				zap.String("set", s.Name),
				zap.String("window", s.RunTime.Start.String()+"-"+s.RunTime.End.String()))
			continue
		}
		if !opts.Force && !sc.intervalElapsed(s, now) {
			continue
		}
		if s.Ping && !sc.hostUp(s) {
			continue
		}
		eligible = append(eligible, s)
	}

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Pri < eligible[j].Pri })
	return eligible
}

func selected(name string, only []string) bool {
	if len(only) == 0 {
		return true
	}
	for _, o := range only {
		if strings.EqualFold(o, name) {
			return true
		}
	}
	return false
}

// intervalElapsed reports whether enough time has passed since the set's
// last recorded run. Sets without an interval always pass.
func (sc *Scheduler) intervalElapsed(s *config.Set, now time.Time) bool {
	if s.Interval <= 0 {
		return true
	}
	last := sc.cache.LastRun(s.Name)
	next := last.Add(s.Interval)
	if next.After(now) {
		sc.logger.Info("skipping set, interval not reached",
			zap.String("set", s.Name),
			zap.Time("last_run", last),
			zap.Duration("remaining", next.Sub(now)))
		return false
	}
	return true
}

// hostUp probes the remote endpoint of the set. Validation guarantees at
// most one of src/dst is remote when ping is enabled; a set with two local
// endpoints and ping enabled has nothing to probe and passes.
func (sc *Scheduler) hostUp(s *config.Set) bool {
	var host string
	switch {
	case s.Src.IsRemote():
		host = s.Src.Host()
	case s.Dst.IsRemote():
		host = s.Dst.Host()
	default:
		return true
	}

	sc.logger.Debug("pinging host", zap.String("set", s.Name), zap.String("host", host))
	if !pingHost(host) {
		sc.logger.Info("skipping set, host is down",
			zap.String("set", s.Name), zap.String("host", host))
		return false
	}
	return true
}
