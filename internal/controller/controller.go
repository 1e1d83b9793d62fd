// Package controller is the top of the invocation: it loads the
// configuration, takes the single-instance lock, asks the scheduler which
// sets are due, and runs them one after the other in priority order. Sets
// run strictly sequentially — backups fight over disks, bandwidth, and
// mount points, so serial execution is the correctness-preserving choice —
// and one set's failure never prevents the next from running.
package controller

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gtozzi/jabs/internal/ancestor"
	"github.com/gtozzi/jabs/internal/cache"
	"github.com/gtozzi/jabs/internal/config"
	"github.com/gtozzi/jabs/internal/executor"
	"github.com/gtozzi/jabs/internal/lockfile"
	"github.com/gtozzi/jabs/internal/metrics"
	"github.com/gtozzi/jabs/internal/report"
	"github.com/gtozzi/jabs/internal/runner"
	"github.com/gtozzi/jabs/internal/scheduler"
)

// ErrConfig wraps every configuration failure so the command layer can map
// it to its exit code.
var ErrConfig = errors.New("configuration error")

// Options carry the command-line knobs into an invocation.
type Options struct {
	ConfigPath  string
	CacheDir    string
	PidFile     string // overrides the config PIDFILE when non-empty
	MetricsFile string // when non-empty, gauges are written here at the end
	Only        []string
	Force       bool
	Batch       bool
	Safe        bool
	Verbose     bool
	Quiet       bool
	Version     string
}

// Controller runs one jabs invocation.
type Controller struct {
	opts   Options
	logger *zap.Logger
}

// New returns a Controller.
func New(opts Options, logger *zap.Logger) *Controller {
	return &Controller{opts: opts, logger: logger.Named("controller")}
}

// Run executes the invocation. A nil return covers both "sets executed" and
// "nothing to do". Lock contention and configuration failures come back as
// typed errors for the command layer to translate.
func (c *Controller) Run() error {
	start := time.Now()
	runID := uuid.NewString()
	log := c.logger.With(zap.String("run_id", runID))

	cfg, err := config.Load(c.opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConfig, err)
	}
	sets, err := cfg.Sets()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConfig, err)
	}

	pidFile := c.opts.PidFile
	if pidFile == "" {
		if pidFile, err = cfg.PidFile(); err != nil {
			return fmt.Errorf("%w: %s", ErrConfig, err)
		}
	}

	lock := lockfile.New(pidFile, log)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	store := cache.New(c.opts.CacheDir, log)
	sched := scheduler.New(store, log)

	selected := sched.Select(sets, start, scheduler.Options{
		Only:  c.opts.Only,
		Force: c.opts.Force,
	})
	if len(selected) == 0 {
		log.Debug("nothing to do")
		return nil
	}

	names := make([]string, len(selected))
	for i, s := range selected {
		names[i] = s.Name
	}
	log.Info("starting backup run",
		zap.Strings("sets", names),
		zap.Bool("safe", c.opts.Safe))
	if !c.opts.Quiet {
		fmt.Print(banner(c.opts.Version, names, start))
	}

	bodyLevel := report.LevelNormal
	if c.opts.Verbose {
		bodyLevel = report.LevelDetail
	}
	exec := executor.New(
		runner.New(log),
		ancestor.New(log),
		report.NewMailer(log),
		store,
		executor.Options{Safe: c.opts.Safe, BodyLevel: bodyLevel},
		log,
	)

	rec := metrics.New()
	for _, s := range selected {
		setStart := time.Now()
		ok := exec.Run(s, start, banner(c.opts.Version, []string{s.Name}, start))
		rec.RecordSet(s.Name, ok, time.Since(setStart), setStart)
		if !ok {
			log.Warn("set failed", zap.String("set", s.Name))
		}
	}

	if c.opts.MetricsFile != "" && !c.opts.Safe {
		if err := rec.WriteFile(c.opts.MetricsFile); err != nil {
			log.Warn("cannot write metrics file", zap.Error(err))
		}
	}

	log.Info("backup run completed", zap.Duration("took", time.Since(start)))
	return nil
}

// banner renders the run header printed to stdout and prepended to every
// report email.
func banner(version string, sets []string, start time.Time) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	var list strings.Builder
	for _, s := range sets {
		list.WriteString("  " + s + "\n")
	}
	return fmt.Sprintf(`
-------------------------------------------------
jabs %s

Backup of %s
Backup date: %s
Backup sets:
%s-------------------------------------------------

`, version, hostname, start.Format(time.ANSIC), list.String())
}
