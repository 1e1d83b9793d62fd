// Package main is the entry point for the jabs binary.
// jabs is a cron-driven backup orchestrator: each invocation decides which
// configured backup sets are due, runs them sequentially through rsync or
// rclone, and emails a per-set report.
//
// Invocation sequence:
//  1. Parse CLI flags
//  2. Build logger from the verbosity flags
//  3. Hand everything to the controller (config, lock, schedule, execute)
//  4. Map the controller's typed errors onto the documented exit codes
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gtozzi/jabs/internal/controller"
	"github.com/gtozzi/jabs/internal/lockfile"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes. Batch mode turns exitAlreadyRunning into a silent success so
// overlapping cron ticks do not mail the operator.
const (
	exitOK             = 0
	exitRuntime        = 1
	exitConfig         = 2
	exitLock           = 3
	exitAlreadyRunning = 12
	exitPidFile        = 15
)

const (
	defaultConfigFile = "/etc/jabs/jabs.cfg"
	defaultCacheDir   = "/var/cache/jabs"
)

type flags struct {
	configFile  string
	cacheDir    string
	pidFile     string
	metricsFile string
	verbose     bool
	quiet       bool
	force       bool
	batch       bool
	safe        bool
}

func main() {
	os.Exit(run())
}

func run() int {
	f := &flags{}
	var runErr error
	var batch bool

	root := &cobra.Command{
		Use:   "jabs [SET ...]",
		Short: "jabs — just another backup script",
		Long: `jabs decides which configured backup sets are due right now and runs
each one as an isolated pipeline: pre-commands, mount, rsync/rclone transfer
with optional hard-link deduplication, Tower of Hanoi rotation, cleanup,
umount, and an email report with the transfer logs attached.

It is meant to run from cron every few minutes and exits silently when
there is nothing to do.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(f.verbose, f.quiet)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			batch = f.batch
			ctl := controller.New(controller.Options{
				ConfigPath:  f.configFile,
				CacheDir:    f.cacheDir,
				PidFile:     f.pidFile,
				MetricsFile: f.metricsFile,
				Only:        args,
				Force:       f.force,
				Batch:       f.batch,
				Safe:        f.safe,
				Verbose:     f.verbose,
				Quiet:       f.quiet,
				Version:     version,
			}, logger)
			runErr = ctl.Run()
			return runErr
		},
	}

	root.AddCommand(newVersionCmd())

	root.Flags().StringVarP(&f.configFile, "config", "c", defaultConfigFile, "config file name")
	root.Flags().StringVarP(&f.cacheDir, "cachedir", "a", defaultCacheDir, "cache directory")
	root.Flags().StringVar(&f.pidFile, "pidfile", "", "PID file path, overrides config if given")
	root.Flags().StringVarP(&f.metricsFile, "metrics-file", "m", "", "write per-set prometheus gauges to this textfile at the end of the run")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "increase output verbosity")
	root.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "suppress all non-error output")
	root.Flags().BoolVarP(&f.force, "force", "f", false, "ignore time constraints: run sets at any time")
	root.Flags().BoolVarP(&f.batch, "batch", "b", false, "batch mode: exit silently if already running")
	root.Flags().BoolVarP(&f.safe, "safe", "s", false, "safe mode: print what would be done without changing anything")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	if err := root.Execute(); err != nil {
		if err != runErr {
			// Flag parsing / usage errors never reach the controller.
			fmt.Fprintln(os.Stderr, err)
			return exitRuntime
		}
		return exitCode(err, batch)
	}
	return exitOK
}

// exitCode maps a controller error onto the documented exit codes.
func exitCode(err error, batch bool) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, lockfile.ErrAlreadyRunning):
		if batch {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, "Error: this script is already running!")
		return exitAlreadyRunning
	case errors.Is(err, lockfile.ErrOpen):
		fmt.Fprintln(os.Stderr, err)
		return exitPidFile
	case errors.Is(err, controller.ErrConfig):
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	default:
		fmt.Fprintln(os.Stderr, err)
		return exitRuntime
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("jabs %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// buildLogger maps the verbosity flags onto a zap configuration: -v gets
// the development config at debug level, -q error-only, the default a
// console encoder at info.
func buildLogger(verbose, quiet bool) (*zap.Logger, error) {
	var cfg zap.Config
	switch {
	case verbose:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case quiet:
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
