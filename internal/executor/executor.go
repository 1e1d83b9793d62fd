// Package executor runs one backup set end to end as a sequential pipeline:
// mount, pre-commands, destination check, the per-directory transfer loop,
// rotation symlink, delete list, interval cache update, umount, email
// report, cleanup. Each phase has its own failure policy — most degrade to a
// transcript warning; only pre-command and transfer failures mark the set
// failed. Nothing that happens inside one set ever aborts the sets after it.
//
// Interfaces:
//   - TransferRunner: implemented by the runner package; supervises one
//     transfer subprocess.
//   - AncestorFinder: implemented by the ancestor package; lists previous
//     generations for --link-dest.
//   - Reporter: implemented by the report mailer; delivers the end-of-set
//     email.
package executor

import (
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gtozzi/jabs/internal/cache"
	"github.com/gtozzi/jabs/internal/config"
	"github.com/gtozzi/jabs/internal/hanoi"
	"github.com/gtozzi/jabs/internal/pathref"
	"github.com/gtozzi/jabs/internal/report"
	"github.com/gtozzi/jabs/internal/runner"
)

// TransferRunner supervises one transfer subprocess.
type TransferRunner interface {
	Run(argv []string, logPath string, compress bool) (runner.Result, error)
}

// AncestorFinder lists previous-generation directories to hard link against.
type AncestorFinder interface {
	Find(dst pathref.Ref, sep, currentSuffix string) []string
}

// Reporter delivers the end-of-set email.
type Reporter interface {
	Report(setName string, success bool, from string, to []string, body string, logPaths []string, compressed bool, cfg report.SMTPConfig) error
}

// slugPat collapses characters that must not appear in a log file name.
var slugPat = regexp.MustCompile(`[/.]`)

// isMountPoint reports whether path is currently a mount point, by comparing
// its device number with its parent's. Overridable in tests.
var isMountPoint = func(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	parent, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return false
	}
	st, ok1 := fi.Sys().(*syscall.Stat_t)
	pst, ok2 := parent.Sys().(*syscall.Stat_t)
	if !ok1 || !ok2 {
		return false
	}
	return st.Dev != pst.Dev
}

// runShell executes a pre-command through the shell, so pipes and redirects
// work the way a crontab author expects. Overridable in tests.
var runShell = func(command string) error {
	return exec.Command("/bin/sh", "-c", command).Run()
}

// runMount executes mount/umount. Overridable in tests.
var runMount = func(verb, path string) error {
	return exec.Command(verb, path).Run()
}

// Options tune a whole invocation.
type Options struct {
	// Safe replaces every side effect with a transcript entry.
	Safe bool
	// BodyLevel is the transcript level rendered into the email body.
	BodyLevel int
}

// Executor runs backup sets.
type Executor struct {
	runner   TransferRunner
	finder   AncestorFinder
	reporter Reporter
	cache    *cache.Store
	opts     Options
	logger   *zap.Logger
}

// New returns an Executor.
func New(r TransferRunner, f AncestorFinder, rep Reporter, store *cache.Store, opts Options, logger *zap.Logger) *Executor {
	return &Executor{
		runner:   r,
		finder:   f,
		reporter: rep,
		cache:    store,
		opts:     opts,
		logger:   logger.Named("executor"),
	}
}

// run-scoped mutable state, destroyed when the set completes.
type runState struct {
	set        *config.Set
	tr         *report.Transcript
	tmpDir     string
	dateFile   string
	backupList []string
	suffix     string
	logPaths   []string
	success    bool
	// skipped marks a pre-transfer skip (destination check failed): the set
	// is abandoned with a warning and no email goes out.
	skipped bool
}

// Run executes one set. banner is prepended to the email transcript; start
// is the invocation wall-clock moment recorded into the interval cache.
// Returns whether the set succeeded.
func (e *Executor) Run(s *config.Set, start time.Time, banner string) bool {
	setStart := time.Now()
	log := e.logger.With(zap.String("set", s.Name))

	st := &runState{
		set:        s,
		tr:         report.NewTranscript(log),
		backupList: append([]string(nil), s.BackupList...),
		success:    true,
	}
	if banner != "" {
		st.tr.Infof("%s", banner)
	}

	// --- Phase M: mount ---
	e.mount(st)

	// --- Phase P: pre-commands ---
	preAborted := e.preCommands(st)

	if !preAborted {
		// --- Phase D: destination check ---
		if e.checkDst(st) {
			// --- Phase T: transfer loop ---
			e.transfer(st)

			// --- Phase R: rotation symlink ---
			e.rotateSymlink(st)

			// --- Phase X: delete list ---
			e.deleteList(st)

			// --- Phase C: cache update ---
			e.updateCache(st, start)
		} else {
			st.skipped = true
		}
	}

	st.tr.Infof("Set %s completed. Took: %s", s.Name, time.Since(setStart).Round(time.Millisecond))

	// --- Phase U: umount ---
	e.umount(st)

	// --- Phase N: notify ---
	e.notify(st)

	// --- Phase K: cleanup ---
	e.cleanup(st)

	return st.success
}

func (e *Executor) mount(st *runState) {
	s := st.set
	if s.Mount == "" {
		return
	}
	if isMountPoint(s.Mount) {
		st.tr.Warnf("WARNING: skipping mount of %s, already mounted", s.Mount)
		return
	}
	if e.opts.Safe {
		st.tr.Infof("Skipping mount of %s", s.Mount)
		return
	}
	st.tr.Infof("Mounting %s", s.Mount)
	if err := runMount("mount", s.Mount); err != nil {
		st.tr.Warnf("WARNING: mount of %s failed: %s", s.Mount, err)
	}
}

// preCommands runs the set's pre commands through the shell. Returns true
// when the set must be aborted (a command failed and SkipOnPreError is set).
func (e *Executor) preCommands(st *runState) bool {
	s := st.set
	for _, cmd := range s.Pre {
		if e.opts.Safe {
			st.tr.Infof("Skipping pre-backup task: %s", cmd)
			continue
		}
		st.tr.Infof("Running pre-backup task: %s", cmd)
		if err := runShell(cmd); err != nil {
			st.tr.Errorf("ERROR: pre-backup task %s failed: %s", cmd, err)
			st.success = false
			if s.SkipOnPreError {
				st.tr.Errorf("ERROR: skipping set %s, SKIPONPREERROR is set", s.Name)
				return true
			}
		}
	}
	return false
}

// checkDst verifies the destination exists when CHECKDST is enabled.
// Returns false when the set must be skipped.
func (e *Executor) checkDst(st *runState) bool {
	s := st.set
	if !s.CheckDst || s.Dst.IsRemote() {
		return true
	}
	if _, err := os.Stat(s.Dst.Path); err != nil {
		st.tr.Warnf("WARNING: skipping set %s, destination %s not found", s.Name, s.Dst.Raw)
		return false
	}
	return true
}

func (e *Executor) transfer(st *runState) {
	s := st.set

	if e.opts.Safe {
		st.tr.Infof("Skipping creation of temp directory")
	} else {
		tmpDir, err := os.MkdirTemp("", "jabs-"+slugPat.ReplaceAllString(s.Name, "_")+"-")
		if err != nil {
			st.tr.Errorf("ERROR: cannot create temp directory: %s", err)
			st.success = false
			return
		}
		st.tmpDir = tmpDir
	}

	// Current rotation position.
	if s.Hanoi > 0 {
		day, suffix := hanoi.Rotate(s.Hanoi, s.HanoiDay, time.Now())
		st.suffix = suffix
		st.tr.Detailf("First hanoi day: %s", s.HanoiDay.Format("2006-01-02"))
		st.tr.Infof("Hanoi sets to use: %d", s.Hanoi)
		st.tr.Infof("Today is hanoi day %d - using suffix: %s", day, suffix)
	}

	// Datefile: a timestamp marker transferred along with the data.
	if s.DateFile != "" {
		if e.opts.Safe {
			st.tr.Infof("Skipping creation of datefile %s", s.DateFile)
		} else {
			st.dateFile = filepath.Join(st.tmpDir, s.DateFile)
			st.tr.Infof("Generating datefile %s", st.dateFile)
			body := time.Now().Format("2006-01-02 15:04:05") + "\n"
			if err := os.WriteFile(st.dateFile, []byte(body), 0o644); err != nil {
				st.tr.Warnf("WARNING: cannot write datefile: %s", err)
				st.dateFile = ""
			} else {
				st.backupList = append(st.backupList, st.dateFile)
			}
		}
	}

	// Hard-link ancestors.
	var linkDests []string
	switch {
	case s.HardLink && s.Program != config.Rsync:
		st.tr.Warnf("WARNING: hard linking not supported with %s", s.Program)
	case s.HardLink:
		linkDests = e.finder.Find(s.Dst, s.Sep, st.suffix)
		if len(linkDests) > 0 {
			st.tr.Infof("Will hard link against %s", strings.Join(linkDests, ", "))
		} else {
			st.tr.Infof("Will NOT use hard linking (no suitable set found)")
		}
	default:
		st.tr.Detailf("Will NOT use hard linking (disabled)")
	}

	for _, dir := range st.backupList {
		st.tr.Infof("Backing up %s on %s...", dir, s.Name)

		logPath := filepath.Join(st.tmpDir, slugPat.ReplaceAllString(s.Name+"-"+dir, "_")+".log")
		if s.CompressLog {
			logPath += ".gz"
		}

		argv := buildArgv(s, dir, st.dateFile, st.suffix, linkDests)

		if e.opts.Safe {
			st.tr.Infof("Commandline: %s", strings.Join(argv, " "))
			continue
		}
		st.tr.Detailf("Commandline: %s", strings.Join(argv, " "))
		st.tr.Detailf("Will write transfer log to %s", logPath)
		st.logPaths = append(st.logPaths, logPath)

		res, err := e.runner.Run(argv, logPath, s.CompressLog)
		if err != nil {
			st.tr.Errorf("ERROR: cannot run %s: %s", argv[0], err)
			st.success = false
			continue
		}
		st.tr.Infof("Done. Exit status: %d", res.ExitCode)

		switch res.Classify() {
		case runner.HardFailure:
			st.success = false
			st.tr.Errorf("ERROR: stderr was not empty:")
			st.tr.Errorf("%s", strings.TrimSpace(string(res.Stderr)))
		case runner.Warning:
			st.tr.Warnf("WARNING: stderr was not empty (but no errors detected):")
			st.tr.Warnf("%s", strings.TrimSpace(string(res.Stderr)))
		}

		if s.Sleep > 0 {
			if e.opts.Safe {
				st.tr.Infof("Should sleep %d secs now, skipping", s.Sleep)
			} else {
				st.tr.Infof("Sleeping %d secs.", s.Sleep)
				time.Sleep(time.Duration(s.Sleep) * time.Second)
			}
		}
	}
}

// buildArgv assembles the full command line for one directory transfer.
func buildArgv(s *config.Set, dir, dateFile, suffix string, linkDests []string) []string {
	var argv []string
	if s.IONice != 0 {
		argv = append(argv, "ionice", "-c", strconv.Itoa(s.IONice))
	}
	if s.Nice != 0 {
		argv = append(argv, "nice", "-n", strconv.Itoa(s.Nice))
	}
	argv = append(argv, string(s.Program))

	for _, opt := range s.Opts() {
		opt = strings.ReplaceAll(opt, "{setname}", strings.ToLower(s.Name))
		opt = strings.ReplaceAll(opt, "{dirname}", dir)
		argv = append(argv, opt)
	}

	for _, ld := range linkDests {
		argv = append(argv, "--link-dest="+ld)
	}

	if dateFile != "" && dir == dateFile {
		argv = append(argv, dateFile)
	} else {
		argv = append(argv, strings.ReplaceAll(s.Src.Raw, "{dirname}", dir))
	}

	dst := s.Dst.Raw
	if suffix != "" {
		dst += s.Sep + suffix
	}
	argv = append(argv, strings.ReplaceAll(dst, "{dirname}", dir))

	return argv
}

// rotateSymlink points the bare destination name at the generation that was
// just written, so the freshest backup is always reachable without knowing
// the current suffix. Remote destinations are left alone.
func (e *Executor) rotateSymlink(st *runState) {
	s := st.set
	if st.suffix == "" || s.Dst.IsRemote() {
		return
	}
	dst := s.Dst.Path
	target := dst + s.Sep + st.suffix

	if fi, err := os.Lstat(dst); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if e.opts.Safe {
			st.tr.Infof("Skipping deletion of old symlink %s", dst)
		} else {
			st.tr.Infof("Deleting old symlink %s", dst)
			if err := os.Remove(dst); err != nil {
				st.tr.Warnf("WARNING: cannot delete symlink %s: %s", dst, err)
			}
		}
	}

	if _, err := os.Lstat(dst); os.IsNotExist(err) {
		if e.opts.Safe {
			st.tr.Infof("Skipping creation of symlink %s to %s", dst, target)
		} else {
			st.tr.Infof("Creating symlink %s to %s", dst, target)
			if err := os.Symlink(target, dst); err != nil {
				st.tr.Warnf("WARNING: cannot create symlink %s: %s", dst, err)
			}
		}
	} else if !e.opts.Safe {
		st.tr.Warnf("WARNING: can't create symlink %s, a file with such name exists", dst)
	}
}

// deleteList removes configured paths from the generation just written.
func (e *Executor) deleteList(st *runState) {
	s := st.set
	base := s.Dst.Path
	if st.suffix != "" {
		base += s.Sep + st.suffix
	}
	for _, d := range s.DeleteList {
		target := base + string(os.PathSeparator) + d
		fi, err := os.Stat(target)
		if err != nil || !fi.IsDir() {
			continue
		}
		if e.opts.Safe {
			st.tr.Infof("Skipping deletion of %s", target)
			continue
		}
		st.tr.Infof("DELETING folder in deletelist %s", target)
		if err := os.RemoveAll(target); err != nil {
			st.tr.Warnf("WARNING: cannot delete %s: %s", target, err)
		}
	}
}

func (e *Executor) updateCache(st *runState, start time.Time) {
	s := st.set
	if s.Interval <= 0 {
		return
	}
	if e.opts.Safe {
		st.tr.Infof("Skipping write of last backup timestamp")
		return
	}
	st.tr.Detailf("Writing last backup timestamp")
	if err := e.cache.SetLastRun(s.Name, start); err != nil {
		st.tr.Warnf("WARNING: %s", err)
	}
}

func (e *Executor) umount(st *runState) {
	s := st.set
	if s.Umount == "" {
		return
	}
	if !isMountPoint(s.Umount) {
		st.tr.Warnf("WARNING: skipping umount of %s, not mounted", s.Umount)
		return
	}
	if e.opts.Safe {
		st.tr.Infof("Skipping umount of %s", s.Umount)
		return
	}
	st.tr.Infof("Umounting %s", s.Umount)
	if err := runMount("umount", s.Umount); err != nil {
		st.tr.Warnf("WARNING: umount of %s failed: %s", s.Umount, err)
	}
}

func (e *Executor) notify(st *runState) {
	s := st.set
	// A pre-transfer skip gets no email; a pre-command failure still does.
	if len(s.MailTo) == 0 || st.skipped {
		return
	}
	if e.opts.Safe {
		st.tr.Infof("Skipping sending detailed logs to %s", strings.Join(s.MailTo, ", "))
		return
	}
	if s.SMTPHost != "" {
		st.tr.Infof("Sending detailed logs to %s via %s", strings.Join(s.MailTo, ", "), s.SMTPHost)
	} else {
		st.tr.Infof("Sending detailed logs to %s using local smtp", strings.Join(s.MailTo, ", "))
	}

	body := st.tr.Render(e.opts.BodyLevel)
	cfg := report.SMTPConfig{Host: s.SMTPHost, Username: s.SMTPUser, Password: s.SMTPPass}
	err := e.reporter.Report(s.Name, st.success, s.MailFrom, s.MailTo, body, st.logPaths, s.CompressLog, cfg)
	if err != nil {
		st.tr.Warnf("WARNING: %s", err)
	}
}

func (e *Executor) cleanup(st *runState) {
	for _, lp := range st.logPaths {
		st.tr.Detailf("Deleting log file %s", lp)
		if err := os.Remove(lp); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("cannot remove transfer log", zap.String("path", lp), zap.Error(err))
		}
	}
	if st.dateFile != "" {
		if err := os.Remove(st.dateFile); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("cannot remove datefile", zap.String("path", st.dateFile), zap.Error(err))
		}
	}
	if st.tmpDir != "" {
		if err := os.Remove(st.tmpDir); err != nil {
			if err := os.RemoveAll(st.tmpDir); err != nil {
				e.logger.Warn("cannot remove temp directory", zap.String("path", st.tmpDir), zap.Error(err))
			}
		}
	}
}
