package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gtozzi/jabs/internal/pathref"
)

// Program selects the external transfer tool of a set.
type Program string

const (
	Rsync  Program = "rsync"
	Rclone Program = "rclone"
)

// Set is the immutable description of one backup set. It is built once at
// config load; everything mutable about a run lives in the executor.
type Set struct {
	Name string

	Program    Program
	BackupList []string
	DeleteList []string
	RsyncOpts  []string
	RcloneOpts []string

	Src pathref.Ref
	Dst pathref.Ref

	IONice int
	Nice   int
	Sleep  int

	Hanoi    int
	HanoiDay time.Time
	HardLink bool

	CheckDst bool
	Sep      string
	Pri      int
	DateFile string

	Interval time.Duration
	Ping     bool
	RunTime  TimeRange

	Mount  string
	Umount string

	Disabled bool

	Pre            []string
	SkipOnPreError bool

	MailTo   []string
	MailFrom string
	SMTPHost string
	SMTPUser string
	SMTPPass string

	CompressLog bool
}

// Opts returns the option list for the set's transfer program.
func (s *Set) Opts() []string {
	if s.Program == Rclone {
		return s.RcloneOpts
	}
	return s.RsyncOpts
}

// Sets builds one Set per backup section, in file order. Any parse or
// validation failure aborts the whole load: a half-understood backup
// configuration must not run.
func (c *Config) Sets() ([]*Set, error) {
	names := c.SetNames()
	sets := make([]*Set, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		lower := strings.ToLower(name)
		if seen[lower] {
			return nil, fmt.Errorf("config: duplicate set name %q", name)
		}
		seen[lower] = true

		set, err := c.buildSet(name)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func (c *Config) buildSet(name string) (*Set, error) {
	v := c.view(name)
	s := &Set{Name: name}
	var err error

	s.Program = Program(strings.ToLower(v.strDefault("PROGRAM", string(Rsync))))

	s.BackupList, err = v.list("BACKUPLIST")
	if err != nil {
		return nil, err
	}
	s.DeleteList = v.listDefault("DELETELIST", nil)
	s.RsyncOpts = v.listDefault("RSYNC_OPTS", nil)
	s.RcloneOpts = v.listDefault("RCLONE_OPTS", nil)

	src, err := v.str("SRC")
	if err != nil {
		return nil, err
	}
	dst, err := v.str("DST")
	if err != nil {
		return nil, err
	}
	s.Src = pathref.Parse(src)
	s.Dst = pathref.Parse(dst)

	if s.IONice, err = v.intDefault("IONICE", 0); err != nil {
		return nil, err
	}
	if s.Nice, err = v.intDefault("NICE", 0); err != nil {
		return nil, err
	}
	if s.Sleep, err = v.intDefault("SLEEP", 0); err != nil {
		return nil, err
	}

	if s.Hanoi, err = v.intDefault("HANOI", 0); err != nil {
		return nil, err
	}
	// No default: validation requires HANOIDAY whenever HANOI is in use.
	if s.HanoiDay, err = v.dateDefault("HANOIDAY", time.Time{}); err != nil {
		return nil, err
	}
	if s.HardLink, err = v.boolDefault("HARDLINK", false); err != nil {
		return nil, err
	}

	if s.CheckDst, err = v.boolDefault("CHECKDST", false); err != nil {
		return nil, err
	}
	s.Sep = v.strDefault("SEP", ".")
	if s.Pri, err = v.intDefault("PRI", 0); err != nil {
		return nil, err
	}
	s.DateFile = v.strDefault("DATEFILE", "")

	if s.Interval, err = v.durationDefault("INTERVAL", 0); err != nil {
		return nil, err
	}
	if s.Ping, err = v.boolDefault("PING", false); err != nil {
		return nil, err
	}
	if s.RunTime, err = v.timeRangeDefault("RUNTIME", WholeDay); err != nil {
		return nil, err
	}

	s.Mount = v.strDefault("MOUNT", "")
	s.Umount = v.strDefault("UMOUNT", "")

	if s.Disabled, err = v.boolDefault("DISABLED", false); err != nil {
		return nil, err
	}

	s.Pre = v.multiStr("PRE")
	if s.SkipOnPreError, err = v.boolDefault("SKIPONPREERROR", true); err != nil {
		return nil, err
	}

	s.MailTo = v.listDefault("MAILTO", nil)
	s.MailFrom = v.strDefault("MAILFROM", defaultMailFrom())
	s.SMTPHost = v.strDefault("SMTPHOST", "")
	s.SMTPUser = v.strDefault("SMTPUSER", "")
	s.SMTPPass = v.strDefault("SMTPPASS", "")

	if s.CompressLog, err = v.boolDefault("COMPRESSLOG", true); err != nil {
		return nil, err
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) validate() error {
	if s.Program != Rsync && s.Program != Rclone {
		return fmt.Errorf("config: set %s: unsupported program %q", s.Name, s.Program)
	}
	if len(s.BackupList) == 0 {
		return fmt.Errorf("config: set %s: empty BACKUPLIST", s.Name)
	}
	if s.Hanoi < 0 {
		return fmt.Errorf("config: set %s: HANOI must be >= 0", s.Name)
	}
	if s.Hanoi > 0 && s.HanoiDay.IsZero() {
		return fmt.Errorf("config: set %s: HANOI > 0 requires HANOIDAY", s.Name)
	}
	if s.Sep == "" {
		return fmt.Errorf("config: set %s: SEP must not be empty", s.Name)
	}
	if s.Ping && s.Src.IsRemote() && s.Dst.IsRemote() {
		return fmt.Errorf("config: set %s: PING with both SRC and DST remote", s.Name)
	}
	return nil
}
