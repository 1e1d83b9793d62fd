package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jabs.cfg")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimal = `
[Global]
PIDFILE = /run/jabs.pid

[homes]
BACKUPLIST = alice, bob
SRC = /home/{dirname}/
DST = /backup/homes
`

func TestLoad_Minimal(t *testing.T) {
	c, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatal(err)
	}
	pid, err := c.PidFile()
	if err != nil {
		t.Fatal(err)
	}
	if pid != "/run/jabs.pid" {
		t.Errorf("unexpected PIDFILE %q", pid)
	}
	names := c.SetNames()
	if len(names) != 1 || names[0] != "homes" {
		t.Errorf("unexpected set names %v", names)
	}
}

func TestLoad_MissingGlobal(t *testing.T) {
	_, err := Load(writeConfig(t, "[onlyset]\nSRC=/a\nDST=/b\nBACKUPLIST=x\n"))
	if err == nil {
		t.Fatal("expected error for missing [Global] section")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/no/such/file.cfg"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSets_Defaults(t *testing.T) {
	c, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatal(err)
	}
	sets, err := c.Sets()
	if err != nil {
		t.Fatal(err)
	}
	s := sets[0]
	if s.Program != Rsync {
		t.Errorf("default program should be rsync, got %q", s.Program)
	}
	if s.Sep != "." {
		t.Errorf("default sep should be '.', got %q", s.Sep)
	}
	if !s.SkipOnPreError {
		t.Error("SKIPONPREERROR should default to true")
	}
	if !s.CompressLog {
		t.Error("COMPRESSLOG should default to true")
	}
	if s.RunTime != WholeDay {
		t.Errorf("default runtime should span the whole day, got %+v", s.RunTime)
	}
	if s.Disabled || s.Ping || s.HardLink || s.CheckDst {
		t.Error("boolean knobs should default to false")
	}
	if len(s.BackupList) != 2 || s.BackupList[0] != "alice" || s.BackupList[1] != "bob" {
		t.Errorf("backup list not parsed: %v", s.BackupList)
	}
	if s.MailFrom == "" {
		t.Error("MAILFROM should default to user@host")
	}
}

func TestSets_GlobalFallback(t *testing.T) {
	body := `
[Global]
PIDFILE = /run/jabs.pid
RSYNC_OPTS = -a, --delete
SEP = _

[homes]
BACKUPLIST = data
SRC = /src
DST = /dst

[media]
BACKUPLIST = data
SRC = /src
DST = /dst
SEP = -
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	sets, err := c.Sets()
	if err != nil {
		t.Fatal(err)
	}
	if got := sets[0].RsyncOpts; len(got) != 2 || got[0] != "-a" || got[1] != "--delete" {
		t.Errorf("RSYNC_OPTS should fall back to Global: %v", got)
	}
	if sets[0].Sep != "_" {
		t.Errorf("SEP should fall back to Global, got %q", sets[0].Sep)
	}
	if sets[1].Sep != "-" {
		t.Errorf("set section should shadow Global, got %q", sets[1].Sep)
	}
}

func TestSets_MultiKeys(t *testing.T) {
	body := `
[Global]
PIDFILE = /run/jabs.pid

[homes]
BACKUPLIST = data
SRC = /src
DST = /dst
PRE_02 = /usr/local/bin/second
PRE_01 = /usr/local/bin/first
PRE_10 = /usr/local/bin/tenth
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	sets, err := c.Sets()
	if err != nil {
		t.Fatal(err)
	}
	pre := sets[0].Pre
	want := []string{"/usr/local/bin/first", "/usr/local/bin/second", "/usr/local/bin/tenth"}
	if len(pre) != len(want) {
		t.Fatalf("expected %d pre commands, got %v", len(want), pre)
	}
	for i := range want {
		if pre[i] != want[i] {
			t.Errorf("pre[%d] = %q, expected %q", i, pre[i], want[i])
		}
	}
}

func TestSets_TypedValues(t *testing.T) {
	body := `
[Global]
PIDFILE = /run/jabs.pid

[nas]
BACKUPLIST = music, photos
SRC = /srv/{dirname}
DST = root@nas:/backup/srv
HANOI = 3
HANOIDAY = 2024-01-01
HARDLINK = yes
INTERVAL = 1d 6h
RUNTIME = 02:00:00-04:30:00
PRI = 5
IONICE = 3
NICE = 19
SLEEP = 30
PING = true
MAILTO = admin@example.com, ops@example.com
COMPRESSLOG = no
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	sets, err := c.Sets()
	if err != nil {
		t.Fatal(err)
	}
	s := sets[0]
	if s.Hanoi != 3 {
		t.Errorf("HANOI = %d", s.Hanoi)
	}
	if s.HanoiDay.Format("2006-01-02") != "2024-01-01" {
		t.Errorf("HANOIDAY = %v", s.HanoiDay)
	}
	if !s.HardLink {
		t.Error("HARDLINK should be true")
	}
	if s.Interval != 30*time.Hour {
		t.Errorf("INTERVAL = %v, expected 30h", s.Interval)
	}
	if s.RunTime.Start != 2*3600 || s.RunTime.End != 4*3600+30*60 {
		t.Errorf("RUNTIME = %+v", s.RunTime)
	}
	if s.Pri != 5 || s.IONice != 3 || s.Nice != 19 || s.Sleep != 30 {
		t.Error("int knobs not parsed")
	}
	if !s.Ping {
		t.Error("PING should be true")
	}
	if !s.Dst.IsRemote() || s.Dst.Host() != "nas" {
		t.Errorf("DST should parse as remote, got %+v", s.Dst)
	}
	if len(s.MailTo) != 2 || s.MailTo[1] != "ops@example.com" {
		t.Errorf("MAILTO = %v", s.MailTo)
	}
	if s.CompressLog {
		t.Error("COMPRESSLOG = no should parse as false")
	}
}

func TestSets_PingBothRemote(t *testing.T) {
	body := `
[Global]
PIDFILE = /run/jabs.pid

[bad]
BACKUPLIST = data
SRC = a@h1:/src
DST = b@h2:/dst
PING = yes
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Sets(); err == nil {
		t.Fatal("expected validation error: PING with two remote endpoints")
	}
}

func TestSets_HanoiWithoutHanoiDay(t *testing.T) {
	body := `
[Global]
PIDFILE = /run/jabs.pid

[bad]
BACKUPLIST = data
SRC = /src
DST = /dst
HANOI = 3
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Sets(); err == nil {
		t.Fatal("expected validation error: HANOI > 0 without HANOIDAY")
	}
}

func TestSets_BadProgram(t *testing.T) {
	body := `
[Global]
PIDFILE = /run/jabs.pid

[bad]
BACKUPLIST = data
SRC = /src
DST = /dst
PROGRAM = tar
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Sets(); err == nil {
		t.Fatal("expected validation error for unsupported program")
	}
}

func TestSets_BadInterval(t *testing.T) {
	body := `
[Global]
PIDFILE = /run/jabs.pid

[bad]
BACKUPLIST = data
SRC = /src
DST = /dst
INTERVAL = 1h 2h
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Sets(); err == nil {
		t.Fatal("expected error for repeated interval unit")
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{"30s", 30 * time.Second, true},
		{"5m", 5 * time.Minute, true},
		{"1d 6h 30m 15s", 30*time.Hour + 30*time.Minute + 15*time.Second, true},
		{"6h 1d", 30 * time.Hour, true},
		{"1w", 0, false},
		{"h", 0, false},
		{"1h 2h", 0, false},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseDuration(%q) = (%v, %v), expected %v", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseDuration(%q) should fail", c.in)
		}
	}
}

func TestTimeRange_Contains(t *testing.T) {
	r, err := ParseTimeRange("02:00:00-04:00:00")
	if err != nil {
		t.Fatal(err)
	}
	at := func(h, m, s int) time.Time {
		return time.Date(2024, 1, 1, h, m, s, 0, time.Local)
	}
	if !r.Contains(at(2, 0, 0)) || !r.Contains(at(3, 30, 0)) || !r.Contains(at(4, 0, 0)) {
		t.Error("window bounds should be inclusive")
	}
	if r.Contains(at(1, 59, 59)) || r.Contains(at(4, 0, 1)) || r.Contains(at(12, 0, 0)) {
		t.Error("moments outside the window must not match")
	}
}
