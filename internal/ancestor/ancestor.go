// Package ancestor discovers previous backup generations next to a
// destination directory. The executor passes each one to rsync as a
// --link-dest argument so unchanged files become hard links instead of new
// copies. Discovery is best effort: any failure degrades to "no ancestors"
// (a full transfer) and never aborts the backup.
package ancestor

import (
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gtozzi/jabs/internal/pathref"
)

// lsLine matches one line of `ls -l --time-style=long-iso` output:
// mode, link count, user, group, size, "YYYY-MM-DD HH:MM", name.
var lsLine = regexp.MustCompile(`^([^\s]+)\s+([0-9]+)\s+([^\s]+)\s+([^\s]+)\s+([0-9]+)\s+([0-9]{4}-[0-9]{2}-[0-9]{2}\s[0-9]{2}:[0-9]{2})\s+(.+)$`)

// runSSH executes the remote listing and returns its stdout. Overridable in
// tests.
var runSSH = func(userHost, remoteCmd string) ([]byte, error) {
	cmd := exec.Command("ssh", "-o", "BatchMode=true", userHost, remoteCmd)
	return cmd.Output()
}

// Finder locates candidate hard-link sources.
type Finder struct {
	logger *zap.Logger
}

// New returns a Finder.
func New(logger *zap.Logger) *Finder {
	return &Finder{logger: logger.Named("ancestor")}
}

// Find returns previous-generation directories for dst, most recent first,
// as absolute paths under dst's parent. sep joins the base name and the
// rotation suffix; the generation matching currentSuffix is excluded — that
// is the directory the coming transfer will overwrite, and linking against
// it would freeze its contents.
func (f *Finder) Find(dst pathref.Ref, sep, currentSuffix string) []string {
	var names []string
	var parent, base string

	if dst.IsRemote() {
		parent, base = path.Split(dst.Path)
		parent = strings.TrimSuffix(parent, "/")
		if parent == "" {
			parent = "/"
		}
		names = f.listRemote(dst.UserHost, parent)
	} else {
		parent, base = filepath.Split(dst.Path)
		parent = filepath.Clean(parent)
		names = f.listLocal(parent)
	}

	exclude := base + sep + currentSuffix
	var out []string
	for _, name := range names {
		if name != base && !strings.HasPrefix(name, base+sep) {
			continue
		}
		if name == exclude {
			continue
		}
		f.logger.Debug("found previous generation", zap.String("name", name))
		out = append(out, parent+"/"+name)
	}
	return out
}

// listLocal enumerates directories under parent, newest mtime first.
// Symlinks are not followed: a generation must be a real directory, or
// hard-linking against it would resolve through the rotation symlink.
func (f *Finder) listLocal(parent string) []string {
	entries, err := os.ReadDir(parent)
	if err != nil {
		f.logger.Warn("cannot list destination parent, hard linking disabled",
			zap.String("parent", parent), zap.Error(err))
		return nil
	}

	type gen struct {
		name  string
		mtime time.Time
	}
	var gens []gen
	for _, e := range entries {
		info, err := os.Lstat(filepath.Join(parent, e.Name()))
		if err != nil || !info.Mode().IsDir() {
			continue
		}
		gens = append(gens, gen{e.Name(), info.ModTime()})
	}
	sort.SliceStable(gens, func(i, j int) bool { return gens[i].mtime.After(gens[j].mtime) })

	names := make([]string, len(gens))
	for i, g := range gens {
		names[i] = g.name
	}
	return names
}

// listRemote enumerates directories under parent on the remote host. The -t
// flag makes ls order by mtime descending already; that order is preserved.
func (f *Finder) listRemote(userHost, parent string) []string {
	remoteCmd := `ls -l --color=never --time-style=long-iso -t -1 "` + parent + `"`
	out, err := runSSH(userHost, remoteCmd)
	if err != nil {
		f.logger.Warn("remote listing failed, hard linking disabled",
			zap.String("host", userHost), zap.Error(err))
		return nil
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		m := lsLine.FindStringSubmatch(line)
		if m == nil || m[1][0] != 'd' {
			continue
		}
		names = append(names, m[7])
	}
	return names
}
