package ancestor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gtozzi/jabs/internal/pathref"
)

func withSSH(t *testing.T, fn func(userHost, remoteCmd string) ([]byte, error)) {
	t.Helper()
	old := runSSH
	runSSH = fn
	t.Cleanup(func() { runSSH = old })
}

func mkdirWithMtime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestFind_LocalSortedByMtime(t *testing.T) {
	parent := t.TempDir()
	now := time.Now()
	mkdirWithMtime(t, filepath.Join(parent, "home.A"), now.Add(-48*time.Hour))
	mkdirWithMtime(t, filepath.Join(parent, "home.B"), now.Add(-24*time.Hour))
	mkdirWithMtime(t, filepath.Join(parent, "home.C"), now.Add(-72*time.Hour))
	mkdirWithMtime(t, filepath.Join(parent, "unrelated"), now)

	f := New(zap.NewNop())
	got := f.Find(pathref.Parse(filepath.Join(parent, "home")), ".", "D")

	want := []string{
		parent + "/home.B",
		parent + "/home.A",
		parent + "/home.C",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, expected %q", i, got[i], want[i])
		}
	}
}

func TestFind_LocalExcludesCurrentSuffix(t *testing.T) {
	parent := t.TempDir()
	now := time.Now()
	mkdirWithMtime(t, filepath.Join(parent, "home.A"), now.Add(-time.Hour))
	mkdirWithMtime(t, filepath.Join(parent, "home.B"), now)

	f := New(zap.NewNop())
	got := f.Find(pathref.Parse(filepath.Join(parent, "home")), ".", "B")

	if len(got) != 1 || got[0] != parent+"/home.A" {
		t.Errorf("current generation must be excluded, got %v", got)
	}
}

func TestFind_LocalSkipsSymlinks(t *testing.T) {
	parent := t.TempDir()
	mkdirWithMtime(t, filepath.Join(parent, "home.A"), time.Now())
	// The rotation symlink named like the base must not count as a generation.
	if err := os.Symlink(filepath.Join(parent, "home.A"), filepath.Join(parent, "home")); err != nil {
		t.Fatal(err)
	}

	f := New(zap.NewNop())
	got := f.Find(pathref.Parse(filepath.Join(parent, "home")), ".", "B")

	if len(got) != 1 || got[0] != parent+"/home.A" {
		t.Errorf("expected only home.A, got %v", got)
	}
}

func TestFind_LocalMissingParent(t *testing.T) {
	f := New(zap.NewNop())
	got := f.Find(pathref.Parse("/no/such/parent/home"), ".", "A")
	if len(got) != 0 {
		t.Errorf("expected empty list on unreadable parent, got %v", got)
	}
}

func TestFind_Remote(t *testing.T) {
	withSSH(t, func(userHost, remoteCmd string) ([]byte, error) {
		if userHost != "root@nas" {
			t.Errorf("unexpected ssh target %q", userHost)
		}
		// -t output: newest first, preserved as-is.
		return []byte("" +
			"drwxr-xr-x 5 root root 4096 2024-03-02 01:10 home.B\n" +
			"drwxr-xr-x 5 root root 4096 2024-03-01 01:10 home.A\n" +
			"-rw-r--r-- 1 root root   10 2024-03-01 01:10 home.log\n" +
			"lrwxrwxrwx 1 root root   06 2024-03-02 01:20 home\n" +
			"drwxr-xr-x 2 root root 4096 2024-02-01 01:10 other\n"), nil
	})

	f := New(zap.NewNop())
	got := f.Find(pathref.Parse("root@nas:/srv/backup/home"), ".", "C")

	want := []string{"/srv/backup/home.B", "/srv/backup/home.A"}
	if len(got) != len(want) {
		t.Fatalf("got %v, expected %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, expected %q", i, got[i], want[i])
		}
	}
}

func TestFind_RemoteExcludesCurrentSuffix(t *testing.T) {
	withSSH(t, func(userHost, remoteCmd string) ([]byte, error) {
		return []byte("" +
			"drwxr-xr-x 5 root root 4096 2024-03-02 01:10 home.B\n" +
			"drwxr-xr-x 5 root root 4096 2024-03-01 01:10 home.A\n"), nil
	})

	f := New(zap.NewNop())
	got := f.Find(pathref.Parse("root@nas:/srv/backup/home"), ".", "B")
	if len(got) != 1 || got[0] != "/srv/backup/home.A" {
		t.Errorf("current generation must be excluded, got %v", got)
	}
}

func TestFind_RemoteSSHFailure(t *testing.T) {
	withSSH(t, func(userHost, remoteCmd string) ([]byte, error) {
		return nil, errors.New("ssh: connect refused")
	})

	f := New(zap.NewNop())
	got := f.Find(pathref.Parse("root@nas:/srv/backup/home"), ".", "A")
	if len(got) != 0 {
		t.Errorf("ssh failure must yield an empty list, got %v", got)
	}
}
