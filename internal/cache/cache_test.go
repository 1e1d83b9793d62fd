package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLastRun_Missing(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())
	if got := s.LastRun("homes"); !got.Equal(time.Unix(0, 0)) {
		t.Errorf("missing entry should read as epoch, got %v", got)
	}
}

func TestLastRun_Corrupted(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "homes"), []byte("not a number\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(dir, zap.NewNop())
	if got := s.LastRun("homes"); !got.Equal(time.Unix(0, 0)) {
		t.Errorf("corrupted entry should read as epoch, got %v", got)
	}
}

func TestSetLastRun_RoundTrip(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())
	when := time.Date(2024, time.May, 3, 12, 30, 0, 0, time.Local)
	if err := s.SetLastRun("homes", when); err != nil {
		t.Fatal(err)
	}
	if got := s.LastRun("homes"); !got.Equal(when.Truncate(time.Second)) {
		t.Errorf("expected %v, got %v", when, got)
	}
}

func TestSetLastRun_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	s := New(dir, zap.NewNop())
	if err := s.SetLastRun("homes", time.Now()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("expected cache dir mode 0700, got %o", perm)
	}
}

func TestEntryPath_SeparatorReplaced(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zap.NewNop())
	if err := s.SetLastRun("evil/name", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "evil_name")); err != nil {
		t.Errorf("expected separator replaced with underscore: %v", err)
	}
}
