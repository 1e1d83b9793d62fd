// Package cache persists the last-run timestamp of each backup set between
// invocations. Each set gets one flat file under the cache directory whose
// body is a single decimal Unix timestamp. The scheduler reads it to enforce
// the minimum interval between runs; the executor writes it after a
// completed transfer loop, never before, so a crash mid-set leaves the old
// timestamp in place and the next invocation retries.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// dirMode is used when the cache directory has to be created on demand.
const dirMode = 0o700

// Store reads and writes per-set last-run timestamps.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New returns a Store rooted at dir. The directory is not created until the
// first write.
func New(dir string, logger *zap.Logger) *Store {
	return &Store{dir: dir, logger: logger.Named("cache")}
}

// entryPath maps a set name to its cache file. Path separators in the name
// are replaced so a set cannot escape the cache directory.
func (s *Store) entryPath(setName string) string {
	safe := strings.ReplaceAll(setName, string(os.PathSeparator), "_")
	return filepath.Join(s.dir, safe)
}

// LastRun returns the recorded last-run time of the named set. A missing or
// unparseable entry is reported as the Unix epoch with a warning, so the set
// is considered overdue rather than blocked.
func (s *Store) LastRun(setName string) time.Time {
	path := s.entryPath(setName)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cannot read last-run timestamp, assuming epoch",
				zap.String("set", setName), zap.Error(err))
		} else {
			s.logger.Warn("last-run timestamp missing, assuming epoch",
				zap.String("set", setName))
		}
		return time.Unix(0, 0)
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		s.logger.Warn("last-run timestamp corrupted, assuming epoch",
			zap.String("set", setName), zap.String("path", path))
		return time.Unix(0, 0)
	}
	return time.Unix(ts, 0)
}

// SetLastRun records when as the last run of the named set, creating the
// cache directory (mode 0700) if it does not exist yet.
func (s *Store) SetLastRun(setName string, when time.Time) error {
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fmt.Errorf("cache: cannot create cache directory %s: %w", s.dir, err)
	}

	path := s.entryPath(setName)
	body := strconv.FormatInt(when.Unix(), 10) + "\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("cache: cannot write %s: %w", path, err)
	}
	return nil
}
