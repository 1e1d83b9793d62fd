// Package report accumulates the per-set execution transcript and delivers
// the end-of-set email: a text body built from the transcript plus one
// attachment per transferred directory (the captured transfer log, gzipped
// or plain).
package report

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Transcript levels. Lower is more severe; a rendering threshold includes
// every line at or below it.
const (
	LevelError  = -2
	LevelWarn   = -1
	LevelNormal = 0
	LevelDetail = 1
)

// Transcript buffers the human-readable log of one set execution. Lines are
// kept with their level so the email body can be rendered at normal
// verbosity while a -v run prints the detail lines too. Every line is also
// teed into the process logger.
type Transcript struct {
	mu     sync.Mutex
	lines  []transcriptLine
	logger *zap.Logger
}

type transcriptLine struct {
	level int
	text  string
}

// NewTranscript returns an empty transcript teeing into logger.
func NewTranscript(logger *zap.Logger) *Transcript {
	return &Transcript{logger: logger}
}

// Errorf records an error-level line.
func (t *Transcript) Errorf(format string, args ...any) { t.addf(LevelError, format, args...) }

// Warnf records a warning-level line.
func (t *Transcript) Warnf(format string, args ...any) { t.addf(LevelWarn, format, args...) }

// Infof records a normal line.
func (t *Transcript) Infof(format string, args ...any) { t.addf(LevelNormal, format, args...) }

// Detailf records a line shown only at raised verbosity.
func (t *Transcript) Detailf(format string, args ...any) { t.addf(LevelDetail, format, args...) }

func (t *Transcript) addf(level int, format string, args ...any) {
	text := fmt.Sprintf(format, args...)

	t.mu.Lock()
	t.lines = append(t.lines, transcriptLine{level: level, text: text})
	t.mu.Unlock()

	switch level {
	case LevelError:
		t.logger.Error(text)
	case LevelWarn:
		t.logger.Warn(text)
	case LevelNormal:
		t.logger.Info(text)
	default:
		t.logger.Debug(text)
	}
}

// Render returns the transcript as text, including every line at or below
// maxLevel.
func (t *Transcript) Render(maxLevel int) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder
	for _, l := range t.lines {
		if l.level <= maxLevel {
			sb.WriteString(l.text)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
