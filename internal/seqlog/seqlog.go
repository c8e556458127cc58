// Package seqlog saves confirmed sequences to a CSV audit trail, adapted
// from the teacher's daily-named packet log: rather than a raw dump, each
// confirmed sequence's wall-clock start, code, and per-tone
// frequency/level tuples are written as one CSV row.
package seqlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/fmewatch/fmewatch/internal/tone"
)

// Logger writes one CSV row per confirmed sequence. When DailyNames is
// set, a new file is opened (with a header row) each time the wall-clock
// date rolls over, named per a strftime pattern; otherwise a single,
// ever-growing file is kept open.
type Logger struct {
	mu sync.Mutex

	dailyNames bool
	pathOrDir  string
	pattern    string

	fp       *os.File
	w        *csv.Writer
	openName string
}

// New constructs a Logger. When dailyNames is true, path is a directory
// and filenames are generated from the strftime pattern
// "sequences-%Y-%m-%d.csv"; otherwise path is the single file to append
// to.
func New(dailyNames bool, path string) (*Logger, error) {
	l := &Logger{dailyNames: dailyNames, pathOrDir: path, pattern: "sequences-%Y-%m-%d.csv"}
	if dailyNames {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Write appends one row for the confirmed sequence, rotating to a new
// daily file first if the date has rolled over.
func (l *Logger) Write(seq tone.Sequence) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureOpenLocked(); err != nil {
		return err
	}

	row := []string{seq.RefStart.Format(time.RFC3339Nano)}
	for _, t := range seq.Tones {
		row = append(row,
			strconv.Itoa(t.ToneIndex),
			strconv.FormatFloat(t.Frequency, 'f', 2, 64),
			strconv.FormatFloat(t.AbsLevel, 'f', 6, 64),
		)
	}
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *Logger) ensureOpenLocked() error {
	if !l.dailyNames {
		if l.fp != nil {
			return nil
		}
		fp, err := os.OpenFile(l.pathOrDir, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		l.fp = fp
		l.w = csv.NewWriter(fp)
		return nil
	}

	name, err := strftime.Format(l.pattern, time.Now())
	if err != nil {
		return err
	}
	if name == l.openName && l.fp != nil {
		return nil
	}
	if l.fp != nil {
		l.w.Flush()
		l.fp.Close()
	}
	full := filepath.Join(l.pathOrDir, name)
	_, statErr := os.Stat(full)
	fp, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.fp = fp
	l.w = csv.NewWriter(fp)
	l.openName = name
	if statErr != nil {
		if err := l.w.Write([]string{"t_ref_start", "tone_index...", "frequency...", "level..."}); err != nil {
			return err
		}
		l.w.Flush()
	}
	return nil
}

// Close flushes and closes the currently open file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fp == nil {
		return nil
	}
	l.w.Flush()
	err := l.fp.Close()
	l.fp = nil
	return err
}
