// Package logging writes training logs to stderr and to a size-rotated
// plain-text file, each line stamped as [[01/02/2006 03:04:05 PM]].
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// TimeFormat is the timestamp layout of every log line.
const TimeFormat = "01/02/2006 03:04:05 PM"

// FileName returns the log file name for a run started at t.
func FileName(t time.Time) string {
	return "log_" + t.Format("2006-01-02_15-04") + ".txt"
}

// Stamper prefixes every line written through it with the current time.
type Stamper struct {
	mu  sync.Mutex
	w   io.Writer
	Now func() time.Time
}

// NewStamper wraps w.
func NewStamper(w io.Writer) *Stamper {
	return &Stamper{w: w, Now: time.Now}
}

func (s *Stamper) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	stamp := "[[" + s.Now().Format(TimeFormat) + "]] "
	for _, line := range bytes.SplitAfter(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		buf.WriteString(stamp)
		buf.Write(line)
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// File is an open training log.
type File struct {
	*log.Logger
	Path string
	file *lumberjack.Logger
}

// Open creates dir/log_<date>.txt and returns a logger writing to it and,
// when echo is non-nil, to echo as well.
func Open(dir string, echo io.Writer) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, FileName(time.Now()))
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		LocalTime:  true,
	}
	var w io.Writer = lj
	if echo != nil {
		w = io.MultiWriter(lj, echo)
	}
	return &File{
		Logger: log.New(NewStamper(w), "", 0),
		Path:   path,
		file:   lj,
	}, nil
}

// Close closes the log file.
func (f *File) Close() error {
	return f.file.Close()
}
