package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"

	"github.com/dbehnke/dvgateway/internal/config"
)

// dailyFile appends to root-YYYY-MM-DD.log in dir, switching files when
// the date changes.
type dailyFile struct {
	dir     string
	pattern *strftime.Strftime
	now     func() time.Time

	mu   sync.Mutex
	name string
	f    *os.File
}

func newDailyFile(dir, root string) (*dailyFile, error) {
	p, err := strftime.New(root + "-%Y-%m-%d.log")
	if err != nil {
		return nil, fmt.Errorf("log file pattern: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	return &dailyFile{dir: dir, pattern: p, now: time.Now}, nil
}

func (d *dailyFile) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := filepath.Join(d.dir, d.pattern.FormatString(d.now()))
	if name != d.name || d.f == nil {
		if d.f != nil {
			d.f.Close()
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			d.f = nil
			return 0, err
		}
		d.f, d.name = f, name
	}
	return d.f.Write(b)
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// logLevel maps the MMDVM style numeric levels: 1 debug, 2 and 3 info,
// 4 warning, 5 error, 6 fatal. 0 turns the output off.
func logLevel(n uint32) log.Level {
	switch {
	case n <= 1:
		return log.DebugLevel
	case n <= 3:
		return log.InfoLevel
	case n == 4:
		return log.WarnLevel
	case n == 5:
		return log.ErrorLevel
	default:
		return log.FatalLevel
	}
}

// newLogger builds the process logger from the [Log] section. The level is
// the more verbose of the two outputs.
func newLogger(cfg *config.Config, stderr io.Writer) (*log.Logger, io.Closer, error) {
	var outs []io.Writer
	var closer io.Closer = nopCloser{}
	level := log.FatalLevel

	if n := cfg.GetLogDisplayLevel(); n > 0 {
		outs = append(outs, stderr)
		level = min(level, logLevel(n))
	}
	if n := cfg.GetLogFileLevel(); n > 0 {
		f, err := newDailyFile(cfg.GetLogFilePath(), cfg.GetLogFileRoot())
		if err != nil {
			return nil, nil, err
		}
		outs = append(outs, f)
		closer = f
		level = min(level, logLevel(n))
	}
	if cfg.GetDebug() {
		level = log.DebugLevel
	}

	var w io.Writer = io.Discard
	switch len(outs) {
	case 1:
		w = outs[0]
	case 2:
		w = io.MultiWriter(outs...)
	}

	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05.000",
		Level:           level,
		Prefix:          "dvgateway",
	})
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
