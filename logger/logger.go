// Package logger carries the process-wide log surface the transaction
// engine, tier manager, and filesystem facade report through: one logrus
// logger with a compact single-line format, structured fields for the
// operation/path/transaction context most lines carry, and an error
// mirror so rollback and eviction failures reach stderr (or a dedicated
// file) even when regular output is discarded.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls verbosity and the two output sinks.
type Config struct {
	Level     string // debug, info, warn, error; empty means info
	LogPath   string // optional file mirrored alongside stdout
	ErrorPath string // optional file error entries are mirrored to, alongside stderr
}

var std = build(Config{}, os.Stdout, os.Stderr)

// lineFormatter renders one entry per line: timestamp, level, message,
// then the entry's fields sorted by key, so lines diff and grep cleanly.
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(e.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(e.Level.String()))
	b.WriteByte(' ')
	b.WriteString(e.Message)
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// errorMirror re-emits error-and-worse entries to a second writer, keeping
// failure lines visible when stdout is piped away or discarded.
type errorMirror struct {
	w io.Writer
}

func (m *errorMirror) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

func (m *errorMirror) Fire(e *logrus.Entry) error {
	line, err := lineFormatter{}.Format(e)
	if err != nil {
		return err
	}
	_, err = m.w.Write(line)
	return err
}

func build(cfg Config, out, errOut io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(lineFormatter{})
	l.SetLevel(parseLevel(cfg.Level))
	l.SetOutput(out)
	l.AddHook(&errorMirror{w: errOut})
	return l
}

func parseLevel(level string) logrus.Level {
	if lv, err := logrus.ParseLevel(level); err == nil {
		return lv
	}
	return logrus.InfoLevel
}

// Init replaces the process-wide logger according to cfg. Safe to call
// more than once; the latest call wins.
func Init(cfg Config) error {
	out := io.Writer(os.Stdout)
	if cfg.LogPath != "" {
		f, err := openLogFile(cfg.LogPath)
		if err != nil {
			return err
		}
		out = io.MultiWriter(os.Stdout, f)
	}
	errOut := io.Writer(os.Stderr)
	if cfg.ErrorPath != "" {
		f, err := openLogFile(cfg.ErrorPath)
		if err != nil {
			return err
		}
		errOut = io.MultiWriter(os.Stderr, f)
	}
	std = build(cfg, out, errOut)
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// WithTxn tags entries with the transaction they belong to.
func WithTxn(id string) *logrus.Entry { return std.WithField("txn", id) }

// WithOp tags entries with the operation and path they concern.
func WithOp(op, path string) *logrus.Entry {
	return std.WithFields(logrus.Fields{"op": op, "path": path})
}

func Debug(args ...interface{})                 { std.Debug(args...) }
func Debugf(format string, args ...interface{}) { std.Debugf(format, args...) }
func Info(args ...interface{})                  { std.Info(args...) }
func Infof(format string, args ...interface{})  { std.Infof(format, args...) }
func Warn(args ...interface{})                  { std.Warn(args...) }
func Warnf(format string, args ...interface{})  { std.Warnf(format, args...) }
func Error(args ...interface{})                 { std.Error(args...) }
func Errorf(format string, args ...interface{}) { std.Errorf(format, args...) }
