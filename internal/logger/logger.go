package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu     sync.Mutex
	base   = newBase()
	closer io.Closer
)

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel converts a case-insensitive level name. Unknown names map to INFO.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(level string) {
	base.SetLevel(ParseLevel(level).logrus())
}

// SetFormat switches between "text" and "json" output.
func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}

// SetOutput directs log output to stdout, stderr or a file path (opened in append mode).
func SetOutput(output string) error {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer
	var c io.Closer
	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", output, err)
		}
		w, c = f, f
	}

	base.SetOutput(w)
	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	return nil
}

// SetWriter replaces the output with an arbitrary writer. Used by tests.
func SetWriter(w io.Writer) {
	base.SetOutput(w)
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields map[string]any) *logrus.Entry {
	return base.WithFields(logrus.Fields(fields))
}

func IsDebug() bool {
	return base.IsLevelEnabled(logrus.DebugLevel)
}

func Debug(format string, v ...any) {
	base.Debugf(format, v...)
}

func Info(format string, v ...any) {
	base.Infof(format, v...)
}

func Warn(format string, v ...any) {
	base.Warnf(format, v...)
}

func Error(format string, v ...any) {
	base.Errorf(format, v...)
}
