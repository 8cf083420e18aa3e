package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	l.SetLevel(logrus.InfoLevel)

	// Read LOG_LEVEL from environment
	if lvl, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	}
	return l
}

// ParseLevel maps the names accepted by LOG_LEVEL and --log-level to a
// logrus level. An empty string means info.
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, &invalidLevelError{s}
}

type invalidLevelError struct{ level string }

func (e *invalidLevelError) Error() string {
	return "invalid log level: " + e.level + " (expected debug, info, warn or error)"
}

// SetLevel changes the global log level.
func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}

// SetOutput redirects all log output, mostly for tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// WithHost returns an entry tagged with the node being worked on.
func WithHost(host string) *logrus.Entry {
	return log.WithField("host", host)
}

// WithField returns an entry carrying one structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
