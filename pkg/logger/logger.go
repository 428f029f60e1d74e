// Package logger wraps logrus with the small structured-logging surface the
// application uses.
package logger

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger carries a component name and accumulated fields.
type Logger struct {
	log   *logrus.Logger
	entry *logrus.Entry
}

// Config controls the underlying logrus instance.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// New constructs a logger from config. Zero-value fields fall back to
// info-level text logging on stderr.
func New(component string, cfg Config) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	}

	return &Logger{log: log, entry: log.WithField("component", component)}
}

// NewDefault returns an info-level text logger for the given component.
func NewDefault(component string) *Logger {
	return New(component, Config{})
}

// SetOutput redirects log output, e.g. to io.Discard in examples.
func (l *Logger) SetOutput(w io.Writer) {
	l.log.SetOutput(w)
}

// WithField returns a logger with an additional structured field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{log: l.log, entry: l.entry.WithField(key, value)}
}

// WithError returns a logger with the error attached as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{log: l.log, entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
