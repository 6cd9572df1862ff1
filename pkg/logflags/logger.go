package logflags

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is what every layer of dbgcheck logs through. Debug messages are
// only emitted for the layers enabled with --log-output.
type Logger interface {
	WithField(key string, value interface{}) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
}

// Fields are attached to every message of a Logger.
type Fields map[string]interface{}

// LoggerFactory builds the Logger of a layer. out is nil unless --log-dest
// was given.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory replaces the logrus loggers this package creates by
// default, for embedding dbgcheck's packages in another program.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

type entryLogger struct {
	*logrus.Entry
}

func (l *entryLogger) WithField(key string, value interface{}) Logger {
	return &entryLogger{l.Entry.WithField(key, value)}
}

var textFormatterInstance = &logrus.TextFormatter{FullTimestamp: true}
