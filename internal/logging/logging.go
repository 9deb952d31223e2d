package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Categories used across the ingestion process.
const (
	CategoryPipeline   = "pipeline"
	CategorySubmission = "submission"
	CategoryDedup      = "dedup"
	CategoryFiles      = "files"
	CategoryWatch      = "watch"
	CategoryServer     = "server"
)

// New creates a JSON logrus logger writing to out (stdout when nil).
func New(level string, out io.Writer) *logrus.Logger {
	if out == nil {
		out = os.Stdout
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(levelFromString(level))
	return logger
}

// ForSession scopes a logger to a category and a run session id.
func ForSession(logger logrus.FieldLogger, category, sessionID string) *logrus.Entry {
	if logger == nil {
		logger = Discard()
	}
	fields := logrus.Fields{"category": category}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	return logger.WithFields(fields)
}

// Discard returns a logger that drops every entry; handy for tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func levelFromString(value string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return logrus.ErrorLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	case "trace":
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}
