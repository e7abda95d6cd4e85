// Package logger builds the service logger and the field sets shared by its
// log lines.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/private-symposium-go/internal/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field names used across the service
const (
	FieldService         = "service"
	FieldVersion         = "version"
	FieldRequestID       = "request_id"
	FieldUserID          = "user_id"
	FieldConversationKey = "conversation_key"
	FieldMethod          = "method"
	FieldPath            = "path"
)

// NewLogger builds a logger from config. Format is "json" or "text" (the
// default); output is "stdout" (the default) or "file", which rotates
// through lumberjack.
func NewLogger(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	formatter, err := newFormatter(cfg.Format)
	if err != nil {
		return nil, err
	}

	out, err := newOutput(cfg)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	logger.SetOutput(out)
	return logger, nil
}

func newFormatter(format string) (logrus.Formatter, error) {
	switch format {
	case "json":
		return &logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		}, nil
	case "text", "":
		return &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		}, nil
	}
	return nil, fmt.Errorf("unsupported log format: %s", format)
}

func newOutput(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "stdout", "":
		return os.Stdout, nil
	case "file":
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("logging.file.path is required for file output")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, err
		}
		return &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize, // megabytes
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge, // days
			Compress:   true,
		}, nil
	}
	return nil, fmt.Errorf("unsupported log output: %s", cfg.Output)
}

// staticFields stamps the same fields on every entry
type staticFields logrus.Fields

func (h staticFields) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h staticFields) Fire(entry *logrus.Entry) error {
	for k, v := range h {
		if _, set := entry.Data[k]; !set {
			entry.Data[k] = v
		}
	}
	return nil
}

// Identify tags every line written through logger with the service name and
// version
func Identify(logger *logrus.Logger, service, version string) {
	logger.AddHook(staticFields{FieldService: service, FieldVersion: version})
}

// Discard returns a logger that drops everything, for tests
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// WithRequest adds the fields that identify an HTTP request
func WithRequest(logger logrus.FieldLogger, requestID, method, path string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		FieldRequestID: requestID,
		FieldMethod:    method,
		FieldPath:      path,
	})
}

// WithTurn adds the fields that identify a chat turn
func WithTurn(logger logrus.FieldLogger, userID, conversationKey string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		FieldUserID:          userID,
		FieldConversationKey: conversationKey,
	})
}
