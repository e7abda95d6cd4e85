package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/private-symposium-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log, err = NewLogger(&config.LoggingConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	log, err := NewLogger(&config.LoggingConfig{
		Level:  "info",
		Output: "file",
		File:   config.FileConfig{Path: path, MaxSize: 1},
	})
	require.NoError(t, err)

	rotator, ok := log.Out.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, rotator.Filename)
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestWithTurn(t *testing.T) {
	entry := WithTurn(Discard(), "u1", "eudora")
	assert.Equal(t, "u1", entry.Data["user_id"])
	assert.Equal(t, "eudora", entry.Data["conversation_key"])
}

func TestNewLogger_UnsupportedSettings(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)

	_, err = NewLogger(&config.LoggingConfig{Level: "info", Output: "syslog"})
	assert.Error(t, err)

	_, err = NewLogger(&config.LoggingConfig{Level: "info", Output: "file"})
	assert.Error(t, err)
}

func TestIdentifyAndRequestFields(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	var buf bytes.Buffer
	log.SetOutput(&buf)
	Identify(log, "symposium", "1.2.3")

	WithRequest(log, "req-1", "POST", "/chat").Info("served")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "symposium", line[FieldService])
	assert.Equal(t, "1.2.3", line[FieldVersion])
	assert.Equal(t, "req-1", line[FieldRequestID])
	assert.Equal(t, "POST", line[FieldMethod])
	assert.Equal(t, "/chat", line[FieldPath])
	assert.Equal(t, "served", line["message"])
}
