package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroscan-portal/internal/domain"
)

func TestNew_LevelAndFormat(t *testing.T) {
	logger, err := New(domain.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = New(domain.LoggingConfig{Level: "bogus", Format: "text"})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neuroscan.log")
	logger, err := New(domain.LoggingConfig{Level: "info", Format: "json", Output: "file", Filename: path})
	require.NoError(t, err)

	logger.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestNew_InvalidOutput(t *testing.T) {
	_, err := New(domain.LoggingConfig{Output: "syslog"})
	assert.Error(t, err)

	_, err = New(domain.LoggingConfig{Output: "file"})
	assert.Error(t, err)
}

func TestRedactHook(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(domain.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	logger.SetOutput(&buf)

	logger.WithFields(logrus.Fields{
		"email":         "jane@clinic.org",
		"password":      "hunter2",
		"patient_embg":  "0101990450001",
		"session_token": "abc",
	}).Info("login attempt")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "jane@clinic.org", entry["email"])
	assert.Equal(t, "[REDACTED]", entry["password"])
	assert.Equal(t, "[REDACTED]", entry["patient_embg"])
	assert.Equal(t, "[REDACTED]", entry["session_token"])
}
