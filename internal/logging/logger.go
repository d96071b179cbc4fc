// Package logging builds the service's logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

// sensitiveKeys are field-name fragments whose values never reach the log output
var sensitiveKeys = []string{"password", "token", "secret", "authorization", "embg"}

// New creates a logger from the logging configuration
func New(config domain.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(config.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	out, err := openOutput(config)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(out)
	logger.AddHook(RedactHook{})

	return logger, nil
}

func openOutput(config domain.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(config.Output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "file":
		if config.Filename == "" {
			return nil, fmt.Errorf("log filename is required for file output")
		}
		f, err := os.OpenFile(config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("invalid log output: %s", config.Output)
	}
}

// RedactHook replaces the values of sensitive fields before an entry is written
type RedactHook struct{}

// Levels implements logrus.Hook
func (RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (RedactHook) Fire(entry *logrus.Entry) error {
	for k := range entry.Data {
		if isSensitive(k) {
			entry.Data[k] = "[REDACTED]"
		}
	}
	return nil
}

func isSensitive(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, pattern := range sensitiveKeys {
		if strings.Contains(lowerKey, pattern) {
			return true
		}
	}
	return false
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
