package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htx-mm/internal/config"
)

func TestNewLoggerWritesServiceField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mm.log")
	logger, err := NewLogger(config.LoggingConfig{
		Level:       "debug",
		Encoding:    "json",
		OutputPaths: []string{path},
	})
	require.NoError(t, err)

	logger.Debug("调试信息")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"htx-mm"`)
	assert.Contains(t, string(data), `"level":"DEBUG"`)
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLoggerDefaults(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
