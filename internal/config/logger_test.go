package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       LogConfig
		wantLevel logrus.Level
		wantText  bool
	}{
		{name: "json debug", cfg: LogConfig{Level: "debug", Format: "json", Output: "stdout"}, wantLevel: logrus.DebugLevel},
		{name: "text warn", cfg: LogConfig{Level: "warn", Format: "text", Output: "stdout"}, wantLevel: logrus.WarnLevel, wantText: true},
		{name: "invalid level falls back to info", cfg: LogConfig{Level: "loud"}, wantLevel: logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logrus.New()
			require.NoError(t, ConfigureLogger(logger, tt.cfg))
			assert.Equal(t, tt.wantLevel, logger.GetLevel())
			_, isText := logger.Formatter.(*logrus.TextFormatter)
			assert.Equal(t, tt.wantText, isText)
		})
	}
}

func TestConfigureLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "labcrm.log")
	logger := logrus.New()

	err := ConfigureLogger(logger, LogConfig{Level: "info", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	logger.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
