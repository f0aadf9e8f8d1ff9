package logging

import (
	"os"
	"path/filepath"
	"testing"

	"vsnbridge/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONToRotatingFile(t *testing.T) {
	var cfg config.LogConfig
	cfg.File.Enabled = true
	cfg.File.Name = filepath.Join(t.TempDir(), "node.log")
	cfg.File.MaxSizeMB = 1

	logger, closer := New(cfg, false)
	logger.WithField("blockchain", "ethereum").Info("started")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(cfg.File.Name)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"blockchain":"ethereum"`)
	assert.Contains(t, string(data), `"msg":"started"`)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestNewHumanFormat(t *testing.T) {
	logger, closer := New(config.LogConfig{Format: "human", Console: true}, true)
	defer closer.Close()

	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.Equal(t, os.Stdout, logger.Out)
}
