package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/config"
)

func TestSetupLevels(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, logrus.DebugLevel, Setup(config.LogConfig{Env: "local"}).GetLevel())
	assert.Equal(t, logrus.InfoLevel, Setup(config.LogConfig{Env: "dev"}).GetLevel())
	l := Setup(config.LogConfig{Env: "prod"})
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}

func TestSetupEnvOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "ERROR")
	l := Setup(config.LogConfig{Env: "local", Level: "debug"})
	assert.Equal(t, logrus.ErrorLevel, l.GetLevel())
}

func TestSetupWritesRotatedFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "taskpulse.log")
	l := Setup(config.LogConfig{Env: "dev", File: path})
	l.WithField("operation", "test").Info("hello")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	Setup(config.LogConfig{Env: "local"})
}
