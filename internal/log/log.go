package log

import (
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"

	"taskpulse/internal/config"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
}

// Setup configures the shared logger from the log section of the config.
// LOG_LEVEL overrides the level picked for the environment.
func Setup(cfg config.LogConfig) *logrus.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
	}
	logger.SetOutput(out)

	switch cfg.Env {
	case envProd:
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.WarnLevel)
	case envDev:
		logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.SetLevel(logrus.DebugLevel)
	}

	level := cfg.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level != "" {
		if parsed, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
			logger.SetLevel(parsed)
		} else {
			logger.WithField("level", level).Warn("unknown log level, keeping default")
		}
	}
	return logger
}

// GetLogger returns the shared logger instance.
func GetLogger() *logrus.Logger {
	return logger
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
