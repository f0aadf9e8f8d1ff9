package logging

import (
	"io"
	"os"

	"vsnbridge/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const DefaultFileName = "logs/servicenode.log"

// New builds the process logger. Output goes to the console, to a rotating
// file, or to both; with neither enabled it falls back to stderr.
func New(cfg config.LogConfig, debug bool) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	switch cfg.Format {
	case "human":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}
	if cfg.Console {
		writers = append(writers, os.Stdout)
	}
	if cfg.File.Enabled {
		name := cfg.File.Name
		if name == "" {
			name = DefaultFileName
		}
		file := &lumberjack.Logger{
			Filename:   name,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.BackupCount,
		}
		writers = append(writers, file)
		closer = file
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(os.Stderr)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
