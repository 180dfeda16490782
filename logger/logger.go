package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logger. It stays usable before Init is called.
var Logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "coach",
})

// Config holds logger configuration
type Config struct {
	Level string
	// File enables a rotating log file next to stderr output. Empty disables it.
	File string
}

// Init replaces the global logger according to cfg.
func Init(cfg Config) error {
	var writer io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return err
		}
		writer = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	level := ParseLevel(cfg.Level)
	Logger = log.NewWithOptions(writer, log.Options{
		ReportCaller:    level == log.DebugLevel,
		ReportTimestamp: true,
		Level:           level,
		Prefix:          "coach",
	})
	return nil
}

// ParseLevel maps a config string to a log level, defaulting to info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// With returns a child logger carrying the given key/value pairs.
func With(keyvals ...interface{}) *log.Logger {
	return Logger.With(keyvals...)
}

func Debug(msg string, keyvals ...interface{}) { Logger.Debug(msg, keyvals...) }

func Info(msg string, keyvals ...interface{}) { Logger.Info(msg, keyvals...) }

func Warn(msg string, keyvals ...interface{}) { Logger.Warn(msg, keyvals...) }

func Error(msg string, keyvals ...interface{}) { Logger.Error(msg, keyvals...) }

// Fatal logs and exits
func Fatal(msg string, keyvals ...interface{}) {
	Logger.Error(msg, keyvals...)
	os.Exit(1)
}
