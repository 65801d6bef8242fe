package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string

	// FilePath is where logs are written. Empty disables file output.
	FilePath string

	// MaxSizeMB is the maximum size of a log file before rotation.
	MaxSizeMB int

	// MaxFiles is the number of rotated files to keep.
	MaxFiles int

	// WriteToStderr mirrors log output to stderr in addition to the file.
	WriteToStderr bool
}

// DefaultConfig returns the standard logging configuration for the answer
// server. DEPTQA_LOG_LEVEL overrides the level when set.
func DefaultConfig() Config {
	cfg := Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
	if lvl := os.Getenv("DEPTQA_LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}
	return cfg
}

// DebugConfig returns a configuration with debug level enabled.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup initializes structured logging per the given configuration.
// It returns the logger, a cleanup function that flushes and closes the
// log file, and an error if the log file could not be opened.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var writers []io.Writer
	var rotating *RotatingWriter

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		rotating = w
		writers = append(writers, w)
	}

	if cfg.WriteToStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: LevelFromString(cfg.Level),
	})
	logger := slog.New(handler)

	cleanup := func() {
		if rotating != nil {
			_ = rotating.Close()
		}
	}

	return logger, cleanup, nil
}

// SetupDefault initializes logging with DefaultConfig and installs the
// logger as the process default.
func SetupDefault() (*slog.Logger, func(), error) {
	logger, cleanup, err := Setup(DefaultConfig())
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// WithComponent returns a child logger tagged with the component name.
// Pipeline stages use this so log lines can be filtered per stage.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", component))
}

// LevelFromString converts a level name to a slog.Level.
// Unknown names default to info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
