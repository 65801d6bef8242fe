package logging

import (
	"log/slog"
)

// SetupIngestMode initializes logging for scheduled ingest runs.
// Scheduled runs log only to ingest.log: a cron or systemd timer would
// otherwise mail or journal every line a second time via stderr.
func SetupIngestMode() (func(), error) {
	return SetupIngestModeWithLevel("info")
}

// SetupIngestModeWithLevel is SetupIngestMode with an explicit level.
func SetupIngestModeWithLevel(level string) (func(), error) {
	if level == "" {
		level = "info"
	}
	cfg := Config{
		Level:         level,
		FilePath:      IngestLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	slog.Info("ingest logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
