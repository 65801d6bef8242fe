package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogSource identifies which process role produced a log file.
type LogSource string

const (
	// LogSourceServer is the answer API server (server.log).
	LogSourceServer LogSource = "server"

	// LogSourceIngest is the crawl/index pipeline (ingest.log).
	LogSourceIngest LogSource = "ingest"

	// LogSourceAll merges every log file into one timeline.
	LogSourceAll LogSource = "all"
)

// DefaultLogDir returns the log directory, ~/.deptqa/logs.
// Falls back to the system temp directory when the home directory
// cannot be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "deptqa-logs")
	}
	return filepath.Join(home, ".deptqa", "logs")
}

// DefaultLogPath returns the path of the answer server log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// IngestLogPath returns the path of the ingest pipeline log file.
func IngestLogPath() string {
	return filepath.Join(DefaultLogDir(), "ingest.log")
}

// EnsureLogDir creates the log directory if it does not exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}

// FindLogFile resolves a log file path. An explicit path must exist;
// an empty path falls back to the default server log.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no log file at %s (has the server run yet?)", path)
	}
	return path, nil
}

// FindLogFileBySource resolves the log files for a source. LogSourceAll
// returns every log file that exists; a missing file for a single source
// is an error.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		return []string{explicit}, nil
	}

	switch source {
	case LogSourceServer:
		path, err := FindLogFile("")
		if err != nil {
			return nil, err
		}
		return []string{path}, nil

	case LogSourceIngest:
		path := IngestLogPath()
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no ingest log at %s (has an ingest run yet?)", path)
		}
		return []string{path}, nil

	case LogSourceAll:
		var paths []string
		for _, p := range []string{DefaultLogPath(), IngestLogPath()} {
			if _, err := os.Stat(p); err == nil {
				paths = append(paths, p)
			}
		}
		if len(paths) == 0 {
			return nil, fmt.Errorf("no log files in %s", DefaultLogDir())
		}
		return paths, nil

	default:
		return nil, fmt.Errorf("unknown log source: %s", source)
	}
}

// ParseLogSource converts a string to a LogSource, defaulting to server.
func ParseLogSource(s string) LogSource {
	switch s {
	case "ingest":
		return LogSourceIngest
	case "all":
		return LogSourceAll
	default:
		return LogSourceServer
	}
}
