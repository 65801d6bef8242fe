package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/logging"
)

// Role selects which secrets and backends a process needs.
type Role int

const (
	// RoleServe is the answer HTTP server.
	RoleServe Role = iota
	// RoleIngest is the crawl/index pipeline.
	RoleIngest
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Pinger reports backend reachability; the storage gateway satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs preflight validation checks.
type Checker struct {
	pinger      Pinger
	pingTimeout time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithPinger enables the backend reachability check.
func WithPinger(p Pinger) Option {
	return func(c *Checker) { c.pinger = p }
}

// WithPingTimeout bounds the backend reachability check.
func WithPingTimeout(d time.Duration) Option {
	return func(c *Checker) { c.pingTimeout = d }
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{pingTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every preflight check for the given role.
func (c *Checker) RunAll(ctx context.Context, cfg *config.Config, role Role) []CheckResult {
	results := []CheckResult{
		c.CheckLogDir(),
		c.CheckDiskSpace(dataDir(cfg)),
		c.CheckSecrets(cfg, role),
	}
	if c.pinger != nil {
		results = append(results, c.CheckBackends(ctx))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// CheckLogDir verifies the log directory can be created and written.
func (c *Checker) CheckLogDir() CheckResult {
	result := CheckResult{Name: "log_dir", Required: true}

	dir := logging.DefaultLogDir()
	if err := logging.EnsureLogDir(); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dir, err)
		return result
	}

	probe := filepath.Join(dir, ".preflight-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot write to %s: %v", dir, err)
		return result
	}
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = dir
	return result
}

// CheckSecrets verifies the API keys the role needs are present.
func (c *Checker) CheckSecrets(cfg *config.Config, role Role) CheckResult {
	result := CheckResult{Name: "api_keys", Required: true}

	var err error
	switch role {
	case RoleIngest:
		err = cfg.RequireIngestSecrets()
	default:
		err = cfg.RequireServeSecrets()
	}
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = "all required API keys present"
	return result
}

// CheckBackends pings the storage backends through the gateway.
// A failure here is a warning, not critical: backends can come up after
// the process, and the health endpoint reports the live state.
func (c *Checker) CheckBackends(ctx context.Context) CheckResult {
	result := CheckResult{Name: "backends", Required: false}

	pingCtx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	if err := c.pinger.Ping(pingCtx); err != nil {
		result.Status = StatusWarn
		result.Message = err.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = "document store, cache, and vector index reachable"
	return result
}

// dataDir is where the sqlite document store and run lock live.
func dataDir(cfg *config.Config) string {
	if cfg.Database.Path != "" {
		return filepath.Dir(cfg.Database.Path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".deptqa")
}
