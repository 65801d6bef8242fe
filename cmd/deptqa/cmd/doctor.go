package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/output"
	"github.com/map-community/CHATBOT-AI-sub000/internal/preflight"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

var errPreflightFailed = errors.New("pre-flight checks failed")

func newDoctorCmd() *cobra.Command {
	var (
		jsonOutput bool
		ingestRole bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, secrets, and backend reachability",
		Long: `Run the pre-flight checks and report each result.

Checks:
  - Log directory writable
  - Disk space for the document store (100MB minimum)
  - Required secrets for the role (--ingest checks the ingest set)
  - Backend reachability: document store, cache, vector index

Backend reachability is a warning, not a failure: serve starts without
backends and reports them through /health.`,
		Example: `  # Check the serve role
  deptqa doctor

  # Check the ingest role (needs the extraction secret too)
  deptqa doctor --ingest

  # JSON output for scripting
  deptqa doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := output.ModePlain
			if jsonOutput {
				mode = output.ModeJSON
			}
			return runDoctor(cmd.Context(), output.NewWithMode(cmd.OutOrStdout(), mode), ingestRole)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&ingestRole, "ingest", false, "Check the ingest role instead of serve")

	return cmd
}

func runDoctor(ctx context.Context, out *output.Writer, ingestRole bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	role := preflight.RoleServe
	if ingestRole {
		role = preflight.RoleIngest
	}

	opts := []preflight.Option{}
	// Backends are optional for the checks themselves: when the gateway
	// cannot open at all, the per-backend ping is reported instead of
	// aborting the doctor run.
	if gw, err := store.Open(cfg, logger); err == nil {
		defer gw.Close()
		opts = append(opts, preflight.WithPinger(gw))
	} else {
		out.Warningf("storage gateway: %v", err)
	}

	results := preflight.New(opts...).RunAll(ctx, cfg, role)

	if out.Mode() == output.ModeJSON {
		if err := out.JSON(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			switch r.Status {
			case preflight.StatusPass:
				out.Successf("%s: %s", r.Name, r.Message)
			case preflight.StatusWarn:
				out.Warningf("%s: %s", r.Name, r.Message)
			default:
				out.Errorf("%s: %s", r.Name, r.Message)
			}
		}
	}

	if preflight.HasCriticalFailures(results) {
		return errPreflightFailed
	}
	return nil
}
