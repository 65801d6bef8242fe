package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/ingest"
	"github.com/map-community/CHATBOT-AI-sub000/internal/output"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

func newOrphansCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Find vector points whose post marker is missing",
		Long: `Check the vector index against the post markers.

A crash between vector upload and marker write leaves orphaned points:
vectors that belong to no completed post. Orphans surface stale chunks
in retrieval until the post is re-ingested or the points are removed.

With --repair the orphaned points are deleted; re-running ingest then
re-uploads the affected posts cleanly.`,
		Example: `  # Report only
  deptqa orphans

  # Delete orphaned points
  deptqa orphans --repair`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOrphans(cmd.Context(), output.New(cmd.OutOrStdout()), repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphaned vector points")

	return cmd
}

func runOrphans(ctx context.Context, out *output.Writer, repair bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	gw, err := store.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	checker := ingest.NewChecker(gw.Documents, gw.Vectors, logger)

	out.Status("*", "Checking vector index against post markers...")
	res, err := checker.Check(ctx)
	if err != nil {
		return err
	}

	if len(res.Orphans) == 0 {
		out.Successf("No orphans among %d points (%s)", res.Checked, res.Took.Round(time.Millisecond))
		return nil
	}

	out.Warningf("Found %d orphaned points among %d checked", len(res.Orphans), res.Checked)
	for _, o := range res.Orphans {
		out.Statusf("", "point %d: %s", o.ID, o.Title)
	}

	if !repair {
		out.Status("", "Run with --repair to delete them.")
		return nil
	}

	if err := checker.Repair(ctx, res.Orphans); err != nil {
		return err
	}
	out.Successf("Deleted %d orphaned points", len(res.Orphans))
	return nil
}
