package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/output"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

func newResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all ingested data",
		Long: `Delete every ingested post: completion markers, the multimodal
extraction cache, crawl watermarks, every vector point, and the cached
retrieval blobs.

The next 'deptqa ingest' re-crawls every board from its floor id. This
cannot be undone.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReset(cmd.Context(), cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")

	return cmd
}

func runReset(ctx context.Context, cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if !force {
		fmt.Fprint(cmd.OutOrStdout(), "Delete ALL ingested data? Type 'yes' to confirm: ")
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			out.Status("", "Aborted.")
			return nil
		}
	}

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

	out.Status("*", "Deleting post markers...")
	if err := gw.Documents.DeleteAllPosts(ctx); err != nil {
		return err
	}
	out.Status("*", "Deleting extraction cache...")
	if err := gw.Documents.DeleteAllEntries(ctx); err != nil {
		return err
	}
	out.Status("*", "Deleting crawl watermarks...")
	if err := gw.Documents.DeleteAllCrawlStates(ctx); err != nil {
		return err
	}
	out.Status("*", "Deleting vector points...")
	if err := gw.Vectors.DeleteAll(ctx); err != nil {
		return err
	}
	out.Status("*", "Deleting cached retrieval blobs...")
	if err := gw.Cache.Delete(ctx, cacheKeys...); err != nil {
		return err
	}

	logger.Info("all ingested data deleted")
	out.Success("Reset complete. Run 'deptqa ingest' to re-crawl the boards.")
	return nil
}
