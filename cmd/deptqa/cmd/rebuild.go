package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/lexical"
	"github.com/map-community/CHATBOT-AI-sub000/internal/output"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the metadata snapshot and BM25 state from the vector index",
		Long: `Rebuild the cached retrieval state.

The metadata snapshot is reconstructed by paging through the whole
vector index, and the BM25 state is rebuilt from the fresh snapshot.
Use this after the cache was flushed or when the snapshot drifted from
the index (see 'deptqa orphans').`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd.Context(), output.New(cmd.OutOrStdout()))
		},
	}
	return cmd
}

func runRebuild(ctx context.Context, out *output.Writer) error {
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

	out.Status("*", "Rebuilding metadata snapshot from vector index...")
	snap := snapshot.NewManager(gw.Cache, gw.Vectors, cfg.CacheTTL(), logger)
	if err := snap.Rebuild(ctx); err != nil {
		return err
	}
	out.Successf("Snapshot rebuilt: %d documents", snap.Len())

	// The BM25 blob keys on corpus length; dropping it forces the next
	// warm to rebuild instead of trusting a stale blob.
	if err := gw.Cache.Delete(ctx, lexical.CacheKey); err != nil {
		out.Warningf("BM25 cache delete failed: %v", err)
	}

	out.Status("*", "Rebuilding BM25 state...")
	lex := lexical.NewIndex(gw.Cache, cfg.Search.BM25K1, cfg.Search.BM25B, cfg.CacheTTL(), logger)
	if err := lex.Warm(ctx, snap.Documents()); err != nil {
		return err
	}
	out.Successf("BM25 state rebuilt: %d documents", lex.DocCount())
	return nil
}
