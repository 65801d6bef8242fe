package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/lexical"
	"github.com/map-community/CHATBOT-AI-sub000/internal/output"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the retrieval cache blobs",
	}
	cmd.AddCommand(newCacheShowCmd())
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func newCacheShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the cached snapshot and BM25 blob status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCacheShow(cmd.Context(), output.New(cmd.OutOrStdout()))
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the cached snapshot and BM25 blobs",
		Long: `Delete the metadata snapshot and BM25 state from the cache.

The next serve start (or 'deptqa rebuild') reconstructs both from the
vector index. No documents or vectors are touched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCacheClear(cmd.Context(), output.New(cmd.OutOrStdout()))
		},
	}
}

// cacheKeys are the hot blobs retrieval depends on.
var cacheKeys = []string{snapshot.CacheKey, lexical.CacheKey}

func openCache(ctx context.Context) (store.CacheStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cache := store.OpenCache(cfg.Redis)
	if err := cache.Ping(ctx); err != nil {
		return nil, err
	}
	return cache, nil
}

func runCacheShow(ctx context.Context, out *output.Writer) error {
	cache, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer cache.Close()

	rows := make([][2]string, 0, len(cacheKeys))
	for _, key := range cacheKeys {
		status := "absent"
		if raw, err := cache.Get(ctx, key); err == nil {
			status = fmt.Sprintf("%d bytes", len(raw))
		} else if !errors.Is(err, store.ErrCacheMiss) {
			status = fmt.Sprintf("error: %v", err)
		}
		rows = append(rows, [2]string{key, status})
	}
	out.Table(rows)
	return nil
}

func runCacheClear(ctx context.Context, out *output.Writer) error {
	cache, err := openCache(ctx)
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.Delete(ctx, cacheKeys...); err != nil {
		return err
	}
	slog.Default().Info("retrieval cache cleared", slog.Any("keys", cacheKeys))
	out.Successf("Deleted %d cache keys", len(cacheKeys))
	return nil
}
