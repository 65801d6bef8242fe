package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/chunk"
	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/crawl"
	"github.com/map-community/CHATBOT-AI-sub000/internal/embed"
	"github.com/map-community/CHATBOT-AI-sub000/internal/extract"
	"github.com/map-community/CHATBOT-AI-sub000/internal/fetch"
	"github.com/map-community/CHATBOT-AI-sub000/internal/ingest"
	"github.com/map-community/CHATBOT-AI-sub000/internal/lexical"
	"github.com/map-community/CHATBOT-AI-sub000/internal/logging"
	"github.com/map-community/CHATBOT-AI-sub000/internal/preflight"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
	"github.com/map-community/CHATBOT-AI-sub000/internal/ui"
)

func newIngestCmd() *cobra.Command {
	var (
		plain      bool
		jsonOutput bool
		skipCheck  bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Crawl the boards and index new posts",
		Long: `Run one ingestion pass over every configured board.

Each board is crawled from its watermark up to the newest post. Post
bodies, images, and attachments are extracted, chunked, embedded, and
uploaded to the vector index; the metadata snapshot and BM25 state are
refreshed afterwards. Boards are independent: one board failing never
blocks the others.

Concurrent runs are refused through a file lock; the watermark and the
monotone vector ids would corrupt under two writers.`,
		Example: `  # Crawl all boards
  deptqa ingest

  # Plain output for cron logs
  deptqa ingest --plain

  # Machine-readable run report
  deptqa ingest --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), cmd, plain, jsonOutput, skipCheck)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Plain text progress output (no TUI)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run report as JSON")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight checks")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, plain, jsonOutput, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ingest logs go to ingest.log only; stderr would fight the
	// progress display and double up under cron.
	level := "info"
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupIngestModeWithLevel(level)
	if err != nil {
		return err
	}
	defer cleanup()
	logger := slog.Default()

	if !skipCheck {
		results := preflight.New().RunAll(ctx, cfg, preflight.RoleIngest)
		if preflight.HasCriticalFailures(results) {
			for _, r := range results {
				if r.IsCritical() {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %s\n", r.Name, r.Message)
				}
			}
			return fmt.Errorf("pre-flight checks failed")
		}
	}

	gw, err := store.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.Vectors.EnsureCollection(ctx, uint64(cfg.Embeddings.Dimensions)); err != nil {
		return err
	}

	embedder, err := embed.New(cfg.Embeddings, logger)
	if err != nil {
		return err
	}
	defer embedder.Close()

	snap := snapshot.NewManager(gw.Cache, gw.Vectors, cfg.CacheTTL(), logger)
	if err := snap.Hydrate(ctx); err != nil {
		logger.Warn("metadata snapshot hydration failed",
			slog.String("error", err.Error()))
	}
	lex := lexical.NewIndex(gw.Cache, cfg.Search.BM25K1, cfg.Search.BM25B, cfg.CacheTTL(), logger)

	renderer := ui.NewRenderer(ui.Config{
		Output:     cmd.OutOrStdout(),
		ForcePlain: plain || jsonOutput,
	})
	if err := renderer.Start(ctx); err != nil {
		return err
	}

	runner, err := buildRunner(cfg, gw, embedder, snap, lex, renderer, logger)
	if err != nil {
		_ = renderer.Stop()
		return err
	}

	report, runErr := runner.Run(ctx)
	_ = renderer.Stop()

	if jsonOutput && report != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.Failed() {
		return fmt.Errorf("ingestion run had failed board passes")
	}
	return nil
}

// buildRunner wires the full ingestion pipeline. The serve scheduler
// passes a nil renderer; the ingest command passes a terminal one.
func buildRunner(cfg *config.Config, gw *store.Gateway, embedder embed.Embedder,
	snap *snapshot.Manager, lex *lexical.Index, renderer ui.Renderer, logger *slog.Logger) (*ingest.Runner, error) {

	fetcher := fetch.NewClient(fetch.Config{
		Timeout:    cfg.CrawlTimeout(),
		MaxRetries: cfg.Crawl.MaxRetries,
		RetryDelay: cfg.CrawlRetryDelay(),
		UserAgent:  cfg.Crawl.UserAgent,
	}, logger)

	extractor := extract.NewClient(extract.Config{
		Endpoint:            cfg.Extraction.Endpoint,
		Model:               cfg.Extraction.Model,
		OCR:                 cfg.Extraction.OCR,
		APIKey:              cfg.Extraction.APIKey,
		Timeout:             cfg.ExtractionTimeout(),
		MaxZipSizeMB:        cfg.Extraction.MaxZipSizeMB,
		MaxTotalFiles:       cfg.Extraction.MaxTotalFiles,
		MaxExtractionSizeMB: cfg.Extraction.MaxExtractionSizeMB,
	}, logger)

	crawler, err := ingest.NewBoardSet(cfg.Crawl, crawl.NewBase(cfg.Crawl, fetcher, logger))
	if err != nil {
		return nil, err
	}

	clk := clock.NewKST()
	multimodal := ingest.NewMultimodal(gw.Documents, fetcher, extractor, logger)
	chunker := chunk.NewWithOptions(chunk.Options{
		Size:    cfg.Search.ChunkSize,
		Overlap: cfg.Search.ChunkOverlap,
	})

	return ingest.NewRunner(ingest.RunnerDeps{
		Crawler:   crawler,
		State:     crawl.NewStateManager(gw.Documents, clk, logger),
		Processor: ingest.NewProcessor(gw.Documents, multimodal, chunker, logger),
		Uploader:  ingest.NewUploader(embedder, gw.Vectors, cfg.Embeddings.BatchSize, logger),
		Docs:      gw.Documents,
		Snapshot:  snap,
		Lexical:   lex,
		Boards:    cfg.Crawl.Boards,
		Lock:      ingest.NewLock(dataDir(cfg)),
		Renderer:  renderer,
		Logger:    logger,
	})
}

// dataDir is where the sqlite document store and the run lock live.
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
