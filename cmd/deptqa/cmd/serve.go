package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/compose"
	"github.com/map-community/CHATBOT-AI-sub000/internal/embed"
	"github.com/map-community/CHATBOT-AI-sub000/internal/lexical"
	"github.com/map-community/CHATBOT-AI-sub000/internal/llm"
	"github.com/map-community/CHATBOT-AI-sub000/internal/preflight"
	"github.com/map-community/CHATBOT-AI-sub000/internal/rerank"
	"github.com/map-community/CHATBOT-AI-sub000/internal/retrieval"
	"github.com/map-community/CHATBOT-AI-sub000/internal/schedule"
	"github.com/map-community/CHATBOT-AI-sub000/internal/server"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
	"github.com/map-community/CHATBOT-AI-sub000/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the answer HTTP server",
		Long: `Start the answer server.

The server hydrates the metadata snapshot and the BM25 state from the
cache, then answers POST /ai/ai-response questions through hybrid
retrieval and LLM composition. GET /health reports backend status.

When crawl.schedule.enabled is set, a background scheduler runs the
full ingestion pass at the configured interval.`,
		Example: `  # Start with ./deptqa.yaml
  deptqa serve

  # Start with an explicit config file
  deptqa serve --config /etc/deptqa/config.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), skipCheck)
		},
	}

	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight checks")

	return cmd
}

func runServe(ctx context.Context, skipCheck bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	if !skipCheck {
		results := preflight.New().RunAll(ctx, cfg, preflight.RoleServe)
		for _, r := range results {
			if r.Status != preflight.StatusPass {
				logger.Warn("preflight check",
					slog.String("check", r.Name),
					slog.String("status", r.Status.String()),
					slog.String("message", r.Message))
			}
		}
		if preflight.HasCriticalFailures(results) {
			return fmt.Errorf("pre-flight checks failed, run 'deptqa doctor' for details")
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
	cached := embed.NewCachedEmbedder(embedder, cfg.Embeddings.CacheSize)

	llmClient, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		return err
	}

	reranker, err := rerank.New(cfg.Rerank, logger)
	if err != nil {
		return err
	}

	snap := snapshot.NewManager(gw.Cache, gw.Vectors, cfg.CacheTTL(), logger)
	if err := snap.Hydrate(ctx); err != nil {
		// The server can start with an empty snapshot; retrieval
		// returns no-answer until the next ingestion refreshes it.
		logger.Warn("metadata snapshot hydration failed",
			slog.String("error", err.Error()))
	}

	lex := lexical.NewIndex(gw.Cache, cfg.Search.BM25K1, cfg.Search.BM25B, cfg.CacheTTL(), logger)
	if err := lex.Warm(ctx, snap.Documents()); err != nil {
		logger.Warn("lexical index warm failed", slog.String("error", err.Error()))
	}

	clk := clock.NewKST()
	weigher := retrieval.NewWeigher(cfg.Search, clk)
	dense := retrieval.NewDenseRetriever(cached, gw.Vectors, weigher, logger)

	orch := retrieval.NewOrchestrator(lex, snap, dense, weigher,
		retrieval.WithIntentParser(retrieval.NewIntentParser(llmClient, clk, logger)),
		retrieval.WithListShortcut(retrieval.NewListShortcut(snap, cfg.Crawl.Boards, logger)),
		retrieval.WithReranker(reranker),
		retrieval.WithTopK(cfg.Search.TopKDocuments),
		retrieval.WithMinimumSimilarity(cfg.Search.MinimumSimilarityScore),
		retrieval.WithClusterThreshold(cfg.Search.ClusterSimilarityThreshold),
		retrieval.WithClock(clk),
		retrieval.WithLogger(logger))

	composer := compose.NewComposer(llmClient, cfg.Crawl.Boards,
		compose.WithClock(clk),
		compose.WithLogger(logger))

	metricsStore, err := telemetry.OpenMetricsStore(cfg.Database)
	if err != nil {
		return err
	}
	metrics := telemetry.NewQueryMetrics(metricsStore)
	defer metrics.Close()

	if cfg.Crawl.Schedule.Enabled {
		runner, err := buildRunner(cfg, gw, cached, snap, lex, nil, logger)
		if err != nil {
			return err
		}
		sched := schedule.New(schedule.Config{
			Interval: cfg.ScheduleInterval(),
			Jitter:   cfg.ScheduleJitter(),
		}, func(ctx context.Context) error {
			report, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			if report.Failed() {
				return fmt.Errorf("ingestion run had failed board passes")
			}
			return nil
		}, logger)
		sched.Start(ctx)
		defer sched.Stop()
	}

	srv := server.New(cfg, orch, composer,
		server.WithPinger(gw),
		server.WithMetrics(metrics),
		server.WithLogger(logger))
	return srv.Run(ctx)
}
