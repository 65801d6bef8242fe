package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/clock"
	"github.com/map-community/CHATBOT-AI-sub000/internal/output"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
	"github.com/map-community/CHATBOT-AI-sub000/internal/telemetry"
)

// statsReport is the machine-readable shape of `deptqa stats --json`.
type statsReport struct {
	Posts        int64                             `json:"posts"`
	Extractions  int64                             `json:"extractions"`
	VectorPoints uint64                            `json:"vector_points"`
	Days         int                               `json:"days"`
	Outcomes     map[telemetry.Outcome]int64       `json:"outcomes"`
	Latency      map[telemetry.LatencyBucket]int64 `json:"latency"`
	StageAvgMS   map[telemetry.Stage]int64         `json:"stage_avg_ms"`
	TopTerms     []telemetry.TermCount             `json:"top_terms"`
	NoAnswer     []string                          `json:"recent_no_answer"`
}

func newStatsCmd() *cobra.Command {
	var (
		days       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show storage and query statistics",
		Long: `Show what is stored and how queries have been going.

Storage counts come from the document store and the vector index.
Query statistics are the flushed telemetry aggregates: outcomes,
latency distribution, per-stage averages, frequent question terms, and
recent unanswered questions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := output.ModePlain
			if jsonOutput {
				mode = output.ModeJSON
			}
			return runStats(cmd.Context(), output.NewWithMode(cmd.OutOrStdout(), mode), days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "How many days of query statistics to include")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStats(ctx context.Context, out *output.Writer, days int) error {
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

	metricsStore, err := telemetry.OpenMetricsStore(cfg.Database)
	if err != nil {
		return err
	}
	defer metricsStore.Close()

	report := statsReport{Days: days}
	if report.Posts, err = gw.Documents.CountPosts(ctx); err != nil {
		return err
	}
	if report.Extractions, err = gw.Documents.CountEntries(ctx); err != nil {
		return err
	}
	if report.VectorPoints, err = gw.Vectors.Count(ctx); err != nil {
		return err
	}

	now := clock.NewKST().Now()
	from := now.AddDate(0, 0, -days).Format("2006-01-02")
	to := now.Format("2006-01-02")

	if report.Outcomes, err = metricsStore.GetOutcomeCounts(from, to); err != nil {
		return err
	}
	if report.Latency, err = metricsStore.GetLatencyCounts(from, to); err != nil {
		return err
	}
	stageAvgs, err := metricsStore.StageAverages(from, to)
	if err != nil {
		return err
	}
	report.StageAvgMS = make(map[telemetry.Stage]int64, len(stageAvgs))
	for stage, avg := range stageAvgs {
		report.StageAvgMS[stage] = avg.Milliseconds()
	}
	if report.TopTerms, err = metricsStore.TopTerms(10); err != nil {
		return err
	}
	if report.NoAnswer, err = metricsStore.RecentNoAnswerQueries(10); err != nil {
		return err
	}

	if out.Mode() == output.ModeJSON {
		return out.JSON(report)
	}
	printStats(out, report, from, to)
	return nil
}

func printStats(out *output.Writer, r statsReport, from, to string) {
	out.Status("", "Storage")
	out.Table([][2]string{
		{"Posts", fmt.Sprintf("%d", r.Posts)},
		{"Extractions", fmt.Sprintf("%d", r.Extractions)},
		{"Vector points", fmt.Sprintf("%d", r.VectorPoints)},
	})

	out.Newline()
	out.Statusf("", "Queries (%s .. %s)", from, to)
	var total int64
	for _, n := range r.Outcomes {
		total += n
	}
	rows := [][2]string{{"Total", fmt.Sprintf("%d", total)}}
	for _, o := range []telemetry.Outcome{
		telemetry.OutcomeAnswered, telemetry.OutcomeListing,
		telemetry.OutcomeNoAnswer, telemetry.OutcomeError,
	} {
		rows = append(rows, [2]string{string(o), fmt.Sprintf("%d", r.Outcomes[o])})
	}
	out.Table(rows)

	if len(r.StageAvgMS) > 0 {
		out.Newline()
		out.Status("", "Stage averages")
		stageRows := make([][2]string, 0, len(r.StageAvgMS))
		for _, s := range []telemetry.Stage{
			telemetry.StageTokenize, telemetry.StageIntent, telemetry.StageBM25,
			telemetry.StageDense, telemetry.StageCombine, telemetry.StageRerank,
			telemetry.StageEnrich, telemetry.StageCompose,
		} {
			if ms, ok := r.StageAvgMS[s]; ok {
				stageRows = append(stageRows, [2]string{string(s), fmt.Sprintf("%dms", ms)})
			}
		}
		out.Table(stageRows)
	}

	if len(r.TopTerms) > 0 {
		out.Newline()
		out.Status("", "Top question terms")
		termRows := make([][2]string, 0, len(r.TopTerms))
		for _, t := range r.TopTerms {
			termRows = append(termRows, [2]string{t.Term, fmt.Sprintf("%d", t.Count)})
		}
		out.Table(termRows)
	}

	if len(r.Latency) > 0 {
		out.Newline()
		out.Status("", "Latency distribution")
		latRows := make([][2]string, 0, len(r.Latency))
		for _, b := range []telemetry.LatencyBucket{
			telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1s,
			telemetry.BucketP5s, telemetry.BucketP15s, telemetry.BucketPSlow,
		} {
			if n, ok := r.Latency[b]; ok {
				latRows = append(latRows, [2]string{string(b), fmt.Sprintf("%d", n)})
			}
		}
		out.Table(latRows)
	}

	if len(r.NoAnswer) > 0 {
		out.Newline()
		out.Status("", "Recent unanswered questions")
		for _, q := range r.NoAnswer {
			out.Status("", "  "+q)
		}
	}
}
