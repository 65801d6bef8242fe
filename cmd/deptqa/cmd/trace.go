package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/map-community/CHATBOT-AI-sub000/internal/extract"
	"github.com/map-community/CHATBOT-AI-sub000/internal/fetch"
	"github.com/map-community/CHATBOT-AI-sub000/internal/output"
	"github.com/map-community/CHATBOT-AI-sub000/internal/validation"
)

func newTraceCmd() *cobra.Command {
	var showText bool

	cmd := &cobra.Command{
		Use:   "trace <url>",
		Short: "Fetch and extract a single file for debugging",
		Long: `Fetch one URL and run it through the extraction pipeline.

Use this to see what the parse API returns for a post image or
attachment that produced a bad chunk. Images and documents are
extracted directly; zip archives are unpacked member by member with the
same guards ingestion applies.`,
		Example: `  # Trace an attachment
  deptqa trace https://board.example.ac.kr/files/notice-42.pdf

  # Include the extracted text
  deptqa trace --text https://board.example.ac.kr/files/poster.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd.Context(), output.New(cmd.OutOrStdout()), args[0], showText)
		},
	}

	cmd.Flags().BoolVar(&showText, "text", false, "Print the extracted text")

	return cmd
}

func runTrace(ctx context.Context, out *output.Writer, rawURL string, showText bool) error {
	if err := validation.FetchableURL(rawURL); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	fetcher := fetch.NewClient(fetch.Config{
		Timeout:    cfg.CrawlTimeout(),
		MaxRetries: cfg.Crawl.MaxRetries,
		RetryDelay: cfg.CrawlRetryDelay(),
		UserAgent:  cfg.Crawl.UserAgent,
	}, logger)

	out.Status("*", "Fetching...")
	res, err := fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	out.Table([][2]string{
		{"Filename", res.Filename},
		{"Content-Type", res.ContentType},
		{"Size", fmt.Sprintf("%d bytes", len(res.Data))},
		{"Kind", kindName(extract.KindOf(res.Filename))},
	})

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

	out.Status("*", "Extracting...")
	switch extract.KindOf(res.Filename) {
	case extract.KindZip:
		zr, err := extractor.ExtractZip(ctx, res.Data)
		if err != nil {
			return err
		}
		out.Successf("Archive: %d members, %d extracted, %d failed",
			zr.TotalFiles, len(zr.Successful), len(zr.Failed))
		for _, f := range zr.Failed {
			out.Warningf("%s: %s", f.Filename, f.Reason)
		}
		if showText {
			for _, e := range zr.Successful {
				out.Newline()
				out.Status(">", e.Filename)
				fmt.Fprintln(out.Out(), e.Result.ComposedText())
			}
		}
	case extract.KindUnsupported:
		return fmt.Errorf("unsupported file type: %s", res.Filename)
	default:
		er, err := extractor.Extract(ctx, res.Data, res.Filename)
		if err != nil {
			return err
		}
		out.Successf("Extracted: %d elements, %d chars of text",
			len(er.Elements), len(er.ComposedText()))
		if showText {
			out.Newline()
			fmt.Fprintln(out.Out(), er.ComposedText())
		}
	}
	return nil
}

func kindName(k extract.Kind) string {
	switch k {
	case extract.KindImage:
		return "image"
	case extract.KindDocument:
		return "document"
	case extract.KindZip:
		return "zip"
	default:
		return "unsupported"
	}
}
