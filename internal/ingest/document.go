// Package ingest drives the offline pipeline that keeps the search
// indexes current: crawl new board posts, dedupe them by content hash,
// extract text from post images and attachments, chunk and embed
// everything, and upload the vectors with preview payloads. A run ends
// by refreshing the metadata snapshot and the BM25 corpus and advancing
// the per-board crawl watermark.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/map-community/CHATBOT-AI-sub000/internal/chunk"
	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	"github.com/map-community/CHATBOT-AI-sub000/internal/crawl"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

// PreviewLimit caps the text stored in vector payloads and the metadata
// snapshot, in runes. Full text stays in the document store.
const PreviewLimit = 200

// Item is one embeddable chunk with the metadata it will carry into the
// vector index. Text is what the embedder sees; Doc.Text holds only the
// preview.
type Item struct {
	Text       string
	ChunkIndex int
	ChunkTotal int
	Doc        snapshot.Document
}

// PostStatus is the per-post ingestion verdict.
type PostStatus int

const (
	// PostIngested means the post produced items and will get a
	// completion marker once they are accepted.
	PostIngested PostStatus = iota

	// PostSkipped means the store already has this title with this
	// content hash.
	PostSkipped

	// PostFailed means every artifact of the post failed extraction.
	// The post gets no marker and is reprocessed on a later run.
	PostFailed
)

// String returns the status name used in logs and reports.
func (s PostStatus) String() string {
	switch s {
	case PostIngested:
		return "ingested"
	case PostSkipped:
		return "skipped"
	case PostFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PostResult is the outcome of processing one crawled post.
type PostResult struct {
	Post   *crawl.Post
	Status PostStatus

	// Reason explains skips and failures.
	Reason string

	// Items are the embeddable chunks: post body first, then whatever
	// the multimodal fan-out produced.
	Items []Item

	// Artifacts are the per-URL outcomes of the multimodal fan-out.
	Artifacts []Outcome
}

// Processor turns crawled posts into embedding items. It owns content
// hash deduplication, body chunking, and the multimodal fan-out.
type Processor struct {
	docs       store.DocumentStore
	multimodal *Multimodal
	chunker    *chunk.Chunker
	logger     *slog.Logger
}

// NewProcessor creates a post processor. A nil chunker gets the default
// chunk size; the retrieval side budgets context with the same constant.
func NewProcessor(docs store.DocumentStore, multimodal *Multimodal, chunker *chunk.Chunker, logger *slog.Logger) *Processor {
	if chunker == nil {
		chunker = chunk.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		docs:       docs,
		multimodal: multimodal,
		chunker:    chunker,
		logger:     logger,
	}
}

// ProcessPost runs one post through dedup, chunking, and the multimodal
// fan-out. Partial artifact failures degrade the post; only a post
// whose every artifact failed is aborted. The error return is for store
// failures, which end the whole run.
func (p *Processor) ProcessPost(ctx context.Context, post *crawl.Post) (*PostResult, error) {
	seen, err := p.docs.HasPost(ctx, post.Title, post.ContentHash())
	if err != nil {
		return nil, qaerrors.Wrap(qaerrors.ErrCodeStoreUnavailable, err)
	}
	if seen {
		p.logger.Debug("post unchanged, skipping",
			slog.String("board", post.BoardType.String()),
			slog.String("title", post.Title))
		return &PostResult{Post: post, Status: PostSkipped, Reason: "unchanged content"}, nil
	}

	outcomes := p.multimodal.ProcessAll(ctx, post)
	var failed int
	for _, o := range outcomes {
		if o.Status == StatusFailed {
			failed++
		}
	}
	if len(outcomes) > 0 && failed == len(outcomes) {
		reason := fmt.Sprintf("all %d artifacts failed extraction", failed)
		p.logger.Warn("post aborted, will reprocess",
			slog.String("board", post.BoardType.String()),
			slog.String("title", post.Title),
			slog.String("reason", reason))
		return &PostResult{Post: post, Status: PostFailed, Reason: reason, Artifacts: outcomes}, nil
	}
	if failed > 0 {
		p.logger.Warn("post partially ingested",
			slog.String("board", post.BoardType.String()),
			slog.String("title", post.Title),
			slog.Int("failed_artifacts", failed),
			slog.Int("total_artifacts", len(outcomes)))
	}

	items := p.bodyItems(post)
	items = append(items, p.artifactItems(post, outcomes)...)

	return &PostResult{Post: post, Status: PostIngested, Items: items, Artifacts: outcomes}, nil
}

// bodyItems chunks the post body. Directory profiles get their own
// source label so listings never surface them as notices.
func (p *Processor) bodyItems(post *crawl.Post) []Item {
	chunks := p.chunker.Split(post.Body)
	source := bodySource(post.BoardType)

	items := make([]Item, 0, len(chunks))
	for _, ch := range chunks {
		items = append(items, Item{
			Text:       ch.Text,
			ChunkIndex: ch.Index,
			ChunkTotal: ch.Total,
			Doc: snapshot.Document{
				Title:       post.Title,
				Text:        preview(ch.Text),
				URL:         post.URL,
				Date:        post.Date,
				ContentType: snapshot.ContentText,
				Source:      source,
			},
		})
	}
	return items
}

// artifactItems chunks each successful extraction. Markdown or raw HTML
// rides along unchunked in the payload for context enrichment; it is
// never embedded itself.
func (p *Processor) artifactItems(post *crawl.Post, outcomes []Outcome) []Item {
	var items []Item
	for _, o := range outcomes {
		if o.Status != StatusOK || o.Entry == nil {
			continue
		}
		text := o.Entry.BestText()
		if text == "" {
			continue
		}

		rich := o.Entry.BestMarkdown()
		if rich == "" {
			rich = o.Entry.BestHTML()
		}
		source := snapshot.SourceDocumentParse
		if o.Entry.Type == store.EntryTypeImage {
			source = snapshot.SourceImageOCR
		}

		doc := snapshot.Document{
			Title:       post.Title,
			URL:         post.URL,
			Date:        post.Date,
			HTML:        rich,
			ContentType: o.Origin,
			Source:      source,
		}
		switch o.Origin {
		case snapshot.ContentImage:
			doc.ImageURL = o.URL
		case snapshot.ContentAttachment:
			doc.AttachmentURL = o.URL
			doc.AttachmentType = attachmentType(o.Entry.Filename)
		}

		for _, ch := range p.chunker.Split(text) {
			item := Item{Text: ch.Text, ChunkIndex: ch.Index, ChunkTotal: ch.Total, Doc: doc}
			item.Doc.Text = preview(ch.Text)
			items = append(items, item)
		}
	}
	return items
}

// bodySource labels post bodies by board family.
func bodySource(t config.BoardType) string {
	switch t {
	case config.BoardFaculty, config.BoardGuestFaculty, config.BoardStaff:
		return snapshot.SourceProfessorInfo
	default:
		return snapshot.SourceOriginalPost
	}
}

// preview truncates text to PreviewLimit runes. Rune counting keeps the
// cut from splitting a Hangul syllable.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLimit {
		return text
	}
	return string(runes[:PreviewLimit])
}
