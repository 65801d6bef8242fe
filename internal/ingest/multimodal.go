package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/map-community/CHATBOT-AI-sub000/internal/crawl"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/extract"
	"github.com/map-community/CHATBOT-AI-sub000/internal/fetch"
	"github.com/map-community/CHATBOT-AI-sub000/internal/ident"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

// Status classifies what happened to one artifact URL.
type Status int

const (
	// StatusOK means extracted text is available, fresh or cached.
	StatusOK Status = iota

	// StatusSkipped means the artifact was left out on purpose, for
	// example an unsupported file type. Skips never abort a post.
	StatusSkipped

	// StatusFailed means fetch or extraction failed. A post whose
	// artifacts all fail is aborted and recrawled on the next run.
	StatusFailed
)

// String returns the status name used in logs and reports.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the typed result of processing one artifact URL. Zip
// archives produce one outcome per member, addressed as
// "<zip_url>#<member_filename>".
type Outcome struct {
	// URL is the artifact address, including the member suffix for
	// archive contents.
	URL string

	// Origin says which post list the URL came from:
	// snapshot.ContentImage or snapshot.ContentAttachment.
	Origin string

	Status Status

	// Detail carries the skip reason or failure description.
	Detail string

	// Code is the error code for failed outcomes.
	Code string

	// Entry holds the extraction result when Status is StatusOK.
	Entry *store.MultimodalEntry

	// Cached is true when the entry came from the extraction cache
	// instead of a fresh external call.
	Cached bool
}

// Multimodal resolves post images and attachments into extraction
// results. Results are stored under both the URL and the file-bytes
// hash, so byte-identical artifacts at different URLs reuse one
// extraction call no matter how they are linked.
type Multimodal struct {
	docs      store.DocumentStore
	fetcher   fetch.Fetcher
	extractor extract.Extractor
	logger    *slog.Logger
}

// NewMultimodal creates the artifact processor.
func NewMultimodal(docs store.DocumentStore, fetcher fetch.Fetcher, extractor extract.Extractor, logger *slog.Logger) *Multimodal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multimodal{
		docs:      docs,
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger,
	}
}

// ProcessAll resolves every artifact URL of a post, images first.
// Artifacts are processed sequentially: a second identical artifact
// within the same post must hit the hash entry the first one wrote.
func (m *Multimodal) ProcessAll(ctx context.Context, post *crawl.Post) []Outcome {
	outcomes := make([]Outcome, 0, len(post.ImageURLs)+len(post.AttachmentURLs))
	for _, u := range post.ImageURLs {
		outcomes = append(outcomes, m.Process(ctx, u, snapshot.ContentImage)...)
	}
	for _, u := range post.AttachmentURLs {
		outcomes = append(outcomes, m.Process(ctx, u, snapshot.ContentAttachment)...)
	}
	return outcomes
}

// Process resolves one artifact URL. The order is fixed: URL cache,
// fetch, hash cache, extraction, store under both keys. A cached entry
// counts only when it has text; failure entries are empty and fall
// through so the next run retries them.
func (m *Multimodal) Process(ctx context.Context, rawURL, origin string) []Outcome {
	if cached, ok := m.lookupURL(ctx, rawURL); ok {
		return []Outcome{{
			URL:    rawURL,
			Origin: origin,
			Status: StatusOK,
			Entry:  cached,
			Cached: true,
		}}
	}

	res, err := m.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return []Outcome{m.failed(rawURL, origin, "artifact fetch failed", err)}
	}

	hash := ident.FileHash(res.Data)
	if alias, ok := m.lookupHash(ctx, rawURL, hash); ok {
		return []Outcome{{
			URL:    rawURL,
			Origin: origin,
			Status: StatusOK,
			Entry:  alias,
			Cached: true,
		}}
	}

	switch extract.KindOf(res.Filename) {
	case extract.KindImage:
		return []Outcome{m.extractOne(ctx, rawURL, origin, hash, store.EntryTypeImage, res.Data, res.Filename)}
	case extract.KindDocument:
		return []Outcome{m.extractOne(ctx, rawURL, origin, hash, store.EntryTypeDocument, res.Data, res.Filename)}
	case extract.KindZip:
		return m.extractArchive(ctx, rawURL, origin, hash, res.Data, res.Filename)
	default:
		return []Outcome{{
			URL:    rawURL,
			Origin: origin,
			Status: StatusSkipped,
			Detail: "unsupported file type: " + res.Filename,
		}}
	}
}

// lookupURL returns the cached entry for a URL when it carries text.
func (m *Multimodal) lookupURL(ctx context.Context, rawURL string) (*store.MultimodalEntry, bool) {
	entry, err := m.docs.GetEntryByURL(ctx, rawURL)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("url cache lookup failed",
				slog.String("url", rawURL),
				slog.String("error", err.Error()))
		}
		return nil, false
	}
	if entry.BestText() == "" {
		return nil, false
	}
	return entry, true
}

// lookupHash checks whether byte-identical content was extracted under
// another URL. On a hit it writes a URL-keyed alias at rawURL so the
// next run resolves in one lookup.
func (m *Multimodal) lookupHash(ctx context.Context, rawURL, hash string) (*store.MultimodalEntry, bool) {
	entry, err := m.docs.GetEntryByFileHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("hash cache lookup failed",
				slog.String("hash", hash),
				slog.String("error", err.Error()))
		}
		return nil, false
	}
	if entry.BestText() == "" {
		return nil, false
	}

	alias := *entry
	alias.ID = 0
	alias.URL = rawURL
	if err := m.docs.UpsertEntry(ctx, &alias); err != nil {
		m.logger.Warn("alias entry write failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
	}
	m.logger.Debug("artifact resolved by content hash",
		slog.String("url", rawURL),
		slog.String("source_url", entry.URL))
	return &alias, true
}

// extractOne runs a single OCR or document-parse call and stores the
// result. Failures leave an empty entry under the URL so the attempt is
// visible and the next run retries.
func (m *Multimodal) extractOne(ctx context.Context, rawURL, origin, hash, entryType string, data []byte, filename string) Outcome {
	result, err := m.extractor.Extract(ctx, data, filename)
	if err != nil {
		m.recordFailure(ctx, rawURL, hash, entryType)
		return m.failed(rawURL, origin, "extraction failed", err)
	}

	entry := entryFromResult(rawURL, hash, entryType, filename, result)
	if err := m.docs.UpsertEntry(ctx, entry); err != nil {
		return m.failed(rawURL, origin, "extraction cache write failed", err)
	}

	return Outcome{URL: rawURL, Origin: origin, Status: StatusOK, Entry: entry}
}

// extractArchive fans a zip out to per-member extraction. Each member
// is cached under "<zip_url>#<member_filename>"; the archive URL itself
// stores the members' combined text so the URL cache can answer for the
// whole artifact on later runs.
func (m *Multimodal) extractArchive(ctx context.Context, rawURL, origin, hash string, data []byte, filename string) []Outcome {
	zr, err := m.extractor.ExtractZip(ctx, data)
	if err != nil {
		m.recordFailure(ctx, rawURL, hash, store.EntryTypeDocument)
		return []Outcome{m.failed(rawURL, origin, "archive extraction failed", err)}
	}
	if zr.TotalFiles == 0 {
		return []Outcome{{
			URL:    rawURL,
			Origin: origin,
			Status: StatusSkipped,
			Detail: "empty archive",
		}}
	}

	outcomes := make([]Outcome, 0, len(zr.Successful)+len(zr.Failed))
	texts := make([]string, 0, len(zr.Successful))

	for _, member := range zr.Successful {
		memberURL := rawURL + "#" + member.Filename
		entryType := store.EntryTypeDocument
		if extract.KindOf(member.Filename) == extract.KindImage {
			entryType = store.EntryTypeImage
		}

		entry := entryFromResult(memberURL, "", entryType, member.Filename, member.Result)
		if err := m.docs.UpsertEntry(ctx, entry); err != nil {
			outcomes = append(outcomes, m.failed(memberURL, origin, "extraction cache write failed", err))
			continue
		}
		outcomes = append(outcomes, Outcome{URL: memberURL, Origin: origin, Status: StatusOK, Entry: entry})
		if t := entry.BestText(); t != "" {
			texts = append(texts, t)
		}
	}

	for _, failure := range zr.Failed {
		outcomes = append(outcomes, Outcome{
			URL:    rawURL + "#" + failure.Filename,
			Origin: origin,
			Status: StatusFailed,
			Detail: failure.Reason,
			Code:   qaerrors.ErrCodeExtractionFailed,
		})
	}

	// The combined entry is what later runs see; when no member yielded
	// text it stays empty and the archive is retried.
	combined := &store.MultimodalEntry{
		URL:      rawURL,
		FileHash: hash,
		Type:     store.EntryTypeDocument,
		Filename: filename,
		Text:     strings.Join(texts, "\n\n"),
	}
	if err := m.docs.UpsertEntry(ctx, combined); err != nil {
		m.logger.Warn("archive entry write failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
	}

	return outcomes
}

// recordFailure writes an empty entry under the URL. It marks the
// attempt without satisfying the cache-hit condition, so retries happen
// on the next run rather than inside this one.
func (m *Multimodal) recordFailure(ctx context.Context, rawURL, hash, entryType string) {
	entry := &store.MultimodalEntry{URL: rawURL, FileHash: hash, Type: entryType}
	if err := m.docs.UpsertEntry(ctx, entry); err != nil {
		m.logger.Warn("failure entry write failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()))
	}
}

func (m *Multimodal) failed(rawURL, origin, detail string, err error) Outcome {
	m.logger.Warn(detail,
		slog.String("url", rawURL),
		slog.String("error", err.Error()))
	return Outcome{
		URL:    rawURL,
		Origin: origin,
		Status: StatusFailed,
		Detail: detail + ": " + err.Error(),
		Code:   qaerrors.GetCode(err),
	}
}

// entryFromResult maps an extraction result onto the cache row. The
// text field stores the composed plain text, markdown before raw text,
// so one field answers both the cache-hit check and chunking.
func entryFromResult(rawURL, hash, entryType, filename string, result *extract.Result) *store.MultimodalEntry {
	entry := &store.MultimodalEntry{URL: rawURL, FileHash: hash, Type: entryType, Filename: filename}
	if entryType == store.EntryTypeImage {
		entry.OCRText = result.ComposedText()
		entry.OCRMarkdown = result.Markdown
		entry.OCRHTML = result.HTML
	} else {
		entry.Text = result.ComposedText()
		entry.Markdown = result.Markdown
		entry.HTML = result.HTML
	}
	return entry
}

// attachmentType returns the lowercase filename extension without the
// dot. Download endpoints hide the real name behind Content-Disposition,
// so the resolved filename is the source of truth, never the URL.
func attachmentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return strings.TrimPrefix(ext, ".")
}
