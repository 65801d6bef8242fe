package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/map-community/CHATBOT-AI-sub000/internal/crawl"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/extract"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

func newTestMultimodal() (*Multimodal, *fakeDocs, *fakeFetcher, *fakeExtractor) {
	docs := newFakeDocs()
	fetcher := newFakeFetcher()
	extractor := newFakeExtractor()
	return NewMultimodal(docs, fetcher, extractor, quietLogger()), docs, fetcher, extractor
}

func TestProcessReturnsCachedEntryWithoutFetching(t *testing.T) {
	m, docs, fetcher, extractor := newTestMultimodal()
	ctx := context.Background()

	const url = "https://cse.example.ac.kr/data/poster.png"
	require.NoError(t, docs.UpsertEntry(ctx, &store.MultimodalEntry{
		URL:     url,
		Type:    store.EntryTypeImage,
		OCRText: "2024학년도 졸업요건 안내",
	}))

	outcomes := m.Process(ctx, url, snapshot.ContentImage)

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusOK, outcomes[0].Status)
	assert.True(t, outcomes[0].Cached)
	assert.Equal(t, "2024학년도 졸업요건 안내", outcomes[0].Entry.BestText())
	assert.Empty(t, fetcher.calls, "cached artifact must not be fetched")
	assert.Zero(t, extractor.callCount())
}

func TestProcessSharesExtractionByContentHash(t *testing.T) {
	m, docs, fetcher, extractor := newTestMultimodal()
	ctx := context.Background()

	// Same bytes behind two URLs, as when a post body inlines the
	// image that is also listed as an attachment.
	data := []byte("identical image bytes")
	fetcher.serve("https://cse.example.ac.kr/img/a.png", "a.png", data)
	fetcher.serve("https://cse.example.ac.kr/bbs/download.php?wr_id=77", "a.png", data)

	first := m.Process(ctx, "https://cse.example.ac.kr/img/a.png", snapshot.ContentImage)
	second := m.Process(ctx, "https://cse.example.ac.kr/bbs/download.php?wr_id=77", snapshot.ContentAttachment)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, StatusOK, first[0].Status)
	assert.Equal(t, StatusOK, second[0].Status)
	assert.False(t, first[0].Cached)
	assert.True(t, second[0].Cached, "second URL must resolve from the hash cache")
	assert.Equal(t, 1, extractor.callCount(), "byte-identical artifacts share one extraction")
	assert.Equal(t, first[0].Entry.BestText(), second[0].Entry.BestText())

	// The hash hit leaves a URL-keyed alias behind.
	alias, err := docs.GetEntryByURL(ctx, "https://cse.example.ac.kr/bbs/download.php?wr_id=77")
	require.NoError(t, err)
	assert.Equal(t, first[0].Entry.FileHash, alias.FileHash)
	assert.NotEmpty(t, alias.BestText())
}

func TestProcessRetriesFailedExtractionOnNextRun(t *testing.T) {
	m, docs, fetcher, extractor := newTestMultimodal()
	ctx := context.Background()

	const url = "https://cse.example.ac.kr/files/notice.pdf"
	fetcher.serve(url, "notice.pdf", []byte("pdf bytes"))
	extractor.err = qaerrors.New(qaerrors.ErrCodeExtractionFailed, "parse timeout", nil)

	outcomes := m.Process(ctx, url, snapshot.ContentAttachment)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Equal(t, qaerrors.ErrCodeExtractionFailed, outcomes[0].Code)

	// The failure is recorded as an empty entry, not a cache hit.
	entry, err := docs.GetEntryByURL(ctx, url)
	require.NoError(t, err)
	assert.Empty(t, entry.BestText())

	// Next run: extraction works again and the empty entry does not
	// short-circuit the retry.
	extractor.err = nil
	outcomes = m.Process(ctx, url, snapshot.ContentAttachment)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusOK, outcomes[0].Status)
	assert.False(t, outcomes[0].Cached)
	assert.Equal(t, 2, fetcher.fetchCount(url))
	assert.NotEmpty(t, outcomes[0].Entry.BestText())
}

func TestProcessFetchFailureLeavesNoEntry(t *testing.T) {
	m, docs, fetcher, extractor := newTestMultimodal()
	ctx := context.Background()

	const url = "https://cse.example.ac.kr/files/gone.pdf"
	fetcher.failWith(url, qaerrors.New(qaerrors.ErrCodeFetchFailed, "status 404", nil))

	outcomes := m.Process(ctx, url, snapshot.ContentAttachment)

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Equal(t, qaerrors.ErrCodeFetchFailed, outcomes[0].Code)
	assert.Zero(t, extractor.callCount())

	_, err := docs.GetEntryByURL(ctx, url)
	assert.True(t, errors.Is(err, store.ErrNotFound), "nothing to cache without bytes")
}

func TestProcessSkipsUnsupportedFileType(t *testing.T) {
	m, docs, fetcher, extractor := newTestMultimodal()
	ctx := context.Background()

	const url = "https://cse.example.ac.kr/files/setup.exe"
	fetcher.serve(url, "setup.exe", []byte("MZ"))

	outcomes := m.Process(ctx, url, snapshot.ContentAttachment)

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusSkipped, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Detail, "setup.exe")
	assert.Zero(t, extractor.callCount())

	_, err := docs.GetEntryByURL(ctx, url)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestProcessExpandsArchiveMembers(t *testing.T) {
	m, docs, fetcher, extractor := newTestMultimodal()
	ctx := context.Background()

	const url = "https://cse.example.ac.kr/bbs/download.php?wr_id=12"
	fetcher.serve(url, "수강자료.zip", []byte("zip bytes"))
	extractor.zipResult = &extract.ZipResult{
		Successful: []extract.ZipEntry{
			{Filename: "시간표.png", Result: &extract.Result{Text: "금 10:00 자료구조"}},
			{Filename: "안내문.pdf", Result: &extract.Result{Markdown: "# 수강신청 안내"}},
		},
		Failed: []extract.ZipFailure{
			{Filename: "깨진파일.hwp", Reason: "corrupt stream"},
		},
		TotalFiles: 3,
	}

	outcomes := m.Process(ctx, url, snapshot.ContentAttachment)

	require.Len(t, outcomes, 3)
	assert.Equal(t, StatusOK, outcomes[0].Status)
	assert.Equal(t, url+"#시간표.png", outcomes[0].URL)
	assert.Equal(t, store.EntryTypeImage, outcomes[0].Entry.Type)
	assert.Equal(t, "금 10:00 자료구조", outcomes[0].Entry.OCRText)

	assert.Equal(t, StatusOK, outcomes[1].Status)
	assert.Equal(t, url+"#안내문.pdf", outcomes[1].URL)
	assert.Equal(t, store.EntryTypeDocument, outcomes[1].Entry.Type)
	assert.Equal(t, "# 수강신청 안내", outcomes[1].Entry.BestText())

	assert.Equal(t, StatusFailed, outcomes[2].Status)
	assert.Equal(t, url+"#깨진파일.hwp", outcomes[2].URL)
	assert.Equal(t, "corrupt stream", outcomes[2].Detail)
	assert.Equal(t, qaerrors.ErrCodeExtractionFailed, outcomes[2].Code)

	// The archive URL itself caches the combined text, so the next run
	// answers from the URL cache without re-downloading the zip.
	combined, err := docs.GetEntryByURL(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "금 10:00 자료구조\n\n# 수강신청 안내", combined.Text)
	assert.NotEmpty(t, combined.FileHash)
	assert.Equal(t, "수강자료.zip", combined.Filename)

	cached := m.Process(ctx, url, snapshot.ContentAttachment)
	require.Len(t, cached, 1)
	assert.True(t, cached[0].Cached)
	assert.Equal(t, 1, fetcher.fetchCount(url))
}

func TestProcessSkipsEmptyArchive(t *testing.T) {
	m, _, fetcher, extractor := newTestMultimodal()
	ctx := context.Background()

	const url = "https://cse.example.ac.kr/files/empty.zip"
	fetcher.serve(url, "empty.zip", []byte("zip bytes"))
	extractor.zipResult = &extract.ZipResult{TotalFiles: 0}

	outcomes := m.Process(ctx, url, snapshot.ContentAttachment)

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusSkipped, outcomes[0].Status)
	assert.Equal(t, "empty archive", outcomes[0].Detail)
}

func TestProcessAllKeepsImagesBeforeAttachments(t *testing.T) {
	m, _, fetcher, _ := newTestMultimodal()
	ctx := context.Background()

	fetcher.serve("https://cse.example.ac.kr/img/1.png", "1.png", []byte("img"))
	fetcher.serve("https://cse.example.ac.kr/files/1.pdf", "1.pdf", []byte("doc"))

	post := &crawl.Post{
		Title:          "장학금 신청 안내",
		ImageURLs:      []string{"https://cse.example.ac.kr/img/1.png"},
		AttachmentURLs: []string{"https://cse.example.ac.kr/files/1.pdf"},
	}

	outcomes := m.ProcessAll(ctx, post)

	require.Len(t, outcomes, 2)
	assert.Equal(t, snapshot.ContentImage, outcomes[0].Origin)
	assert.Equal(t, snapshot.ContentAttachment, outcomes[1].Origin)
	assert.Equal(t, StatusOK, outcomes[0].Status)
	assert.Equal(t, StatusOK, outcomes[1].Status)
}

func TestAttachmentType(t *testing.T) {
	assert.Equal(t, "pdf", attachmentType("공지.PDF"))
	assert.Equal(t, "hwp", attachmentType("양식.hwp"))
	assert.Equal(t, "", attachmentType("README"))
}
