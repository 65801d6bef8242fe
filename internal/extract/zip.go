package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// ZipEntry is one successfully extracted archive member.
type ZipEntry struct {
	Filename string
	Result   *Result
}

// ZipFailure is one archive member that could not be extracted.
type ZipFailure struct {
	Filename string
	Reason   string
}

// ZipResult reports the fan-out over an archive. TotalFiles counts file
// members only, not directories.
type ZipResult struct {
	Successful []ZipEntry
	Failed     []ZipFailure
	TotalFiles int
}

// ExtractZip routes every supported archive member through Extract.
// Three guards reject hostile archives before any member is read: the
// archive size itself, the member count, and the declared cumulative
// uncompressed size. Actual reads are metered against the same budget
// in case a header lies.
func (c *Client) ExtractZip(ctx context.Context, data []byte) (*ZipResult, error) {
	maxArchive := int64(c.cfg.MaxZipSizeMB) << 20
	if int64(len(data)) > maxArchive {
		return nil, qaerrors.New(qaerrors.ErrCodeArchiveTooLarge,
			fmt.Sprintf("archive is %d bytes, limit %d MiB", len(data), c.cfg.MaxZipSizeMB), nil)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInvalidInput, "not a zip archive", err)
	}

	members := make([]*zip.File, 0, len(reader.File))
	var declared uint64
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members = append(members, f)
		declared += f.UncompressedSize64
	}

	if len(members) > c.cfg.MaxTotalFiles {
		return nil, qaerrors.New(qaerrors.ErrCodeArchiveTooManyFiles,
			fmt.Sprintf("archive has %d files, limit %d", len(members), c.cfg.MaxTotalFiles), nil)
	}

	maxTotal := uint64(c.cfg.MaxExtractionSizeMB) << 20
	if declared > maxTotal {
		return nil, qaerrors.New(qaerrors.ErrCodeArchiveBomb,
			fmt.Sprintf("archive declares %d uncompressed bytes, limit %d MiB", declared, c.cfg.MaxExtractionSizeMB), nil)
	}

	result := &ZipResult{TotalFiles: len(members)}
	var readTotal uint64

	for _, f := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if KindOf(f.Name) == KindUnsupported || KindOf(f.Name) == KindZip {
			result.Failed = append(result.Failed, ZipFailure{Filename: f.Name, Reason: "unsupported file type"})
			continue
		}

		memberData, err := c.readMember(f, maxTotal, &readTotal)
		if err != nil {
			return nil, err
		}
		if memberData == nil {
			result.Failed = append(result.Failed, ZipFailure{Filename: f.Name, Reason: "unreadable archive member"})
			continue
		}

		extracted, err := c.Extract(ctx, memberData, f.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("archive member extraction failed",
				slog.String("member", f.Name),
				slog.String("error", err.Error()))
			result.Failed = append(result.Failed, ZipFailure{Filename: f.Name, Reason: err.Error()})
			continue
		}

		result.Successful = append(result.Successful, ZipEntry{Filename: f.Name, Result: extracted})
	}

	return result, nil
}

// readMember reads one member against the shared uncompressed budget.
// A nil slice with nil error means the member itself was unreadable;
// blowing the budget fails the whole archive.
func (c *Client) readMember(f *zip.File, maxTotal uint64, readTotal *uint64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, nil
	}
	defer func() { _ = rc.Close() }()

	remaining := maxTotal - *readTotal
	data, err := io.ReadAll(io.LimitReader(rc, int64(remaining)+1))
	if err != nil {
		return nil, nil
	}
	if uint64(len(data)) > remaining {
		return nil, qaerrors.New(qaerrors.ErrCodeArchiveBomb,
			fmt.Sprintf("archive expands past %d MiB while reading %q", c.cfg.MaxExtractionSizeMB, f.Name), nil)
	}
	*readTotal += uint64(len(data))
	return data, nil
}
