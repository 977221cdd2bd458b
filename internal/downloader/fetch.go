package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

// partSuffix marks a file that is still being downloaded
const partSuffix = ".part"

// Fetcher downloads media files. An interrupted download leaves a .part
// file behind that the next attempt resumes with a Range request.
type Fetcher struct {
	logger      zerolog.Logger
	reportEvery int64
}

// NewFetcher creates a new fetcher
func NewFetcher(logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		logger:      logger,
		reportEvery: 256 << 10,
	}
}

// Fetch downloads rawURL to filePath through client and returns the file size
func (f *Fetcher) Fetch(ctx context.Context, client *utils.HTTPClient, rawURL, filePath string, headers map[string]string, progress models.ProgressCallback) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return 0, fmt.Errorf("error creating directory: %w", err)
	}

	partFile := filePath + partSuffix
	file, err := os.OpenFile(partFile, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("error creating part file: %w", err)
	}
	defer file.Close()

	// Get current file size (for resume)
	stat, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("error getting file stat: %w", err)
	}
	offset := stat.Size()

	reqHeaders := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		reqHeaders[k] = v
	}
	if offset > 0 {
		reqHeaders["Range"] = fmt.Sprintf("bytes=%d-", offset)
	}

	resp, err := client.Get(ctx, rawURL, reqHeaders)
	if err != nil {
		return 0, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		f.logger.Debug().Int64("offset", offset).Str("file", filePath).Msg("Resuming download")
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// the part file already holds the whole body
		file.Close()
		return offset, f.finish(partFile, filePath)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		offset = 0
		if err := file.Truncate(0); err != nil {
			return 0, fmt.Errorf("error truncating part file: %w", err)
		}
	default:
		return 0, &utils.StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("error seeking part file: %w", err)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	reader := &ProgressReader{
		Reader:      resp.Body,
		Total:       total,
		Completed:   offset,
		OnProgress:  progress,
		reportEvery: f.reportEvery,
	}

	if _, err := io.Copy(file, reader); err != nil {
		return reader.Completed, fmt.Errorf("error downloading file: %w", err)
	}
	if total >= 0 && reader.Completed != total {
		return reader.Completed, fmt.Errorf("incomplete download: got %d of %d bytes", reader.Completed, total)
	}
	if progress != nil {
		progress(reader.Completed, total)
	}

	if err := file.Close(); err != nil {
		return reader.Completed, fmt.Errorf("error closing part file: %w", err)
	}
	return reader.Completed, f.finish(partFile, filePath)
}

func (f *Fetcher) finish(partFile, filePath string) error {
	if err := os.Rename(partFile, filePath); err != nil {
		return fmt.Errorf("error moving file: %w", err)
	}
	return nil
}

// ProgressReader is a reader that reports progress
type ProgressReader struct {
	Reader      io.Reader
	Total       int64
	Completed   int64
	OnProgress  models.ProgressCallback
	lastReport  int64
	reportEvery int64
}

// Read implements the io.Reader interface
func (pr *ProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.Reader.Read(p)
	if n > 0 {
		pr.Completed += int64(n)

		// Report progress
		if pr.OnProgress != nil && (pr.Completed-pr.lastReport) >= pr.reportEvery {
			pr.OnProgress(pr.Completed, pr.Total)
			pr.lastReport = pr.Completed
		}
	}

	return n, err
}
