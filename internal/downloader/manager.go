package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

// ErrNoFormats is returned when a record has nothing to download
var ErrNoFormats = errors.New("no downloadable formats")

// Router resolves URLs to extraction results and hands out the HTTP client
// of each platform
type Router interface {
	Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error)
	HTTPClient(p models.Platform) *utils.HTTPClient
}

// Recorder receives download metrics. A nil Recorder is allowed.
type Recorder interface {
	RecordDownloadStart(platform string)
	RecordDownloadSuccess(platform string, duration time.Duration, size int64)
	RecordDownloadFailure(platform string, duration time.Duration)
}

// Manager extracts URLs, archives the results and downloads their media
type Manager struct {
	config   *models.Config
	router   Router
	storage  models.Storage
	fetcher  *Fetcher
	fallback *utils.HTTPClient
	metrics  Recorder
	workers  int
	logger   zerolog.Logger
}

// Options controls a single Process call
type Options struct {
	// Download fetches the media of every extracted record
	Download bool
	// OutputPath overrides download.save_path
	OutputPath string
	// FormatID picks a format instead of the best ranked one
	FormatID string
	// Limit caps how many entries of a collection are processed. Zero means no limit.
	Limit int
	// Progress receives byte counts while a file downloads
	Progress models.ProgressCallback
}

// Result is the outcome of processing one URL
type Result struct {
	URL      string
	Record   *models.MediaRecord
	Playlist *models.PlaylistInfo
	Entries  []*models.MediaRecord
	// Failed counts collection entries whose download failed
	Failed int
	Err    error
}

// Option configures a Manager
type Option func(*Manager)

// WithMetrics sets the download metrics recorder
func WithMetrics(r Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithWorkers sets how many URLs Batch processes at once
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

// NewManager creates a new download manager
func NewManager(cfg *models.Config, router Router, storage models.Storage, logger zerolog.Logger, opts ...Option) *Manager {
	timeout := time.Duration(cfg.Download.Timeout) * time.Second

	m := &Manager{
		config:  cfg,
		router:  router,
		storage: storage,
		fetcher: NewFetcher(logger),
		fallback: utils.NewHTTPClient(utils.ClientConfig{
			Timeout:  timeout,
			ProxyURL: cfg.HTTP.Proxy,
			Logger:   logger,
		}),
		workers: 3,
		logger:  logger.With().Str("component", "downloader").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Process extracts rawURL, archives what it finds and optionally downloads
// the media. For a collection, failed downloads are counted and skipped;
// the error returned is the one that stopped the listing, if any.
func (m *Manager) Process(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	extracted, err := m.router.Extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	result := &Result{URL: rawURL}

	switch extracted.Kind {
	case models.ResultRecord:
		result.Record = extracted.Record
		if err := m.archive(extracted.Record); err != nil {
			return result, err
		}
		if opts.Download {
			if _, err := m.DownloadRecord(ctx, extracted.Record, opts); err != nil {
				return result, err
			}
		}
		return result, nil

	case models.ResultPlaylist:
		return m.processPlaylist(ctx, extracted.Playlist, opts, result)

	default:
		return nil, fmt.Errorf("unexpected %s result for %s", extracted.Kind, rawURL)
	}
}

func (m *Manager) processPlaylist(ctx context.Context, playlist *models.Playlist, opts Options, result *Result) (*Result, error) {
	info := playlist.Info
	entries := playlist.Entries
	for entries.Next(ctx) {
		record := entries.Record()
		result.Entries = append(result.Entries, record)

		if err := m.archive(record); err != nil {
			m.logger.Error().Err(err).Str("id", record.ID).Msg("Error saving record")
		}
		if opts.Download {
			if _, err := m.DownloadRecord(ctx, record, opts); err != nil {
				result.Failed++
				m.logger.Warn().Err(err).Str("id", record.ID).Msg("Download failed")
			}
		}

		if opts.Limit > 0 && len(result.Entries) >= opts.Limit {
			break
		}
	}

	listErr := entries.Err()
	if listErr == nil {
		listErr = ctx.Err()
	}

	info.EntryCount = len(result.Entries)
	result.Playlist = &info
	if m.storage != nil {
		if err := m.storage.SavePlaylist(&info); err != nil {
			m.logger.Error().Err(err).Str("playlist", info.ID).Msg("Error saving playlist")
		}
	}

	m.logger.Info().
		Str("playlist", info.ID).
		Str("kind", info.Kind).
		Int("entries", info.EntryCount).
		Int("failed", result.Failed).
		Msg("Collection processed")

	return result, listErr
}

// Batch processes urls with a bounded number of workers. Every URL gets a
// Result; per-URL errors are reported in Result.Err.
func (m *Manager) Batch(ctx context.Context, urls []string, opts Options) []*Result {
	results := make([]*Result, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	var mu sync.Mutex
	done := 0
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			res, err := m.Process(gctx, u, opts)
			if res == nil {
				res = &Result{URL: u}
			}
			res.Err = err
			results[i] = res

			mu.Lock()
			done++
			m.logger.Info().Msgf("[%d/%d] %s", done, len(urls), u)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

// DownloadRecord downloads one format of record and marks the record
// downloaded or failed in storage. It returns the file path.
func (m *Manager) DownloadRecord(ctx context.Context, record *models.MediaRecord, opts Options) (string, error) {
	format, err := selectFormat(record, opts.FormatID)
	if err != nil {
		m.markFailed(record, err)
		return "", err
	}

	filePath := m.outputPath(record, format, opts.OutputPath)
	platform := string(record.Platform)

	if _, err := os.Stat(filePath); err == nil {
		m.logger.Info().Str("file", filePath).Msg("Already downloaded")
		m.markDownloaded(record, filePath)
		return filePath, nil
	}

	if m.metrics != nil {
		m.metrics.RecordDownloadStart(platform)
	}
	start := time.Now()

	m.logger.Info().
		Str("id", record.ID).
		Str("format", format.FormatID).
		Str("file", filePath).
		Msg("Downloading")

	size, err := m.fetcher.Fetch(ctx, m.clientFor(record.Platform), format.URL, filePath, downloadHeaders(record, format), opts.Progress)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordDownloadFailure(platform, time.Since(start))
		}
		err = fmt.Errorf("error downloading %s: %w", record.ID, err)
		m.markFailed(record, err)
		return "", err
	}
	if m.metrics != nil {
		m.metrics.RecordDownloadSuccess(platform, time.Since(start), size)
	}

	if err := writeSubtitles(record, filePath); err != nil {
		m.logger.Warn().Err(err).Str("id", record.ID).Msg("Error writing subtitles")
	}

	m.logger.Info().
		Str("id", record.ID).
		Str("size", utils.FormatBytes(size)).
		Str("duration", utils.FormatDuration(time.Since(start))).
		Msg("Download completed")

	m.markDownloaded(record, filePath)
	return filePath, nil
}

// Retry downloads a failed record again. Format addresses expire, so the
// record is extracted afresh from its webpage first.
func (m *Manager) Retry(ctx context.Context, id string, opts Options) (*Result, error) {
	if m.storage == nil {
		return nil, fmt.Errorf("no storage configured")
	}
	record, err := m.storage.GetRecord(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("record %s not found", id)
	}
	if record.Status != models.StatusFailed {
		return nil, fmt.Errorf("record %s is not in failed state", id)
	}
	if record.WebpageURL == "" {
		return nil, fmt.Errorf("record %s has no webpage URL", id)
	}

	opts.Download = true
	return m.Process(ctx, record.WebpageURL, opts)
}

func (m *Manager) archive(record *models.MediaRecord) error {
	if m.storage == nil {
		return nil
	}
	if err := m.storage.SaveRecord(record); err != nil {
		return fmt.Errorf("error saving record %s: %w", record.ID, err)
	}
	return nil
}

func (m *Manager) markDownloaded(record *models.MediaRecord, filePath string) {
	now := time.Now()
	record.Status = models.StatusDownloaded
	record.FilePath = filePath
	record.ErrorMessage = ""
	record.DownloadedAt = &now

	if m.storage == nil {
		return
	}
	if err := m.storage.UpdateRecordStatus(record.ID, models.StatusDownloaded, filePath); err != nil {
		m.logger.Error().Err(err).Str("id", record.ID).Msg("Error updating record status")
	}
}

func (m *Manager) markFailed(record *models.MediaRecord, cause error) {
	record.Status = models.StatusFailed
	record.ErrorMessage = cause.Error()

	if m.storage == nil {
		return
	}
	if err := m.storage.SetRecordError(record.ID, cause.Error()); err != nil {
		m.logger.Error().Err(err).Str("id", record.ID).Msg("Error updating record status")
	}
}

func (m *Manager) clientFor(p models.Platform) *utils.HTTPClient {
	timeout := time.Duration(m.config.Download.Timeout) * time.Second
	if c := m.router.HTTPClient(p); c != nil {
		return c.WithTimeout(timeout)
	}
	return m.fallback
}

// selectFormat returns the requested format, or the best ranked one
func selectFormat(record *models.MediaRecord, formatID string) (*models.Format, error) {
	if formatID == "" {
		if f := record.BestFormat(); f != nil {
			return f, nil
		}
		return nil, fmt.Errorf("%s: %w", record.ID, ErrNoFormats)
	}
	for i := range record.Formats {
		if record.Formats[i].FormatID == formatID {
			return &record.Formats[i], nil
		}
	}
	return nil, fmt.Errorf("%s: requested format %q is not available", record.ID, formatID)
}

// downloadHeaders merges the record headers with the format's own
func downloadHeaders(record *models.MediaRecord, format *models.Format) map[string]string {
	headers := make(map[string]string, len(record.HTTPHeaders)+len(format.HTTPHeaders))
	for k, v := range record.HTTPHeaders {
		headers[k] = v
	}
	for k, v := range format.HTTPHeaders {
		headers[k] = v
	}
	return headers
}

// outputPath generates the output file path
func (m *Manager) outputPath(record *models.MediaRecord, format *models.Format, override string) string {
	dir := override
	if dir == "" {
		dir = m.config.Download.SavePath
	}

	// Create folder if needed
	if m.config.Download.CreateFolder && record.Uploader != "" {
		dir = filepath.Join(dir, utils.SanitizeFilename(record.Uploader))
	}

	ext := format.Ext
	if ext == "" {
		ext = "mp4"
	}

	return filepath.Join(dir, FileName(m.config.Download.FileNaming, record)+"."+ext)
}

// FileName expands a naming template for record. Known placeholders are
// {platform}, {uploader}, {title}, {id} and {date}.
func FileName(template string, record *models.MediaRecord) string {
	if template == "" {
		template = "{platform}_{uploader}_{title}_{id}"
	}

	title := record.Title
	if len([]rune(title)) > 80 {
		title = string([]rune(title)[:80])
	}
	date := ""
	if record.Timestamp > 0 {
		date = time.Unix(record.Timestamp, 0).UTC().Format("2006-01-02")
	}

	name := strings.NewReplacer(
		"{platform}", string(record.Platform),
		"{uploader}", record.Uploader,
		"{title}", title,
		"{id}", record.ID,
		"{date}", date,
	).Replace(template)

	return utils.SanitizeFilename(name)
}

// writeSubtitles stores each subtitle track next to the video as
// <name>.<lang>.<ext>
func writeSubtitles(record *models.MediaRecord, videoPath string) error {
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	var errs []error
	for lang, tracks := range record.Subtitles {
		for _, track := range tracks {
			if track.Data == "" {
				continue
			}
			path := fmt.Sprintf("%s.%s.%s", base, utils.SanitizeFilename(lang), track.Ext)
			if err := os.WriteFile(path, []byte(track.Data), 0644); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
