package models

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Extractor defines the interface for site extractors
type Extractor interface {
	// Key returns the extractor key stored on every record it produces
	Key() string

	// Platform returns the platform the extractor belongs to
	Platform() Platform

	// Suitable reports whether the URL is handled by this extractor
	Suitable(url string) bool

	// Extract resolves a URL into a record, a playlist or another URL
	Extract(ctx context.Context, url string) (*ExtractResult, error)
}

// EntryIterator produces the records of a collection one at a time.
//
// Next advances to the next record and reports whether there is one. Once it
// returns false, Err reports the error that stopped the iteration, if any.
type EntryIterator interface {
	Next(ctx context.Context) bool
	Record() *MediaRecord
	Err() error
}

// Collect drains an iterator into a slice. A limit of zero or less means no limit.
func Collect(ctx context.Context, it EntryIterator, limit int) ([]*MediaRecord, error) {
	var records []*MediaRecord
	for it.Next(ctx) {
		records = append(records, it.Record())
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	if err := it.Err(); err != nil {
		return records, err
	}
	return records, ctx.Err()
}

// Storage defines the interface for storage implementations
type Storage interface {
	// SaveRecord saves a media record
	SaveRecord(record *MediaRecord) error

	// GetRecord retrieves a media record
	GetRecord(id string) (*MediaRecord, error)

	// ListRecords lists records with filters
	ListRecords(filter RecordFilter) ([]*MediaRecord, error)

	// UpdateRecordStatus updates the local status of a record
	UpdateRecordStatus(id, status, filePath string) error

	// SetRecordError marks a record failed with a message
	SetRecordError(id, message string) error

	// DeleteRecord removes a record
	DeleteRecord(id string) error

	// SavePlaylist saves a playlist envelope
	SavePlaylist(info *PlaylistInfo) error

	// GetPlaylist retrieves a playlist envelope
	GetPlaylist(id string) (*PlaylistInfo, error)

	// GetStats returns archive statistics
	GetStats() (*Stats, error)

	// Close closes the storage connection
	Close() error
}

// RecordFilter defines filters for listing records
type RecordFilter struct {
	Platform   *Platform
	Uploader   *string
	PlaylistID *string
	Status     *string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Offset     int
	OrderBy    string
	OrderDesc  bool
}

// ProgressCallback defines the callback for download progress
type ProgressCallback func(downloaded, total int64)

// ExtractorConfig defines configuration for extractors
type ExtractorConfig struct {
	Timeout            time.Duration
	Proxy              string
	UserAgent          string
	TLSFingerprint     string
	RequestsPerSecond  float64
	Burst              int
	Cookie             string
	CookieFile         string
	AppVersion         string
	ManifestAppVersion string
	PageSize           int
	Subtitles          bool
	BrowserEnabled     bool
	BrowserExecPath    string
	BrowserPageTimeout time.Duration
	Logger             *zerolog.Logger
}

// ExpectedError is a user-facing condition such as a private or removed
// video. It is reported plainly, without a stack of wrapped causes.
type ExpectedError struct {
	Msg string
	Err error
}

func (e *ExpectedError) Error() string {
	return e.Msg
}

func (e *ExpectedError) Unwrap() error {
	return e.Err
}

// IsExpected reports whether err is or wraps an ExpectedError
func IsExpected(err error) bool {
	var expected *ExpectedError
	return errors.As(err, &expected)
}
