package models

import (
	"time"
)

// Platform represents the supported platforms
type Platform string

const (
	PlatformTikTok Platform = "tiktok"
	PlatformDouyin Platform = "douyin"
)

// ResultKind tells which field of an ExtractResult is populated
type ResultKind string

const (
	ResultRecord   ResultKind = "record"
	ResultPlaylist ResultKind = "playlist"
	ResultURL      ResultKind = "url"
)

// Local record statuses
const (
	StatusExtracted  = "extracted"
	StatusDownloaded = "downloaded"
	StatusFailed     = "failed"
)

// QualityUnknown marks a format whose quality tier could not be resolved
const QualityUnknown = -1

// Format describes one downloadable rendition of a video
type Format struct {
	FormatID         string            `json:"format_id"`
	URL              string            `json:"url"`
	Ext              string            `json:"ext"`
	VCodec           string            `json:"vcodec,omitempty"`
	ACodec           string            `json:"acodec,omitempty"`
	Width            int               `json:"width,omitempty"`
	Height           int               `json:"height,omitempty"`
	FPS              float64           `json:"fps,omitempty"`
	TBR              float64           `json:"tbr,omitempty"`
	Filesize         int64             `json:"filesize,omitempty"`
	Quality          int               `json:"quality"`
	Preference       int               `json:"preference"`
	SourcePreference int               `json:"source_preference"`
	FormatNote       string            `json:"format_note,omitempty"`
	HTTPHeaders      map[string]string `json:"http_headers,omitempty"`
}

// Thumbnail is a cover image reference
type Thumbnail struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

// Subtitle is a converted caption track
type Subtitle struct {
	Ext  string `json:"ext"`
	Data string `json:"data"`
}

// Availability holds the access-level flags derived from platform labels
type Availability struct {
	Private           bool `json:"private"`
	NeedsSubscription bool `json:"needs_subscription"`
	Unlisted          bool `json:"unlisted"`
}

// String returns the availability label
func (a Availability) String() string {
	switch {
	case a.Private:
		return "private"
	case a.NeedsSubscription:
		return "subscriber_only"
	case a.Unlisted:
		return "unlisted"
	default:
		return "public"
	}
}

// MediaRecord is the normalized output for a single video
type MediaRecord struct {
	ID          string   `json:"id" gorm:"primaryKey"`
	Platform    Platform `json:"platform" gorm:"index"`
	Extractor   string   `json:"extractor"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	WebpageURL  string   `json:"webpage_url" gorm:"index"`

	// Uploader information
	Uploader    string `json:"uploader" gorm:"index"`
	UploaderID  string `json:"uploader_id"`
	UploaderURL string `json:"uploader_url"`
	Creator     string `json:"creator"`

	Timestamp int64 `json:"timestamp"`
	Duration  int   `json:"duration"`

	// Statistics
	ViewCount    int64 `json:"view_count"`
	LikeCount    int64 `json:"like_count"`
	RepostCount  int64 `json:"repost_count"`
	CommentCount int64 `json:"comment_count"`

	// Music attribution
	Track  string `json:"track"`
	Album  string `json:"album"`
	Artist string `json:"artist"`

	Formats      []Format              `json:"formats" gorm:"serializer:json"`
	Thumbnails   []Thumbnail           `json:"thumbnails" gorm:"serializer:json"`
	Subtitles    map[string][]Subtitle `json:"subtitles,omitempty" gorm:"serializer:json"`
	Availability Availability          `json:"availability" gorm:"embedded;embeddedPrefix:availability_"`
	HTTPHeaders  map[string]string     `json:"http_headers,omitempty" gorm:"serializer:json"`

	// Local bookkeeping
	PlaylistID   string     `json:"playlist_id,omitempty" gorm:"index"`
	FilePath     string     `json:"file_path,omitempty"`
	Status       string     `json:"status" gorm:"default:extracted"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CollectedAt  time.Time  `json:"collected_at" gorm:"autoCreateTime"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
}

// Thumbnail returns the URL of the first thumbnail, if any
func (r *MediaRecord) Thumbnail() string {
	if len(r.Thumbnails) == 0 {
		return ""
	}
	return r.Thumbnails[0].URL
}

// BestFormat returns the highest ranked format. Formats are kept sorted
// worst to best, so this is the last element.
func (r *MediaRecord) BestFormat() *Format {
	if len(r.Formats) == 0 {
		return nil
	}
	return &r.Formats[len(r.Formats)-1]
}

// PlaylistInfo is the envelope of a collection page
type PlaylistInfo struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	Platform       Platform  `json:"platform" gorm:"index"`
	Kind           string    `json:"kind"`
	Title          string    `json:"title"`
	Nickname       string    `json:"nickname,omitempty"`
	Thumbnail      string    `json:"thumbnail,omitempty"`
	Signature      string    `json:"signature,omitempty"`
	Verified       bool      `json:"verified"`
	Private        bool      `json:"private"`
	FollowerCount  int64     `json:"follower_count"`
	FollowingCount int64     `json:"following_count"`
	LikeCount      int64     `json:"like_count"`
	EntryCount     int       `json:"entry_count"`
	CollectedAt    time.Time `json:"collected_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Playlist is a collection result: an envelope plus lazily produced entries
type Playlist struct {
	Info    PlaylistInfo
	Entries EntryIterator
}

// ExtractResult is what an extractor returns for a URL
type ExtractResult struct {
	Kind     ResultKind
	Record   *MediaRecord
	Playlist *Playlist
	URL      string
}

// Config represents the application configuration
type Config struct {
	Server struct {
		Host         string `mapstructure:"host" yaml:"host"`
		Port         int    `mapstructure:"port" yaml:"port"`
		ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout"`
		WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout"`
	} `mapstructure:"server" yaml:"server"`

	Download struct {
		SavePath     string `mapstructure:"save_path" yaml:"save_path"`
		CreateFolder bool   `mapstructure:"create_folder" yaml:"create_folder"`
		FileNaming   string `mapstructure:"file_naming" yaml:"file_naming"`
		Timeout      int    `mapstructure:"timeout" yaml:"timeout"`
	} `mapstructure:"download" yaml:"download"`

	Database struct {
		Type string `mapstructure:"type" yaml:"type"`
		Path string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"database" yaml:"database"`

	Log struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"`
		Output string `mapstructure:"output" yaml:"output"`
	} `mapstructure:"log" yaml:"log"`

	HTTP struct {
		Timeout           int     `mapstructure:"timeout" yaml:"timeout"`
		Proxy             string  `mapstructure:"proxy" yaml:"proxy"`
		UserAgent         string  `mapstructure:"user_agent" yaml:"user_agent"`
		TLSFingerprint    string  `mapstructure:"tls_fingerprint" yaml:"tls_fingerprint"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
		Burst             int     `mapstructure:"burst" yaml:"burst"`
	} `mapstructure:"http" yaml:"http"`

	API struct {
		AppVersion         string `mapstructure:"app_version" yaml:"app_version"`
		ManifestAppVersion string `mapstructure:"manifest_app_version" yaml:"manifest_app_version"`
	} `mapstructure:"api" yaml:"api"`

	Platforms struct {
		TikTok PlatformConfig `mapstructure:"tiktok" yaml:"tiktok"`
		Douyin PlatformConfig `mapstructure:"douyin" yaml:"douyin"`
	} `mapstructure:"platforms" yaml:"platforms"`

	Subtitles struct {
		Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	} `mapstructure:"subtitles" yaml:"subtitles"`

	Pagination struct {
		PageSize int `mapstructure:"page_size" yaml:"page_size"`
	} `mapstructure:"pagination" yaml:"pagination"`

	Browser struct {
		Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
		ExecPath    string `mapstructure:"exec_path" yaml:"exec_path"`
		PageTimeout int    `mapstructure:"page_timeout" yaml:"page_timeout"`
	} `mapstructure:"browser" yaml:"browser"`

	RateLimit struct {
		Enabled           bool     `mapstructure:"enabled" yaml:"enabled"`
		RequestsPerSecond int      `mapstructure:"requests_per_second" yaml:"requests_per_second"`
		Burst             int      `mapstructure:"burst" yaml:"burst"`
		MaxConcurrent     int      `mapstructure:"max_concurrent" yaml:"max_concurrent"`
		WhitelistedIPs    []string `mapstructure:"whitelisted_ips" yaml:"whitelisted_ips"`
	} `mapstructure:"rate_limit" yaml:"rate_limit"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	} `mapstructure:"metrics" yaml:"metrics"`

	// Auth guards the API routes that start extractions or change records.
	// APIKeys holds bcrypt hashes, never the keys themselves.
	Auth struct {
		Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
		JWTSecret string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
		TokenTTL  int      `mapstructure:"token_ttl" yaml:"token_ttl"`
		APIKeys   []string `mapstructure:"api_keys" yaml:"api_keys"`
	} `mapstructure:"auth" yaml:"auth"`
}

// PlatformConfig holds per-platform settings
type PlatformConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Cookie     string `mapstructure:"cookie" yaml:"cookie"`
	CookieFile string `mapstructure:"cookie_file" yaml:"cookie_file"`
}

// Stats represents archive statistics
type Stats struct {
	TotalRecords    int64            `json:"total_records"`
	TotalPlaylists  int64            `json:"total_playlists"`
	Downloaded      int64            `json:"downloaded"`
	Failed          int64            `json:"failed"`
	TotalDuration   int64            `json:"total_duration"`
	RecordsToday    int64            `json:"records_today"`
	ByPlatform      map[string]int64 `json:"by_platform"`
	DownloadedRatio float64          `json:"downloaded_ratio"`
}
