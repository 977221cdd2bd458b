package platform

import (
	"time"

	"github.com/rs/zerolog"

	"tiktok-extractor/internal/platform/tiktok"
	"tiktok-extractor/pkg/models"
)

// NewExtractorConfig builds the extractor settings of one platform from the
// application configuration
func NewExtractorConfig(config *models.Config, pc models.PlatformConfig, logger *zerolog.Logger) *models.ExtractorConfig {
	return &models.ExtractorConfig{
		Timeout:            time.Duration(config.HTTP.Timeout) * time.Second,
		Proxy:              config.HTTP.Proxy,
		UserAgent:          config.HTTP.UserAgent,
		TLSFingerprint:     config.HTTP.TLSFingerprint,
		RequestsPerSecond:  config.HTTP.RequestsPerSecond,
		Burst:              config.HTTP.Burst,
		Cookie:             pc.Cookie,
		CookieFile:         pc.CookieFile,
		AppVersion:         config.API.AppVersion,
		ManifestAppVersion: config.API.ManifestAppVersion,
		PageSize:           config.Pagination.PageSize,
		Subtitles:          config.Subtitles.Enabled,
		BrowserEnabled:     config.Browser.Enabled,
		BrowserExecPath:    config.Browser.ExecPath,
		BrowserPageTimeout: time.Duration(config.Browser.PageTimeout) * time.Second,
		Logger:             logger,
	}
}

// NewTikTokClient creates the TikTok client
func NewTikTokClient(config *models.Config, logger *zerolog.Logger, opts ...tiktok.Option) *tiktok.Client {
	return tiktok.NewClient(tiktok.TikTok, NewExtractorConfig(config, config.Platforms.TikTok, logger), opts...)
}

// NewDouyinClient creates the Douyin client. Douyin has its own session and
// cookie jar.
func NewDouyinClient(config *models.Config, logger *zerolog.Logger, opts ...tiktok.Option) *tiktok.Client {
	return tiktok.NewClient(tiktok.Douyin, NewExtractorConfig(config, config.Platforms.Douyin, logger), opts...)
}

// NewClients creates a client for every enabled platform, TikTok first
func NewClients(config *models.Config, logger *zerolog.Logger, opts ...tiktok.Option) []*tiktok.Client {
	var clients []*tiktok.Client
	if config.Platforms.TikTok.Enabled {
		clients = append(clients, NewTikTokClient(config, logger, opts...))
	}
	if config.Platforms.Douyin.Enabled {
		clients = append(clients, NewDouyinClient(config, logger, opts...))
	}
	return clients
}
