package tiktok

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"tiktok-extractor/internal/cookie"
	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

// webUserAgent is sent when fetching video pages for the web fallback
const webUserAgent = "Mozilla/5.0"

// crawlerUserAgent makes the site serve server-rendered pages and plain redirects
const crawlerUserAgent = "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)"

// Client bundles everything the extractors of one site share: the HTTP
// client and cookie jar, the API negotiator and the reconciler
type Client struct {
	site       Site
	http       *utils.HTTPClient
	cookies    *cookie.Manager
	api        *Negotiator
	reconciler *Reconciler
	browser    BrowserLister
	metrics    Recorder
	pageSize   int
	logger     zerolog.Logger
}

type clientOptions struct {
	transport http.RoundTripper
	metrics   Recorder
	browser   BrowserLister
	session   *Session
	cookies   *cookie.Manager
}

// Option customizes a Client
type Option func(*clientOptions)

// WithTransport replaces the HTTP transport
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

// WithMetrics attaches a metrics recorder
func WithMetrics(r Recorder) Option {
	return func(o *clientOptions) { o.metrics = r }
}

// WithBrowser sets the lister used for user profiles
func WithBrowser(b BrowserLister) Option {
	return func(o *clientOptions) { o.browser = b }
}

// WithSession shares a negotiated session between clients
func WithSession(s *Session) Option {
	return func(o *clientOptions) { o.session = s }
}

// WithCookies shares a cookie jar between clients
func WithCookies(m *cookie.Manager) Option {
	return func(o *clientOptions) { o.cookies = m }
}

// NewClient creates the shared client for a site
func NewClient(site Site, config *models.ExtractorConfig, opts ...Option) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if config.Logger != nil {
		logger = *config.Logger
	}
	logger = logger.With().Str("platform", string(site.Platform)).Logger()

	cookies := o.cookies
	if cookies == nil {
		cookies = cookie.NewManager(logger)
	}
	if config.CookieFile != "" {
		if _, err := cookies.LoadCookiesFromFile(config.CookieFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to load cookie file")
		}
	}
	if config.Cookie != "" {
		if err := cookies.SetCookiesFromString(site.WebpageHost, config.Cookie); err != nil {
			logger.Warn().Err(err).Msg("Failed to parse cookie string")
		}
	}

	httpClient := utils.NewHTTPClient(utils.ClientConfig{
		Timeout:           config.Timeout,
		ProxyURL:          config.Proxy,
		UserAgent:         config.UserAgent,
		TLSFingerprint:    config.TLSFingerprint,
		RequestsPerSecond: config.RequestsPerSecond,
		Burst:             config.Burst,
		Jar:               cookies,
		Transport:         o.transport,
		Logger:            logger,
	})

	session := o.session
	if session == nil {
		session = NewSession(site.AppVersions)
		override := Override{AppVersion: config.AppVersion, ManifestAppVersion: config.ManifestAppVersion}
		if v, ok, partial := override.Resolve(); ok {
			session.Pin(v)
			logger.Debug().Str("version", v.String()).Msg("Using app version from configuration")
		} else if partial {
			logger.Warn().Msg("Only one of api.app_version and api.manifest_app_version is set; both are required, ignoring the override")
		}
	}

	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	browser := o.browser
	if browser == nil && config.BrowserEnabled {
		browser = NewChromeLister(config.BrowserExecPath, config.BrowserPageTimeout, logger)
	}

	return &Client{
		site:       site,
		http:       httpClient,
		cookies:    cookies,
		api:        NewNegotiator(site, session, httpClient, cookies, o.metrics, logger),
		reconciler: NewReconciler(site, cookies, httpClient, config.Subtitles, logger),
		browser:    browser,
		metrics:    o.metrics,
		pageSize:   pageSize,
		logger:     logger,
	}
}

// Site returns the site the client talks to
func (c *Client) Site() Site {
	return c.site
}

// Negotiator returns the client's API negotiator
func (c *Client) Negotiator() *Negotiator {
	return c.api
}

// Cookies returns the client's cookie jar
func (c *Client) Cookies() *cookie.Manager {
	return c.cookies
}

// HTTP returns the client's HTTP client
func (c *Client) HTTP() *utils.HTTPClient {
	return c.http
}

// Extractors returns the extractors of the client's site, in matching order
func (c *Client) Extractors() []models.Extractor {
	if c.site.Platform == models.PlatformDouyin {
		return []models.Extractor{NewDouyinExtractor(c)}
	}
	return []models.Extractor{
		NewShortLinkExtractor(c),
		NewVideoExtractor(c),
		NewUserExtractor(c),
		NewSoundExtractor(c),
		NewEffectExtractor(c),
		NewTagExtractor(c),
	}
}

// feedItem fetches the feed anchored at an item and returns that item
func (c *Client) feedItem(ctx context.Context, awemeID string) (gjson.Result, error) {
	res, err := c.api.Call(ctx, "feed", url.Values{"aweme_id": {awemeID}}, awemeID, true)
	if err != nil {
		return gjson.Result{}, err
	}

	for _, aweme := range res.Get("aweme_list").Array() {
		if aweme.Get("aweme_id").String() == awemeID {
			return aweme, nil
		}
	}
	return gjson.Result{}, fmt.Errorf("%w: %s", ErrItemNotInFeed, awemeID)
}

// extractAwemeApp extracts one video through the mobile API
func (c *Client) extractAwemeApp(ctx context.Context, awemeID string) (*models.MediaRecord, error) {
	detail, err := c.feedItem(ctx, awemeID)
	if err != nil {
		return nil, err
	}
	return c.reconciler.ReconcileNative(ctx, NativeItem{Data: detail})
}

// fetchPage downloads an HTML page and parses it
func (c *Client) fetchPage(ctx context.Context, pageURL string, headers map[string]string) ([]byte, error) {
	body, err := c.http.GetBody(ctx, pageURL, headers)
	if err != nil {
		return nil, fmt.Errorf("error downloading %s: %w", pageURL, err)
	}
	return body, nil
}

func (c *Client) recordExtraction(key string, err error) {
	if c.metrics != nil {
		c.metrics.RecordExtraction(string(c.site.Platform), key, err)
	}
}

func (c *Client) recordPage(kind string, items int) {
	if c.metrics != nil {
		c.metrics.RecordPage(string(c.site.Platform), kind, items)
	}
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.http.Close()
}

func timeoutOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
