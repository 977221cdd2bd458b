package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"tiktok-extractor/internal/cookie"
	"tiktok-extractor/internal/platform"
	"tiktok-extractor/internal/platform/tiktok"
	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

// MaxRedirects bounds how many times a redirect result is dispatched again
const MaxRedirects = 3

// ErrUnsupportedURL is returned when no extractor accepts a URL
var ErrUnsupportedURL = errors.New("unsupported URL")

// Registry routes URLs to extractors. Extractors are tried in registration
// order and the first suitable one wins.
type Registry struct {
	mu         sync.RWMutex
	extractors []models.Extractor
	clients    []*tiktok.Client
	logger     zerolog.Logger
}

// NewRegistry creates a new, empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{logger: logger.With().Str("component", "registry").Logger()}
}

// Register appends extractors to the routing order
func (r *Registry) Register(extractors ...models.Extractor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range extractors {
		if e == nil {
			return fmt.Errorf("extractor cannot be nil")
		}
		r.extractors = append(r.extractors, e)
	}
	return nil
}

// RegisterClient registers the extractors of a platform client. The client
// is closed with the registry.
func (r *Registry) RegisterClient(c *tiktok.Client) error {
	if err := r.Register(c.Extractors()...); err != nil {
		return fmt.Errorf("error registering %s extractors: %w", c.Site().Platform, err)
	}
	r.mu.Lock()
	r.clients = append(r.clients, c)
	r.mu.Unlock()
	return nil
}

// RegisterDefaultPlatforms registers every platform enabled in config
func (r *Registry) RegisterDefaultPlatforms(config *models.Config, opts ...tiktok.Option) error {
	logger := r.logger
	for _, c := range platform.NewClients(config, &logger, opts...) {
		if err := r.RegisterClient(c); err != nil {
			return err
		}
		r.logger.Debug().Str("platform", string(c.Site().Platform)).Msg("Registered platform")
	}
	return nil
}

// HTTPClient returns the HTTP client of the registered platform client, so
// media downloads reuse its cookies and proxy. It returns nil when the
// platform has no client.
func (r *Registry) HTTPClient(p models.Platform) *utils.HTTPClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.clients {
		if c.Site().Platform == p {
			return c.HTTP()
		}
	}
	return nil
}

// Cookies returns the cookie jar of the registered platform client, or nil
// when the platform has no client
func (r *Registry) Cookies(p models.Platform) *cookie.Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.clients {
		if c.Site().Platform == p {
			return c.Cookies()
		}
	}
	return nil
}

// FindExtractor returns the first extractor suitable for rawURL
func (r *Registry) FindExtractor(rawURL string) (models.Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.extractors {
		if e.Suitable(rawURL) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
}

// Extract routes rawURL and runs the chosen extractor. A redirect result is
// dispatched again, at most MaxRedirects times.
func (r *Registry) Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error) {
	target := rawURL
	for hop := 0; ; hop++ {
		e, err := r.FindExtractor(target)
		if err != nil {
			return nil, err
		}

		r.logger.Debug().Str("url", target).Str("extractor", e.Key()).Msg("Extracting")
		result, err := e.Extract(ctx, target)
		if err != nil {
			return nil, err
		}
		if result.Kind != models.ResultURL {
			return result, nil
		}

		if hop == MaxRedirects {
			return nil, fmt.Errorf("too many redirects resolving %s", rawURL)
		}
		target = result.URL
	}
}

// DetectPlatform detects the platform of a URL
func (r *Registry) DetectPlatform(rawURL string) (models.Platform, error) {
	if e, err := r.FindExtractor(rawURL); err == nil {
		return e.Platform(), nil
	}
	return detectPlatformByDomain(rawURL)
}

// detectPlatformByDomain detects the platform by domain name
func detectPlatformByDomain(rawURL string) (models.Platform, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
	host := strings.ToLower(u.Hostname())

	switch {
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return models.PlatformTikTok, nil
	case host == "douyin.com" || strings.HasSuffix(host, ".douyin.com"):
		return models.PlatformDouyin, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
}

// ListPlatforms returns the registered platforms in registration order
func (r *Registry) ListPlatforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var platforms []models.Platform
	seen := make(map[models.Platform]bool)
	for _, e := range r.extractors {
		if !seen[e.Platform()] {
			seen[e.Platform()] = true
			platforms = append(platforms, e.Platform())
		}
	}
	return platforms
}

// IsPlatformSupported checks if a platform is supported
func (r *Registry) IsPlatformSupported(p models.Platform) bool {
	for _, registered := range r.ListPlatforms() {
		if registered == p {
			return true
		}
	}
	return false
}

// ValidateURL reports whether some extractor accepts the URL
func (r *Registry) ValidateURL(rawURL string) bool {
	_, err := r.FindExtractor(rawURL)
	return err == nil
}

// GetExtractorCount returns the number of registered extractors
func (r *Registry) GetExtractorCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.extractors)
}

// Close releases the registered clients
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PlatformInfo contains information about a registered platform
type PlatformInfo struct {
	Name        models.Platform `json:"name"`
	Extractors  []string        `json:"extractors"`
	Description string          `json:"description"`
}

// GetPlatformInfo returns information about all registered platforms
func (r *Registry) GetPlatformInfo() []PlatformInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var info []PlatformInfo
	index := make(map[models.Platform]int)
	for _, e := range r.extractors {
		i, ok := index[e.Platform()]
		if !ok {
			i = len(info)
			index[e.Platform()] = i
			info = append(info, PlatformInfo{Name: e.Platform(), Description: describe(e.Platform())})
		}
		info[i].Extractors = append(info[i].Extractors, e.Key())
	}
	return info
}

func describe(p models.Platform) string {
	switch p {
	case models.PlatformTikTok:
		return "TikTok videos, profiles, sounds, effects and hashtags"
	case models.PlatformDouyin:
		return "Douyin videos"
	default:
		return "Unknown platform"
	}
}
