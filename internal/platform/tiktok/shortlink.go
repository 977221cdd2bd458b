package tiktok

import (
	"context"
	"net/url"
	"regexp"

	"tiktok-extractor/pkg/models"
)

var vmURLRe = regexp.MustCompile(`^https?://(?:vm|vt)\.tiktok\.com/(?P<id>\w+)`)

// ShortLinkExtractor resolves vm.tiktok.com and vt.tiktok.com share links
type ShortLinkExtractor struct {
	c *Client
}

// NewShortLinkExtractor creates a short link resolver
func NewShortLinkExtractor(c *Client) *ShortLinkExtractor {
	return &ShortLinkExtractor{c: c}
}

// Key returns the extractor key
func (e *ShortLinkExtractor) Key() string { return "vm.tiktok" }

// Platform returns the platform
func (e *ShortLinkExtractor) Platform() models.Platform { return e.c.site.Platform }

// Suitable reports whether the URL is a share link
func (e *ShortLinkExtractor) Suitable(rawURL string) bool {
	return vmURLRe.MatchString(rawURL)
}

// Extract follows the redirect and hands the target URL back for re-dispatch
func (e *ShortLinkExtractor) Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error) {
	target, err := e.resolve(ctx, rawURL)
	e.c.recordExtraction(e.Key(), err)
	if err != nil {
		return nil, err
	}
	return &models.ExtractResult{Kind: models.ResultURL, URL: target}, nil
}

func (e *ShortLinkExtractor) resolve(ctx context.Context, rawURL string) (string, error) {
	target, err := e.c.http.ResolveRedirect(ctx, rawURL, map[string]string{"User-Agent": "facebookexternalhit/1.1"})
	if err != nil {
		return "", err
	}

	// geo-blocked regions land on the login page with the real target in the query
	if u, err := url.Parse(target); err == nil && u.Path == "/login" {
		if real := u.Query().Get("redirect_url"); real != "" {
			target = real
		} else {
			return "", expected("Short link redirected to the login page; use cookies or a proxy", ErrNeedsCookies)
		}
	}

	if vmURLRe.MatchString(target) {
		return "", &UnsupportedError{URL: target}
	}
	e.c.logger.Debug().Str("url", rawURL).Str("target", target).Msg("Resolved short link")
	return target, nil
}
