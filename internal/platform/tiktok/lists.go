package tiktok

import (
	"context"
	"fmt"
	"regexp"

	"tiktok-extractor/pkg/models"
)

var (
	soundURLRe  = regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/music/[\p{L}\p{N}_\.-]+-(?P<id>\d+)(?:[/?#&]|$)`)
	effectURLRe = regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/sticker/[\p{L}\p{N}_\.-]+-(?P<id>\d+)(?:[/?#&]|$)`)
	tagURLRe    = regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/tag/(?P<id>[^/?#&]+)`)
	tagIDRe     = regexp.MustCompile(`snssdk\d*://challenge/detail/(\d+)`)
)

// ListExtractor extracts the videos attached to a sound, an effect or a hashtag
type ListExtractor struct {
	c        *Client
	key      string
	kind     string
	pattern  *regexp.Regexp
	endpoint string
	idParam  string
	// resolveID maps the id found in the URL to the listing id
	resolveID func(ctx context.Context, rawURL, displayID string) (string, error)
}

// NewSoundExtractor creates the extractor for /music/ pages
func NewSoundExtractor(c *Client) *ListExtractor {
	return &ListExtractor{
		c:        c,
		key:      "tiktok:sound",
		kind:     "sound",
		pattern:  soundURLRe,
		endpoint: "music/aweme",
		idParam:  "music_id",
	}
}

// NewEffectExtractor creates the extractor for /sticker/ pages
func NewEffectExtractor(c *Client) *ListExtractor {
	return &ListExtractor{
		c:        c,
		key:      "tiktok:effect",
		kind:     "effect",
		pattern:  effectURLRe,
		endpoint: "sticker/aweme",
		idParam:  "sticker_id",
	}
}

// NewTagExtractor creates the extractor for /tag/ pages. The numeric
// challenge id is read from the tag page.
func NewTagExtractor(c *Client) *ListExtractor {
	e := &ListExtractor{
		c:        c,
		key:      "tiktok:tag",
		kind:     "tag",
		pattern:  tagURLRe,
		endpoint: "challenge/aweme",
		idParam:  "ch_id",
	}
	e.resolveID = e.tagID
	return e
}

// Key returns the extractor key
func (e *ListExtractor) Key() string { return e.key }

// Platform returns the platform
func (e *ListExtractor) Platform() models.Platform { return e.c.site.Platform }

// Suitable reports whether the URL matches this listing kind
func (e *ListExtractor) Suitable(rawURL string) bool {
	return e.pattern.MatchString(rawURL)
}

// Extract returns a playlist whose entries are fetched page by page
func (e *ListExtractor) Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error) {
	m := e.pattern.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, &UnsupportedError{URL: rawURL}
	}
	displayID := m[e.pattern.SubexpIndex("id")]

	listID := displayID
	if e.resolveID != nil {
		id, err := e.resolveID(ctx, rawURL, displayID)
		if err != nil {
			e.c.recordExtraction(e.key, err)
			return nil, err
		}
		listID = id
	}

	info := models.PlaylistInfo{
		ID:       listID,
		Platform: e.c.site.Platform,
		Kind:     e.kind,
		Title:    displayID,
	}

	pager := newPager(e.c, listQuery{
		Kind:      e.kind,
		Endpoint:  e.endpoint,
		DisplayID: displayID,
		Query:     listingQuery(e.idParam, listID, e.c.pageSize),
	}, func(r *models.MediaRecord) {
		r.PlaylistID = listID
	})

	e.c.recordExtraction(e.key, nil)
	return &models.ExtractResult{
		Kind:     models.ResultPlaylist,
		Playlist: &models.Playlist{Info: info, Entries: pager},
	}, nil
}

func (e *ListExtractor) tagID(ctx context.Context, rawURL, displayID string) (string, error) {
	body, err := e.c.fetchPage(ctx, rawURL, map[string]string{"User-Agent": crawlerUserAgent})
	if err != nil {
		return "", err
	}
	m := tagIDRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("unable to find tag ID for %s", displayID)
	}
	return string(m[1]), nil
}
