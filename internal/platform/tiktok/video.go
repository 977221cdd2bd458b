package tiktok

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"tiktok-extractor/pkg/models"
)

var (
	videoURLRe  = regexp.MustCompile(`^https?://www\.tiktok\.com/(?:embed|@(?P<user_id>[\w\.-]+)/video)/(?P<id>\d+)`)
	douyinURLRe = regexp.MustCompile(`^https?://(?:www\.)?douyin\.com/video/(?P<id>[0-9]+)`)
)

// VideoExtractor extracts single TikTok videos
type VideoExtractor struct {
	c *Client
}

// NewVideoExtractor creates a video extractor
func NewVideoExtractor(c *Client) *VideoExtractor {
	return &VideoExtractor{c: c}
}

// Key returns the extractor key
func (e *VideoExtractor) Key() string { return "tiktok" }

// Platform returns the platform
func (e *VideoExtractor) Platform() models.Platform { return e.c.site.Platform }

// Suitable reports whether the URL is a video or embed page
func (e *VideoExtractor) Suitable(rawURL string) bool {
	return videoURLRe.MatchString(rawURL)
}

// Extract tries the mobile API first and falls back to the video page
func (e *VideoExtractor) Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error) {
	m := videoURLRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, &UnsupportedError{URL: rawURL}
	}
	videoID := m[videoURLRe.SubexpIndex("id")]
	userID := m[videoURLRe.SubexpIndex("user_id")]

	record, err := e.extract(ctx, userID, videoID)
	e.c.recordExtraction(e.Key(), err)
	if err != nil {
		return nil, err
	}
	return &models.ExtractResult{Kind: models.ResultRecord, Record: record}, nil
}

func (e *VideoExtractor) extract(ctx context.Context, userID, videoID string) (*models.MediaRecord, error) {
	record, err := e.c.extractAwemeApp(ctx, videoID)
	if err == nil {
		return record, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.c.logger.Warn().Msgf("%v; trying with webpage", err)

	pageURL := e.c.site.VideoURL(userID, videoID)
	body, err := e.c.fetchPage(ctx, pageURL, map[string]string{"User-Agent": webUserAgent})
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}

	state, err := videoStateFromPage(doc, videoID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", videoID, err)
	}

	switch state.StatusCode {
	case 0:
		if !state.Item.IsObject() {
			return nil, fmt.Errorf("%s: %w", videoID, ErrVideoUnavailable)
		}
		return e.c.reconciler.ReconcileWeb(WebItem{Data: state.Item, PageURL: pageURL})
	case statusPrivate:
		return nil, expected("This video is private", ErrVideoPrivate)
	default:
		return nil, fmt.Errorf("%s: %w (status %d)", videoID, ErrVideoUnavailable, state.StatusCode)
	}
}

// DouyinExtractor extracts Douyin videos
type DouyinExtractor struct {
	c *Client
}

// NewDouyinExtractor creates a Douyin extractor
func NewDouyinExtractor(c *Client) *DouyinExtractor {
	return &DouyinExtractor{c: c}
}

// Key returns the extractor key
func (e *DouyinExtractor) Key() string { return "douyin" }

// Platform returns the platform
func (e *DouyinExtractor) Platform() models.Platform { return e.c.site.Platform }

// Suitable reports whether the URL is a Douyin video page
func (e *DouyinExtractor) Suitable(rawURL string) bool {
	return douyinURLRe.MatchString(rawURL)
}

// Extract tries the mobile API first and falls back to the page's render data
func (e *DouyinExtractor) Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error) {
	m := douyinURLRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, &UnsupportedError{URL: rawURL}
	}
	videoID := m[douyinURLRe.SubexpIndex("id")]

	record, err := e.extract(ctx, rawURL, videoID)
	e.c.recordExtraction(e.Key(), err)
	if err != nil {
		return nil, err
	}
	return &models.ExtractResult{Kind: models.ResultRecord, Record: record}, nil
}

func (e *DouyinExtractor) extract(ctx context.Context, pageURL, videoID string) (*models.MediaRecord, error) {
	record, err := e.c.extractAwemeApp(ctx, videoID)
	if err == nil {
		return record, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.c.logger.Warn().Msgf("%v; trying with webpage", err)

	body, err := e.c.fetchPage(ctx, pageURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}

	data, ok := renderData(doc)
	if !ok {
		return nil, expected("Fresh cookies (not necessarily logged in) are needed", ErrNeedsCookies)
	}
	detail, ok := renderDataDetail(data)
	if !ok {
		return nil, fmt.Errorf("%s: %w", videoID, ErrVideoUnavailable)
	}
	return e.c.reconciler.ReconcileWeb(WebItem{Data: detail, PageURL: pageURL})
}

// IsUnavailable reports whether err means the video cannot be extracted at all
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrVideoUnavailable) || errors.Is(err, ErrVideoPrivate)
}
