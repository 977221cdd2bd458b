package tiktok

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"tiktok-extractor/pkg/models"
)

var userURLRe = regexp.MustCompile(`^https?://(?:www\.)?tiktok\.com/@(?P<id>[\w\.-]+)/?(?:$|[#?])`)

// UserExtractor extracts the videos of a user profile
type UserExtractor struct {
	c *Client
}

// NewUserExtractor creates a user profile extractor
func NewUserExtractor(c *Client) *UserExtractor {
	return &UserExtractor{c: c}
}

// Key returns the extractor key
func (e *UserExtractor) Key() string { return "tiktok:user" }

// Platform returns the platform
func (e *UserExtractor) Platform() models.Platform { return e.c.site.Platform }

// Suitable reports whether the URL is a profile page
func (e *UserExtractor) Suitable(rawURL string) bool {
	return userURLRe.MatchString(rawURL)
}

// Extract reads the profile from the embed page and lists its videos, through
// the browser when one is configured and through the post listing otherwise
func (e *UserExtractor) Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error) {
	m := userURLRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, &UnsupportedError{URL: rawURL}
	}
	userName := m[userURLRe.SubexpIndex("id")]

	result, err := e.extract(ctx, userName)
	e.c.recordExtraction(e.Key(), err)
	return result, err
}

func (e *UserExtractor) extract(ctx context.Context, userName string) (*models.ExtractResult, error) {
	body, err := e.c.fetchPage(ctx, fmt.Sprintf("https://%s/embed/@%s", e.c.site.WebpageHost, userName), nil)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(body)
	if err != nil {
		return nil, err
	}

	state, ok := frontityUserData(doc, userName)
	if !ok {
		return nil, fmt.Errorf("%s: %w", userName, ErrNoPageState)
	}
	userInfo := state.Get("userInfo")
	userID := userInfo.Get("id").String()

	nickname := userInfo.Get("nickname").String()
	if nickname == "" {
		nickname = userName
	}
	info := models.PlaylistInfo{
		ID:             userID,
		Platform:       e.c.site.Platform,
		Kind:           "user",
		Title:          userName,
		Nickname:       nickname,
		Thumbnail:      userInfo.Get("avatarThumbUrl").String(),
		Verified:       userInfo.Get("verified").Bool(),
		FollowerCount:  userInfo.Get("followerCount").Int(),
		FollowingCount: userInfo.Get("followingCount").Int(),
		LikeCount:      userInfo.Get("heartCount").Int(),
		Signature:      userInfo.Get("signature").String(),
		Private:        userInfo.Get("privateAccount").Bool(),
	}

	decorate := func(r *models.MediaRecord) {
		r.Extractor = "tiktok"
		r.WebpageURL = e.c.site.VideoURL(userName, r.ID)
		r.PlaylistID = userID
	}

	if e.c.browser == nil {
		if userID == "" {
			return nil, fmt.Errorf("%s: profile has no user id for the post listing (%w)", userName, ErrBrowserDisabled)
		}
		pager := newPager(e.c, listQuery{
			Kind:      "user",
			Endpoint:  "aweme/post",
			DisplayID: userName,
			Query: url.Values{
				"user_id":    {userID},
				"count":      {"21"},
				"min_cursor": {"0"},
				"retry_type": {"no_retry"},
				"device_id":  {randomString(decimalDigits, 19)},
			},
			CursorParam: "max_cursor",
			CursorField: "max_cursor",
		}, decorate)
		return &models.ExtractResult{Kind: models.ResultPlaylist, Playlist: &models.Playlist{Info: info, Entries: pager}}, nil
	}

	secUID, err := e.secUID(ctx, state.Get("videoList.0.id").String())
	if err != nil {
		fallback := userInfo.Get("secUid").String()
		if fallback == "" {
			return nil, err
		}
		e.c.logger.Warn().Err(err).Msg("Using secUid from the profile page")
		secUID = fallback
	}

	listed, err := e.c.browser.ListUserItems(ctx, secUID)
	if err != nil {
		return nil, fmt.Errorf("error listing videos of %s: %w", userName, err)
	}
	e.c.recordPage("user", len(listed))

	return &models.ExtractResult{
		Kind: models.ResultPlaylist,
		Playlist: &models.Playlist{
			Info:    info,
			Entries: &userEntries{c: e.c, items: listed, decorate: decorate},
		},
	}, nil
}

// secUID looks up the user's secure id through the feed of their latest video
func (e *UserExtractor) secUID(ctx context.Context, latestVideoID string) (string, error) {
	if latestVideoID == "" {
		return "", fmt.Errorf("profile lists no videos")
	}
	detail, err := e.c.feedItem(ctx, latestVideoID)
	if err != nil {
		return "", err
	}
	secUID := detail.Get("author.sec_uid").String()
	if secUID == "" {
		return "", fmt.Errorf("no sec_uid for author of %s", latestVideoID)
	}
	return secUID, nil
}

// userEntries extracts listed videos through the mobile API one at a time.
// Videos that fail to extract are skipped.
type userEntries struct {
	c        *Client
	items    []ListedItem
	pos      int
	record   *models.MediaRecord
	err      error
	decorate func(*models.MediaRecord)
}

func (u *userEntries) Next(ctx context.Context) bool {
	for u.pos < len(u.items) {
		if err := ctx.Err(); err != nil {
			u.err = err
			u.record = nil
			return false
		}

		item := u.items[u.pos]
		u.pos++

		record, err := u.c.extractAwemeApp(ctx, item.ID)
		if err != nil {
			u.c.logger.Warn().Err(err).Str("item", item.ID).Msg("Skipping video")
			continue
		}
		if u.decorate != nil {
			u.decorate(record)
		}
		u.record = record
		return true
	}
	u.record = nil
	return false
}

func (u *userEntries) Record() *models.MediaRecord {
	return u.record
}

func (u *userEntries) Err() error {
	return u.err
}
