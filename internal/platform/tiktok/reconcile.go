package tiktok

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"tiktok-extractor/internal/cookie"
	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

// RawItem is a video payload in one of the two shapes the platform serves.
// It is either a NativeItem or a WebItem.
type RawItem interface {
	itemData() gjson.Result
}

// NativeItem is an aweme detail object from the mobile API
type NativeItem struct {
	Data gjson.Result
}

// WebItem is an item object embedded in a web page, with the page it came from
type WebItem struct {
	Data    gjson.Result
	PageURL string
}

func (i NativeItem) itemData() gjson.Result { return i.Data }
func (i WebItem) itemData() gjson.Result    { return i.Data }

// Reconciler turns raw items into media records
type Reconciler struct {
	site      Site
	cookies   *cookie.Manager
	captions  captionFetcher
	subtitles bool
	logger    zerolog.Logger
}

// NewReconciler creates a reconciler. captions may be nil when subtitles are
// not wanted.
func NewReconciler(site Site, cookies *cookie.Manager, captions captionFetcher, subtitles bool, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		site:      site,
		cookies:   cookies,
		captions:  captions,
		subtitles: subtitles && captions != nil,
		logger:    logger,
	}
}

// Reconcile dispatches on the item shape
func (r *Reconciler) Reconcile(ctx context.Context, item RawItem) (*models.MediaRecord, error) {
	switch it := item.(type) {
	case NativeItem:
		return r.ReconcileNative(ctx, it)
	case WebItem:
		return r.ReconcileWeb(it)
	default:
		return nil, fmt.Errorf("unknown item shape %T", item)
	}
}

// ReconcileNative builds a record from a native API item
func (r *Reconciler) ReconcileNative(ctx context.Context, item NativeItem) (*models.MediaRecord, error) {
	d := item.Data
	id := d.Get("aweme_id").String()
	if id == "" {
		return nil, fmt.Errorf("native item has no aweme_id")
	}
	video := d.Get("video")
	if !video.IsObject() {
		return nil, fmt.Errorf("native item %s has no video object", id)
	}

	formats := nativeFormats(video)
	r.mirrorSessionCookie(formats)

	author := d.Get("author")
	stats := d.Get("statistics")
	track, artist := musicAttribution(d.Get("music"))

	record := &models.MediaRecord{
		ID:           id,
		Platform:     r.site.Platform,
		Extractor:    string(r.site.Platform),
		WebpageURL:   r.site.VideoURL(author.Get("uid").String(), id),
		Title:        d.Get("desc").String(),
		Description:  d.Get("desc").String(),
		ViewCount:    stats.Get("play_count").Int(),
		LikeCount:    stats.Get("digg_count").Int(),
		RepostCount:  stats.Get("share_count").Int(),
		CommentCount: stats.Get("comment_count").Int(),
		Uploader:     author.Get("unique_id").String(),
		Creator:      author.Get("nickname").String(),
		UploaderID:   author.Get("uid").String(),
		UploaderURL:  r.site.uploaderURL(firstString(author, "sec_uid", "id", "uid", "unique_id")),
		Track:        track,
		Album:        d.Get("music.album").String(),
		Artist:       artist,
		Timestamp:    d.Get("create_time").Int(),
		Formats:      formats,
		Thumbnails:   nativeThumbnails(video),
		Duration:     nativeDuration(video),
		Availability: availability(d),
	}

	if r.subtitles {
		record.Subtitles = extractSubtitles(ctx, r.captions, d, id, r.logger)
	}

	return record, nil
}

// ReconcileWeb builds a record from an item embedded in a web page
func (r *Reconciler) ReconcileWeb(item WebItem) (*models.MediaRecord, error) {
	d := item.Data
	video := d.Get("video")
	if !video.IsObject() {
		return nil, fmt.Errorf("web item has no video object")
	}

	id := firstString(d, "id", "awemeId")
	if id == "" {
		return nil, fmt.Errorf("web item has no id")
	}

	author := d.Get("authorInfo")
	if !author.IsObject() {
		author = d.Get("author")
	}
	if !author.IsObject() {
		author = gjson.Result{}
	}
	stats := d.Get("stats")
	music := d.Get("music")

	uploaderKey := firstString(author, "secUid", "id", "uid", "uniqueId")
	if uploaderKey == "" {
		uploaderKey = d.Get("authorSecId").String()
	}

	uploader := author.Get("uniqueId").String()
	if uploader == "" && d.Get("author").Type == gjson.String {
		uploader = d.Get("author").String()
	}
	uploaderID := author.Get("id").String()
	if uploaderID == "" {
		uploaderID = d.Get("authorId").String()
	}

	width := int(video.Get("width").Int())
	height := int(video.Get("height").Int())

	formats := webFormats(video, width, height)
	headers := map[string]string{"Referer": item.PageURL}
	for i := range formats {
		formats[i].HTTPHeaders = headers
	}

	var thumbnails []models.Thumbnail
	for _, name := range []string{"thumbnail", "cover", "dynamicCover", "originCover"} {
		value := d.Get(name)
		if value.Type != gjson.String || value.String() == "" {
			value = video.Get(name)
		}
		if value.Type == gjson.String && value.String() != "" {
			thumbnails = []models.Thumbnail{{ID: name, URL: protoRelative(value.String())}}
		}
	}

	return &models.MediaRecord{
		ID:           id,
		Platform:     r.site.Platform,
		Extractor:    string(r.site.Platform),
		WebpageURL:   item.PageURL,
		Title:        d.Get("desc").String(),
		Description:  d.Get("desc").String(),
		Duration:     int(video.Get("duration").Int()),
		ViewCount:    stats.Get("playCount").Int(),
		LikeCount:    stats.Get("diggCount").Int(),
		RepostCount:  stats.Get("shareCount").Int(),
		CommentCount: stats.Get("commentCount").Int(),
		Timestamp:    d.Get("createTime").Int(),
		Creator:      author.Get("nickname").String(),
		Uploader:     uploader,
		UploaderID:   uploaderID,
		UploaderURL:  r.site.uploaderURL(uploaderKey),
		Track:        music.Get("title").String(),
		Album:        music.Get("album").String(),
		Artist:       music.Get("authorName").String(),
		Formats:      formats,
		Thumbnails:   thumbnails,
		HTTPHeaders:  map[string]string{"Referer": item.PageURL},
	}, nil
}

// webFormats collects the play and download addresses of a web video object
func webFormats(video gjson.Result, width, height int) []models.Format {
	quality := qualityFromDimensions(width, height)
	newFormat := func(id, rawURL string) models.Format {
		return models.Format{
			FormatID:         id,
			URL:              protoRelative(rawURL),
			Ext:              "mp4",
			Width:            width,
			Height:           height,
			Quality:          quality,
			SourcePreference: -1,
		}
	}

	var formats []models.Format
	play := video.Get("playAddr")
	switch {
	case play.Type == gjson.String && play.String() != "":
		formats = append(formats, newFormat("play", play.String()))
	case play.IsArray():
		for i, entry := range play.Array() {
			if src := entry.Get("src").String(); isURL(src) {
				formats = append(formats, newFormat(fmt.Sprintf("play-%d", i), src))
			}
		}
	}

	downloadURL := video.Get("downloadAddr").String()
	if !isURL(downloadURL) {
		downloadURL = video.Get("download.url").String()
	}
	if isURL(downloadURL) {
		formats = append(formats, newFormat("download", downloadURL))
	}

	// web addresses carry no codec or size, so only exact URL repeats are dropped
	formats = dedupURLs(formats)
	uniqueFormatIDs(formats)
	sortFormats(formats)
	return formats
}

// mirrorSessionCookie copies the web session cookie onto every format host
func (r *Reconciler) mirrorSessionCookie(formats []models.Format) {
	if r.cookies == nil {
		return
	}
	if _, ok := r.cookies.Get(r.site.WebpageHost, "sid_tt"); !ok {
		return
	}
	for _, f := range formats {
		if host := utils.Hostname(f.URL); host != "" {
			r.cookies.Mirror("sid_tt", r.site.WebpageHost, host)
		}
	}
}

var nativeCoverFields = []string{"cover", "ai_dynamic_cover", "animated_cover", "ai_dynamic_cover_bak", "origin_cover", "dynamic_cover"}

func nativeThumbnails(video gjson.Result) []models.Thumbnail {
	var thumbnails []models.Thumbnail
	for _, field := range nativeCoverFields {
		for _, u := range video.Get(field + ".url_list").Array() {
			if s := u.String(); s != "" {
				thumbnails = append(thumbnails, models.Thumbnail{ID: field, URL: s})
			}
		}
	}
	return thumbnails
}

// nativeDuration converts the millisecond duration to whole seconds
func nativeDuration(video gjson.Result) int {
	ms := video.Get("duration")
	if !ms.Exists() || ms.Int() == 0 {
		ms = video.Get("download_addr.duration")
	}
	return int(ms.Int() / 1000)
}

// musicAttribution picks the track title and artist. A sound whose title is
// the generic "original sound - <owner>" label is attributed to the song it
// was matched against, when there is one.
func musicAttribution(music gjson.Result) (track, artist string) {
	containedTrack := firstString(music, "matched_song.title", "matched_pgc_sound.title")
	containedAuthor := firstString(music, "matched_song.author", "matched_pgc_sound.author", "author")

	title := music.Get("title").String()
	generic := music.Get("is_original_sound").Bool() &&
		title == "original sound - "+music.Get("owner_handle").String()

	if generic {
		if containedTrack == "" {
			containedTrack = "original sound"
		}
		return containedTrack, containedAuthor
	}
	return title, music.Get("author").String()
}

// availability reads the access labels attached to an item
func availability(item gjson.Result) models.Availability {
	var a models.Availability
	for _, label := range item.Get("hybrid_label.#.text").Array() {
		switch label.String() {
		case "Private":
			a.Private = true
		case "Friends only":
			a.NeedsSubscription = true
		case "Followers only":
			a.Unlisted = true
		}
	}
	return a
}

// firstString returns the first of the given paths holding a non-empty string or number
func firstString(obj gjson.Result, paths ...string) string {
	for _, p := range paths {
		v := obj.Get(p)
		switch v.Type {
		case gjson.String, gjson.Number:
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

func protoRelative(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

func isURL(s string) bool {
	s = protoRelative(s)
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
