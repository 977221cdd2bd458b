package tiktok

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

// captionFetcher downloads caption JSON documents
type captionFetcher interface {
	GetBody(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error)
}

// extractSubtitles fetches the automatic captions attached to an item and
// converts them to SRT, grouped by language. A caption that cannot be
// fetched or parsed is skipped with a warning.
func extractSubtitles(ctx context.Context, fetcher captionFetcher, item gjson.Result, itemID string, logger zerolog.Logger) map[string][]models.Subtitle {
	subtitles := make(map[string][]models.Subtitle)

	for _, sticker := range item.Get("interaction_stickers").Array() {
		for _, caption := range sticker.Get("auto_video_caption_info.auto_captions").Array() {
			if !caption.IsObject() {
				continue
			}

			captionURL := firstURL(caption.Get("url.url_list"))
			if captionURL == "" {
				continue
			}

			body, err := fetcher.GetBody(ctx, captionURL, nil)
			if err == nil && !gjson.ValidBytes(body) {
				err = fmt.Errorf("caption is not valid JSON")
			}
			if err != nil {
				logger.Warn().Err(err).Str("item", itemID).Msg("Unable to download captions")
				continue
			}

			lang := caption.Get("language").String()
			if lang == "" {
				lang = "en"
			}

			subtitles[lang] = append(subtitles[lang], models.Subtitle{
				Ext:  "srt",
				Data: utterancesToSRT(gjson.GetBytes(body, "utterances")),
			})
		}
	}

	if len(subtitles) == 0 {
		return nil
	}
	return subtitles
}

// utterancesToSRT renders caption utterances (millisecond start/end times)
// as SRT cues. Utterances without text are skipped.
func utterancesToSRT(utterances gjson.Result) string {
	var cues []string
	for _, line := range utterances.Array() {
		text := line.Get("text").String()
		if text == "" {
			continue
		}
		cues = append(cues, fmt.Sprintf("%d\n%s --> %s\n%s",
			len(cues)+1,
			srtTimecode(line.Get("start_time").Int()),
			srtTimecode(line.Get("end_time").Int()),
			text))
	}
	return strings.Join(cues, "\n\n")
}

// srtTimecode formats milliseconds as HH:MM:SS,mmm
func srtTimecode(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d,%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

// firstURL returns the first entry of a URL list that is an absolute http(s) URL
func firstURL(list gjson.Result) string {
	for _, u := range list.Array() {
		s := u.String()
		if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
			return s
		}
	}
	return ""
}

var _ captionFetcher = (*utils.HTTPClient)(nil)
