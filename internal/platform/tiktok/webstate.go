package tiktok

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

// videoPageState is the status and item found in a video page's embedded state
type videoPageState struct {
	StatusCode int64
	Item       gjson.Result
}

// statusPrivate is the page status code for private videos
const statusPrivate = 10216

func parseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error parsing page: %w", err)
	}
	return doc, nil
}

// scriptJSON returns the JSON content of the first <script> with one of the given ids
func scriptJSON(doc *goquery.Document, ids ...string) (gjson.Result, bool) {
	for _, id := range ids {
		text := strings.TrimSpace(doc.Find("script#" + id).First().Text())
		if text != "" && gjson.Valid(text) {
			return gjson.Parse(text), true
		}
	}
	return gjson.Result{}, false
}

// videoStateFromPage reads the video state from whichever state block the
// page carries: Next.js data, the SIGI store or the rehydration blob
func videoStateFromPage(doc *goquery.Document, videoID string) (videoPageState, error) {
	if next, ok := scriptJSON(doc, "__NEXT_DATA__"); ok {
		props := next.Get("props.pageProps")
		if props.Exists() {
			return videoPageState{
				StatusCode: props.Get("statusCode").Int(),
				Item:       props.Get("itemInfo.itemStruct"),
			}, nil
		}
	}

	if sigi, ok := scriptJSON(doc, "SIGI_STATE", "sigi-persisted-data"); ok {
		return videoPageState{
			StatusCode: sigi.Get("VideoPage.statusCode").Int(),
			Item:       sigi.Get("ItemModule." + gjsonEscape(videoID)),
		}, nil
	}

	if universal, ok := scriptJSON(doc, "__UNIVERSAL_DATA_FOR_REHYDRATION__"); ok {
		detail := universal.Get(`__DEFAULT_SCOPE__.webapp\.video-detail`)
		if detail.Exists() {
			return videoPageState{
				StatusCode: detail.Get("statusCode").Int(),
				Item:       detail.Get("itemInfo.itemStruct"),
			}, nil
		}
	}

	return videoPageState{}, ErrNoPageState
}

// renderData decodes the URL-encoded RENDER_DATA block of Douyin pages
func renderData(doc *goquery.Document) (gjson.Result, bool) {
	text := strings.TrimSpace(doc.Find("script#RENDER_DATA").First().Text())
	if text == "" {
		return gjson.Result{}, false
	}
	decoded, err := url.PathUnescape(text)
	if err != nil || !gjson.Valid(decoded) {
		return gjson.Result{}, false
	}
	return gjson.Parse(decoded), true
}

// renderDataDetail returns the first aweme.detail object among the render data's top-level values
func renderDataDetail(data gjson.Result) (gjson.Result, bool) {
	var detail gjson.Result
	data.ForEach(func(_, value gjson.Result) bool {
		if d := value.Get("aweme.detail"); d.IsObject() {
			detail = d
			return false
		}
		return true
	})
	return detail, detail.Exists()
}

// frontityUserData returns the embed page entry of a user profile
func frontityUserData(doc *goquery.Document, userName string) (gjson.Result, bool) {
	state, ok := scriptJSON(doc, "__FRONTITY_CONNECT_STATE__")
	if !ok {
		return gjson.Result{}, false
	}

	key := "/embed/@" + userName
	var data gjson.Result
	state.Get("source.data").ForEach(func(k, value gjson.Result) bool {
		if k.String() == key {
			data = value
			return false
		}
		return true
	})
	return data, data.Exists()
}

// gjsonEscape escapes the characters gjson treats as path syntax
func gjsonEscape(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
