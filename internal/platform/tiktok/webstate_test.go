package tiktok

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func pageWithScript(id, content string) []byte {
	return []byte(`<!DOCTYPE html><html><head><title>page</title></head><body>` +
		`<script id="` + id + `" type="application/json">` + content + `</script>` +
		`</body></html>`)
}

func TestVideoStateFromPage(t *testing.T) {
	tests := []struct {
		name   string
		page   []byte
		status int64
		itemID string
	}{
		{
			"next data",
			pageWithScript("__NEXT_DATA__", `{"props":{"pageProps":{"statusCode":0,"itemInfo":{"itemStruct":{"id":"7000"}}}}}`),
			0, "7000",
		},
		{
			"sigi state",
			pageWithScript("SIGI_STATE", `{"VideoPage":{"statusCode":0},"ItemModule":{"7000":{"id":"7000"},"7001":{"id":"7001"}}}`),
			0, "7000",
		},
		{
			"persisted sigi data",
			pageWithScript("sigi-persisted-data", `{"VideoPage":{"statusCode":10216},"ItemModule":{}}`),
			10216, "",
		},
		{
			"universal data",
			pageWithScript("__UNIVERSAL_DATA_FOR_REHYDRATION__", `{"__DEFAULT_SCOPE__":{"webapp.video-detail":{"statusCode":0,"itemInfo":{"itemStruct":{"id":"7000"}}}}}`),
			0, "7000",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			doc, err := parseDocument(test.page)
			if err != nil {
				t.Fatalf("parseDocument failed: %v", err)
			}
			state, err := videoStateFromPage(doc, "7000")
			if err != nil {
				t.Fatalf("videoStateFromPage failed: %v", err)
			}
			if state.StatusCode != test.status {
				t.Errorf("StatusCode = %d, expected %d", state.StatusCode, test.status)
			}
			if got := state.Item.Get("id").String(); got != test.itemID {
				t.Errorf("Item id = %q, expected %q", got, test.itemID)
			}
		})
	}
}

func TestVideoStateFromPageMissing(t *testing.T) {
	pages := [][]byte{
		[]byte(`<html><body><p>nothing here</p></body></html>`),
		pageWithScript("__NEXT_DATA__", `not json`),
		pageWithScript("__UNIVERSAL_DATA_FOR_REHYDRATION__", `{"__DEFAULT_SCOPE__":{}}`),
	}

	for i, page := range pages {
		doc, err := parseDocument(page)
		if err != nil {
			t.Fatalf("parseDocument failed: %v", err)
		}
		if _, err := videoStateFromPage(doc, "1"); !errors.Is(err, ErrNoPageState) {
			t.Errorf("Page %d: expected ErrNoPageState, got %v", i, err)
		}
	}
}

func TestRenderData(t *testing.T) {
	raw := `{"1":{"ua":"x"},"41":{"aweme":{"detail":{"awemeId":"7100","desc":"a+b c"}}}}`
	doc, err := parseDocument(pageWithScript("RENDER_DATA", url.PathEscape(raw)))
	if err != nil {
		t.Fatalf("parseDocument failed: %v", err)
	}

	data, ok := renderData(doc)
	if !ok {
		t.Fatal("Expected render data")
	}
	detail, ok := renderDataDetail(data)
	if !ok {
		t.Fatal("Expected an aweme detail")
	}
	if detail.Get("awemeId").String() != "7100" {
		t.Errorf("Unexpected detail %s", detail.Raw)
	}
	if detail.Get("desc").String() != "a+b c" {
		t.Errorf("Plus signs should survive decoding, got %q", detail.Get("desc").String())
	}
}

func TestRenderDataMissing(t *testing.T) {
	doc, _ := parseDocument([]byte(`<html><body></body></html>`))
	if _, ok := renderData(doc); ok {
		t.Error("Expected no render data")
	}

	doc, _ = parseDocument(pageWithScript("RENDER_DATA", url.PathEscape(`{"1":{"ua":"x"}}`)))
	data, ok := renderData(doc)
	if !ok {
		t.Fatal("Expected render data")
	}
	if _, ok := renderDataDetail(data); ok {
		t.Error("Expected no aweme detail")
	}
}

func TestFrontityUserData(t *testing.T) {
	state := `{"source":{"data":{
		"/embed/@other":{"userInfo":{"id":"1"}},
		"/embed/@some.one":{"userInfo":{"id":"2","nickname":"Some One"},"videoList":[{"id":"7"}]}
	}}}`
	doc, err := parseDocument(pageWithScript("__FRONTITY_CONNECT_STATE__", state))
	if err != nil {
		t.Fatalf("parseDocument failed: %v", err)
	}

	data, ok := frontityUserData(doc, "some.one")
	if !ok {
		t.Fatal("Expected user data")
	}
	if data.Get("userInfo.id").String() != "2" || data.Get("videoList.0.id").String() != "7" {
		t.Errorf("Unexpected data %s", data.Raw)
	}

	if _, ok := frontityUserData(doc, "missing"); ok {
		t.Error("Expected no data for an unknown user")
	}
}

func TestGjsonEscape(t *testing.T) {
	if got := gjsonEscape("a.b*c"); got != `a\.b\*c` {
		t.Errorf("gjsonEscape = %q", got)
	}
	if got := gjsonEscape("7000"); got != "7000" {
		t.Errorf("gjsonEscape = %q", got)
	}
	if !strings.Contains(gjsonEscape("x|y"), `\|`) {
		t.Error("Pipe should be escaped")
	}
}
