package tiktok

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tiktok-extractor/pkg/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func respond(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

// requestLog records the requests seen by a fake transport
type requestLog struct {
	mu   sync.Mutex
	reqs []*http.Request
}

func (l *requestLog) add(req *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, req)
}

func (l *requestLog) count(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.reqs {
		if r.URL.Path == path {
			n++
		}
	}
	return n
}

func newTestClient(site Site, rt roundTripFunc, opts ...Option) *Client {
	nop := zerolog.Nop()
	config := &models.ExtractorConfig{Timeout: 5 * time.Second, Logger: &nop}
	if rt != nil {
		opts = append([]Option{WithTransport(rt)}, opts...)
	}
	return NewClient(site, config, opts...)
}

func TestNewClientPinsConfiguredVersion(t *testing.T) {
	nop := zerolog.Nop()
	c := NewClient(TikTok, &models.ExtractorConfig{
		Logger:             &nop,
		AppVersion:         "30.0.0",
		ManifestAppVersion: "300000",
	}, WithTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return respond(req, 200, "{}"), nil
	})))

	v, ok := c.Negotiator().Session().Pinned()
	if !ok {
		t.Fatal("Expected configured version to be pinned")
	}
	if v.Version != "30.0.0" || v.ManifestCode != "300000" {
		t.Errorf("Unexpected pinned version %s", v)
	}
}

func TestNewClientIgnoresPartialOverride(t *testing.T) {
	nop := zerolog.Nop()
	c := NewClient(TikTok, &models.ExtractorConfig{Logger: &nop, AppVersion: "30.0.0"})

	if _, ok := c.Negotiator().Session().Pinned(); ok {
		t.Error("Expected partial override to be ignored")
	}
	if c.pageSize != 20 {
		t.Errorf("Expected default page size 20, got %d", c.pageSize)
	}
}

func TestNewClientLoadsCookieString(t *testing.T) {
	nop := zerolog.Nop()
	c := NewClient(TikTok, &models.ExtractorConfig{Logger: &nop, Cookie: "sid_tt=abc; tt_csrf=1"})

	if v, ok := c.Cookies().Get("www.tiktok.com", "sid_tt"); !ok || v != "abc" {
		t.Errorf("Expected sid_tt=abc, got %q (%v)", v, ok)
	}
}

func TestExtractorsOrder(t *testing.T) {
	c := newTestClient(TikTok, nil)
	var keys []string
	for _, e := range c.Extractors() {
		keys = append(keys, e.Key())
	}
	expected := "vm.tiktok tiktok tiktok:user tiktok:sound tiktok:effect tiktok:tag"
	if got := strings.Join(keys, " "); got != expected {
		t.Errorf("Extractors() = %q, expected %q", got, expected)
	}

	d := newTestClient(Douyin, nil)
	if e := d.Extractors(); len(e) != 1 || e[0].Key() != "douyin" {
		t.Errorf("Unexpected Douyin extractors %v", e)
	}
}

func TestExtractorsSuitable(t *testing.T) {
	c := newTestClient(TikTok, nil)
	tests := []struct {
		url string
		key string
	}{
		{"https://vm.tiktok.com/ZSe4FqkKd", "vm.tiktok"},
		{"https://vt.tiktok.com/ZSe4FqkKd/", "vm.tiktok"},
		{"https://www.tiktok.com/@leenabhushan/video/6748451240264420610", "tiktok"},
		{"https://www.tiktok.com/embed/6742501081818877190", "tiktok"},
		{"https://www.tiktok.com/@corgibobaa", "tiktok:user"},
		{"https://www.tiktok.com/@6820838815978423302?lang=en", "tiktok:user"},
		{"https://www.tiktok.com/music/Build-a-Btch-6956990112127585029", "tiktok:sound"},
		{"https://www.tiktok.com/sticker/MATERIAL-GWOOORL-1258156", "tiktok:effect"},
		{"https://www.tiktok.com/tag/hello2018", "tiktok:tag"},
		{"https://www.youtube.com/watch?v=abc", ""},
	}

	for _, test := range tests {
		var matched string
		for _, e := range c.Extractors() {
			if e.Suitable(test.url) {
				matched = e.Key()
				break
			}
		}
		if matched != test.key {
			t.Errorf("%s matched %q, expected %q", test.url, matched, test.key)
		}
	}
}
