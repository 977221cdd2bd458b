package registry

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/rs/zerolog"

	"tiktok-extractor/pkg/models"
)

// MockExtractor implements the Extractor interface for testing
type MockExtractor struct {
	key      string
	platform models.Platform
	pattern  *regexp.Regexp
	redirect string
	calls    int
}

func (m *MockExtractor) Key() string               { return m.key }
func (m *MockExtractor) Platform() models.Platform { return m.platform }
func (m *MockExtractor) Suitable(url string) bool  { return m.pattern.MatchString(url) }

func (m *MockExtractor) Extract(ctx context.Context, url string) (*models.ExtractResult, error) {
	m.calls++
	if m.redirect != "" {
		return &models.ExtractResult{Kind: models.ResultURL, URL: m.redirect}, nil
	}
	return &models.ExtractResult{
		Kind: models.ResultRecord,
		Record: &models.MediaRecord{
			ID:         "test_id",
			Platform:   m.platform,
			Extractor:  m.key,
			WebpageURL: url,
		},
	}, nil
}

func newMock(key string, platform models.Platform, pattern string) *MockExtractor {
	return &MockExtractor{key: key, platform: platform, pattern: regexp.MustCompile(pattern)}
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	if registry == nil {
		t.Fatal("Expected registry to be created, got nil")
	}

	if registry.GetExtractorCount() != 0 {
		t.Errorf("Expected no extractors, got %d", registry.GetExtractorCount())
	}
}

func TestRegisterWithNilExtractor(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	if err := registry.Register(nil); err == nil {
		t.Error("Expected error when registering nil extractor, got nil")
	}
}

func TestFindExtractorOrder(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	specific := newMock("specific", models.PlatformTikTok, `^https://www\.tiktok\.com/@\w+/video/\d+`)
	general := newMock("general", models.PlatformTikTok, `^https://www\.tiktok\.com/`)
	registry.Register(specific, general)

	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.tiktok.com/@user/video/123", "specific"},
		{"https://www.tiktok.com/@user", "general"},
	}

	for _, test := range tests {
		e, err := registry.FindExtractor(test.url)
		if err != nil {
			t.Errorf("Expected no error for URL %s, got %v", test.url, err)
			continue
		}
		if e.Key() != test.expected {
			t.Errorf("Expected extractor %s for URL %s, got %s", test.expected, test.url, e.Key())
		}
	}

	if _, err := registry.FindExtractor("https://example.com/video"); !errors.Is(err, ErrUnsupportedURL) {
		t.Errorf("Expected ErrUnsupportedURL, got %v", err)
	}
}

func TestExtractFollowsRedirects(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	short := newMock("short", models.PlatformTikTok, `^https://vm\.tiktok\.com/`)
	short.redirect = "https://www.tiktok.com/@user/video/123"
	video := newMock("video", models.PlatformTikTok, `^https://www\.tiktok\.com/`)
	registry.Register(short, video)

	result, err := registry.Extract(context.Background(), "https://vm.tiktok.com/ZSabc")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if result.Kind != models.ResultRecord {
		t.Fatalf("Expected a record, got %s", result.Kind)
	}
	if result.Record.WebpageURL != "https://www.tiktok.com/@user/video/123" {
		t.Errorf("Expected the redirect target to be extracted, got %s", result.Record.WebpageURL)
	}
	if short.calls != 1 || video.calls != 1 {
		t.Errorf("Unexpected call counts %d/%d", short.calls, video.calls)
	}
}

func TestExtractRedirectLimit(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	loop := newMock("loop", models.PlatformTikTok, `^https://vm\.tiktok\.com/`)
	loop.redirect = "https://vm.tiktok.com/again"
	registry.Register(loop)

	if _, err := registry.Extract(context.Background(), "https://vm.tiktok.com/start"); err == nil {
		t.Error("Expected error for a redirect loop, got nil")
	}
	if loop.calls != MaxRedirects+1 {
		t.Errorf("Expected %d calls, got %d", MaxRedirects+1, loop.calls)
	}
}

func TestDetectPlatform(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	registry.Register(newMock("douyin", models.PlatformDouyin, `^https://www\.douyin\.com/video/\d+`))

	tests := []struct {
		url      string
		expected models.Platform
		err      bool
	}{
		{
			url:      "https://www.douyin.com/video/6961737553342991651",
			expected: models.PlatformDouyin,
		},
		{
			url:      "https://www.tiktok.com/@user/live",
			expected: models.PlatformTikTok,
		},
		{
			url:      "https://www.douyin.com/discover",
			expected: models.PlatformDouyin,
		},
		{
			url: "https://nottiktok.com/video",
			err: true,
		},
		{
			url: "not a url",
			err: true,
		},
	}

	for _, test := range tests {
		platform, err := registry.DetectPlatform(test.url)

		if test.err {
			if err == nil {
				t.Errorf("Expected error for URL %s, got nil", test.url)
			}
		} else {
			if err != nil {
				t.Errorf("Expected no error for URL %s, got %v", test.url, err)
			}
			if platform != test.expected {
				t.Errorf("Expected platform %s for URL %s, got %s", test.expected, test.url, platform)
			}
		}
	}
}

func TestValidateURL(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	registry.Register(newMock("video", models.PlatformTikTok, `^https://tiktok\.com/`))

	tests := []struct {
		url   string
		valid bool
	}{
		{"https://tiktok.com/video/123", true},
		{"https://example.com/video", false},
	}

	for _, test := range tests {
		if valid := registry.ValidateURL(test.url); valid != test.valid {
			t.Errorf("Expected URL %s to be valid %t, got %t", test.url, test.valid, valid)
		}
	}
}

func TestRegisterDefaultPlatforms(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	config := &models.Config{}
	config.Platforms.TikTok.Enabled = true
	config.Platforms.Douyin.Enabled = true

	if err := registry.RegisterDefaultPlatforms(config); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer registry.Close()

	if count := registry.GetExtractorCount(); count != 7 {
		t.Errorf("Expected 7 extractors, got %d", count)
	}

	platforms := registry.ListPlatforms()
	if len(platforms) != 2 || platforms[0] != models.PlatformTikTok || platforms[1] != models.PlatformDouyin {
		t.Errorf("Unexpected platforms %v", platforms)
	}

	e, err := registry.FindExtractor("https://vm.tiktok.com/ZSe4FqkKd")
	if err != nil || e.Key() != "vm.tiktok" {
		t.Errorf("Expected the short link resolver, got %v (%v)", e, err)
	}
}

func TestRegisterDefaultPlatformsDisabled(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	config := &models.Config{}
	config.Platforms.Douyin.Enabled = true

	if err := registry.RegisterDefaultPlatforms(config); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if registry.IsPlatformSupported(models.PlatformTikTok) {
		t.Error("TikTok should not be registered")
	}
	if !registry.IsPlatformSupported(models.PlatformDouyin) {
		t.Error("Douyin should be registered")
	}
}

func TestCookies(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())

	config := &models.Config{}
	config.Platforms.Douyin.Enabled = true
	config.Platforms.Douyin.Cookie = "s_v_web_id=abc"

	if err := registry.RegisterDefaultPlatforms(config); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer registry.Close()

	if registry.Cookies(models.PlatformTikTok) != nil {
		t.Error("Expected no cookie jar for an unregistered platform")
	}
	jar := registry.Cookies(models.PlatformDouyin)
	if jar == nil {
		t.Fatal("Expected a cookie jar for douyin")
	}
	if v, ok := jar.Get("www.douyin.com", "s_v_web_id"); !ok || v != "abc" {
		t.Errorf("Configured cookie missing: %q %v", v, ok)
	}
}

func TestGetPlatformInfo(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	registry.Register(
		newMock("vm.tiktok", models.PlatformTikTok, `vm`),
		newMock("tiktok", models.PlatformTikTok, `tiktok`),
		newMock("douyin", models.PlatformDouyin, `douyin`),
	)

	info := registry.GetPlatformInfo()
	if len(info) != 2 {
		t.Fatalf("Expected 2 platforms, got %d", len(info))
	}

	if info[0].Name != models.PlatformTikTok || len(info[0].Extractors) != 2 {
		t.Errorf("Unexpected TikTok info %+v", info[0])
	}
	if info[1].Name != models.PlatformDouyin || info[1].Extractors[0] != "douyin" {
		t.Errorf("Unexpected Douyin info %+v", info[1])
	}
	for _, i := range info {
		if i.Description == "" {
			t.Errorf("Expected description for %s", i.Name)
		}
	}
}
