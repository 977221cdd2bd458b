package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tiktok-extractor/internal/auth"
	"tiktok-extractor/internal/downloader"
	"tiktok-extractor/internal/monitor"
	"tiktok-extractor/internal/platform/tiktok"
	"tiktok-extractor/internal/registry"
	"tiktok-extractor/internal/storage"
	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRouter struct {
	results map[string]*models.ExtractResult
	errs    map[string]error
}

func (r *fakeRouter) Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error) {
	if err, ok := r.errs[rawURL]; ok {
		return nil, err
	}
	if res, ok := r.results[rawURL]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s", registry.ErrUnsupportedURL, rawURL)
}

func (r *fakeRouter) HTTPClient(p models.Platform) *utils.HTTPClient {
	return nil
}

// sliceEntries iterates over records already in memory
type sliceEntries struct {
	records []*models.MediaRecord
	pos     int
}

func (s *sliceEntries) Next(ctx context.Context) bool {
	if ctx.Err() != nil || s.pos >= len(s.records) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceEntries) Record() *models.MediaRecord { return s.records[s.pos-1] }
func (s *sliceEntries) Err() error                  { return nil }

// webExtractor accepts TikTok video pages
type webExtractor struct{}

func (webExtractor) Key() string                 { return "TikTok" }
func (webExtractor) Platform() models.Platform   { return models.PlatformTikTok }
func (webExtractor) Suitable(rawURL string) bool { return strings.Contains(rawURL, "tiktok.com/@") }
func (webExtractor) Extract(ctx context.Context, rawURL string) (*models.ExtractResult, error) {
	return nil, fmt.Errorf("not used")
}

const (
	videoURL   = "https://www.tiktok.com/@alice/video/1"
	privateURL = "https://www.tiktok.com/@alice/video/2"
	soundURL   = "https://www.tiktok.com/music/song-9"
)

func newTestServer(t *testing.T, configure func(*models.Config)) (http.Handler, *storage.SQLite) {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &models.Config{}
	cfg.Download.SavePath = t.TempDir()
	cfg.Metrics.Enabled = true
	if configure != nil {
		configure(cfg)
	}

	router := &fakeRouter{
		results: map[string]*models.ExtractResult{
			videoURL: {Kind: models.ResultRecord, Record: &models.MediaRecord{
				ID: "1", Platform: models.PlatformTikTok, Title: "first", Uploader: "alice",
			}},
			soundURL: {Kind: models.ResultPlaylist, Playlist: &models.Playlist{
				Info: models.PlaylistInfo{ID: "9", Platform: models.PlatformTikTok, Kind: "sound"},
				Entries: &sliceEntries{records: []*models.MediaRecord{
					{ID: "10", Platform: models.PlatformTikTok, PlaylistID: "9"},
					{ID: "11", Platform: models.PlatformTikTok, PlaylistID: "9"},
					{ID: "12", Platform: models.PlatformTikTok, PlaylistID: "9"},
				}},
			}},
		},
		errs: map[string]error{
			privateURL: &models.ExpectedError{Msg: "This video is private", Err: tiktok.ErrVideoPrivate},
		},
	}

	logger := zerolog.Nop()
	dm := downloader.NewManager(cfg, router, store, logger)
	mon := monitor.NewMonitor(logger)
	reg := registry.NewRegistry(logger)
	if err := reg.Register(webExtractor{}); err != nil {
		t.Fatal(err)
	}
	srv, err := NewServer(cfg, store, dm, reg, mon, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return srv.Handler(), store
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	return doWithHeaders(h, method, path, body, nil)
}

func doWithHeaders(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := do(h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]interface{}
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestExtractRecord(t *testing.T) {
	h, store := newTestServer(t, nil)

	w := do(h, http.MethodPost, "/api/v1/extract", `{"url":"`+videoURL+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Kind   string              `json:"kind"`
		Record *models.MediaRecord `json:"record"`
	}
	decode(t, w, &body)
	if body.Kind != "record" || body.Record == nil || body.Record.Title != "first" {
		t.Errorf("body = %s", w.Body.String())
	}

	stored, err := store.GetRecord("1")
	if err != nil || stored == nil {
		t.Fatalf("record not archived: %v", err)
	}

	w = do(h, http.MethodGet, "/api/v1/records/1", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET record status = %d", w.Code)
	}
}

func TestExtractPlaylistLimit(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := do(h, http.MethodPost, "/api/v1/extract", `{"url":"`+soundURL+`","limit":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Kind     string                `json:"kind"`
		Playlist models.PlaylistInfo   `json:"playlist"`
		Entries  []*models.MediaRecord `json:"entries"`
	}
	decode(t, w, &body)
	if body.Kind != "playlist" || len(body.Entries) != 2 || body.Playlist.EntryCount != 2 {
		t.Errorf("body = %s", w.Body.String())
	}

	w = do(h, http.MethodGet, "/api/v1/playlists/9", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET playlist status = %d", w.Code)
	}
}

func TestExtractErrors(t *testing.T) {
	h, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing url", `{}`, http.StatusBadRequest},
		{"unsupported", `{"url":"https://example.com/x"}`, http.StatusBadRequest},
		{"private", `{"url":"` + privateURL + `"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodPost, "/api/v1/extract", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestBatch(t *testing.T) {
	h, _ := newTestServer(t, nil)

	w := do(h, http.MethodPost, "/api/v1/batch", `{"urls":["`+videoURL+`","https://example.com/x"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Total  int `json:"total"`
		Failed int `json:"failed"`
	}
	decode(t, w, &body)
	if body.Total != 2 || body.Failed != 1 {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListRecords(t *testing.T) {
	h, store := newTestServer(t, nil)

	for _, r := range []*models.MediaRecord{
		{ID: "a", Platform: models.PlatformTikTok},
		{ID: "b", Platform: models.PlatformDouyin},
	} {
		if err := store.SaveRecord(r); err != nil {
			t.Fatal(err)
		}
	}

	w := do(h, http.MethodGet, "/api/v1/records?platform=douyin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Records []*models.MediaRecord `json:"records"`
	}
	decode(t, w, &body)
	if len(body.Records) != 1 || body.Records[0].ID != "b" {
		t.Errorf("body = %s", w.Body.String())
	}

	for _, query := range []string{"order_by=id%3Bdrop", "order_by=id;drop", "order_by=title%20desc"} {
		if w := do(h, http.MethodGet, "/api/v1/records?"+query, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", query, w.Code)
		}
	}
	if w := do(h, http.MethodGet, "/api/v1/records?order_by=id", ""); w.Code != http.StatusOK {
		t.Errorf("order_by=id status = %d, want 200", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/v1/records/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", w.Code)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	h, _ := newTestServer(t, nil)

	do(h, http.MethodPost, "/api/v1/extract", `{"url":"`+videoURL+`"}`)

	w := do(h, http.MethodGet, "/api/v1/stats", "")
	var stats models.Stats
	decode(t, w, &stats)
	if stats.TotalRecords != 1 {
		t.Errorf("total records = %d, want 1", stats.TotalRecords)
	}

	w = do(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`tiktok_extractor_http_requests_total{method="POST",route="/api/v1/extract",status="200"} 1`)) {
		t.Errorf("metrics missing the extract request:\n%s", w.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestServer(t, func(cfg *models.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerSecond = 1
		cfg.RateLimit.Burst = 1
		cfg.RateLimit.MaxConcurrent = 10
	})

	codes := []int{
		do(h, http.MethodGet, "/api/v1/stats", "").Code,
		do(h, http.MethodGet, "/api/v1/stats", "").Code,
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("statuses = %v, want [200 429]", codes)
	}

	if w := do(h, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health is rate limited: %d", w.Code)
	}
}

func TestValidateURL(t *testing.T) {
	h, _ := newTestServer(t, nil)

	tests := []struct {
		url       string
		valid     bool
		platform  string
		supported bool
	}{
		{videoURL, true, "tiktok", true},
		{"https://www.tiktok.com/explore", false, "tiktok", true},
		{"https://www.douyin.com/video/1", false, "douyin", false},
		{"https://example.com/x", false, "", false},
	}

	for _, tt := range tests {
		w := do(h, http.MethodGet, "/api/v1/validate?url="+url.QueryEscape(tt.url), "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.url, w.Code)
		}
		var body struct {
			Valid     bool   `json:"valid"`
			Platform  string `json:"platform"`
			Supported bool   `json:"supported"`
		}
		decode(t, w, &body)
		if body.Valid != tt.valid || body.Platform != tt.platform || body.Supported != tt.supported {
			t.Errorf("%s: body = %s", tt.url, w.Body.String())
		}
	}

	if w := do(h, http.MethodGet, "/api/v1/validate", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing url status = %d, want 400", w.Code)
	}
}

func TestAuth(t *testing.T) {
	hashed, err := auth.HashKey("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	h, store := newTestServer(t, func(cfg *models.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.JWTSecret = "jwt-secret"
		cfg.Auth.TokenTTL = 60
		cfg.Auth.APIKeys = []string{hashed}
	})
	if err := store.SaveRecord(&models.MediaRecord{ID: "a", Platform: models.PlatformTikTok}); err != nil {
		t.Fatal(err)
	}

	key := map[string]string{"X-API-Key": "s3cret"}
	wrong := map[string]string{"X-API-Key": "guess"}

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{"extract without key", http.MethodPost, "/api/v1/extract", `{"url":"` + videoURL + `"}`, nil, http.StatusUnauthorized},
		{"extract with wrong key", http.MethodPost, "/api/v1/extract", `{"url":"` + videoURL + `"}`, wrong, http.StatusUnauthorized},
		{"extract with key", http.MethodPost, "/api/v1/extract", `{"url":"` + videoURL + `"}`, key, http.StatusOK},
		{"batch without key", http.MethodPost, "/api/v1/batch", `{"urls":["` + videoURL + `"]}`, nil, http.StatusUnauthorized},
		{"retry without key", http.MethodPost, "/api/v1/records/a/retry", "", nil, http.StatusUnauthorized},
		{"delete without key", http.MethodDelete, "/api/v1/records/a", "", nil, http.StatusUnauthorized},
		{"list is open", http.MethodGet, "/api/v1/records", "", nil, http.StatusOK},
		{"stats are open", http.MethodGet, "/api/v1/stats", "", nil, http.StatusOK},
		{"delete with key", http.MethodDelete, "/api/v1/records/a", "", key, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doWithHeaders(h, tt.method, tt.path, tt.body, tt.headers)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := doWithHeaders(h, http.MethodPost, "/api/v1/auth/token", "", key)
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d", w.Code)
	}
	var token struct {
		Token string `json:"token"`
	}
	decode(t, w, &token)

	bearer := map[string]string{"Authorization": "Bearer " + token.Token}
	if w := doWithHeaders(h, http.MethodPost, "/api/v1/extract", `{"url":"`+videoURL+`"}`, bearer); w.Code != http.StatusOK {
		t.Errorf("extract with token status = %d", w.Code)
	}
}

func TestNewServerRejectsPlainKeys(t *testing.T) {
	cfg := &models.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "jwt-secret"
	cfg.Auth.APIKeys = []string{"not-a-hash"}

	if _, err := NewServer(cfg, nil, nil, nil, nil, zerolog.Nop()); err == nil {
		t.Error("Expected an error for an unhashed API key")
	}
}
