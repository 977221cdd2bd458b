package monitor

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"tiktok-extractor/internal/platform/tiktok"
)

var _ tiktok.Recorder = (*Monitor)(nil)

func TestRecordAPICall(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	metrics := m.GetMetrics()

	m.RecordAPICall("tiktok", "aweme/detail", "35.1.3", 10*time.Millisecond, errors.New("rejected"))
	m.RecordAPICall("tiktok", "aweme/detail", "26.1.3", 10*time.Millisecond, nil)
	m.RecordAPICall("tiktok", "aweme/detail", "26.1.3", 10*time.Millisecond, nil)

	if got := testutil.ToFloat64(metrics.APICalls.WithLabelValues("tiktok", "aweme/detail", "26.1.3")); got != 2 {
		t.Errorf("calls with 26.1.3 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.APIErrors.WithLabelValues("tiktok", "aweme/detail", "35.1.3")); got != 1 {
		t.Errorf("errors with 35.1.3 = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(metrics.APIErrors); got != 1 {
		t.Errorf("error series = %d, want 1", got)
	}
}

func TestRecordPageAndExtraction(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	metrics := m.GetMetrics()

	m.RecordPage("tiktok", "sound", 30)
	m.RecordPage("tiktok", "sound", 12)
	m.RecordVersionPinned("douyin", "9.9.10")
	m.RecordExtraction("tiktok", "tiktok:sound", nil)
	m.RecordExtraction("tiktok", "tiktok", tiktok.ErrVideoPrivate)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"pages", testutil.ToFloat64(metrics.PagesFetched.WithLabelValues("tiktok", "sound")), 2},
		{"items", testutil.ToFloat64(metrics.ItemsListed.WithLabelValues("tiktok", "sound")), 42},
		{"pins", testutil.ToFloat64(metrics.VersionPins.WithLabelValues("douyin", "9.9.10")), 1},
		{"extractions", testutil.ToFloat64(metrics.Extractions.WithLabelValues("tiktok", "tiktok")), 1},
		{"extraction errors", testutil.ToFloat64(metrics.ExtractionErrors.WithLabelValues("tiktok", "tiktok")), 1},
		{"sound errors", testutil.ToFloat64(metrics.ExtractionErrors.WithLabelValues("tiktok", "tiktok:sound")), 0},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestDownloadGauge(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	metrics := m.GetMetrics()

	m.RecordDownloadStart("tiktok")
	m.RecordDownloadStart("tiktok")
	m.RecordDownloadSuccess("tiktok", time.Second, 1<<20)
	m.RecordDownloadFailure("tiktok", time.Second)

	if got := testutil.ToFloat64(metrics.ActiveDownloads); got != 0 {
		t.Errorf("active downloads = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.DownloadsTotal.WithLabelValues("tiktok")); got != 2 {
		t.Errorf("downloads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.DownloadsFailed.WithLabelValues("tiktok")); got != 1 {
		t.Errorf("failed downloads = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.RecordVersionPinned("tiktok", "26.1.3")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	want := `tiktok_extractor_version_pins_total{platform="tiktok",version="26.1.3"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics output missing %q", want)
	}
}

func TestMonitorsAreIndependent(t *testing.T) {
	a := NewMonitor(zerolog.Nop())
	b := NewMonitor(zerolog.Nop())

	a.RecordPage("tiktok", "tag", 5)

	if got := testutil.ToFloat64(b.GetMetrics().ItemsListed.WithLabelValues("tiktok", "tag")); got != 0 {
		t.Errorf("second monitor saw %v items, want 0", got)
	}
}

func TestStartStop(t *testing.T) {
	m := NewMonitor(zerolog.Nop())
	m.Start()
	m.Stop()
	m.Stop()

	if got := testutil.ToFloat64(m.GetMetrics().Goroutines); got <= 0 {
		t.Errorf("goroutines gauge = %v, want > 0", got)
	}
}
