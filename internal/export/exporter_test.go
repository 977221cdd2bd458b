package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"tiktok-extractor/pkg/models"
)

func sampleRecords() []*models.MediaRecord {
	downloaded := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*models.MediaRecord{
		{
			ID:         "7106594312292453675",
			Platform:   models.PlatformTikTok,
			Title:      "dance, dance",
			Uploader:   "alice",
			WebpageURL: "https://www.tiktok.com/@alice/video/7106594312292453675",
			Duration:   15,
			Timestamp:  1654575540,
			Status:     models.StatusDownloaded,
			Formats: []models.Format{
				{FormatID: "play_addr-540p", Ext: "mp4", Width: 576, Height: 1024, VCodec: "h264", Quality: 1},
				{FormatID: "bytevc1_1080p", Ext: "mp4", Width: 1080, Height: 1920, VCodec: "h265", Quality: 3, Filesize: 3 << 20},
			},
			DownloadedAt: &downloaded,
		},
		{
			ID:       "2",
			Platform: models.PlatformDouyin,
			Title:    "no formats",
			Status:   models.StatusFailed,
		},
	}
}

func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.csv")
	de := NewDataExporter(ExportConfig{Format: FormatCSV, FilePath: path})

	if err := de.ExportRecords(sampleRecords()); err != nil {
		t.Fatalf("ExportRecords: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read CSV: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(DefaultColumns(), ",") {
		t.Errorf("header = %v", rows[0])
	}

	want := []string{
		"7106594312292453675",
		"tiktok",
		"dance, dance",
		"alice",
		"https://www.tiktok.com/@alice/video/7106594312292453675",
		"15",
		"bytevc1_1080p (1080x1920 h265)",
		"3.0 MiB",
		"2022-06-07 04:19:00",
		"2024-03-01 12:00:00",
		"downloaded",
	}
	for i := range want {
		if rows[1][i] != want[i] {
			t.Errorf("column %s = %q, want %q", rows[0][i], rows[1][i], want[i])
		}
	}
	if rows[2][6] != "" || rows[2][10] != "failed" {
		t.Errorf("second row = %v", rows[2])
	}
}

func TestExportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.xlsx")
	de := NewDataExporter(ExportConfig{Format: FormatXLSX, FilePath: path})

	if err := de.ExportRecords(sampleRecords()); err != nil {
		t.Fatalf("ExportRecords: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	title, err := f.GetCellValue("Records", "C2")
	if err != nil || title != "dance, dance" {
		t.Errorf("Records!C2 = %q, %v", title, err)
	}

	rows, err := f.GetRows("Formats")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("format rows = %d, want 3", len(rows))
	}
	if rows[2][1] != "bytevc1_1080p" || rows[2][3] != "h265" {
		t.Errorf("last format row = %v", rows[2])
	}
}

func TestExportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	de := NewDataExporter(ExportConfig{Format: FormatJSON, FilePath: path})

	if err := de.ExportRecords(sampleRecords()); err != nil {
		t.Fatalf("ExportRecords: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Count   int                   `json:"count"`
		Records []*models.MediaRecord `json:"records"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Count != 2 || len(out.Records) != 2 {
		t.Errorf("count = %d, records = %d", out.Count, len(out.Records))
	}
	if out.Records[0].BestFormat().FormatID != "bytevc1_1080p" {
		t.Errorf("best format = %q", out.Records[0].BestFormat().FormatID)
	}
}

func TestExportTXT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.txt")
	de := NewDataExporter(ExportConfig{Format: FormatTXT, FilePath: path})

	if err := de.ExportRecords(sampleRecords()); err != nil {
		t.Fatalf("ExportRecords: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Total Records: 2", "Best Format: bytevc1_1080p", "Status: failed"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    ExportFormat
		wantErr bool
	}{
		{"a.csv", FormatCSV, false},
		{"dir/A.XLSX", FormatXLSX, false},
		{"a.json", FormatJSON, false},
		{"a.pdf", "", true},
		{"noext", "", true},
	}

	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("FormatFromPath(%q) = %q, %v", tt.path, got, err)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(ExportConfig{Format: FormatCSV}); err == nil {
		t.Error("missing path accepted")
	}
	if err := ValidateConfig(ExportConfig{Format: "pdf", FilePath: "x"}); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestColumnKey(t *testing.T) {
	if got := columnKey(" Best Format "); got != "best_format" {
		t.Errorf("columnKey = %q", got)
	}
}
