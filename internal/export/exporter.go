package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"tiktok-extractor/internal/utils"
	"tiktok-extractor/pkg/models"
)

// ExportFormat represents different export formats
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
	FormatJSON ExportFormat = "json"
	FormatTXT  ExportFormat = "txt"
)

// ExportConfig holds configuration for data export
type ExportConfig struct {
	Format     ExportFormat
	FilePath   string
	Columns    []string
	DateFormat string
	Delimiter  rune
}

// DataExporter writes archived records to a file
type DataExporter struct {
	config ExportConfig
	now    func() time.Time
}

// NewDataExporter creates a new data exporter
func NewDataExporter(config ExportConfig) *DataExporter {
	// Set defaults
	if config.DateFormat == "" {
		config.DateFormat = "2006-01-02 15:04:05"
	}
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if len(config.Columns) == 0 {
		config.Columns = DefaultColumns()
	}

	return &DataExporter{
		config: config,
		now:    time.Now,
	}
}

// FormatFromPath picks the export format from a file extension
func FormatFromPath(path string) (ExportFormat, error) {
	ext := ExportFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	for _, f := range GetSupportedFormats() {
		if f == ext {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported export format: %q", ext)
}

// ExportRecords exports records in the configured format
func (de *DataExporter) ExportRecords(records []*models.MediaRecord) error {
	if err := ValidateConfig(de.config); err != nil {
		return err
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(de.config.FilePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	switch de.config.Format {
	case FormatCSV:
		return de.exportToCSV(records)
	case FormatXLSX:
		return de.exportToXLSX(records)
	case FormatJSON:
		return de.exportToJSON(records)
	case FormatTXT:
		return de.exportToTXT(records)
	default:
		return fmt.Errorf("unsupported export format: %s", de.config.Format)
	}
}

// exportToCSV exports data to CSV format
func (de *DataExporter) exportToCSV(records []*models.MediaRecord) error {
	file, err := os.Create(de.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Comma = de.config.Delimiter

	if err := writer.Write(de.config.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		if err := writer.Write(de.recordToRow(record)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV file: %w", err)
	}
	return nil
}

// exportToXLSX writes a Records sheet and a Formats sheet listing every
// format of every record, best last
func (de *DataExporter) exportToXLSX(records []*models.MediaRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Records"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	// Set header style
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
			Size: 12,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6E6FA"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	rows := make([][]string, len(records))
	for i, record := range records {
		rows[i] = de.recordToRow(record)
	}
	if err := writeSheet(f, sheetName, de.config.Columns, rows, headerStyle); err != nil {
		return err
	}

	formatColumns := []string{"Record ID", "Format ID", "Ext", "Video Codec", "Width", "Height", "Quality", "Bitrate", "File Size", "Note", "URL"}
	var formatRows [][]string
	for _, record := range records {
		for _, format := range record.Formats {
			formatRows = append(formatRows, []string{
				record.ID,
				format.FormatID,
				format.Ext,
				format.VCodec,
				intOrEmpty(int64(format.Width)),
				intOrEmpty(int64(format.Height)),
				strconv.Itoa(format.Quality),
				floatOrEmpty(format.TBR),
				intOrEmpty(format.Filesize),
				format.FormatNote,
				format.URL,
			})
		}
	}
	if _, err := f.NewSheet("Formats"); err != nil {
		return fmt.Errorf("failed to create formats sheet: %w", err)
	}
	if err := writeSheet(f, "Formats", formatColumns, formatRows, headerStyle); err != nil {
		return err
	}

	// Save file
	if err := f.SaveAs(de.config.FilePath); err != nil {
		return fmt.Errorf("failed to save XLSX file: %w", err)
	}

	return nil
}

func writeSheet(f *excelize.File, sheet string, columns []string, rows [][]string, headerStyle int) error {
	for i, column := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		f.SetCellValue(sheet, cell, column)
		f.SetCellStyle(sheet, cell, cell, headerStyle)

		colName, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		f.SetColWidth(sheet, colName, colName, columnWidth(column))
	}

	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return err
			}
			f.SetCellValue(sheet, cell, value)
		}
	}

	if len(columns) == 0 {
		return nil
	}

	// Auto-filter
	endCell, err := excelize.CoordinatesToCellName(len(columns), len(rows)+1)
	if err != nil {
		return err
	}
	if err := f.AutoFilter(sheet, "A1:"+endCell, []excelize.AutoFilterOptions{}); err != nil {
		return fmt.Errorf("failed to set auto-filter: %w", err)
	}

	// Freeze first row
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func columnWidth(column string) float64 {
	switch columnKey(column) {
	case "title", "description", "url", "webpage_url", "file_path", "error_message":
		return 50
	case "uploader", "track", "artist", "best_format":
		return 25
	case "id", "record_id", "collected_at", "downloaded_at", "uploaded_at":
		return 22
	default:
		return 14
	}
}

// exportToJSON exports data to JSON format
func (de *DataExporter) exportToJSON(records []*models.MediaRecord) error {
	exportData := struct {
		ExportedAt time.Time             `json:"exported_at"`
		Count      int                   `json:"count"`
		Records    []*models.MediaRecord `json:"records"`
	}{
		ExportedAt: de.now(),
		Count:      len(records),
		Records:    records,
	}

	data, err := json.MarshalIndent(exportData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(de.config.FilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}

	return nil
}

// exportToTXT exports data to plain text format
func (de *DataExporter) exportToTXT(records []*models.MediaRecord) error {
	file, err := os.Create(de.config.FilePath)
	if err != nil {
		return fmt.Errorf("failed to create TXT file: %w", err)
	}
	defer file.Close()

	fmt.Fprintf(file, "Record Archive Report\n")
	fmt.Fprintf(file, "Generated: %s\n", de.now().Format(de.config.DateFormat))
	fmt.Fprintf(file, "Total Records: %d\n", len(records))
	fmt.Fprintf(file, "%s\n\n", strings.Repeat("=", 50))

	for i, record := range records {
		fmt.Fprintf(file, "Record %d:\n", i+1)
		fmt.Fprintf(file, "  ID: %s\n", record.ID)
		fmt.Fprintf(file, "  Platform: %s\n", record.Platform)
		fmt.Fprintf(file, "  Title: %s\n", record.Title)
		fmt.Fprintf(file, "  Uploader: %s\n", record.Uploader)
		fmt.Fprintf(file, "  URL: %s\n", record.WebpageURL)
		fmt.Fprintf(file, "  Duration: %d seconds\n", record.Duration)
		if best := record.BestFormat(); best != nil {
			fmt.Fprintf(file, "  Best Format: %s\n", describeFormat(best))
		}
		if record.Timestamp > 0 {
			fmt.Fprintf(file, "  Uploaded: %s\n", time.Unix(record.Timestamp, 0).UTC().Format(de.config.DateFormat))
		}
		if record.DownloadedAt != nil {
			fmt.Fprintf(file, "  Downloaded: %s\n", record.DownloadedAt.Format(de.config.DateFormat))
		}
		fmt.Fprintf(file, "  Status: %s\n", record.Status)
		fmt.Fprintf(file, "\n")
	}

	return nil
}

// columnKey normalizes a column header such as "File Size" to file_size
func columnKey(column string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(column)), " ", "_")
}

// recordToRow converts a record to a row of strings
func (de *DataExporter) recordToRow(record *models.MediaRecord) []string {
	row := make([]string, len(de.config.Columns))

	for i, column := range de.config.Columns {
		switch columnKey(column) {
		case "id", "video_id":
			row[i] = record.ID
		case "platform":
			row[i] = string(record.Platform)
		case "extractor":
			row[i] = record.Extractor
		case "title":
			row[i] = record.Title
		case "description":
			row[i] = record.Description
		case "uploader", "author":
			row[i] = record.Uploader
		case "uploader_id", "author_id":
			row[i] = record.UploaderID
		case "url", "webpage_url":
			row[i] = record.WebpageURL
		case "thumbnail":
			row[i] = record.Thumbnail()
		case "duration":
			row[i] = strconv.Itoa(record.Duration)
		case "view_count":
			row[i] = strconv.FormatInt(record.ViewCount, 10)
		case "like_count":
			row[i] = strconv.FormatInt(record.LikeCount, 10)
		case "repost_count", "share_count":
			row[i] = strconv.FormatInt(record.RepostCount, 10)
		case "comment_count":
			row[i] = strconv.FormatInt(record.CommentCount, 10)
		case "track":
			row[i] = record.Track
		case "artist":
			row[i] = record.Artist
		case "availability":
			row[i] = record.Availability.String()
		case "formats":
			row[i] = strconv.Itoa(len(record.Formats))
		case "best_format":
			if best := record.BestFormat(); best != nil {
				row[i] = describeFormat(best)
			}
		case "file_size":
			if best := record.BestFormat(); best != nil && best.Filesize > 0 {
				row[i] = utils.FormatBytes(best.Filesize)
			}
		case "uploaded_at", "published_at":
			if record.Timestamp > 0 {
				row[i] = time.Unix(record.Timestamp, 0).UTC().Format(de.config.DateFormat)
			}
		case "collected_at":
			if !record.CollectedAt.IsZero() {
				row[i] = record.CollectedAt.Format(de.config.DateFormat)
			}
		case "downloaded_at":
			if record.DownloadedAt != nil {
				row[i] = record.DownloadedAt.Format(de.config.DateFormat)
			}
		case "playlist_id":
			row[i] = record.PlaylistID
		case "file_path":
			row[i] = record.FilePath
		case "status":
			row[i] = record.Status
		case "error_message":
			row[i] = record.ErrorMessage
		}
	}

	return row
}

// describeFormat renders a format as "id (WxH codec)"
func describeFormat(f *models.Format) string {
	var parts []string
	if f.Width > 0 && f.Height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", f.Width, f.Height))
	}
	if f.VCodec != "" {
		parts = append(parts, f.VCodec)
	}
	if len(parts) == 0 {
		return f.FormatID
	}
	return fmt.Sprintf("%s (%s)", f.FormatID, strings.Join(parts, " "))
}

func intOrEmpty(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func floatOrEmpty(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DefaultColumns returns default column names
func DefaultColumns() []string {
	return []string{
		"ID",
		"Platform",
		"Title",
		"Uploader",
		"URL",
		"Duration",
		"Best Format",
		"File Size",
		"Uploaded At",
		"Downloaded At",
		"Status",
	}
}

// GetSupportedFormats returns supported export formats
func GetSupportedFormats() []ExportFormat {
	return []ExportFormat{FormatCSV, FormatXLSX, FormatJSON, FormatTXT}
}

// ValidateConfig validates export configuration
func ValidateConfig(config ExportConfig) error {
	if config.FilePath == "" {
		return fmt.Errorf("file path is required")
	}

	for _, format := range GetSupportedFormats() {
		if config.Format == format {
			return nil
		}
	}
	return fmt.Errorf("unsupported export format: %s", config.Format)
}
