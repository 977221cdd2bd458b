package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tiktok-extractor/pkg/models"
)

// SQLite implements the Storage interface using SQLite
type SQLite struct {
	db *gorm.DB
}

// NewSQLite creates a new SQLite storage. The path ":memory:" opens a
// private in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// Connect to database
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	// Auto migrate
	if err := db.AutoMigrate(
		&models.MediaRecord{},
		&models.PlaylistInfo{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return &SQLite{db: db}, nil
}

// SaveRecord inserts or refreshes a record. Refreshing keeps the local
// download bookkeeping of the stored copy.
func (s *SQLite) SaveRecord(record *models.MediaRecord) error {
	var existing models.MediaRecord
	err := s.db.Where("id = ?", record.ID).First(&existing).Error
	switch {
	case err == nil:
		record.CollectedAt = existing.CollectedAt
		if record.Status == "" {
			record.Status = existing.Status
			record.FilePath = existing.FilePath
			record.DownloadedAt = existing.DownloadedAt
			record.ErrorMessage = existing.ErrorMessage
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return err
	}

	if record.Status == "" {
		record.Status = models.StatusExtracted
	}
	if record.CollectedAt.IsZero() {
		record.CollectedAt = time.Now()
	}
	return s.db.Save(record).Error
}

// GetRecord retrieves a record. A missing record is (nil, nil).
func (s *SQLite) GetRecord(id string) (*models.MediaRecord, error) {
	var record models.MediaRecord
	if err := s.db.Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

var orderColumns = map[string]bool{
	"collected_at":  true,
	"timestamp":     true,
	"duration":      true,
	"view_count":    true,
	"like_count":    true,
	"comment_count": true,
	"title":         true,
	"uploader":      true,
}

// ListRecords lists records with filters
func (s *SQLite) ListRecords(filter models.RecordFilter) ([]*models.MediaRecord, error) {
	var records []*models.MediaRecord
	query := s.db.Model(&models.MediaRecord{})

	// Apply filters
	if filter.Platform != nil {
		query = query.Where("platform = ?", *filter.Platform)
	}

	if filter.Uploader != nil {
		query = query.Where("uploader = ?", *filter.Uploader)
	}

	if filter.PlaylistID != nil {
		query = query.Where("playlist_id = ?", *filter.PlaylistID)
	}

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	if filter.StartDate != nil {
		query = query.Where("timestamp >= ?", filter.StartDate.Unix())
	}

	if filter.EndDate != nil {
		query = query.Where("timestamp <= ?", filter.EndDate.Unix())
	}

	// Apply ordering
	if filter.OrderBy != "" {
		if !orderColumns[filter.OrderBy] {
			return nil, fmt.Errorf("cannot order by %q", filter.OrderBy)
		}
		order := filter.OrderBy
		if filter.OrderDesc {
			order += " DESC"
		} else {
			order += " ASC"
		}
		query = query.Order(order)
	} else {
		query = query.Order("collected_at DESC")
	}

	// Apply pagination
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

// UpdateRecordStatus updates the local status of a record. Marking a record
// downloaded stamps the download time.
func (s *SQLite) UpdateRecordStatus(id, status, filePath string) error {
	updates := map[string]interface{}{"status": status}
	if filePath != "" {
		updates["file_path"] = filePath
	}
	if status == models.StatusDownloaded {
		updates["downloaded_at"] = time.Now()
		updates["error_message"] = ""
	}

	result := s.db.Model(&models.MediaRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("record %s not found", id)
	}
	return nil
}

// SetRecordError marks a record failed with a message
func (s *SQLite) SetRecordError(id, message string) error {
	return s.db.Model(&models.MediaRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": message,
		}).Error
}

// DeleteRecord removes a record
func (s *SQLite) DeleteRecord(id string) error {
	return s.db.Delete(&models.MediaRecord{}, "id = ?", id).Error
}

// SavePlaylist saves a playlist envelope
func (s *SQLite) SavePlaylist(info *models.PlaylistInfo) error {
	var existing models.PlaylistInfo
	if err := s.db.Where("id = ?", info.ID).First(&existing).Error; err == nil {
		info.CollectedAt = existing.CollectedAt
	}
	return s.db.Save(info).Error
}

// GetPlaylist retrieves a playlist envelope. A missing playlist is (nil, nil).
func (s *SQLite) GetPlaylist(id string) (*models.PlaylistInfo, error) {
	var info models.PlaylistInfo
	if err := s.db.Where("id = ?", id).First(&info).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &info, nil
}

// Close closes the storage connection
func (s *SQLite) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// GetStats returns archive statistics
func (s *SQLite) GetStats() (*models.Stats, error) {
	stats := &models.Stats{ByPlatform: make(map[string]int64)}

	// Total records
	if err := s.db.Model(&models.MediaRecord{}).Count(&stats.TotalRecords).Error; err != nil {
		return nil, err
	}

	// Total playlists
	if err := s.db.Model(&models.PlaylistInfo{}).Count(&stats.TotalPlaylists).Error; err != nil {
		return nil, err
	}

	// Total duration
	if err := s.db.Model(&models.MediaRecord{}).
		Select("COALESCE(SUM(duration), 0)").
		Scan(&stats.TotalDuration).Error; err != nil {
		return nil, err
	}

	// Records collected today
	today := time.Now().Truncate(24 * time.Hour)
	if err := s.db.Model(&models.MediaRecord{}).
		Where("collected_at >= ?", today).
		Count(&stats.RecordsToday).Error; err != nil {
		return nil, err
	}

	// Downloads by status
	if err := s.db.Model(&models.MediaRecord{}).
		Where("status = ?", models.StatusDownloaded).
		Count(&stats.Downloaded).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&models.MediaRecord{}).
		Where("status = ?", models.StatusFailed).
		Count(&stats.Failed).Error; err != nil {
		return nil, err
	}

	// Records per platform
	var rows []struct {
		Platform string
		Count    int64
	}
	if err := s.db.Model(&models.MediaRecord{}).
		Select("platform, COUNT(*) AS count").
		Group("platform").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.ByPlatform[row.Platform] = row.Count
	}

	if stats.TotalRecords > 0 {
		stats.DownloadedRatio = float64(stats.Downloaded) / float64(stats.TotalRecords)
	}

	return stats, nil
}

// GetFailedRecords returns records whose download failed
func (s *SQLite) GetFailedRecords() ([]*models.MediaRecord, error) {
	status := models.StatusFailed
	return s.ListRecords(models.RecordFilter{Status: &status})
}

// SearchRecords searches records by title or description
func (s *SQLite) SearchRecords(query string, limit int) ([]*models.MediaRecord, error) {
	var records []*models.MediaRecord
	q := s.db.Where("title LIKE ? OR description LIKE ?", "%"+query+"%", "%"+query+"%").
		Order("collected_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

var _ models.Storage = (*SQLite)(nil)
