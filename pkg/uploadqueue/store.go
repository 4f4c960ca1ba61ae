package uploadqueue

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"packdoc/models"
)

// GormStore implements Store over the relational schema. Each mutation is a
// single field-group update; entries are processed independently so no
// multi-row transactions are needed.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) NextBatch(ctx context.Context, limit int) ([]Entry, error) {
	var rows []models.UploadQueue
	err := s.db.WithContext(ctx).
		Where("status = ? AND attempts < max_attempts", models.UploadStatusPending).
		Order("priority desc, created_at asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entry := Entry{
			QueueID:     row.ID,
			ImageID:     row.ImageID,
			Attempts:    row.Attempts,
			MaxAttempts: row.MaxAttempts,
		}
		var img models.PackingImage
		if err := s.db.WithContext(ctx).First(&img, row.ImageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				entry.Orphaned = true
				entries = append(entries, entry)
				continue
			}
			return nil, err
		}
		entry.ImageType = img.ImageType
		entry.FileName = img.FileName
		entry.DisplayOrder = img.DisplayOrder
		if img.LocalPath != nil {
			entry.LocalPath = *img.LocalPath
		}

		var record models.PackingRecord
		err := s.db.WithContext(ctx).Preload("Store").First(&record, img.PackingRecordID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				entry.Orphaned = true
				entries = append(entries, entry)
				continue
			}
			return nil, err
		}
		entry.RecordID = record.ID
		entry.InvoiceNumber = record.InvoiceNumber
		entry.PackedAt = record.PackedAt
		entry.StoreCode = record.Store.StoreCode
		entry.StoreName = record.Store.StoreName
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *GormStore) MarkUploading(ctx context.Context, queueID, imageID uint) error {
	err := s.db.WithContext(ctx).Model(&models.UploadQueue{}).
		Where("id = ?", queueID).
		Update("status", models.UploadStatusUploading).Error
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.PackingImage{}).
		Where("id = ?", imageID).
		Updates(map[string]any{
			"upload_status":   models.UploadStatusUploading,
			"upload_progress": 10,
		}).Error
}

func (s *GormStore) SetImageProgress(ctx context.Context, imageID uint, progress int) error {
	return s.db.WithContext(ctx).Model(&models.PackingImage{}).
		Where("id = ?", imageID).
		Update("upload_progress", progress).Error
}

func (s *GormStore) Complete(ctx context.Context, queueID, imageID uint, fileID, viewURL string) error {
	err := s.db.WithContext(ctx).Model(&models.PackingImage{}).
		Where("id = ?", imageID).
		Updates(map[string]any{
			"drive_file_id":   fileID,
			"drive_url":       viewURL,
			"upload_status":   models.UploadStatusCompleted,
			"upload_progress": 100,
			"upload_error":    nil,
		}).Error
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&models.UploadQueue{}).
		Where("id = ?", queueID).
		Update("status", models.UploadStatusCompleted).Error
}

func (s *GormStore) ClearLocalPath(ctx context.Context, imageID uint) error {
	return s.db.WithContext(ctx).Model(&models.PackingImage{}).
		Where("id = ?", imageID).
		Update("local_path", nil).Error
}

func (s *GormStore) Fail(ctx context.Context, queueID, imageID uint, attempts int, terminal bool, msg string) error {
	status := models.UploadStatusPending
	if terminal {
		status = models.UploadStatusFailed
	}
	err := s.db.WithContext(ctx).Model(&models.UploadQueue{}).
		Where("id = ?", queueID).
		Updates(map[string]any{
			"attempts":   attempts,
			"last_error": msg,
			"status":     status,
		}).Error
	if err != nil {
		return err
	}
	if !terminal {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.PackingImage{}).
		Where("id = ?", imageID).
		Updates(map[string]any{
			"upload_status": models.UploadStatusFailed,
			"upload_error":  msg,
		}).Error
}
