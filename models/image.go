package models

import "time"

// Image types. At most MaxImagesPerType photos of each type per record.
const (
	ImageTypeBefore = "BEFORE"
	ImageTypeAfter  = "AFTER"

	MaxImagesPerType = 5
)

// Upload statuses shared by PackingImage and UploadQueue.
const (
	UploadStatusPending   = "PENDING"
	UploadStatusUploading = "UPLOADING"
	UploadStatusCompleted = "COMPLETED"
	UploadStatusFailed    = "FAILED"
)

// PackingImage is one photo attached to a packing record. Upload-state
// fields (status, progress, drive ids) are written only by the upload
// queue engine once a queue entry exists; reorder touches DisplayOrder only.
type PackingImage struct {
	ID              uint `gorm:"primaryKey"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PackingRecordID uint   `gorm:"index;not null"`
	ImageType       string `gorm:"size:16;not null;index"`
	FileName        string `gorm:"size:255;not null"`
	DisplayOrder    int    `gorm:"not null;default:1"`
	// LocalPath holds the staged copy until the remote upload confirms;
	// cleared afterwards so exactly one of LocalPath/DriveFileID survives.
	LocalPath      *string `gorm:"size:512"`
	DriveFileID    *string `gorm:"size:128"`
	DriveURL       *string `gorm:"size:512"`
	UploadStatus   string  `gorm:"size:16;not null;default:PENDING;index"`
	UploadProgress int     `gorm:"not null;default:0"`
	UploadError    *string `gorm:"size:1024"`
}
